package main

import "github.com/qalab/browserflow/pkg/cli"

func main() {
	cli.Execute()
}
