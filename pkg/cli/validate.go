package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flows without running them and print the execution plan",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Parse every flow, apply tag filters and workspace config, and follow
runFlow/retry references to catch missing files and cycles.

Examples:
  browserflow validate flows/
  browserflow validate flows/demo --include-tags smoke`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return fmt.Errorf("at least one flow file or folder is required")
		}
		v := validator.New(c.StringSlice("include-tags"), c.StringSlice("exclude-tags"))
		result := v.Validate(c.Args().Slice()...)
		printPlan(os.Stdout, result)
		if !result.IsValid() {
			return cli.Exit(fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)), 1)
		}
		return nil
	},
}

// printPlan writes the validation result as an execution plan.
func printPlan(w io.Writer, result *validator.Result) {
	fmt.Fprintf(w, "\n%sExecution plan%s\n", color(colorBold), color(colorReset))
	for i, path := range result.TestCases {
		f := result.Flows[i]
		name := f.Config.Name
		if name == "" {
			name = filepath.Base(path)
		}
		fmt.Fprintf(w, "  %2d. %s (%s, %d step(s))", i+1, name, path, len(f.Steps))
		if len(f.Config.Tags) > 0 {
			fmt.Fprintf(w, " %v", f.Config.Tags)
		}
		fmt.Fprintln(w)
	}

	if len(result.Dependencies) > 0 {
		fmt.Fprintf(w, "\n  Dependencies:\n")
		for _, path := range result.Dependencies {
			fmt.Fprintf(w, "    - %s\n", path)
		}
	}
	if len(result.Excluded) > 0 {
		fmt.Fprintf(w, "\n  Excluded by tags:\n")
		for _, path := range result.Excluded {
			fmt.Fprintf(w, "    - %s\n", path)
		}
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\n  %sErrors:%s\n", color(colorRed), color(colorReset))
		for _, err := range result.Errors {
			fmt.Fprintf(w, "    - %v\n", err)
		}
		return
	}
	fmt.Fprintf(w, "\n  %s✓%s %d flow(s) valid\n", color(colorGreen), color(colorReset), len(result.TestCases))
}
