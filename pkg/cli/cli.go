// Package cli provides the command-line interface for browserflow.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Browser driver (webdriver, cdp, mock)",
		Value:   driverWebDriver,
		EnvVars: []string{"BROWSERFLOW_DRIVER"},
	},
	&cli.StringFlag{
		Name:    "browser",
		Aliases: []string{"b"},
		Usage:   "Browser to drive (chrome, firefox, brave, edge)",
		EnvVars: []string{"BROWSERFLOW_BROWSER"},
	},
	&cli.StringFlag{
		Name:    "browser-binary",
		Usage:   "Browser executable (defaults to the installed one)",
		EnvVars: []string{"BROWSERFLOW_BROWSER_BINARY"},
	},
	&cli.StringFlag{
		Name:    "remote-url",
		Usage:   "WebDriver endpoint, e.g. a Selenium Grid (skips starting chromedriver/geckodriver)",
		EnvVars: []string{"BROWSERFLOW_REMOTE_URL", "SELENIUM_REMOTE_URL"},
	},
	&cli.BoolFlag{
		Name:    "headless",
		Usage:   "Run the browser without a window",
		EnvVars: []string{"BROWSERFLOW_HEADLESS"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"BROWSERFLOW_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "browserflow",
		Usage:   "Browser flow runner and demo web application",
		Version: Version,
		Description: `browserflow runs YAML browser flows through WebDriver or the Chrome
DevTools protocol and ships the login/signup demo app they test.

Examples:
  browserflow serve
  browserflow test flows/demo/smoke
  browserflow test flows/ -e USER=test --parallel 4
  browserflow suite flows/
  browserflow open --browser firefox https://github.com`,
		Flags: GlobalFlags,
		// Exit codes are applied by Execute so tests can run the app.
		ExitErrHandler: func(*cli.Context, error) {},
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand,
			testCommand,
			suiteCommand,
			openCommand,
			validateCommand,
			reportCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	err := NewApp().Run(os.Args)
	if err == nil {
		return
	}
	code := 1
	if ec, ok := err.(cli.ExitCoder); ok {
		code = ec.ExitCode()
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(code)
}
