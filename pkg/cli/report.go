package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/report"
)

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Regenerate, follow or publish an existing report directory",
	ArgsUsage: "<report-dir>",
	Description: `Work with a report directory written by test or suite.

Without flags the HTML and JUnit files are regenerated from report.json.

Examples:
  browserflow report reports/2024-05-01_10-00-00
  browserflow report reports/latest --follow
  browserflow report reports/latest --recover
  browserflow report reports/latest --publish my-bucket/runs/42`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "title",
			Usage: "HTML report title",
		},
		&cli.BoolFlag{
			Name:  "recover",
			Usage: "Finalize a report left behind by an interrupted run",
		},
		&cli.BoolFlag{
			Name:  "follow",
			Usage: "Print flow progress while another process writes the report",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Poll interval for --follow",
			Value: time.Second,
		},
		&cli.StringFlag{
			Name:    "publish",
			Usage:   "Upload the report to S3 (bucket/prefix)",
			EnvVars: []string{"BROWSERFLOW_PUBLISH"},
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "S3-compatible endpoint for --publish",
			EnvVars: []string{"BROWSERFLOW_S3_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Usage:   "AWS region for --publish",
			EnvVars: []string{"AWS_REGION"},
		},
	},
	Action: runReport,
}

func runReport(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("a report directory is required")
	}
	if _, err := os.Stat(filepath.Join(dir, "report.json")); err != nil {
		return fmt.Errorf("%s is not a report directory: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Bool("follow") {
		index, err := followReport(ctx, report.NewConsumer(dir), c.Duration("interval"), printFlowProgress)
		if err != nil {
			return err
		}
		fmt.Printf("\nRun %s\n", index.Status)
	}

	if c.Bool("recover") {
		if err := report.Recover(dir); err != nil {
			return fmt.Errorf("recover %s: %w", dir, err)
		}
		printSetupSuccess("Report recovered")
	}

	if err := regenerateReport(dir, c.String("title")); err != nil {
		return err
	}

	if target := c.String("publish"); target != "" {
		if err := publishReport(ctx, dir, target, c.String("s3-endpoint"), c.String("s3-region")); err != nil {
			return err
		}
	}
	return nil
}

// regenerateReport rewrites the HTML and JUnit files from report.json.
func regenerateReport(dir, title string) error {
	htmlPath := filepath.Join(dir, "report.html")
	if err := report.GenerateHTML(dir, report.HTMLConfig{OutputPath: htmlPath, Title: title}); err != nil {
		return fmt.Errorf("generate html: %w", err)
	}
	if err := report.GenerateJUnit(dir, ""); err != nil {
		return fmt.Errorf("generate junit: %w", err)
	}
	fmt.Printf("  HTML:   %s\n", htmlPath)
	fmt.Printf("  JUnit:  %s\n", filepath.Join(dir, report.JUnitFile))
	return nil
}

// followReport polls the consumer until the run reaches a terminal status
// or ctx is cancelled, calling onChange for every flow that moved.
func followReport(ctx context.Context, c *report.Consumer, interval time.Duration, onChange func(report.FlowEntry)) (*report.Index, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		changed, index, err := c.Poll()
		if err != nil {
			return nil, err
		}
		byID := make(map[string]report.FlowEntry, len(index.Flows))
		for _, f := range index.Flows {
			byID[f.ID] = f
		}
		for _, id := range changed {
			onChange(byID[id])
		}
		if index.Status.IsTerminal() {
			return index, nil
		}

		select {
		case <-ctx.Done():
			return index, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printFlowProgress(f report.FlowEntry) {
	symbol, c := "•", colorGray
	switch f.Status {
	case report.StatusRunning:
		symbol, c = "▸", colorCyan
	case report.StatusPassed:
		symbol, c = "✓", colorGreen
	case report.StatusFailed:
		symbol, c = "✗", colorRed
	case report.StatusSkipped:
		symbol, c = "-", colorCyan
	}
	fmt.Printf("  %s%s%s %-36s %s (%d/%d commands)\n",
		color(c), symbol, color(colorReset), f.Name, f.Status,
		f.Commands.Passed+f.Commands.Failed+f.Commands.Skipped, f.Commands.Total)
}
