package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/config"
	"github.com/qalab/browserflow/pkg/executor"
	"github.com/qalab/browserflow/pkg/logger"
	"github.com/qalab/browserflow/pkg/report"
	"github.com/qalab/browserflow/pkg/validator"
)

// defaultStages gate regression on smoke when a workspace defines none.
var defaultStages = []config.Stage{
	{Name: "smoke", IncludeTags: []string{"smoke"}, Parallel: 1},
	{Name: "regression", IncludeTags: []string{"regression"}, Parallel: 4},
}

var suiteCommand = &cli.Command{
	Name:      "suite",
	Usage:     "Run the staged pipeline of a workspace (smoke, then regression)",
	ArgsUsage: "[workspace-dir]",
	Description: `Run the stages listed in the workspace config.yaml in order. A failed
stage skips every later stage unless it sets continueOnFailure. Without
stages, flows tagged smoke run first and flows tagged regression run only
when smoke passed.

Each stage writes its own report under <output>/<stage>/.

Examples:
  browserflow suite
  browserflow suite flows/ --parallel 2
  browserflow suite flows/ --no-gate`,
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "no-gate",
			Usage: "Run every stage even when an earlier one failed",
		},
	}, runFlags...),
	Action: runSuite,
}

func runSuite(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		dir = config.GetFlowsDir()
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("workspace directory %s not found", dir)
	}

	cfg, err := loadRunConfig(c, []string{dir})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return executeSuite(ctx, cfg, !c.Bool("no-gate"), c.IsSet("parallel"))
}

// planStages resolves the flows of every stage. Stage tags add to the run
// tags; stage flow patterns are relative to the workspace directory.
func planStages(cfg *RunConfig, dir string) ([]executor.Stage, error) {
	stages := cfg.Workspace.Stages
	if len(stages) == 0 {
		stages = defaultStages
	}

	var planned []executor.Stage
	for _, s := range stages {
		v := validator.New(
			append(append([]string(nil), cfg.IncludeTags...), s.IncludeTags...),
			append(append([]string(nil), cfg.ExcludeTags...), s.ExcludeTags...),
		)
		var result *validator.Result
		if len(s.Flows) > 0 {
			result = v.ValidatePatterns(dir, s.Flows)
		} else {
			result = v.Validate(dir)
		}
		if !result.IsValid() {
			for _, err := range result.Errors {
				fmt.Fprintf(os.Stderr, "  - %v\n", err)
			}
			return nil, fmt.Errorf("stage %s: validation failed with %d error(s)", s.Name, len(result.Errors))
		}
		planned = append(planned, executor.Stage{
			Name:              s.Name,
			Flows:             result.Flows,
			Parallelism:       s.Parallel,
			ContinueOnFailure: s.ContinueOnFailure,
		})
	}
	return planned, nil
}

func executeSuite(ctx context.Context, cfg *RunConfig, gate, parallelOverride bool) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	defer initRunLog(cfg, "suite")()

	printBanner()

	dir := cfg.FlowPaths[0]
	stages, err := planStages(cfg, dir)
	if err != nil {
		logger.Error("Stage planning failed: %v", err)
		return err
	}
	for i := range stages {
		if parallelOverride {
			stages[i].Parallelism = cfg.Parallel
		}
		printSetupSuccess(fmt.Sprintf("Stage %s: %d flow(s)", stages[i].Name, len(stages[i].Flows)))
	}

	factory, err := newDriverFactory(cfg.Driver)
	if err != nil {
		return err
	}

	runnerCfg := buildRunnerConfig(cfg, factory)
	runnerCfg.OutputDir = cfg.OutputDir
	runnerCfg.Parallelism = cfg.Parallel

	pipeline := &executor.Pipeline{
		Stages:        stages,
		GateOnFailure: gate,
		Config:        runnerCfg,
		OnStageStart: func(idx int, s executor.Stage, skipped bool) {
			state := ""
			if skipped {
				state = " (skipped)"
			}
			fmt.Printf("\n%sStage %d/%d: %s%s%s\n", color(colorBold), idx+1, len(stages), s.Name, state, color(colorReset))
		},
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		logger.Error("Pipeline failed: %v", err)
		return err
	}

	for _, stage := range result.Stages {
		index, err := report.ReadIndex(filepath.Join(stage.ReportDir, "report.json"))
		if err != nil {
			logger.Warn("read %s report: %v", stage.Stage, err)
			index = nil
		}
		fmt.Printf("\n%sStage %s: %s%s\n", color(colorBold), stage.Stage, stage.Status, color(colorReset))
		if index != nil {
			printDetailedFlowResults(stage.ReportDir, index)
		}
		printSummary(stage, index)
		finishReports(ctx, cfg, stage.ReportDir, stageTitle(cfg, stage.Stage))
	}

	logger.Info("Pipeline finished: %s in %s", result.Status, formatDuration(result.Duration))
	if result.Failed() {
		return cli.Exit("", 1)
	}
	return nil
}

func stageTitle(cfg *RunConfig, stage string) string {
	title := reportTitle(cfg)
	if title == "" {
		return ""
	}
	return title + " (" + stage + ")"
}
