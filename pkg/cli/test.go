package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/config"
	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/executor"
	"github.com/qalab/browserflow/pkg/flow"
	"github.com/qalab/browserflow/pkg/logger"
	"github.com/qalab/browserflow/pkg/report"
	"github.com/qalab/browserflow/pkg/validator"
)

// logFileName is the run log written into the output directory.
const logFileName = "browserflow.log"

// runFlags are shared by test and suite.
var runFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to workspace config.yaml",
	},
	&cli.StringSliceFlag{
		Name:    "env",
		Aliases: []string{"e"},
		Usage:   "Environment variables (KEY=VALUE)",
	},
	&cli.StringSliceFlag{
		Name:  "include-tags",
		Usage: "Only include flows with these tags",
	},
	&cli.StringSliceFlag{
		Name:  "exclude-tags",
		Usage: "Exclude flows with these tags",
	},
	&cli.StringFlag{
		Name:    "base-url",
		Usage:   "Base URL for relative openLink targets",
		EnvVars: []string{"BROWSERFLOW_BASE_URL"},
	},
	&cli.StringFlag{
		Name:  "output",
		Usage: "Output directory for reports (default: ./reports)",
	},
	&cli.BoolFlag{
		Name:  "flatten",
		Usage: "Don't create timestamp subfolder (requires --output)",
	},
	&cli.IntFlag{
		Name:  "parallel",
		Usage: "Run N browser sessions concurrently",
	},
	&cli.IntFlag{
		Name:  "retries",
		Usage: "Re-run a failed flow up to N more times",
	},
	&cli.BoolFlag{
		Name:  "stop-on-fail",
		Usage: "Skip the remaining flows after the first failure",
	},
	&cli.BoolFlag{
		Name:  "capture-on-success",
		Usage: "Also capture screenshot and page source for passing steps",
	},
	&cli.StringFlag{
		Name:    "publish",
		Usage:   "Upload the report to S3 (bucket/prefix)",
		EnvVars: []string{"BROWSERFLOW_PUBLISH"},
	},
	&cli.StringFlag{
		Name:    "s3-endpoint",
		Usage:   "S3-compatible endpoint for --publish (MinIO, LocalStack)",
		EnvVars: []string{"BROWSERFLOW_S3_ENDPOINT"},
	},
	&cli.StringFlag{
		Name:    "s3-region",
		Usage:   "AWS region for --publish",
		EnvVars: []string{"AWS_REGION"},
	},
}

var testCommand = &cli.Command{
	Name:      "test",
	Usage:     "Run flows against a browser",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run one or more flow files in a browser.

Reports are generated in the output directory:
  - Default: ./reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  browserflow test flows/demo/smoke
  browserflow test login.yaml signup.yaml
  browserflow test flows/ --include-tags regression --parallel 4
  browserflow test flows/ -e BASE_URL=http://staging:5000
  browserflow --browser firefox --headless test flows/demo
  browserflow --remote-url http://grid:4444 test flows/
  browserflow test flows/ --output ./my-reports --flatten`,
	Flags:  runFlags,
	Action: runTest,
}

// RunConfig holds the complete test run configuration.
type RunConfig struct {
	// Paths
	FlowPaths  []string
	ConfigPath string
	Workspace  *config.Config

	Env map[string]string

	// Filtering
	IncludeTags []string
	ExcludeTags []string

	// Output
	OutputDir string

	// Execution
	BaseURL          string
	Parallel         int
	Retries          int
	StopOnFail       bool
	CaptureOnSuccess bool
	Verbose          bool

	Driver DriverOptions

	// Publishing
	Publish    string
	S3Endpoint string
	S3Region   string
}

// loadRunConfig collects the flags shared by test and suite.
func loadRunConfig(c *cli.Context, paths []string) (*RunConfig, error) {
	outputDir, err := resolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return nil, err
	}

	ws, configPath, err := loadWorkspace(c.String("config"), paths)
	if err != nil {
		return nil, err
	}

	// Workspace env first, CLI overrides
	env := make(map[string]string)
	for k, v := range ws.Env {
		env[k] = v
	}
	for k, v := range parseEnvVars(c.StringSlice("env")) {
		env[k] = v
	}

	cfg := &RunConfig{
		FlowPaths:        paths,
		ConfigPath:       configPath,
		Workspace:        ws,
		Env:              env,
		IncludeTags:      c.StringSlice("include-tags"),
		ExcludeTags:      c.StringSlice("exclude-tags"),
		OutputDir:        outputDir,
		BaseURL:          c.String("base-url"),
		Parallel:         c.Int("parallel"),
		Retries:          c.Int("retries"),
		StopOnFail:       c.Bool("stop-on-fail"),
		CaptureOnSuccess: c.Bool("capture-on-success"),
		Verbose:          c.Bool("verbose"),
		Driver:           driverOptionsFrom(c, ws),
		Publish:          c.String("publish"),
		S3Endpoint:       c.String("s3-endpoint"),
		S3Region:         c.String("s3-region"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ws.BaseURL
	}
	if !c.IsSet("parallel") {
		cfg.Parallel = ws.Parallel
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("--retries must be >= 0")
	}
	return cfg, nil
}

// loadWorkspace reads an explicit config file, or the config.yaml of a
// single directory argument. No config yields an empty one.
func loadWorkspace(explicit string, paths []string) (*config.Config, string, error) {
	if explicit != "" {
		ws, err := config.Load(explicit)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return ws, explicit, nil
	}
	if len(paths) == 1 {
		if info, err := os.Stat(paths[0]); err == nil && info.IsDir() {
			ws, err := config.LoadFromDir(paths[0])
			if err != nil {
				return nil, "", fmt.Errorf("failed to load config: %w", err)
			}
			return ws, "", nil
		}
	}
	return &config.Config{}, "", nil
}

func runTest(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	cfg, err := loadRunConfig(c, c.Args().Slice())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return executeTest(ctx, cfg)
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: ./reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = "./reports"
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

// initRunLog opens the run log and writes the numbered execution header.
func initRunLog(cfg *RunConfig, command string) func() {
	logPath := filepath.Join(cfg.OutputDir, logFileName)
	n, err := logger.NextExecutionNumber(logPath)
	if err != nil {
		n = 1
	}
	if err := logger.Init(logPath); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	if cfg.Verbose {
		logger.SetLevel("debug")
	} else {
		logger.SetLevel("info")
	}

	logger.ExecutionHeader(n, map[string]interface{}{
		"command": command,
		"driver":  cfg.Driver.Driver,
		"browser": cfg.Driver.Browser,
		"output":  cfg.OutputDir,
		"version": Version,
	})
	return logger.Close
}

func executeTest(ctx context.Context, cfg *RunConfig) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	defer initRunLog(cfg, "test")()

	printBanner()

	flows, err := validateAndParseFlows(cfg)
	if err != nil {
		logger.Error("Flow validation failed: %v", err)
		return err
	}
	logger.Info("Validated %d flow(s)", len(flows))

	factory, err := newDriverFactory(cfg.Driver)
	if err != nil {
		return err
	}
	printSetupSuccess(fmt.Sprintf("Driver: %s (%s)", cfg.Driver.Driver, cfg.Driver.Browser))

	runnerCfg := buildRunnerConfig(cfg, factory)
	runnerCfg.OutputDir = cfg.OutputDir
	runnerCfg.Parallelism = cfg.Parallel
	// Interleaved live output is unreadable; parallel runs print the
	// detailed results once everything has finished.
	live := cfg.Parallel <= 1
	if live {
		attachProgress(&runnerCfg)
	}

	result, err := executor.New(runnerCfg).Run(ctx, flows)
	if err != nil {
		logger.Error("Flow execution failed: %v", err)
		return err
	}
	logger.Info("Flow execution completed: %d passed, %d failed, %d skipped",
		result.PassedFlows, result.FailedFlows, result.SkippedFlows)

	index, err := report.ReadIndex(filepath.Join(cfg.OutputDir, "report.json"))
	if err != nil {
		logger.Warn("read report index: %v", err)
		index = nil
	}
	if !live && index != nil {
		printDetailedFlowResults(cfg.OutputDir, index)
	}
	printSummary(result, index)

	finishReports(ctx, cfg, cfg.OutputDir, reportTitle(cfg))

	if result.Status == report.StatusFailed {
		return cli.Exit("", 1)
	}
	return nil
}

// buildRunnerConfig maps the run configuration onto the runner. OutputDir,
// Stage and Parallelism are left to the caller.
func buildRunnerConfig(cfg *RunConfig, factory executor.DriverFactory) executor.RunnerConfig {
	artifacts := core.DefaultArtifactConfig()
	artifacts.CaptureOnSuccess = cfg.CaptureOnSuccess

	ws := cfg.Workspace
	if ws == nil {
		ws = &config.Config{}
	}

	return executor.RunnerConfig{
		StopOnFail: cfg.StopOnFail,
		Retries:    cfg.Retries,
		Artifacts:  artifacts,
		NewDriver:  factory,
		Browser: report.Browser{
			Name:     cfg.Driver.Browser,
			Headless: cfg.Driver.Headless,
		},
		Metadata: report.Metadata{
			Project:     ws.Report.Project,
			Tester:      ws.Report.Tester,
			Environment: ws.Report.Environment,
			BaseURL:     cfg.BaseURL,
		},
		CI:            report.DetectCI(),
		BaseURL:       cfg.BaseURL,
		Env:           cfg.Env,
		RunnerVersion: Version,
		DriverName:    cfg.Driver.Driver,
	}
}

func attachProgress(rc *executor.RunnerConfig) {
	rc.OnFlowStart = onFlowStart
	rc.OnStepComplete = onStepComplete
	rc.OnNestedStep = onNestedStep
	rc.OnNestedFlowStart = onNestedFlowStart
	rc.OnFlowEnd = onFlowEnd
}

func reportTitle(cfg *RunConfig) string {
	if cfg.Workspace != nil {
		return cfg.Workspace.Report.Title
	}
	return ""
}

// finishReports renders the HTML report, prints where everything went and
// publishes when asked. Failures here only warn: the JSON report is
// already complete.
func finishReports(ctx context.Context, cfg *RunConfig, reportDir, title string) {
	logger.Info("Generating reports in %s", reportDir)
	fmt.Println()
	printSetupStep("Generating reports...")
	fmt.Println()

	htmlPath := filepath.Join(reportDir, "report.html")
	htmlGenerated := true
	if err := report.GenerateHTML(reportDir, report.HTMLConfig{
		OutputPath: htmlPath,
		Title:      title,
	}); err != nil {
		htmlGenerated = false
		fmt.Printf("  %s⚠%s Warning: failed to generate HTML report: %v\n", color(colorYellow), color(colorReset), err)
	}

	fmt.Println("  Reports:")
	if htmlGenerated {
		fmt.Printf("    HTML:   %s\n", htmlPath)
	}
	fmt.Printf("    JSON:   %s\n", filepath.Join(reportDir, "report.json"))
	fmt.Printf("    JUnit:  %s\n", filepath.Join(reportDir, report.JUnitFile))
	fmt.Printf("    Log:    %s\n", filepath.Join(cfg.OutputDir, logFileName))

	if cfg.Publish != "" {
		if err := publishReport(ctx, reportDir, cfg.Publish, cfg.S3Endpoint, cfg.S3Region); err != nil {
			fmt.Printf("  %s⚠%s Warning: %v\n", color(colorYellow), color(colorReset), err)
		}
	}
	fmt.Println()
}

// publishReport uploads a report directory to S3.
func publishReport(ctx context.Context, reportDir, targetSpec, endpoint, region string) error {
	target, err := report.ParseS3Target(targetSpec)
	if err != nil {
		return err
	}
	client, err := report.NewS3Client(ctx, report.PublishOptions{Region: region, Endpoint: endpoint})
	if err != nil {
		return err
	}
	n, err := report.Publish(ctx, client, reportDir, target)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", target, err)
	}
	logger.Info("published %d object(s) to %s", n, target)
	fmt.Printf("    S3:     %s (%d files)\n", target, n)
	return nil
}

// validateAndParseFlows validates the flow paths and returns the parsed
// test cases.
func validateAndParseFlows(cfg *RunConfig) ([]flow.Flow, error) {
	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags)
	result := v.Validate(cfg.FlowPaths...)
	return checkValidation(result)
}

func checkValidation(result *validator.Result) ([]flow.Flow, error) {
	if !result.IsValid() {
		fmt.Fprintf(os.Stderr, "Validation errors:\n")
		for _, err := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
	}
	if len(result.TestCases) == 0 {
		return nil, fmt.Errorf("no test flows found")
	}

	fmt.Printf("\n%sSetup%s\n", color(colorBold), color(colorReset))
	fmt.Println(strings.Repeat("─", 40))
	printSetupSuccess(fmt.Sprintf("Found %d test flow(s)", len(result.TestCases)))
	if len(result.Excluded) > 0 {
		printSetupSuccess(fmt.Sprintf("Excluded %d flow(s) by tags", len(result.Excluded)))
	}
	return result.Flows, nil
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
