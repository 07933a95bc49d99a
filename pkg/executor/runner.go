// Package executor orchestrates flow execution, connecting drivers to reports.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
	"github.com/qalab/browserflow/pkg/logger"
	"github.com/qalab/browserflow/pkg/report"
)

// DriverFactory opens a browser session. browser is the flow's override
// or the run default. Every flow gets its own session, closed when the
// flow (or one attempt of it) ends.
type DriverFactory func(ctx context.Context, browser string) (core.Driver, error)

// RunnerConfig configures the test runner.
type RunnerConfig struct {
	OutputDir   string // Report output directory
	Stage       string // Pipeline stage name, recorded in the report
	Parallelism int    // Concurrent browser sessions (0 or 1 = sequential)
	StopOnFail  bool   // Skip flows not yet started after the first failure
	Retries     int    // Extra attempts for a failed flow (0 = no retries)
	Artifacts   core.ArtifactConfig

	NewDriver DriverFactory

	// Run metadata for reports
	Browser  report.Browser
	Metadata report.Metadata
	CI       *report.CI

	// Variables visible to every flow; flow env overrides them
	BaseURL string
	Env     map[string]string

	RunnerVersion string
	DriverName    string

	// Live progress callbacks. With Parallelism > 1 they are called
	// from several goroutines.
	OnFlowStart       func(flowIdx, totalFlows int, name, file string)
	OnStepComplete    func(idx int, desc string, passed bool, durationMs int64, err string)
	OnNestedStep      func(depth int, desc string, passed bool, durationMs int64, err string)
	OnNestedFlowStart func(depth int, desc string)
	OnFlowEnd         func(name string, status report.Status, durationMs int64, err string)
}

// RunResult contains the outcome of a test run.
type RunResult struct {
	Stage        string
	ReportDir    string
	Status       report.Status
	TotalFlows   int
	PassedFlows  int
	FailedFlows  int
	SkippedFlows int
	Duration     int64 // Wall clock, milliseconds
	FlowResults  []FlowResult
}

// FlowResult contains the outcome of a single flow execution.
type FlowResult struct {
	ID           string
	Name         string
	SourceFile   string
	Status       report.Status
	Duration     int64
	Error        string
	Attempts     int
	StepsTotal   int
	StepsPassed  int
	StepsFailed  int
	StepsSkipped int
}

// Runner orchestrates flow execution.
type Runner struct {
	config RunnerConfig
}

// New creates a new Runner.
func New(cfg RunnerConfig) *Runner {
	return &Runner{config: cfg}
}

// prepare writes the report skeleton and starts the index.
func (r *Runner) prepare(flows []flow.Flow) (*report.IndexWriter, []report.FlowDetail, error) {
	index, details, err := report.BuildSkeleton(flows, report.BuilderConfig{
		OutputDir:     r.config.OutputDir,
		Stage:         r.config.Stage,
		Browser:       r.config.Browser,
		Metadata:      r.config.Metadata,
		CI:            r.config.CI,
		RunnerVersion: r.config.RunnerVersion,
		DriverName:    r.config.DriverName,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := report.WriteSkeleton(r.config.OutputDir, index, details); err != nil {
		return nil, nil, err
	}

	iw := report.NewIndexWriter(r.config.OutputDir, index)
	iw.Start()
	return iw, details, nil
}

// Run executes all flows and writes the report.
func (r *Runner) Run(ctx context.Context, flows []flow.Flow) (*RunResult, error) {
	if r.config.NewDriver == nil {
		return nil, fmt.Errorf("runner: no driver factory configured")
	}

	iw, details, err := r.prepare(flows)
	if err != nil {
		return nil, err
	}
	defer iw.Close()

	start := time.Now()
	results := r.executeFlows(ctx, flows, details, iw)
	iw.End()

	if err := report.GenerateJUnit(r.config.OutputDir, ""); err != nil {
		logger.Warn("write junit report: %v", err)
	}
	return r.buildRunResult(results, time.Since(start).Milliseconds()), nil
}

// Skip writes a report in which every flow is skipped with reason. Used
// for pipeline stages gated by an earlier failure.
func (r *Runner) Skip(flows []flow.Flow, reason string) (*RunResult, error) {
	iw, details, err := r.prepare(flows)
	if err != nil {
		return nil, err
	}
	defer iw.Close()

	results := make([]FlowResult, len(flows))
	for i := range flows {
		report.NewFlowWriter(&details[i], r.config.OutputDir, iw).Skip(reason)
		results[i] = FlowResult{
			ID:         details[i].ID,
			Name:       details[i].Name,
			SourceFile: flows[i].SourcePath,
			Status:     report.StatusSkipped,
			Error:      reason,
		}
	}
	iw.End()

	if err := report.GenerateJUnit(r.config.OutputDir, ""); err != nil {
		logger.Warn("write junit report: %v", err)
	}
	return r.buildRunResult(results, 0), nil
}

// executeFlows runs flows on at most Parallelism workers, starting them in
// input order.
func (r *Runner) executeFlows(ctx context.Context, flows []flow.Flow, details []report.FlowDetail, iw *report.IndexWriter) []FlowResult {
	results := make([]FlowResult, len(flows))
	if len(flows) == 0 {
		return results
	}

	var stopped atomic.Bool
	var g errgroup.Group
	g.SetLimit(max(r.config.Parallelism, 1))
	for i := range flows {
		g.Go(func() error {
			writer := report.NewFlowWriter(&details[i], r.config.OutputDir, iw)

			if ctx.Err() != nil || stopped.Load() {
				reason := "run cancelled"
				if stopped.Load() {
					reason = "skipped after an earlier failure"
				}
				writer.Skip(reason)
				results[i] = FlowResult{ID: details[i].ID, Name: details[i].Name, SourceFile: flows[i].SourcePath, Status: report.StatusSkipped, Error: reason}
				return nil
			}

			results[i] = r.executeFlow(ctx, flows[i], writer, iw, i, len(flows))
			if r.config.StopOnFail && results[i].Status == report.StatusFailed {
				stopped.Store(true)
			}
			return nil
		})
	}
	// Flow failures are recorded in results, never returned.
	_ = g.Wait()

	return results
}

// executeFlow runs a flow with a fresh session per attempt. Failed
// attempts with retries left are archived and rerun.
func (r *Runner) executeFlow(ctx context.Context, f flow.Flow, writer *report.FlowWriter, iw *report.IndexWriter, flowIdx, totalFlows int) FlowResult {
	browser := f.Config.Browser
	if browser == "" {
		browser = r.config.Browser.Name
	}
	maxAttempts := r.config.Retries + 1
	detail := writer.GetFlowDetail()

	for attempt := 1; ; attempt++ {
		logger.Info("[%s] %s: attempt %d/%d on %s", detail.ID, detail.Name, attempt, maxAttempts, browser)

		result := r.runAttempt(ctx, f, writer, browser, flowIdx, totalFlows)
		result.Attempts = attempt

		retry := result.Status == report.StatusFailed && attempt < maxAttempts && ctx.Err() == nil
		if retry {
			logger.Warn("[%s] attempt %d failed: %s", detail.ID, attempt, result.Error)
			writer.ArchiveAttempt(attempt, result.Error)
			continue
		}

		writer.End(result.Status, result.Error)
		logger.Info("[%s] %s: %s in %dms", detail.ID, detail.Name, result.Status, result.Duration)
		if r.config.OnFlowEnd != nil {
			r.config.OnFlowEnd(result.Name, result.Status, result.Duration, result.Error)
		}
		return result
	}
}

func (r *Runner) runAttempt(ctx context.Context, f flow.Flow, writer *report.FlowWriter, browser string, flowIdx, totalFlows int) FlowResult {
	start := time.Now()
	detail := writer.GetFlowDetail()

	driver, err := r.config.NewDriver(ctx, browser)
	if err != nil {
		msg := fmt.Sprintf("start %s session: %v", browser, err)
		logger.Error("[%s] %s", detail.ID, msg)
		writer.Start(nil)
		writer.SkipRemainingCommands(0)
		return FlowResult{
			ID:           detail.ID,
			Name:         detail.Name,
			SourceFile:   f.SourcePath,
			Status:       report.StatusFailed,
			Duration:     time.Since(start).Milliseconds(),
			Error:        msg,
			StepsTotal:   countLeafSteps(f.Steps),
			StepsSkipped: countLeafSteps(f.Steps),
		}
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("[%s] close session: %v", detail.ID, err)
		}
	}()

	fr := &FlowRunner{
		ctx:        ctx,
		flow:       f,
		driver:     driver,
		config:     r.config,
		writer:     writer,
		flowIdx:    flowIdx,
		totalFlows: totalFlows,
	}
	return fr.Run()
}

// buildRunResult aggregates flow results into a run result.
func (r *Runner) buildRunResult(flowResults []FlowResult, wallClock int64) *RunResult {
	result := &RunResult{
		Stage:       r.config.Stage,
		ReportDir:   r.config.OutputDir,
		TotalFlows:  len(flowResults),
		FlowResults: flowResults,
		Duration:    wallClock,
	}

	for _, fr := range flowResults {
		switch fr.Status {
		case report.StatusPassed:
			result.PassedFlows++
		case report.StatusFailed:
			result.FailedFlows++
		case report.StatusSkipped:
			result.SkippedFlows++
		}
	}

	switch {
	case result.FailedFlows > 0:
		result.Status = report.StatusFailed
	case result.TotalFlows > 0 && result.SkippedFlows == result.TotalFlows:
		result.Status = report.StatusSkipped
	default:
		result.Status = report.StatusPassed
	}
	return result
}
