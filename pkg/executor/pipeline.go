package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/qalab/browserflow/pkg/flow"
	"github.com/qalab/browserflow/pkg/logger"
	"github.com/qalab/browserflow/pkg/report"
)

// Stage is one step of a pipeline: a set of flows run together.
type Stage struct {
	Name              string
	Flows             []flow.Flow
	Parallelism       int
	ContinueOnFailure bool // A failure here does not gate later stages
}

// Pipeline runs stages in order. Each stage writes its own report under
// <OutputDir>/<stage name>.
type Pipeline struct {
	Stages []Stage
	// GateOnFailure skips every later stage once a stage fails.
	GateOnFailure bool
	// Base runner settings; OutputDir, Stage and Parallelism are set per stage.
	Config RunnerConfig
	// OnStageStart is called before a stage runs or is skipped.
	OnStageStart func(idx int, stage Stage, skipped bool)
}

// PipelineResult collects the stage results.
type PipelineResult struct {
	Status   report.Status
	Stages   []*RunResult
	Duration int64
}

// Failed reports whether any stage failed.
func (r *PipelineResult) Failed() bool {
	return r.Status == report.StatusFailed
}

// Run executes the stages.
func (p *Pipeline) Run(ctx context.Context) (*PipelineResult, error) {
	start := time.Now()
	result := &PipelineResult{Status: report.StatusPassed}

	gatedBy := ""
	for i, stage := range p.Stages {
		cfg := p.Config
		cfg.Stage = stage.Name
		cfg.OutputDir = filepath.Join(p.Config.OutputDir, stage.Name)
		if stage.Parallelism > 0 {
			cfg.Parallelism = stage.Parallelism
		}
		runner := New(cfg)

		skip := gatedBy != "" || ctx.Err() != nil
		if p.OnStageStart != nil {
			p.OnStageStart(i, stage, skip)
		}

		var (
			rr  *RunResult
			err error
		)
		if skip {
			reason := fmt.Sprintf("stage %q failed", gatedBy)
			if gatedBy == "" {
				reason = "run cancelled"
			}
			logger.Info("stage %s skipped: %s", stage.Name, reason)
			rr, err = runner.Skip(stage.Flows, reason)
		} else {
			logger.Info("stage %s: %d flow(s), parallel %d", stage.Name, len(stage.Flows), max(cfg.Parallelism, 1))
			rr, err = runner.Run(ctx, stage.Flows)
		}
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		result.Stages = append(result.Stages, rr)

		if rr.Status == report.StatusFailed {
			result.Status = report.StatusFailed
			if p.GateOnFailure && !stage.ContinueOnFailure && gatedBy == "" {
				gatedBy = stage.Name
			}
		}
	}

	result.Duration = time.Since(start).Milliseconds()
	return result, nil
}
