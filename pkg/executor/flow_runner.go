package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
	"github.com/qalab/browserflow/pkg/logger"
	"github.com/qalab/browserflow/pkg/report"
)

// maxWhileIterations caps a repeat that only has a while condition.
const maxWhileIterations = 1000

// FlowRunner executes one attempt of a single flow on one browser session.
// Ending the flow in the report (End or ArchiveAttempt) is left to the caller.
type FlowRunner struct {
	ctx        context.Context
	flow       flow.Flow
	driver     core.Driver
	config     RunnerConfig
	writer     *report.FlowWriter
	script     *ScriptEngine
	depth      int // runFlow nesting, for progress callbacks
	flowIdx    int
	totalFlows int

	stepsPassed  int
	stepsFailed  int
	stepsSkipped int

	// sub-commands of the compound step currently executing
	subCommands []report.Command
}

// Run executes hooks and steps and returns the outcome.
func (fr *FlowRunner) Run() FlowResult {
	start := time.Now()

	if fr.flow.Config.Timeout > 0 {
		ctx, cancel := context.WithTimeout(fr.ctx, time.Duration(fr.flow.Config.Timeout)*time.Millisecond)
		defer cancel()
		fr.ctx = ctx
	}

	fr.script = NewScriptEngine()
	defer fr.script.Close()

	fr.script.ImportSystemEnv()
	if base := fr.baseURL(); base != "" {
		fr.script.SetVariable("BASE_URL", base)
	}
	fr.script.SetVariables(fr.config.Env)
	fr.script.SetVariables(fr.flow.Config.Env)
	if fr.flow.SourcePath != "" {
		fr.script.SetFlowDir(filepath.Dir(fr.flow.SourcePath))
	}

	var browser *report.Browser
	if info := fr.driver.BrowserInfo(); info != nil {
		browser = &report.Browser{
			Name:     info.Browser,
			Version:  info.BrowserVersion,
			Headless: info.Headless,
			Platform: info.Platform,
		}
		fr.script.SetBrowser(info.Browser)
	}

	detail := fr.writer.GetFlowDetail()
	if fr.config.OnFlowStart != nil {
		fr.config.OnFlowStart(fr.flowIdx, fr.totalFlows, detail.Name, filepath.Base(fr.flow.SourcePath))
	}
	fr.writer.Start(browser)

	status, errMsg := fr.runSteps()

	for _, step := range fr.flow.Config.OnFlowComplete {
		if res := fr.executeNestedStep(step); !res.Success {
			logger.Warn("%s: onFlowComplete step %q failed: %v", detail.ID, step.Describe(), res.Error)
		}
	}
	fr.subCommands = nil

	if u, err := fr.driver.CurrentURL(); err == nil {
		fr.writer.SetFinalURL(u)
	}

	return FlowResult{
		ID:           detail.ID,
		Name:         detail.Name,
		SourceFile:   fr.flow.SourcePath,
		Status:       status,
		Duration:     time.Since(start).Milliseconds(),
		Error:        errMsg,
		StepsTotal:   fr.stepsPassed + fr.stepsFailed + fr.stepsSkipped,
		StepsPassed:  fr.stepsPassed,
		StepsFailed:  fr.stepsFailed,
		StepsSkipped: fr.stepsSkipped,
	}
}

func (fr *FlowRunner) runSteps() (report.Status, string) {
	for _, step := range fr.flow.Config.OnFlowStart {
		res := fr.executeNestedStep(step)
		if !res.Success && !step.IsOptional() {
			fr.subCommands = nil
			fr.writer.SkipRemainingCommands(0)
			fr.stepsSkipped += countLeafSteps(fr.flow.Steps)
			return report.StatusFailed, "onFlowStart failed: " + errorText(res)
		}
	}
	fr.subCommands = nil

	for i, step := range fr.flow.Steps {
		if err := fr.ctx.Err(); err != nil {
			fr.writer.SkipRemainingCommands(i)
			fr.stepsSkipped += countLeafSteps(fr.flow.Steps[i:])
			if errors.Is(err, context.DeadlineExceeded) {
				return report.StatusFailed, fmt.Sprintf("flow timed out after %dms", fr.flow.Config.Timeout)
			}
			return report.StatusSkipped, "execution cancelled"
		}

		status, errMsg, duration := fr.executeStep(i, step)

		if fr.config.OnStepComplete != nil {
			fr.config.OnStepComplete(i, step.Describe(), status == report.StatusPassed, duration, errMsg)
		}

		// Compound steps are counted through their children.
		if !isCompound(step) {
			switch status {
			case report.StatusPassed:
				fr.stepsPassed++
			case report.StatusFailed:
				fr.stepsFailed++
			}
		}

		if status != report.StatusFailed {
			continue
		}
		if step.IsOptional() {
			logger.Warn("optional step %q failed: %s", step.Describe(), errMsg)
			continue
		}
		fr.writer.SkipRemainingCommands(i + 1)
		fr.stepsSkipped += countLeafSteps(fr.flow.Steps[i+1:])
		return report.StatusFailed, errMsg
	}
	return report.StatusPassed, ""
}

// executeStep runs a top-level step and records it in the report.
func (fr *FlowRunner) executeStep(idx int, step flow.Step) (report.Status, string, int64) {
	start := time.Now()
	fr.writer.CommandStart(idx)
	fr.subCommands = nil

	result := fr.dispatch(fr.prepareStep(step))
	duration := time.Since(start).Milliseconds()

	status := report.StatusPassed
	errMsg := ""
	if !result.Success {
		status = report.StatusFailed
		errMsg = errorText(result)
	}
	logger.Debug("step %d %s: %s (%dms) %s", idx, step.Describe(), status, duration, errMsg)

	var artifacts report.CommandArtifacts
	if fr.config.Artifacts.ShouldCapture(result.Success) {
		artifacts = fr.captureArtifacts(idx)
	}

	fr.writer.CommandEnd(idx, report.CommandResult{
		Status:      status,
		Element:     toElement(result.Element),
		Output:      outputOf(result),
		Error:       toError(result),
		Artifacts:   artifacts,
		SubCommands: fr.subCommands,
	})
	fr.subCommands = nil

	return status, errMsg, duration
}

// timedStep is a step carrying an element wait override.
type timedStep interface {
	Timeout() int
	SetTimeout(ms int)
}

// prepareStep expands variables and, under a flow timeout, caps the
// element wait of the expanded copy at the time left. Drivers poll
// without a context, so the cap is what bounds a single wait.
func (fr *FlowRunner) prepareStep(step flow.Step) flow.Step {
	expanded := fr.script.ExpandStep(step)
	deadline, ok := fr.ctx.Deadline()
	if !ok || expanded == step {
		return expanded
	}
	t, ok := expanded.(timedStep)
	if !ok {
		return expanded
	}

	left := max(time.Until(deadline).Milliseconds(), 1)
	wait := int64(t.Timeout())
	if wait == 0 {
		wait = core.DefaultFindTimeout.Milliseconds()
	}
	if wait > left {
		t.SetTimeout(int(left))
	}
	return expanded
}

// dispatch routes a step to the script engine, the flow-control
// handlers, or the driver.
func (fr *FlowRunner) dispatch(step flow.Step) *core.CommandResult {
	var result *core.CommandResult

	switch s := step.(type) {
	case *flow.DefineVariablesStep:
		result = fr.script.ExecuteDefineVariables(s)
	case *flow.RunScriptStep:
		fr.syncBrowserState()
		result = fr.script.ExecuteRunScript(s)
	case *flow.EvalScriptStep:
		fr.syncBrowserState()
		result = fr.script.ExecuteEvalScript(s)
	case *flow.AssertTrueStep:
		fr.syncBrowserState()
		result = fr.script.ExecuteAssertTrue(s)

	case *flow.RepeatStep:
		result = fr.executeRepeat(s)
	case *flow.RetryStep:
		result = fr.executeRetry(s)
	case *flow.RunFlowStep:
		result = fr.executeRunFlow(s)

	case *flow.WaitStep:
		result = fr.wait(s)
	case *flow.TakeScreenshotStep:
		result = fr.takeScreenshot(s)

	case *flow.OpenLinkStep:
		resolved := *s
		resolved.Link = fr.resolveLink(s.Link)
		result = fr.driver.Execute(&resolved)
	case *flow.InputRandomEmailStep:
		result = fr.driver.Execute(s)
		if email, ok := result.Data.(string); ok && result.Success {
			fr.script.SetOutput("randomEmail", email)
		}
	case *flow.CopyTextFromStep:
		result = fr.driver.Execute(s)
		if text, ok := result.Data.(string); ok && result.Success {
			fr.script.SetCopiedText(text)
		}

	default:
		result = fr.driver.Execute(step)
	}

	if result == nil {
		result = core.Failure(core.ErrCommandFailed.WithMessagef("%s returned no result", step.Type()), "", time.Now())
	}
	return result
}

// syncBrowserState refreshes browser.url before a script reads it.
func (fr *FlowRunner) syncBrowserState() {
	if u, err := fr.driver.CurrentURL(); err == nil {
		fr.script.SetCurrentURL(u)
	}
}

func (fr *FlowRunner) baseURL() string {
	if fr.flow.Config.URL != "" {
		return fr.flow.Config.URL
	}
	return fr.config.BaseURL
}

// resolveLink joins a relative link with the flow (or run) base URL.
func (fr *FlowRunner) resolveLink(link string) string {
	base := fr.baseURL()
	if base == "" {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	b, err := url.Parse(base)
	if err != nil {
		return link
	}
	return b.ResolveReference(ref).String()
}

func (fr *FlowRunner) wait(step *flow.WaitStep) *core.CommandResult {
	start := time.Now()
	timer := time.NewTimer(time.Duration(step.Ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-fr.ctx.Done():
		return core.Failure(fr.ctx.Err(), "wait interrupted", start)
	case <-timer.C:
		return core.Success(fmt.Sprintf("Waited %dms", step.Ms), start)
	}
}

func (fr *FlowRunner) takeScreenshot(step *flow.TakeScreenshotStep) *core.CommandResult {
	start := time.Now()
	data, err := fr.driver.Screenshot()
	if err != nil {
		return core.Failure(core.ErrCommandFailed.WithMessage("screenshot failed").WithCause(err), "", start)
	}

	name := step.Path
	if name == "" {
		name = fmt.Sprintf("screenshot-%d", time.Now().UnixMilli())
	}
	rel, err := fr.writer.SaveNamedScreenshot(name, data)
	if err != nil {
		return core.Failure(core.ErrCommandFailed.WithMessage("save screenshot").WithCause(err), "", start)
	}

	result := core.Success("Saved "+rel, start)
	result.Data = rel
	return result
}

// executeRepeat runs the nested steps a fixed number of times, or while
// the condition holds.
func (fr *FlowRunner) executeRepeat(step *flow.RepeatStep) *core.CommandResult {
	start := time.Now()
	hasWhile := step.While.Visible != nil || step.While.NotVisible != nil || step.While.Script != ""

	times := fr.script.ParseInt(step.Times, 0)
	if times <= 0 {
		times = 1
		if hasWhile {
			times = maxWhileIterations
		}
	}

	iterations := 0
	for ; iterations < times; iterations++ {
		if err := fr.ctx.Err(); err != nil {
			return core.Failure(err, "repeat cancelled", start)
		}
		if hasWhile {
			fr.syncBrowserState()
			if !fr.script.CheckCondition(step.While, fr.driver) {
				break
			}
		}
		if res := fr.runNested(step.Steps); res != nil {
			return res
		}
	}

	return core.Success(fmt.Sprintf("Repeat completed (%d iterations)", iterations), start)
}

// executeRetry reruns the nested steps (or a flow file) until they pass.
func (fr *FlowRunner) executeRetry(step *flow.RetryStep) *core.CommandResult {
	start := time.Now()
	maxRetries := fr.script.ParseInt(step.MaxRetries, 3)
	if maxRetries < 1 {
		maxRetries = 1
	}

	defer fr.script.withEnvVars(step.Env)()

	steps := step.Steps
	var sub *flow.Flow
	if step.File != "" && len(steps) == 0 {
		path := fr.script.ResolvePath(step.File)
		parsed, err := flow.ParseFile(path)
		if err != nil {
			return core.Failure(core.ErrInvalidConfig.WithMessagef("cannot load %s", path).WithCause(err), "", start)
		}
		sub = parsed
	}

	var last *core.CommandResult
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := fr.ctx.Err(); err != nil {
			return core.Failure(err, "retry cancelled", start)
		}

		if sub != nil {
			last = fr.executeSubFlow(*sub)
			if last.Success {
				last = nil
			}
		} else {
			last = fr.runNested(steps)
		}

		if last == nil {
			return core.Success(fmt.Sprintf("Retry succeeded on attempt %d", attempt), start)
		}
		logger.Debug("retry attempt %d/%d failed: %s", attempt, maxRetries, errorText(last))
	}

	return core.Failure(last.Error, fmt.Sprintf("Retry failed after %d attempts", maxRetries), start)
}

// executeRunFlow runs inline steps or another flow file, optionally gated
// by a when condition.
func (fr *FlowRunner) executeRunFlow(step *flow.RunFlowStep) *core.CommandResult {
	start := time.Now()

	if step.When != nil {
		fr.syncBrowserState()
		if !fr.script.CheckCondition(*step.When, fr.driver) {
			return core.Success("Skipped (when condition not met)", start)
		}
	}

	if fr.config.OnNestedFlowStart != nil {
		fr.config.OnNestedFlowStart(fr.depth+1, step.Describe())
	}
	fr.depth++
	defer func() { fr.depth-- }()

	defer fr.script.withEnvVars(step.Env)()

	if len(step.Steps) > 0 {
		if res := fr.runNested(step.Steps); res != nil {
			return res
		}
		return core.Success("Inline flow completed", start)
	}

	if step.File == "" {
		return core.Failure(core.ErrMissingRequired.WithMessage("runFlow requires file or commands"), "", start)
	}

	path := fr.script.ResolvePath(step.File)
	sub, err := flow.ParseFile(path)
	if err != nil {
		return core.Failure(core.ErrInvalidConfig.WithMessagef("cannot load %s", path).WithCause(err), "", start)
	}
	return fr.executeSubFlow(*sub)
}

// executeSubFlow runs another flow's steps inside the current session,
// resolving its relative paths against its own directory.
func (fr *FlowRunner) executeSubFlow(sub flow.Flow) *core.CommandResult {
	start := time.Now()

	prevDir := fr.script.flowDir
	if sub.SourcePath != "" {
		fr.script.SetFlowDir(filepath.Dir(sub.SourcePath))
	}
	defer func() { fr.script.flowDir = prevDir }()
	defer fr.script.withEnvVars(sub.Config.Env)()

	if res := fr.runNested(sub.Steps); res != nil {
		return res
	}
	return core.Success(fmt.Sprintf("Sub-flow '%s' completed", sub.DisplayName()), start)
}

// runNested executes steps in order and returns the first required
// failure, or nil when all passed.
func (fr *FlowRunner) runNested(steps []flow.Step) *core.CommandResult {
	for _, step := range steps {
		if err := fr.ctx.Err(); err != nil {
			return core.Failure(err, "cancelled", time.Now())
		}
		res := fr.executeNestedStep(step)
		if !res.Success && !step.IsOptional() {
			return res
		}
	}
	return nil
}

// executeNestedStep executes a step inside a compound step and records it
// as a sub-command of the enclosing report command.
func (fr *FlowRunner) executeNestedStep(step flow.Step) *core.CommandResult {
	start := time.Now()

	compound := isCompound(step)
	parent := fr.subCommands
	if compound {
		fr.subCommands = nil
	}

	result := fr.dispatch(fr.prepareStep(step))

	var children []report.Command
	if compound {
		children = fr.subCommands
		fr.subCommands = parent
	}

	duration := time.Since(start).Milliseconds()
	if !compound {
		if result.Success {
			fr.stepsPassed++
		} else {
			fr.stepsFailed++
		}
	}

	if fr.config.OnNestedStep != nil && fr.depth > 0 {
		fr.config.OnNestedStep(fr.depth, step.Describe(), result.Success, duration, errorText(result))
	}

	status := report.StatusPassed
	if !result.Success {
		status = report.StatusFailed
	}
	end := time.Now()
	fr.subCommands = append(fr.subCommands, report.Command{
		ID:          fmt.Sprintf("sub-%d", len(fr.subCommands)),
		Index:       len(fr.subCommands),
		Type:        string(step.Type()),
		Label:       step.Label(),
		Description: step.Describe(),
		Status:      status,
		StartTime:   &start,
		EndTime:     &end,
		Duration:    &duration,
		Params:      report.ExtractParams(step),
		Element:     toElement(result.Element),
		Output:      outputOf(result),
		Error:       toError(result),
		SubCommands: children,
	})

	return result
}

// captureArtifacts saves the screenshot and page source for a command.
func (fr *FlowRunner) captureArtifacts(idx int) report.CommandArtifacts {
	var artifacts report.CommandArtifacts

	if fr.config.Artifacts.Screenshot {
		if data, err := fr.driver.Screenshot(); err == nil && len(data) > 0 {
			if rel, err := fr.writer.SaveScreenshot(idx, data); err == nil {
				artifacts.Screenshot = rel
			} else {
				logger.Warn("save screenshot: %v", err)
			}
		}
	}

	if fr.config.Artifacts.PageSource {
		if src, err := fr.driver.PageSource(); err == nil && src != "" {
			if rel, err := fr.writer.SavePageSource(idx, src); err == nil {
				artifacts.PageSource = rel
			} else {
				logger.Warn("save page source: %v", err)
			}
		}
	}

	return artifacts
}

func isCompound(step flow.Step) bool {
	switch step.(type) {
	case *flow.RepeatStep, *flow.RetryStep, *flow.RunFlowStep:
		return true
	}
	return false
}

func countLeafSteps(steps []flow.Step) int {
	n := 0
	for _, s := range steps {
		if !isCompound(s) {
			n++
		}
	}
	return n
}

// errorText is the message shown for a failed result.
func errorText(r *core.CommandResult) string {
	if r == nil || r.Success {
		return ""
	}
	if r.Error != nil {
		return r.Error.Error()
	}
	return r.Message
}
