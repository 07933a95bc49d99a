// Package mock provides a scripted driver for testing without a browser.
package mock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
)

// Driver is a mock implementation of core.Driver for testing.
type Driver struct {
	// Configuration
	Config Config

	mu          sync.Mutex
	stepCount   int
	url         string
	executed    []string
	waits       []int
	findTimeout int
	closed      bool
}

// Config configures mock driver behavior.
type Config struct {
	// FailOnStep makes step N fail (1-indexed). 0 = never fail.
	FailOnStep int
	// FailOnMatch fails every step whose Describe() contains this text.
	FailOnMatch string
	// StepDelay adds artificial delay per step
	StepDelay time.Duration
	// Canned page state
	URL        string
	Title      string
	PageSource string
	// Browser info to report
	Browser string
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.Browser == "" {
		cfg.Browser = "mock"
	}
	if cfg.URL == "" {
		cfg.URL = "about:blank"
	}
	return &Driver{Config: cfg, url: cfg.URL}
}

// Execute simulates executing a step.
func (d *Driver) Execute(step flow.Step) *core.CommandResult {
	d.mu.Lock()
	d.stepCount++
	n := d.stepCount
	d.executed = append(d.executed, step.Describe())
	wait := 0
	if t, ok := step.(interface{ Timeout() int }); ok {
		wait = t.Timeout()
	}
	d.waits = append(d.waits, wait)
	d.mu.Unlock()

	start := time.Now()

	// Simulate delay
	if d.Config.StepDelay > 0 {
		time.Sleep(d.Config.StepDelay)
	}

	// Check if this step should fail
	if (d.Config.FailOnStep > 0 && n == d.Config.FailOnStep) ||
		(d.Config.FailOnMatch != "" && strings.Contains(step.Describe(), d.Config.FailOnMatch)) {
		return core.Failure(
			core.ErrElementNotFound.WithMessagef("mock failure on step %d", n),
			fmt.Sprintf("Simulated failure on step %d (%s)", n, step.Type()),
			start)
	}

	result := core.Success(fmt.Sprintf("Mock executed: %s", step.Type()), start)

	switch s := step.(type) {
	case *flow.OpenLinkStep:
		d.mu.Lock()
		d.url = s.Link
		d.mu.Unlock()
	case *flow.InputRandomEmailStep:
		prefix, domain := s.Prefix, s.Domain
		if prefix == "" {
			prefix = "user"
		}
		if domain == "" {
			domain = "example.com"
		}
		result.Data = fmt.Sprintf("%s%d@%s", prefix, time.Now().Unix(), domain)
	case *flow.CopyTextFromStep:
		result.Data = "Mock Element"
	case *flow.AssertURLStep:
		return d.match("url", d.currentURL(), s.Match, start)
	case *flow.WaitForURLStep:
		return d.match("url", d.currentURL(), s.Match, start)
	case *flow.AssertTitleStep:
		return d.match("title", d.Config.Title, s.Match, start)
	case *flow.AssertPageContainsStep:
		if d.Config.PageSource != "" && !strings.Contains(d.Config.PageSource, s.Text) {
			return core.Failure(core.ErrTextMismatch.WithMessagef("page does not contain %q", s.Text), "", start)
		}
	case *flow.WaitStep, *flow.EvalScriptStep, *flow.RunScriptStep, *flow.AssertTrueStep,
		*flow.DefineVariablesStep, *flow.RunFlowStep, *flow.RepeatStep, *flow.RetryStep:
		return core.Failure(core.ErrUnsupportedStep.WithMessagef("unsupported step type: %s", step.Type()), "", start)
	}

	// Add mock element for relevant steps
	if needsElement(step) {
		result.Element = &core.ElementInfo{
			ID:        "mock-element",
			TagName:   "div",
			Text:      "Mock Element",
			Displayed: true,
			Enabled:   true,
		}
	}

	return result
}

func (d *Driver) match(what, actual string, m flow.TextMatch, start time.Time) *core.CommandResult {
	ok, err := m.Holds(actual)
	if err != nil {
		return core.Failure(core.ErrInvalidConfig.WithCause(err), "", start)
	}
	if !ok {
		return core.Failure(core.ErrTextMismatch.WithMessagef("%s %q does not satisfy %s", what, actual, m.Describe()), "", start)
	}
	result := core.Success(fmt.Sprintf("%s %s", what, m.Describe()), start)
	result.Data = actual
	return result
}

// Screenshot returns a mock PNG image.
func (d *Driver) Screenshot() ([]byte, error) {
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

// PageSource returns the canned page source.
func (d *Driver) PageSource() (string, error) {
	if d.Config.PageSource != "" {
		return d.Config.PageSource, nil
	}
	return `<html><head><title>Mock</title></head><body><div id="mock-element">Mock Element</div></body></html>`, nil
}

// CurrentURL returns the last opened link.
func (d *Driver) CurrentURL() (string, error) {
	return d.currentURL(), nil
}

func (d *Driver) currentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// BrowserInfo returns mock browser info.
func (d *Driver) BrowserInfo() *core.BrowserInfo {
	return &core.BrowserInfo{
		Browser:        d.Config.Browser,
		BrowserVersion: "1.0",
		Driver:         "mock",
		SessionID:      "mock-session",
		Headless:       true,
	}
}

// SetFindTimeout records the timeout.
func (d *Driver) SetFindTimeout(ms int) {
	d.mu.Lock()
	d.findTimeout = ms
	d.mu.Unlock()
}

// Waits returns the per-step wait override of every executed step, 0
// where the step had none.
func (d *Driver) Waits() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.waits...)
}

// FindTimeout returns the last value passed to SetFindTimeout.
func (d *Driver) FindTimeout() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findTimeout
}

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Executed returns the Describe() of every step seen, in order.
func (d *Driver) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.executed...)
}

// needsElement returns true if the step type typically returns element info.
func needsElement(step flow.Step) bool {
	switch step.Type() {
	case flow.StepTapOn, flow.StepInputText, flow.StepEraseText,
		flow.StepAssertVisible, flow.StepAssertEnabled, flow.StepAssertAttribute,
		flow.StepCopyTextFrom:
		return true
	}
	return false
}
