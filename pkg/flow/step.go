package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// Navigation
	StepOpenLink       StepType = "openLink"
	StepBack           StepType = "back"
	StepRefresh        StepType = "refresh"
	StepMaximizeWindow StepType = "maximizeWindow"

	// Interaction
	StepTapOn            StepType = "tapOn"
	StepInputText        StepType = "inputText"
	StepInputRandomEmail StepType = "inputRandomEmail"
	StepEraseText        StepType = "eraseText"
	StepPressKey         StepType = "pressKey"
	StepCopyTextFrom     StepType = "copyTextFrom"

	// Assertions
	StepAssertVisible      StepType = "assertVisible"
	StepAssertNotVisible   StepType = "assertNotVisible"
	StepAssertEnabled      StepType = "assertEnabled"
	StepAssertAttribute    StepType = "assertAttribute"
	StepAssertPageContains StepType = "assertPageContains"
	StepAssertTitle        StepType = "assertTitle"
	StepAssertURL          StepType = "assertUrl"
	StepAssertTrue         StepType = "assertTrue"

	// Waits
	StepWaitForURL StepType = "waitForUrl"
	StepWait       StepType = "wait"

	// Flow Control
	StepRepeat     StepType = "repeat"
	StepRetry      StepType = "retry"
	StepRunFlow    StepType = "runFlow"
	StepRunScript  StepType = "runScript"
	StepEvalScript StepType = "evalScript"

	// Other
	StepTakeScreenshot  StepType = "takeScreenshot"
	StepDefineVariables StepType = "defineVariables"
)

// Step is the interface for all flow steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"` // Element wait override
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// Timeout returns the per-step wait override in ms, 0 when unset.
func (b *BaseStep) Timeout() int { return b.TimeoutMs }

// SetTimeout sets the per-step wait override in ms.
func (b *BaseStep) SetTimeout(ms int) { b.TimeoutMs = ms }

// ============================================
// Navigation Steps
// ============================================

// OpenLinkStep navigates to a URL.
type OpenLinkStep struct {
	BaseStep `yaml:",inline"`
	Link     string `yaml:"link"`
}

// BackStep navigates back in history.
type BackStep struct {
	BaseStep `yaml:",inline"`
}

// RefreshStep reloads the current page.
type RefreshStep struct {
	BaseStep `yaml:",inline"`
}

// MaximizeWindowStep maximizes the browser window.
type MaximizeWindowStep struct {
	BaseStep `yaml:",inline"`
}

// ============================================
// Interaction Steps
// ============================================

// TapOnStep clicks an element.
type TapOnStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// InputTextStep types text, into Selector when set or the focused element otherwise.
// The text key is the input, never a selector.
type InputTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string   `yaml:"text"`
	Selector Selector `yaml:",inline"`
}

// InputRandomEmailStep types a unique address <prefix><unix-ts>@<domain>.
type InputRandomEmailStep struct {
	BaseStep `yaml:",inline"`
	Prefix   string   `yaml:"prefix"`
	Domain   string   `yaml:"domain"`
	Selector Selector `yaml:",inline"`
}

// EraseTextStep clears a form field.
type EraseTextStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// PressKeyStep sends a named key to the active element.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
}

// CopyTextFromStep copies element text into browser.copiedText.
type CopyTextFromStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// ============================================
// Assertion Steps
// ============================================

// AssertVisibleStep asserts element is visible.
type AssertVisibleStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// AssertNotVisibleStep asserts element is absent or hidden.
type AssertNotVisibleStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// AssertEnabledStep asserts element is enabled.
type AssertEnabledStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// AssertAttributeStep checks an element attribute or property.
type AssertAttributeStep struct {
	BaseStep  `yaml:",inline"`
	Attribute string   `yaml:"attribute"`
	Equals    *string  `yaml:"equals"`
	Contains  string   `yaml:"contains"`
	Selector  Selector `yaml:",inline"`
}

// AssertPageContainsStep asserts the page source contains Text.
type AssertPageContainsStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// TextMatch describes a string expectation.
type TextMatch struct {
	Equals      string `yaml:"equals"`
	Contains    string `yaml:"contains"`
	NotContains string `yaml:"notContains"`
	NotEquals   string `yaml:"notEquals"`
	Matches     string `yaml:"matches"` // Regular expression
}

// IsEmpty reports whether no expectation is set.
func (m TextMatch) IsEmpty() bool {
	return m.Equals == "" && m.Contains == "" && m.NotContains == "" &&
		m.NotEquals == "" && m.Matches == ""
}

// Describe renders the first expectation set.
func (m TextMatch) Describe() string {
	switch {
	case m.Equals != "":
		return "== " + strconv.Quote(m.Equals)
	case m.Contains != "":
		return "contains " + strconv.Quote(m.Contains)
	case m.NotContains != "":
		return "not contains " + strconv.Quote(m.NotContains)
	case m.NotEquals != "":
		return "!= " + strconv.Quote(m.NotEquals)
	case m.Matches != "":
		return "matches /" + m.Matches + "/"
	default:
		return ""
	}
}

// Holds reports whether actual satisfies every expectation set.
func (m TextMatch) Holds(actual string) (bool, error) {
	if m.Equals != "" && actual != m.Equals {
		return false, nil
	}
	if m.Contains != "" && !strings.Contains(actual, m.Contains) {
		return false, nil
	}
	if m.NotContains != "" && strings.Contains(actual, m.NotContains) {
		return false, nil
	}
	if m.NotEquals != "" && actual == m.NotEquals {
		return false, nil
	}
	if m.Matches != "" {
		re, err := regexp.Compile(m.Matches)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", m.Matches, err)
		}
		if !re.MatchString(actual) {
			return false, nil
		}
	}
	return true, nil
}

// AssertTitleStep checks the document title.
type AssertTitleStep struct {
	BaseStep `yaml:",inline"`
	Match    TextMatch `yaml:",inline"`
}

// AssertURLStep checks the current URL.
type AssertURLStep struct {
	BaseStep `yaml:",inline"`
	Match    TextMatch `yaml:",inline"`
}

// AssertTrueStep asserts a script condition is true.
type AssertTrueStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"condition"`
}

// Condition represents a test condition.
type Condition struct {
	Visible    *Selector `yaml:"visible"`
	NotVisible *Selector `yaml:"notVisible"`
	Script     string    `yaml:"script"`
}

// ============================================
// Wait Steps
// ============================================

// WaitForURLStep polls the current URL until Match holds.
type WaitForURLStep struct {
	BaseStep `yaml:",inline"`
	Match    TextMatch `yaml:",inline"`
}

// WaitStep sleeps for a fixed time.
type WaitStep struct {
	BaseStep `yaml:",inline"`
	Ms       int `yaml:"ms"`
}

// ============================================
// Flow Control Steps
// ============================================

// RepeatStep repeats steps.
type RepeatStep struct {
	BaseStep `yaml:",inline"`
	Times    string    `yaml:"times"` // String for variable support
	While    Condition `yaml:"while"`
	Steps    []Step    `yaml:"-"`
}

// RetryStep retries steps on failure.
type RetryStep struct {
	BaseStep   `yaml:",inline"`
	MaxRetries string            `yaml:"maxRetries"` // String for variable support
	Steps      []Step            `yaml:"-"`
	File       string            `yaml:"file"`
	Env        map[string]string `yaml:"env"`
}

// RunFlowStep runs another flow.
type RunFlowStep struct {
	BaseStep `yaml:",inline"`
	File     string            `yaml:"file"`
	Steps    []Step            `yaml:"-"` // Inline steps
	When     *Condition        `yaml:"when"`
	Env      map[string]string `yaml:"env"`
}

// RunScriptStep runs a script file.
type RunScriptStep struct {
	BaseStep `yaml:",inline"`
	File     string            `yaml:"file"`
	Env      map[string]string `yaml:"env"`
}

// EvalScriptStep evaluates inline JavaScript.
type EvalScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// ============================================
// Other Steps
// ============================================

// TakeScreenshotStep saves a PNG under the flow's artifact directory.
type TakeScreenshotStep struct {
	BaseStep `yaml:",inline"`
	Path     string `yaml:"path"`
}

// DefineVariablesStep defines variables.
type DefineVariablesStep struct {
	BaseStep `yaml:",inline"`
	Env      map[string]string `yaml:"env"`
}

// ============================================
// Describe() implementations for detailed output
// ============================================

// Describe returns a human-readable description of the open link step.
func (s *OpenLinkStep) Describe() string { return "openLink: " + s.Link }

// Describe returns a human-readable description of the tap step.
func (s *TapOnStep) Describe() string { return "tapOn: " + s.Selector.DescribeQuoted() }

// Describe returns a human-readable description of the input text step.
func (s *InputTextStep) Describe() string {
	if s.Selector.IsEmpty() {
		return "inputText: " + strconv.Quote(s.Text)
	}
	return "inputText: " + strconv.Quote(s.Text) + " into " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the random email step.
func (s *InputRandomEmailStep) Describe() string {
	return "inputRandomEmail into " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the erase step.
func (s *EraseTextStep) Describe() string { return "eraseText: " + s.Selector.DescribeQuoted() }

// Describe returns a human-readable description of the press key step.
func (s *PressKeyStep) Describe() string { return "pressKey: " + s.Key }

// Describe returns a human-readable description of the copy text step.
func (s *CopyTextFromStep) Describe() string {
	return "copyTextFrom: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the assert visible step.
func (s *AssertVisibleStep) Describe() string {
	return "assertVisible: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the assert not visible step.
func (s *AssertNotVisibleStep) Describe() string {
	return "assertNotVisible: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the assert enabled step.
func (s *AssertEnabledStep) Describe() string {
	return "assertEnabled: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the assert attribute step.
func (s *AssertAttributeStep) Describe() string {
	d := "assertAttribute: " + s.Selector.DescribeQuoted() + " " + s.Attribute
	if s.Equals != nil {
		return d + " == " + strconv.Quote(*s.Equals)
	}
	return d + " contains " + strconv.Quote(s.Contains)
}

// Describe returns a human-readable description of the page contains step.
func (s *AssertPageContainsStep) Describe() string {
	return "assertPageContains: " + strconv.Quote(s.Text)
}

// Describe returns a human-readable description of the title step.
func (s *AssertTitleStep) Describe() string { return "assertTitle " + s.Match.Describe() }

// Describe returns a human-readable description of the url step.
func (s *AssertURLStep) Describe() string { return "assertUrl " + s.Match.Describe() }

// Describe returns a human-readable description of the wait for url step.
func (s *WaitForURLStep) Describe() string { return "waitForUrl " + s.Match.Describe() }

// Describe returns a human-readable description of the wait step.
func (s *WaitStep) Describe() string { return "wait: " + strconv.Itoa(s.Ms) + "ms" }

// Describe returns a human-readable description of the run flow step.
func (s *RunFlowStep) Describe() string {
	if s.File != "" {
		return "runFlow: " + s.File
	}
	return "runFlow"
}

// Describe returns a human-readable description of the screenshot step.
func (s *TakeScreenshotStep) Describe() string { return "takeScreenshot: " + s.Path }
