package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
	"github.com/qalab/browserflow/pkg/jsengine"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables.
var envVarPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,})\b`)

// ScriptEngine owns the variables of one flow execution and the JS
// runtime that evaluates ${} expressions and script steps.
type ScriptEngine struct {
	js        *jsengine.Engine
	variables map[string]string
	flowDir   string // resolves relative runFlow and runScript paths
}

// NewScriptEngine creates a new script engine.
func NewScriptEngine() *ScriptEngine {
	return &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
}

// Close stops timers started by scripts.
func (se *ScriptEngine) Close() {
	se.js.Close()
}

// SetFlowDir sets the directory relative paths are resolved against.
func (se *ScriptEngine) SetFlowDir(dir string) {
	se.flowDir = dir
}

// SetVariable sets a variable for both ${} and $VAR expansion.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// Variable returns a variable value.
func (se *ScriptEngine) Variable(name string) string {
	return se.variables[name]
}

// ImportSystemEnv makes upper-case process environment variables
// (BASE_URL, TEST_PASSWORD, ...) available to flows.
func (se *ScriptEngine) ImportSystemEnv() {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if ok && envVarPattern.MatchString(name) && envVarPattern.FindString(name) == name {
			se.SetVariable(name, value)
		}
	}
}

// SetBrowser publishes browser.name to scripts.
func (se *ScriptEngine) SetBrowser(name string) {
	se.js.SetBrowserName(name)
}

// SetCurrentURL publishes browser.url to scripts.
func (se *ScriptEngine) SetCurrentURL(url string) {
	se.js.SetCurrentURL(url)
}

// SetCopiedText stores the text captured by copyTextFrom.
func (se *ScriptEngine) SetCopiedText(text string) {
	se.js.SetCopiedText(text)
}

// CopiedText returns the text captured by the last copyTextFrom.
func (se *ScriptEngine) CopiedText() string {
	return se.js.CopiedText()
}

// SetOutput stores a value under output.<key>.
func (se *ScriptEngine) SetOutput(key string, value interface{}) {
	se.js.SetOutput(key, value)
}

// Output returns the values scripts stored on the output object.
func (se *ScriptEngine) Output() map[string]interface{} {
	return se.js.GetOutput()
}

// syncOutput copies the output object into plain variables so later
// steps can use $name as well as ${output.name}.
func (se *ScriptEngine) syncOutput() {
	for k, v := range se.js.GetOutput() {
		se.variables[k] = fmt.Sprint(v)
	}
}

// takeLogs returns the console lines printed since the last call, joined.
func (se *ScriptEngine) takeLogs() string {
	return strings.Join(se.js.TakeLogs(), "\n")
}

// ExpandVariables expands ${expr} through the JS engine, then $VAR.
func (se *ScriptEngine) ExpandVariables(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	if expanded, err := se.js.ExpandVariables(text); err == nil {
		text = expanded
	}
	return se.expandDollarVars(text)
}

// expandDollarVars expands $VAR, longest names first so $EMAIL_2 wins over $EMAIL.
func (se *ScriptEngine) expandDollarVars(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}
	return text
}

// expandDollarVar replaces $name with value when not followed by an identifier character.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	var b strings.Builder
	for {
		pos := strings.Index(text, pattern)
		if pos < 0 {
			b.WriteString(text)
			return b.String()
		}
		end := pos + len(pattern)
		if end < len(text) && isIdentChar(text[end]) {
			b.WriteString(text[:end])
		} else {
			b.WriteString(text[:pos])
			b.WriteString(value)
		}
		text = text[end:]
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// predeclare defines ALL_CAPS names referenced by script as undefined so
// an unset variable is falsy instead of a ReferenceError.
func (se *ScriptEngine) predeclare(script string) {
	for _, name := range envVarPattern.FindAllString(script, -1) {
		se.js.DefineUndefinedIfMissing(name)
	}
}

// RunScript executes script with env applied for its duration.
func (se *ScriptEngine) RunScript(script string, env map[string]string) error {
	defer se.withEnvVars(env)()

	se.predeclare(script)
	if err := se.js.RunScript(script); err != nil {
		return err
	}
	se.syncOutput()
	return nil
}

// EvalCondition evaluates script with JavaScript truthiness. A ${...}
// wrapper is accepted and stripped.
func (se *ScriptEngine) EvalCondition(script string) (bool, error) {
	script = se.expandDollarVars(extractJS(script))
	se.predeclare(script)
	return se.js.EvalBool(script)
}

// extractJS strips a single ${...} wrapper.
func extractJS(script string) string {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		return script[2 : len(script)-1]
	}
	return script
}

// ResolvePath resolves a relative path against the flow directory.
func (se *ScriptEngine) ResolvePath(path string) string {
	if filepath.IsAbs(path) || se.flowDir == "" {
		return path
	}
	return filepath.Join(se.flowDir, path)
}

// ExecuteDefineVariables handles defineVariables.
func (se *ScriptEngine) ExecuteDefineVariables(step *flow.DefineVariablesStep) *core.CommandResult {
	start := time.Now()
	for k, v := range step.Env {
		se.SetVariable(k, se.ExpandVariables(v))
	}
	return core.Success(fmt.Sprintf("Defined %d variable(s)", len(step.Env)), start)
}

// ExecuteRunScript runs a .js file relative to the flow.
func (se *ScriptEngine) ExecuteRunScript(step *flow.RunScriptStep) *core.CommandResult {
	start := time.Now()
	path := se.ResolvePath(step.File)
	content, err := os.ReadFile(path) //#nosec G304 -- script referenced by the flow
	if err != nil {
		return core.Failure(core.ErrScript.WithMessagef("cannot read script %s", path).WithCause(err), "", start)
	}

	if err := se.RunScript(string(content), step.Env); err != nil {
		return core.Failure(core.ErrScript.WithMessagef("script %s failed", filepath.Base(path)).WithCause(err), "", start)
	}
	res := core.Success("Script executed", start)
	res.Data = se.takeLogs()
	return res
}

// ExecuteEvalScript evaluates an inline script.
func (se *ScriptEngine) ExecuteEvalScript(step *flow.EvalScriptStep) *core.CommandResult {
	start := time.Now()
	script := extractJS(step.Script)
	se.predeclare(script)

	value, err := se.js.EvalString(script)
	if err != nil {
		return core.Failure(core.ErrScript.WithMessage("evalScript failed").WithCause(err), "", start)
	}
	se.syncOutput()

	res := core.Success("Eval completed", start)
	if logs := se.takeLogs(); logs != "" {
		res.Data = logs
	} else if value != "" {
		res.Data = value
	}
	return res
}

// ExecuteAssertTrue checks a JS condition.
func (se *ScriptEngine) ExecuteAssertTrue(step *flow.AssertTrueStep) *core.CommandResult {
	start := time.Now()
	ok, err := se.EvalCondition(step.Script)
	if err != nil {
		return core.Failure(core.ErrScript.WithMessagef("assertTrue: cannot evaluate %s", step.Script).WithCause(err), "", start)
	}
	if !ok {
		return core.Failure(core.ErrConditionNotMet.WithMessagef("assertTrue failed: %s", step.Script), "", start)
	}
	return core.Success("Assertion passed", start)
}

// CheckCondition reports whether every part of cond holds. Element
// checks go through the driver with the usual find timeout.
func (se *ScriptEngine) CheckCondition(cond flow.Condition, driver core.Driver) bool {
	if cond.Visible != nil {
		step := &flow.AssertVisibleStep{BaseStep: flow.BaseStep{StepType: flow.StepAssertVisible}, Selector: se.expandSelector(*cond.Visible)}
		if !driver.Execute(step).Success {
			return false
		}
	}
	if cond.NotVisible != nil {
		step := &flow.AssertNotVisibleStep{BaseStep: flow.BaseStep{StepType: flow.StepAssertNotVisible}, Selector: se.expandSelector(*cond.NotVisible)}
		if !driver.Execute(step).Success {
			return false
		}
	}
	if cond.Script != "" {
		ok, err := se.EvalCondition(cond.Script)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// withEnvVars applies env and returns a func restoring the previous values.
func (se *ScriptEngine) withEnvVars(env map[string]string) func() {
	if len(env) == 0 {
		return func() {}
	}
	old := make(map[string]string, len(env))
	for k, v := range env {
		old[k] = se.Variable(k)
		se.SetVariable(k, se.ExpandVariables(v))
	}
	return func() {
		for k, v := range old {
			se.SetVariable(k, v)
		}
	}
}

// ParseInt parses an integer after variable expansion. 10_000 is accepted.
func (se *ScriptEngine) ParseInt(s string, defaultVal int) int {
	s = strings.ReplaceAll(strings.TrimSpace(se.ExpandVariables(s)), "_", "")
	if val, err := strconv.Atoi(s); err == nil {
		return val
	}
	return defaultVal
}

// ExpandStep returns a copy of step with variables expanded in its
// string fields. The original is untouched so repeat iterations and
// flow retries see the raw ${} expressions again.
func (se *ScriptEngine) ExpandStep(step flow.Step) flow.Step {
	switch s := step.(type) {
	case *flow.OpenLinkStep:
		c := *s
		c.Link = se.ExpandVariables(s.Link)
		return &c
	case *flow.TapOnStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.InputTextStep:
		c := *s
		c.Text = se.ExpandVariables(s.Text)
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.InputRandomEmailStep:
		c := *s
		c.Prefix = se.ExpandVariables(s.Prefix)
		c.Domain = se.ExpandVariables(s.Domain)
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.EraseTextStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.PressKeyStep:
		c := *s
		c.Key = se.ExpandVariables(s.Key)
		return &c
	case *flow.CopyTextFromStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.AssertVisibleStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.AssertNotVisibleStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.AssertEnabledStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		return &c
	case *flow.AssertAttributeStep:
		c := *s
		c.Selector = se.expandSelector(s.Selector)
		c.Contains = se.ExpandVariables(s.Contains)
		if s.Equals != nil {
			eq := se.ExpandVariables(*s.Equals)
			c.Equals = &eq
		}
		return &c
	case *flow.AssertPageContainsStep:
		c := *s
		c.Text = se.ExpandVariables(s.Text)
		return &c
	case *flow.AssertTitleStep:
		c := *s
		c.Match = se.expandMatch(s.Match)
		return &c
	case *flow.AssertURLStep:
		c := *s
		c.Match = se.expandMatch(s.Match)
		return &c
	case *flow.WaitForURLStep:
		c := *s
		c.Match = se.expandMatch(s.Match)
		return &c
	case *flow.TakeScreenshotStep:
		c := *s
		c.Path = se.ExpandVariables(s.Path)
		return &c
	}
	return step
}

func (se *ScriptEngine) expandSelector(sel flow.Selector) flow.Selector {
	sel.Text = se.ExpandVariables(sel.Text)
	sel.ID = se.ExpandVariables(sel.ID)
	sel.CSS = se.ExpandVariables(sel.CSS)
	sel.Name = se.ExpandVariables(sel.Name)
	sel.XPath = se.ExpandVariables(sel.XPath)
	sel.LinkText = se.ExpandVariables(sel.LinkText)
	sel.PartialLinkText = se.ExpandVariables(sel.PartialLinkText)
	sel.Placeholder = se.ExpandVariables(sel.Placeholder)
	sel.Index = se.ExpandVariables(sel.Index)
	return sel
}

func (se *ScriptEngine) expandMatch(m flow.TextMatch) flow.TextMatch {
	m.Equals = se.ExpandVariables(m.Equals)
	m.Contains = se.ExpandVariables(m.Contains)
	m.NotContains = se.ExpandVariables(m.NotContains)
	m.NotEquals = se.ExpandVariables(m.NotEquals)
	m.Matches = se.ExpandVariables(m.Matches)
	return m
}
