// Package jsengine evaluates the JavaScript used by flows: ${} expansion,
// evalScript, runScript and the conditions of assertTrue, runFlow and repeat.
package jsengine

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/qalab/browserflow/pkg/logger"
)

// DefaultScriptTimeout bounds a single evaluation.
const DefaultScriptTimeout = 30 * time.Second

// Engine is a goja runtime with the flow globals installed: output,
// browser, console, json, http and the timer functions.
// An Engine belongs to one flow execution.
type Engine struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	defined map[string]bool
	output  *goja.Object
	browser BrowserState
	timers  *timers
	client  *http.Client
	logs    []string
	timeout time.Duration
}

// BrowserState is exposed to scripts as the read-only browser object.
type BrowserState struct {
	Name       string
	URL        string
	CopiedText string
}

// New creates an engine with all globals registered.
func New() *Engine {
	e := &Engine{
		vm:      goja.New(),
		defined: make(map[string]bool),
		timers:  newTimers(),
		client:  &http.Client{},
		timeout: DefaultScriptTimeout,
	}
	e.output = e.vm.NewObject()

	e.vm.Set("output", e.output)
	e.vm.Set("browser", e.browserObject())
	e.vm.Set("console", e.consoleObject())
	e.vm.Set("json", e.parseJSON)
	e.vm.Set("http", e.httpModule())
	e.installTimers()
	return e
}

// SetTimeout changes the per-evaluation deadline. Zero disables it.
func (e *Engine) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

func (e *Engine) browserObject() *goja.Object {
	obj := e.vm.NewObject()
	getter := func(get func() string) goja.Value {
		return e.vm.ToValue(func() string { return get() })
	}
	obj.DefineAccessorProperty("name", getter(func() string { return e.browser.Name }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("url", getter(func() string { return e.browser.URL }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("copiedText", getter(func() string { return e.browser.CopiedText }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	return obj
}

func (e *Engine) consoleObject() *goja.Object {
	logTo := func(level string, sink func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			line := strings.Join(parts, " ")
			if level != "" {
				line = level + ": " + line
			}
			e.logs = append(e.logs, line)
			sink("[js] %s", line)
			return goja.Undefined()
		}
	}

	console := e.vm.NewObject()
	console.Set("log", logTo("", logger.Info))
	console.Set("info", logTo("", logger.Info))
	console.Set("warn", logTo("WARN", logger.Warn))
	console.Set("error", logTo("ERROR", logger.Error))
	return console
}

// parseJSON backs json(str), a shorthand for JSON.parse.
func (e *Engine) parseJSON(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 {
		panic(e.vm.NewTypeError("json requires 1 argument"))
	}
	parse, ok := goja.AssertFunction(e.vm.Get("JSON").ToObject(e.vm).Get("parse"))
	if !ok {
		panic(e.vm.NewTypeError("JSON.parse unavailable"))
	}
	v, err := parse(goja.Undefined(), call.Arguments[0])
	if err != nil {
		panic(e.vm.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
	}
	return v
}

// SetVariable defines a global visible to every later evaluation.
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defined[name] = true
	e.vm.Set(name, value)
}

// SetVariables defines several globals at once.
func (e *Engine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// DefineUndefinedIfMissing declares name as undefined so that scripts
// testing for it do not raise a ReferenceError.
func (e *Engine) DefineUndefinedIfMissing(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.defined[name] {
		return
	}
	if v := e.vm.Get(name); v == nil {
		e.vm.Set(name, goja.Undefined())
	}
}

// SetOutput stores a value under output.<key>.
func (e *Engine) SetOutput(key string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.output.Set(key, value)
}

// GetOutput returns a copy of the output object.
func (e *Engine) GetOutput() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]interface{})
	// Scripts may reassign output wholesale; prefer the live global.
	src := e.output
	if v := e.vm.Get("output"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		src = v.ToObject(e.vm)
	}
	for _, k := range src.Keys() {
		out[k] = src.Get(k).Export()
	}
	return out
}

// SetCopiedText records the text captured by copyTextFrom.
func (e *Engine) SetCopiedText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.browser.CopiedText = text
}

// CopiedText returns the text captured by the last copyTextFrom.
func (e *Engine) CopiedText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.browser.CopiedText
}

// SetCurrentURL updates browser.url.
func (e *Engine) SetCurrentURL(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.browser.URL = url
}

// SetBrowserName updates browser.name.
func (e *Engine) SetBrowserName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.browser.Name = name
}

// TakeLogs returns and clears the console lines written since the last call.
func (e *Engine) TakeLogs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	logs := e.logs
	e.logs = nil
	return logs
}

// run evaluates src under the engine lock with the evaluation deadline armed.
func (e *Engine) run(src string) (goja.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() {
			e.vm.Interrupt(fmt.Sprintf("script exceeded %s", e.timeout))
		})
		defer timer.Stop()
	}
	defer e.vm.ClearInterrupt()

	return e.vm.RunString(src)
}

// Eval evaluates an expression and exports the result.
func (e *Engine) Eval(script string) (interface{}, error) {
	v, err := e.run(script)
	if err != nil {
		return nil, fmt.Errorf("js eval: %w", err)
	}
	return v.Export(), nil
}

// EvalString evaluates an expression and formats the result.
// undefined and null become the empty string.
func (e *Engine) EvalString(script string) (string, error) {
	v, err := e.run(script)
	if err != nil {
		return "", fmt.Errorf("js eval: %w", err)
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// EvalBool evaluates a condition with JavaScript truthiness.
func (e *Engine) EvalBool(script string) (bool, error) {
	v, err := e.run(script)
	if err != nil {
		return false, fmt.Errorf("js eval: %w", err)
	}
	return v.ToBoolean(), nil
}

// RunScript executes a script body for its side effects.
func (e *Engine) RunScript(script string) error {
	if _, err := e.run(script); err != nil {
		return fmt.Errorf("js runtime: %w", err)
	}
	return nil
}

// ExpandVariables replaces every ${expr} in text with the value of expr.
// Expressions that fail to evaluate are left in place.
func (e *Engine) ExpandVariables(text string) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var b strings.Builder
	rest := text
	for {
		open := strings.Index(rest, "${")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := matchBrace(rest, open+2)
		if end < 0 {
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:open])
		expr := rest[open+2 : end]
		if value, err := e.EvalString(expr); err == nil {
			b.WriteString(value)
		} else {
			logger.Debug("expand ${%s}: %v", expr, err)
			b.WriteString(rest[open : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String(), nil
}

// matchBrace returns the index of the brace closing the one before start.
func matchBrace(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Close stops pending timers. Safe to call more than once.
func (e *Engine) Close() {
	e.timers.stopAll()
}
