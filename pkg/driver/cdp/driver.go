// Package cdp implements core.Driver on the Chrome DevTools Protocol via
// chromedp, so local Chrome runs need no WebDriver binary.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
	"github.com/qalab/browserflow/pkg/logger"
)

// DefaultFindTimeout is the default timeout for element operations.
const DefaultFindTimeout = core.DefaultFindTimeout

const pollInterval = 200 * time.Millisecond

var keys = map[string]string{
	"enter":     kb.Enter,
	"return":    kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"space":     " ",
	"arrowup":   kb.ArrowUp,
	"arrowdown": kb.ArrowDown,
}

// Options configures the Chrome process.
type Options struct {
	Headless     bool
	Binary       string // Chrome or Brave executable; empty lets chromedp find Chrome
	Browser      string // Reported in BrowserInfo; defaults to chrome
	WindowWidth  int
	WindowHeight int
	Args         []string // Extra switches, "--name=value" or "--name"
}

// Driver implements core.Driver on a chromedp browser context.
type Driver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	info        core.BrowserInfo
	findTimeout time.Duration
}

// AllocatorOptions renders the exec allocator flags for opts.
func AllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if opts.Binary != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.Binary))
	}
	w, h := opts.WindowWidth, opts.WindowHeight
	if w == 0 || h == 0 {
		w, h = 1920, 1080
	}
	allocOpts = append(allocOpts, chromedp.WindowSize(w, h))
	for _, arg := range opts.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if hasValue {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		}
	}
	return allocOpts
}

// Launch starts Chrome and opens a tab.
func Launch(ctx context.Context, opts Options) (*Driver, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(opts)...)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) { logger.Debug(format, args...) }),
		chromedp.WithErrorf(func(format string, args ...interface{}) { logger.Warn(format, args...) }),
	)

	// First Run starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, core.ErrServerUnreachable.WithCause(err).WithMessage("failed to start chrome")
	}

	browser := opts.Browser
	if browser == "" {
		browser = "chrome"
	}
	return &Driver{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		info: core.BrowserInfo{
			Browser:  browser,
			Driver:   "cdp",
			Headless: opts.Headless,
		},
	}, nil
}

// Close shuts the browser down.
func (d *Driver) Close() error {
	d.cancel()
	d.allocCancel()
	return nil
}

// Execute implements core.Driver.
func (d *Driver) Execute(step flow.Step) *core.CommandResult {
	start := time.Now()
	result := d.executeStep(step)
	result.Duration = time.Since(start)
	return result
}

func (d *Driver) executeStep(step flow.Step) *core.CommandResult {
	switch s := step.(type) {
	case *flow.OpenLinkStep:
		return d.navigate(chromedp.Navigate(s.Link), "Opened "+s.Link)
	case *flow.BackStep:
		return d.navigate(chromedp.NavigateBack(), "Navigated back")
	case *flow.RefreshStep:
		return d.navigate(chromedp.Reload(), "Page refreshed")
	case *flow.MaximizeWindowStep:
		return successResult("Window size is fixed at launch", nil)
	case *flow.TapOnStep:
		return d.tapOn(s)
	case *flow.InputTextStep:
		return d.typeInto(s.Selector, s.Text, s.TimeoutMs, nil)
	case *flow.InputRandomEmailStep:
		email := fmt.Sprintf("%s%d@%s", orDefault(s.Prefix, "user"), time.Now().Unix(), orDefault(s.Domain, "example.com"))
		return d.typeInto(s.Selector, email, s.TimeoutMs, email)
	case *flow.EraseTextStep:
		return d.onElement(s.Selector, s.TimeoutMs, "Cleared", func(q query, opt chromedp.QueryOption) chromedp.Action {
			return chromedp.Clear(q.expr, opt)
		})
	case *flow.PressKeyStep:
		return d.pressKey(s)
	case *flow.CopyTextFromStep:
		return d.copyTextFrom(s)
	case *flow.AssertVisibleStep:
		return d.onElement(s.Selector, s.TimeoutMs, "Visible", func(q query, opt chromedp.QueryOption) chromedp.Action {
			return chromedp.WaitVisible(q.expr, opt)
		})
	case *flow.AssertNotVisibleStep:
		return d.assertNotVisible(s)
	case *flow.AssertEnabledStep:
		return d.onElement(s.Selector, s.TimeoutMs, "Enabled", func(q query, opt chromedp.QueryOption) chromedp.Action {
			return chromedp.WaitEnabled(q.expr, opt)
		})
	case *flow.AssertAttributeStep:
		return d.assertAttribute(s)
	case *flow.AssertPageContainsStep:
		return d.assertPageContains(s)
	case *flow.AssertTitleStep:
		return d.pollMatch("title", s.Match, s.TimeoutMs, core.ErrTextMismatch, func(ctx context.Context) (string, error) {
			var title string
			return title, chromedp.Run(ctx, chromedp.Title(&title))
		})
	case *flow.AssertURLStep:
		return d.pollMatch("url", s.Match, s.TimeoutMs, core.ErrTextMismatch, d.location)
	case *flow.WaitForURLStep:
		return d.pollMatch("url", s.Match, s.TimeoutMs, core.ErrWaitTimeout, d.location)
	default:
		return errorResult(core.ErrUnsupportedStep.WithMessagef("unsupported step type: %s", step.Type()), "")
	}
}

// Screenshot implements core.Driver.
func (d *Driver) Screenshot() ([]byte, error) {
	var buf []byte
	err := chromedp.Run(d.ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// PageSource implements core.Driver.
func (d *Driver) PageSource() (string, error) {
	var html string
	err := chromedp.Run(d.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// CurrentURL implements core.Driver.
func (d *Driver) CurrentURL() (string, error) {
	return d.location(d.ctx)
}

// BrowserInfo implements core.Driver.
func (d *Driver) BrowserInfo() *core.BrowserInfo {
	info := d.info
	return &info
}

// SetFindTimeout implements core.Driver.
func (d *Driver) SetFindTimeout(ms int) {
	d.findTimeout = time.Duration(ms) * time.Millisecond
}

func (d *Driver) timeoutFor(stepMs int) time.Duration {
	if stepMs > 0 {
		return time.Duration(stepMs) * time.Millisecond
	}
	if d.findTimeout > 0 {
		return d.findTimeout
	}
	return DefaultFindTimeout
}

func (d *Driver) location(ctx context.Context) (string, error) {
	var url string
	return url, chromedp.Run(ctx, chromedp.Location(&url))
}

func (d *Driver) navigate(action chromedp.Action, msg string) *core.CommandResult {
	if err := chromedp.Run(d.ctx, action); err != nil {
		return errorResult(core.ErrNavigation.WithCause(err), "")
	}
	return successResult(msg, nil)
}

// onElement runs a single-element action under the step's find timeout.
func (d *Driver) onElement(sel flow.Selector, timeoutMs int, verb string, build func(query, chromedp.QueryOption) chromedp.Action) *core.CommandResult {
	q, err := buildQuery(sel)
	if err != nil {
		return errorResult(err, "")
	}
	ctx, cancel := context.WithTimeout(d.ctx, d.timeoutFor(timeoutMs))
	defer cancel()

	if err := chromedp.Run(ctx, build(q, chromedp.BySearch)); err != nil {
		return errorResult(elementError(err, sel), "")
	}
	return successResult(fmt.Sprintf("%s %s", verb, sel.Describe()), nil)
}

func (d *Driver) tapOn(step *flow.TapOnStep) *core.CommandResult {
	return d.onElement(step.Selector, step.TimeoutMs, "Clicked", func(q query, opt chromedp.QueryOption) chromedp.Action {
		return chromedp.Tasks{
			chromedp.WaitVisible(q.expr, opt),
			chromedp.Click(q.expr, opt, chromedp.NodeVisible),
		}
	})
}

func (d *Driver) typeInto(sel flow.Selector, text string, timeoutMs int, data interface{}) *core.CommandResult {
	var result *core.CommandResult
	if sel.IsEmpty() {
		if err := chromedp.Run(d.ctx, chromedp.KeyEvent(text)); err != nil {
			return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to input text")
		}
		result = successResult("Entered text: "+text, nil)
	} else {
		result = d.onElement(sel, timeoutMs, "Typed into", func(q query, opt chromedp.QueryOption) chromedp.Action {
			return chromedp.Tasks{
				chromedp.WaitVisible(q.expr, opt),
				chromedp.Click(q.expr, opt, chromedp.NodeVisible),
				chromedp.SendKeys(q.expr, text, opt),
			}
		})
	}
	if result.Success {
		result.Data = data
	}
	return result
}

func (d *Driver) pressKey(step *flow.PressKeyStep) *core.CommandResult {
	key, ok := keys[strings.ToLower(step.Key)]
	if !ok {
		return errorResult(core.ErrInvalidConfig.WithMessagef("unknown key: %s", step.Key), "")
	}
	if err := chromedp.Run(d.ctx, chromedp.KeyEvent(key)); err != nil {
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to press "+step.Key)
	}
	return successResult("Pressed "+step.Key, nil)
}

func (d *Driver) copyTextFrom(step *flow.CopyTextFromStep) *core.CommandResult {
	var text, value string
	result := d.onElement(step.Selector, step.TimeoutMs, "Copied from", func(q query, opt chromedp.QueryOption) chromedp.Action {
		return chromedp.Tasks{
			chromedp.Text(q.expr, &text, opt),
			chromedp.Value(q.expr, &value, opt),
		}
	})
	if !result.Success {
		return result
	}
	if strings.TrimSpace(text) == "" {
		text = value
	}
	result.Message = "Copied text: " + text
	result.Data = text
	return result
}

func (d *Driver) assertNotVisible(step *flow.AssertNotVisibleStep) *core.CommandResult {
	q, err := buildQuery(step.Selector)
	if err != nil {
		return errorResult(err, "")
	}
	deadline := time.Now().Add(d.timeoutFor(step.TimeoutMs))
	for {
		var count int
		if err := chromedp.Run(d.ctx, chromedp.Evaluate(q.visibleCountJS(), &count)); err == nil && count == 0 {
			return successResult("Element is not visible", nil)
		}
		if time.Now().After(deadline) {
			return errorResult(core.ErrElementStillVisible.WithMessagef("element is still visible: %s", step.Selector.Describe()), "")
		}
		time.Sleep(pollInterval)
	}
}

func (d *Driver) assertAttribute(step *flow.AssertAttributeStep) *core.CommandResult {
	var value string
	var ok bool
	result := d.onElement(step.Selector, step.TimeoutMs, "Read", func(q query, opt chromedp.QueryOption) chromedp.Action {
		return chromedp.AttributeValue(q.expr, step.Attribute, &value, &ok, opt)
	})
	if !result.Success {
		return result
	}
	if step.Equals != nil && value != *step.Equals {
		return errorResult(core.ErrTextMismatch.WithMessagef("attribute %s is %q, expected %q", step.Attribute, value, *step.Equals), "")
	}
	if step.Contains != "" && !strings.Contains(value, step.Contains) {
		return errorResult(core.ErrTextMismatch.WithMessagef("attribute %s is %q, expected it to contain %q", step.Attribute, value, step.Contains), "")
	}
	return successResult(fmt.Sprintf("%s=%q", step.Attribute, value), &core.ElementInfo{Attributes: map[string]string{step.Attribute: value}})
}

func (d *Driver) assertPageContains(step *flow.AssertPageContainsStep) *core.CommandResult {
	deadline := time.Now().Add(d.timeoutFor(step.TimeoutMs))
	for {
		src, err := d.PageSource()
		if err == nil && strings.Contains(src, step.Text) {
			return successResult("Page contains "+step.Text, nil)
		}
		if time.Now().After(deadline) {
			return errorResult(core.ErrTextMismatch.WithMessagef("page does not contain %q", step.Text), "")
		}
		time.Sleep(pollInterval)
	}
}

func (d *Driver) pollMatch(what string, match flow.TextMatch, timeoutMs int, failure *core.ExecutionError, read func(context.Context) (string, error)) *core.CommandResult {
	deadline := time.Now().Add(d.timeoutFor(timeoutMs))
	var actual string
	for {
		if v, err := read(d.ctx); err == nil {
			actual = v
			ok, mErr := match.Holds(actual)
			if mErr != nil {
				return errorResult(core.ErrInvalidConfig.WithCause(mErr), "")
			}
			if ok {
				result := successResult(fmt.Sprintf("%s %s", what, match.Describe()), nil)
				result.Data = actual
				return result
			}
		}
		if time.Now().After(deadline) {
			return errorResult(failure.
				WithMessagef("%s %q does not satisfy %s", what, actual, match.Describe()).
				WithDetails(map[string]interface{}{"actual": actual}), "")
		}
		time.Sleep(pollInterval)
	}
}

// elementError maps a chromedp failure to an execution error.
func elementError(err error, sel flow.Selector) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrElementNotFound.WithCause(err).WithMessagef("element not found: %s", sel.Describe())
	}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return core.ErrCommandFailed.WithCause(err)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func successResult(msg string, elem *core.ElementInfo) *core.CommandResult {
	return &core.CommandResult{Success: true, Message: msg, Element: elem}
}

func errorResult(err error, msg string) *core.CommandResult {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &core.CommandResult{Success: false, Error: err, Message: msg}
}
