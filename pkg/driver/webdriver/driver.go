package webdriver

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
	"github.com/qalab/browserflow/pkg/logger"
)

// DefaultFindTimeout is the default timeout for element operations.
const DefaultFindTimeout = core.DefaultFindTimeout

// findPollInterval is how often element lookups are retried.
const findPollInterval = 200 * time.Millisecond

// DefaultPageLoadTimeout bounds openLink, back and refresh.
const DefaultPageLoadTimeout = 30 * time.Second

// LaunchOptions configures Launch.
type LaunchOptions struct {
	Browser         BrowserOptions
	RemoteURL       string    // Selenium Grid or an already running driver; skips the local service
	DriversDir      string    // Searched for the driver binary before $PATH
	PageLoadTimeout time.Duration
	LogWriter       io.Writer // Driver process output; defaults to the logger's writer
}

// Driver implements core.Driver over a W3C WebDriver session.
type Driver struct {
	client      *Client
	service     *Service // nil when connected to a remote end
	info        core.BrowserInfo
	findTimeout time.Duration // configurable timeout for finding elements
}

// Launch starts a local driver service (unless RemoteURL is set) and opens
// a browser session on it.
func Launch(ctx context.Context, opts LaunchOptions) (*Driver, error) {
	browser, err := opts.Browser.Normalize()
	if err != nil {
		return nil, err
	}

	serverURL := opts.RemoteURL
	var svc *Service
	if serverURL == "" {
		name := DriverBinary(browser.Browser)
		var dirs []string
		if opts.DriversDir != "" {
			dirs = append(dirs, opts.DriversDir)
		}
		binary, err := FindDriverBinary(name, dirs...)
		if err != nil {
			return nil, core.ErrServerUnreachable.WithCause(err).WithMessagef("%s is not installed", name)
		}
		logw := opts.LogWriter
		if logw == nil {
			logw = logger.GetWriter()
		}
		svc, err = StartService(ctx, binary, logw)
		if err != nil {
			return nil, core.ErrServerUnreachable.WithCause(err)
		}
		serverURL = svc.URL()
		logger.Info("started %s at %s", name, serverURL)
	}

	d, err := NewDriver(ctx, serverURL, browser)
	if err != nil {
		svc.Stop()
		return nil, err
	}
	d.service = svc

	pageLoad := opts.PageLoadTimeout
	if pageLoad <= 0 {
		pageLoad = DefaultPageLoadTimeout
	}
	if err := d.client.SetTimeouts(0, pageLoad, 0); err != nil {
		logger.Warn("failed to set page load timeout: %v", err)
	}
	return d, nil
}

// NewDriver opens a session on an already running WebDriver remote end.
func NewDriver(ctx context.Context, serverURL string, browser BrowserOptions) (*Driver, error) {
	browser, err := browser.Normalize()
	if err != nil {
		return nil, err
	}

	client := NewClient(serverURL)
	session, err := client.NewSession(ctx, browser.Capabilities())
	if err != nil {
		return nil, core.ErrServerUnreachable.WithCause(err).WithMessage("failed to start browser session")
	}
	logger.Info("session %s: %s %s", session.ID, session.BrowserName, session.BrowserVersion)

	return &Driver{
		client: client,
		info: core.BrowserInfo{
			Browser:        browser.Browser,
			BrowserVersion: session.BrowserVersion,
			Driver:         "webdriver",
			SessionID:      session.ID,
			Headless:       browser.Headless,
			Platform:       session.PlatformName,
		},
	}, nil
}

// Close ends the session and stops the local service.
func (d *Driver) Close() error {
	err := d.client.DeleteSession()
	d.service.Stop()
	return err
}

// Client exposes the underlying protocol client.
func (d *Driver) Client() *Client {
	return d.client
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
		return d.openLink(s)
	case *flow.BackStep:
		return d.back()
	case *flow.RefreshStep:
		return d.refresh()
	case *flow.MaximizeWindowStep:
		return d.maximizeWindow()
	case *flow.TapOnStep:
		return d.tapOn(s)
	case *flow.InputTextStep:
		return d.inputText(s)
	case *flow.InputRandomEmailStep:
		return d.inputRandomEmail(s)
	case *flow.EraseTextStep:
		return d.eraseText(s)
	case *flow.PressKeyStep:
		return d.pressKey(s)
	case *flow.CopyTextFromStep:
		return d.copyTextFrom(s)
	case *flow.AssertVisibleStep:
		return d.assertVisible(s)
	case *flow.AssertNotVisibleStep:
		return d.assertNotVisible(s)
	case *flow.AssertEnabledStep:
		return d.assertEnabled(s)
	case *flow.AssertAttributeStep:
		return d.assertAttribute(s)
	case *flow.AssertPageContainsStep:
		return d.assertPageContains(s)
	case *flow.AssertTitleStep:
		return d.assertTitle(s)
	case *flow.AssertURLStep:
		return d.assertURL(s)
	case *flow.WaitForURLStep:
		return d.waitForURL(s)
	default:
		return errorResult(core.ErrUnsupportedStep.WithMessagef("unsupported step type: %s", step.Type()), "")
	}
}

// Screenshot implements core.Driver.
func (d *Driver) Screenshot() ([]byte, error) {
	return d.client.Screenshot()
}

// PageSource implements core.Driver.
func (d *Driver) PageSource() (string, error) {
	return d.client.Source()
}

// CurrentURL implements core.Driver.
func (d *Driver) CurrentURL() (string, error) {
	return d.client.CurrentURL()
}

// BrowserInfo implements core.Driver.
func (d *Driver) BrowserInfo() *core.BrowserInfo {
	info := d.info
	return &info
}

// SetFindTimeout implements core.Driver.
// Sets the default timeout (in ms) for finding elements.
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

// Element Finding

// findElement polls until an element matching sel exists, honoring the
// selector's index and enabled filters.
func (d *Driver) findElement(sel flow.Selector, timeout time.Duration) (*core.ElementInfo, error) {
	loc, err := core.ResolveSelector(sel)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		info, err := d.findElementOnce(sel, loc)
		if err == nil {
			return info, nil
		}
		if IsInvalidSession(err) {
			return nil, core.ErrSessionLost.WithCause(err)
		}
		lastErr = err

		if time.Now().After(deadline) {
			break
		}
		time.Sleep(findPollInterval)
	}

	return nil, core.ErrElementNotFound.
		WithCause(lastErr).
		WithMessagef("element not found: %s", sel.Describe()).
		WithDetails(map[string]interface{}{"locator": loc.String(), "timeout": timeout.String()})
}

// findElementOnce performs a single lookup. Without an index, the first
// displayed match wins so hidden duplicates do not shadow visible ones.
func (d *Driver) findElementOnce(sel flow.Selector, loc core.Locator) (*core.ElementInfo, error) {
	ids, err := d.client.FindElements(loc.Using, loc.Value)
	if err != nil {
		return nil, err
	}

	if sel.Enabled != nil {
		filtered := ids[:0:0]
		for _, id := range ids {
			enabled, err := d.client.IsEnabled(id)
			if err == nil && enabled == *sel.Enabled {
				filtered = append(filtered, id)
			}
		}
		ids = filtered
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no elements match %s", loc)
	}

	if sel.Index != "" {
		idx, err := strconv.Atoi(sel.Index)
		if err != nil {
			return nil, core.ErrInvalidConfig.WithMessagef("invalid index %q", sel.Index)
		}
		if idx < 0 || idx >= len(ids) {
			return nil, fmt.Errorf("index %d out of range (%d matches)", idx, len(ids))
		}
		return d.getElementInfo(ids[idx])
	}

	var first *core.ElementInfo
	for _, id := range ids {
		info, err := d.getElementInfo(id)
		if err != nil {
			continue
		}
		if info.Displayed {
			return info, nil
		}
		if first == nil {
			first = info
		}
	}
	if first == nil {
		return nil, fmt.Errorf("all matches for %s went stale", loc)
	}
	return first, nil
}

// getElementInfo reads the element's basic state.
func (d *Driver) getElementInfo(elementID string) (*core.ElementInfo, error) {
	displayed, err := d.client.IsDisplayed(elementID)
	if err != nil {
		return nil, err
	}
	enabled, err := d.client.IsEnabled(elementID)
	if err != nil {
		return nil, err
	}
	tag, _ := d.client.TagName(elementID)
	text, _ := d.client.Text(elementID)

	return &core.ElementInfo{
		ID:        elementID,
		TagName:   tag,
		Text:      text,
		Displayed: displayed,
		Enabled:   enabled,
	}, nil
}

// findVisible finds an element and waits for it to become displayed.
func (d *Driver) findVisible(sel flow.Selector, timeout time.Duration) (*core.ElementInfo, error) {
	deadline := time.Now().Add(timeout)
	info, err := d.findElement(sel, timeout)
	if err != nil {
		return nil, err
	}
	for !info.Displayed {
		if time.Now().After(deadline) {
			return info, core.ErrElementNotVisible.WithMessagef("element not visible: %s", sel.Describe())
		}
		time.Sleep(findPollInterval)
		remaining := time.Until(deadline)
		if remaining < findPollInterval {
			remaining = findPollInterval
		}
		if info, err = d.findElement(sel, remaining); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func successResult(msg string, elem *core.ElementInfo) *core.CommandResult {
	return &core.CommandResult{
		Success: true,
		Message: msg,
		Element: elem,
	}
}

func errorResult(err error, msg string) *core.CommandResult {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &core.CommandResult{
		Success: false,
		Error:   err,
		Message: msg,
	}
}
