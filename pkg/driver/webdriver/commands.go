package webdriver

import (
	"fmt"
	"strings"
	"time"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
)

// Navigation

func (d *Driver) openLink(step *flow.OpenLinkStep) *core.CommandResult {
	if err := d.client.Navigate(step.Link); err != nil {
		return errorResult(core.ErrNavigation.WithCause(err), fmt.Sprintf("Failed to open %s", step.Link))
	}
	return successResult("Opened "+step.Link, nil)
}

func (d *Driver) back() *core.CommandResult {
	if err := d.client.Back(); err != nil {
		return errorResult(core.ErrNavigation.WithCause(err), "Failed to navigate back")
	}
	return successResult("Navigated back", nil)
}

func (d *Driver) refresh() *core.CommandResult {
	if err := d.client.Refresh(); err != nil {
		return errorResult(core.ErrNavigation.WithCause(err), "Failed to refresh")
	}
	return successResult("Page refreshed", nil)
}

func (d *Driver) maximizeWindow() *core.CommandResult {
	if err := d.client.MaximizeWindow(); err != nil {
		// Headless sessions often reject maximize; the window size flag already applies
		if d.info.Headless {
			return successResult("Maximize ignored in headless mode", nil)
		}
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to maximize window")
	}
	return successResult("Window maximized", nil)
}

// Interaction

func (d *Driver) tapOn(step *flow.TapOnStep) *core.CommandResult {
	timeout := d.timeoutFor(step.TimeoutMs)
	info, err := d.findVisible(step.Selector, timeout)
	if err != nil {
		return errorResult(err, fmt.Sprintf("Element not found: %s", step.Selector.Describe()))
	}

	// A re-render between find and click leaves a stale reference; look again
	err = d.client.Click(info.ID)
	if IsStaleElement(err) {
		if info, err = d.findVisible(step.Selector, timeout); err == nil {
			err = d.client.Click(info.ID)
		}
	}
	if err != nil {
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to click")
	}
	return successResult("Clicked "+step.Selector.Describe(), info)
}

func (d *Driver) inputText(step *flow.InputTextStep) *core.CommandResult {
	elemID, info, res := d.inputTarget(step.Selector, step.TimeoutMs)
	if res != nil {
		return res
	}
	if err := d.client.SendKeys(elemID, step.Text); err != nil {
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to input text")
	}
	return successResult(fmt.Sprintf("Entered text: %s", step.Text), info)
}

func (d *Driver) inputRandomEmail(step *flow.InputRandomEmailStep) *core.CommandResult {
	email := RandomEmail(step.Prefix, step.Domain, time.Now())

	elemID, info, res := d.inputTarget(step.Selector, step.TimeoutMs)
	if res != nil {
		return res
	}
	if err := d.client.SendKeys(elemID, email); err != nil {
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to input email")
	}

	result := successResult("Entered email: "+email, info)
	result.Data = email
	return result
}

// RandomEmail builds <prefix><unix-seconds>@<domain>.
func RandomEmail(prefix, domain string, now time.Time) string {
	if prefix == "" {
		prefix = "user"
	}
	if domain == "" {
		domain = "example.com"
	}
	return fmt.Sprintf("%s%d@%s", prefix, now.Unix(), domain)
}

// inputTarget resolves where typed text goes: the selected element after
// clicking it, or the focused element when no selector is set.
func (d *Driver) inputTarget(sel flow.Selector, timeoutMs int) (string, *core.ElementInfo, *core.CommandResult) {
	if sel.IsEmpty() {
		elemID, err := d.client.ActiveElement()
		if err != nil || elemID == "" {
			return "", nil, errorResult(core.ErrElementNotFound.WithCause(err).WithMessage("no focused element to type into"), "")
		}
		return elemID, &core.ElementInfo{ID: elemID}, nil
	}

	info, err := d.findVisible(sel, d.timeoutFor(timeoutMs))
	if err != nil {
		return "", nil, errorResult(err, fmt.Sprintf("Element not found: %s", sel.Describe()))
	}
	if err := d.client.Click(info.ID); err != nil {
		return "", nil, errorResult(core.ErrCommandFailed.WithCause(err), "Failed to focus element")
	}
	return info.ID, info, nil
}

func (d *Driver) eraseText(step *flow.EraseTextStep) *core.CommandResult {
	info, err := d.findElement(step.Selector, d.timeoutFor(step.TimeoutMs))
	if err != nil {
		return errorResult(err, fmt.Sprintf("Element not found: %s", step.Selector.Describe()))
	}
	if err := d.client.Clear(info.ID); err != nil {
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to clear text")
	}
	return successResult("Cleared "+step.Selector.Describe(), info)
}

func (d *Driver) pressKey(step *flow.PressKeyStep) *core.CommandResult {
	code, ok := keyCodes[strings.ToLower(step.Key)]
	if !ok {
		return errorResult(core.ErrInvalidConfig.WithMessagef("unknown key: %s", step.Key), "")
	}

	elemID, err := d.client.ActiveElement()
	if err != nil || elemID == "" {
		return errorResult(core.ErrElementNotFound.WithCause(err).WithMessage("no focused element for key press"), "")
	}
	if err := d.client.SendKeys(elemID, code); err != nil {
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to press "+step.Key)
	}
	return successResult("Pressed "+step.Key, nil)
}

func (d *Driver) copyTextFrom(step *flow.CopyTextFromStep) *core.CommandResult {
	info, err := d.findElement(step.Selector, d.timeoutFor(step.TimeoutMs))
	if err != nil {
		return errorResult(err, fmt.Sprintf("Element not found: %s", step.Selector.Describe()))
	}

	text := info.Text
	if text == "" {
		// Form controls carry their text in the value property
		text, _ = d.client.Property(info.ID, "value")
	}

	result := successResult(fmt.Sprintf("Copied text: %s", text), info)
	result.Data = text
	return result
}

// Assertions

func (d *Driver) assertVisible(step *flow.AssertVisibleStep) *core.CommandResult {
	info, err := d.findVisible(step.Selector, d.timeoutFor(step.TimeoutMs))
	if err != nil {
		return errorResult(err, fmt.Sprintf("Element not visible: %s", step.Selector.Describe()))
	}
	return successResult("Element is visible", info)
}

func (d *Driver) assertNotVisible(step *flow.AssertNotVisibleStep) *core.CommandResult {
	loc, err := core.ResolveSelector(step.Selector)
	if err != nil {
		return errorResult(err, "")
	}

	deadline := time.Now().Add(d.timeoutFor(step.TimeoutMs))
	for {
		visible, err := d.anyDisplayed(loc)
		if err == nil && !visible {
			return successResult("Element is not visible", nil)
		}
		if IsInvalidSession(err) {
			return errorResult(core.ErrSessionLost.WithCause(err), "")
		}
		if time.Now().After(deadline) {
			return errorResult(core.ErrElementStillVisible.WithMessagef("element is still visible: %s", step.Selector.Describe()), "")
		}
		time.Sleep(findPollInterval)
	}
}

func (d *Driver) anyDisplayed(loc core.Locator) (bool, error) {
	ids, err := d.client.FindElements(loc.Using, loc.Value)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		displayed, err := d.client.IsDisplayed(id)
		if err != nil && !IsStaleElement(err) {
			return false, err
		}
		if displayed {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) assertEnabled(step *flow.AssertEnabledStep) *core.CommandResult {
	info, err := d.findElement(step.Selector, d.timeoutFor(step.TimeoutMs))
	if err != nil {
		return errorResult(err, fmt.Sprintf("Element not found: %s", step.Selector.Describe()))
	}
	if !info.Enabled {
		return errorResult(core.ErrElementDisabled.WithMessagef("element is disabled: %s", step.Selector.Describe()), "")
	}
	return successResult("Element is enabled", info)
}

func (d *Driver) assertAttribute(step *flow.AssertAttributeStep) *core.CommandResult {
	info, err := d.findElement(step.Selector, d.timeoutFor(step.TimeoutMs))
	if err != nil {
		return errorResult(err, fmt.Sprintf("Element not found: %s", step.Selector.Describe()))
	}

	value, err := d.client.Attribute(info.ID, step.Attribute)
	if err != nil {
		return errorResult(core.ErrCommandFailed.WithCause(err), "Failed to read attribute "+step.Attribute)
	}
	info.Attributes = map[string]string{step.Attribute: value}

	if step.Equals != nil && value != *step.Equals {
		return errorResult(core.ErrTextMismatch.WithMessagef("attribute %s is %q, expected %q", step.Attribute, value, *step.Equals), "")
	}
	if step.Contains != "" && !strings.Contains(value, step.Contains) {
		return errorResult(core.ErrTextMismatch.WithMessagef("attribute %s is %q, expected it to contain %q", step.Attribute, value, step.Contains), "")
	}
	return successResult(fmt.Sprintf("%s=%q", step.Attribute, value), info)
}

func (d *Driver) assertPageContains(step *flow.AssertPageContainsStep) *core.CommandResult {
	deadline := time.Now().Add(d.timeoutFor(step.TimeoutMs))
	for {
		source, err := d.client.Source()
		if err == nil && strings.Contains(source, step.Text) {
			return successResult("Page contains "+step.Text, nil)
		}
		if time.Now().After(deadline) {
			return errorResult(core.ErrTextMismatch.WithMessagef("page does not contain %q", step.Text), "")
		}
		time.Sleep(findPollInterval)
	}
}

func (d *Driver) assertTitle(step *flow.AssertTitleStep) *core.CommandResult {
	return d.pollMatch("title", step.Match, d.timeoutFor(step.TimeoutMs), d.client.Title, core.ErrTextMismatch)
}

func (d *Driver) assertURL(step *flow.AssertURLStep) *core.CommandResult {
	return d.pollMatch("url", step.Match, d.timeoutFor(step.TimeoutMs), d.client.CurrentURL, core.ErrTextMismatch)
}

func (d *Driver) waitForURL(step *flow.WaitForURLStep) *core.CommandResult {
	return d.pollMatch("url", step.Match, d.timeoutFor(step.TimeoutMs), d.client.CurrentURL, core.ErrWaitTimeout)
}

// pollMatch re-reads a page property until match holds or the timeout ends.
func (d *Driver) pollMatch(what string, match flow.TextMatch, timeout time.Duration, read func() (string, error), failure *core.ExecutionError) *core.CommandResult {
	deadline := time.Now().Add(timeout)
	var actual string
	for {
		v, err := read()
		if err == nil {
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
		} else if IsInvalidSession(err) {
			return errorResult(core.ErrSessionLost.WithCause(err), "")
		}

		if time.Now().After(deadline) {
			return errorResult(failure.
				WithMessagef("%s %q does not satisfy %s", what, actual, match.Describe()).
				WithDetails(map[string]interface{}{"actual": actual}), "")
		}
		time.Sleep(findPollInterval)
	}
}
