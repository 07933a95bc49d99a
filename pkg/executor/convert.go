package executor

import (
	"errors"
	"fmt"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/report"
)

// suggestions maps error codes to a hint shown next to the failure.
var suggestions = map[string]string{
	"element_not_found":   "Check the selector against the page source saved with this step",
	"element_not_visible": "The element exists but is hidden; wait for the page state that shows it",
	"session_lost":        "The browser went away; check the driver log",
	"server_unreachable":  "Start chromedriver/geckodriver or pass --remote-url",
	"wait_timeout":        "Increase the step timeout or check the navigation that should happen first",
}

// toElement converts the driver's element info into its report form.
func toElement(el *core.ElementInfo) *report.Element {
	if el == nil {
		return nil
	}
	return &report.Element{
		Found:      true,
		ID:         el.ID,
		TagName:    el.TagName,
		Text:       el.Text,
		Displayed:  el.Displayed,
		Enabled:    el.Enabled,
		Attributes: el.Attributes,
	}
}

// toError converts a failed result into a report error classified by
// the ExecutionError category and code.
func toError(r *core.CommandResult) *report.Error {
	if r == nil || r.Success {
		return nil
	}

	message := r.Message
	if r.Error != nil {
		message = r.Error.Error()
	}
	if message == "" {
		message = "step failed"
	}

	code := core.CodeOf(r.Error)
	e := &report.Error{
		Type:       core.CategoryOf(r.Error).String(),
		Code:       code,
		Message:    message,
		Suggestion: suggestions[code],
	}
	if r.Error == nil {
		e.Type = "unknown"
	}

	var ee *core.ExecutionError
	if errors.As(r.Error, &ee) && len(ee.Details) > 0 {
		e.Details = make(map[string]string, len(ee.Details))
		for k, v := range ee.Details {
			e.Details[k] = fmt.Sprint(v)
		}
	}
	return e
}

// outputOf returns the string payload of a result, if any.
func outputOf(r *core.CommandResult) string {
	if r == nil {
		return ""
	}
	if s, ok := r.Data.(string); ok {
		return s
	}
	return ""
}
