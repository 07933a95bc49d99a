package core

import (
	"time"

	"github.com/qalab/browserflow/pkg/flow"
)

// DefaultFindTimeout is how long element lookups poll when neither the
// step nor SetFindTimeout says otherwise.
const DefaultFindTimeout = 10 * time.Second

// Driver defines the interface for executing commands in one browser session.
// Implementations: WebDriver (chromedriver, geckodriver, Selenium Grid),
// Chrome DevTools Protocol, mock.
// The runner handles flow logic; a Driver just executes individual commands.
type Driver interface {
	// Execute runs a single step and returns the result
	Execute(step flow.Step) *CommandResult

	// Screenshot captures the viewport as PNG
	Screenshot() ([]byte, error)

	// PageSource returns the serialized DOM of the current page
	PageSource() (string, error)

	// CurrentURL returns the address of the current page
	CurrentURL() (string, error)

	// BrowserInfo returns browser and session details
	BrowserInfo() *BrowserInfo

	// SetFindTimeout overrides how long element lookups poll, in ms
	SetFindTimeout(ms int)

	// Close ends the browser session
	Close() error
}

// CommandResult represents the outcome of executing a single command
type CommandResult struct {
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Element information (for tap, assert, input)
	Element *ElementInfo `json:"element,omitempty"`

	// Command-specific data: copied text, generated email, current URL
	Data interface{} `json:"data,omitempty"`
}

// ElementInfo represents what the driver learned about a DOM element
type ElementInfo struct {
	ID         string            `json:"id,omitempty"` // Remote element reference
	TagName    string            `json:"tagName,omitempty"`
	Text       string            `json:"text,omitempty"`
	Displayed  bool              `json:"displayed"`
	Enabled    bool              `json:"enabled"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// BrowserInfo contains browser and session details
type BrowserInfo struct {
	Browser        string `json:"browser"`                  // chrome, firefox, brave, edge
	BrowserVersion string `json:"browserVersion,omitempty"` // As reported by the remote end
	Driver         string `json:"driver"`                   // webdriver, cdp, mock
	SessionID      string `json:"sessionId,omitempty"`
	Headless       bool   `json:"headless"`
	Platform       string `json:"platform,omitempty"`
}

// Success builds a passing result.
func Success(msg string, start time.Time) *CommandResult {
	return &CommandResult{Success: true, Message: msg, Duration: time.Since(start)}
}

// Failure builds a failing result.
func Failure(err error, msg string, start time.Time) *CommandResult {
	return &CommandResult{Success: false, Error: err, Message: msg, Duration: time.Since(start)}
}
