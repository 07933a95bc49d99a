package core

// ErrorCategory classifies the type of error for debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Element not found, text mismatch, visibility check failed
	ErrCategoryTimeout                         // Wait expired
	ErrCategoryConnection                      // WebDriver/DevTools endpoint unreachable, session lost
	ErrCategoryBrowser                         // Navigation failed, browser crashed, script error in page
	ErrCategoryConfig                          // Invalid configuration, missing required field
	ErrCategoryScript                          // Flow JavaScript failed
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryBrowser:
		return "browser"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryScript:
		return "script"
	default:
		return "unknown"
	}
}
