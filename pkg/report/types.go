// Package report provides JSON-based test reporting with real-time updates.
//
// Architecture:
//   - report.json: Main index file (small, frequently updated, mutex-protected)
//   - flows/flow-XXX.json: Per-flow detail files (no lock needed)
//   - assets/flow-XXX/: Per-flow artifacts (screenshots, page sources)
//   - report.html, junit-report.xml: Rendered from the JSON files
//
// The index file serves as single source of truth for status and change tracking.
// Consumers poll report.json and only fetch changed flow details as needed.
package report

import "time"

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
type Index struct {
	Version     string      `json:"version"`
	RunID       string      `json:"runId"`
	Stage       string      `json:"stage,omitempty"`
	UpdateSeq   uint64      `json:"updateSeq"`
	Status      Status      `json:"status"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Browser     Browser     `json:"browser"`
	Metadata    Metadata    `json:"metadata"`
	CI          *CI         `json:"ci,omitempty"`
	Runner      RunnerInfo  `json:"browserflow"`
	Summary     Summary     `json:"summary"`
	Flows       []FlowEntry `json:"flows"`
}

// Browser describes the browser a run (or a single flow) used.
type Browser struct {
	Name     string `json:"name"` // chrome, firefox, brave, edge
	Version  string `json:"version,omitempty"`
	Headless bool   `json:"headless"`
	Platform string `json:"platform,omitempty"`
}

// Metadata is the free-form run description shown at the top of the HTML report.
type Metadata struct {
	Project     string `json:"project,omitempty" yaml:"project"`
	Suite       string `json:"suite,omitempty" yaml:"suite"`
	Tester      string `json:"tester,omitempty" yaml:"tester"`
	Environment string `json:"environment,omitempty" yaml:"environment"`
	BaseURL     string `json:"baseUrl,omitempty" yaml:"baseUrl"`
}

// CI contains CI/CD build information.
type CI struct {
	Provider string `json:"provider,omitempty"`
	BuildID  string `json:"buildId,omitempty"`
	BuildURL string `json:"buildUrl,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
}

// RunnerInfo contains browserflow information.
type RunnerInfo struct {
	Version string `json:"version"`
	Driver  string `json:"driver"` // webdriver, cdp, mock
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// FlowEntry is the index entry for a flow (minimal info).
type FlowEntry struct {
	Index          int            `json:"index"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	SourceFile     string         `json:"sourceFile"`
	DataFile       string         `json:"dataFile"`
	AssetsDir      string         `json:"assetsDir"`
	Browser        string         `json:"browser,omitempty"`
	Status         Status         `json:"status"`
	UpdateSeq      uint64         `json:"updateSeq"`
	StartTime      *time.Time     `json:"startTime,omitempty"`
	EndTime        *time.Time     `json:"endTime,omitempty"`
	Duration       *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated    *time.Time     `json:"lastUpdated,omitempty"`
	Commands       CommandSummary `json:"commands"`
	Attempts       int            `json:"attempts"`
	AttemptHistory []AttemptEntry `json:"attemptHistory,omitempty"`
	Error          *string        `json:"error,omitempty"`
}

// CommandSummary contains command counts for a flow.
type CommandSummary struct {
	Total   int  `json:"total"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Running int  `json:"running"`
	Pending int  `json:"pending"`
	Current *int `json:"current,omitempty"` // Currently running command index
}

// AttemptEntry tracks a failed attempt that was retried.
type AttemptEntry struct {
	Attempt  int    `json:"attempt"`
	DataFile string `json:"dataFile"`
	Status   Status `json:"status"`
	Duration int64  `json:"duration"` // milliseconds
	Error    string `json:"error,omitempty"`
}

// ============================================================================
// FLOW DETAIL (flows/flow-XXX.json)
// ============================================================================

// FlowDetail contains full flow execution details.
type FlowDetail struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	SourceFile string        `json:"sourceFile"`
	Tags       []string      `json:"tags,omitempty"`
	Browser    *Browser      `json:"browser,omitempty"`
	Status     Status        `json:"status,omitempty"`
	Error      *string       `json:"error,omitempty"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    *time.Time    `json:"endTime,omitempty"`
	Duration   *int64        `json:"duration,omitempty"` // milliseconds
	Commands   []Command     `json:"commands"`
	Artifacts  FlowArtifacts `json:"artifacts"`
}

// Command represents a single command execution.
type Command struct {
	ID          string           `json:"id"`
	Index       int              `json:"index"`
	Type        string           `json:"type"`
	Label       string           `json:"label,omitempty"`
	Description string           `json:"description,omitempty"`
	Status      Status           `json:"status"`
	StartTime   *time.Time       `json:"startTime,omitempty"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	Duration    *int64           `json:"duration,omitempty"` // milliseconds
	Params      *CommandParams   `json:"params,omitempty"`
	Element     *Element         `json:"element,omitempty"`
	Output      string           `json:"output,omitempty"` // Copied text, generated email, matched URL
	Error       *Error           `json:"error,omitempty"`
	Artifacts   CommandArtifacts `json:"artifacts"`
	SubCommands []Command        `json:"subCommands,omitempty"` // runFlow, repeat, retry
}

// CommandParams contains command-specific parameters.
type CommandParams struct {
	Selector *Selector `json:"selector,omitempty"`
	Text     string    `json:"text,omitempty"`
	URL      string    `json:"url,omitempty"`
	Key      string    `json:"key,omitempty"`
	Timeout  int       `json:"timeout,omitempty"`
}

// Selector represents an element selector.
type Selector struct {
	Type     string `json:"type"` // id, css, name, xpath, linkText, partialLinkText, placeholder, text
	Value    string `json:"value"`
	Index    string `json:"index,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Element contains information about the found element.
type Element struct {
	Found      bool              `json:"found"`
	ID         string            `json:"id,omitempty"`
	TagName    string            `json:"tagName,omitempty"`
	Text       string            `json:"text,omitempty"`
	Displayed  bool              `json:"displayed"`
	Enabled    bool              `json:"enabled"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Error contains error details.
type Error struct {
	Type       string            `json:"type"` // element, assertion, timeout, navigation, session, script, config
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// ============================================================================
// ARTIFACTS (paths only, never inline data)
// ============================================================================

// FlowArtifacts contains flow-level artifact paths.
type FlowArtifacts struct {
	FinalURL    string   `json:"finalUrl,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"` // takeScreenshot outputs
}

// CommandArtifacts contains command-level artifact paths.
type CommandArtifacts struct {
	Screenshot string `json:"screenshot,omitempty"`
	PageSource string `json:"pageSource,omitempty"`
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// FlowUpdate contains the fields to update in index for a flow.
type FlowUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Commands  CommandSummary
	Error     *string
	Browser   string
}
