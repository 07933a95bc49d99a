package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qalab/browserflow/pkg/logger"
)

// FlowWriter writes updates for a single flow.
// Each flow goroutine has its own FlowWriter - no locking needed.
type FlowWriter struct {
	flow      *FlowDetail
	outputDir string
	path      string
	assetsDir string
	index     *IndexWriter
	pristine  []Command // pending commands, restored between attempts
}

// NewFlowWriter creates a new FlowWriter for a flow.
func NewFlowWriter(flowDetail *FlowDetail, outputDir string, index *IndexWriter) *FlowWriter {
	assetsDir := filepath.Join(outputDir, "assets", flowDetail.ID)
	if err := ensureDir(assetsDir); err != nil {
		logger.Warn("create assets dir %s: %v", assetsDir, err)
	}

	pristine := make([]Command, len(flowDetail.Commands))
	copy(pristine, flowDetail.Commands)

	return &FlowWriter{
		flow:      flowDetail,
		outputDir: outputDir,
		path:      filepath.Join(outputDir, "flows", flowDetail.ID+".json"),
		assetsDir: assetsDir,
		index:     index,
		pristine:  pristine,
	}
}

// Start marks the flow as started on the given browser.
func (w *FlowWriter) Start(browser *Browser) {
	now := time.Now()
	w.flow.StartTime = now
	w.flow.EndTime = nil
	w.flow.Duration = nil
	w.flow.Status = StatusRunning
	w.flow.Error = nil
	if browser != nil {
		w.flow.Browser = browser
	}

	w.flush()
	update := &FlowUpdate{
		Status:    StatusRunning,
		StartTime: &now,
		Commands:  w.commandSummary(),
	}
	if w.flow.Browser != nil {
		update.Browser = w.flow.Browser.Name
	}
	w.index.UpdateFlow(w.flow.ID, update)
}

// CommandStart marks a command as started.
func (w *FlowWriter) CommandStart(cmdIndex int) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = StatusRunning
	cmd.StartTime = &now

	w.flush()
	w.updateIndexProgress()
}

// CommandResult is everything the runner learned about a finished command.
type CommandResult struct {
	Status      Status
	Element     *Element
	Output      string
	Error       *Error
	Artifacts   CommandArtifacts
	SubCommands []Command
}

// CommandEnd marks a command as complete.
func (w *FlowWriter) CommandEnd(cmdIndex int, res CommandResult) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = res.Status
	cmd.EndTime = &now

	if cmd.StartTime != nil {
		duration := now.Sub(*cmd.StartTime).Milliseconds()
		cmd.Duration = &duration
	}

	cmd.Element = res.Element
	cmd.Output = res.Output
	cmd.Error = res.Error
	cmd.Artifacts = res.Artifacts
	cmd.SubCommands = res.SubCommands

	w.flush()
	w.updateIndexProgress()
}

// End marks the flow as complete. errMsg overrides the first command error
// in the index entry, e.g. for hook or session failures.
func (w *FlowWriter) End(status Status, errMsg string) {
	now := time.Now()
	w.flow.EndTime = &now

	var duration int64
	if !w.flow.StartTime.IsZero() {
		duration = now.Sub(w.flow.StartTime).Milliseconds()
	}
	w.flow.Duration = &duration
	w.flow.Status = status

	update := &FlowUpdate{
		Status:   status,
		EndTime:  &now,
		Duration: &duration,
		Commands: w.commandSummary(),
	}
	if status == StatusFailed || status == StatusSkipped {
		if errMsg == "" {
			errMsg = w.firstError()
		}
		if errMsg != "" {
			update.Error = &errMsg
			w.flow.Error = &errMsg
		}
	}

	w.flush()
	w.index.UpdateFlow(w.flow.ID, update)
}

// Skip marks a flow that never ran (gated stage, cancelled run) as skipped.
func (w *FlowWriter) Skip(reason string) {
	w.SkipRemainingCommands(0)
	w.End(StatusSkipped, reason)
}

// ArchiveAttempt saves the current detail as flows/<id>-attempt-N.json,
// records the attempt in the index and resets the commands for a rerun.
func (w *FlowWriter) ArchiveAttempt(attempt int, errMsg string) {
	now := time.Now()
	duration := now.Sub(w.flow.StartTime).Milliseconds()
	w.flow.EndTime = &now
	w.flow.Duration = &duration

	dataFile := filepath.Join("flows", fmt.Sprintf("%s-attempt-%d.json", w.flow.ID, attempt))
	if err := atomicWriteJSON(filepath.Join(w.outputDir, dataFile), w.flow); err != nil {
		logger.Warn("archive attempt %d of %s: %v", attempt, w.flow.ID, err)
	}

	w.index.RecordAttempt(w.flow.ID, attempt, StatusFailed, duration, errMsg, dataFile)

	w.flow.Commands = make([]Command, len(w.pristine))
	copy(w.flow.Commands, w.pristine)
	w.flow.Artifacts = FlowArtifacts{}
	w.flush()
}

// SetFinalURL records the page the flow ended on.
func (w *FlowWriter) SetFinalURL(url string) {
	w.flow.Artifacts.FinalURL = url
	w.flush()
}

// SaveScreenshot saves a failure screenshot and returns the relative path.
func (w *FlowWriter) SaveScreenshot(cmdIndex int, data []byte) (string, error) {
	return w.saveAsset(fmt.Sprintf("cmd-%03d-failure.png", cmdIndex), data)
}

// SavePageSource saves the DOM captured on failure and returns the relative path.
func (w *FlowWriter) SavePageSource(cmdIndex int, source string) (string, error) {
	return w.saveAsset(fmt.Sprintf("cmd-%03d-page.html", cmdIndex), []byte(source))
}

// SaveNamedScreenshot stores a takeScreenshot step output.
func (w *FlowWriter) SaveNamedScreenshot(name string, data []byte) (string, error) {
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	rel, err := w.saveAsset(filepath.Base(name), data)
	if err != nil {
		return "", err
	}
	w.flow.Artifacts.Screenshots = append(w.flow.Artifacts.Screenshots, rel)
	w.flush()
	return rel, nil
}

func (w *FlowWriter) saveAsset(filename string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(w.assetsDir, filename), data, 0o644); err != nil {
		return "", err
	}
	// Relative path for JSON
	return filepath.Join("assets", w.flow.ID, filename), nil
}

// AssetsDir returns the absolute artifact directory of the flow.
func (w *FlowWriter) AssetsDir() string {
	return w.assetsDir
}

// GetFlowDetail returns the current flow detail (for reading).
func (w *FlowWriter) GetFlowDetail() *FlowDetail {
	return w.flow
}

// SkipRemainingCommands marks all pending commands as skipped.
// Called when a command fails and we need to skip the rest.
func (w *FlowWriter) SkipRemainingCommands(fromIndex int) {
	for i := fromIndex; i < len(w.flow.Commands); i++ {
		if w.flow.Commands[i].Status == StatusPending {
			w.flow.Commands[i].Status = StatusSkipped
		}
	}
	w.flush()
}

func (w *FlowWriter) flush() {
	if err := atomicWriteJSON(w.path, w.flow); err != nil {
		logger.Warn("write flow %s: %v", w.flow.ID, err)
	}
}

func (w *FlowWriter) firstError() string {
	for _, cmd := range w.flow.Commands {
		if cmd.Error != nil {
			return cmd.Error.Message
		}
	}
	return ""
}

// updateIndexProgress updates the index with progress only.
func (w *FlowWriter) updateIndexProgress() {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:   StatusRunning,
		Commands: w.commandSummary(),
	})
}

// commandSummary computes command summary.
func (w *FlowWriter) commandSummary() CommandSummary {
	return summarizeCommands(w.flow.Commands)
}

// summarizeCommands counts command statuses for an index entry.
func summarizeCommands(commands []Command) CommandSummary {
	var s CommandSummary
	s.Total = len(commands)

	for i, cmd := range commands {
		switch cmd.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
			idx := i
			s.Current = &idx
		case StatusPending:
			s.Pending++
		}
	}

	return s
}
