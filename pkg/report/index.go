package report

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/qalab/browserflow/pkg/logger"
)

// progressDebounce bounds how often running-flow progress hits the disk.
const progressDebounce = 100 * time.Millisecond

// IndexWriter provides thread-safe updates to the report index.
// Parallel workers update the index concurrently.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	index     *Index

	pending map[string]*FlowUpdate
	timer   *time.Timer
	closed  bool
}

// NewIndexWriter creates a new IndexWriter.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		outputDir: outputDir,
		path:      filepath.Join(outputDir, "report.json"),
		index:     index,
		pending:   make(map[string]*FlowUpdate),
	}
}

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now

	w.flushLocked(true)
}

// UpdateFlow updates a flow entry in the index.
// Status changes flush immediately; progress within a status is debounced.
// Only terminal states regenerate the HTML report.
func (w *IndexWriter) UpdateFlow(flowID string, update *FlowUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	if f := w.entry(flowID); f != nil && f.Status != update.Status {
		changed = true
	}
	// A later progress update must not drop a pending error or timestamps.
	if prev, ok := w.pending[flowID]; ok {
		mergeUpdate(update, prev)
	}
	w.pending[flowID] = update

	if update.Status.IsTerminal() || changed {
		w.flushLocked(update.Status.IsTerminal())
		return
	}

	if w.timer == nil && !w.closed {
		w.timer = time.AfterFunc(progressDebounce, w.flush)
	}
}

func mergeUpdate(next, prev *FlowUpdate) {
	if next.StartTime == nil {
		next.StartTime = prev.StartTime
	}
	if next.EndTime == nil {
		next.EndTime = prev.EndTime
	}
	if next.Duration == nil {
		next.Duration = prev.Duration
	}
	if next.Error == nil {
		next.Error = prev.Error
	}
	if next.Browser == "" {
		next.Browser = prev.Browser
	}
}

// RecordAttempt records a failed attempt that is about to be retried.
func (w *IndexWriter) RecordAttempt(flowID string, attempt int, status Status, duration int64, errMsg, dataFile string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f := w.entry(flowID); f != nil {
		f.Attempts = attempt
		f.AttemptHistory = append(f.AttemptHistory, AttemptEntry{
			Attempt:  attempt,
			DataFile: dataFile,
			Status:   status,
			Duration: duration,
			Error:    errMsg,
		})
	}

	w.flushLocked(false)
}

// End marks the run as complete.
func (w *IndexWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Apply anything still pending before deciding the run status.
	for flowID, update := range w.pending {
		w.applyUpdate(flowID, update)
	}
	w.pending = make(map[string]*FlowUpdate)

	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = w.computeRunStatus()

	w.flushLocked(true)
}

// Close stops the debounce timer and flushes any pending updates.
func (w *IndexWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if len(w.pending) > 0 {
		w.flushLocked(false)
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// GetIndex returns a copy of the current index.
func (w *IndexWriter) GetIndex() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := *w.index
	idx.Flows = append([]FlowEntry(nil), w.index.Flows...)
	return idx
}

func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked(false)
}

// flushLocked writes report.json; html also regenerates report.html for
// live file:// viewing.
func (w *IndexWriter) flushLocked(html bool) {
	for flowID, update := range w.pending {
		w.applyUpdate(flowID, update)
	}
	w.pending = make(map[string]*FlowUpdate)

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = computeSummary(w.index.Flows)

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Warn("write report index: %v", err)
		return
	}

	if !html {
		return
	}
	if err := GenerateHTML(w.outputDir, HTMLConfig{ReportDir: w.outputDir}); err != nil {
		logger.Debug("regenerate html: %v", err)
	}
}

func (w *IndexWriter) entry(flowID string) *FlowEntry {
	for i := range w.index.Flows {
		if w.index.Flows[i].ID == flowID {
			return &w.index.Flows[i]
		}
	}
	return nil
}

// applyUpdate applies a FlowUpdate to the index.
func (w *IndexWriter) applyUpdate(flowID string, update *FlowUpdate) {
	f := w.entry(flowID)
	if f == nil {
		return
	}
	f.Status = update.Status
	if update.StartTime != nil {
		f.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		f.EndTime = update.EndTime
	}
	if update.Duration != nil {
		f.Duration = update.Duration
	}
	f.Commands = update.Commands
	if update.Error != nil {
		f.Error = update.Error
	}
	if update.Browser != "" {
		f.Browser = update.Browser
	}
	f.UpdateSeq++
	now := time.Now()
	f.LastUpdated = &now
}

// computeSummary calculates summary from flow statuses.
func computeSummary(flows []FlowEntry) Summary {
	var s Summary
	for _, f := range flows {
		s.Total++
		switch f.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status from flows.
func (w *IndexWriter) computeRunStatus() Status {
	return runStatus(w.index.Flows)
}

// A run whose flows were all skipped (a gated stage) is itself skipped.
func runStatus(flows []FlowEntry) Status {
	hasFailure := false
	skipped := 0
	for _, f := range flows {
		switch {
		case !f.Status.IsTerminal():
			return StatusRunning
		case f.Status == StatusFailed:
			hasFailure = true
		case f.Status == StatusSkipped:
			skipped++
		}
	}
	if hasFailure {
		return StatusFailed
	}
	if len(flows) > 0 && skipped == len(flows) {
		return StatusSkipped
	}
	return StatusPassed
}
