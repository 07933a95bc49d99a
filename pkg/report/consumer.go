package report

import (
	"fmt"
	"path/filepath"
	"time"
)

// Consumer reads a report directory that another process may still be
// writing, returning only the flows that changed since the last poll.
type Consumer struct {
	reportDir     string
	lastGlobalSeq uint64
	lastFlowSeq   map[string]uint64
}

// NewConsumer creates a consumer for reportDir.
func NewConsumer(reportDir string) *Consumer {
	return &Consumer{
		reportDir:   reportDir,
		lastFlowSeq: make(map[string]uint64),
	}
}

// Poll reads the index and returns the IDs of flows whose UpdateSeq moved.
func (c *Consumer) Poll() ([]string, *Index, error) {
	index, err := c.ReadIndex()
	if err != nil {
		return nil, nil, err
	}
	if index.UpdateSeq == c.lastGlobalSeq && c.lastGlobalSeq != 0 {
		return nil, index, nil
	}
	c.lastGlobalSeq = index.UpdateSeq

	var changed []string
	for _, f := range index.Flows {
		if last, ok := c.lastFlowSeq[f.ID]; !ok || f.UpdateSeq != last {
			changed = append(changed, f.ID)
			c.lastFlowSeq[f.ID] = f.UpdateSeq
		}
	}
	return changed, index, nil
}

// Reset forgets everything seen so the next Poll reports all flows.
func (c *Consumer) Reset() {
	c.lastGlobalSeq = 0
	c.lastFlowSeq = make(map[string]uint64)
}

// ReadIndex reads report.json.
func (c *Consumer) ReadIndex() (*Index, error) {
	return ReadIndex(filepath.Join(c.reportDir, "report.json"))
}

// ReadFlow reads the detail file of one flow.
func (c *Consumer) ReadFlow(flowID string) (*FlowDetail, error) {
	return ReadFlowDetail(filepath.Join(c.reportDir, "flows", flowID+".json"))
}

// ReadIndex reads an index file.
func ReadIndex(path string) (*Index, error) {
	var index Index
	if err := readJSON(path, &index); err != nil {
		return nil, err
	}
	return &index, nil
}

// ReadFlowDetail reads a flow detail file.
func ReadFlowDetail(path string) (*FlowDetail, error) {
	var detail FlowDetail
	if err := readJSON(path, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ReadReport reads the index and every flow detail of a report directory.
func ReadReport(reportDir string) (*Index, []FlowDetail, error) {
	index, err := ReadIndex(filepath.Join(reportDir, "report.json"))
	if err != nil {
		return nil, nil, err
	}

	flows := make([]FlowDetail, 0, len(index.Flows))
	for _, entry := range index.Flows {
		detail, err := ReadFlowDetail(filepath.Join(reportDir, entry.DataFile))
		if err != nil {
			return nil, nil, fmt.Errorf("read flow %s: %w", entry.ID, err)
		}
		flows = append(flows, *detail)
	}
	return index, flows, nil
}

// Recover finalizes a report left behind by an interrupted run: flows still
// marked running or pending get their status inferred from the commands,
// and anything that cannot have finished is failed as interrupted.
func Recover(reportDir string) error {
	indexPath := filepath.Join(reportDir, "report.json")
	index, err := ReadIndex(indexPath)
	if err != nil {
		return err
	}

	now := time.Now()
	changed := false
	for i := range index.Flows {
		f := &index.Flows[i]
		if f.Status.IsTerminal() {
			continue
		}
		changed = true

		status := StatusFailed
		detailPath := filepath.Join(reportDir, f.DataFile)
		detail, err := ReadFlowDetail(detailPath)
		if err == nil {
			status = inferStatus(detail.Commands)
		}
		if status == StatusRunning {
			status = StatusFailed
		}
		f.Status = status
		if status == StatusFailed && f.Error == nil {
			msg := "Flow interrupted"
			f.Error = &msg
		}
		f.UpdateSeq++

		if detail != nil {
			finalizeDetail(detail, f, now)
			if err := atomicWriteJSON(detailPath, detail); err != nil {
				return fmt.Errorf("write flow %s: %w", f.ID, err)
			}
			f.Commands = summarizeCommands(detail.Commands)
			if f.EndTime == nil {
				f.EndTime = detail.EndTime
				f.Duration = detail.Duration
			}
		}
	}

	if !changed && index.Status.IsTerminal() {
		return nil
	}

	index.Summary = computeSummary(index.Flows)
	index.Status = runStatus(index.Flows)
	if index.EndTime == nil {
		index.EndTime = &now
	}
	index.LastUpdated = now
	index.UpdateSeq++

	return atomicWriteJSON(indexPath, index)
}

// finalizeDetail closes a flow detail cut off mid-run: the recovered
// status and error are recorded and unfinished commands become skipped.
func finalizeDetail(detail *FlowDetail, entry *FlowEntry, now time.Time) {
	detail.Status = entry.Status
	detail.Error = entry.Error
	if detail.EndTime == nil {
		detail.EndTime = &now
		if !detail.StartTime.IsZero() {
			d := now.Sub(detail.StartTime).Milliseconds()
			detail.Duration = &d
		}
	}
	for i := range detail.Commands {
		if !detail.Commands[i].Status.IsTerminal() {
			detail.Commands[i].Status = StatusSkipped
		}
	}
}

// inferStatus derives a flow status from its command statuses.
func inferStatus(commands []Command) Status {
	if len(commands) == 0 {
		return StatusFailed
	}
	passed := 0
	for _, c := range commands {
		switch c.Status {
		case StatusFailed:
			return StatusFailed
		case StatusPending, StatusRunning:
			return StatusRunning
		case StatusPassed:
			passed++
		}
	}
	if passed == 0 {
		return StatusRunning
	}
	return StatusPassed
}
