package report

import (
	"os"
	"path/filepath"
	"testing"
)

// writeReport lays out report.json plus one detail file per entry in
// details, keyed by flow ID. Entries without a detail are left missing.
func writeReport(t *testing.T, index *Index, details map[string]*FlowDetail) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "flows"), 0o755); err != nil {
		t.Fatal(err)
	}
	for i := range index.Flows {
		f := &index.Flows[i]
		if f.DataFile == "" {
			f.DataFile = "flows/" + f.ID + ".json"
		}
		if d, ok := details[f.ID]; ok {
			if err := atomicWriteJSON(filepath.Join(dir, f.DataFile), d); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := atomicWriteJSON(filepath.Join(dir, "report.json"), index); err != nil {
		t.Fatal(err)
	}
	return dir
}

// runningLoginReport is a run interrupted while the login flow was typing.
func runningLoginReport(t *testing.T) string {
	return writeReport(t, &Index{
		Version:   Version,
		Status:    StatusRunning,
		UpdateSeq: 3,
		Flows: []FlowEntry{
			{ID: "flow-000", Name: "Login page loads", Status: StatusPassed, UpdateSeq: 2},
			{ID: "flow-001", Name: "Valid login", Status: StatusRunning, UpdateSeq: 1},
		},
		Summary: Summary{Total: 2, Passed: 1, Running: 1},
	}, map[string]*FlowDetail{
		"flow-000": {ID: "flow-000", Commands: []Command{{Type: "openLink", Status: StatusPassed}}},
		"flow-001": {ID: "flow-001", Commands: []Command{
			{Index: 0, Type: "openLink", Status: StatusPassed},
			{Index: 1, Type: "inputText", Status: StatusRunning},
			{Index: 2, Type: "tapOn", Status: StatusPending},
		}},
	})
}

func TestConsumer_Poll(t *testing.T) {
	dir := runningLoginReport(t)
	c := NewConsumer(dir)

	changed, index, err := c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(changed) != 2 || index.Summary.Running != 1 {
		t.Fatalf("first poll: changed %v, summary %+v", changed, index.Summary)
	}

	if changed, _, _ = c.Poll(); len(changed) != 0 {
		t.Errorf("unchanged report reported %v", changed)
	}

	// The login flow finishes
	index.Flows[1].Status = StatusPassed
	index.Flows[1].UpdateSeq++
	index.UpdateSeq++
	if err := atomicWriteJSON(filepath.Join(dir, "report.json"), index); err != nil {
		t.Fatal(err)
	}
	changed, index, err = c.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0] != "flow-001" || index.Flows[1].Status != StatusPassed {
		t.Errorf("after update: changed %v", changed)
	}

	c.Reset()
	if changed, _, _ = c.Poll(); len(changed) != 2 {
		t.Errorf("after Reset: changed %v, want every flow", changed)
	}
}

func TestConsumer_PollMissingReport(t *testing.T) {
	if _, _, err := NewConsumer(t.TempDir()).Poll(); err == nil {
		t.Error("expected error without report.json")
	}
}

func TestConsumer_ReadFlow(t *testing.T) {
	c := NewConsumer(runningLoginReport(t))
	detail, err := c.ReadFlow("flow-001")
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Commands) != 3 || detail.Commands[1].Type != "inputText" {
		t.Errorf("commands = %+v", detail.Commands)
	}
}

func TestReadReport(t *testing.T) {
	index, flows, err := ReadReport(runningLoginReport(t))
	if err != nil {
		t.Fatalf("ReadReport() error = %v", err)
	}
	if len(index.Flows) != 2 || len(flows) != 2 || flows[1].ID != "flow-001" {
		t.Errorf("index %d flows, details %d", len(index.Flows), len(flows))
	}

	dir := writeReport(t, &Index{Flows: []FlowEntry{{ID: "flow-000"}}}, nil)
	if _, _, err := ReadReport(dir); err == nil {
		t.Error("expected error for a missing detail file")
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name      string
		commands  []Command // nil: no detail file
		want      Status
		wantError string
	}{
		{"commands all passed", []Command{{Status: StatusPassed}, {Status: StatusPassed}}, StatusPassed, ""},
		{"command failed", []Command{{Status: StatusPassed}, {Status: StatusFailed}}, StatusFailed, "Flow interrupted"},
		{"cut off mid-flow", []Command{{Status: StatusPassed}, {Status: StatusRunning}}, StatusFailed, "Flow interrupted"},
		{"never started", []Command{{Status: StatusPending}}, StatusFailed, "Flow interrupted"},
		{"detail missing", nil, StatusFailed, "Flow interrupted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details := map[string]*FlowDetail{}
			if tt.commands != nil {
				details["flow-000"] = &FlowDetail{ID: "flow-000", Commands: tt.commands}
			}
			dir := writeReport(t, &Index{
				Status:    StatusRunning,
				UpdateSeq: 1,
				Flows:     []FlowEntry{{ID: "flow-000", Status: StatusRunning}},
			}, details)

			if err := Recover(dir); err != nil {
				t.Fatalf("Recover() error = %v", err)
			}
			index, err := ReadIndex(filepath.Join(dir, "report.json"))
			if err != nil {
				t.Fatal(err)
			}
			f := index.Flows[0]
			if f.Status != tt.want || index.Status != tt.want {
				t.Errorf("flow %v, run %v, want %v", f.Status, index.Status, tt.want)
			}
			gotError := ""
			if f.Error != nil {
				gotError = *f.Error
			}
			if gotError != tt.wantError {
				t.Errorf("error = %q, want %q", gotError, tt.wantError)
			}
			if index.EndTime == nil || index.UpdateSeq != 2 {
				t.Errorf("endTime %v, updateSeq %d", index.EndTime, index.UpdateSeq)
			}
		})
	}
}

func TestRecover_InterruptedRun(t *testing.T) {
	dir := runningLoginReport(t)
	if err := Recover(dir); err != nil {
		t.Fatal(err)
	}

	index, err := ReadIndex(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != StatusFailed {
		t.Errorf("run status = %v", index.Status)
	}
	if s := index.Summary; s.Passed != 1 || s.Failed != 1 || s.Running != 0 {
		t.Errorf("summary = %+v", s)
	}
	if index.Flows[0].UpdateSeq != 2 {
		t.Error("finished flow should be left alone")
	}
	if c := index.Flows[1].Commands; c.Passed != 1 || c.Skipped != 2 || c.Running != 0 {
		t.Errorf("index command summary = %+v", c)
	}

	detail, err := ReadFlowDetail(filepath.Join(dir, "flows", "flow-001.json"))
	if err != nil {
		t.Fatal(err)
	}
	if detail.Status != StatusFailed || detail.Error == nil || *detail.Error != "Flow interrupted" {
		t.Errorf("detail status %v, error %v", detail.Status, detail.Error)
	}
	if detail.EndTime == nil {
		t.Error("detail end time not set")
	}
	want := []Status{StatusPassed, StatusSkipped, StatusSkipped}
	for i, cmd := range detail.Commands {
		if cmd.Status != want[i] {
			t.Errorf("command %d = %v, want %v", i, cmd.Status, want[i])
		}
	}

	// Regenerated output now agrees with the index
	_, flows, err := ReadReport(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range flows {
		for _, cmd := range f.Commands {
			if !cmd.Status.IsTerminal() {
				t.Errorf("%s still has a %v command", f.ID, cmd.Status)
			}
		}
	}
}

func TestRecover_FinishedRunUntouched(t *testing.T) {
	dir := writeReport(t, &Index{
		Status:    StatusPassed,
		UpdateSeq: 7,
		Flows:     []FlowEntry{{ID: "flow-000", Status: StatusPassed}},
		Summary:   Summary{Total: 1, Passed: 1},
	}, nil)

	if err := Recover(dir); err != nil {
		t.Fatal(err)
	}
	index, _ := ReadIndex(filepath.Join(dir, "report.json"))
	if index.UpdateSeq != 7 || index.EndTime != nil {
		t.Errorf("finished report rewritten: seq %d", index.UpdateSeq)
	}
}

func TestInferStatus(t *testing.T) {
	tests := []struct {
		name     string
		commands []Command
		want     Status
	}{
		{"no commands", nil, StatusFailed},
		{"all passed", []Command{{Status: StatusPassed}, {Status: StatusPassed}}, StatusPassed},
		{"optional skipped", []Command{{Status: StatusPassed}, {Status: StatusSkipped}}, StatusPassed},
		{"failed wins", []Command{{Status: StatusFailed}, {Status: StatusPending}}, StatusFailed},
		{"pending", []Command{{Status: StatusPassed}, {Status: StatusPending}}, StatusRunning},
		{"only skipped", []Command{{Status: StatusSkipped}}, StatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferStatus(tt.commands); got != tt.want {
				t.Errorf("inferStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}
