package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/qalab/browserflow/pkg/flow"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	OutputDir     string
	Stage         string // Pipeline stage, empty for a plain run
	Browser       Browser
	Metadata      Metadata
	CI            *CI
	RunnerVersion string
	DriverName    string // webdriver, cdp, mock
}

// BuildSkeleton creates the initial report structure from parsed flows.
// All flows and commands are set to "pending" status.
// This should be called after YAML validation, before execution starts.
func BuildSkeleton(flows []flow.Flow, cfg BuilderConfig) (*Index, []FlowDetail, error) {
	now := time.Now()

	index := &Index{
		Version:     Version,
		RunID:       uuid.NewString(),
		Stage:       cfg.Stage,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Browser:     cfg.Browser,
		Metadata:    cfg.Metadata,
		CI:          cfg.CI,
		Runner: RunnerInfo{
			Version: cfg.RunnerVersion,
			Driver:  cfg.DriverName,
		},
		Summary: Summary{
			Total:   len(flows),
			Pending: len(flows),
		},
		Flows: make([]FlowEntry, len(flows)),
	}

	flowDetails := make([]FlowDetail, len(flows))

	for i := range flows {
		f := &flows[i]
		flowID := fmt.Sprintf("flow-%03d", i)
		commands := buildCommands(f.Steps)

		browser := cfg.Browser
		if f.Config.Browser != "" {
			browser = Browser{Name: f.Config.Browser, Headless: cfg.Browser.Headless}
		}

		index.Flows[i] = FlowEntry{
			Index:      i,
			ID:         flowID,
			Name:       f.DisplayName(),
			SourceFile: f.SourcePath,
			DataFile:   filepath.Join("flows", flowID+".json"),
			AssetsDir:  filepath.Join("assets", flowID),
			Browser:    browser.Name,
			Status:     StatusPending,
			Commands: CommandSummary{
				Total:   len(commands),
				Pending: len(commands),
			},
		}

		flowDetails[i] = FlowDetail{
			ID:         flowID,
			Name:       f.DisplayName(),
			SourceFile: f.SourcePath,
			Tags:       f.Config.Tags,
			Browser:    &browser,
			Status:     StatusPending,
			Commands:   commands,
		}
	}

	return index, flowDetails, nil
}

// buildCommands creates Command entries from flow steps.
func buildCommands(steps []flow.Step) []Command {
	commands := make([]Command, len(steps))
	for i, step := range steps {
		commands[i] = Command{
			ID:          fmt.Sprintf("cmd-%03d", i),
			Index:       i,
			Type:        string(step.Type()),
			Label:       step.Label(),
			Description: step.Describe(),
			Status:      StatusPending,
			Params:      ExtractParams(step),
		}
	}
	return commands
}

// ExtractParams extracts the reportable parameters of a step, nil when it has none.
func ExtractParams(step flow.Step) *CommandParams {
	params := &CommandParams{}
	hasContent := false

	if sel := extractSelector(step); sel != nil {
		params.Selector = sel
		hasContent = true
	}

	switch s := step.(type) {
	case *flow.InputTextStep:
		if s.Text != "" {
			params.Text = s.Text
			hasContent = true
		}
	case *flow.AssertPageContainsStep:
		params.Text = s.Text
		hasContent = true
	case *flow.OpenLinkStep:
		params.URL = s.Link
		hasContent = true
	case *flow.PressKeyStep:
		params.Key = s.Key
		hasContent = true
	}

	if t, ok := step.(interface{ Timeout() int }); ok && t.Timeout() > 0 {
		params.Timeout = t.Timeout()
		hasContent = true
	}

	if !hasContent {
		return nil
	}
	return params
}

// extractSelector extracts selector from steps that have one.
func extractSelector(step flow.Step) *Selector {
	var sel *flow.Selector

	switch s := step.(type) {
	case *flow.TapOnStep:
		sel = &s.Selector
	case *flow.InputTextStep:
		sel = &s.Selector
	case *flow.InputRandomEmailStep:
		sel = &s.Selector
	case *flow.EraseTextStep:
		sel = &s.Selector
	case *flow.CopyTextFromStep:
		sel = &s.Selector
	case *flow.AssertVisibleStep:
		sel = &s.Selector
	case *flow.AssertNotVisibleStep:
		sel = &s.Selector
	case *flow.AssertEnabledStep:
		sel = &s.Selector
	case *flow.AssertAttributeStep:
		sel = &s.Selector
	default:
		return nil
	}

	key, value := sel.Primary()
	if key == "" {
		return nil
	}
	return &Selector{
		Type:     key,
		Value:    value,
		Index:    sel.Index,
		Optional: step.IsOptional(),
	}
}

// WriteSkeleton writes the initial skeleton to disk.
// Creates report.json, all flow detail files, and report.html with pending status.
func WriteSkeleton(outputDir string, index *Index, flowDetails []FlowDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "flows")); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}
	if err := ensureDir(filepath.Join(outputDir, "assets")); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	for _, fd := range flowDetails {
		flowPath := filepath.Join(outputDir, "flows", fd.ID+".json")
		if err := atomicWriteJSON(flowPath, fd); err != nil {
			return fmt.Errorf("write flow %s: %w", fd.ID, err)
		}
		if err := ensureDir(filepath.Join(outputDir, "assets", fd.ID)); err != nil {
			return fmt.Errorf("create assets dir for %s: %w", fd.ID, err)
		}
	}

	if err := atomicWriteJSON(filepath.Join(outputDir, "report.json"), index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	// Rendered early so the file can be opened while the run is live
	if err := GenerateHTML(outputDir, HTMLConfig{ReportDir: outputDir}); err != nil {
		return fmt.Errorf("generate html: %w", err)
	}

	return nil
}
