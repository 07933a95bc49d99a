package flow

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML flow file.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses flow YAML content. A file holds either a step list, or a
// config document and a step list separated by "---".
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))

	flow := &Flow{
		SourcePath: sourcePath,
	}

	switch len(parts) {
	case 0:
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty flow file"}
	case 1:
		if err := parseSteps(parts[0], flow); err != nil {
			return nil, err
		}
	default:
		if err := parseConfig(parts[0], flow); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], flow); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

// splitYAMLDocuments splits on "---" lines that are not inside a block scalar.
func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inMultiline := false
	multilineIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inMultiline {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inMultiline = true
				if i+1 < len(lines) {
					next := lines[i+1]
					multilineIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < multilineIndent {
				inMultiline = false
			}
		}

		if !inMultiline && strings.TrimRight(line, " \t\r") == "---" {
			if strings.TrimSpace(current.String()) != "" {
				parts = append(parts, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}

	return parts
}

func parseConfig(content string, flow *Flow) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}

	var hooks struct {
		OnFlowStart    []yaml.Node `yaml:"onFlowStart"`
		OnFlowComplete []yaml.Node `yaml:"onFlowComplete"`
	}
	if err := yaml.Unmarshal([]byte(content), &hooks); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}

	var err error
	if config.OnFlowStart, err = parseStepNodes(hooks.OnFlowStart, flow.SourcePath); err != nil {
		return err
	}
	if config.OnFlowComplete, err = parseStepNodes(hooks.OnFlowComplete, flow.SourcePath); err != nil {
		return err
	}

	flow.Config = config
	return nil
}

func parseSteps(content string, flow *Flow) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}

	steps, err := parseStepNodes(rawSteps, flow.SourcePath)
	if err != nil {
		return err
	}
	flow.Steps = steps
	return nil
}

func parseStepNodes(nodes []yaml.Node, sourcePath string) ([]Step, error) {
	var steps []Step
	for i := range nodes {
		step, err := parseStep(&nodes[i], sourcePath)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	// Bare command name like "- back"
	if node.Kind == yaml.ScalarNode {
		if !isStepType(node.Value) {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    node.Line,
				Message: fmt.Sprintf("unknown step type: %s", node.Value),
			}
		}
		emptyNode := &yaml.Node{Kind: yaml.MappingNode, Line: node.Line}
		return decodeStep(StepType(node.Value), emptyNode, sourcePath)
	}

	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping or command name",
		}
	}

	stepType, valueNode := extractStepType(node)
	if stepType == "" || valueNode == nil {
		msg := "unknown step type"
		if len(node.Content) > 0 {
			msg = fmt.Sprintf("unknown step type: %s", node.Content[0].Value)
		}
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: msg}
	}

	return decodeStep(StepType(stepType), valueNode, sourcePath)
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

func isStepType(key string) bool {
	switch StepType(key) {
	case StepOpenLink, StepBack, StepRefresh, StepMaximizeWindow,
		StepTapOn, StepInputText, StepInputRandomEmail, StepEraseText, StepPressKey, StepCopyTextFrom,
		StepAssertVisible, StepAssertNotVisible, StepAssertEnabled, StepAssertAttribute,
		StepAssertPageContains, StepAssertTitle, StepAssertURL, StepAssertTrue,
		StepWaitForURL, StepWait,
		StepRepeat, StepRetry, StepRunFlow, StepRunScript, StepEvalScript,
		StepTakeScreenshot, StepDefineVariables:
		return true
	}
	return false
}

// decode fills out from a mapping node, or hands a scalar to onScalar.
func decode(valueNode *yaml.Node, out interface{}, onScalar func(string) error) error {
	if valueNode.Kind == yaml.ScalarNode {
		if onScalar == nil {
			return fmt.Errorf("expected a mapping, got %q", valueNode.Value)
		}
		return onScalar(valueNode.Value)
	}
	return valueNode.Decode(out)
}

//nolint:gocyclo
func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	var (
		step Step
		err  error
	)

	textSelector := func(sel *Selector) func(string) error {
		return func(v string) error { sel.Text = v; return nil }
	}

	switch stepType {
	case StepOpenLink:
		s := &OpenLinkStep{}
		err = decode(valueNode, s, func(v string) error { s.Link = v; return nil })
		if err == nil && s.Link == "" {
			err = fmt.Errorf("openLink requires a link")
		}
		step = s

	case StepBack:
		s := &BackStep{}
		err = decode(valueNode, s, ignoreScalar)
		step = s

	case StepRefresh:
		s := &RefreshStep{}
		err = decode(valueNode, s, ignoreScalar)
		step = s

	case StepMaximizeWindow:
		s := &MaximizeWindowStep{}
		err = decode(valueNode, s, ignoreScalar)
		step = s

	case StepTapOn:
		s := &TapOnStep{}
		err = decode(valueNode, s, textSelector(&s.Selector))
		err = requireSelector(err, stepType, &s.Selector)
		step = s

	case StepInputText:
		s := &InputTextStep{}
		if valueNode.Kind == yaml.ScalarNode {
			s.Text = valueNode.Value
		} else if err = valueNode.Decode(s); err == nil {
			// "text" is the value to type, not a locator
			s.Selector.Text = ""
		}
		step = s

	case StepInputRandomEmail:
		s := &InputRandomEmailStep{}
		err = decode(valueNode, s, func(v string) error { s.Prefix = v; return nil })
		if err == nil {
			s.Selector.Text = ""
		}
		step = s

	case StepEraseText:
		s := &EraseTextStep{}
		err = decode(valueNode, s, textSelector(&s.Selector))
		err = requireSelector(err, stepType, &s.Selector)
		step = s

	case StepPressKey:
		s := &PressKeyStep{}
		err = decode(valueNode, s, func(v string) error { s.Key = v; return nil })
		if err == nil && s.Key == "" {
			err = fmt.Errorf("pressKey requires a key")
		}
		step = s

	case StepCopyTextFrom:
		s := &CopyTextFromStep{}
		err = decode(valueNode, s, textSelector(&s.Selector))
		err = requireSelector(err, stepType, &s.Selector)
		step = s

	case StepAssertVisible:
		s := &AssertVisibleStep{}
		err = decode(valueNode, s, textSelector(&s.Selector))
		err = requireSelector(err, stepType, &s.Selector)
		step = s

	case StepAssertNotVisible:
		s := &AssertNotVisibleStep{}
		err = decode(valueNode, s, textSelector(&s.Selector))
		err = requireSelector(err, stepType, &s.Selector)
		step = s

	case StepAssertEnabled:
		s := &AssertEnabledStep{}
		err = decode(valueNode, s, textSelector(&s.Selector))
		err = requireSelector(err, stepType, &s.Selector)
		step = s

	case StepAssertAttribute:
		s := &AssertAttributeStep{}
		err = decode(valueNode, s, nil)
		if err == nil && s.Attribute == "" {
			err = fmt.Errorf("assertAttribute requires an attribute")
		}
		err = requireSelector(err, stepType, &s.Selector)
		step = s

	case StepAssertPageContains:
		s := &AssertPageContainsStep{}
		err = decode(valueNode, s, func(v string) error { s.Text = v; return nil })
		if err == nil && s.Text == "" {
			err = fmt.Errorf("assertPageContains requires text")
		}
		step = s

	case StepAssertTitle:
		s := &AssertTitleStep{}
		err = decode(valueNode, s, func(v string) error { s.Match.Contains = v; return nil })
		err = requireMatch(err, stepType, s.Match)
		step = s

	case StepAssertURL:
		s := &AssertURLStep{}
		err = decode(valueNode, s, func(v string) error { s.Match.Contains = v; return nil })
		err = requireMatch(err, stepType, s.Match)
		step = s

	case StepWaitForURL:
		s := &WaitForURLStep{}
		err = decode(valueNode, s, func(v string) error { s.Match.Contains = v; return nil })
		err = requireMatch(err, stepType, s.Match)
		step = s

	case StepWait:
		s := &WaitStep{}
		err = decode(valueNode, s, func(v string) error {
			ms, convErr := strconv.Atoi(strings.TrimSpace(v))
			if convErr != nil {
				return fmt.Errorf("wait expects milliseconds, got %q", v)
			}
			s.Ms = ms
			return nil
		})
		step = s

	case StepAssertTrue:
		s := &AssertTrueStep{}
		err = decode(valueNode, s, func(v string) error { s.Script = v; return nil })
		step = s

	case StepEvalScript:
		s := &EvalScriptStep{}
		err = decode(valueNode, s, func(v string) error { s.Script = v; return nil })
		step = s

	case StepRunScript:
		s := &RunScriptStep{}
		err = decode(valueNode, s, func(v string) error { s.File = v; return nil })
		step = s

	case StepTakeScreenshot:
		s := &TakeScreenshotStep{}
		err = decode(valueNode, s, func(v string) error { s.Path = v; return nil })
		step = s

	case StepDefineVariables:
		s := &DefineVariablesStep{Env: make(map[string]string)}
		if valueNode.Kind == yaml.MappingNode {
			for i := 0; i < len(valueNode.Content)-1; i += 2 {
				s.Env[valueNode.Content[i].Value] = valueNode.Content[i+1].Value
			}
		}
		step = s

	case StepRepeat:
		return parseRepeatStep(valueNode, sourcePath)

	case StepRetry:
		return parseRetryStep(valueNode, sourcePath)

	case StepRunFlow:
		return parseRunFlowStep(valueNode, sourcePath)

	default:
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    valueNode.Line,
			Message: fmt.Sprintf("unknown step type: %s", stepType),
		}
	}

	if err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}
	setStepType(step, stepType)
	return step, nil
}

func ignoreScalar(string) error { return nil }

func requireSelector(err error, stepType StepType, sel *Selector) error {
	if err != nil {
		return err
	}
	if sel.IsEmpty() {
		return fmt.Errorf("%s requires a selector", stepType)
	}
	return nil
}

func requireMatch(err error, stepType StepType, m TextMatch) error {
	if err != nil {
		return err
	}
	if m.IsEmpty() {
		return fmt.Errorf("%s requires one of equals, contains, notContains, notEquals, matches", stepType)
	}
	return nil
}

// setStepType stamps the type on steps whose BaseStep was decoded from YAML.
func setStepType(step Step, stepType StepType) {
	if b, ok := step.(interface{ base() *BaseStep }); ok {
		b.base().StepType = stepType
	}
}

// base gives setStepType access to the embedded BaseStep.
func (b *BaseStep) base() *BaseStep { return b }

// parseRepeatStep handles repeat with nested commands.
func parseRepeatStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	var raw struct {
		Times    string      `yaml:"times"`
		While    Condition   `yaml:"while"`
		Commands []yaml.Node `yaml:"commands"`
		Optional bool        `yaml:"optional"`
		Label    string      `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}

	steps, err := parseStepNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}

	return &RepeatStep{
		BaseStep: BaseStep{StepType: StepRepeat, Optional: raw.Optional, StepLabel: raw.Label},
		Times:    raw.Times,
		While:    raw.While,
		Steps:    steps,
	}, nil
}

// parseRetryStep handles retry with nested commands.
func parseRetryStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	var raw struct {
		MaxRetries string            `yaml:"maxRetries"`
		Commands   []yaml.Node       `yaml:"commands"`
		File       string            `yaml:"file"`
		Env        map[string]string `yaml:"env"`
		Optional   bool              `yaml:"optional"`
		Label      string            `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}

	steps, err := parseStepNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}

	return &RetryStep{
		BaseStep:   BaseStep{StepType: StepRetry, Optional: raw.Optional, StepLabel: raw.Label},
		MaxRetries: raw.MaxRetries,
		File:       raw.File,
		Env:        raw.Env,
		Steps:      steps,
	}, nil
}

// parseRunFlowStep handles runFlow with optional nested commands.
func parseRunFlowStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	s := &RunFlowStep{BaseStep: BaseStep{StepType: StepRunFlow}}

	if valueNode.Kind == yaml.ScalarNode {
		s.File = valueNode.Value
		return s, nil
	}

	var raw struct {
		File     string            `yaml:"file"`
		Commands []yaml.Node       `yaml:"commands"`
		When     *Condition        `yaml:"when"`
		Env      map[string]string `yaml:"env"`
		Optional bool              `yaml:"optional"`
		Label    string            `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}

	steps, err := parseStepNodes(raw.Commands, sourcePath)
	if err != nil {
		return nil, err
	}
	if raw.File == "" && len(steps) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "runFlow requires a file or commands"}
	}

	s.File = raw.File
	s.When = raw.When
	s.Env = raw.Env
	s.Optional = raw.Optional
	s.StepLabel = raw.Label
	s.Steps = steps
	return s, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}
