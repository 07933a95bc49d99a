package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/config"
	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/driver/mock"
	"github.com/qalab/browserflow/pkg/executor"
	"github.com/qalab/browserflow/pkg/report"
	"github.com/qalab/browserflow/pkg/validator"
)

// silenceStdout discards everything printed to stdout during the test.
func silenceStdout(t *testing.T) {
	t.Helper()
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = old
		devNull.Close()
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveOutputDir_Default(t *testing.T) {
	dir, err := resolveOutputDir("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(dir, "reports/") {
		t.Errorf("expected dir to start with reports/, got %s", dir)
	}
	// Should have timestamp subfolder
	parts := strings.Split(dir, "/")
	if len(parts) != 2 {
		t.Errorf("expected reports/<timestamp>, got %s", dir)
	}
}

func TestResolveOutputDir_CustomOutput(t *testing.T) {
	dir, err := resolveOutputDir("./my-reports", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(dir, "my-reports/") {
		t.Errorf("expected dir to start with my-reports/, got %s", dir)
	}
}

func TestResolveOutputDir_Flatten(t *testing.T) {
	dir, err := resolveOutputDir("./my-reports", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir != "my-reports" {
		t.Errorf("expected my-reports, got %s", dir)
	}
}

func TestResolveOutputDir_FlattenWithoutOutput(t *testing.T) {
	_, err := resolveOutputDir("", true)
	if err == nil {
		t.Fatal("expected error when flatten is used without output")
	}

	if !strings.Contains(err.Error(), "--flatten requires --output") {
		t.Errorf("expected error about --flatten requiring --output, got: %v", err)
	}
}

func TestParseEnvVars(t *testing.T) {
	result := parseEnvVars([]string{"USER=test", "PASS=secret", "EMPTY=", "URL=http://x/?a=b", "INVALID"})

	want := map[string]string{"USER": "test", "PASS": "secret", "EMPTY": "", "URL": "http://x/?a=b"}
	if len(result) != len(want) {
		t.Fatalf("got %v", result)
	}
	for k, v := range want {
		if result[k] != v {
			t.Errorf("%s = %q, want %q", k, result[k], v)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	flagNames := make(map[string]bool)
	for _, f := range GlobalFlags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	for _, name := range []string{"driver", "d", "browser", "b", "remote-url", "headless", "verbose", "no-ansi"} {
		if !flagNames[name] {
			t.Errorf("expected flag %q to be defined", name)
		}
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := NewApp()
	for _, name := range []string{"serve", "test", "suite", "open", "validate", "report"} {
		if app.Command(name) == nil {
			t.Errorf("command %q missing", name)
		}
	}
}

func TestTestCommand_NoArgs(t *testing.T) {
	err := NewApp().Run([]string{"browserflow", "test"})
	if err == nil {
		t.Error("expected error when no flow files provided")
	}
}

func TestTestCommand_FlattenWithoutOutput(t *testing.T) {
	dir := t.TempDir()
	flowFile := filepath.Join(dir, "test.yaml")
	writeFile(t, flowFile, `- openLink: http://localhost:5000/`)

	err := NewApp().Run([]string{"browserflow", "--driver", "mock", "test", "--flatten", flowFile})
	if err == nil || !strings.Contains(err.Error(), "--flatten requires --output") {
		t.Errorf("err = %v", err)
	}
}

func TestTestCommand_MockRun(t *testing.T) {
	silenceStdout(t)
	dir := t.TempDir()
	flows := filepath.Join(dir, "flows")
	writeFile(t, filepath.Join(flows, "config.yaml"), "baseUrl: http://localhost:5000\nenv:\n  USER: test@example.com\n")
	writeFile(t, filepath.Join(flows, "login.yaml"), `
name: Login
tags: [smoke]
---
- openLink: /login
- inputText:
    text: ${USER}
    id: email
- runFlow: common/submit.yaml
`)
	writeFile(t, filepath.Join(flows, "signup.yaml"), `
tags: [regression]
---
- openLink: /signup
`)
	writeFile(t, filepath.Join(flows, "common", "submit.yaml"), `- tapOn:
    id: login-btn
`)
	out := filepath.Join(dir, "out")

	err := NewApp().Run([]string{"browserflow", "--driver", "mock", "test",
		"--output", out, "--flatten", "--include-tags", "smoke", flows})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	index, err := report.ReadIndex(filepath.Join(out, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != report.StatusPassed || len(index.Flows) != 1 {
		t.Fatalf("index status %v flows %d", index.Status, len(index.Flows))
	}
	if index.Metadata.BaseURL != "http://localhost:5000" || index.Runner.Driver != "mock" {
		t.Errorf("metadata = %+v runner = %+v", index.Metadata, index.Runner)
	}
	for _, name := range []string{"report.html", report.JUnitFile, logFileName} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	logData, err := os.ReadFile(filepath.Join(out, logFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logData), "TEST EXECUTION #1") {
		t.Error("log is missing the execution header")
	}
}

func TestTestCommand_ValidationError(t *testing.T) {
	silenceStdout(t)
	dir := t.TempDir()
	flowFile := filepath.Join(dir, "main.yaml")
	writeFile(t, flowFile, `- runFlow: missing.yaml`)

	err := NewApp().Run([]string{"browserflow", "--driver", "mock", "test",
		"--output", filepath.Join(dir, "out"), "--flatten", flowFile})
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("err = %v", err)
	}
}

func TestExecuteTest_SecondRunNumbersHeader(t *testing.T) {
	silenceStdout(t)
	dir := t.TempDir()
	flowFile := filepath.Join(dir, "test.yaml")
	writeFile(t, flowFile, `- openLink: http://localhost:5000/`)

	cfg := &RunConfig{
		FlowPaths: []string{flowFile},
		Workspace: &config.Config{},
		OutputDir: filepath.Join(dir, "reports"),
		Driver:    DriverOptions{Driver: driverMock, Browser: "chrome"},
	}
	for i := 0; i < 2; i++ {
		if err := executeTest(context.Background(), cfg); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, logFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "TEST EXECUTION #2") {
		t.Error("second run should be numbered 2")
	}
}

func TestLoadWorkspace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "baseUrl: http://app:5000\nbrowser: firefox\n")

	ws, _, err := loadWorkspace("", []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if ws.BaseURL != "http://app:5000" {
		t.Errorf("BaseURL = %q", ws.BaseURL)
	}

	ws, _, err = loadWorkspace("", []string{dir, dir})
	if err != nil || ws.BaseURL != "" {
		t.Errorf("several paths should not pick a config: %+v %v", ws, err)
	}

	if _, _, err := loadWorkspace(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

func TestNewDriverFactory(t *testing.T) {
	factory, err := newDriverFactory(DriverOptions{Driver: driverMock, Browser: "chrome"})
	if err != nil {
		t.Fatal(err)
	}
	d, err := factory(context.Background(), "firefox")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*mock.Driver); !ok || d.BrowserInfo().Browser != "firefox" {
		t.Errorf("driver = %T %+v", d, d.BrowserInfo())
	}

	if _, err := newDriverFactory(DriverOptions{Driver: "appium"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestDriverOptions_CDP(t *testing.T) {
	opts := DriverOptions{Driver: driverCDP, Browser: "brave", Binary: "/opt/brave", Headless: true}

	cdpOpts, err := opts.cdpOptions("")
	if err != nil {
		t.Fatal(err)
	}
	if cdpOpts.Browser != "brave" || cdpOpts.Binary != "/opt/brave" || !cdpOpts.Headless || cdpOpts.WindowWidth != 1920 {
		t.Errorf("cdp options = %+v", cdpOpts)
	}

	// A per-flow override does not inherit the default browser's binary
	cdpOpts, err = opts.cdpOptions("chrome")
	if err != nil || cdpOpts.Binary != "" {
		t.Errorf("chrome override = %+v, %v", cdpOpts, err)
	}

	if _, err := opts.cdpOptions("firefox"); err == nil {
		t.Error("cdp cannot drive firefox")
	}
}

func TestChooseBrowser(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1\n", "brave", false},
		{"2\n", "chrome", false},
		{" 3 \n", "firefox", false},
		{"Firefox\n", "firefox", false},
		{"4\n", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := chooseBrowser(bufio.NewReader(strings.NewReader(tt.input)), &out)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("chooseBrowser(%q) = %q, %v", tt.input, got, err)
		}
		if !strings.Contains(out.String(), "1. Brave") {
			t.Errorf("menu = %q", out.String())
		}
	}
}

// fakeRemote is a WebDriver remote end that accepts every command.
type fakeRemote struct {
	mu       sync.Mutex
	requests []string
	caps     map[string]interface{}
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodPost && r.URL.Path == "/session" {
		var body struct {
			Capabilities struct {
				AlwaysMatch map[string]interface{} `json:"alwaysMatch"`
			} `json:"capabilities"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.caps = body.Capabilities.AlwaysMatch
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"value": map[string]interface{}{
				"sessionId":    "s1",
				"capabilities": map[string]interface{}{"browserName": "firefox", "browserVersion": "128.0"},
			},
		})
		return
	}
	_, _ = w.Write([]byte(`{"value":null}`))
}

func (f *fakeRemote) saw(req string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == req {
			return true
		}
	}
	return false
}

func TestOpenBrowser(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote)
	defer server.Close()

	var out bytes.Buffer
	err := openBrowser(context.Background(), strings.NewReader("3\n\n"), &out,
		DriverOptions{RemoteURL: server.URL}, "https://github.com")
	if err != nil {
		t.Fatalf("openBrowser() error = %v", err)
	}

	for _, req := range []string{
		"POST /session",
		"POST /session/s1/url",
		"POST /session/s1/window/maximize",
		"DELETE /session/s1",
	} {
		if !remote.saw(req) {
			t.Errorf("remote never received %s", req)
		}
	}
	if remote.caps["browserName"] != "firefox" {
		t.Errorf("capabilities = %v", remote.caps)
	}
	if !strings.Contains(out.String(), "Opening Firefox...") || !strings.Contains(out.String(), "Press Enter") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPlanStages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "smoke", "home.yaml"), "tags: [smoke]\n---\n- openLink: /\n")
	writeFile(t, filepath.Join(dir, "regression", "login.yaml"), "tags: [regression]\n---\n- openLink: /login\n")
	writeFile(t, filepath.Join(dir, "regression", "wip.yaml"), "tags: [regression, wip]\n---\n- openLink: /wip\n")

	cfg := &RunConfig{
		ExcludeTags: []string{"wip"},
		Workspace: &config.Config{Stages: []config.Stage{
			{Name: "smoke", Flows: []string{"smoke"}, Parallel: 1},
			{Name: "regression", Flows: []string{"regression/*"}, Parallel: 4, ContinueOnFailure: true},
		}},
	}
	stages, err := planStages(cfg, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 2 {
		t.Fatalf("stages = %d", len(stages))
	}
	if len(stages[0].Flows) != 1 || len(stages[1].Flows) != 1 {
		t.Errorf("flows per stage = %d, %d", len(stages[0].Flows), len(stages[1].Flows))
	}
	if stages[1].Parallelism != 4 || !stages[1].ContinueOnFailure {
		t.Errorf("regression stage = %+v", stages[1])
	}
}

func TestPlanStages_DefaultStagesUseTags(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "home.yaml"), "tags: [smoke]\n---\n- openLink: /\n")
	writeFile(t, filepath.Join(dir, "login.yaml"), "tags: [regression]\n---\n- openLink: /login\n")
	writeFile(t, filepath.Join(dir, "signup.yaml"), "tags: [regression]\n---\n- openLink: /signup\n")

	stages, err := planStages(&RunConfig{Workspace: &config.Config{}}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if stages[0].Name != "smoke" || len(stages[0].Flows) != 1 || len(stages[1].Flows) != 2 {
		t.Errorf("stages = %+v", stages)
	}
}

func TestSuiteCommand_MockRun(t *testing.T) {
	silenceStdout(t)
	dir := t.TempDir()
	flows := filepath.Join(dir, "flows")
	writeFile(t, filepath.Join(flows, "config.yaml"), `
baseUrl: http://localhost:5000
stages:
  - name: smoke
    flows: [smoke]
  - name: regression
    flows: [regression]
`)
	writeFile(t, filepath.Join(flows, "smoke", "home.yaml"), "- openLink: /\n")
	writeFile(t, filepath.Join(flows, "regression", "login.yaml"), "- openLink: /login\n")
	out := filepath.Join(dir, "out")

	err := NewApp().Run([]string{"browserflow", "--driver", "mock", "suite", "--output", out, "--flatten", flows})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, stage := range []string{"smoke", "regression"} {
		index, err := report.ReadIndex(filepath.Join(out, stage, "report.json"))
		if err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		if index.Stage != stage || index.Status != report.StatusPassed {
			t.Errorf("%s: stage %q status %v", stage, index.Stage, index.Status)
		}
		if _, err := os.Stat(filepath.Join(out, stage, "report.html")); err != nil {
			t.Errorf("%s html: %v", stage, err)
		}
	}
}

func TestPrintPlan(t *testing.T) {
	old := colorsEnabled
	colorsEnabled = false
	defer func() { colorsEnabled = old }()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "login.yaml"), "name: Valid login\ntags: [smoke]\n---\n- runFlow: helpers/open.yaml\n")
	writeFile(t, filepath.Join(dir, "helpers", "open.yaml"), "- openLink: /login\n")
	writeFile(t, filepath.Join(dir, "broken.yaml"), "- runFlow: nowhere.yaml\n")

	result := validator.New(nil, nil).Validate(filepath.Join(dir, "login.yaml"))
	var out bytes.Buffer
	printPlan(&out, result)
	for _, want := range []string{"1. Valid login", "[smoke]", "Dependencies:", "open.yaml", "1 flow(s) valid"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("plan missing %q:\n%s", want, out.String())
		}
	}

	result = validator.New(nil, nil).Validate(filepath.Join(dir, "broken.yaml"))
	out.Reset()
	printPlan(&out, result)
	if !strings.Contains(out.String(), "Errors:") || strings.Contains(out.String(), "valid\n") {
		t.Errorf("plan for invalid flow:\n%s", out.String())
	}
}

func TestValidateCommand_ExitCode(t *testing.T) {
	silenceStdout(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "- runFlow: nowhere.yaml\n")

	err := NewApp().Run([]string{"browserflow", "validate", filepath.Join(dir, "broken.yaml")})
	ec, ok := err.(cli.ExitCoder)
	if !ok || ec.ExitCode() != 1 {
		t.Errorf("err = %v, want exit code 1", err)
	}
}

// runMockReport produces a finished report directory.
func runMockReport(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	flowFile := filepath.Join(dir, "home.yaml")
	writeFile(t, flowFile, "name: Home\n---\n- openLink: http://localhost:5000/\n")
	flows, err := checkValidation(validator.New(nil, nil).Validate(flowFile))
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "report")
	_, err = executor.New(executor.RunnerConfig{
		OutputDir: out,
		NewDriver: func(context.Context, string) (core.Driver, error) { return mock.New(mock.Config{}), nil },
	}).Run(context.Background(), flows)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestReportCommand_Regenerate(t *testing.T) {
	silenceStdout(t)
	dir := runMockReport(t)
	for _, name := range []string{"report.html", report.JUnitFile} {
		_ = os.Remove(filepath.Join(dir, name))
	}

	if err := NewApp().Run([]string{"browserflow", "report", "--title", "Nightly", dir}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	html, err := os.ReadFile(filepath.Join(dir, "report.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), "Nightly") {
		t.Error("title not applied")
	}
	if _, err := os.Stat(filepath.Join(dir, report.JUnitFile)); err != nil {
		t.Error(err)
	}
}

func TestReportCommand_NotAReport(t *testing.T) {
	err := NewApp().Run([]string{"browserflow", "report", t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "not a report directory") {
		t.Errorf("err = %v", err)
	}
}

func TestFollowReport_FinishedRun(t *testing.T) {
	silenceStdout(t)
	dir := runMockReport(t)

	var seen []string
	index, err := followReport(context.Background(), report.NewConsumer(dir), 10*time.Millisecond, func(f report.FlowEntry) {
		seen = append(seen, f.Name+":"+string(f.Status))
	})
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != report.StatusPassed || len(seen) != 1 || seen[0] != "Home:passed" {
		t.Errorf("status %v seen %v", index.Status, seen)
	}
}

func TestFollowReport_Cancelled(t *testing.T) {
	dir := t.TempDir()
	index := report.Index{Status: report.StatusRunning, Flows: []report.FlowEntry{{ID: "flow-000", Name: "Home", Status: report.StatusRunning}}}
	data, err := json.Marshal(index)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "report.json"), string(data))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = followReport(ctx, report.NewConsumer(dir), 10*time.Millisecond, func(report.FlowEntry) {})
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDisplayURL(t *testing.T) {
	if got := displayURL(":5000"); got != "http://localhost:5000" {
		t.Errorf("displayURL(:5000) = %q", got)
	}
	if got := displayURL("0.0.0.0:8080"); got != "http://0.0.0.0:8080" {
		t.Errorf("displayURL(0.0.0.0:8080) = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{1500, "1.5s"},
		{59999, "60.0s"},
		{60000, "1m 0s"},
		{125000, "2m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.ms); got != tt.want {
			t.Errorf("formatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestColor_Enabled(t *testing.T) {
	oldEnabled := colorsEnabled
	defer func() { colorsEnabled = oldEnabled }()

	colorsEnabled = true
	if result := color(colorGreen); result != colorGreen {
		t.Errorf("color(colorGreen) with colors enabled = %q, want %q", result, colorGreen)
	}
}

func TestColor_Disabled(t *testing.T) {
	oldEnabled := colorsEnabled
	defer func() { colorsEnabled = oldEnabled }()

	colorsEnabled = false
	if result := color(colorGreen); result != "" {
		t.Errorf("color(colorGreen) with colors disabled = %q, want empty string", result)
	}
}

func TestIsCompoundCommand(t *testing.T) {
	for desc, want := range map[string]bool{
		"runFlow: login.yaml":   true,
		"repeat: 3 times":       true,
		"retry: 2 times":        true,
		`tapOn: id="login-btn"`: false,
	} {
		if got := isCompoundCommand(desc); got != want {
			t.Errorf("isCompoundCommand(%q) = %v", desc, got)
		}
	}
}

func TestPrintSummary_NoCrash(t *testing.T) {
	silenceStdout(t)

	result := &executor.RunResult{
		TotalFlows:   3,
		PassedFlows:  1,
		FailedFlows:  1,
		SkippedFlows: 1,
		Status:       report.StatusFailed,
		Duration:     5000,
		FlowResults: []executor.FlowResult{
			{Name: "test-flow-1", Status: report.StatusPassed, StepsTotal: 3, StepsPassed: 3, Duration: 2000},
			{
				Name:   "very-long-test-flow-name-that-exceeds-36-characters-for-truncation",
				Status: report.StatusFailed, StepsTotal: 5, StepsPassed: 2, StepsFailed: 1, StepsSkipped: 2,
				Duration: 3000, Error: "some error",
			},
			{Name: "skipped-flow", Status: report.StatusSkipped},
		},
	}
	index := &report.Index{
		Browser: report.Browser{Name: "chrome", Version: "126.0"},
		Flows: []report.FlowEntry{
			{Name: "test-flow-1", Status: report.StatusPassed},
			{Name: "long", Browser: "firefox", Status: report.StatusFailed},
			{Name: "skipped-flow", Status: report.StatusSkipped},
		},
	}

	printSummary(result, index)
	printSummary(result, nil)
}

func TestBrowserLabel(t *testing.T) {
	index := &report.Index{Browser: report.Browser{Name: "chrome", Version: "126.0"}}
	if got := browserLabel(index, &report.FlowEntry{}); got != "chrome 126.0" {
		t.Errorf("default = %q", got)
	}
	if got := browserLabel(index, &report.FlowEntry{Browser: "firefox"}); got != "firefox" {
		t.Errorf("override = %q", got)
	}
	if got := browserLabel(&report.Index{}, &report.FlowEntry{}); got != "Unknown" {
		t.Errorf("empty = %q", got)
	}
}

func TestCallbacks_NoCrash(t *testing.T) {
	silenceStdout(t)

	onFlowStart(0, 5, "Login Flow", "login.yaml")
	onStepComplete(0, `tapOn: id="login-btn"`, true, 100, "")
	onStepComplete(1, `tapOn: id="login-btn"`, false, 100, "element not found")
	onStepComplete(2, `tapOn: id="login-btn"`, true, 6000, "")
	onStepComplete(3, "runFlow: login.yaml", true, 12000, "")
	onNestedFlowStart(1, "runFlow: login.yaml")
	onNestedStep(1, `inputText: "x" into id="email"`, true, 50, "")
	onNestedStep(1, `inputText: "x" into id="email"`, false, 50, "boom")
	onFlowEnd("Login Flow", report.StatusPassed, 1200, "")
	onFlowEnd("Login Flow", report.StatusFailed, 1200, "boom")
	onFlowEnd("Login Flow", report.StatusSkipped, 0, "skipped after an earlier failure")
}
