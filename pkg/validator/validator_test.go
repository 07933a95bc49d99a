package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qalab/browserflow/pkg/flow"
)

// workspace writes files (relative path -> content) under a temp dir.
func workspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

func sameNames(got []string, want ...string) bool {
	names := baseNames(got)
	if len(names) != len(want) {
		return false
	}
	seen := make(map[string]int)
	for _, n := range names {
		seen[n]++
	}
	for _, w := range want {
		if seen[w] == 0 {
			return false
		}
		seen[w]--
	}
	return true
}

func expectErrorContaining(t *testing.T, result *Result, substr string) {
	t.Helper()
	for _, err := range result.Errors {
		if strings.Contains(err.Error(), substr) {
			return
		}
	}
	t.Errorf("no error containing %q in %v", substr, result.Errors)
}

func TestValidate_SingleFile(t *testing.T) {
	dir := workspace(t, map[string]string{
		"login.yaml": `
url: http://localhost:5000
name: Login page
---
- openLink: /login
- inputText:
    text: test@example.com
    id: email
- tapOn:
    id: login-btn
`,
	})

	result := New(nil, nil).Validate(filepath.Join(dir, "login.yaml"))
	if !result.IsValid() {
		t.Fatalf("errors: %v", result.Errors)
	}
	if len(result.TestCases) != 1 || len(result.Flows) != 1 {
		t.Fatalf("test cases = %v", result.TestCases)
	}
	if f := result.Flows[0]; f.Config.Name != "Login page" || len(f.Steps) != 3 {
		t.Errorf("flow = %+v", f.Config)
	}
}

func TestValidate_DirectoryTopLevelOnly(t *testing.T) {
	dir := workspace(t, map[string]string{
		"login.yaml":         `- runFlow: common/open.yaml`,
		"signup.yml":         `- openLink: /signup`,
		"notes.txt":          `not a flow`,
		"config.yaml":        `baseUrl: http://localhost:5000`,
		"common/open.yaml":   `- openLink: /login`,
		"common/unused.yaml": `- openLink: /unused`,
	})

	result := New(nil, nil).Validate(dir)
	if !result.IsValid() {
		t.Fatalf("errors: %v", result.Errors)
	}
	if !sameNames(result.TestCases, "login.yaml", "signup.yml") {
		t.Errorf("test cases = %v", baseNames(result.TestCases))
	}
	if len(result.Dependencies) != 1 || result.Dependencies[0] != filepath.Join(dir, "common", "open.yaml") {
		t.Errorf("dependencies = %v", result.Dependencies)
	}
}

func TestValidate_EmptyDirectory(t *testing.T) {
	result := New(nil, nil).Validate(t.TempDir())
	if !result.IsValid() || len(result.TestCases) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestValidate_NonExistentPath(t *testing.T) {
	result := New(nil, nil).Validate("/nonexistent/flows")
	expectErrorContaining(t, result, "cannot access")
}

func TestValidate_References(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantDep []string
		wantErr string
	}{
		{
			name: "relative runFlow",
			files: map[string]string{
				"main.yaml":  `- runFlow: login.yaml`,
				"login.yaml": `- openLink: /login`,
			},
		},
		{
			name: "runFlow into a subdirectory",
			files: map[string]string{
				"main.yaml":                `- runFlow: helpers/login.yaml`,
				"helpers/login.yaml":       `- runFlow: ../helpers/fill_form.yaml`,
				"helpers/fill_form.yaml":   `- inputText: hello`,
				"helpers/never_used.yaml":  `- runFlow: missing.yaml`,
				"helpers/also_unused.yaml": `- openLink: /`,
			},
			wantDep: []string{"login.yaml", "fill_form.yaml"},
		},
		{
			name: "retry file",
			files: map[string]string{
				"main.yaml": `
- retry:
    maxRetries: "2"
    file: search.yaml
`,
				"search.yaml": `- tapOn:
    id: submit-llm-button
`,
			},
			wantDep: []string{"search.yaml"},
		},
		{
			name: "runFlow inside repeat",
			files: map[string]string{
				"main.yaml": `
- repeat:
    times: "2"
    commands:
      - runFlow: step.yaml
`,
				"step.yaml": `- refresh`,
			},
			wantDep: []string{"step.yaml"},
		},
		{
			name: "lifecycle hooks",
			files: map[string]string{
				"main.yaml": `
onFlowStart:
  - runFlow: setup.yaml
onFlowComplete:
  - runFlow: teardown.yaml
---
- openLink: /
`,
				"setup.yaml":    `- openLink: /login`,
				"teardown.yaml": `- openLink: /logout`,
			},
			wantDep: []string{"setup.yaml", "teardown.yaml"},
		},
		{
			name: "inline runFlow and retry commands",
			files: map[string]string{
				"main.yaml": `
- runFlow:
    when:
      visible: Accept cookies
    commands:
      - tapOn: Accept cookies
- retry:
    commands:
      - runFlow: nested.yaml
`,
				"nested.yaml": `- back`,
			},
			wantDep: []string{"nested.yaml"},
		},
		{
			name: "missing runFlow target",
			files: map[string]string{
				"main.yaml": `- runFlow: nonexistent.yaml`,
			},
			wantErr: "referenced flow not found",
		},
		{
			name: "missing hook target",
			files: map[string]string{
				"main.yaml": "onFlowComplete:\n  - runFlow: gone.yaml\n---\n- openLink: /\n",
			},
			wantErr: "referenced flow not found",
		},
		{
			name: "invalid yaml in a dependency",
			files: map[string]string{
				"main.yaml":   `- runFlow: broken.yaml`,
				"broken.yaml": `- tapOn: [unclosed`,
			},
			wantErr: "parse error",
		},
		{
			name: "missing runScript",
			files: map[string]string{
				"main.yaml": `- runScript: scripts/seed.js`,
			},
			wantErr: "runScript",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := workspace(t, tt.files)
			result := New(nil, nil).Validate(filepath.Join(dir, "main.yaml"))

			if tt.wantErr != "" {
				expectErrorContaining(t, result, tt.wantErr)
				return
			}
			if !result.IsValid() {
				t.Fatalf("errors: %v", result.Errors)
			}
			if tt.wantDep != nil && !sameNames(result.Dependencies, tt.wantDep...) {
				t.Errorf("dependencies = %v, want %v", baseNames(result.Dependencies), tt.wantDep)
			}
		})
	}
}

func TestValidate_AbsoluteRunFlowPath(t *testing.T) {
	shared := workspace(t, map[string]string{"login.yaml": `- openLink: /login`})
	dir := workspace(t, map[string]string{
		"main.yaml": "- runFlow: " + filepath.Join(shared, "login.yaml"),
	})

	result := New(nil, nil).Validate(filepath.Join(dir, "main.yaml"))
	if !result.IsValid() {
		t.Errorf("errors: %v", result.Errors)
	}
}

func TestValidate_Cycles(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"self reference", map[string]string{"main.yaml": `- runFlow: main.yaml`}},
		{"two files", map[string]string{
			"main.yaml":   `- runFlow: login.yaml`,
			"login.yaml":  `- runFlow: logout.yaml`,
			"logout.yaml": `- runFlow: login.yaml`,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := workspace(t, tt.files)
			result := New(nil, nil).Validate(filepath.Join(dir, "main.yaml"))
			expectErrorContaining(t, result, "circular dependency detected")
		})
	}
}

func TestValidate_SharedDependencyIsNotACycle(t *testing.T) {
	dir := workspace(t, map[string]string{
		"login.yaml":         `- runFlow: common/open.yaml`,
		"signup.yaml":        "- runFlow: common/open.yaml\n- runFlow: common/open.yaml\n",
		"common/open.yaml":   `- runFlow: deeper.yaml`,
		"common/deeper.yaml": `- openLink: /`,
	})

	result := New(nil, nil).Validate(dir)
	if !result.IsValid() {
		t.Fatalf("errors: %v", result.Errors)
	}
	if len(result.TestCases) != 2 || len(result.Dependencies) != 2 {
		t.Errorf("test cases %v, dependencies %v", result.TestCases, result.Dependencies)
	}
}

func TestValidate_DependencyAlsoATestCase(t *testing.T) {
	dir := workspace(t, map[string]string{
		"a_dashboard.yaml": `- runFlow: b_login.yaml`,
		"b_login.yaml":     `- openLink: /login`,
	})

	result := New(nil, nil).Validate(dir)
	if !result.IsValid() {
		t.Fatalf("errors: %v", result.Errors)
	}
	if len(result.TestCases) != 2 || len(result.Dependencies) != 0 {
		t.Errorf("test cases %v, dependencies %v", baseNames(result.TestCases), result.Dependencies)
	}
}

func TestValidate_TagFilters(t *testing.T) {
	files := map[string]string{
		"home.yaml":   "tags: [smoke]\n---\n- openLink: /\n",
		"login.yaml":  "tags: [smoke, login]\n---\n- runFlow: helpers/untagged.yaml\n",
		"signup.yaml": "tags: [regression, signup]\n---\n- openLink: /signup\n",
		"wip.yaml":    "tags: [regression, wip]\n---\n- openLink: /wip\n",
		"plain.yaml":  "- openLink: /about\n",

		"helpers/untagged.yaml": "- openLink: /login\n",
	}

	tests := []struct {
		name     string
		include  []string
		exclude  []string
		want     []string
		excluded int
	}{
		{"no filters", nil, nil, []string{"home.yaml", "login.yaml", "signup.yaml", "wip.yaml", "plain.yaml"}, 0},
		{"include smoke", []string{"smoke"}, nil, []string{"home.yaml", "login.yaml"}, 3},
		{"include any of", []string{"login", "signup"}, nil, []string{"login.yaml", "signup.yaml"}, 3},
		{"exclude wip", nil, []string{"wip"}, []string{"home.yaml", "login.yaml", "signup.yaml", "plain.yaml"}, 1},
		{"include and exclude", []string{"regression"}, []string{"wip"}, []string{"signup.yaml"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := workspace(t, files)
			result := New(tt.include, tt.exclude).Validate(dir)
			if !result.IsValid() {
				t.Fatalf("errors: %v", result.Errors)
			}
			if !sameNames(result.TestCases, tt.want...) {
				t.Errorf("test cases = %v, want %v", baseNames(result.TestCases), tt.want)
			}
			if len(result.Excluded) != tt.excluded {
				t.Errorf("excluded = %v", baseNames(result.Excluded))
			}
		})
	}
}

func TestValidate_ConfigTags(t *testing.T) {
	dir := workspace(t, map[string]string{
		"config.yaml": "includeTags: [smoke]\nexcludeTags: [wip]\n",
		"home.yaml":   "tags: [smoke]\n---\n- openLink: /\n",
		"draft.yaml":  "tags: [smoke, wip]\n---\n- openLink: /draft\n",
		"signup.yaml": "tags: [regression]\n---\n- openLink: /signup\n",
	})

	result := New(nil, nil).Validate(dir)
	if !result.IsValid() {
		t.Fatalf("errors: %v", result.Errors)
	}
	if !sameNames(result.TestCases, "home.yaml") {
		t.Errorf("test cases = %v", baseNames(result.TestCases))
	}

	// CLI tags add to the config ones
	result = New([]string{"regression"}, nil).Validate(dir)
	if !sameNames(result.TestCases, "home.yaml", "signup.yaml") {
		t.Errorf("with CLI include: %v", baseNames(result.TestCases))
	}
}

func TestValidate_ConfigFlowPatterns(t *testing.T) {
	files := map[string]string{
		"root.yaml":                  `- openLink: /`,
		"demo/smoke/home.yaml":       `- openLink: /`,
		"demo/smoke/login.yaml":      `- openLink: /login`,
		"demo/regression/signup.yml": `- openLink: /signup`,
		"demo/regression/deep/logout.yaml": `- openLink: /logout`,
		"search/brave.yaml":                `- openLink: https://search.brave.com`,
		"demo/smoke/README.md":             `docs`,
	}

	tests := []struct {
		name     string
		patterns string
		want     []string
	}{
		{"glob", "[demo/smoke/*]", []string{"home.yaml", "login.yaml"}},
		{"directory is recursive", "[demo/regression]", []string{"signup.yml", "logout.yaml"}},
		{"trailing double star", "[demo/regression/**]", []string{"signup.yml", "logout.yaml"}},
		{"leading double star", "['**/logout.yaml']", []string{"logout.yaml"}},
		{"double star with dir suffix", "['**/deep/*.yaml']", []string{"logout.yaml"}},
		{"several patterns", "[demo/smoke/home.yaml, search/*]", []string{"home.yaml", "brave.yaml"}},
		{"overlapping patterns", "[demo/smoke/*, demo/smoke/home.yaml, demo/smoke]", []string{"home.yaml", "login.yaml"}},
		{"no match", "[nothing/*]", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := map[string]string{"config.yaml": "flows: " + tt.patterns + "\n"}
			for k, v := range files {
				fs[k] = v
			}
			dir := workspace(t, fs)

			result := New(nil, nil).Validate(dir)
			if !result.IsValid() {
				t.Fatalf("errors: %v", result.Errors)
			}
			if !sameNames(result.TestCases, tt.want...) {
				t.Errorf("test cases = %v, want %v", baseNames(result.TestCases), tt.want)
			}
		})
	}
}

func TestValidate_InvalidPattern(t *testing.T) {
	dir := workspace(t, map[string]string{
		"config.yaml": "flows: ['[invalid']\n",
		"home.yaml":   `- openLink: /`,
	})
	result := New(nil, nil).Validate(dir)
	expectErrorContaining(t, result, "invalid flow pattern")
}

func TestValidate_InvalidConfig(t *testing.T) {
	dir := workspace(t, map[string]string{
		"config.yaml": "flows: [unclosed\n",
		"home.yaml":   `- openLink: /`,
	})
	result := New(nil, nil).Validate(dir)
	expectErrorContaining(t, result, "invalid config")
}

func TestValidate_UnreadableDirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root can read any directory")
	}
	dir := workspace(t, map[string]string{"config.yaml": "flows: [locked]\n", "locked/a.yaml": `- back`})
	locked := filepath.Join(dir, "locked")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(locked, 0o755)

	result := New(nil, nil).Validate(dir)
	expectErrorContaining(t, result, "failed to scan directory")
}

func TestValidate_DependenciesAndExcluded(t *testing.T) {
	dir := workspace(t, map[string]string{
		"login.yaml": `
url: http://localhost:5000
tags: [smoke]
---
- runFlow: common/login.yaml
`,
		"wip.yaml":          "tags: [wip]\n---\n- openLink: /signup\n",
		"common/login.yaml": `- tapOn: "Log in"`,
	})

	result := New(nil, []string{"wip"}).Validate(dir)
	if !result.IsValid() {
		t.Fatalf("errors: %v", result.Errors)
	}
	if !sameNames(result.TestCases, "login.yaml") {
		t.Errorf("test cases = %v", result.TestCases)
	}
	if len(result.Flows) != 1 || result.Flows[0].Config.URL != "http://localhost:5000" {
		t.Errorf("flows = %+v", result.Flows)
	}
	if !sameNames(result.Excluded, "wip.yaml") {
		t.Errorf("excluded = %v", result.Excluded)
	}
	if len(result.Dependencies) != 1 || result.Dependencies[0] != filepath.Join(dir, "common", "login.yaml") {
		t.Errorf("dependencies = %v", result.Dependencies)
	}
}

func TestValidate_MultiplePaths(t *testing.T) {
	dir := workspace(t, map[string]string{"a.yaml": `- openLink: /`, "b.yaml": `- openLink: /`})
	a, b := filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")

	result := New(nil, nil).Validate(b, a, b)
	if !result.IsValid() {
		t.Fatalf("errors: %v", result.Errors)
	}
	if len(result.TestCases) != 2 || result.TestCases[0] != b || result.TestCases[1] != a {
		t.Errorf("test cases = %v, want argument order without duplicates", result.TestCases)
	}
}

func TestValidate_RunScriptPresent(t *testing.T) {
	dir := workspace(t, map[string]string{
		"main.yaml":       `- runScript: scripts/seed.js`,
		"scripts/seed.js": `output.ready = true`,
	})
	if result := New(nil, nil).Validate(filepath.Join(dir, "main.yaml")); !result.IsValid() {
		t.Errorf("errors: %v", result.Errors)
	}
}

func TestValidatePatterns(t *testing.T) {
	dir := workspace(t, map[string]string{
		"smoke/home.yaml":        "tags: [smoke]\n---\n- openLink: /\n",
		"smoke/login.yaml":       "tags: [smoke]\n---\n- openLink: /login\n",
		"regression/signup.yaml": "tags: [regression]\n---\n- openLink: /signup\n",
		"regression/wip.yaml":    "tags: [regression, wip]\n---\n- openLink: /wip\n",
	})

	result := New(nil, nil).ValidatePatterns(dir, []string{"smoke/*"})
	if !result.IsValid() || !sameNames(result.TestCases, "home.yaml", "login.yaml") {
		t.Errorf("smoke stage = %v (%v)", baseNames(result.TestCases), result.Errors)
	}

	result = New(nil, []string{"wip"}).ValidatePatterns(dir, []string{"**/signup.yaml", "regression"})
	if !sameNames(result.TestCases, "signup.yaml") || !sameNames(result.Excluded, "wip.yaml") {
		t.Errorf("regression stage = %v, excluded %v", baseNames(result.TestCases), baseNames(result.Excluded))
	}
}

func TestShouldInclude(t *testing.T) {
	f := &flow.Flow{Config: flow.Config{Tags: []string{"smoke", "auth"}}}

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    bool
	}{
		{"no filters", nil, nil, true},
		{"included", []string{"auth"}, nil, true},
		{"not included", []string{"regression"}, nil, false},
		{"excluded", nil, []string{"smoke"}, false},
		{"exclude wins", []string{"auth"}, []string{"smoke"}, false},
		{"unrelated exclude", []string{"smoke"}, []string{"wip"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldInclude(f, tt.include, tt.exclude); got != tt.want {
				t.Errorf("ShouldInclude() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResult_IsValid(t *testing.T) {
	r := &Result{}
	if !r.IsValid() {
		t.Error("empty result should be valid")
	}
	r.addError("login.yaml", "bad step %d", 2)
	if r.IsValid() {
		t.Error("result with errors should be invalid")
	}
	if got := r.Errors[0].Error(); got != "login.yaml: bad step 2" {
		t.Errorf("Error() = %q", got)
	}
}
