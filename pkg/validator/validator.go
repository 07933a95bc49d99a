// Package validator validates browserflow flow files before execution.
// It parses all files upfront, applies tag filters, resolves runFlow
// references and detects errors.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qalab/browserflow/pkg/config"
	"github.com/qalab/browserflow/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// TestCases is the list of flow file paths to execute, in order.
	TestCases []string
	// Flows holds the parsed test cases, aligned with TestCases.
	Flows []flow.Flow
	// Dependencies are files reached only through runFlow or retry.
	Dependencies []string
	// Excluded are flows dropped by tag filters.
	Excluded []string
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(file, format string, args ...interface{}) {
	r.Errors = append(r.Errors, &ValidationError{File: file, Message: fmt.Sprintf(format, args...)})
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// ShouldInclude reports whether a flow passes the tag filters: no
// excluded tag, and at least one included tag when any are given.
func ShouldInclude(f *flow.Flow, includeTags, excludeTags []string) bool {
	for _, tag := range excludeTags {
		if f.HasTag(tag) {
			return false
		}
	}
	if len(includeTags) == 0 {
		return true
	}
	for _, tag := range includeTags {
		if f.HasTag(tag) {
			return true
		}
	}
	return false
}

// filter is the set of tags applied to one top-level path.
type filter struct {
	include []string
	exclude []string
}

// run is the state of one Validate call.
type run struct {
	result    *Result
	parsed    map[string]*flow.Flow
	checked   map[string]bool
	testCases map[string]bool
}

func newRun() *run {
	return &run{
		result:    &Result{},
		parsed:    make(map[string]*flow.Flow),
		checked:   make(map[string]bool),
		testCases: make(map[string]bool),
	}
}

// Validate validates files or directories. A directory's config.yaml
// may narrow the flows (flows patterns) and add tag filters; without
// one, the top-level flow files of the directory are the test cases and
// subdirectories hold helpers.
func (v *Validator) Validate(paths ...string) *Result {
	r := newRun()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			r.result.addError(path, "cannot access: %v", err)
			continue
		}

		if !info.IsDir() {
			r.addTestCase(path, filter{v.includeTags, v.excludeTags})
			continue
		}

		cfg, err := config.LoadFromDir(path)
		if err != nil {
			r.result.addError(path, "invalid config: %v", err)
			continue
		}
		f := filter{
			include: append(append([]string(nil), v.includeTags...), cfg.IncludeTags...),
			exclude: append(append([]string(nil), v.excludeTags...), cfg.ExcludeTags...),
		}

		var files []string
		if len(cfg.Flows) > 0 {
			files = r.matchPatterns(path, cfg.Flows)
		} else {
			files, err = topLevelFlows(path)
			if err != nil {
				r.result.addError(path, "failed to scan directory: %v", err)
				continue
			}
		}
		for _, file := range files {
			r.addTestCase(file, f)
		}
	}

	r.finish()
	return r.result
}

// ValidatePatterns validates the flows matched by patterns relative to
// baseDir, e.g. the flows of one pipeline stage.
func (v *Validator) ValidatePatterns(baseDir string, patterns []string) *Result {
	r := newRun()
	for _, file := range r.matchPatterns(baseDir, patterns) {
		r.addTestCase(file, filter{v.includeTags, v.excludeTags})
	}
	r.finish()
	return r.result
}

// matchPatterns expands glob patterns relative to baseDir. A pattern
// matching a directory includes every flow below it; "dir/**" is the
// same as "dir".
func (r *run) matchPatterns(baseDir string, patterns []string) []string {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(filepath.ToSlash(pattern), "/**")
		if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
			matched, err := matchRecursive(baseDir, rest)
			if err != nil {
				r.result.addError(baseDir, "invalid flow pattern %q: %v", pattern, err)
			}
			for _, m := range matched {
				add(m)
			}
			continue
		}
		full := resolveFilePath(baseDir, filepath.FromSlash(pattern))

		matches, err := filepath.Glob(full)
		if err != nil {
			r.result.addError(baseDir, "invalid flow pattern %q: %v", pattern, err)
			continue
		}
		sort.Strings(matches)

		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				r.result.addError(m, "cannot access: %v", err)
				continue
			}
			if !info.IsDir() {
				if isFlowFile(m) {
					add(m)
				}
				continue
			}
			nested, err := collectFlowFiles(m)
			if err != nil {
				r.result.addError(m, "failed to scan directory: %v", err)
				continue
			}
			for _, n := range nested {
				add(n)
			}
		}
	}
	return files
}

// matchRecursive finds flow files at any depth below baseDir whose
// trailing path segments match rest.
func matchRecursive(baseDir, rest string) ([]string, error) {
	if _, err := filepath.Match(rest, ""); err != nil {
		return nil, err
	}
	all, err := collectFlowFiles(baseDir)
	if err != nil {
		return nil, err
	}

	depth := strings.Count(rest, "/") + 1
	var matched []string
	for _, p := range all {
		rel, err := filepath.Rel(baseDir, p)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < depth {
			continue
		}
		tail := strings.Join(parts[len(parts)-depth:], "/")
		if ok, _ := filepath.Match(rest, tail); ok {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// addTestCase records a top-level flow unless the tag filter drops it,
// then validates its dependencies.
func (r *run) addTestCase(path string, f filter) {
	if r.testCases[path] {
		return
	}

	parsed := r.parse(path)
	if parsed == nil {
		return
	}
	if !ShouldInclude(parsed, f.include, f.exclude) {
		r.result.Excluded = append(r.result.Excluded, path)
		return
	}

	r.testCases[path] = true
	r.result.TestCases = append(r.result.TestCases, path)
	r.result.Flows = append(r.result.Flows, *parsed)
	r.validateFile(path, nil)
}

// finish lists dependencies that are not test cases themselves.
func (r *run) finish() {
	for path := range r.checked {
		if !r.testCases[path] {
			r.result.Dependencies = append(r.result.Dependencies, path)
		}
	}
	sort.Strings(r.result.Dependencies)
}

// parse parses a file once. Parse errors are reported once.
func (r *run) parse(path string) *flow.Flow {
	if f, ok := r.parsed[path]; ok {
		return f
	}
	f, err := flow.ParseFile(path)
	if err != nil {
		r.result.addError(path, "parse error: %v", err)
		f = nil
	}
	r.parsed[path] = f
	return f
}

// validateFile validates the runFlow dependencies of a file. chain is
// the runFlow path leading here.
func (r *run) validateFile(filePath string, chain []string) {
	for _, ancestor := range chain {
		if ancestor == filePath {
			cycle := append(append([]string(nil), chain...), filePath)
			r.result.addError(filePath, "circular dependency detected: %s", strings.Join(cycle, " -> "))
			return
		}
	}

	if r.checked[filePath] {
		return
	}
	r.checked[filePath] = true

	f := r.parse(filePath)
	if f == nil {
		return
	}

	next := append(append([]string(nil), chain...), filePath)
	r.validateSteps(f.Steps, filePath, next)
	r.validateSteps(f.Config.OnFlowStart, filePath, next)
	r.validateSteps(f.Config.OnFlowComplete, filePath, next)
}

// validateSteps finds and validates file references in steps.
func (r *run) validateSteps(steps []flow.Step, parentFile string, chain []string) {
	parentDir := filepath.Dir(parentFile)

	for _, step := range steps {
		switch s := step.(type) {
		case *flow.RunFlowStep:
			if s.File != "" {
				r.validateReference(resolveFilePath(parentDir, s.File), parentFile, chain)
			}
			r.validateSteps(s.Steps, parentFile, chain)

		case *flow.RepeatStep:
			r.validateSteps(s.Steps, parentFile, chain)

		case *flow.RetryStep:
			if s.File != "" {
				r.validateReference(resolveFilePath(parentDir, s.File), parentFile, chain)
			}
			r.validateSteps(s.Steps, parentFile, chain)

		case *flow.RunScriptStep:
			if _, err := os.Stat(resolveFilePath(parentDir, s.File)); err != nil {
				r.result.addError(parentFile, "runScript: %v", err)
			}
		}
	}
}

func (r *run) validateReference(path, parentFile string, chain []string) {
	if _, err := os.Stat(path); err != nil {
		r.result.addError(parentFile, "referenced flow not found: %s", path)
		return
	}
	r.validateFile(path, chain)
}

// topLevelFlows lists the flow files directly inside dir.
func topLevelFlows(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if !e.IsDir() && isFlowFile(p) {
			files = append(files, p)
		}
	}
	return files, nil
}

// collectFlowFiles finds all flow files below dir.
func collectFlowFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isFlowFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// isFlowFile reports whether path is a .yaml/.yml file other than a
// workspace config.
func isFlowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return name != "config"
}

// resolveFilePath resolves a file path relative to a base directory.
func resolveFilePath(baseDir, filePath string) string {
	if filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(baseDir, filePath)
}
