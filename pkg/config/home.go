package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "BROWSERFLOW_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the browserflow home directory.
//
// Resolution order:
//  1. $BROWSERFLOW_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetFlowsDir returns <home>/flows, where the bundled suites live.
func GetFlowsDir() string {
	return filepath.Join(GetHome(), "flows")
}

// GetDriversDir returns <home>/drivers, searched for chromedriver and
// geckodriver before $PATH.
func GetDriversDir() string {
	return filepath.Join(GetHome(), "drivers")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
