package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qalab/browserflow/pkg/executor"
	"github.com/qalab/browserflow/pkg/report"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Steps slower than this are flagged in the live output.
const slowThresholdMs = 5000

var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printBanner() {
	fmt.Println()
	fmt.Printf("  %sbrowserflow%s %s\n", color(colorBold), color(colorReset), Version)
	fmt.Println("  " + strings.Repeat("─", 40))
}

func printSetupStep(msg string) {
	fmt.Printf("  %s⏳ %s%s\n", color(colorCyan), msg, color(colorReset))
}

func printSetupSuccess(msg string) {
	fmt.Printf("  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}

// Live progress callbacks. With parallel workers the lines of different
// flows interleave; the detailed results are reprinted from the report
// at the end.

func onFlowStart(flowIdx, totalFlows int, name, file string) {
	fmt.Printf("\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), name, color(colorReset), file)
	fmt.Println("  " + strings.Repeat("─", 60))
}

func onStepComplete(idx int, desc string, passed bool, durationMs int64, errMsg string) {
	printStepLine(2, desc, passed, durationMs, errMsg)
}

func onNestedFlowStart(depth int, desc string) {
	indent := strings.Repeat("  ", 2+depth)
	fmt.Printf("%s%s▸%s %s\n", indent, color(colorCyan), color(colorReset), desc)
}

func onNestedStep(depth int, desc string, passed bool, durationMs int64, errMsg string) {
	printStepLine(2+depth+1, desc, passed, durationMs, errMsg)
}

func onFlowEnd(name string, status report.Status, durationMs int64, errMsg string) {
	switch status {
	case report.StatusPassed:
		fmt.Printf("%s✓ %s%s %s%s%s\n",
			color(colorGreen), color(colorReset), name, color(colorGray), formatDuration(durationMs), color(colorReset))
	case report.StatusSkipped:
		fmt.Printf("%s- %s%s %s%s%s\n",
			color(colorCyan), color(colorReset), name, color(colorGray), errMsg, color(colorReset))
	default:
		fmt.Printf("%s✗ %s%s %s%s%s\n",
			color(colorRed), color(colorReset), name, color(colorGray), formatDuration(durationMs), color(colorReset))
	}
}

func printStepLine(level int, desc string, passed bool, durationMs int64, errMsg string) {
	indent := strings.Repeat("  ", level)
	durStr := formatDuration(durationMs)

	if !passed {
		fmt.Printf("%s%s✗%s %s (%s)\n", indent, color(colorRed), color(colorReset), desc, durStr)
		if errMsg != "" {
			fmt.Printf("%s  %s╰─%s %s\n", indent, color(colorGray), color(colorReset), errMsg)
		}
		return
	}

	symbol, symbolColor, durColor := "✓", color(colorGreen), ""
	if durationMs >= slowThresholdMs && !isCompoundCommand(desc) {
		symbol, symbolColor, durColor = "⚠", color(colorYellow), color(colorYellow)
	}
	fmt.Printf("%s%s%s%s %s %s(%s)%s\n",
		indent, symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
}

// isCompoundCommand reports whether a step only groups other steps.
func isCompoundCommand(desc string) bool {
	return strings.HasPrefix(desc, "runFlow:") ||
		strings.HasPrefix(desc, "repeat:") ||
		strings.HasPrefix(desc, "retry:")
}

// printDetailedFlowResults prints every flow of a finished report with
// all its commands.
func printDetailedFlowResults(reportDir string, index *report.Index) {
	for i, entry := range index.Flows {
		fmt.Printf("\n  %s[%d/%d]%s %s%s%s (%s) - %s\n",
			color(colorCyan), i+1, len(index.Flows), color(colorReset),
			color(colorBold), entry.Name, color(colorReset),
			entry.SourceFile, browserLabel(index, &entry))
		fmt.Println("  " + strings.Repeat("─", 60))

		detail, err := report.ReadFlowDetail(filepath.Join(reportDir, entry.DataFile))
		if err != nil {
			fmt.Printf("    (Could not load command details: %v)\n", err)
		} else {
			for _, cmd := range detail.Commands {
				printCommand(cmd, 0)
			}
		}

		var duration int64
		if entry.Duration != nil {
			duration = *entry.Duration
		}
		errMsg := ""
		if entry.Error != nil {
			errMsg = *entry.Error
		}
		onFlowEnd(entry.Name, entry.Status, duration, errMsg)
	}
}

// printCommand prints a single command with proper indentation.
func printCommand(cmd report.Command, depth int) {
	description := cmd.Label
	if description == "" {
		description = cmd.Type
	}

	var duration int64
	if cmd.Duration != nil {
		duration = *cmd.Duration
	}

	switch cmd.Status {
	case report.StatusSkipped, report.StatusPending:
		fmt.Printf("%s%s-%s %s\n", strings.Repeat("  ", 2+depth), color(colorGray), color(colorReset), description)
	default:
		errMsg := ""
		if cmd.Error != nil {
			errMsg = cmd.Error.Message
		}
		printStepLine(2+depth, description, cmd.Status == report.StatusPassed, duration, errMsg)
	}

	for _, sub := range cmd.SubCommands {
		printCommand(sub, depth+1)
	}
}

func browserLabel(index *report.Index, entry *report.FlowEntry) string {
	name := entry.Browser
	if name == "" {
		name = index.Browser.Name
	}
	if name == "" {
		return "Unknown"
	}
	if index.Browser.Version != "" && name == index.Browser.Name {
		return fmt.Sprintf("%s %s", name, index.Browser.Version)
	}
	return name
}

// printSummary prints the step totals and the per-flow table.
func printSummary(result *executor.RunResult, index *report.Index) {
	totalSteps, passedSteps, failedSteps, skippedSteps := 0, 0, 0, 0
	for _, fr := range result.FlowResults {
		totalSteps += fr.StepsTotal
		passedSteps += fr.StepsPassed
		failedSteps += fr.StepsFailed
		skippedSteps += fr.StepsSkipped
	}

	fmt.Println()
	if passedSteps > 0 {
		fmt.Printf("  %s%d steps passing%s (%s)\n", color(colorGreen), passedSteps, color(colorReset), formatDuration(result.Duration))
	}
	if failedSteps > 0 {
		fmt.Printf("  %s%d steps failing%s\n", color(colorRed), failedSteps, color(colorReset))
	}
	if skippedSteps > 0 {
		fmt.Printf("  %s%d steps skipped%s\n", color(colorCyan), skippedSteps, color(colorReset))
	}
	fmt.Println()

	tableWidth := 104
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-36s %6s %7s %6s %6s %6s %10s  %s\n", "Flow", "Status", "Steps", "Pass", "Fail", "Skip", "Duration", "Browser")
	fmt.Println(strings.Repeat("─", tableWidth))

	for i, fr := range result.FlowResults {
		status, statusColor := "✓ PASS", color(colorGreen)
		switch fr.Status {
		case report.StatusFailed:
			status, statusColor = "✗ FAIL", color(colorRed)
		case report.StatusSkipped:
			status, statusColor = "- SKIP", color(colorCyan)
		}

		name := fr.Name
		if len(name) > 36 {
			name = name[:33] + "..."
		}
		browser := ""
		if index != nil && i < len(index.Flows) {
			browser = browserLabel(index, &index.Flows[i])
		}

		fmt.Printf("  %-36s %s%6s%s %7d %6d %6d %6d %10s  %s\n",
			name, statusColor, status, color(colorReset),
			fr.StepsTotal, fr.StepsPassed, fr.StepsFailed, fr.StepsSkipped,
			formatDuration(fr.Duration), browser)
	}

	fmt.Println(strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows)
	statusColor := color(colorGreen)
	if result.FailedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Printf("  %s%-36s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, passedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration))
	fmt.Println(strings.Repeat("═", tableWidth))

	if index != nil {
		printBrowserSummary(index)
	}
}

// printBrowserSummary prints pass/fail counts per browser when a run
// used more than one.
func printBrowserSummary(index *report.Index) {
	type counts struct{ total, passed, failed int }
	byBrowser := make(map[string]*counts)
	for i := range index.Flows {
		label := browserLabel(index, &index.Flows[i])
		c, ok := byBrowser[label]
		if !ok {
			c = &counts{}
			byBrowser[label] = c
		}
		c.total++
		switch index.Flows[i].Status {
		case report.StatusPassed:
			c.passed++
		case report.StatusFailed:
			c.failed++
		}
	}
	if len(byBrowser) < 2 {
		return
	}

	names := make([]string, 0, len(byBrowser))
	for name := range byBrowser {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\n  Browser Summary")
	fmt.Println("  " + strings.Repeat("─", 60))
	for _, name := range names {
		c := byBrowser[name]
		fmt.Printf("  %-20s Flows: %d • Passed: %s%d%s • Failed: %s%d%s\n",
			name, c.total,
			color(colorGreen), c.passed, color(colorReset),
			color(colorRed), c.failed, color(colorReset))
	}
	fmt.Println()
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
