package report

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath  string // Path to write the HTML file
	EmbedAssets bool   // Embed screenshots as base64 (makes file larger but portable)
	Title       string // Report title (default: "Test Report")
	ReportDir   string // Directory containing report.json (needed for asset paths)
}

// GenerateHTML generates an HTML report from the report directory.
func GenerateHTML(reportDir string, cfg HTMLConfig) error {
	index, flows, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = defaultTitle(index)
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = reportDir
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(reportDir, "report.html")
	}

	html, err := renderHTML(buildHTMLData(index, flows, cfg))
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

func defaultTitle(index *Index) string {
	title := "Test Report"
	if index.Metadata.Project != "" {
		title = index.Metadata.Project + " - " + title
	}
	if index.Stage != "" {
		title += " (" + index.Stage + ")"
	}
	return title
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title         string
	GeneratedAt   string
	Index         *Index
	Environment   []EnvRow
	Flows         []FlowHTMLData
	TotalDuration string
	PassRate      float64
	MaxDuration   int64
	JSONData      template.JS // JSON data for JavaScript
}

// EnvRow is one line of the run metadata table.
type EnvRow struct {
	Label string
	Value string
}

// FlowHTMLData contains flow data formatted for HTML.
type FlowHTMLData struct {
	FlowDetail
	Status      Status
	Error       string
	DurationStr string
	DurationPct float64
	Commands    []CommandHTMLData
}

// CommandHTMLData contains command data formatted for HTML.
type CommandHTMLData struct {
	Command
	DurationStr string
	Screenshot  string // base64 or path
	Subs        []CommandHTMLData
}

func buildHTMLData(index *Index, flows []FlowDetail, cfg HTMLConfig) HTMLData {
	// Find max duration for percentage bars
	var maxDuration int64
	for _, entry := range index.Flows {
		if entry.Duration != nil && *entry.Duration > maxDuration {
			maxDuration = *entry.Duration
		}
	}

	flowsData := make([]FlowHTMLData, len(flows))
	for i, f := range flows {
		entry := index.Flows[i]
		fd := FlowHTMLData{
			FlowDetail:  f,
			Status:      entry.Status,
			DurationStr: formatDuration(entry.Duration),
			Commands:    buildCommandHTML(f.Commands, cfg),
		}
		if entry.Error != nil {
			fd.Error = *entry.Error
		}
		if entry.Duration != nil && maxDuration > 0 {
			fd.DurationPct = float64(*entry.Duration) / float64(maxDuration) * 100
		}
		flowsData[i] = fd
	}

	var passRate float64
	if index.Summary.Total > 0 {
		passRate = float64(index.Summary.Passed) / float64(index.Summary.Total) * 100
	}

	var totalDurationMs int64
	if index.EndTime != nil {
		totalDurationMs = index.EndTime.Sub(index.StartTime).Milliseconds()
	}

	jsonBytes, _ := json.Marshal(map[string]interface{}{
		"index": index,
		"flows": flows,
	})

	return HTMLData{
		Title:         cfg.Title,
		GeneratedAt:   time.Now().Format("2006-01-02 15:04:05"),
		Index:         index,
		Environment:   environmentRows(index),
		Flows:         flowsData,
		TotalDuration: formatDuration(&totalDurationMs),
		PassRate:      passRate,
		MaxDuration:   maxDuration,
		JSONData:      template.JS(jsonBytes),
	}
}

func buildCommandHTML(commands []Command, cfg HTMLConfig) []CommandHTMLData {
	out := make([]CommandHTMLData, len(commands))
	for i, c := range commands {
		cmd := CommandHTMLData{
			Command:     c,
			DurationStr: formatDuration(c.Duration),
			Subs:        buildCommandHTML(c.SubCommands, cfg),
		}
		if c.Artifacts.Screenshot != "" {
			if cfg.EmbedAssets {
				cmd.Screenshot = loadAsBase64(filepath.Join(cfg.ReportDir, c.Artifacts.Screenshot))
			} else {
				cmd.Screenshot = filepath.ToSlash(c.Artifacts.Screenshot)
			}
		}
		out[i] = cmd
	}
	return out
}

func environmentRows(index *Index) []EnvRow {
	md := index.Metadata
	browser := index.Browser.Name
	if index.Browser.Version != "" {
		browser += " " + index.Browser.Version
	}
	if index.Browser.Headless {
		browser += " (headless)"
	}
	rows := []EnvRow{
		{"Project", md.Project},
		{"Suite", md.Suite},
		{"Stage", index.Stage},
		{"Tester", md.Tester},
		{"Environment", md.Environment},
		{"Base URL", md.BaseURL},
		{"Browser", browser},
		{"Driver", index.Runner.Driver},
		{"Date", index.StartTime.Format("2006-01-02 15:04:05")},
	}
	if index.CI != nil {
		rows = append(rows, EnvRow{"CI", strings.TrimSpace(index.CI.Provider + " " + index.CI.BuildID)})
	}

	filtered := rows[:0]
	for _, r := range rows {
		if strings.TrimSpace(r.Value) != "" {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", *ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func loadAsBase64(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := "image/png"
	if ext == ".jpg" || ext == ".jpeg" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":     func(f float64) string { return fmt.Sprintf("%.1f", f) },
	"safeURL": func(s string) template.URL { return template.URL(s) },
}).Parse(htmlTemplate))

func renderHTML(data HTMLData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
:root {
    --bg: #ffffff; --bg-alt: #f9fafb; --border: #e5e7eb; --text: #111827; --muted: #6b7280;
    --passed: #22c55e; --failed: #ef4444; --skipped: #eab308; --running: #06b6d4; --pending: #9ca3af;
}
* { box-sizing: border-box; margin: 0; padding: 0; }
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: var(--text); background: var(--bg); line-height: 1.5; }
header { background: var(--bg-alt); border-bottom: 1px solid var(--border); padding: 16px 24px; }
h1 { font-size: 20px; }
.sub { color: var(--muted); font-size: 12px; }
.summary { display: flex; gap: 16px; margin-top: 12px; flex-wrap: wrap; }
.card { border: 1px solid var(--border); border-radius: 8px; padding: 8px 16px; background: var(--bg); min-width: 110px; }
.card .n { font-size: 22px; font-weight: 600; }
.card.passed .n { color: var(--passed); } .card.failed .n { color: var(--failed); } .card.skipped .n { color: var(--skipped); }
table.env { margin: 16px 24px; border-collapse: collapse; font-size: 13px; }
table.env td { padding: 4px 12px; border-bottom: 1px solid var(--border); }
table.env td:first-child { color: var(--muted); }
.filters { margin: 0 24px 8px; }
.filters button { border: 1px solid var(--border); background: var(--bg); border-radius: 6px; padding: 4px 10px; cursor: pointer; }
.filters button.active { background: var(--text); color: var(--bg); }
.flow { margin: 8px 24px; border: 1px solid var(--border); border-radius: 8px; }
.flow > summary { padding: 10px 14px; cursor: pointer; display: flex; gap: 12px; align-items: center; }
.dot { width: 10px; height: 10px; border-radius: 50%; display: inline-block; flex: none; }
.dot.passed { background: var(--passed); } .dot.failed { background: var(--failed); } .dot.skipped { background: var(--skipped); }
.dot.running { background: var(--running); } .dot.pending { background: var(--pending); }
.flow .name { font-weight: 600; flex: 1; }
.bar { width: 120px; height: 6px; background: var(--border); border-radius: 3px; }
.bar div { height: 6px; background: var(--running); border-radius: 3px; }
.flow-error { margin: 0 14px 8px; color: var(--failed); font-size: 13px; }
ol.cmds { list-style: none; padding: 0 14px 12px; font-size: 13px; }
ol.cmds ol.cmds { padding: 4px 0 0 22px; }
.cmd { display: flex; gap: 8px; align-items: baseline; padding: 3px 0; border-bottom: 1px dashed var(--border); }
.cmd .desc { flex: 1; font-family: ui-monospace, Menlo, monospace; }
.cmd .label { color: var(--muted); }
.cmd .out { color: var(--muted); font-family: ui-monospace, Menlo, monospace; }
.err { color: var(--failed); padding: 2px 0 4px 18px; white-space: pre-wrap; }
.shot img { max-width: 480px; border: 1px solid var(--border); margin: 4px 0 8px 18px; }
.tags span { font-size: 11px; background: var(--bg-alt); border: 1px solid var(--border); border-radius: 4px; padding: 0 6px; margin-right: 4px; }
</style>
</head>
<body>
<header>
    <h1>{{.Title}}</h1>
    <div class="sub">Generated {{.GeneratedAt}} &middot; run {{.Index.RunID}} &middot; status {{.Index.Status}}</div>
    <div class="summary">
        <div class="card"><div class="n">{{.Index.Summary.Total}}</div>total</div>
        <div class="card passed"><div class="n">{{.Index.Summary.Passed}}</div>passed</div>
        <div class="card failed"><div class="n">{{.Index.Summary.Failed}}</div>failed</div>
        <div class="card skipped"><div class="n">{{.Index.Summary.Skipped}}</div>skipped</div>
        <div class="card"><div class="n">{{pct .PassRate}}%</div>pass rate</div>
        <div class="card"><div class="n">{{.TotalDuration}}</div>duration</div>
    </div>
</header>
{{if .Environment}}
<table class="env">
    {{range .Environment}}<tr><td>{{.Label}}</td><td>{{.Value}}</td></tr>
    {{end}}
</table>
{{end}}
<div class="filters">
    <button class="active" data-filter="all">All ({{.Index.Summary.Total}})</button>
    <button data-filter="failed">Failed ({{.Index.Summary.Failed}})</button>
    <button data-filter="passed">Passed ({{.Index.Summary.Passed}})</button>
    <button data-filter="skipped">Skipped ({{.Index.Summary.Skipped}})</button>
</div>
{{range $fi, $flow := .Flows}}
<details class="flow" data-status="{{$flow.Status}}"{{if eq $flow.Status "failed"}} open{{end}}>
    <summary>
        <span class="dot {{$flow.Status}}"></span>
        <span class="name">{{$flow.Name}}</span>
        <span class="tags">{{range $flow.Tags}}<span>{{.}}</span>{{end}}</span>
        {{if $flow.Browser}}<span class="sub">{{$flow.Browser.Name}}</span>{{end}}
        <span class="sub">{{len $flow.Commands}} steps</span>
        <span class="bar"><div style="width: {{pct $flow.DurationPct}}%"></div></span>
        <span>{{$flow.DurationStr}}</span>
    </summary>
    <div class="sub" style="padding: 0 14px 6px">{{$flow.SourceFile}}{{if $flow.Artifacts.FinalURL}} &middot; ended on {{$flow.Artifacts.FinalURL}}{{end}}</div>
    {{if $flow.Error}}<div class="flow-error">{{$flow.Error}}</div>{{end}}
    {{template "commands" $flow.Commands}}
</details>
{{end}}
<script>
const reportData = {{.JSONData}};
document.querySelectorAll('.filters button').forEach(btn => {
    btn.addEventListener('click', () => {
        document.querySelectorAll('.filters button').forEach(b => b.classList.remove('active'));
        btn.classList.add('active');
        const f = btn.dataset.filter;
        document.querySelectorAll('.flow').forEach(el => {
            el.style.display = (f === 'all' || el.dataset.status === f) ? '' : 'none';
        });
    });
});
if (reportData.index.status === 'running') {
    setTimeout(() => location.reload(), 2000);
}
</script>
</body>
</html>
{{define "commands"}}
<ol class="cmds">
{{range .}}
    <li>
        <div class="cmd">
            <span class="dot {{.Status}}"></span>
            <span class="desc">{{if .Description}}{{.Description}}{{else}}{{.Type}}{{end}}</span>
            {{if .Label}}<span class="label">{{.Label}}</span>{{end}}
            {{if .Output}}<span class="out">&rarr; {{.Output}}</span>{{end}}
            <span class="sub">{{.DurationStr}}</span>
        </div>
        {{if .Error}}<div class="err">[{{.Error.Type}}] {{.Error.Message}}{{range $k, $v := .Error.Details}}
    {{$k}}: {{$v}}{{end}}{{if .Error.Suggestion}}
    hint: {{.Error.Suggestion}}{{end}}</div>{{end}}
        {{if .Screenshot}}<div class="shot"><a href="{{safeURL .Screenshot}}"><img src="{{safeURL .Screenshot}}" alt="failure screenshot"></a></div>{{end}}
        {{if .Artifacts.PageSource}}<div class="sub" style="padding-left: 18px"><a href="{{.Artifacts.PageSource}}">page source</a></div>{{end}}
        {{if .Subs}}{{template "commands" .Subs}}{{end}}
    </li>
{{end}}
</ol>
{{end}}`
