package report

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// JUnitFile is the file name CI systems look for.
const JUnitFile = "junit-report.xml"

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       string          `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []junitProperty `xml:"properties>property,omitempty"`
	Cases      []junitCase     `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// GenerateJUnit renders junit-report.xml from a report directory.
// An empty outputPath writes next to report.json.
func GenerateJUnit(reportDir, outputPath string) error {
	index, flows, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	if outputPath == "" {
		outputPath = filepath.Join(reportDir, JUnitFile)
	}

	data, err := xml.MarshalIndent(buildJUnit(index, flows), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal junit: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write junit: %w", err)
	}
	return nil
}

func buildJUnit(index *Index, flows []FlowDetail) junitSuites {
	name := index.Metadata.Suite
	if name == "" {
		name = "browserflow"
	}
	if index.Stage != "" {
		name += " / " + index.Stage
	}

	suite := junitSuite{
		Name:      name,
		Timestamp: index.StartTime.Format("2006-01-02T15:04:05"),
	}
	for _, p := range environmentRows(index) {
		suite.Properties = append(suite.Properties, junitProperty{Name: strings.ToLower(strings.ReplaceAll(p.Label, " ", "_")), Value: p.Value})
	}

	var total int64
	for i, f := range flows {
		entry := index.Flows[i]
		tc := junitCase{
			Name:      f.Name,
			Classname: strings.TrimSuffix(filepath.ToSlash(f.SourceFile), filepath.Ext(f.SourceFile)),
			Time:      seconds(entry.Duration),
		}
		if entry.Duration != nil {
			total += *entry.Duration
		}

		switch entry.Status {
		case StatusFailed:
			suite.Failures++
			msg := "flow failed"
			if entry.Error != nil {
				msg = *entry.Error
			}
			tc.Failure = &junitFailure{
				Message: msg,
				Type:    failureType(f.Commands),
				Body:    failureTrace(f.Commands, ""),
			}
		case StatusSkipped, StatusPending:
			suite.Skipped++
			tc.Skipped = &junitSkipped{}
			if entry.Error != nil {
				tc.Skipped.Message = *entry.Error
			}
		}
		if f.Artifacts.FinalURL != "" {
			tc.SystemOut = "final url: " + f.Artifacts.FinalURL
		}
		suite.Tests++
		suite.Cases = append(suite.Cases, tc)
	}
	suite.Time = seconds(&total)

	return junitSuites{
		Name:     name,
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Skipped:  suite.Skipped,
		Time:     suite.Time,
		Suites:   []junitSuite{suite},
	}
}

func seconds(ms *int64) string {
	if ms == nil {
		return "0.000"
	}
	return fmt.Sprintf("%.3f", float64(*ms)/1000)
}

func failureType(commands []Command) string {
	for _, c := range commands {
		if c.Status != StatusFailed {
			continue
		}
		if t := failureType(c.SubCommands); t != "" {
			return t
		}
		if c.Error != nil {
			return c.Error.Type
		}
	}
	return ""
}

// failureTrace lists every command down to the failing one, nested commands indented.
func failureTrace(commands []Command, indent string) string {
	var sb strings.Builder
	for _, c := range commands {
		if c.Status == StatusSkipped || c.Status == StatusPending {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Type
		}
		fmt.Fprintf(&sb, "%s[%s] %s\n", indent, c.Status, desc)
		if c.Error != nil {
			fmt.Fprintf(&sb, "%s    %s\n", indent, c.Error.Message)
		}
		if len(c.SubCommands) > 0 {
			sb.WriteString(failureTrace(c.SubCommands, indent+"  "))
		}
	}
	return sb.String()
}
