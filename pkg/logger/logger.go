// Package logger provides the process-wide file logger used by the runner,
// the drivers and the demo application.
package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ExecutionHeaderPrefix starts the banner written at the beginning of every run.
const ExecutionHeaderPrefix = "TEST EXECUTION #"

var (
	log     = newDiscardLogger()
	logFile *os.File
	mu      sync.Mutex
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
	})
	return l
}

// Init points the global logger at logPath. The file is opened in append
// mode so consecutive runs share one log.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	log.SetOutput(f)
	return nil
}

// SetOutput redirects the logger to w. Used by the demo server when it
// logs to stderr instead of a file.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(w)
}

// SetLevel sets the minimum level. Unknown names leave the level unchanged.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	log.SetLevel(lvl)
}

// Close closes the log file and discards further output.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	log.SetOutput(io.Discard)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	log.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return log.WithFields(logrus.Fields(fields))
}

// GetWriter returns the underlying writer for use by drivers.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}

// NextExecutionNumber counts the execution banners already present in the
// log at path and returns the number for the next run. A missing file
// yields 1.
func NextExecutionNumber(path string) (int, error) {
	f, err := os.Open(path) //#nosec G304 -- log path chosen by the user
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), ExecutionHeaderPrefix) {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}
	return count + 1, nil
}

// ExecutionHeader writes the banner for run n, framed by separator lines.
func ExecutionHeader(n int, fields map[string]interface{}) {
	sep := strings.Repeat("=", 60)
	log.Info(sep)
	log.WithFields(logrus.Fields(fields)).Infof("%s%d", ExecutionHeaderPrefix, n)
	log.Info(sep)
}
