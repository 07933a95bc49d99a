package webdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

const (
	serviceStartupTimeout = 20 * time.Second
	servicePollInterval   = 100 * time.Millisecond
)

// Service is a locally spawned WebDriver server (chromedriver, geckodriver).
type Service struct {
	binary string
	port   int
	cmd    *exec.Cmd
	done   chan struct{}
}

// FindDriverBinary looks for name in searchDirs first, then $PATH.
func FindDriverBinary(name string, searchDirs ...string) (string, error) {
	for _, dir := range searchDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in %v or $PATH: %w", name, searchDirs, err)
	}
	return path, nil
}

// StartService launches binary on a free port and waits until /status
// reports ready. Output goes to logw.
func StartService(ctx context.Context, binary string, logw io.Writer) (*Service, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	s := &Service{binary: binary, port: port, done: make(chan struct{})}

	// geckodriver wants "--port N", the chromium drivers "--port=N"
	args := []string{"--port=" + strconv.Itoa(port)}
	if filepath.Base(binary) == "geckodriver" {
		args = []string{"--port", strconv.Itoa(port)}
	}

	s.cmd = exec.Command(binary, args...) //#nosec G204 -- driver binary chosen by the user
	s.cmd.Stdout = logw
	s.cmd.Stderr = logw
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", filepath.Base(binary), err)
	}
	go func() {
		_ = s.cmd.Wait()
		close(s.done)
	}()

	if err := s.waitReady(ctx); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// URL returns the base URL of the running server.
func (s *Service) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// Stop kills the server process.
func (s *Service) Stop() {
	if s == nil || s.cmd == nil || s.cmd.Process == nil {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	_ = s.cmd.Process.Kill()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
}

func (s *Service) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, serviceStartupTimeout)
	defer cancel()

	client := NewClient(s.URL())
	ticker := time.NewTicker(servicePollInterval)
	defer ticker.Stop()

	for {
		ready, err := client.Ready(ctx)
		if err == nil && ready {
			return nil
		}
		select {
		case <-s.done:
			return fmt.Errorf("%s exited before becoming ready", filepath.Base(s.binary))
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s not ready after %s", filepath.Base(s.binary), serviceStartupTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
