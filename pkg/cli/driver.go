package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/config"
	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/driver/cdp"
	"github.com/qalab/browserflow/pkg/driver/mock"
	"github.com/qalab/browserflow/pkg/driver/webdriver"
	"github.com/qalab/browserflow/pkg/executor"
	"github.com/qalab/browserflow/pkg/logger"
)

// Driver names accepted by --driver.
const (
	driverWebDriver = "webdriver"
	driverCDP       = "cdp"
	driverMock      = "mock"
)

// DriverOptions selects and configures the browser driver.
type DriverOptions struct {
	Driver     string // webdriver, cdp, mock
	Browser    string // Run default; flows may override
	Binary     string
	RemoteURL  string
	Headless   bool
	DriversDir string
}

// driverOptionsFrom merges CLI flags over the workspace config.
func driverOptionsFrom(c *cli.Context, ws *config.Config) DriverOptions {
	opts := DriverOptions{
		Driver:     strings.ToLower(c.String("driver")),
		Browser:    c.String("browser"),
		Binary:     c.String("browser-binary"),
		RemoteURL:  c.String("remote-url"),
		Headless:   c.Bool("headless"),
		DriversDir: config.GetDriversDir(),
	}
	if ws != nil {
		if opts.Browser == "" {
			opts.Browser = ws.Browser
		}
		if opts.Binary == "" {
			opts.Binary = ws.BrowserBinary
		}
		if !c.IsSet("headless") {
			opts.Headless = ws.HeadlessOr(opts.Headless)
		}
	}
	if opts.Browser == "" {
		opts.Browser = webdriver.BrowserChrome
	}
	if opts.Driver == "" {
		opts.Driver = driverWebDriver
	}
	return opts
}

// newDriverFactory returns the session factory for the selected driver.
func newDriverFactory(opts DriverOptions) (executor.DriverFactory, error) {
	switch opts.Driver {
	case driverWebDriver:
		return func(ctx context.Context, browser string) (core.Driver, error) {
			d, err := webdriver.Launch(ctx, webdriver.LaunchOptions{
				Browser:    opts.browserOptions(browser),
				RemoteURL:  opts.RemoteURL,
				DriversDir: opts.DriversDir,
			})
			if err != nil {
				return nil, err
			}
			return d, nil
		}, nil

	case driverCDP:
		return func(ctx context.Context, browser string) (core.Driver, error) {
			cdpOpts, err := opts.cdpOptions(browser)
			if err != nil {
				return nil, err
			}
			d, err := cdp.Launch(ctx, cdpOpts)
			if err != nil {
				return nil, err
			}
			return d, nil
		}, nil

	case driverMock:
		logger.Info("mock driver selected: steps are recorded, not executed")
		return func(_ context.Context, browser string) (core.Driver, error) {
			return mock.New(mock.Config{Browser: browser}), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown driver %q (want %s, %s or %s)", opts.Driver, driverWebDriver, driverCDP, driverMock)
}

func (o DriverOptions) browserOptions(browser string) webdriver.BrowserOptions {
	if browser == "" {
		browser = o.Browser
	}
	bo := webdriver.BrowserOptions{
		Browser:  browser,
		Headless: o.Headless,
	}
	// The configured binary belongs to the run default browser only
	if strings.EqualFold(browser, o.Browser) {
		bo.Binary = o.Binary
	}
	return bo
}

// cdpOptions maps a browser onto chromedp, which only drives Chromium.
func (o DriverOptions) cdpOptions(browser string) (cdp.Options, error) {
	bo, err := o.browserOptions(browser).Normalize()
	if err != nil {
		return cdp.Options{}, err
	}
	switch bo.Browser {
	case webdriver.BrowserChrome, webdriver.BrowserBrave, webdriver.BrowserEdge:
	default:
		return cdp.Options{}, core.ErrInvalidConfig.WithMessagef("the cdp driver cannot drive %s", bo.Browser)
	}
	return cdp.Options{
		Headless:     bo.Headless,
		Binary:       bo.Binary,
		Browser:      bo.Browser,
		WindowWidth:  bo.WindowWidth,
		WindowHeight: bo.WindowHeight,
		Args:         bo.Args,
	}, nil
}
