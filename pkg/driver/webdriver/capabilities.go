package webdriver

import (
	"fmt"
	"runtime"
	"strings"
)

// Supported browsers.
const (
	BrowserChrome  = "chrome"
	BrowserFirefox = "firefox"
	BrowserBrave   = "brave"
	BrowserEdge    = "edge"
)

// BrowserOptions describes the browser a session should start.
type BrowserOptions struct {
	Browser             string   // chrome, firefox, brave, edge
	Headless            bool     // Run without a visible window
	Binary              string   // Browser executable; required for brave on unknown OSes
	WindowWidth         int      // 0 means maximized when headed, 1920 when headless
	WindowHeight        int      // 0 means maximized when headed, 1080 when headless
	Args                []string // Extra command-line switches
	AcceptInsecureCerts bool
}

// BraveBinary returns the default Brave executable for the running OS.
func BraveBinary() string {
	switch runtime.GOOS {
	case "darwin":
		return "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"
	case "windows":
		return `C:\Program Files\BraveSoftware\Brave-Browser\Application\brave.exe`
	default:
		return "/usr/bin/brave-browser"
	}
}

// Normalize lowercases the browser name and fills defaults.
func (o BrowserOptions) Normalize() (BrowserOptions, error) {
	o.Browser = strings.ToLower(strings.TrimSpace(o.Browser))
	if o.Browser == "" {
		o.Browser = BrowserChrome
	}
	switch o.Browser {
	case BrowserChrome, BrowserFirefox, BrowserEdge:
	case BrowserBrave:
		if o.Binary == "" {
			o.Binary = BraveBinary()
		}
	default:
		return o, fmt.Errorf("unsupported browser %q (want chrome, firefox, brave or edge)", o.Browser)
	}
	if o.Headless && o.WindowWidth == 0 {
		o.WindowWidth, o.WindowHeight = 1920, 1080
	}
	return o, nil
}

// Capabilities renders the W3C alwaysMatch capabilities.
func (o BrowserOptions) Capabilities() map[string]interface{} {
	caps := map[string]interface{}{}
	if o.AcceptInsecureCerts {
		caps["acceptInsecureCerts"] = true
	}

	switch o.Browser {
	case BrowserFirefox:
		caps["browserName"] = "firefox"
		args := append([]string{}, o.Args...)
		if o.Headless {
			args = append(args, "-headless")
		}
		if o.WindowWidth > 0 {
			args = append(args, fmt.Sprintf("--width=%d", o.WindowWidth), fmt.Sprintf("--height=%d", o.WindowHeight))
		}
		opts := map[string]interface{}{"args": args}
		if o.Binary != "" {
			opts["binary"] = o.Binary
		}
		caps["moz:firefoxOptions"] = opts

	case BrowserEdge:
		caps["browserName"] = "MicrosoftEdge"
		caps["ms:edgeOptions"] = o.chromiumOptions()

	default:
		// chrome and brave
		caps["browserName"] = "chrome"
		caps["goog:chromeOptions"] = o.chromiumOptions()
	}
	return caps
}

func (o BrowserOptions) chromiumOptions() map[string]interface{} {
	args := []string{"--disable-gpu", "--no-sandbox", "--disable-dev-shm-usage"}
	if o.Headless {
		args = append(args, "--headless=new")
	}
	if o.WindowWidth > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", o.WindowWidth, o.WindowHeight))
	} else {
		args = append(args, "--start-maximized")
	}
	args = append(args, o.Args...)

	opts := map[string]interface{}{"args": args}
	if o.Binary != "" {
		opts["binary"] = o.Binary
	}
	return opts
}

// DriverBinary names the WebDriver executable for a browser.
func DriverBinary(browser string) string {
	switch browser {
	case BrowserFirefox:
		return "geckodriver"
	case BrowserEdge:
		return "msedgedriver"
	default:
		return "chromedriver"
	}
}
