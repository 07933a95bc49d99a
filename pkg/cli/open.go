package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/config"
	"github.com/qalab/browserflow/pkg/driver/webdriver"
	"github.com/qalab/browserflow/pkg/logger"
)

const defaultOpenURL = "https://github.com"

// browserChoices is the menu shown when no --browser is given.
var browserChoices = []string{webdriver.BrowserBrave, webdriver.BrowserChrome, webdriver.BrowserFirefox}

var openCommand = &cli.Command{
	Name:      "open",
	Usage:     "Open a browser at a URL and keep it open until Enter is pressed",
	ArgsUsage: "[url]",
	Description: `Start a browser through WebDriver, open the URL maximized and wait for
Enter before quitting. Without --browser a menu asks which one to start.

Examples:
  browserflow open
  browserflow --browser firefox open https://example.com`,
	Action: func(c *cli.Context) error {
		url := c.Args().First()
		if url == "" {
			url = defaultOpenURL
		}
		opts := DriverOptions{
			Browser:    c.String("browser"),
			Binary:     c.String("browser-binary"),
			RemoteURL:  c.String("remote-url"),
			Headless:   c.Bool("headless"),
			DriversDir: config.GetDriversDir(),
		}
		return openBrowser(c.Context, os.Stdin, os.Stdout, opts, url)
	},
}

// openBrowser runs the interactive open session: choose, launch, navigate,
// maximize, wait for Enter, quit.
func openBrowser(ctx context.Context, in io.Reader, out io.Writer, opts DriverOptions, url string) error {
	reader := bufio.NewReader(in)

	browser := opts.Browser
	if browser == "" {
		var err error
		if browser, err = chooseBrowser(reader, out); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Opening %s...\n", browserTitle(browser))
	d, err := webdriver.Launch(ctx, webdriver.LaunchOptions{
		Browser:    opts.browserOptions(browser),
		RemoteURL:  opts.RemoteURL,
		DriversDir: opts.DriversDir,
	})
	if err != nil {
		fmt.Fprintln(out, "Make sure the browser is installed and configured properly.")
		return fmt.Errorf("start %s: %w", browser, err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("close %s: %v", browser, err)
		}
	}()

	if err := d.Client().Navigate(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	if err := d.Client().MaximizeWindow(); err != nil {
		logger.Warn("maximize window: %v", err)
	}

	fmt.Fprint(out, "\nPress Enter to close the browser...")
	if _, err := reader.ReadString('\n'); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// chooseBrowser prints the numbered menu and reads one choice.
func chooseBrowser(r *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprintln(out, "Choose a browser:")
	for i, b := range browserChoices {
		fmt.Fprintf(out, "%d. %s\n", i+1, browserTitle(b))
	}
	fmt.Fprintf(out, "\nEnter your choice (1-%d): ", len(browserChoices))

	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	choice := strings.TrimSpace(line)
	for i, b := range browserChoices {
		if choice == fmt.Sprint(i+1) || strings.EqualFold(choice, b) {
			return b, nil
		}
	}
	return "", fmt.Errorf("invalid choice %q", choice)
}

func browserTitle(b string) string {
	if b == "" {
		return b
	}
	return strings.ToUpper(b[:1]) + b[1:]
}
