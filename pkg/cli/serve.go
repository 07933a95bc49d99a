package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/qalab/browserflow/pkg/demoapp"
	"github.com/qalab/browserflow/pkg/logger"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the demo login/signup web application",
	Description: `Serve the demo application the bundled flows test. Users live in
memory and reset on restart; test@example.com / Test123! is always present.

Examples:
  browserflow serve
  browserflow serve --addr :8080`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Listen address",
			Value:   demoapp.DefaultAddr,
			EnvVars: []string{"BROWSERFLOW_ADDR"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Request log level (debug logs every request)",
			Value:   "info",
			EnvVars: []string{"BROWSERFLOW_LOG_LEVEL"},
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	logger.SetOutput(os.Stderr)
	logger.SetLevel(c.String("log-level"))
	if c.Bool("verbose") {
		logger.SetLevel("debug")
	}

	app, err := demoapp.New(c.String("addr"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Demo app running at %s\n", displayURL(app.Addr))
	fmt.Printf("Test credentials: %s / %s\n", demoapp.SeedEmail, demoapp.SeedPassword)
	return app.ListenAndServe(ctx)
}

// displayURL turns a listen address into a browsable URL.
func displayURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
