package nginx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Wikid82/ferryman/internal/executor"
	"github.com/Wikid82/ferryman/internal/logger"
)

// Controller drives the webserver binary. It never writes config files.
type Controller struct {
	runner     executor.Runner
	binary     string
	configFile string
	timeout    time.Duration
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithBinary overrides the nginx executable.
func WithBinary(path string) ControllerOption {
	return func(c *Controller) { c.binary = path }
}

// WithConfigFile passes -c to every invocation.
func WithConfigFile(path string) ControllerOption {
	return func(c *Controller) { c.configFile = path }
}

// WithTimeout bounds each invocation.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// NewController returns a Controller that runs commands through runner.
func NewController(runner executor.Runner, opts ...ControllerOption) *Controller {
	c := &Controller{
		runner:  runner,
		binary:  "nginx",
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Test asks the webserver to validate the full on-disk configuration.
func (c *Controller) Test(ctx context.Context) error {
	args := c.args("-t")
	out, err := c.run(ctx, args)
	if err != nil {
		return &ConfigError{Op: "test", Output: strings.TrimSpace(string(out)), Err: err}
	}
	logger.Component("nginx").Debug("configuration test passed")
	return nil
}

// Reload tests the configuration and, only if the test passes, signals a
// graceful reload. On failure the running webserver keeps its previous config.
func (c *Controller) Reload(ctx context.Context) error {
	if err := c.Test(ctx); err != nil {
		var cfgErr *ConfigError
		out := ""
		if errors.As(err, &cfgErr) {
			out = cfgErr.Output
		}
		return &ReloadError{Command: executor.CommandLine(c.binary, c.args("-t")...), Output: out, Err: err}
	}

	args := c.args("-s", "reload")
	out, err := c.run(ctx, args)
	if err != nil {
		return &ReloadError{
			Command: executor.CommandLine(c.binary, args...),
			Output:  strings.TrimSpace(string(out)),
			Err:     err,
		}
	}
	logger.Component("nginx").Info("nginx reloaded")
	return nil
}

func (c *Controller) args(extra ...string) []string {
	var args []string
	if c.configFile != "" {
		args = append(args, "-c", c.configFile)
	}
	return append(args, extra...)
}

func (c *Controller) run(ctx context.Context, args []string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.runner.Run(ctx, c.binary, args...)
}
