package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ferry/internal/config"
	"ferry/internal/daemon"
	"ferry/internal/logging"
)

type commandContext struct {
	configFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag, logLevel *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		logLevel:   logLevel,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevel != nil && strings.TrimSpace(*c.logLevel) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevel)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// consoleLogger builds a stdout-only logger for short-lived commands.
func (c *commandContext) consoleLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// openDaemon builds the daemon. Run modes also get a per-run log file and
// the single-instance lock; the returned func releases everything.
func (c *commandContext) openDaemon(runLog bool) (*daemon.Daemon, *slog.Logger, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	var logger *slog.Logger
	closers := []func(){}
	if runLog {
		rl, err := daemon.OpenRunLog(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		logger = rl.Logger
		closers = append(closers, func() { _ = rl.Close() })
	} else {
		logger, err = logging.NewFromConfig(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	closers = append(closers, func() { _ = d.Close() })

	if runLog {
		if err := d.Acquire(); err != nil {
			release()
			return nil, nil, nil, fmt.Errorf("%w (lock %s)", err, d.LockPath())
		}
	}
	return d, logger, release, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
