package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/config"
	"github.com/technosupport/ts-ptz/internal/logging"
)

// commandContext is shared by all commands.
type commandContext struct {
	Logger     *zap.Logger
	Level      zap.AtomicLevel
	Config     *config.Config
	ConfigPath string
}

func newCommandContext(c *cli.Context) (*commandContext, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logger, level, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, c.Bool("debug"))
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &commandContext{Logger: logger, Level: level, Config: cfg, ConfigPath: path}, nil
}
