package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"magnolia/internal/config"
	"magnolia/internal/logging"
	"magnolia/internal/metrics"
	"magnolia/internal/notifications"
	"magnolia/internal/services"
)

type commandContext struct {
	configFlag    string
	logLevelFlag  string
	logFormatFlag string
	noProgress    bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	logCloser  io.Closer
	loggerErr  error

	runID    string
	metrics  *metrics.Recorder
	notifier notifications.Service
}

func newCommandContext() *commandContext {
	return &commandContext{
		runID:   uuid.NewString(),
		metrics: metrics.New(),
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", "", err)
			return
		}
		if level := strings.TrimSpace(c.logLevelFlag); level != "" {
			cfg.Logging.Level = strings.ToLower(level)
		}
		if format := strings.TrimSpace(c.logFormatFlag); format != "" {
			cfg.Logging.Format = strings.ToLower(format)
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "ensure directories", "", err)
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// ensureLogger builds the run logger writing to w and mirrored into the log
// directory, then prunes expired log files.
func (c *commandContext) ensureLogger(w io.Writer) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		opts := logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Writer: w,
			RunID:  c.runID,
		}
		if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
			opts.FilePath = filepath.Join(dir, logging.LogFileName)
		}
		logger, closer, err := logging.New(opts)
		if err != nil {
			c.loggerErr = services.Wrap(services.ErrConfiguration, "config", "logger", "", err)
			return
		}
		c.logger = logger
		c.logCloser = closer
		logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
			Dir:     cfg.Paths.LogDir,
			Pattern: "*.log",
			Exclude: []string{opts.FilePath},
		})
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) loggerValue() *slog.Logger {
	if c.logger == nil {
		return logging.NewNop()
	}
	return c.logger
}

func (c *commandContext) notifierValue() notifications.Service {
	if c.notifier == nil {
		c.notifier = notifications.NewService(c.config)
	}
	return c.notifier
}

// runContext stamps the run ID and stage onto the command context.
func (c *commandContext) runContext(cmd *cobra.Command, stage string) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return services.WithStage(services.WithRunID(ctx, c.runID), stage)
}

// finishStage exports metrics and publishes the completion or error event.
// Both are best-effort.
func (c *commandContext) finishStage(ctx context.Context, stage string, started time.Time, runErr error, event notifications.Event, payload notifications.Payload) {
	logger := logging.WithContext(ctx, c.loggerValue())
	finished := time.Now()
	result := "success"
	if runErr != nil {
		result = "failure"
	}
	c.metrics.ObserveStage(stage, result, finished.Sub(started), finished)
	if c.config != nil {
		if err := c.metrics.WriteTextfile(c.config.Metrics.Textfile); err != nil {
			logging.WarnWithContext(logger, "metrics export failed", "metrics_export_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check metrics.textfile path permissions"),
				logging.String(logging.FieldImpact, "run metrics not exported"),
			)
		}
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if runErr != nil && !errors.Is(runErr, services.ErrActionsFailed) {
		if !errors.Is(runErr, context.Canceled) {
			logging.ErrorWithContext(logger, stage+" failed", "stage_failed",
				logging.Error(runErr),
				logging.Int("exit_code", services.ExitCode(runErr)),
			)
		}
		event = notifications.EventError
		payload = notifications.Payload{"context": stage, "error": runErr}
	}
	if payload == nil {
		payload = notifications.Payload{}
	}
	if _, ok := payload["duration"]; !ok {
		payload["duration"] = finished.Sub(started)
	}
	if err := c.notifierValue().Publish(notifyCtx, event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "run result not delivered to ntfy"),
		)
	}
}

func (c *commandContext) close() {
	if c.logCloser != nil {
		_ = c.logCloser.Close()
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func expandArg(name, value string) (string, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(value))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", name, value, err)
	}
	if expanded == "" {
		return "", services.Wrap(services.ErrValidation, "", name, "path is required", nil)
	}
	return expanded, nil
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
