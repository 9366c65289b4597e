package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberfall/cinder/internal/compiler"
	"github.com/emberfall/cinder/internal/config"
	"github.com/emberfall/cinder/internal/engine"
	"github.com/emberfall/cinder/internal/metrics"
	"github.com/emberfall/cinder/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine",
		Long: `Start the rule engine from a configuration file.

The engine restores persisted rules and timers (when persistence is
configured), loads the rule documents the config references, and runs
the dispatch loop until interrupted.

Example:
  cinder run --config ./cinder.yaml
  cinder run --config ./cinder.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	configureLogging(cfg, opts.Verbose)

	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}
	defer cleanup()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := eng.Restore(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to restore state", err)
	}
	if err := loadRuleDocs(ctx, eng, cfg.Rules); err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, draining", "signal", sig)
			eng.Stop(engine.StopDrain)
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")
	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	slog.Info("engine stopped")
	return nil
}

func configureLogging(cfg config.Config, verbose bool) {
	level := parseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	ho := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, ho)
	} else {
		handler = slog.NewTextHandler(os.Stderr, ho)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildEngine assembles an engine from config. The returned cleanup
// closes the storage adapter.
func buildEngine(cfg config.Config) (*engine.Engine, func(), error) {
	engOpts := []engine.Option{
		engine.WithName(cfg.Name),
		engine.WithMaxCausationDepth(cfg.Engine.MaxCausationDepth),
		engine.WithDefaultRuleTimeout(time.Duration(cfg.Engine.DefaultRuleTimeoutMs) * time.Millisecond),
		engine.WithTemporalCleanupInterval(time.Duration(cfg.Engine.TemporalCleanupIntervalMs) * time.Millisecond),
		engine.WithWebhookRetry(engine.WebhookRetry{
			Attempts:    cfg.Webhook.Attempts,
			BaseMs:      cfg.Webhook.BaseMs,
			Factor:      cfg.Webhook.Factor,
			JitterRatio: cfg.Webhook.JitterRatio,
			TimeoutMs:   cfg.Webhook.TimeoutMs,
		}),
		engine.WithMetrics(metrics.Options{
			PerRuleMetrics:  cfg.Metrics.PerRuleMetrics,
			MaxLabeledRules: cfg.Metrics.MaxLabeledRules,
		}),
	}

	cleanup := func() {}
	if cfg.Persistence.Path != "" {
		adapter, err := store.OpenSQLite(cfg.Persistence.Path)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() {
			if closeErr := adapter.Close(); closeErr != nil {
				slog.Error("error closing store", "error", closeErr)
			}
		}
		engOpts = append(engOpts, engine.WithPersistence(adapter))
		if cfg.Timers.Enabled {
			engOpts = append(engOpts, engine.WithTimerPersistence(adapter))
			if cfg.Timers.CheckIntervalMs > 0 {
				engOpts = append(engOpts,
					engine.WithTimerCheckInterval(time.Duration(cfg.Timers.CheckIntervalMs)*time.Millisecond))
			}
		}
	}

	return engine.New(engOpts...), cleanup, nil
}

// loadRuleDocs imports every referenced rule document. JSON documents
// import directly; .cue documents compile first.
func loadRuleDocs(ctx context.Context, eng *engine.Engine, paths []string) error {
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var n int
		if strings.HasSuffix(path, ".cue") {
			rules, err := compiler.CompileRules(path, string(raw))
			if err != nil {
				return err
			}
			for _, r := range rules {
				if _, err := eng.Rules().Register(ctx, r); err != nil {
					return fmt.Errorf("register %s from %s: %w", r.ID, path, err)
				}
			}
			n = len(rules)
		} else {
			if n, err = eng.Rules().Import(ctx, raw); err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
		}
		slog.Info("rules loaded", "path", path, "count", n)
	}
	return nil
}
