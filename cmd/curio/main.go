// Package main implements the curio CLI: practice training, attribution and
// archive queries over the experience-reuse core.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curio/internal/config"
	"github.com/fyrsmithlabs/curio/internal/logging"
	"github.com/fyrsmithlabs/curio/internal/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr, config.NewLoader()).Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	loader     *config.Loader
}

func newRootCmd(out, errOut io.Writer, loader *config.Loader) *cobra.Command {
	a := &app{out: out, errOut: errOut, loader: loader}

	root := &cobra.Command{
		Use:   "curio",
		Short: "Curiosity-driven practice and credit attribution for agents",
		Long: `curio runs self-directed practice epochs for an agent, stores the
high-quality results for reuse, and splits rewards among agents that
produced an outcome together.

Configuration is read from ~/.config/curio/config.yaml (or --config) and
CURIO_* environment variables.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/curio/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(newTrainCmd(a))
	root.AddCommand(newAttributeCmd(a))
	root.AddCommand(newArchiveCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loader.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if err := cfg.Logging.Level.UnmarshalText([]byte(a.logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	a.cfg = cfg

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tel, err := telemetry.New(ctx, &cfg.Telemetry, nil)
	if err != nil {
		return err
	}
	a.tel = tel

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider(), logging.WithWriter(a.errOut))
	if err != nil {
		return err
	}
	a.logger = logger
	logger.Debug(ctx, "configuration loaded",
		zap.String("config", a.configPath),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
		zap.Bool("archive", cfg.Archive.Enabled))
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Sync())
	}
	return errors.Join(errs...)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the curio version",
		// Runs without loading configuration.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "curio %s\n", version)
		},
	}
}
