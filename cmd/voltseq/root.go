package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/timzifer/voltseq/compiler"
	"github.com/timzifer/voltseq/config"
	"github.com/timzifer/voltseq/internal/logging"
	"github.com/timzifer/voltseq/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the voltseq command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "voltseq",
		Short: "Compile voltage sequences into device programs",
		Long: `voltseq turns setup files describing channel sets, virtual gate layers,
tuning points and scripted sequences into relative device instruction streams.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "setup.cue", "setup file or CUE package directory")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session bundles what every command needs after loading the setup.
type session struct {
	cfg       *config.Config
	logger    zerolog.Logger
	collector telemetry.Collector
	compiler  *compiler.Compiler
	cleanup   func()
}

func openSession(opts *RootOptions, stderr io.Writer) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return newSession(opts, cfg, stderr)
}

func newSession(opts *RootOptions, cfg *config.Config, stderr io.Writer) (*session, error) {
	logCfg := cfg.Logging
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg, stderr)
	if err != nil {
		return nil, err
	}
	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}
	c, err := compiler.New(cfg, compiler.WithLogger(logger), compiler.WithTelemetry(collector))
	if err != nil {
		cleanup()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, collector: collector, compiler: c, cleanup: cleanup}, nil
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	collector, err := telemetry.NewPrometheusCollector(nil)
	if err != nil {
		return nil, err
	}
	return collector, nil
}
