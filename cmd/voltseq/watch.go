package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/timzifer/voltseq/config"
	"github.com/timzifer/voltseq/internal/reload"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Recompile all sequences whenever a setup file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "poll interval")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	s, err := openSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { s.cleanup() }()

	recompile := func() {
		compiled, err := s.compiler.CompileAll(cmd.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("compilation failed")
			return
		}
		if err := writePrograms(cmd.OutOrStdout(), opts.Format, compiled); err != nil {
			s.logger.Error().Err(err).Msg("write programs")
		}
	}

	watcher, err := reload.NewWatcher(opts.ConfigPath, s.cfg)
	if err != nil {
		return err
	}
	s.logger.Info().Strs("files", watcher.Files()).Msg("watching setup")
	recompile()

	return watcher.Run(cmd.Context(), opts.Interval, func(changed []string) error {
		for _, file := range changed {
			s.collector.IncRecompile(file)
		}
		s.logger.Info().Strs("files", changed).Msg("setup changed")

		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			s.logger.Error().Err(err).Msg("reload setup")
			return watcher.Update(opts.ConfigPath, s.cfg)
		}
		next, err := newSession(opts.RootOptions, cfg, cmd.ErrOrStderr())
		if err != nil {
			s.logger.Error().Err(err).Msg("reload setup")
			return watcher.Update(opts.ConfigPath, s.cfg)
		}
		s.cleanup()
		s = next
		recompile()
		return watcher.Update(opts.ConfigPath, s.cfg)
	})
}
