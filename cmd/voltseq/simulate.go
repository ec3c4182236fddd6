package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timzifer/voltseq/program"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Sequence string
	Inputs   []string
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a compiled sequence and report the final level and area per channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Sequence, "sequence", "s", "", "sequence to simulate")
	cmd.Flags().StringArrayVarP(&opts.Inputs, "input", "i", nil, "input value as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("sequence")

	return cmd
}

func parseInputs(raw []string) (map[string]any, error) {
	inputs := make(map[string]any, len(raw))
	for _, entry := range raw {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid input %q: expected name=value", entry)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = f
	}
	return inputs, nil
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions) error {
	inputs, err := parseInputs(opts.Inputs)
	if err != nil {
		return err
	}
	s, err := openSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.cleanup()

	compiled, err := s.compiler.Compile(cmd.Context(), opts.Sequence)
	if err != nil {
		return err
	}
	res, err := program.Simulate(compiled.Program, inputs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	names := make([]string, 0, len(res.Channels))
	for name := range res.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := res.Channels[name]
		if _, err := fmt.Fprintf(out, "%s level=%g area=%g time=%g\n", name, ch.Level, ch.Area, ch.Time); err != nil {
			return err
		}
	}
	return nil
}
