package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/timzifer/voltseq/compiler"
	"github.com/timzifer/voltseq/program"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Sequence string
	Output   string
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile sequences to device programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Sequence, "sequence", "s", "", "compile only this sequence")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *CompileOptions) error {
	s, err := openSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.cleanup()

	var compiled []*compiler.Compiled
	if opts.Sequence != "" {
		one, err := s.compiler.Compile(cmd.Context(), opts.Sequence)
		if err != nil {
			return err
		}
		compiled = []*compiler.Compiled{one}
	} else {
		compiled, err = s.compiler.CompileAll(cmd.Context())
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	return writePrograms(out, opts.Format, compiled)
}

func writePrograms(w io.Writer, format string, compiled []*compiler.Compiled) error {
	for i, c := range compiled {
		if format == "json" {
			if err := program.WriteJSON(w, c.Program); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "# sequence %s on %s (program %s)\n", c.Sequence, c.Set, c.Program.ID()); err != nil {
			return err
		}
		if err := program.WriteText(w, c.Program); err != nil {
			return err
		}
	}
	return nil
}
