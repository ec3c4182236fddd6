package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type checkReport struct {
	Status      string `json:"status"`
	ChannelSets int    `json:"channel_sets"`
	Sequences   int    `json:"sequences"`
	Error       string `json:"error,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the setup by building every channel set and sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.cleanup()

			checkErr := s.compiler.Check(cmd.Context())
			report := checkReport{
				Status:      "ok",
				ChannelSets: len(s.cfg.ChannelSets),
				Sequences:   len(s.cfg.Sequences),
			}
			if checkErr != nil {
				report.Status = "error"
				report.Error = checkErr.Error()
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if checkErr == nil {
				fmt.Fprintf(out, "setup ok: %d channel set(s), %d sequence(s)\n", report.ChannelSets, report.Sequences)
			}
			return checkErr
		},
	}
}
