package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"machine-monitor/internal/machines/infrastructure/roster"
)

func newValidateCommand(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a machine roster.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = a.cfg.RosterPath
			}
			r, err := roster.LoadFile(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range r.Profiles {
				fmt.Fprintf(out, "ok       %-16s %-18s %s\n", p.ID, p.Type, p.SourceOrDefault())
			}
			for _, rejected := range r.Rejected {
				fmt.Fprintf(out, "rejected %v\n", rejected)
			}
			fmt.Fprintf(out, "%d valid, %d rejected\n", len(r.Profiles), len(r.Rejected))
			if len(r.Rejected) > 0 {
				return fmt.Errorf("roster %s has %d invalid entries", path, len(r.Rejected))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "roster", "", "roster file (defaults to roster_path)")
	return cmd
}
