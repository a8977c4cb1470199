package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDiffCmd(a *app) *cobra.Command {
	var (
		target string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "diff [from-scan-id to-scan-id]",
		Short: "Compare two snapshots",
		Long: `Diff compares two stored snapshots. Without arguments it compares the two
most recent snapshots of --target.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 scan ids, received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			var from, to string
			if len(args) == 2 {
				from, to = args[0], args[1]
			} else {
				ms, err := e.History(cmd.Context(), target)
				if err != nil {
					return err
				}
				if len(ms) < 2 {
					return fmt.Errorf("target %s has %d snapshot(s); need two to diff", target, len(ms))
				}
				from, to = ms[1].ScanID, ms[0].ScanID
			}

			d, err := e.Diff(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			renderDiff(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", ".", "target whose latest two snapshots to compare")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff as JSON")
	return cmd
}
