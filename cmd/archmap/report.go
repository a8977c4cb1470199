package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-archmap/pkg/finding"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		target      string
		asJSON      bool
		rerun       bool
		minSeverity string
	)
	cmd := &cobra.Command{
		Use:   "report [scan-id]",
		Short: "Show the findings of a stored snapshot",
		Long: `Report prints a stored snapshot. Without a scan id it shows the latest
snapshot of --target. With --rerun the current rule configuration is applied
to the stored graph instead of showing the stored findings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scanID string
			if len(args) == 1 {
				scanID = args[0]
			}
			floor := finding.Severity(minSeverity)
			if !floor.Valid() {
				return fmt.Errorf("unknown severity %q", minSeverity)
			}

			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			snap, err := e.Snapshot(cmd.Context(), scanID, target)
			if err != nil {
				return err
			}
			findings, diagnostics := snap.Findings, snap.Diagnostics
			if rerun {
				findings, diagnostics, err = e.Reanalyze(cmd.Context(), snap.Metadata.ScanID)
				if err != nil {
					return err
				}
			}
			findings = finding.Filter(findings, floor)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, reportOutput{
					Metadata:    snap.Metadata,
					Findings:    findings,
					Diagnostics: diagnostics,
				})
			}
			renderSummary(out, snap.Metadata, findings)
			renderFindings(out, findings)
			renderDiagnostics(out, diagnostics)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", ".", "target whose latest snapshot to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&rerun, "rerun", false, "re-run the configured rules on the stored graph")
	cmd.Flags().StringVar(&minSeverity, "min-severity", string(finding.SeverityInfo), "hide findings below this severity")
	return cmd
}
