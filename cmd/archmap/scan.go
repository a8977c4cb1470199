package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-archmap/pkg/finding"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		asJSON      bool
		minSeverity string
	)
	cmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "Scan a target directory and store a snapshot",
		Long: `Scan reads the facts extractors wrote under <target>/.archmap/, builds
the dependency graph, runs the analysis rules and stores the result as a new
snapshot. The scan is diffed against the previous snapshot of the target.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
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

			res, err := e.Scan(cmd.Context(), target)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, scanOutput{
					Metadata:    res.Summary(),
					Findings:    finding.Filter(res.Snapshot.Findings, floor),
					Diagnostics: len(res.Snapshot.Diagnostics),
					Diff:        summarize(res.Diff),
				})
			}
			renderSummary(out, res.Summary(), res.Snapshot.Findings)
			renderFindings(out, finding.Filter(res.Snapshot.Findings, floor))
			renderDiagnostics(out, res.Snapshot.Diagnostics)
			if res.Diff != nil {
				renderDiff(out, res.Diff)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().StringVar(&minSeverity, "min-severity", string(finding.SeverityInfo), "hide findings below this severity")
	return cmd
}
