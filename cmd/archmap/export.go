package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-archmap/pkg/export"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		target string
		format string
		layout string
		output string
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "export [scan-id]",
		Short: "Export a snapshot graph as node-link JSON, GEXF or DOT",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scanID string
			if len(args) == 1 {
				scanID = args[0]
			}

			if format == "" && output != "" {
				format = filepath.Ext(output)
			}
			if format == "" {
				format = string(export.FormatJSON)
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
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

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer file.Close()
				w = file
			}

			opts := export.Options{Layout: layout, LayoutConfig: export.LayoutConfig{Seed: seed}}
			if err := export.Write(w, f, snap.Graph, snap.Findings, opts); err != nil {
				return err
			}
			if output != "" {
				a.logger.Info("graph exported",
					logging.ScanID(snap.Metadata.ScanID),
					logging.Path(output),
					logging.String("format", string(f)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", ".", "target whose latest snapshot to export")
	cmd.Flags().StringVarP(&format, "format", "f", "", "json, gexf or dot (default from --output extension, else json)")
	cmd.Flags().StringVar(&layout, "layout", "", "node positions: circular, hierarchical or force")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	cmd.Flags().Int64Var(&seed, "seed", 1, "force layout seed")
	return cmd
}
