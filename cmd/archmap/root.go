package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-archmap/pkg/config"
	"github.com/dd0wney/cluso-archmap/pkg/engine"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/metrics"
)

// Version is set at build time.
var Version = "dev"

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "archmap",
		Short:         "archmap builds and tracks a dependency map of a software system.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.flushMetrics()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./archmap.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("storage", "", "snapshot backend: file, sqlite, postgres, s3")
	flags.String("storage-dir", "", "snapshot directory for the file backend")

	root.AddCommand(
		newScanCmd(a),
		newReportCmd(a),
		newHistoryCmd(a),
		newDiffCmd(a),
		newExportCmd(a),
		newWatchCmd(a),
		newEventsCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"logging.level":   "log-level",
		"storage.backend": "storage",
		"storage.dir":     "storage-dir",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging, nil)
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewRegistry()
	}
	a.logger.Debug("configuration loaded",
		logging.String("config", v.ConfigFileUsed()),
		logging.String("storage", cfg.Storage.Backend))
	return nil
}

func (a *app) open(ctx context.Context) (*engine.Engine, error) {
	return engine.Open(ctx, a.cfg, a.logger, a.metrics)
}

// flushMetrics writes the textfile export for one-shot commands.
func (a *app) flushMetrics() error {
	if a.metrics == nil || a.cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
