package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-archmap/pkg/notify"
)

func newEventsCmd(a *app) *cobra.Command {
	var (
		address string
		topics  []string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow scan events published by a running watch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if address == "" {
				address = a.cfg.Notify.Address
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := notify.Subscribe(address, topics...)
			if err != nil {
				return err
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			for {
				e, err := sub.Next(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(out, e); err != nil {
						return err
					}
					continue
				}
				line := fmt.Sprintf("%s %-15s target=%s scan=%s",
					e.Time.Format(time.RFC3339), e.Topic, e.TargetID, e.ScanID)
				switch {
				case e.Error != "":
					line = errorStyle.Render(line + " error=" + e.Error)
				case e.Diff != nil:
					line += fmt.Sprintf(" previous=%s entities=+%d/-%d findings=+%d/-%d",
						e.Previous,
						e.Diff.EntitiesAdded, e.Diff.EntitiesRemoved,
						e.Diff.FindingsIntroduced, e.Diff.FindingsResolved)
				}
				fmt.Fprintln(out, line)
			}
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "publisher address (default notify.address)")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topics to follow (default all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	return cmd
}
