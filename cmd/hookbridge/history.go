package main

import (
	"encoding/json"
	"fmt"
	"time"

	"hookbridge/internal/config"
	"hookbridge/internal/journal"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		listener string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently handled webhooks from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled (journal.enabled)")
			}

			store, err := journal.Open(cmd.Context(), cfg.Journal.Path, 0, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), listener, limit)
			if err != nil {
				return err
			}

			if asJSON {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no entries")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-4s %-28s %-15s elements=%d images=%d sent=%d/%d %s",
					e.CreatedAt.Local().Format(time.DateTime),
					e.Method, e.Listener, e.Outcome,
					e.Elements, e.TextImages,
					e.Destinations-e.Failures, e.Destinations,
					e.Duration.Round(time.Millisecond))
				if e.Error != "" {
					line += "  err=" + e.Error
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&listener, "listener", "l", "", "only show entries for this listener path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
