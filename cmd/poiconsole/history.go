package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/poiconsole/internal/history"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

func newHistoryCmd() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the manager's buffered log and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, cred, err := flags.load()
			if err != nil {
				return err
			}
			fetcher, err := history.New(history.Config{
				BaseURL: cfg.Server.BaseURL,
				Path:    cfg.Server.HistoryPath,
				Timeout: cfg.Server.RequestTimeout(),
			}, nil, logger)
			if err != nil {
				return err
			}
			entries, err := fetcher.Fetch(cmd.Context(), cred)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, entry := range entries {
				line := schema.DisplayLine{Category: entry.Category, Text: entry.Text}
				_, _ = fmt.Fprintln(out, line.String())
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
