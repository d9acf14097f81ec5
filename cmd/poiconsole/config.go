package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/poiconsole/internal/appconfig"
	"pkt.systems/pslog"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the poiconsole config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var cfgPath string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.WriteDefault(cfgPath, overwrite)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config wrote", "path", path)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "server.base_url: %s\n", cfg.Server.BaseURL)
			_, _ = fmt.Fprintf(out, "server.history_path: %s\n", cfg.Server.HistoryPath)
			_, _ = fmt.Fprintf(out, "server.channel_path: %s\n", cfg.Server.ChannelPath)
			_, _ = fmt.Fprintf(out, "server.request_timeout: %s\n", cfg.Server.RequestTimeout())
			_, _ = fmt.Fprintf(out, "server.dial_timeout: %s\n", cfg.Server.DialTimeout())
			_, _ = fmt.Fprintf(out, "server.write_timeout: %s\n", cfg.Server.WriteTimeout())
			_, _ = fmt.Fprintf(out, "console.transcript_lines: %d\n", cfg.Console.TranscriptLines)
			_, _ = fmt.Fprintf(out, "console.command_history: %d\n", cfg.Console.CommandHistory)
			_, _ = fmt.Fprintf(out, "console.event_buffer: %d\n", cfg.Console.EventBuffer)
			_, _ = fmt.Fprintf(out, "console.credential_env: %s\n", cfg.Console.CredentialEnv)
			_, _ = fmt.Fprintf(out, "console.persist_history: %t\n", cfg.Console.PersistHistory)
			_, _ = fmt.Fprintf(out, "console.state_dir: %s\n", cfg.Console.StateDir)
			_, _ = fmt.Fprintf(out, "mock.addr: %s\n", cfg.Mock.Addr)
			_, _ = fmt.Fprintf(out, "mock.token_hash_set: %t\n", cfg.Mock.TokenHash != "")
			_, _ = fmt.Fprintf(out, "mock.history_lines: %d\n", cfg.Mock.HistoryLines)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
