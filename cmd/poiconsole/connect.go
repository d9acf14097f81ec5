package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/poiconsole"
	"pkt.systems/poiconsole/core"
	"pkt.systems/poiconsole/internal/appconfig"
	"pkt.systems/poiconsole/internal/console"
	"pkt.systems/poiconsole/internal/persist"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

type serverFlags struct {
	cfgPath string
	baseURL string
	token   string
}

func (f *serverFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "manager base url (overrides config)")
	cmd.Flags().StringVar(&f.token, "token", "", "manager token (default: $POICONSOLE_TOKEN or console.credential_env)")
}

// load returns the effective config and credential.
func (f *serverFlags) load() (appconfig.Config, schema.Credential, error) {
	cfg, err := appconfig.Load(f.cfgPath)
	if err != nil {
		return appconfig.Config{}, "", err
	}
	if f.baseURL != "" {
		cfg.Server.BaseURL = strings.TrimSpace(f.baseURL)
		if err := appconfig.Validate(cfg); err != nil {
			return appconfig.Config{}, "", err
		}
	}
	return cfg, resolveCredential(f.token, cfg.Console.CredentialEnv, os.LookupEnv), nil
}

func newConnectCmd() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive console to the manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, cred, err := flags.load()
			if err != nil {
				return err
			}
			store, seed := openCommandStore(cfg, logger)
			clientCfg := clientConfig(cfg)
			clientCfg.Session.SeedHistory = seed
			client, err := poiconsole.NewClient(clientCfg, poiconsole.ClientDeps{Logger: logger}, poiconsole.WithEventBus())
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if store != nil {
				defer saveCommands(store, cfg.Server.BaseURL, client.Session(), logger)
			}
			events, unsubscribe := client.Events().Subscribe()
			defer unsubscribe()

			logger.Info("console start", "base_url", cfg.Server.BaseURL, "credential", cred.Fingerprint())
			c := console.New(client.Session(), events, console.Config{
				In:         cmd.InOrStdin(),
				Out:        cmd.OutOrStdout(),
				Credential: cred,
				Logger:     logger,
			})
			return c.Run(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

// openCommandStore returns the command store and the saved history for the
// configured manager. Persistence problems are logged and disable saving.
func openCommandStore(cfg appconfig.Config, logger pslog.Logger) (*persist.Store, []string) {
	if !cfg.Console.PersistHistory {
		return nil, nil
	}
	dir := cfg.Console.StateDir
	if dir == "" {
		var err error
		dir, err = appconfig.DefaultStateDir()
		if err != nil {
			logger.Warn("command history disabled", "err", err)
			return nil, nil
		}
	}
	store, err := persist.NewStoreWithLogger(dir, logger)
	if err != nil {
		logger.Warn("command history disabled", "err", err)
		return nil, nil
	}
	saved, ok, err := store.Load(cfg.Server.BaseURL)
	if err != nil {
		logger.Warn("command history unreadable", "err", err)
		return store, nil
	}
	if !ok {
		return store, nil
	}
	return store, saved.Commands
}

func saveCommands(store *persist.Store, manager string, session *core.Session, logger pslog.Logger) {
	cmds, err := session.CommandHistory(context.Background())
	if err != nil {
		logger.Debug("command history not saved", "err", err)
		return
	}
	if err := store.Save(manager, cmds); err != nil {
		logger.Warn("command history save failed", "err", err)
	}
}

func clientConfig(cfg appconfig.Config) poiconsole.ClientConfig {
	return poiconsole.ClientConfig{
		BaseURL:        cfg.Server.BaseURL,
		HistoryPath:    cfg.Server.HistoryPath,
		ChannelPath:    cfg.Server.ChannelPath,
		RequestTimeout: cfg.Server.RequestTimeout(),
		DialTimeout:    cfg.Server.DialTimeout(),
		WriteTimeout:   cfg.Server.WriteTimeout(),
		Session: core.SessionConfig{
			TranscriptLines: cfg.Console.TranscriptLines,
			CommandHistory:  cfg.Console.CommandHistory,
		},
		EventBuffer: cfg.Console.EventBuffer,
	}
}

// resolveCredential prefers the flag, then the configured environment variable.
func resolveCredential(flag, envName string, lookup func(string) (string, bool)) schema.Credential {
	if token := strings.TrimSpace(flag); token != "" {
		return schema.Credential(token)
	}
	envName = strings.TrimSpace(envName)
	if envName == "" || lookup == nil {
		return ""
	}
	if value, ok := lookup(envName); ok {
		return schema.Credential(strings.TrimSpace(value))
	}
	return ""
}
