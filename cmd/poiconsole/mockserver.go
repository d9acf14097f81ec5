package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"pkt.systems/poiconsole"
	"pkt.systems/poiconsole/httpapi"
	"pkt.systems/poiconsole/internal/appconfig"
	"pkt.systems/poiconsole/internal/version"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

const mockStopTimeout = 5 * time.Second

func newMockServerCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var token string
	var showQR bool
	var hashOnly bool
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local PoiManager emulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			token = strings.TrimSpace(token)
			if hashOnly {
				hash, err := httpapi.HashToken(token)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
				return err
			}
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Mock.Addr = addr
			}
			hash := cfg.Mock.TokenHash
			if token != "" {
				hash, err = httpapi.HashToken(token)
				if err != nil {
					return err
				}
			}
			if hash == "" {
				return errors.New("mock-server needs --token or mock.token_hash")
			}
			verifier, err := httpapi.NewBcryptVerifier(hash)
			if err != nil {
				return err
			}
			if showQR {
				if token == "" {
					return errors.New("--qr needs --token")
				}
				printTokenQR(cmd.OutOrStdout(), token)
			}

			srv, err := poiconsole.NewMockServer(poiconsole.MockServerConfig{
				HTTP: httpapi.Config{
					Addr:         cfg.Mock.Addr,
					HistoryLines: cfg.Mock.HistoryLines,
					WriteTimeout: cfg.Server.WriteTimeout(),
				},
				Seed: mockSeed(time.Now()),
			}, poiconsole.MockServerDeps{
				Verifier: verifier,
				Executor: httpapi.NewDemoExecutor(),
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			if err := srv.Start(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", srv.Addr())
			waitErr := srv.Wait()
			stopCtx, cancel := context.WithTimeout(context.Background(), mockStopTimeout)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil && waitErr == nil {
				return err
			}
			return waitErr
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides mock.addr)")
	cmd.Flags().StringVar(&token, "token", "", "accepted token (overrides mock.token_hash)")
	cmd.Flags().BoolVar(&showQR, "qr", false, "print the token as a QR code")
	cmd.Flags().BoolVar(&hashOnly, "hash", false, "print a bcrypt hash of --token for mock.token_hash and exit")
	return cmd
}

func printTokenQR(w io.Writer, token string) {
	_, _ = fmt.Fprintln(w, "token_qr:")
	qrterminal.GenerateHalfBlock(token, qrterminal.L, w)
}

func mockSeed(now time.Time) []schema.HistoryEntry {
	return []schema.HistoryEntry{
		{Category: schema.FrameTypeBroadcast, Text: fmt.Sprintf("PoiManager emulator %s started at %s", version.Current(), now.UTC().Format(time.RFC3339))},
		{Category: schema.FrameTypeBroadcast, Text: `Type "help" for a list of commands.`},
	}
}
