package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-go/vai-call/pkg/call/health"
)

const healthTimeout = 5 * time.Second

func newHealthCmd(flags *globalFlags, deps callDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check whether the voice server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer closeLog()

			healthURL, err := cfg.HealthEndpoint()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
			defer cancel()
			report := health.Check(ctx, deps.httpClient, healthURL)
			logger.Debug("health probe", "url", healthURL, "online", report.Online, "error", report.Err)

			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			if !report.Online {
				return errors.New("server offline")
			}
			return nil
		},
	}
	cmd.Flags().String("server", "", "websocket url of the voice server")
	cmd.Flags().String("health-url", "", "health endpoint (default: derived from --server)")
	return cmd
}
