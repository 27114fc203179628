package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-go/vai-call/internal/tui"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/config"
	"github.com/vango-go/vai-call/pkg/call/eventloop"
	"github.com/vango-go/vai-call/pkg/call/health"
	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/call/session"
)

const shutdownTimeout = 3 * time.Second

func newCallCmd(flags *globalFlags, deps callDeps) *cobra.Command {
	var pf pageFlags
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Start a voice conversation about a page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer closeLog()

			content, err := pf.load(cmd.Context(), deps, cfg.PageMaxChars)
			if err != nil {
				return fmt.Errorf("load page: %w", err)
			}
			return runCall(cmd.Context(), cfg, content, logger, deps)
		},
	}
	cmd.Flags().String("server", "", "websocket url of the voice server")
	pf.register(cmd)
	return cmd
}

func runCall(ctx context.Context, cfg config.Config, pageContent string, logger *slog.Logger, deps callDeps) error {
	if deps.newMicrophone == nil || deps.newSpeaker == nil || deps.runUI == nil {
		return errors.New("missing device or ui dependency")
	}

	m := metrics.New("")
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, m, logger)
		defer stopMetrics()
	}

	mic, err := deps.newMicrophone(logger)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer mic.Close()

	out, err := deps.newSpeaker(cfg.PlaybackSampleRate, logger)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer out.Close()

	// The loop outlives ctx so the close sequence still runs after a signal.
	loop := eventloop.New(0)
	go func() {
		if err := loop.Run(context.Background()); err != nil {
			logger.Warn("event loop stopped", "error", err)
		}
	}()
	defer loop.Stop()

	constraints := capture.DefaultConstraints()
	constraints.SampleRate = cfg.CaptureSampleRate
	constraints.Channels = cfg.CaptureChannels

	bridge := tui.NewBridge()
	defer bridge.Close()
	sess, err := session.New(loop, session.Options{
		ServerURL:    cfg.ServerURL,
		PageContent:  pageContent,
		MinClipBytes: cfg.MinClipBytes,
		SegmentGap:   cfg.SegmentGap,
		Constraints:  constraints,
		Device:       mic,
		Player:       out,
		Observer:     bridge,
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var checkHealth func() health.Report
	if healthURL, err := cfg.HealthEndpoint(); err == nil {
		checkHealth = func() health.Report {
			hctx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()
			return health.Check(hctx, deps.httpClient, healthURL)
		}
	}

	uiErr := deps.runUI(ctx, tui.New(sess, bridge, cfg.ServerURL, checkHealth))

	// Close order: capture, playback, socket, then the devices via defers.
	// ctx may already be cancelled by a signal, so shutdown gets its own.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown session", "error", err)
	}
	if err := loop.Call(shutdownCtx, func() {}); err != nil && !errors.Is(err, eventloop.ErrStopped) {
		logger.Warn("flush event loop", "error", err)
	}
	loop.Stop()

	if uiErr != nil && !errors.Is(uiErr, context.Canceled) {
		return fmt.Errorf("run ui: %w", uiErr)
	}
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
