package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/vango-go/vai-call/internal/dotenv"
	"github.com/vango-go/vai-call/pkg/audio/device"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/config"
	"github.com/vango-go/vai-call/pkg/call/playback"
)

type microphone interface {
	capture.Device
	Close() error
}

type speaker interface {
	playback.Player
	Close() error
}

type callDeps struct {
	loadEnv       func(path string) error
	newMicrophone func(*slog.Logger) (microphone, error)
	newSpeaker    func(sampleRate int, logger *slog.Logger) (speaker, error)
	runUI         func(ctx context.Context, model tea.Model) error
	httpClient    *http.Client
}

func defaultCallDeps() callDeps {
	return callDeps{
		loadEnv: dotenv.LoadFile,
		newMicrophone: func(logger *slog.Logger) (microphone, error) {
			return device.NewMicrophone(logger)
		},
		newSpeaker: func(sampleRate int, logger *slog.Logger) (speaker, error) {
			return device.NewSpeaker(sampleRate, logger)
		},
		runUI: func(ctx context.Context, model tea.Model) error {
			_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
		httpClient: http.DefaultClient,
	}
}

type globalFlags struct {
	configFile string
}

func newRootCmd(ctx context.Context, stdout, stderr io.Writer, deps callDeps) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "vai-call",
		Short:         "Talk to a page-aware voice assistant from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetContext(ctx)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	pf.String("log-file", "", "write logs to this file")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newCallCmd(&flags, deps),
		newHealthCmd(&flags, deps),
		newPageCmd(&flags, deps),
	)
	return root
}

func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configFile, cmd.Flags())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogger builds the process logger. When quiet is set and no log file is
// configured, logs are discarded so they do not corrupt the terminal UI.
func setupLogger(cfg config.Config, stderr io.Writer, quiet bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := stderr
	closeFn := func() {}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case quiet:
		out = io.Discard
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), closeFn, nil
	}
	return slog.New(slog.NewTextHandler(out, opts)), closeFn, nil
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps callDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if deps.loadEnv != nil {
		if err := deps.loadEnv(".env"); err != nil {
			fmt.Fprintf(stderr, "vai-call: %v\n", err)
			return 1
		}
	}

	root := newRootCmd(ctx, stdout, stderr, deps)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "vai-call: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultCallDeps())
	stop()
	os.Exit(code)
}
