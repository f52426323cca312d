package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipkeep/internal/activation"
	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/history"
	"go.klb.dev/clipkeep/internal/hub"
	"go.klb.dev/clipkeep/internal/ipc"
	"go.klb.dev/clipkeep/internal/listener"
	"go.klb.dev/clipkeep/internal/paste"
)

func newDaemonCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Record clipboard history and serve it to the CLI",
		Long: `Starts the clipkeep daemon. It listens for clipboard changes, stores each
new text, file list or image in the history database, and answers history,
search, paste and pin requests on the local IPC endpoint.

Only one daemon runs per endpoint; a second one exits with an error.

Config file search order:
  <user config dir>/clipkeep/clipkeep.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPKEEP_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	addStoreFlags(cmd)
	f.Duration("paste-delay", paste.DefaultOptions().SettleDelay, "pause between focusing the target window and sending Ctrl+V")
	f.Duration("stop-timeout", 2*time.Second, "how long shutdown waits for the clipboard listener")
	addSocketFlag(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runDaemon(v *viper.Viper) error {
	closeLog, err := setupLogging(v)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := dbPath(v)
	socket := ipc.SocketPath(v.GetString("socket"))
	backend := clip.New()

	slog.Info("clipkeep daemon starting",
		"version", Version,
		"db", path,
		"socket", socket,
		"backend", backend.Name(),
	)

	// Claim the endpoint first so a second daemon never touches the database.
	ln, err := ipc.Listen(socket)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return fmt.Errorf("another clipkeep daemon is listening on %s", socket)
		}
		return fmt.Errorf("listen %s: %w", socket, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		_ = ln.Close()
		return fmt.Errorf("data dir: %w", err)
	}
	store, err := history.Open(ctx, path, storeOptions(v))
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	h := hub.New()
	lopts := listener.DefaultOptions()
	lopts.MaxImageBytes = v.GetInt("max-image-bytes")
	l := listener.New(backend, activation.NewSink(store, h), lopts)
	if err := l.Start(); err != nil {
		// History stays browsable without capture.
		slog.Warn("clipboard listener unavailable", "err", err)
	}

	popts := paste.DefaultOptions()
	popts.SettleDelay = v.GetDuration("paste-delay")
	engine := paste.New(backend, l, popts)

	svc := activation.New(activation.Config{
		Store:         store,
		Paster:        engine,
		Backend:       backend,
		Hub:           h,
		ListenerState: func() string { return l.State().String() },
		Version:       Version,
	})
	srv := activation.NewServer(svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("ipc listening", "path", socket)
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := l.Stop(v.GetDuration("stop-timeout")); err != nil {
			slog.Warn("listener stop", "err", err)
		}
		return nil
	})

	err = g.Wait()
	engine.Wait()
	slog.Info("clipkeep daemon stopped")
	return err
}
