package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lightcask/internal/compaction"
	"lightcask/internal/server"
	"lightcask/internal/store"

	"github.com/spf13/cobra"
)

type serverFlags struct {
	dir             string
	addr            string
	maxConnections  int
	maxSegmentBytes int64
	syncMode        string
	syncInterval    time.Duration
	strictDelete    bool
	compactInterval time.Duration
	compactRatio    float64
	compactMinBytes int64
	logLevel        string
}

func main() {
	if err := newServerCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newServerCmd() *cobra.Command {
	var f serverFlags

	defaults := store.DefaultOptions()
	compactDefaults := compaction.DefaultConfig()

	cmd := &cobra.Command{
		Use:          "lightcask-server",
		Short:        "Serve a lightcask data directory over the RESP protocol",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.dir, "dir", "./data", "Data directory")
	flags.StringVar(&f.addr, "addr", server.DefaultConfig().ListenAddr, "Listen address")
	flags.IntVar(&f.maxConnections, "max-connections", server.DefaultConfig().MaxConnections, "Maximum concurrent clients (0 = unlimited)")
	flags.Int64Var(&f.maxSegmentBytes, "max-segment-bytes", defaults.MaxSegmentBytes, "Segment size that triggers rotation")
	flags.StringVar(&f.syncMode, "sync", defaults.SyncMode.String(), "Durability mode: none, batch or always")
	flags.DurationVar(&f.syncInterval, "sync-interval", defaults.SyncInterval, "Flush interval for batch sync")
	flags.BoolVar(&f.strictDelete, "strict-delete", false, "Reject deletes of absent keys instead of writing a tombstone")
	flags.DurationVar(&f.compactInterval, "compact-interval", compactDefaults.CheckInterval, "How often to check whether compaction is due (0 disables)")
	flags.Float64Var(&f.compactRatio, "compact-ratio", compactDefaults.MinStaleRatio, "Stale byte ratio that triggers compaction")
	flags.Int64Var(&f.compactMinBytes, "compact-min-bytes", compactDefaults.MinStaleBytes, "Minimum stale bytes before compaction runs")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	return cmd
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func run(f serverFlags) error {
	logger, err := newLogger(f.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	syncMode, err := store.ParseSyncMode(f.syncMode)
	if err != nil {
		return err
	}

	opts := store.DefaultOptions()
	opts.MaxSegmentBytes = f.maxSegmentBytes
	opts.SyncMode = syncMode
	opts.SyncInterval = f.syncInterval
	opts.StrictDelete = f.strictDelete
	opts.Logger = logger

	s, err := store.Open(f.dir, opts)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	if f.compactInterval > 0 {
		compactor := compaction.NewCompactor(compaction.Config{
			CheckInterval: f.compactInterval,
			MinStaleRatio: f.compactRatio,
			MinStaleBytes: f.compactMinBytes,
		}, logger.With("component", "compactor"))
		compactor.Register(s)
		compactor.Start()
		defer compactor.Stop()
	}

	srv := server.New(server.Config{
		ListenAddr:     f.addr,
		MaxConnections: f.maxConnections,
		MaxBulkSize:    int64(max(opts.MaxKeySize, opts.MaxValueSize)),
	}, s, logger.With("component", "server"))

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listen on %s: %w", f.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		srv.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}
