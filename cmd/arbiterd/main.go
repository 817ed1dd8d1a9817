// Command arbiterd runs the dispute-arbitration engine as a standalone
// daemon: a TCP JSON-RPC surface for escrow contracts, arbiters and
// triggermen, a Prometheus metrics endpoint, and a bolt-backed state
// snapshot taken after every mutation.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beenest/arbiterd/internal/arbitration"
	"github.com/beenest/arbiterd/internal/config"
	"github.com/beenest/arbiterd/internal/metrics"
	"github.com/beenest/arbiterd/internal/rpc"
	"github.com/beenest/arbiterd/internal/store"
	"github.com/beenest/arbiterd/internal/token"
	"github.com/beenest/arbiterd/internal/types"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFilename, "path to config file")
	listenAddr := flag.String("listen", "", "override RPC listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbiterd: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	logger, err := buildLogger(cfg.PrintLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbiterd: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("arbiterd exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := store.NewBoltStore(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	tok := token.NewInMemory()
	for _, m := range cfg.Mints {
		amount, _ := new(big.Int).SetString(m.Amount, 10)
		tok.Mint(types.Address(m.Addr), amount)
		logger.Info("minted balance",
			zap.String("addr", m.Addr),
			zap.String("amount", m.Amount))
	}

	eng := arbitration.New(cfg.Engine(), tok, logger)

	snap, err := db.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if snap != nil {
		eng.Restore(snap)
		logger.Info("state restored",
			zap.Int("arbiters", len(snap.Arbiters)),
			zap.Int("jobs", len(snap.Jobs)))
	}

	persist := func() {
		if err := db.Save(eng.Snapshot()); err != nil {
			logger.Error("snapshot save failed", zap.Error(err))
		}
	}

	srv := rpc.NewServer(eng, persist, logger)
	if err := srv.Start(cfg.ListenAddr); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	defer srv.Stop()

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)

	// Final snapshot so restarts resume exactly where we stopped.
	persist()
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad PrintLevel %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
