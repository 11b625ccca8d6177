package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"reqlens/internal/adapters/normalize"
	"reqlens/internal/adapters/search"
	boltstore "reqlens/internal/adapters/storage/bolt"
	"reqlens/internal/adapters/storage/memory"
	"reqlens/internal/bus"
	"reqlens/internal/domain"
	cfgpkg "reqlens/internal/infrastructure/config"
	"reqlens/internal/infrastructure/httpapi"
	obs "reqlens/internal/infrastructure/observability"
	"reqlens/internal/replay"
	"reqlens/internal/usecase"
)

func main() {
	app := &cli.App{
		Name:  "reqlens",
		Usage: "capture, inspect, replay and export HTTP(S) traffic",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"CONFIG_FILE"},
			},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the capture server",
				Action: runServe,
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(c *cli.Context) error {
					fmt.Printf("reqlens %s (%s) %s\n", obs.Version, obs.Commit, obs.Date)
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	cfg, err := cfgpkg.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger := obs.NewLogger(cfg.LogLevel)
	logger.Info().Str("addr", cfg.Addr).Str("backend", cfg.StoreBackend).Msg("starting reqlens")

	metrics := obs.NewMetrics()

	var repo usecase.TransactionRepository
	closeStore := func() error { return nil }
	switch cfg.StoreBackend {
	case "bolt":
		bs, err := boltstore.New(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("open bolt store: %w", err)
		}
		repo = bs
		closeStore = bs.Close
	default:
		repo = memory.NewStore()
	}

	index := search.New()
	evbus := bus.New()
	svc := usecase.NewTransactionService(repo, index, evbus)

	// Warm the index from whatever the store already holds.
	if err := svc.RebuildIndex(context.Background()); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	norm := normalize.New(func(tx domain.Transaction) {
		if _, err := svc.Capture(context.Background(), tx); err != nil {
			logger.Error().Err(err).Msg("store capture failed")
			return
		}
		metrics.CapturedTotal.Inc()
	}, logger)

	engine := replay.NewEngine(svc, nil, logger, metrics)

	monitor := httpapi.NewMonitorHub()
	evbus.Subscribe(func(ev domain.Event) { monitor.Broadcast(ev) })
	evbus.Subscribe(func(domain.Event) {
		if n, err := svc.Len(context.Background()); err == nil {
			metrics.StoreSize.Set(float64(n))
		}
		metrics.IndexSize.Set(float64(index.Len()))
	}, domain.EventAdded, domain.EventRemoved)

	deps := &httpapi.Deps{
		Cfg:     cfg,
		Logger:  logger,
		Metrics: metrics,
		Svc:     svc,
		Index:   index,
		Engine:  engine,
		Norm:    norm,
		Monitor: monitor,
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := closeStore(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}
	logger.Info().Msg("reqlens stopped")
	return nil
}
