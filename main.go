package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"arbengine/internal/api"
	"arbengine/internal/console"
	"arbengine/internal/engine"
	"arbengine/internal/events"
	"arbengine/internal/ledger"
	"arbengine/internal/market"
	"arbengine/internal/news"
	"arbengine/internal/router"
	"arbengine/internal/strategy"
	"arbengine/internal/volatility"
	"arbengine/pkg/config"
	"arbengine/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
		}))
	}

	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("params load failed: %v", err)
	}
	log.Printf("starting, port %s, capital %.0f, %d ticks per period", cfg.Port, cfg.Capital, params.TicksPerPeriod)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()

	sim := market.NewSimulator(market.SimConfig{
		Interval:     time.Duration(params.SleepTime * float64(time.Second)),
		TenderChance: cfg.SimTenderChance,
		FailureRate:  cfg.SimFailureRate,
		Seed:         cfg.SimSeed,
	}, bus)
	sim.Start(ctx)

	store := market.NewStore()
	classifier := volatility.NewClassifier(
		params.VolatilityWindows,
		params.VolatilitySignalStartTick,
		params.VolatilityQuantileThreshold,
		params.VolatilityQuantileThresholdLow,
		bus,
	)
	book := ledger.New(cfg.Capital, params.MaxPositionUsage, params.StrictLimits, bus)
	newsBook := news.NewBook(params.CapGDP, params.FloorGDP, params.CapBCI, params.FloorBCI, bus)
	strategies := strategy.NewSet(params, bus)
	orderRouter := router.New(sim, book, bus, database)

	runner := console.NewRunner(64)
	go runner.Run(os.Stdin)

	eng := engine.New(engine.Deps{
		Params:     params,
		Access:     sim,
		Store:      store,
		Classifier: classifier,
		Ledger:     book,
		News:       newsBook,
		Strategies: strategies,
		Router:     orderRouter,
		Bus:        bus,
		Journal:    database,
		Commands:   runner.Queue(),
	})

	passwordHash, err := api.HashPassword(cfg.OperatorPassword)
	if err != nil {
		log.Fatalf("password hash failed: %v", err)
	}
	server := api.NewServer(bus, database, eng, book, store, newsBook, classifier, runner, cfg.JWTSecret, passwordHash)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Printf("received %v, shutting down", sig)
		cancel()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			log.Printf("shutdown timed out")
		}
	case <-done:
	}
	log.Printf("bye")
}
