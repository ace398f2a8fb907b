package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clob/internal/api"
	"clob/internal/config"
	"clob/internal/exchange"
	"clob/internal/logging"
	"clob/internal/store"
)

func main() {
	envFile := flag.String("env", "", "path to .env file (default: ./.env if present)")
	addr := flag.String("addr", "", "listen address (overrides EXCHANGE_ADDR)")
	dbPath := flag.String("db", "", "SQLite journal path (overrides EXCHANGE_DB)")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	remainder := flag.String("market-remainder", "", "unfilled market quantity: rest or cancel")
	demo := flag.Bool("demo", false, "print the sample orders and exit")
	flag.Parse()

	if *demo {
		if err := runDemo(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *corsOrigins != "" {
		cfg.Server.CORSOrigins = config.SplitList(*corsOrigins)
	}
	if *remainder != "" {
		p, ok := config.ParseMarketRemainder(*remainder)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid -market-remainder %q\n", *remainder)
			os.Exit(2)
		}
		cfg.Engine.MarketRemainder = p
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.DBPath), zap.Error(err))
	}

	ex := exchange.New(exchange.Options{
		AutoCreate:      cfg.Engine.AutoCreate,
		MarketRemainder: cfg.Engine.MarketRemainder,
		TradeHistory:    cfg.Engine.TradeHistory,
	}, st, logger)
	for _, id := range cfg.Engine.Instruments {
		if _, err := ex.Create(id); err != nil {
			logger.Fatal("failed to list instrument", zap.String("instrument", id), zap.Error(err))
		}
	}

	server := api.NewServer(ex, st, cfg.Server, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("starting exchange server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("db", cfg.DBPath),
			zap.Bool("auto_create", cfg.Engine.AutoCreate),
			zap.Strings("instruments", ex.Instruments()),
			zap.Stringer("market_remainder", cfg.Engine.MarketRemainder),
			zap.Strings("cors_origins", cfg.Server.CORSOrigins))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	server.Shutdown()

	// Graceful HTTP shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	if err := st.Close(); err != nil {
		logger.Error("database close error", zap.Error(err))
	}
	logger.Info("server shutdown complete")
}
