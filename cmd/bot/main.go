// Command bot runs the perpetual futures trading engine: market scans,
// position management, and the HTTP control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/perp_sentinel/internal/advisor"
	"github.com/eddiefleurent/perp_sentinel/internal/api"
	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/engine"
	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
	"github.com/eddiefleurent/perp_sentinel/internal/pricefeed"
	"github.com/eddiefleurent/perp_sentinel/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the bootstrap config file")
	flag.Parse()

	// .env is optional; the bootstrap file expands whatever is set.
	_ = godotenv.Load()

	boot, err := config.LoadBootstrap(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	log, err := botlog.New(boot.Storage.LogDir, boot.Location(), boot.LogrusLevel())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer log.Close()

	store, err := storage.NewJSONStore(boot.Storage.DataDir, log)
	if err != nil {
		log.Error("BOOT", "storage init failed", map[string]any{"error": err.Error()})
		return 1
	}

	client := exchange.NewBinanceClientWithBaseURL(boot.Exchange.APIKey, boot.Exchange.Secret, boot.Exchange.BaseURL, boot.Exchange.Testnet)
	exch := exchange.NewCircuitBreakerExchange(client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = exch.LoadMarkets(loadCtx)
	cancel()
	if err != nil {
		log.Error("BOOT", "market metadata load failed", map[string]any{"error": err.Error()})
		return 1
	}

	symbols := store.Config().Symbols
	var feed *pricefeed.Feed
	if boot.Exchange.WSURL != "" {
		feed = pricefeed.NewWithURL(symbols, log, boot.Exchange.WSURL, 5*time.Second)
	} else {
		feed = pricefeed.New(symbols, log)
	}

	var advisorSvc advisor.Service = advisor.Disabled{}
	if boot.Advisory.APIKey != "" {
		cc := advisor.DefaultClientConfig()
		cc.Provider = advisor.Provider(boot.Advisory.Provider)
		cc.APIKey = boot.Advisory.APIKey
		if boot.Advisory.Model != "" {
			cc.Model = boot.Advisory.Model
		}
		cc.BaseURL = boot.Advisory.BaseURL
		advisorSvc = advisor.NewAnalyzer(advisor.NewClient(cc), log)
		log.Info("BOOT", "advisory enabled", map[string]any{"provider": boot.Advisory.Provider})
	}

	eng := engine.New(exch, store, advisorSvc, feed, log, engine.Options{Location: boot.Location()})
	server := api.New(store, eng, exch, log, boot.Server.AuthToken)

	feed.Start(ctx)
	if err := eng.Start(ctx); err != nil {
		log.Error("BOOT", "engine start failed", map[string]any{"error": err.Error()})
		return 1
	}
	log.Info("BOOT", "engine online", map[string]any{
		"symbols": symbols,
		"testnet": boot.Exchange.Testnet,
		"port":    boot.Server.Port,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, boot.Server.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := eng.Stop(); err != nil {
			log.Warn("BOOT", "engine stop", map[string]any{"error": err.Error()})
		}
		feed.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("BOOT", "server failed", map[string]any{"error": err.Error()})
		return 1
	}
	log.Info("BOOT", "shutdown complete", nil)
	return 0
}
