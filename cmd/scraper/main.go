package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"jobpulse/internal/app"
	"jobpulse/internal/config"
	"jobpulse/internal/ingest"
	"jobpulse/internal/logger"

	"github.com/joho/godotenv"
)

// scraper runs a single ingestion pass and optionally a link verification
// pass, then exits. Useful from cron hosts or for manual backfills.
func main() {
	terms := flag.String("terms", "", "comma-separated search terms; empty uses subscriber skills")
	sources := flag.String("sources", "", "comma-separated source names; empty uses all enabled")
	verify := flag.String("verify", "", "link pass to run after scraping: stale, priority, broken")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg := logger.New(cfg.App.LogLevel, cfg.App.IsDevelopment())
	defer func() { _ = lg.Sync() }()

	c, err := app.NewContainer(cfg, lg)
	if err != nil {
		lg.Fatal("failed to init container", logger.Error(err))
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, *timeout)
	defer cancelRun()

	if err := c.Migrate(ctx); err != nil {
		lg.Fatal("migration failed", logger.Error(err))
	}

	var sum ingest.RunSummary
	if *terms == "" && *sources == "" {
		sum, err = c.Ingest.RunScheduled(ctx)
	} else {
		sum, err = c.Ops.ForceRun(ctx, forceRunInput(*terms, *sources))
	}
	if err != nil {
		lg.Fatal("scrape failed", logger.Error(err))
	}
	printJSON(sum)

	switch strings.ToLower(strings.TrimSpace(*verify)) {
	case "":
	case "stale":
		s, err := c.Links.VerifyStale(ctx)
		report(lg, s, err)
	case "priority":
		s, err := c.Links.VerifyPriority(ctx)
		report(lg, s, err)
	case "broken":
		s, err := c.Links.RecheckBroken(ctx)
		report(lg, s, err)
	default:
		lg.Fatal("unknown verify pass", logger.String("pass", *verify))
	}
}

func report(lg logger.Logger, v any, err error) {
	if err != nil {
		lg.Fatal("link verification failed", logger.Error(err))
	}
	printJSON(v)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
