package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"listing-sync/config"
	"listing-sync/geodata"
	"listing-sync/scraper/realscout"
	"listing-sync/services"
	"listing-sync/storage"
	"listing-sync/utils"
)

func main() {
	n := flag.Int("n", 10, "number of most recent URLs from the sheet to process")
	processOnly := flag.Bool("process-only", false, "skip scraping and reprocess stored raw listings")
	forceEnrich := flag.Bool("force-enrich", false, "recompute every enrichment attribute")
	rescrapeClosed := flag.Bool("rescrape-closed", false, "scrape listings already marked Closed")
	trim := flag.String("trim", "", "history file to trim instead of running the pipeline")
	keep := flag.Int("keep", 1, "entries to keep with -trim")
	flag.Parse()

	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetLevel(utils.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				defer f.Close()
				logger.MirrorTo(f)
			} else {
				logger.Warn("Could not open log file %s: %v", cfg.LogFile, err)
			}
		}
	}

	history, err := storage.NewHistoryStore(cfg.ListingsDir)
	if err != nil {
		logger.Error("Failed to open listings directory: %v", err)
		os.Exit(1)
	}
	if *trim != "" {
		removed, err := history.Trim(*trim, *keep)
		if err != nil {
			logger.Error("Trim %s failed: %v", *trim, err)
			os.Exit(1)
		}
		logger.Info("Removed %d entries from %s", removed, history.Path(*trim))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Listing sync starting ===")
	logger.Info("Config | urls: %d | process-only: %t | page size: %d | stores: %s, %s",
		*n, *processOnly, cfg.SyncPageSize, cfg.RawDBName, cfg.CleanDBName)

	places, err := config.LoadPlaces(cfg.PlacesFile)
	if err != nil {
		logger.Error("Failed to load places file %s: %v", cfg.PlacesFile, err)
		os.Exit(1)
	}

	urls, err := storage.ReadURLSheet(cfg.URLSheetPath, *n, time.Now())
	if err != nil {
		logger.Error("Failed to read URL sheet: %v", err)
		os.Exit(1)
	}
	logger.Info("Loaded %d URLs from %s", len(urls), cfg.URLSheetPath)

	raw := storage.NewCouchClient(cfg, cfg.RawDBName, logger)
	clean := storage.NewCouchClient(cfg, cfg.CleanDBName, logger)
	for _, db := range []*storage.CouchClient{raw, clean} {
		if err := db.EnsureDB(ctx); err != nil {
			logger.Warn("Could not prepare database %s, failures will be saved locally: %v", db.Name(), err)
		}
	}

	audit, err := storage.NewAuditTrail(cfg.StatusLogPath, cfg.LedgerPath)
	if err != nil {
		logger.Error("Failed to open audit trail: %v", err)
		os.Exit(1)
	}

	bing := geodata.NewBingClient(cfg, logger)
	var geocoder services.Geocoder = bing
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis at %s unavailable, geocoding without cache: %v", cfg.RedisAddr, err)
		} else {
			geocoder = geodata.NewCachedGeocoder(bing, storage.NewRedisGeoCache(rdb, cfg.GeocacheTTL()), logger)
		}
	}

	deps := services.PipelineDeps{
		Raw:       raw,
		Clean:     clean,
		RawSync:   services.NewSyncEngine(cfg, raw, audit, logger),
		CleanSync: services.NewSyncEngine(cfg, clean, audit, logger),
		Cleaner:   services.NewCleaner(logger),
		Enricher:  services.NewEnricher(places, geocoder, bing, bing, bing, logger),
		Fallback:  services.NewFallback(history, logger),
		Insights:  services.NewInsightService(logger),
		Logger:    logger,
	}

	if cfg.ReviewTableEnabled {
		table, err := storage.NewReviewTable(ctx, cfg.DSN())
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL, review table disabled: %v", err)
		} else {
			defer table.Close()
			deps.Review = table
		}
	}

	if !*processOnly {
		session := realscout.NewSession(cfg, logger)
		if err := session.Start(ctx); err != nil {
			logger.Error("Browser session failed: %v", err)
			os.Exit(1)
		}
		defer session.Close()
		deps.Scraper = session
	}

	pipeline := services.NewPipeline(deps)
	res, err := pipeline.Run(ctx, urls, services.RunOptions{
		ProcessOnly:    *processOnly,
		RescrapeClosed: *rescrapeClosed,
		ForceEnrich:    *forceEnrich,
	})
	if err != nil {
		logger.Error("Run failed: %v", err)
		os.Exit(1)
	}

	if res.Insights != nil {
		deps.Insights.Print(res.Insights)
	}

	fmt.Printf("  Done. scraped %d | closed skipped %d | scrape failures %d | unresolved %d | saved locally %d\n",
		res.Scraped, res.SkippedClosed, res.ScrapeFailures, res.Unresolved, res.FallbackWritten)
	for _, r := range []*services.SyncReport{res.Raw, res.Clean} {
		if r == nil {
			continue
		}
		fmt.Printf("  %s: %d confirmed, %d failed, %d skipped\n",
			r.Store, len(r.Confirmed), len(r.Failures), len(r.Skipped))
	}
	fmt.Println()
}
