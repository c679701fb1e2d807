package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rentwatch/internal/bootstrap"
	"rentwatch/internal/cache"
	"rentwatch/internal/config"
	"rentwatch/internal/extract"
	server "rentwatch/internal/http"
	"rentwatch/internal/llm"
	"rentwatch/internal/migrate"
	"rentwatch/internal/nav"
	"rentwatch/internal/orchestrator"
	"rentwatch/internal/robots"
	"rentwatch/internal/selector"
	"rentwatch/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: serve|scrape|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	rootCtx := context.Background()

	if err := bootstrap.Seed(rootCtx, st, cfg.Bootstrap.Sites, logger); err != nil {
		log.Fatalf("roster seeding failed: %v", err)
	}

	switch *role {
	case "serve":
		s := server.NewServer(cfg, st, logger)
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case "scrape":
		if err := newOrchestrator(cfg, st, logger).Start(rootCtx); err != nil {
			log.Fatalf("scrape failed: %v", err)
		}
	case "all":
		o := newOrchestrator(cfg, st, logger)
		go func() {
			if err := o.Start(rootCtx); err != nil {
				logger.Error("scrape pipeline stopped", "error", err)
			}
		}()
		s := server.NewServer(cfg, st, logger)
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	default:
		log.Fatalf("invalid role: %s (expected serve|scrape|all)", *role)
	}
}

func newOrchestrator(cfg *config.Config, st *store.Store, logger *slog.Logger) *orchestrator.Orchestrator {
	client, provider, model, err := llm.NewClientFromConfig(cfg)
	if err != nil {
		log.Fatalf("llm client failed: %v", err)
	}
	logger.Info("semantic extractor ready", "provider", provider, "model", model)

	pages, err := cache.NewPageText(cfg.Redis.URL, time.Duration(cfg.Redis.PageTextTTLSeconds)*time.Second)
	if err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}

	var rb *robots.Checker
	if cfg.Robots.Respect {
		rb = robots.NewChecker(cfg.Browser.UserAgent)
	}

	navigator := nav.NewRodNavigator(cfg.Browser.ControlURL, cfg.Browser.UserAgent, cfg.Browser.VisibleTextMaxChars)

	engine := selector.NewEngine(st, client, selector.Config{
		MinMatches:          cfg.Selector.MinMatches,
		MaxMatches:          cfg.Selector.MaxMatches,
		CandidateWait:       time.Duration(cfg.Selector.CandidateWaitMs) * time.Millisecond,
		MaxIDs:              cfg.Selector.HeuristicMaxIDs,
		MinPrefixHits:       cfg.Selector.HeuristicMinPrefixHits,
		HeuristicMaxMatches: cfg.Selector.HeuristicMaxMatches,
	}, logger)

	return orchestrator.New(st, navigator, client, engine, extract.New(client), pages, rb, logger,
		orchestrator.Options{
			MaxSessions: cfg.Worker.MaxConcurrentSessions,
			PageTimeout: time.Duration(cfg.Browser.PageTimeoutMs) * time.Millisecond,
			Interval:    time.Duration(cfg.Worker.IntervalMinutes) * time.Minute,
		})
}
