package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/collect"
	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/database"
	"github.com/TobiSchelling/AgriNews/internal/fetch"
	"github.com/TobiSchelling/AgriNews/internal/httpclient"
	"github.com/TobiSchelling/AgriNews/internal/pipeline"
	"github.com/TobiSchelling/AgriNews/internal/query"
	"github.com/TobiSchelling/AgriNews/internal/relevance"
	"github.com/TobiSchelling/AgriNews/internal/throttle"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *database.DB
	client *resty.Client
	orch   *pipeline.Orchestrator
	svc    *query.Service
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	db, err := openDB(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := db.SyncSources(ctx, sourceRecords(cfg.Sources)); err != nil {
		db.Close()
		return nil, fmt.Errorf("syncing sources: %w", err)
	}

	client := httpclient.New(cfg.HTTP)
	scorer := relevance.FromConfig(cfg)
	pipe := pipeline.New(
		cfg,
		db,
		collect.NewFeedFetcher(client, log.Named("collect")),
		fetch.NewExtractor(client, throttle.New(cfg.Throttle.PageInterval), log.Named("fetch")),
		scorer,
		log.Named("pipeline"),
	)

	orch, err := pipeline.NewOrchestrator(cfg, pipe, log.Named("scheduler"))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		log:    log,
		db:     db,
		client: client,
		orch:   orch,
		svc:    query.New(db, orch, scorer, log.Named("query")),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func openDB(cfg *config.Config, log *zap.Logger) (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath(), log.Named("database"))
}

func sourceRecords(sources []config.Source) []database.SourceRecord {
	out := make([]database.SourceRecord, 0, len(sources))
	for _, s := range sources {
		out = append(out, database.SourceRecord{
			Name:     s.Name,
			URL:      s.URL,
			Category: s.Category,
		})
	}
	return out
}
