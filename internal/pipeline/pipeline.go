package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/collect"
	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/database"
	"github.com/TobiSchelling/AgriNews/internal/fault"
	"github.com/TobiSchelling/AgriNews/internal/logging"
	"github.com/TobiSchelling/AgriNews/internal/relevance"
	"github.com/TobiSchelling/AgriNews/internal/throttle"
)

// AggregateSource is the fetch log name of a run over every source.
const AggregateSource = "all_sources"

// sourceThrottleKey is shared by all sources, so consecutive feeds are
// spaced by the source interval whatever their host.
const sourceThrottleKey = "sources"

// SourceFetcher turns one configured source into candidates.
type SourceFetcher interface {
	Fetch(ctx context.Context, source config.Source) ([]collect.Candidate, error)
}

// ContentExtractor enriches a candidate from its page.
type ContentExtractor interface {
	Enrich(ctx context.Context, c collect.Candidate) (collect.Candidate, error)
}

// ArticleStore is the persistence the pipeline writes to.
type ArticleStore interface {
	Add(ctx context.Context, a database.Article) (bool, error)
	LogRun(ctx context.Context, sourceName string, found, added int, status string)
	PurgeExpired(ctx context.Context, retentionDays int) (int, error)
	PurgeFetchLog(ctx context.Context, retentionDays int) (int, error)
	UpdateSourceStatus(ctx context.Context, name, status, errMsg string) error
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Started  time.Time
	Finished time.Time
	Found    int
	Relevant int
	Added    int
	Purged   int
	Steps    []StepResult
	// Err is set when the run was aborted. It is always a run fault.
	Err error
}

// OK reports whether the run completed.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Pipeline runs fetch, pre-filter, extract, rank, persist, log and purge.
type Pipeline struct {
	cfg       *config.Config
	store     ArticleStore
	fetcher   SourceFetcher
	extractor ContentExtractor
	scorer    *relevance.Scorer
	sources   *throttle.Limiter
	log       *zap.Logger
	now       func() time.Time
}

// New creates a new pipeline.
func New(cfg *config.Config, store ArticleStore, fetcher SourceFetcher, extractor ContentExtractor, scorer *relevance.Scorer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		scorer:    scorer,
		sources:   throttle.New(cfg.Throttle.SourceInterval),
		log:       logging.OrNop(log),
		now:       time.Now,
	}
}

// Run executes one end-to-end run. Source, extraction and persistence
// failures are logged and the run goes on. A panic or a cancelled context
// during steps 1 to 4 aborts the run: it is logged with zero counts and the
// retention purge is skipped.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{Started: p.now()}
	defer func() { r.Finished = p.now() }()

	if err := p.ingest(ctx, r); err != nil {
		r.Err = fault.New(fault.KindRun, "run", err)
		p.log.Error("run aborted", zap.Error(err))
		// The abort is recorded even when ctx is what aborted the run.
		p.store.LogRun(context.WithoutCancel(ctx), AggregateSource, 0, 0, "error: "+err.Error())
		return r
	}

	// Step 5: Log
	p.store.LogRun(ctx, AggregateSource, r.Found, r.Added, "success")
	r.Steps = append(r.Steps, StepResult{
		Name:    "Log",
		Summary: fmt.Sprintf("Logged run: %d found, %d added", r.Found, r.Added),
	})

	// Step 6: Purge
	r.Steps = append(r.Steps, p.runPurge(ctx, r))

	p.log.Info("run completed",
		zap.Int("found", r.Found),
		zap.Int("relevant", r.Relevant),
		zap.Int("added", r.Added),
		zap.Int("purged", r.Purged),
		zap.Duration("elapsed", p.now().Sub(r.Started)))
	return r
}

// ingest runs steps 1 to 4, turning a panic into an error.
func (p *Pipeline) ingest(ctx context.Context, r *Result) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("panic during run", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	// Step 1: Collect
	candidates, step, err := p.runCollect(ctx)
	r.Steps = append(r.Steps, step)
	if err != nil {
		return err
	}
	// Step 2: every enriched candidate from every source counts as found.
	r.Found = len(candidates)

	// Step 3: Rank
	ranked := p.scorer.FilterAndRank(candidates)
	if limit := p.cfg.Filter.MaxArticlesPerRun; limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	r.Relevant = len(ranked)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Rank",
		Summary: fmt.Sprintf("%d of %d candidates relevant (threshold %.2f)", len(ranked), len(candidates), p.scorer.Threshold()),
	})

	// Step 4: Store
	step, err = p.runStore(ctx, ranked, r)
	r.Steps = append(r.Steps, step)
	return err
}

func (p *Pipeline) runCollect(ctx context.Context) ([]collect.Candidate, StepResult, error) {
	p.log.Info("Step 1/6: Collecting articles...",
		zap.Int("sources", len(p.cfg.Sources)),
		zap.Duration("source_interval", p.sources.Interval()))

	var all []collect.Candidate
	var failedSources, enriched, skipped int
	for _, source := range p.cfg.Sources {
		if err := p.sources.Wait(ctx, sourceThrottleKey); err != nil {
			return nil, StepResult{Name: "Collect", Err: err}, err
		}

		candidates, err := p.fetcher.Fetch(ctx, source)
		if err != nil {
			failedSources++
			p.log.Warn("source failed", zap.String("source", source.Name), zap.Error(err))
			p.recordSource(ctx, source.Name, err)
			continue
		}
		p.recordSource(ctx, source.Name, nil)

		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, StepResult{Name: "Collect", Err: err}, err
			}
			// Pre-filter on feed text only; the page is not downloaded yet.
			if !p.scorer.IsRelevant(c.Title, c.Description, "") {
				skipped++
				continue
			}
			full, err := p.extractor.Enrich(ctx, c)
			if err != nil {
				p.log.Warn("extraction failed",
					zap.String("url", c.URL),
					zap.String("kind", string(fault.KindOf(err))),
					zap.Error(err))
			} else {
				enriched++
			}
			all = append(all, full)
		}
	}

	return all, StepResult{
		Name: "Collect",
		Summary: fmt.Sprintf("%d candidates from %d sources (%d failed), %d enriched, %d skipped by pre-filter",
			len(all), len(p.cfg.Sources), failedSources, enriched, skipped),
	}, nil
}

func (p *Pipeline) runStore(ctx context.Context, articles []database.Article, r *Result) (StepResult, error) {
	p.log.Info("Step 4/6: Storing articles...", zap.Int("articles", len(articles)))

	var duplicates, failed int
	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			return StepResult{Name: "Store", Err: err}, err
		}
		added, err := p.store.Add(ctx, a)
		switch {
		case err != nil:
			failed++
			level := p.log.Warn
			if errors.Is(err, database.ErrInvalidArticle) {
				level = p.log.Debug
			}
			level("article not stored", zap.String("url", a.URL), zap.Error(err))
		case added:
			r.Added++
		default:
			duplicates++
		}
	}

	return StepResult{
		Name:    "Store",
		Summary: fmt.Sprintf("Added %d new articles (%d duplicates, %d failed)", r.Added, duplicates, failed),
	}, nil
}

func (p *Pipeline) runPurge(ctx context.Context, r *Result) StepResult {
	p.log.Info("Step 6/6: Purging expired data...")

	deleted, err := p.store.PurgeExpired(ctx, p.cfg.Retention.ArticleDays)
	if err != nil {
		p.log.Warn("article purge failed", zap.Error(err))
		return StepResult{Name: "Purge", Err: err}
	}
	r.Purged = deleted

	logs, err := p.store.PurgeFetchLog(ctx, p.cfg.Retention.FetchLogDays)
	if err != nil {
		p.log.Warn("fetch log purge failed", zap.Error(err))
		return StepResult{Name: "Purge", Err: err}
	}

	return StepResult{
		Name:    "Purge",
		Summary: fmt.Sprintf("Removed %d expired articles and %d old log entries", deleted, logs),
	}
}

func (p *Pipeline) recordSource(ctx context.Context, name string, fetchErr error) {
	status, msg := collect.StatusActive, ""
	if fetchErr != nil {
		status, msg = collect.StatusError, fetchErr.Error()
	}
	if err := p.store.UpdateSourceStatus(ctx, name, status, msg); err != nil {
		p.log.Debug("source status not recorded", zap.String("source", name), zap.Error(err))
	}
}
