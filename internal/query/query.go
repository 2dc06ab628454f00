// Package query is the read and trigger surface consumed by the HTTP server
// and the CLI. Store failures become safe defaults (empty lists, zero
// counts) returned together with the error, so callers can tell "no data"
// from "lookup failed".
package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/database"
	"github.com/TobiSchelling/AgriNews/internal/logging"
	"github.com/TobiSchelling/AgriNews/internal/pipeline"
	"github.com/TobiSchelling/AgriNews/internal/relevance"
)

// Listing defaults.
const (
	AllCategories       = "all"
	DefaultDaysBack     = 30
	DefaultLimit        = 12
	DefaultMinRelevance = 0.8
	SearchLimit         = 50
	summaryDaysBack     = 30
	statsTTL            = time.Minute
)

const (
	statsKey   = "stats"
	summaryKey = "keyword_summary"
)

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("search query is empty")

// Store is the read side of the article store.
type Store interface {
	Count(ctx context.Context, f database.ArticleFilter) (int, error)
	List(ctx context.Context, f database.ArticleFilter) ([]database.Article, error)
	SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]database.Article, error)
	Stats(ctx context.Context) (*database.Stats, error)
	RecentRuns(ctx context.Context, limit int) ([]database.FetchLogEntry, error)
	ListSources(ctx context.Context) ([]database.SourceRecord, error)
}

// Updater triggers runs and reports scheduler state.
type Updater interface {
	TriggerManual(ctx context.Context) (*pipeline.Result, error)
	Status() pipeline.Status
}

// ListParams selects a page of articles.
type ListParams struct {
	Category     string
	DaysBack     int
	Limit        int
	Page         int
	MinRelevance float64
}

// DefaultListParams returns the listing defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Category:     AllCategories,
		DaysBack:     DefaultDaysBack,
		Limit:        DefaultLimit,
		Page:         1,
		MinRelevance: DefaultMinRelevance,
	}
}

func (p ListParams) normalized() ListParams {
	d := DefaultListParams()
	if strings.TrimSpace(p.Category) == "" {
		p.Category = d.Category
	}
	if p.DaysBack <= 0 {
		p.DaysBack = d.DaysBack
	}
	if p.Limit <= 0 {
		p.Limit = d.Limit
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.MinRelevance < 0 {
		p.MinRelevance = 0
	}
	return p
}

func (p ListParams) filter() database.ArticleFilter {
	f := database.ArticleFilter{
		DaysBack:     p.DaysBack,
		MinRelevance: p.MinRelevance,
		Limit:        p.Limit,
		Offset:       (p.Page - 1) * p.Limit,
	}
	if p.Category != AllCategories {
		f.Category = p.Category
	}
	return f
}

// ArticlePage is one window of the article listing.
type ArticlePage struct {
	Articles   []database.Article `json:"articles"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalPages int                `json:"total_pages"`
	Category   string             `json:"category"`
}

// UpdateResult is what a manual update reports.
type UpdateResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Added   int    `json:"added"`
	Found   int    `json:"found"`
}

// Update statuses.
const (
	UpdateSuccess = "success"
	UpdateError   = "error"
	UpdateBusy    = "busy"
)

// Service answers listing, stats, search and update requests.
type Service struct {
	store   Store
	updater Updater
	scorer  *relevance.Scorer
	cache   *cache.Cache
	log     *zap.Logger
}

// New creates a query service.
func New(store Store, updater Updater, scorer *relevance.Scorer, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		updater: updater,
		scorer:  scorer,
		cache:   cache.New(statsTTL, 2*statsTTL),
		log:     logging.OrNop(log),
	}
}

// ListArticles returns one page of articles. Total counts every article in
// the window and category regardless of MinRelevance.
func (s *Service) ListArticles(ctx context.Context, params ListParams) (ArticlePage, error) {
	p := params.normalized()
	page := ArticlePage{
		Articles: []database.Article{},
		Page:     p.Page,
		Limit:    p.Limit,
		Category: p.Category,
	}
	f := p.filter()

	articles, err := s.store.List(ctx, f)
	if err != nil {
		s.log.Warn("listing articles failed", zap.Error(err))
		return page, err
	}
	total, err := s.store.Count(ctx, f)
	if err != nil {
		s.log.Warn("counting articles failed", zap.Error(err))
		return page, err
	}

	page.Articles = articles
	page.Total = total
	page.TotalPages = (total + p.Limit - 1) / p.Limit
	return page, nil
}

// Stats returns aggregate statistics, cached for a minute.
func (s *Service) Stats(ctx context.Context) (database.Stats, error) {
	if v, ok := s.cache.Get(statsKey); ok {
		return v.(database.Stats), nil
	}

	st, err := s.store.Stats(ctx)
	if err != nil {
		s.log.Warn("loading stats failed", zap.Error(err))
		return database.Stats{ArticlesByCategory: map[string]int{}}, err
	}
	s.cache.SetDefault(statsKey, *st)
	return *st, nil
}

// Search returns up to SearchLimit articles containing the query as one
// phrase. Runs of whitespace in the query count as a single space.
func (s *Service) Search(ctx context.Context, q string) ([]database.Article, error) {
	phrase := strings.Join(strings.Fields(q), " ")
	if phrase == "" {
		return []database.Article{}, ErrEmptyQuery
	}

	articles, err := s.store.SearchByKeywords(ctx, []string{phrase}, SearchLimit)
	if err != nil {
		s.log.Warn("search failed", zap.String("query", q), zap.Error(err))
		return []database.Article{}, err
	}
	return articles, nil
}

// Update runs the pipeline synchronously and reports the outcome. It never
// returns an error; failures are described in the result.
func (s *Service) Update(ctx context.Context) UpdateResult {
	r, err := s.updater.TriggerManual(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return UpdateResult{Status: UpdateBusy, Message: "An update is already running"}
	}
	if err != nil {
		return UpdateResult{Status: UpdateError, Message: err.Error()}
	}

	s.cache.Delete(statsKey)
	s.cache.Delete(summaryKey)

	if !r.OK() {
		return UpdateResult{Status: UpdateError, Message: r.Err.Error()}
	}
	return UpdateResult{
		Status:  UpdateSuccess,
		Message: "Newsfeed updated successfully",
		Added:   r.Added,
		Found:   r.Found,
	}
}

// Status returns the scheduler state.
func (s *Service) Status() pipeline.Status {
	return s.updater.Status()
}

// Keywords summarizes matched keywords over the last 30 days of articles.
func (s *Service) Keywords(ctx context.Context) (relevance.KeywordSummary, error) {
	if v, ok := s.cache.Get(summaryKey); ok {
		return v.(relevance.KeywordSummary), nil
	}

	articles, err := s.store.List(ctx, database.ArticleFilter{DaysBack: summaryDaysBack})
	if err != nil {
		s.log.Warn("loading articles for keyword summary failed", zap.Error(err))
		return s.scorer.Summarize(nil), err
	}
	summary := s.scorer.Summarize(articles)
	s.cache.SetDefault(summaryKey, summary)
	return summary, nil
}

// Runs returns the latest fetch log entries.
func (s *Service) Runs(ctx context.Context, limit int) ([]database.FetchLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.store.RecentRuns(ctx, limit)
	if err != nil {
		s.log.Warn("loading runs failed", zap.Error(err))
		return []database.FetchLogEntry{}, err
	}
	return runs, nil
}

// Sources returns the stored source list with last known status.
func (s *Service) Sources(ctx context.Context) ([]database.SourceRecord, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		s.log.Warn("loading sources failed", zap.Error(err))
		return []database.SourceRecord{}, err
	}
	return sources, nil
}
