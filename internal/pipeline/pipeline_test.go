package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/AgriNews/internal/collect"
	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/database"
	"github.com/TobiSchelling/AgriNews/internal/fault"
	"github.com/TobiSchelling/AgriNews/internal/relevance"
)

type fakeFetcher struct {
	feeds  map[string][]collect.Candidate
	errs   map[string]error
	called []string
}

func (f *fakeFetcher) Fetch(_ context.Context, s config.Source) ([]collect.Candidate, error) {
	f.called = append(f.called, s.Name)
	if err := f.errs[s.Name]; err != nil {
		return nil, fault.New(fault.KindSource, s.Name, err)
	}
	return f.feeds[s.Name], nil
}

type fakeExtractor struct {
	content map[string]string
	fail    map[string]bool
	called  []string
}

func (e *fakeExtractor) Enrich(_ context.Context, c collect.Candidate) (collect.Candidate, error) {
	e.called = append(e.called, c.URL)
	if e.fail[c.URL] {
		return c, fault.New(fault.KindExtraction, c.URL, errors.New("connection reset"))
	}
	c.Content = e.content[c.URL]
	c.ImageURL = "https://img.example/lead.jpg"
	return c, nil
}

type logEntry struct {
	source       string
	found, added int
	status       string
}

// memStore is an in-memory ArticleStore.
type memStore struct {
	mu         sync.Mutex
	articles   map[string]database.Article
	logs       []logEntry
	purges     int
	statuses   map[string]string
	panicOnAdd bool
}

func newMemStore() *memStore {
	return &memStore{articles: map[string]database.Article{}, statuses: map[string]string{}}
}

func (m *memStore) Add(_ context.Context, a database.Article) (bool, error) {
	if m.panicOnAdd {
		panic("disk on fire")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[a.URL]; ok {
		return false, nil
	}
	m.articles[a.URL] = a
	return true, nil
}

func (m *memStore) LogRun(_ context.Context, source string, found, added int, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, logEntry{source, found, added, status})
}

func (m *memStore) PurgeExpired(context.Context, int) (int, error) {
	m.purges++
	return 0, nil
}

func (m *memStore) PurgeFetchLog(context.Context, int) (int, error) {
	return 0, nil
}

func (m *memStore) UpdateSourceStatus(_ context.Context, name, status, _ string) error {
	m.statuses[name] = status
	return nil
}

func testConfig(t *testing.T, sources ...config.Source) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Sources = sources
	cfg.Throttle = config.Throttle{}
	return cfg
}

var (
	agfunder = config.Source{Name: "AgFunder News", URL: "https://agf.example/feed", Category: "agritech"}
	weekly   = config.Source{Name: "Farmers Weekly", URL: "https://fw.example/rss", Category: "general"}
)

func fenceCandidate() collect.Candidate {
	return collect.Candidate{
		Title:         "New Virtual Fence Launched",
		Description:   "GPS fence for cattle",
		URL:           "https://x/1",
		Source:        agfunder.Name,
		Category:      agfunder.Category,
		PublishedDate: "2024-01-01T00:00:00Z",
	}
}

func bakeryCandidate() collect.Candidate {
	return collect.Candidate{
		Title:       "Local Bakery Opens",
		Description: "Fresh bread every morning",
		URL:         "https://x/bakery",
		Source:      weekly.Name,
		Category:    weekly.Category,
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, store ArticleStore, f *fakeFetcher, e *fakeExtractor) *Pipeline {
	t.Helper()
	return New(cfg, store, f, e, relevance.FromConfig(cfg), nil)
}

func TestRunVirtualFenceScenario(t *testing.T) {
	cfg := testConfig(t, agfunder)
	db, err := database.Open(filepath.Join(t.TempDir(), "news.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fakeFetcher{feeds: map[string][]collect.Candidate{agfunder.Name: {fenceCandidate()}}}
	e := &fakeExtractor{content: map[string]string{"https://x/1": "The virtual fence keeps cattle on pasture."}}

	r := newTestPipeline(t, cfg, db, f, e).Run(context.Background())
	require.True(t, r.OK(), "run failed: %v", r.Err)
	assert.Equal(t, 1, r.Found)
	assert.Equal(t, 1, r.Added)
	require.Len(t, r.Steps, 5)
	assert.Equal(t, "Rank", r.Steps[1].Name)
	assert.Equal(t, fmt.Sprintf("1 of 1 candidates relevant (threshold %.2f)", cfg.Filter.MinRelevanceScore), r.Steps[1].Summary)

	got, err := db.List(context.Background(), database.ArticleFilter{Category: "virtual_fencing", DaysBack: 365})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://x/1", got[0].URL)
	assert.Contains(t, got[0].KeywordsMatched, "virtual fence")
	assert.Equal(t, "2024-01-01T00:00:00Z", got[0].PublishedDate)
	assert.Equal(t, "https://img.example/lead.jpg", got[0].ImageURL)

	runs, err := db.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, AggregateSource, runs[0].SourceName)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, 1, runs[0].ArticlesAdded)
}

func TestRunTwiceDoesNotDuplicate(t *testing.T) {
	cfg := testConfig(t, agfunder)
	db, err := database.Open(filepath.Join(t.TempDir(), "news.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fakeFetcher{feeds: map[string][]collect.Candidate{agfunder.Name: {fenceCandidate()}}}
	p := newTestPipeline(t, cfg, db, f, &fakeExtractor{})

	first := p.Run(context.Background())
	require.True(t, first.OK())
	second := p.Run(context.Background())
	require.True(t, second.OK())

	assert.Equal(t, 1, first.Added)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 1, second.Found)

	n, err := db.Count(context.Background(), database.ArticleFilter{DaysBack: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPreFilterSkipsIrrelevantCandidates(t *testing.T) {
	cfg := testConfig(t, weekly)
	store := newMemStore()
	f := &fakeFetcher{feeds: map[string][]collect.Candidate{weekly.Name: {bakeryCandidate()}}}
	e := &fakeExtractor{}

	r := newTestPipeline(t, cfg, store, f, e).Run(context.Background())
	require.True(t, r.OK())

	assert.Empty(t, e.called, "irrelevant candidates must not be downloaded")
	assert.Empty(t, store.articles)
	assert.Equal(t, 0, r.Found)
	require.Len(t, store.logs, 1)
	assert.Equal(t, logEntry{AggregateSource, 0, 0, "success"}, store.logs[0])
}

func TestSourceFailureDoesNotAbortRun(t *testing.T) {
	cfg := testConfig(t, weekly, agfunder)
	store := newMemStore()
	f := &fakeFetcher{
		feeds: map[string][]collect.Candidate{agfunder.Name: {fenceCandidate()}},
		errs:  map[string]error{weekly.Name: errors.New("http status 503")},
	}

	r := newTestPipeline(t, cfg, store, f, &fakeExtractor{}).Run(context.Background())
	require.True(t, r.OK())

	assert.Equal(t, []string{weekly.Name, agfunder.Name}, f.called)
	assert.Equal(t, 1, r.Added)
	assert.Equal(t, collect.StatusError, store.statuses[weekly.Name])
	assert.Equal(t, collect.StatusActive, store.statuses[agfunder.Name])
	assert.Equal(t, 1, store.purges)
}

func TestExtractionFailureKeepsFeedFields(t *testing.T) {
	cfg := testConfig(t, agfunder)
	store := newMemStore()
	f := &fakeFetcher{feeds: map[string][]collect.Candidate{agfunder.Name: {fenceCandidate()}}}
	e := &fakeExtractor{fail: map[string]bool{"https://x/1": true}}

	r := newTestPipeline(t, cfg, store, f, e).Run(context.Background())
	require.True(t, r.OK())

	a, ok := store.articles["https://x/1"]
	require.True(t, ok, "candidate should still be stored")
	assert.Equal(t, "GPS fence for cattle", a.Description)
	assert.Empty(t, a.Content)
	assert.Empty(t, a.ImageURL)
}

func TestPanicAbortsRun(t *testing.T) {
	cfg := testConfig(t, agfunder)
	store := newMemStore()
	store.panicOnAdd = true
	f := &fakeFetcher{feeds: map[string][]collect.Candidate{agfunder.Name: {fenceCandidate()}}}

	r := newTestPipeline(t, cfg, store, f, &fakeExtractor{}).Run(context.Background())

	require.False(t, r.OK())
	assert.True(t, fault.Is(r.Err, fault.KindRun))
	require.Len(t, store.logs, 1)
	assert.Equal(t, 0, store.logs[0].found)
	assert.Equal(t, 0, store.logs[0].added)
	assert.True(t, strings.HasPrefix(store.logs[0].status, "error: "), store.logs[0].status)
	assert.Contains(t, store.logs[0].status, "disk on fire")
	assert.Zero(t, store.purges, "purge must be skipped after an aborted run")
}

func TestCancelledContextAbortsRun(t *testing.T) {
	cfg := testConfig(t, agfunder)
	store := newMemStore()
	f := &fakeFetcher{feeds: map[string][]collect.Candidate{agfunder.Name: {fenceCandidate()}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestPipeline(t, cfg, store, f, &fakeExtractor{}).Run(ctx)

	require.False(t, r.OK())
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.Zero(t, store.purges)
	require.Len(t, store.logs, 1)
	assert.True(t, strings.HasPrefix(store.logs[0].status, "error: "))
}

func TestMaxArticlesPerRun(t *testing.T) {
	cfg := testConfig(t, agfunder)
	cfg.Filter.MaxArticlesPerRun = 2
	store := newMemStore()

	var feed []collect.Candidate
	for _, u := range []string{"https://x/a", "https://x/b", "https://x/c"} {
		c := fenceCandidate()
		c.URL = u
		feed = append(feed, c)
	}
	f := &fakeFetcher{feeds: map[string][]collect.Candidate{agfunder.Name: feed}}

	r := newTestPipeline(t, cfg, store, f, &fakeExtractor{}).Run(context.Background())
	require.True(t, r.OK())
	assert.Equal(t, 3, r.Found)
	assert.Equal(t, 2, r.Relevant)
	assert.Len(t, store.articles, 2)
	assert.Contains(t, store.articles, "https://x/a")
	assert.Contains(t, store.articles, "https://x/b")
}
