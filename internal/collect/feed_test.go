package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/fault"
	"github.com/TobiSchelling/AgriNews/internal/httpclient"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Test Farm Feed</title>
  <link>https://x.example</link>
  <description>test</description>
  <item>
    <title>New Virtual Fence Launched</title>
    <link>https://X.example/1#comments</link>
    <description>&lt;p&gt;GPS fence for &lt;b&gt;cattle&lt;/b&gt;&lt;/p&gt;</description>
    <pubDate>Mon, 01 Jan 2024 08:00:00 GMT</pubDate>
  </item>
  <item>
    <title></title>
    <link>https://x.example/untitled</link>
    <description>no title</description>
  </item>
  <item>
    <title>No link here</title>
    <description>dropped</description>
  </item>
  <item>
    <title>Undated Story</title>
    <link>https://x.example/undated</link>
    <description>Farm news</description>
  </item>
</channel>
</rss>`

func serveFeed(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(now time.Time) *FeedFetcher {
	f := NewFeedFetcher(httpclient.New(config.HTTP{Timeout: 5 * time.Second}), nil)
	f.now = func() time.Time { return now }
	return f
}

func TestFetchBuildsCandidates(t *testing.T) {
	srv := serveFeed(t, http.StatusOK, sampleRSS)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newTestFetcher(now)

	src := config.Source{Name: "Test Farm", URL: srv.URL, Category: "farming"}
	candidates, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	c := candidates[0]
	if c.Title != "New Virtual Fence Launched" {
		t.Errorf("unexpected title %q", c.Title)
	}
	if c.Description != "GPS fence for cattle" {
		t.Errorf("expected stripped description, got %q", c.Description)
	}
	if c.URL != "https://x.example/1" {
		t.Errorf("expected normalized url, got %q", c.URL)
	}
	if c.Source != "Test Farm" || c.Category != "farming" {
		t.Errorf("unexpected provenance %q/%q", c.Source, c.Category)
	}
	if !strings.HasPrefix(c.PublishedDate, "2024-01-01T08:00:00") {
		t.Errorf("expected parsed pubDate, got %q", c.PublishedDate)
	}
	if c.Content != "" || c.ImageURL != "" {
		t.Error("expected empty content and image before enrichment")
	}

	if candidates[1].PublishedDate != FormatDate(now) {
		t.Errorf("expected fallback to now, got %q", candidates[1].PublishedDate)
	}
}

func TestFetchHTTPErrorIsSourceFault(t *testing.T) {
	srv := serveFeed(t, http.StatusNotFound, "gone")
	f := newTestFetcher(time.Now())

	candidates, err := f.Fetch(context.Background(), config.Source{Name: "Broken", URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if !fault.Is(err, fault.KindSource) {
		t.Errorf("expected source fault, got %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(candidates))
	}
}

func TestFetchMalformedFeedIsSourceFault(t *testing.T) {
	srv := serveFeed(t, http.StatusOK, "this is not a feed")
	f := newTestFetcher(time.Now())

	_, err := f.Fetch(context.Background(), config.Source{Name: "Garbage", URL: srv.URL})
	if !fault.Is(err, fault.KindSource) {
		t.Errorf("expected source fault, got %v", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	f := newTestFetcher(time.Now())
	_, err := f.Fetch(context.Background(), config.Source{Name: "Down", URL: "http://127.0.0.1:1/feed"})
	if !fault.Is(err, fault.KindSource) {
		t.Errorf("expected source fault, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2024-01-01", true},
		{"Mon, 02 Jan 2006 15:04:05 MST", true},
		{"2024-05-06T10:00:00+02:00", true},
		{"", false},
		{"sometime soon", false},
	}
	for _, tc := range cases {
		_, ok := ParseDate(tc.in)
		if ok != tc.ok {
			t.Errorf("ParseDate(%q): expected ok=%v, got %v", tc.in, tc.ok, ok)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	if got := NormalizeURL("HTTP://Example.COM:80/a/b#frag"); got != "http://example.com/a/b" {
		t.Errorf("unexpected normalization %q", got)
	}
	if got := NormalizeURL("https://example.com/a?x=1"); got != "https://example.com/a?x=1" {
		t.Errorf("query should be preserved, got %q", got)
	}
}

func TestStripHTML(t *testing.T) {
	tests := map[string]string{
		"<p>Rotational&nbsp;grazing &amp; <em>soil</em> health</p>": "Rotational grazing & soil health",
		"<p>First block</p><p>Second block</p>":                      "First block Second block",
		"Yield <script>track()</script>up 4%<style>p{}</style>":       "Yield up 4%",
		"plain text, no markup":                                       "plain text, no markup",
	}
	for in, want := range tests {
		if got := stripHTML(in); got != want {
			t.Errorf("stripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDateNormalizesToUTC(t *testing.T) {
	ahead, ok := ParseDate("Mon, 01 Jan 2024 10:00:00 +1000")
	if !ok {
		t.Fatal("expected +1000 date to parse")
	}
	utc, ok := ParseDate("Mon, 01 Jan 2024 05:00:00 +0000")
	if !ok {
		t.Fatal("expected +0000 date to parse")
	}

	a, u := FormatDate(ahead), FormatDate(utc)
	if a != "2024-01-01T00:00:00Z" {
		t.Errorf("expected UTC rendering, got %q", a)
	}
	if u != "2024-01-01T05:00:00Z" {
		t.Errorf("expected UTC rendering, got %q", u)
	}
	// Stored dates are compared as strings.
	if !(u > a) {
		t.Errorf("expected %q to sort after %q", u, a)
	}
}

func TestCheckSources(t *testing.T) {
	ok := serveFeed(t, http.StatusOK, "")
	missing := serveFeed(t, http.StatusNotFound, "")

	c := NewChecker(httpclient.New(config.HTTP{Timeout: 2 * time.Second}), nil)
	statuses := c.CheckSources(context.Background(), []config.Source{
		{Name: "Up", URL: ok.URL},
		{Name: "Missing", URL: missing.URL},
		{Name: "Down", URL: "http://127.0.0.1:1/"},
	})

	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	want := []string{StatusActive, StatusInactive, StatusError}
	for i, w := range want {
		if statuses[i].Status != w {
			t.Errorf("%s: expected %q, got %q", statuses[i].Name, w, statuses[i].Status)
		}
	}
	if statuses[2].Error == "" {
		t.Error("expected error message for unreachable source")
	}
}
