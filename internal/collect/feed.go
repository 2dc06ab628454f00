package collect

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
	"github.com/araddon/dateparse"
	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/fault"
	"github.com/TobiSchelling/AgriNews/internal/logging"
)

const urlNormalizeFlags = purell.FlagsSafe | purell.FlagRemoveFragment

// Candidate is an article stub before scoring and persistence.
type Candidate struct {
	Title         string
	Description   string
	Content       string
	URL           string
	ImageURL      string
	Source        string
	Category      string
	PublishedDate string // ISO-8601, may be empty
}

// FeedFetcher turns a configured source into candidates.
type FeedFetcher struct {
	client *resty.Client
	parser *gofeed.Parser
	log    *zap.Logger
	now    func() time.Time
}

// NewFeedFetcher creates a FeedFetcher that downloads through client.
func NewFeedFetcher(client *resty.Client, log *zap.Logger) *FeedFetcher {
	return &FeedFetcher{
		client: client,
		parser: gofeed.NewParser(),
		log:    logging.OrNop(log),
		now:    time.Now,
	}
}

// Fetch downloads and parses one source. A download or parse failure is
// returned as a source fault; entries without a title or link are skipped.
func (f *FeedFetcher) Fetch(ctx context.Context, source config.Source) ([]Candidate, error) {
	f.log.Info("fetching feed", zap.String("source", source.Name), zap.String("url", source.URL))

	resp, err := f.client.R().SetContext(ctx).Get(source.URL)
	if err != nil {
		return nil, fault.New(fault.KindSource, source.Name, err)
	}
	if resp.IsError() {
		return nil, fault.New(fault.KindSource, source.Name, fmt.Errorf("http status %d", resp.StatusCode()))
	}

	feed, err := f.parser.Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fault.New(fault.KindSource, source.Name, fmt.Errorf("parsing feed: %w", err))
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		c := f.parseItem(item, source)
		if c == nil {
			continue
		}
		candidates = append(candidates, *c)
	}

	f.log.Info("parsed feed",
		zap.String("source", source.Name),
		zap.Int("entries", len(feed.Items)),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

func (f *FeedFetcher) parseItem(item *gofeed.Item, source config.Source) *Candidate {
	if item == nil {
		return nil
	}
	title := strings.TrimSpace(stripHTML(item.Title))
	if title == "" {
		return nil
	}
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return nil
	}

	return &Candidate{
		Title:         title,
		Description:   stripHTML(item.Description),
		URL:           NormalizeURL(link),
		Source:        source.Name,
		Category:      source.Category,
		PublishedDate: f.publishedDate(item),
	}
}

// publishedDate prefers the parser's timestamps, then a lenient parse of the
// raw string, then the current time.
func (f *FeedFetcher) publishedDate(item *gofeed.Item) string {
	if item.PublishedParsed != nil {
		return FormatDate(*item.PublishedParsed)
	}
	if item.UpdatedParsed != nil {
		return FormatDate(*item.UpdatedParsed)
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if t, ok := ParseDate(raw); ok {
			return FormatDate(t)
		}
	}
	return FormatDate(f.now())
}

// ParseDate parses a date string in any common feed or page format.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatDate renders t as the ISO-8601 UTC string stored on articles.
// Stored dates sort chronologically as plain strings.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// NormalizeURL applies safe normalizations (lowercase scheme and host,
// default port removal, fragment removal). Unparsable URLs are returned as is.
func NormalizeURL(raw string) string {
	n, err := purell.NormalizeURLString(raw, urlNormalizeFlags)
	if err != nil {
		return raw
	}
	return n
}

func stripHTML(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.Join(strings.Fields(text), " ")
	}
	var b strings.Builder
	collectText(doc.Selection, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

// collectText writes every text node under s, separated by spaces so
// adjacent blocks don't run together.
func collectText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			b.WriteString(c.Text())
			b.WriteByte(' ')
		case "script", "style":
		default:
			collectText(c, b)
		}
	})
}
