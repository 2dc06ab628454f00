package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/collect"
	"github.com/TobiSchelling/AgriNews/internal/fault"
	"github.com/TobiSchelling/AgriNews/internal/logging"
	"github.com/TobiSchelling/AgriNews/internal/throttle"
)

const (
	// MaxContentLength caps extracted body text, in characters.
	MaxContentLength = 2000
	maxHTMLBodyBytes = 2 << 20
)

// Extractor enriches candidates with the full text, description, date and
// lead image of the linked page.
type Extractor struct {
	client  *resty.Client
	limiter *throttle.Limiter
	log     *zap.Logger
}

// NewExtractor creates an Extractor. Every page download waits on limiter,
// keyed by host.
func NewExtractor(client *resty.Client, limiter *throttle.Limiter, log *zap.Logger) *Extractor {
	return &Extractor{client: client, limiter: limiter, log: logging.OrNop(log)}
}

// Enrich downloads c.URL and fills in content, description, image and a
// fallback published date. On failure the candidate is returned as it was,
// together with an extraction fault.
func (e *Extractor) Enrich(ctx context.Context, c collect.Candidate) (collect.Candidate, error) {
	if strings.TrimSpace(c.URL) == "" {
		return c, fault.New(fault.KindExtraction, "", fmt.Errorf("candidate has no url"))
	}

	if err := e.limiter.Wait(ctx, throttle.HostKey(c.URL)); err != nil {
		return c, fault.New(fault.KindExtraction, c.URL, err)
	}

	resp, err := e.client.R().SetContext(ctx).Get(c.URL)
	if err != nil {
		return c, fault.New(fault.KindExtraction, c.URL, err)
	}
	if resp.IsError() {
		return c, fault.New(fault.KindExtraction, c.URL, fmt.Errorf("http status %d", resp.StatusCode()))
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		e.log.Debug("html body truncated",
			zap.String("url", c.URL),
			zap.Int("original", len(body)),
			zap.Int("kept", maxHTMLBodyBytes))
		body = body[:maxHTMLBodyBytes]
	}

	page, err := parsePage(body, c.URL)
	if err != nil {
		return c, fault.New(fault.KindExtraction, c.URL, err)
	}

	enriched := apply(c, page)
	e.log.Debug("enriched candidate",
		zap.String("url", c.URL),
		zap.Int("content_chars", utf8.RuneCountInString(enriched.Content)),
		zap.Bool("image", enriched.ImageURL != ""))
	return enriched, nil
}

// apply merges extracted page data into the candidate. A feed-provided date
// always wins over the page's.
func apply(c collect.Candidate, p page) collect.Candidate {
	c.Content = truncate(p.Text, MaxContentLength)
	if p.Description != "" {
		c.Description = p.Description
	}
	if strings.TrimSpace(c.PublishedDate) == "" && p.PublishedDate != "" {
		c.PublishedDate = p.PublishedDate
	}
	c.ImageURL = p.ImageURL
	return c
}

// page holds what we extract from an article HTML document.
type page struct {
	Text          string
	Description   string
	PublishedDate string
	ImageURL      string
}

func parsePage(body []byte, pageURL string) (page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page{}, fmt.Errorf("parse html: %w", err)
	}

	meta := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	p := page{
		Description: firstNonEmpty(
			meta(`meta[property="og:description"]`),
			meta(`meta[name="description"]`),
		),
		ImageURL: firstNonEmpty(
			meta(`meta[property="og:image"]`),
			meta(`meta[property="og:image:url"]`),
			meta(`meta[name="twitter:image"]`),
		),
	}

	rawDate := firstNonEmpty(
		meta(`meta[property="article:published_time"]`),
		meta(`meta[property="og:published_time"]`),
		meta(`meta[name="date"]`),
		meta(`meta[itemprop="datePublished"]`),
		attr(doc, "time[datetime]", "datetime"),
	)
	if t, ok := collect.ParseDate(rawDate); ok {
		p.PublishedDate = collect.FormatDate(t)
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err == nil {
		p.Text = normalizeSpace(article.TextContent)
		if p.ImageURL == "" {
			p.ImageURL = strings.TrimSpace(article.Image)
		}
		// Covers JSON-LD datePublished, which the meta lookup above misses.
		if p.PublishedDate == "" && article.PublishedTime != nil {
			p.PublishedDate = collect.FormatDate(*article.PublishedTime)
		}
	} else {
		p.Text = normalizeSpace(doc.Find("article").First().Text())
	}

	p.ImageURL = resolveURL(p.ImageURL, pageURL)
	return p, nil
}

func attr(doc *goquery.Document, sel, name string) string {
	if node := doc.Find(sel).First(); node.Length() > 0 {
		if val, ok := node.Attr(name); ok {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(raw, base string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return raw
	}
	return baseURL.ResolveReference(parsed).String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
