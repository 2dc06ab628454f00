// Package digest renders the top stored articles as a markdown or HTML
// newsletter.
package digest

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/AgriNews/internal/database"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	"[", `\[`,
	"]", `\]`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"#", `\#`,
)

// Digest is one rendered edition.
type Digest struct {
	Title     string
	Generated time.Time
	Articles  []database.Article
}

// Markdown writes the digest as markdown, one section per category.
// Categories are ordered by their best article score; articles keep the
// order they were given in.
func Markdown(w io.Writer, d Digest) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", escape(d.Title))
	fmt.Fprintf(&b, "_Generated %s, %d articles._\n", d.Generated.Format("2006-01-02 15:04 MST"), len(d.Articles))

	if len(d.Articles) == 0 {
		b.WriteString("\nNo articles matched.\n")
	}

	for _, g := range groupByCategory(d.Articles) {
		fmt.Fprintf(&b, "\n## %s\n", escape(displayCategory(g.category)))
		for _, a := range g.articles {
			writeArticle(&b, a)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// HTML writes the digest as a standalone HTML page.
func HTML(w io.Writer, d Digest) error {
	var src bytes.Buffer
	if err := Markdown(&src, d); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := md.Convert(src.Bytes(), &body); err != nil {
		return fmt.Errorf("rendering digest html: %w", err)
	}

	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(d.Title), body.String())
	return err
}

func writeArticle(b *strings.Builder, a database.Article) {
	fmt.Fprintf(b, "\n### [%s](%s)\n\n", escape(a.Title), a.URL)

	meta := []string{escape(a.Source)}
	if a.PublishedDate != "" {
		meta = append(meta, shortDate(a.PublishedDate))
	}
	meta = append(meta, fmt.Sprintf("relevance %.2f", a.RelevanceScore))
	fmt.Fprintf(b, "*%s*\n", strings.Join(meta, " · "))

	if desc := strings.TrimSpace(a.Description); desc != "" {
		fmt.Fprintf(b, "\n%s\n", escape(desc))
	}
	if len(a.KeywordsMatched) > 0 {
		fmt.Fprintf(b, "\nKeywords: %s\n", escape(strings.Join(a.KeywordsMatched, ", ")))
	}
}

type group struct {
	category string
	best     float64
	articles []database.Article
}

func groupByCategory(articles []database.Article) []group {
	idx := make(map[string]int)
	var groups []group
	for _, a := range articles {
		i, ok := idx[a.Category]
		if !ok {
			i = len(groups)
			idx[a.Category] = i
			groups = append(groups, group{category: a.Category, best: a.RelevanceScore})
		}
		if a.RelevanceScore > groups[i].best {
			groups[i].best = a.RelevanceScore
		}
		groups[i].articles = append(groups[i].articles, a)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].best > groups[j].best })
	return groups
}

// displayCategory turns "virtual_fencing" into "Virtual Fencing".
func displayCategory(c string) string {
	if c == "" {
		return "Uncategorized"
	}
	words := strings.Fields(strings.ReplaceAll(c, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// shortDate keeps the calendar date of an RFC3339 timestamp.
func shortDate(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format("2006-01-02")
	}
	return s
}

func escape(s string) string {
	return mdEscaper.Replace(s)
}
