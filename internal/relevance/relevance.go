// Package relevance scores candidates against weighted keyword categories and
// assigns article categories from ordered substring rules.
package relevance

import (
	"regexp"
	"sort"
	"strings"

	"github.com/TobiSchelling/AgriNews/internal/collect"
	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/database"
)

// DefaultCategory is returned by Categorize when no rule matches.
const DefaultCategory = "general"

const (
	titleWeight       = 3
	descriptionWeight = 2
	matchUnit         = 0.1
	maxScore          = 1.0
)

type keyword struct {
	text    string
	pattern *regexp.Regexp
}

type category struct {
	name     string
	weight   float64
	keywords []keyword
}

type rule struct {
	category string
	patterns []string
}

// Scorer computes relevance scores and categories. It is safe for
// concurrent use.
type Scorer struct {
	categories []category
	rules      []rule
	threshold  float64
}

// NewScorer compiles the keyword categories and category rules. Both keep
// the order they are given in.
func NewScorer(keywords []config.KeywordCategory, rules []config.CategoryRule, threshold float64) *Scorer {
	s := &Scorer{threshold: threshold}

	for _, kc := range keywords {
		c := category{name: kc.Name, weight: kc.Weight}
		for _, k := range kc.Keywords {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			c.keywords = append(c.keywords, keyword{
				text:    k,
				pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(k)) + `\b`),
			})
		}
		s.categories = append(s.categories, c)
	}

	for _, r := range rules {
		lowered := make([]string, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				lowered = append(lowered, p)
			}
		}
		s.rules = append(s.rules, rule{category: r.Category, patterns: lowered})
	}

	return s
}

// FromConfig builds a Scorer from the loaded configuration.
func FromConfig(cfg *config.Config) *Scorer {
	return NewScorer(cfg.Keywords, cfg.Categories, cfg.Filter.MinRelevanceScore)
}

// Threshold returns the minimum score for an article to be relevant.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score returns the relevance in [0,1] and the matched keywords in category
// order. Each matching keyword adds (title*3 + description*2 + total) * 0.1
// to its category, and each category is scaled by its weight.
func (s *Scorer) Score(title, description, content string) (float64, []string) {
	lowTitle := strings.ToLower(title)
	lowDesc := strings.ToLower(description)
	text := strings.ToLower(title + " " + description + " " + content)

	var total float64
	var matched []string
	for _, c := range s.categories {
		var raw float64
		for _, k := range c.keywords {
			all := len(k.pattern.FindAllStringIndex(text, -1))
			if all == 0 {
				continue
			}
			inTitle := len(k.pattern.FindAllStringIndex(lowTitle, -1))
			inDesc := len(k.pattern.FindAllStringIndex(lowDesc, -1))
			raw += float64(inTitle*titleWeight+inDesc*descriptionWeight+all) * matchUnit
			matched = append(matched, k.text)
		}
		total += raw * c.weight
	}

	if total > maxScore {
		total = maxScore
	}
	return total, matched
}

// IsRelevant reports whether the text scores at least the threshold.
func (s *Scorer) IsRelevant(title, description, content string) bool {
	score, _ := s.Score(title, description, content)
	return score >= s.threshold
}

// Categorize returns the first rule category with a pattern contained in
// the lowercased title and description, or DefaultCategory.
func (s *Scorer) Categorize(title, description string) string {
	if cat, ok := s.match(title, description); ok {
		return cat
	}
	return DefaultCategory
}

func (s *Scorer) match(title, description string) (string, bool) {
	text := strings.ToLower(title + " " + description)
	for _, r := range s.rules {
		for _, p := range r.patterns {
			if strings.Contains(text, p) {
				return r.category, true
			}
		}
	}
	return "", false
}

// FilterAndRank keeps relevant candidates, scores them on their full text
// and returns them as articles ordered by score, highest first. Ties keep
// input order. A candidate no rule matches keeps its source category.
func (s *Scorer) FilterAndRank(candidates []collect.Candidate) []database.Article {
	ranked := make([]database.Article, 0, len(candidates))
	for _, c := range candidates {
		score, matched := s.Score(c.Title, c.Description, c.Content)
		if score < s.threshold {
			continue
		}

		cat, ok := s.match(c.Title, c.Description)
		if !ok {
			cat = c.Category
		}
		if cat == "" {
			cat = DefaultCategory
		}

		ranked = append(ranked, database.Article{
			Title:           c.Title,
			Description:     c.Description,
			Content:         c.Content,
			URL:             c.URL,
			ImageURL:        c.ImageURL,
			Source:          c.Source,
			Category:        cat,
			PublishedDate:   c.PublishedDate,
			RelevanceScore:  score,
			KeywordsMatched: matched,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})
	return ranked
}
