package relevance

import (
	"sort"

	"github.com/TobiSchelling/AgriNews/internal/database"
)

const topKeywordCount = 10

// KeywordCount is how many articles matched a keyword.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// KeywordSummary aggregates keyword matches over a set of articles.
type KeywordSummary struct {
	TopKeywords          []KeywordCount `json:"top_keywords"`
	CategoryDistribution map[string]int `json:"category_distribution"`
	TotalArticles        int            `json:"total_articles"`
}

// Summarize counts the most frequent matched keywords and, per keyword
// category, how many articles matched at least one of its keywords.
func (s *Scorer) Summarize(articles []database.Article) KeywordSummary {
	counts := make(map[string]int)
	var order []string
	dist := make(map[string]int)

	for _, a := range articles {
		present := make(map[string]bool, len(a.KeywordsMatched))
		for _, k := range a.KeywordsMatched {
			if _, seen := counts[k]; !seen {
				order = append(order, k)
			}
			counts[k]++
			present[k] = true
		}

		for _, c := range s.categories {
			for _, k := range c.keywords {
				if present[k.text] {
					dist[c.name]++
					break
				}
			}
		}
	}

	top := make([]KeywordCount, 0, len(order))
	for _, k := range order {
		top = append(top, KeywordCount{Keyword: k, Count: counts[k]})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > topKeywordCount {
		top = top[:topKeywordCount]
	}

	return KeywordSummary{
		TopKeywords:          top,
		CategoryDistribution: dist,
		TotalArticles:        len(articles),
	}
}
