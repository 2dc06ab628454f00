package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/AgriNews/internal/collect"
	"github.com/TobiSchelling/AgriNews/internal/config"
)

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	return FromConfig(cfg)
}

func singleKeywordScorer(kw string, weight, threshold float64) *Scorer {
	return NewScorer(
		[]config.KeywordCategory{{Name: "test", Weight: weight, Keywords: []string{kw}}},
		nil,
		threshold,
	)
}

func TestScoreFormula(t *testing.T) {
	s := singleKeywordScorer("grazing", 1.0, 0.2)

	// title 1, description 1, total 2: (3 + 2 + 2) * 0.1
	score, matched := s.Score("Grazing plans", "Better grazing", "")
	assert.InDelta(t, 0.7, score, 1e-9)
	assert.Equal(t, []string{"grazing"}, matched)

	// content only: (0 + 0 + 1) * 0.1
	score, _ = s.Score("Plans", "Better", "rotational grazing works")
	assert.InDelta(t, 0.1, score, 1e-9)
}

func TestScoreAppliesCategoryWeight(t *testing.T) {
	light := singleKeywordScorer("dairy", 0.5, 0)
	heavy := singleKeywordScorer("dairy", 2.0, 0)

	lightScore, _ := light.Score("", "dairy", "")
	heavyScore, _ := heavy.Score("", "dairy", "")
	assert.InDelta(t, 0.15, lightScore, 1e-9)
	assert.InDelta(t, 0.6, heavyScore, 1e-9)
}

func TestTitleMatchOutranksContentMatch(t *testing.T) {
	s := defaultScorer(t)

	inTitle, _ := s.Score("Rotational grazing pays off", "A report from Normandy", "")
	inContent, _ := s.Score("A farm report", "A report from Normandy", "rotational grazing pays off")
	assert.Greater(t, inTitle, inContent)
}

func TestScoreIsClampedToOne(t *testing.T) {
	s := defaultScorer(t)

	score, matched := s.Score(
		"Virtual fence, GPS fence and geofencing for cattle tracking",
		"Virtual fencing with a wireless fence improves rotational grazing and pasture management",
		"virtual fence virtual fence virtual fence smart farming agritech",
	)
	assert.Equal(t, 1.0, score)
	assert.Contains(t, matched, "virtual fence")
}

func TestScoreBounds(t *testing.T) {
	s := defaultScorer(t)
	inputs := [][3]string{
		{"", "", ""},
		{"Local Bakery Opens", "Fresh bread daily", ""},
		{"Farm", "farm farm farm", "farm farm farm farm"},
		{"Dairy and beef", "cattle sheep poultry swine", "tractor harvest irrigation organic"},
	}
	for _, in := range inputs {
		score, _ := s.Score(in[0], in[1], in[2])
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestWordBoundaryMatching(t *testing.T) {
	s := singleKeywordScorer("farm", 1.0, 0)

	score, matched := s.Score("Farmhouse farmers", "pharmacy", "")
	assert.Zero(t, score)
	assert.Empty(t, matched)

	score, _ = s.Score("FARM news", "", "")
	assert.InDelta(t, 0.4, score, 1e-9)
}

func TestMatchedKeywordsFollowCategoryOrder(t *testing.T) {
	s := defaultScorer(t)

	_, matched := s.Score("Dairy farmers try a virtual fence", "", "")
	require.NotEmpty(t, matched)
	assert.Equal(t, "virtual fence", matched[0])
	assert.Contains(t, matched, "dairy")
}

func TestIsRelevant(t *testing.T) {
	s := defaultScorer(t)
	assert.InDelta(t, 0.2, s.Threshold(), 1e-9)

	assert.True(t, s.IsRelevant("New Virtual Fence Launched", "GPS fence for cattle", ""))
	assert.False(t, s.IsRelevant("Local Bakery Opens", "Fresh croissants every morning", ""))
}

func TestCategorize(t *testing.T) {
	s := defaultScorer(t)

	tests := []struct {
		title, desc, want string
	}{
		{"New Virtual Fence Launched", "GPS fence for cattle", "virtual_fencing"},
		// "pasture" appears before "milk" in rule order.
		{"Milk prices", "pasture-fed herds", "pasture_management"},
		{"Milk prices", "co-op results", "dairy"},
		{"New tractor", "smart cab", "equipment"},
		{"Local Bakery Opens", "Fresh bread", DefaultCategory},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Categorize(tt.title, tt.desc), tt.title)
	}
}

func TestCategorizeRuleOrderIsSignificant(t *testing.T) {
	kw := []config.KeywordCategory{}
	first := NewScorer(kw, []config.CategoryRule{
		{Category: "beef", Patterns: []string{"cattle"}},
		{Category: "dairy", Patterns: []string{"cow"}},
	}, 0)
	second := NewScorer(kw, []config.CategoryRule{
		{Category: "dairy", Patterns: []string{"cow"}},
		{Category: "beef", Patterns: []string{"cattle"}},
	}, 0)

	assert.Equal(t, "beef", first.Categorize("Cattle and cow health", ""))
	assert.Equal(t, "dairy", second.Categorize("Cattle and cow health", ""))
}

func TestFilterAndRank(t *testing.T) {
	s := defaultScorer(t)

	candidates := []collect.Candidate{
		{Title: "Local Bakery Opens", Description: "Fresh bread", URL: "https://x/bakery", Category: "general"},
		{Title: "Farm news roundup", Description: "farming update", URL: "https://x/farm", Source: "Farmers Weekly", Category: "general"},
		{Title: "New Virtual Fence Launched", Description: "GPS fence for cattle", URL: "https://x/1", Source: "AgFunder News", Category: "agritech"},
		{Title: "Agtech funding", Description: "agritech investors", URL: "https://x/agtech", Source: "AgFunder News", Category: "agritech"},
	}

	ranked := s.FilterAndRank(candidates)
	require.Len(t, ranked, 3)

	assert.Equal(t, "https://x/1", ranked[0].URL)
	assert.Equal(t, "virtual_fencing", ranked[0].Category)
	assert.Equal(t, 1.0, ranked[0].RelevanceScore)
	assert.Subset(t, ranked[0].KeywordsMatched, []string{"virtual fence", "GPS fence"})

	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].RelevanceScore, ranked[i].RelevanceScore)
	}
	for _, a := range ranked {
		assert.NotEqual(t, "https://x/bakery", a.URL)
	}

	// No rule matches "agtech"/"agritech", so the source category is kept.
	for _, a := range ranked {
		if a.URL == "https://x/agtech" {
			assert.Equal(t, "agritech", a.Category)
		}
	}
}

func TestFilterAndRankIsStable(t *testing.T) {
	s := singleKeywordScorer("grazing", 1.0, 0.1)

	candidates := []collect.Candidate{
		{Title: "grazing one", URL: "https://x/1"},
		{Title: "grazing two", URL: "https://x/2"},
		{Title: "grazing three", URL: "https://x/3"},
	}
	ranked := s.FilterAndRank(candidates)
	require.Len(t, ranked, 3)
	for i, c := range candidates {
		assert.Equal(t, c.URL, ranked[i].URL)
		assert.Equal(t, DefaultCategory, ranked[i].Category)
	}
}

func TestSummarize(t *testing.T) {
	s := defaultScorer(t)

	articles := s.FilterAndRank([]collect.Candidate{
		{Title: "New Virtual Fence Launched", Description: "GPS fence for cattle", URL: "https://x/1"},
		{Title: "Virtual fence trial", Description: "dairy herd", URL: "https://x/2"},
		{Title: "Dairy margins", Description: "farm incomes", URL: "https://x/3"},
	})
	require.Len(t, articles, 3)

	summary := s.Summarize(articles)
	assert.Equal(t, 3, summary.TotalArticles)
	require.NotEmpty(t, summary.TopKeywords)
	assert.LessOrEqual(t, len(summary.TopKeywords), 10)
	assert.Equal(t, 2, summary.TopKeywords[0].Count)
	assert.Equal(t, 2, summary.CategoryDistribution["virtual_fencing"])
	assert.Equal(t, 3, summary.CategoryDistribution["general_farming"])
}
