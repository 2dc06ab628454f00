package database

// Article represents a persisted news article.
type Article struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Content         string   `json:"content"`
	URL             string   `json:"url"`
	ImageURL        string   `json:"image_url"`
	Source          string   `json:"source"`
	Category        string   `json:"category"`
	PublishedDate   string   `json:"published_date"`
	RelevanceScore  float64  `json:"relevance_score"`
	KeywordsMatched []string `json:"keywords_matched"`
	CreatedAt       string   `json:"created_at"`
}

// ArticleFilter selects articles for Count and List. An empty Category
// means every category. MinRelevance and the Limit/Offset window only
// apply to List.
type ArticleFilter struct {
	Category     string
	DaysBack     int
	MinRelevance float64
	Limit        int
	Offset       int
}

// FetchLogEntry records one pipeline run.
type FetchLogEntry struct {
	ID            int64  `json:"id"`
	SourceName    string `json:"source_name"`
	ArticlesFound int    `json:"articles_found"`
	ArticlesAdded int    `json:"articles_added"`
	Status        string `json:"status"`
	FetchTime     string `json:"fetch_time"`
}

// SourceRecord mirrors a configured source plus its last known status.
type SourceRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	LastFetch string `json:"last_fetch,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalArticles      int            `json:"total_articles"`
	ArticlesByCategory map[string]int `json:"articles_by_category"`
	RecentArticles     int            `json:"recent_articles"`
	AvgRelevanceScore  float64        `json:"avg_relevance_score"`
}
