package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/fault"
)

// ErrInvalidArticle is returned by Add for articles that cannot be stored.
var ErrInvalidArticle = errors.New("invalid article")

const articleColumns = `id, title, description, content, url, image_url, source, category,
	published_date, relevance_score, keywords_matched, created_at`

// Add inserts an article unless one with the same URL exists. It reports
// whether a row was written; a duplicate is (false, nil).
func (db *DB) Add(ctx context.Context, a Article) (bool, error) {
	if err := validate(a); err != nil {
		return false, err
	}

	keywords := a.KeywordsMatched
	if keywords == nil {
		keywords = []string{}
	}
	kwJSON, err := json.Marshal(keywords)
	if err != nil {
		return false, fault.New(fault.KindPersistence, "add", err)
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO articles
		(title, description, content, url, image_url, source, category,
		 published_date, relevance_score, keywords_matched, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Title, a.Description, a.Content, a.URL, a.ImageURL, a.Source, a.Category,
		a.PublishedDate, a.RelevanceScore, string(kwJSON), db.timestamp(),
	)
	if err != nil {
		return false, fault.New(fault.KindPersistence, "add", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fault.New(fault.KindPersistence, "add", err)
	}
	return n > 0, nil
}

func validate(a Article) error {
	switch {
	case strings.TrimSpace(a.URL) == "":
		return fmt.Errorf("%w: empty url", ErrInvalidArticle)
	case strings.TrimSpace(a.Title) == "":
		return fmt.Errorf("%w: empty title", ErrInvalidArticle)
	case math.IsNaN(a.RelevanceScore) || a.RelevanceScore < 0 || a.RelevanceScore > 1:
		return fmt.Errorf("%w: relevance score %v outside [0,1]", ErrInvalidArticle, a.RelevanceScore)
	}
	return nil
}

// where builds the predicate shared by Count and List.
func (db *DB) where(f ArticleFilter) (string, []any) {
	clause := "WHERE created_at >= ?"
	args := []any{db.cutoff(f.DaysBack)}
	if f.Category != "" {
		clause += " AND category = ?"
		args = append(args, f.Category)
	}
	return clause, args
}

// Count returns the number of articles created within f.DaysBack days,
// optionally restricted to f.Category.
func (db *DB) Count(ctx context.Context, f ArticleFilter) (int, error) {
	clause, args := db.where(f)
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles "+clause, args...).Scan(&n); err != nil {
		return 0, fault.New(fault.KindPersistence, "count", err)
	}
	return n, nil
}

// List returns one page of articles, newest publication first. The id
// tiebreaker keeps pages disjoint when every sort key is equal.
func (db *DB) List(ctx context.Context, f ArticleFilter) ([]Article, error) {
	clause, args := db.where(f)
	if f.MinRelevance > 0 {
		clause += " AND relevance_score >= ?"
		args = append(args, f.MinRelevance)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, max(f.Offset, 0))

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+articleColumns+" FROM articles "+clause+`
		ORDER BY published_date DESC, relevance_score DESC, created_at DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fault.New(fault.KindPersistence, "list", err)
	}
	defer rows.Close()

	articles, err := scanArticles(rows)
	if err != nil {
		return nil, fault.New(fault.KindPersistence, "list", err)
	}
	return articles, nil
}

// SearchByKeywords returns articles whose title, description or content
// contain the keywords in the given order.
func (db *DB) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]Article, error) {
	if len(keywords) == 0 {
		return []Article{}, nil
	}
	pattern := "%" + strings.Join(keywords, "%") + "%"

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+articleColumns+` FROM articles
		WHERE (title LIKE ? OR description LIKE ? OR content LIKE ?)
		ORDER BY relevance_score DESC, created_at DESC
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fault.New(fault.KindPersistence, "search", err)
	}
	defer rows.Close()

	articles, err := scanArticles(rows)
	if err != nil {
		return nil, fault.New(fault.KindPersistence, "search", err)
	}
	return articles, nil
}

// PurgeExpired deletes articles created more than retentionDays ago.
func (db *DB) PurgeExpired(ctx context.Context, retentionDays int) (int, error) {
	result, err := db.conn.ExecContext(ctx,
		"DELETE FROM articles WHERE created_at < ?", db.cutoff(retentionDays))
	if err != nil {
		return 0, fault.New(fault.KindPersistence, "purge articles", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fault.New(fault.KindPersistence, "purge articles", err)
	}
	db.log.Info("purged expired articles", zap.Int64("deleted", n), zap.Int("retention_days", retentionDays))
	return int(n), nil
}

// Stats returns aggregate article statistics.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ArticlesByCategory: make(map[string]int)}

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&s.TotalArticles); err != nil {
		return nil, fault.New(fault.KindPersistence, "stats", err)
	}

	rows, err := db.conn.QueryContext(ctx, "SELECT category, COUNT(*) FROM articles GROUP BY category")
	if err != nil {
		return nil, fault.New(fault.KindPersistence, "stats", err)
	}
	for rows.Next() {
		var cat sql.NullString
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return nil, fault.New(fault.KindPersistence, "stats", err)
		}
		s.ArticlesByCategory[cat.String] += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fault.New(fault.KindPersistence, "stats", err)
	}
	rows.Close()

	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM articles WHERE created_at >= ?", db.cutoff(1),
	).Scan(&s.RecentArticles); err != nil {
		return nil, fault.New(fault.KindPersistence, "stats", err)
	}

	var avg sql.NullFloat64
	if err := db.conn.QueryRowContext(ctx, "SELECT AVG(relevance_score) FROM articles").Scan(&avg); err != nil {
		return nil, fault.New(fault.KindPersistence, "stats", err)
	}
	s.AvgRelevanceScore = math.Round(avg.Float64*100) / 100

	return s, nil
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	articles := []Article{}
	for rows.Next() {
		var a Article
		var desc, content, image, category, pub, kwJSON, createdAt sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.Title, &desc, &content, &a.URL, &image, &a.Source,
			&category, &pub, &score, &kwJSON, &createdAt); err != nil {
			return nil, err
		}
		a.Description = desc.String
		a.Content = content.String
		a.ImageURL = image.String
		a.Category = category.String
		a.PublishedDate = pub.String
		a.RelevanceScore = score.Float64
		a.CreatedAt = createdAt.String
		a.KeywordsMatched = []string{}
		if kwJSON.String != "" {
			if err := json.Unmarshal([]byte(kwJSON.String), &a.KeywordsMatched); err != nil {
				return nil, fmt.Errorf("decoding keywords for %s: %w", a.URL, err)
			}
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
