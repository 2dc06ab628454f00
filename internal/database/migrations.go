package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

const initialSchema = `
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT,
    content TEXT,
    url TEXT UNIQUE NOT NULL,
    source TEXT NOT NULL,
    category TEXT,
    published_date TEXT,
    relevance_score REAL DEFAULT 0.0,
    keywords_matched TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    url TEXT UNIQUE NOT NULL,
    category TEXT,
    last_fetch TIMESTAMP,
    status TEXT DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS fetch_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_name TEXT,
    articles_found INTEGER,
    articles_added INTEGER,
    fetch_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    status TEXT
);
`

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(initialSchema)
			return err
		},
	},
	{
		Version:     2,
		Description: "article images, source errors, listing indexes",
		Up: func(tx *sql.Tx) error {
			// Databases stamped as legacy may predate some tables.
			if _, err := tx.Exec(initialSchema); err != nil {
				return err
			}

			add := []struct{ table, column, ddl string }{
				{"articles", "image_url", "ALTER TABLE articles ADD COLUMN image_url TEXT"},
				{"sources", "last_error", "ALTER TABLE sources ADD COLUMN last_error TEXT"},
			}
			for _, a := range add {
				ok, err := hasColumn(tx, a.table, a.column)
				if err != nil {
					return err
				}
				if ok {
					continue
				}
				if _, err := tx.Exec(a.ddl); err != nil {
					return err
				}
			}

			_, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_articles_created ON articles(created_at);
CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_date);
CREATE INDEX IF NOT EXISTS idx_fetch_log_time ON fetch_log(fetch_time);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
