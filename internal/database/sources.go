package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/AgriNews/internal/fault"
)

// SyncSources upserts the configured sources, keyed by URL. Status columns
// of existing rows are left alone.
func (db *DB) SyncSources(ctx context.Context, sources []SourceRecord) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fault.New(fault.KindPersistence, "sync sources", err)
	}
	defer tx.Rollback()

	for _, s := range sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sources (name, url, category) VALUES (?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET name = excluded.name, category = excluded.category`,
			s.Name, s.URL, s.Category,
		); err != nil {
			return fault.New(fault.KindPersistence, "sync sources", fmt.Errorf("%s: %w", s.Name, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fault.New(fault.KindPersistence, "sync sources", err)
	}
	return nil
}

// UpdateSourceStatus records the outcome of the latest fetch or check of the
// named source. An empty errMsg clears the previous error.
func (db *DB) UpdateSourceStatus(ctx context.Context, name, status, errMsg string) error {
	var lastErr any
	if errMsg != "" {
		lastErr = errMsg
	}
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sources SET status = ?, last_error = ?, last_fetch = ? WHERE name = ?",
		status, lastErr, db.timestamp(), name,
	)
	if err != nil {
		return fault.New(fault.KindPersistence, "update source status", err)
	}
	return nil
}

// ListSources returns every known source ordered by name.
func (db *DB) ListSources(ctx context.Context) ([]SourceRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, url, category, status, last_fetch, last_error
		FROM sources ORDER BY name`)
	if err != nil {
		return nil, fault.New(fault.KindPersistence, "list sources", err)
	}
	defer rows.Close()

	records := []SourceRecord{}
	for rows.Next() {
		var r SourceRecord
		var category, status, lastFetch, lastError sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.URL, &category, &status, &lastFetch, &lastError); err != nil {
			return nil, fault.New(fault.KindPersistence, "list sources", err)
		}
		r.Category = category.String
		r.Status = status.String
		r.LastFetch = lastFetch.String
		r.LastError = lastError.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.KindPersistence, "list sources", err)
	}
	return records, nil
}
