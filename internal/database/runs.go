package database

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/fault"
)

// LogRun appends a fetch log entry. A failed write is logged and dropped.
func (db *DB) LogRun(ctx context.Context, sourceName string, found, added int, status string) {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO fetch_log (source_name, articles_found, articles_added, status, fetch_time)
		VALUES (?, ?, ?, ?, ?)`,
		sourceName, found, added, status, db.timestamp(),
	)
	if err != nil {
		db.log.Warn("failed to log run",
			zap.String("source", sourceName),
			zap.String("status", status),
			zap.Error(err))
	}
}

// RecentRuns returns the latest fetch log entries, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]FetchLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, source_name, articles_found, articles_added, status, fetch_time
		FROM fetch_log ORDER BY fetch_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fault.New(fault.KindPersistence, "recent runs", err)
	}
	defer rows.Close()

	entries := []FetchLogEntry{}
	for rows.Next() {
		var e FetchLogEntry
		var name, status, fetchTime sql.NullString
		var found, added sql.NullInt64
		if err := rows.Scan(&e.ID, &name, &found, &added, &status, &fetchTime); err != nil {
			return nil, fault.New(fault.KindPersistence, "recent runs", err)
		}
		e.SourceName = name.String
		e.ArticlesFound = int(found.Int64)
		e.ArticlesAdded = int(added.Int64)
		e.Status = status.String
		e.FetchTime = fetchTime.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.KindPersistence, "recent runs", err)
	}
	return entries, nil
}

// PurgeFetchLog deletes log entries older than retentionDays. Zero or a
// negative value keeps the whole history.
func (db *DB) PurgeFetchLog(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	result, err := db.conn.ExecContext(ctx,
		"DELETE FROM fetch_log WHERE fetch_time < ?", db.cutoff(retentionDays))
	if err != nil {
		return 0, fault.New(fault.KindPersistence, "purge fetch log", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fault.New(fault.KindPersistence, "purge fetch log", err)
	}
	return int(n), nil
}
