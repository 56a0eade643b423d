package logging

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// #region schema
// DiagnosticsSchema creates the query_diagnostics table. Stores that share a
// database with the diagnostics writer run it during migration.
const DiagnosticsSchema = `
CREATE TABLE IF NOT EXISTS query_diagnostics (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	cluster_key  TEXT NOT NULL,
	cluster_kind TEXT,
	state_id     TEXT NOT NULL,
	path         TEXT NOT NULL,
	approach     TEXT,
	reason       TEXT,
	graph_order  INTEGER NOT NULL,
	edge_count   INTEGER NOT NULL,
	measured     INTEGER NOT NULL,
	estimated    INTEGER NOT NULL,
	students     INTEGER NOT NULL,
	elapsed_us   INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_diagnostics_run ON query_diagnostics(run_id);
`

// #endregion schema

// #region log-query
// LogQuery writes one diagnostics row.
func LogQuery(db *sql.DB, entry DiagnosticEntry) error {
	return insertQuery(db, entry)
}

// LogQueries writes a batch of diagnostics rows in one transaction.
func LogQueries(db *sql.DB, entries []DiagnosticEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, e := range entries {
		if err := insertQuery(tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit diagnostics: %w", err)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertQuery(db execer, entry DiagnosticEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		`INSERT INTO query_diagnostics (run_id, cluster_key, cluster_kind, state_id, path, approach, reason,
		  graph_order, edge_count, measured, estimated, students, elapsed_us, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.ClusterKey,
		nullIfEmpty(entry.ClusterKind),
		strconv.FormatUint(entry.StateID, 16),
		entry.Path,
		nullIfEmpty(entry.Approach),
		nullIfEmpty(entry.Reason),
		entry.Order,
		entry.Edges,
		entry.Measured,
		entry.Estimated,
		entry.Students,
		entry.Elapsed.Microseconds(),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log query: %w", err)
	}
	return nil
}

// #endregion log-query

// #region list-queries
// ListQueries returns the diagnostics rows of one run in insertion order.
func ListQueries(db *sql.DB, runID string) ([]DiagnosticEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, cluster_key, cluster_kind, state_id, path, approach, reason,
		        graph_order, edge_count, measured, estimated, students, elapsed_us, created_at
		 FROM query_diagnostics WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	var out []DiagnosticEntry
	for rows.Next() {
		var e DiagnosticEntry
		var kind, approach, reason sql.NullString
		var stateHex, createdStr string
		var elapsedUS int64
		if err := rows.Scan(&e.RunID, &e.ClusterKey, &kind, &stateHex, &e.Path, &approach, &reason,
			&e.Order, &e.Edges, &e.Measured, &e.Estimated, &e.Students, &elapsedUS, &createdStr); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		e.ClusterKind = kind.String
		e.Approach = approach.String
		e.Reason = reason.String
		e.StateID, _ = strconv.ParseUint(stateHex, 16, 64)
		e.Elapsed = time.Duration(elapsedUS) * time.Microsecond
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-queries

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
