package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

// SQLiteStore is the durable back-end for admission records: WAL mode, an
// indexed schema, and a retention-driven Cleanup method.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path and
// runs its migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS admission_records (
		id TEXT PRIMARY KEY,
		client_ip TEXT NOT NULL,
		request_path TEXT NOT NULL,
		method TEXT NOT NULL,
		user_agent TEXT,
		request_headers TEXT,
		response_status INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		rate_limited INTEGER NOT NULL DEFAULT 0,
		rate_limit_type TEXT,
		in_whitelist INTEGER NOT NULL DEFAULT 0,
		trace_id TEXT,
		access_time DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_admission_client_ip ON admission_records(client_ip);
	CREATE INDEX IF NOT EXISTS idx_admission_path ON admission_records(request_path);
	CREATE INDEX IF NOT EXISTS idx_admission_rate_limited ON admission_records(rate_limited);
	CREATE INDEX IF NOT EXISTS idx_admission_access_time ON admission_records(access_time);
	CREATE INDEX IF NOT EXISTS idx_admission_trace_id ON admission_records(trace_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save persists one AdmissionRecord, assigning an id if the record doesn't
// carry one already.
func (s *SQLiteStore) Save(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	headers, err := json.Marshal(rec.RequestHeaders)
	if err != nil {
		return fmt.Errorf("audit: marshal headers: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO admission_records
			(id, client_ip, request_path, method, user_agent, request_headers,
			 response_status, processing_time_ms, rate_limited, rate_limit_type,
			 in_whitelist, trace_id, access_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ClientIP, rec.Path, rec.Method, rec.UserAgent, string(headers),
		rec.ResponseStatus, rec.ProcessingTimeMs, boolToInt(rec.RateLimited), rec.RateLimitType,
		boolToInt(rec.InWhitelist), rec.TraceID, rec.AccessTime,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// CountByIP returns the number of admission records for ip, for the admin
// surface's `/admin/rate-limit-logs/by-ip` endpoint.
func (s *SQLiteStore) CountByIP(ip string) (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM admission_records WHERE client_ip = ?`, ip).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count by ip: %w", err)
	}
	return count, nil
}

// CountRateLimited returns the number of rate-limited records, for
// `/admin/rate-limit-logs/count`.
func (s *SQLiteStore) CountRateLimited() (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM admission_records WHERE rate_limited = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count rate limited: %w", err)
	}
	return count, nil
}

// Cleanup deletes records older than retentionDays and returns the number
// removed.
func (s *SQLiteStore) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`DELETE FROM admission_records WHERE access_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return result.RowsAffected()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
