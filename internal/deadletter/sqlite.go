package deadletter

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps dead letters in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite journal at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS dead_letters (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		item_key TEXT NOT NULL,
		class_name TEXT NOT NULL,
		payload JSON NOT NULL,
		errors JSON NOT NULL,
		attempts INTEGER NOT NULL,
		failed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_key ON dead_letters(item_key);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put appends records in one transaction.
func (s *SQLiteStore) Put(records ...*Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO dead_letters
		(kind, item_key, class_name, payload, errors, attempts, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		errs, err := json.Marshal(rec.Errors)
		if err != nil {
			return fmt.Errorf("marshal errors of %s: %w", rec.Key, err)
		}
		res, err := stmt.Exec(string(rec.Kind), rec.Key, rec.Class, string(rec.Payload),
			string(errs), rec.Attempts, rec.FailedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.Key, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rec.Seq = uint64(id)
	}
	return tx.Commit()
}

// List returns records in insertion order.
func (s *SQLiteStore) List(limit int) ([]*Record, error) {
	query := `SELECT seq, kind, item_key, class_name, payload, errors, attempts, failed_at
		FROM dead_letters ORDER BY seq`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			rec             Record
			kind, failedAt  string
			payload, errors string
		)
		if err := rows.Scan(&rec.Seq, &kind, &rec.Key, &rec.Class, &payload, &errors, &rec.Attempts, &failedAt); err != nil {
			return nil, err
		}
		rec.Kind = Kind(kind)
		rec.Payload = json.RawMessage(payload)
		if err := json.Unmarshal([]byte(errors), &rec.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors of record %d: %w", rec.Seq, err)
		}
		rec.FailedAt, err = time.Parse(time.RFC3339Nano, failedAt)
		if err != nil {
			return nil, fmt.Errorf("parse failed_at of record %d: %w", rec.Seq, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// deleteChunkSize keeps each DELETE well under SQLite's bound-variable limit.
const deleteChunkSize = 500

// Delete removes records by sequence in one transaction.
func (s *SQLiteStore) Delete(seqs ...uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for start := 0; start < len(seqs); start += deleteChunkSize {
		chunk := seqs[start:min(start+deleteChunkSize, len(seqs))]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i, seq := range chunk {
			args[i] = int64(seq)
		}
		if _, err := tx.Exec("DELETE FROM dead_letters WHERE seq IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM dead_letters").Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
