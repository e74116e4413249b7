// Package index maintains the per-account SQLite message index
// that wrapped reports are computed from, including its build
// lifecycle and readiness gating.
package index

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// FileName is the index database file inside an account dir.
const FileName = "chat_index.db"

// Path returns the index database path for an account dir.
func Path(accountDir string) string {
	return filepath.Join(accountDir, FileName)
}

// Index manages a write connection and a read-only pool over one
// account's message index.
type Index struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes

	// Loc is the timezone used to delimit year windows and is
	// expected to match the zone the messages were written in.
	Loc *time.Location
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens the index database at path and ensures
// the schema exists.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	ix := &Index{writer: writer, reader: reader, Loc: time.Local}
	if _, err := ix.writer.Exec(schemaSQL); err != nil {
		ix.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return ix, nil
}

// OpenExisting opens the index read-only, failing when the file
// is absent or lacks the messages table. Used by the query path,
// which must never create an index as a side effect.
func OpenExisting(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index not present: %w", err)
	}
	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	var n int
	err = reader.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name='messages'",
	).Scan(&n)
	if err != nil || n == 0 {
		reader.Close()
		if err == nil {
			err = errors.New("messages table missing")
		}
		return nil, fmt.Errorf("probing index: %w", err)
	}
	return &Index{reader: reader, Loc: time.Local}, nil
}

// Close closes the underlying connections.
func (ix *Index) Close() error {
	var errs []error
	if ix.writer != nil {
		errs = append(errs, ix.writer.Close())
	}
	if ix.reader != nil {
		errs = append(errs, ix.reader.Close())
	}
	return errors.Join(errs...)
}

// Row is one message record as stored in the index.
type Row struct {
	ConversationID string
	SenderID       string
	CreateTime     int64
	SortSeq        int64
	LocalID        int64
	LocalType      int64
	SourceStem     string
}

// InsertRows writes a batch of rows in one transaction.
func (ix *Index) InsertRows(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	return ix.update(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO messages
			(conversation_id, sender_id, create_time, sort_seq,
			 local_id, local_type, source_stem)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(
				r.ConversationID, r.SenderID, r.CreateTime,
				r.SortSeq, r.LocalID, r.LocalType, r.SourceStem,
			); err != nil {
				return fmt.Errorf("inserting message: %w", err)
			}
		}
		return nil
	})
}

// Reset drops all indexed messages and clears the ready flag,
// ahead of a rebuild.
func (ix *Index) Reset() error {
	return ix.update(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM messages"); err != nil {
			return fmt.Errorf("clearing messages: %w", err)
		}
		if _, err := tx.Exec(
			"DELETE FROM meta WHERE key = 'ready'",
		); err != nil {
			return fmt.Errorf("clearing ready flag: %w", err)
		}
		return nil
	})
}

// SetReady marks the index as query-ready.
func (ix *Index) SetReady() error {
	return ix.update(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO meta(key, value) VALUES('ready', '1')",
		)
		if err != nil {
			return fmt.Errorf("setting ready flag: %w", err)
		}
		return nil
	})
}

// Ready reports whether the index was marked query-ready.
func (ix *Index) Ready() bool {
	var v string
	err := ix.reader.QueryRow(
		"SELECT value FROM meta WHERE key = 'ready'",
	).Scan(&v)
	return err == nil && v == "1"
}

// MessageCount returns the number of indexed messages.
func (ix *Index) MessageCount() (int, error) {
	var n int
	if err := ix.reader.QueryRow(
		"SELECT count(*) FROM messages",
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// update executes fn within a write lock and transaction.
func (ix *Index) update(fn func(tx *sql.Tx) error) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
