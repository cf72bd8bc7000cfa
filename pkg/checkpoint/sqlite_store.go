package checkpoint

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"igcomments/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps one row per target holding the JSON state
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string, l logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger.OrDefault(l)}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads the state of targetID with the same corruption semantics as FileStore
func (s *SQLiteStore) Load(targetID string) (*State, error) {
	var raw string
	err := s.db.QueryRow(`SELECT state FROM checkpoints WHERE target_id = ?`, targetID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}

	state, err := Decode([]byte(raw))
	if err != nil {
		s.logger.WithError(err).WarnWithFields("Ignoring unusable checkpoint", map[string]interface{}{
			"target_id": targetID,
			"backend":   "sqlite",
		})
		return nil, nil
	}
	if state.TargetID != targetID {
		s.logger.WarnWithFields("Ignoring checkpoint for another target", map[string]interface{}{
			"target_id": targetID,
			"found":     state.TargetID,
			"backend":   "sqlite",
		})
		return nil, nil
	}
	return state, nil
}

// Save upserts state in a transaction
func (s *SQLiteStore) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := state.Encode()
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO checkpoints (target_id, run_id, status, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.TargetID, state.RunID, state.Status, string(data), state.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Delete removes the row of targetID
func (s *SQLiteStore) Delete(targetID string) error {
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns summaries of every readable row, newest first
func (s *SQLiteStore) List() ([]Info, error) {
	rows, err := s.db.Query(`SELECT state FROM checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		if state, err := Decode([]byte(raw)); err == nil {
			infos = append(infos, Summarize(state))
		}
	}
	return infos, rows.Err()
}
