package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/serroba/collab-notes/internal/ot"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists documents in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path.
// The database runs in WAL mode with a single writer connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateDocument records a new document.
func (s *SQLiteStore) CreateDocument(ctx context.Context, rec DocumentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, seq, title, initial_content, creator_id, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents), ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.InitialContent, rec.CreatorID, rec.CreatedAt.UnixNano(),
	)
	if isConstraint(err) {
		return ErrDocumentExists
	}

	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	return nil
}

// ListDocuments returns every document in creation order.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, initial_content, creator_id, created_at FROM documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var result []DocumentRecord

	for rows.Next() {
		var (
			rec     DocumentRecord
			created int64
		)

		if err := rows.Scan(&rec.ID, &rec.Title, &rec.InitialContent, &rec.CreatorID, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}

		rec.CreatedAt = time.Unix(0, created).UTC()
		result = append(result, rec)
	}

	return result, rows.Err()
}

// SaveSnapshot persists the document text at the given version.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, docID string, version int, content string) error {
	if err := s.requireDocument(ctx, docID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (doc_id, version, content, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET version = excluded.version,
		     content = excluded.content, created_at = excluded.created_at`,
		docID, version, content, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot retrieves the latest snapshot for a document.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	if err := s.requireDocument(ctx, docID); err != nil {
		return Snapshot{}, err
	}

	var (
		snap    = Snapshot{DocID: docID}
		created int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT version, content, created_at FROM snapshots WHERE doc_id = ?`, docID,
	).Scan(&snap.Version, &snap.Content, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}

	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	snap.CreatedAt = time.Unix(0, created).UTC()

	return snap, nil
}

// AppendChange adds an applied change to the document's log.
func (s *SQLiteStore) AppendChange(ctx context.Context, docID string, c ot.Change) error {
	latest, err := s.LatestVersion(ctx, docID)
	if err != nil {
		return err
	}

	if c.Version != latest+1 {
		return ErrVersionConflict
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO changes (doc_id, version, id, user_id, ts, operation, position, content, length, base_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		docID, c.Version, c.ID, c.UserID, c.Timestamp.UnixNano(), string(c.Operation),
		c.Position, c.Content, c.Length, c.BaseVersion,
	)
	if isConstraint(err) {
		return ErrVersionConflict
	}

	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}

	return nil
}

// LoadChanges retrieves all changes after the given version.
func (s *SQLiteStore) LoadChanges(ctx context.Context, docID string, sinceVersion int) ([]ot.Change, error) {
	if err := s.requireDocument(ctx, docID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT version, id, user_id, ts, operation, position, content, length, base_version
		 FROM changes WHERE doc_id = ? AND version > ? ORDER BY version`,
		docID, sinceVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("load changes: %w", err)
	}
	defer rows.Close()

	var result []ot.Change

	for rows.Next() {
		var (
			c  ot.Change
			ts int64
			op string
		)

		if err := rows.Scan(&c.Version, &c.ID, &c.UserID, &ts, &op,
			&c.Position, &c.Content, &c.Length, &c.BaseVersion); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}

		c.Timestamp = time.Unix(0, ts).UTC()
		c.Operation = ot.OpType(op)
		result = append(result, c)
	}

	return result, rows.Err()
}

// LatestVersion returns the highest logged version for a document.
func (s *SQLiteStore) LatestVersion(ctx context.Context, docID string) (int, error) {
	if err := s.requireDocument(ctx, docID); err != nil {
		return 0, err
	}

	var version int

	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM changes WHERE doc_id = ?`, docID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}

	return version, nil
}

func (s *SQLiteStore) requireDocument(ctx context.Context, docID string) error {
	var one int

	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, docID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDocumentNotFound
	}

	if err != nil {
		return fmt.Errorf("lookup document: %w", err)
	}

	return nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error

	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
