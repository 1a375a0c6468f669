package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/alimasry/go-collab-history/ot"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS document (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS operation (
		doc_id TEXT NOT NULL REFERENCES document(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		ops TEXT NOT NULL,
		PRIMARY KEY (doc_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS history (
		doc_id TEXT NOT NULL REFERENCES document(id) ON DELETE CASCADE,
		owner TEXT NOT NULL,
		data BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (doc_id, owner)
	)`,
}

// SQLiteStore is a SQLite-backed implementation of DocumentStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas apply per connection, and an in-memory database exists only
	// on the connection that opened it.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, q := range append(pragmas, sqliteSchema...) {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, id, content string) error {
	now := time.Now().UTC()
	query, args, err := sq.
		Insert("document").
		Columns("id", "content", "version", "created_at", "updated_at").
		Values(id, content, 0, now, now).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("document %q already exists", id)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	query, args, err := sq.
		Select("id", "content", "version", "created_at", "updated_at").
		From("document").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var info DocumentInfo
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&info.ID, &info.Content, &info.Version, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]DocumentInfo, error) {
	query, args, err := sq.
		Select("id", "content", "version", "created_at", "updated_at").
		From("document").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		if err := rows.Scan(&info.ID, &info.Content, &info.Version, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

// touch updates a document row and reports ErrNotFound when none matched.
func (s *SQLiteStore) touch(ctx context.Context, id string, set map[string]interface{}) error {
	set["updated_at"] = time.Now().UTC()
	query, args, err := sq.
		Update("document").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLiteStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	return s.touch(ctx, id, map[string]interface{}{"content": content, "version": version})
}

func (s *SQLiteStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	data, err := json.Marshal(op.Ops)
	if err != nil {
		return fmt.Errorf("encode operation: %w", err)
	}
	// The pool holds one connection, so this runs before the transaction
	// takes it.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Same 0-based indexing as the other stores: version 1 is index 0.
	query, args, err := sq.
		Insert("operation").
		Columns("doc_id", "idx", "ops").
		Values(id, version-1, string(data)).
		Suffix("ON CONFLICT(doc_id, idx) DO UPDATE SET ops = excluded.ops").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	query, args, err = sq.
		Update("document").
		Set("version", version).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	query, args, err := sq.
		Select("ops").
		From("operation").
		Where(sq.Eq{"doc_id": id}).
		Where(sq.GtOrEq{"idx": fromVersion}).
		OrderBy("idx").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []ot.Operation
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var op ot.Operation
		if err := json.Unmarshal([]byte(raw), &op.Ops); err != nil {
			return nil, fmt.Errorf("decode operation of %q: %w", id, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *SQLiteStore) SaveHistory(ctx context.Context, rec HistoryRecord) error {
	if _, err := s.Get(ctx, rec.DocID); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}
	query, args, err := sq.
		Insert("history").
		Columns("doc_id", "owner", "data", "version", "updated_at").
		Values(rec.DocID, rec.Owner, rec.Data, rec.Version, rec.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT(doc_id, owner) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, docID, owner string) (*HistoryRecord, error) {
	query, args, err := sq.
		Select("data", "version", "updated_at").
		From("history").
		Where(sq.Eq{"doc_id": docID, "owner": owner}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rec := HistoryRecord{DocID: docID, Owner: owner}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rec.Data, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.Get(ctx, docID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("history of %q in %q: %w", owner, docID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
