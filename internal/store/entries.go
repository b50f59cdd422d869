package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tutorcal/internal/model"
)

// EntryStore persists schedule entries as JSON payloads keyed by
// (variant, id). Each row remembers the source it was imported from so a
// re-import replaces that source's rows only.
type EntryStore struct {
	db *sql.DB
}

func NewEntryStore(db *sql.DB) *EntryStore {
	return &EntryStore{db: db}
}

// SaveEntries replaces every row of variant imported from source with
// entries, in one transaction.
func SaveEntries[D model.Fields[D, P], P any](ctx context.Context, s *EntryStore, variant model.Variant, source string, entries []model.Entry[D, P]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schedule_entries WHERE variant = ? AND source = ?`,
		string(variant), source,
	); err != nil {
		return fmt.Errorf("clear %s entries of %s: %w", variant, source, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_entries (variant, id, source, payload, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (variant, id) DO UPDATE
			 SET source = excluded.source, payload = excluded.payload, updated_at = excluded.updated_at`,
			string(variant), e.ID, source, string(payload), now,
		); err != nil {
			return fmt.Errorf("upsert entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEntries returns every stored entry of variant, ordered by id.
func ListEntries[D model.Fields[D, P], P any](ctx context.Context, s *EntryStore, variant model.Variant) ([]model.Entry[D, P], error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM schedule_entries WHERE variant = ? ORDER BY id`,
		string(variant),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s entries: %w", variant, err)
	}
	defer rows.Close()

	var entries []model.Entry[D, P]
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var e model.Entry[D, P]
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteEntry removes one entry and reports whether it existed.
func (s *EntryStore) DeleteEntry(ctx context.Context, variant model.Variant, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedule_entries WHERE variant = ? AND id = ?`,
		string(variant), id,
	)
	if err != nil {
		return false, fmt.Errorf("delete entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of stored entries of variant.
func (s *EntryStore) Count(ctx context.Context, variant model.Variant) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedule_entries WHERE variant = ?`,
		string(variant),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s entries: %w", variant, err)
	}
	return n, nil
}
