// Package records holds the client data the intake conversation reads and
// edits, plus the catalogue of field groups that drives the question list.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrUnknownField   = errors.New("unknown field")
)

// Client is one individual or company record.
type Client struct {
	ID        string            `json:"client_id"`
	Reference string            `json:"reference"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
}

// Store keeps client records in SQLite, one row per (client, field).
type Store struct {
	DB *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the pure-Go driver serialises anyway.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			client_id TEXT NOT NULL,
			reference TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (client_id, reference)
		);`,
		`CREATE TABLE IF NOT EXISTS client_fields (
			client_id TEXT NOT NULL,
			reference TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT,
			PRIMARY KEY (client_id, reference, field)
		);`,
		`CREATE TABLE IF NOT EXISTS client_associations (
			main_client_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			reference TEXT NOT NULL,
			association_type TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (main_client_id, client_id, reference)
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate records db: %w", err)
		}
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Get returns the client with all stored fields.
func (s *Store) Get(ctx context.Context, clientID, reference string) (*Client, error) {
	ref, err := NormalizeReference(reference)
	if err != nil {
		return nil, err
	}
	var updated int64
	err = s.DB.QueryRowContext(ctx,
		`SELECT updated_at FROM clients WHERE client_id = ? AND reference = ?`, clientID, ref).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", ref, clientID, ErrClientNotFound)
	}
	if err != nil {
		return nil, err
	}

	fields, err := s.fields(ctx, clientID, ref)
	if err != nil {
		return nil, err
	}
	return &Client{ID: clientID, Reference: ref, Fields: fields, UpdatedAt: time.Unix(updated, 0).UTC()}, nil
}

// Fields returns the requested fields of a client; fields never stored come
// back as empty strings so the caller can tell what is still missing.
func (s *Store) Fields(ctx context.Context, clientID, reference string, names []string) (map[string]string, error) {
	c, err := s.Get(ctx, clientID, reference)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = c.Fields[n]
	}
	return out, nil
}

func (s *Store) fields(ctx context.Context, clientID, ref string) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT field, value FROM client_fields WHERE client_id = ? AND reference = ?`, clientID, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field string
		var value sql.NullString
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = value.String
	}
	return out, rows.Err()
}

// Update writes the given fields, creating the client when it does not yet
// exist. Every field must belong to the catalogue for the reference kind.
// It returns the sorted names of the fields written.
func (s *Store) Update(ctx context.Context, clientID, reference string, updates map[string]string) ([]string, error) {
	ref, err := NormalizeReference(reference)
	if err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, errors.New("client_id is required")
	}
	names := make([]string, 0, len(updates))
	for f := range updates {
		if !KnownField(ref, f) {
			return nil, fmt.Errorf("%s: %w", f, ErrUnknownField)
		}
		names = append(names, f)
	}
	sort.Strings(names)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO clients (client_id, reference, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(client_id, reference) DO UPDATE SET updated_at = excluded.updated_at`,
		clientID, ref, time.Now().Unix()); err != nil {
		return nil, err
	}
	for _, f := range names {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO client_fields (client_id, reference, field, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT(client_id, reference, field) DO UPDATE SET value = excluded.value`,
			clientID, ref, f, updates[f]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return names, nil
}

type seedClient struct {
	Client
	Associations []Association `json:"associations,omitempty"`
}

// Seed loads client records, and any associations listed under each main
// client, from a JSON array file.
func (s *Store) Seed(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	var clients []seedClient
	if err := json.Unmarshal(raw, &clients); err != nil {
		return 0, fmt.Errorf("failed to decode seed file: %w", err)
	}
	for _, c := range clients {
		if c.Fields == nil {
			c.Fields = map[string]string{}
		}
		if _, err := s.Update(ctx, c.ID, c.Reference, c.Fields); err != nil {
			return 0, fmt.Errorf("seed client %s: %w", c.ID, err)
		}
	}
	for _, c := range clients {
		for _, a := range c.Associations {
			a.MainClientID = c.ID
			if err := s.Associate(ctx, a); err != nil {
				return 0, fmt.Errorf("seed associations of %s: %w", c.ID, err)
			}
		}
	}
	return len(clients), nil
}
