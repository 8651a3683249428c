package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/intake/internal/workflow"
)

// SQLiteStore keeps one row per user run plus an append-only message log.
type SQLiteStore struct {
	DB    *sql.DB
	clock clockwork.Clock
}

type SQLiteOption func(*SQLiteStore)

func WithSQLiteClock(c clockwork.Clock) SQLiteOption {
	return func(s *SQLiteStore) {
		s.clock = c
	}
}

func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			user_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			questions TEXT NOT NULL,
			progress TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages (user_id, id);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate store db: %w", err)
		}
	}

	s := &SQLiteStore{DB: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func (s *SQLiteStore) IsNotFound(err error) bool {
	return IsNotFound(err)
}

func (s *SQLiteStore) LoadProgress(ctx context.Context, userID string) (*workflow.Progress, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT progress FROM runs WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	var p workflow.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) LoadQuestions(ctx context.Context, userID string) (*workflow.QuestionSet, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT questions FROM runs WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	var set workflow.QuestionSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question set: %w", err)
	}
	return &set, nil
}

// CreateRun inserts the question set and the initial record in one row.
// It fails with workflow.ErrRunExists if the user already has a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, set *workflow.QuestionSet, p *workflow.Progress) error {
	if set == nil || p == nil || p.UserID == "" || set.UserID != p.UserID {
		return errors.New("create run: question set and progress must name the same user")
	}
	qs, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal question set: %w", err)
	}
	pr, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (user_id, run_id, questions, progress, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		p.UserID, p.RunID, string(qs), string(pr), s.clock.Now().Unix())
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("create run: %w", workflow.ErrRunExists)
	}
	return nil
}

func (s *SQLiteStore) SaveProgress(ctx context.Context, p *workflow.Progress) error {
	if p == nil || p.UserID == "" {
		return errors.New("save progress: user id is required")
	}
	pr, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET progress = ?, updated_at = ? WHERE user_id = ?`,
		string(pr), s.clock.Now().Unix(), p.UserID)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, userID, role, content string) error {
	query := `INSERT INTO messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query, userID, role, content, s.clock.Now().Unix())
	return err
}

// GetHistory returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) GetHistory(ctx context.Context, userID string, limit int) ([]llms.MessageContent, error) {
	query := `SELECT role, content FROM messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		history = append(history, toMessageContent(role, content))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func (s *SQLiteStore) ClearMemory(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID)
	return err
}

// PruneMessages deletes messages written before cutoff.
func (s *SQLiteStore) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
