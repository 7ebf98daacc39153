// Package postgres is the server-mode puzzle store, selected when the
// daemon is configured with a postgres DATABASE_URL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against url and ensures the schema exists.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the puzzle and report tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS puzzles (
			id             TEXT PRIMARY KEY,
			owner          TEXT NOT NULL,
			repo           TEXT NOT NULL,
			default_branch TEXT NOT NULL DEFAULT '',
			license_url    TEXT NOT NULL DEFAULT '',
			path           TEXT NOT NULL,
			content        TEXT NOT NULL,
			file_language  TEXT NOT NULL,
			file_size      INTEGER NOT NULL,
			commit_sha     TEXT NOT NULL,
			question       TEXT NOT NULL,
			answer_key     JSONB NOT NULL,
			explanation    TEXT NOT NULL DEFAULT '',
			rubric         TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL,
			language       TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_puzzles_language ON puzzles(language);
		CREATE INDEX IF NOT EXISTS idx_puzzles_category ON puzzles(category);
		CREATE TABLE IF NOT EXISTS reports (
			id         TEXT PRIMARY KEY,
			puzzle_id  TEXT NOT NULL,
			reason     TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reports_puzzle ON reports(puzzle_id)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const puzzleColumns = `id, owner, repo, default_branch, license_url, path, content,
	file_language, file_size, commit_sha, question, answer_key,
	explanation, rubric, category, language, created_at, updated_at`

// UpsertPuzzle inserts or replaces the puzzle keyed by its identity.
func (s *Store) UpsertPuzzle(ctx context.Context, p *domain.Puzzle) error {
	answerKey, err := json.Marshal(p.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO puzzles (`+puzzleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			content=EXCLUDED.content, question=EXCLUDED.question,
			answer_key=EXCLUDED.answer_key, explanation=EXCLUDED.explanation,
			rubric=EXCLUDED.rubric, updated_at=EXCLUDED.updated_at`,
		p.ID, p.Source.Owner, p.Source.Repo, p.Source.DefaultBranch, p.Source.LicenseURL,
		p.File.Path, p.File.Content, p.File.Language, p.File.Size,
		p.Commit, p.Question, answerKey,
		p.Explanation, p.Rubric, p.Category, p.Language,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert puzzle: %w", err)
	}
	return nil
}

// GetPuzzle retrieves a puzzle by its identity key.
func (s *Store) GetPuzzle(ctx context.Context, id string) (*domain.Puzzle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles WHERE id = $1`, id)
	return scanPuzzle(row)
}

// GetRandomPuzzle samples one puzzle, optionally filtered.
func (s *Store) GetRandomPuzzle(ctx context.Context, language, category string) (*domain.Puzzle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+puzzleColumns+` FROM puzzles
		WHERE ($1 = '' OR language = $1) AND ($2 = '' OR category = $2)
		ORDER BY random() LIMIT 1`, language, category)
	return scanPuzzle(row)
}

// ListPuzzles pages through puzzles, newest first.
func (s *Store) ListPuzzles(ctx context.Context, language, category string, limit, offset int) ([]*domain.Puzzle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+puzzleColumns+` FROM puzzles
		WHERE ($1 = '' OR language = $1) AND ($2 = '' OR category = $2)
		ORDER BY updated_at DESC LIMIT $3 OFFSET $4`, language, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list puzzles: %w", err)
	}
	defer rows.Close()

	var puzzles []*domain.Puzzle
	for rows.Next() {
		p, err := scanPuzzle(rows)
		if err != nil {
			return nil, err
		}
		puzzles = append(puzzles, p)
	}
	return puzzles, rows.Err()
}

// CountPuzzles returns the number of stored puzzles.
func (s *Store) CountPuzzles(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM puzzles").Scan(&n)
	return n, err
}

// DeletePuzzle removes a puzzle by identity.
func (s *Store) DeletePuzzle(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM puzzles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete puzzle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPuzzleNotFound
	}
	return nil
}

// SaveReport stores one learner complaint about a puzzle.
func (s *Store) SaveReport(ctx context.Context, r *domain.Report) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (id, puzzle_id, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.PuzzleID, r.Reason, r.Detail, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPuzzle(row rowScanner) (*domain.Puzzle, error) {
	var p domain.Puzzle
	var answerKey []byte

	err := row.Scan(
		&p.ID, &p.Source.Owner, &p.Source.Repo, &p.Source.DefaultBranch, &p.Source.LicenseURL,
		&p.File.Path, &p.File.Content, &p.File.Language, &p.File.Size,
		&p.Commit, &p.Question, &answerKey,
		&p.Explanation, &p.Rubric, &p.Category, &p.Language,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPuzzleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan puzzle: %w", err)
	}

	if err := json.Unmarshal(answerKey, &p.Answer); err != nil {
		return nil, fmt.Errorf("unmarshal answer key: %w", err)
	}
	return &p, nil
}

var _ storage.Store = (*Store)(nil)
