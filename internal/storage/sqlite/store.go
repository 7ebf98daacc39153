package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/storage"
)

// Store implements storage.Store backed by SQLite.
type Store struct {
	db *DB
}

// NewStore creates a SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

const puzzleColumns = `id, owner, repo, default_branch, license_url, path, content,
	file_language, file_size, commit_sha, question, answer_key,
	explanation, rubric, category, language, created_at, updated_at`

// UpsertPuzzle inserts or replaces the puzzle keyed by its identity.
// A second write for the same identity updates in place; the record
// count for the identity stays one.
func (s *Store) UpsertPuzzle(ctx context.Context, p *domain.Puzzle) error {
	answerKey, err := json.Marshal(p.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO puzzles (`+puzzleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, question=excluded.question,
			answer_key=excluded.answer_key, explanation=excluded.explanation,
			rubric=excluded.rubric, updated_at=excluded.updated_at`,
		p.ID, p.Source.Owner, p.Source.Repo, p.Source.DefaultBranch, p.Source.LicenseURL,
		p.File.Path, p.File.Content, p.File.Language, p.File.Size,
		p.Commit, p.Question, string(answerKey),
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
	row := s.db.QueryRowContext(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles WHERE id = ?`, id)
	return scanPuzzle(row)
}

// GetRandomPuzzle samples one puzzle uniformly, optionally filtered.
func (s *Store) GetRandomPuzzle(ctx context.Context, language, category string) (*domain.Puzzle, error) {
	where, args := puzzleFilter(language, category)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles`+where+` ORDER BY RANDOM() LIMIT 1`, args...)
	return scanPuzzle(row)
}

// ListPuzzles pages through puzzles, newest first.
func (s *Store) ListPuzzles(ctx context.Context, language, category string, limit, offset int) ([]*domain.Puzzle, error) {
	where, args := puzzleFilter(language, category)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles`+where+` ORDER BY updated_at DESC LIMIT ? OFFSET ?`, args...)
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
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM puzzles").Scan(&n)
	return n, err
}

// DeletePuzzle removes a puzzle by identity.
func (s *Store) DeletePuzzle(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM puzzles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete puzzle: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrPuzzleNotFound
	}
	return nil
}

// SaveReport stores one learner complaint about a puzzle. Reports
// outlive the puzzle record they point at.
func (s *Store) SaveReport(ctx context.Context, r *domain.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, puzzle_id, reason, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.PuzzleID, r.Reason, r.Detail, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPuzzle(row rowScanner) (*domain.Puzzle, error) {
	var p domain.Puzzle
	var answerKey string

	err := row.Scan(
		&p.ID, &p.Source.Owner, &p.Source.Repo, &p.Source.DefaultBranch, &p.Source.LicenseURL,
		&p.File.Path, &p.File.Content, &p.File.Language, &p.File.Size,
		&p.Commit, &p.Question, &answerKey,
		&p.Explanation, &p.Rubric, &p.Category, &p.Language,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPuzzleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan puzzle: %w", err)
	}

	if err := json.Unmarshal([]byte(answerKey), &p.Answer); err != nil {
		return nil, fmt.Errorf("unmarshal answer key: %w", err)
	}
	return &p, nil
}

func puzzleFilter(language, category string) (string, []any) {
	var conds []string
	var args []any
	if language != "" {
		conds = append(conds, "language = ?")
		args = append(args, language)
	}
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

var _ storage.Store = (*Store)(nil)
