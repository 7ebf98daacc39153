// Package storage defines the persistence contract shared by the
// sqlite and postgres backends.
package storage

import (
	"context"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
)

// Store persists puzzles and reports. Puzzle writes are idempotent on
// the identity key: inserting the same identity twice upserts in place
// and never errors.
type Store interface {
	UpsertPuzzle(ctx context.Context, p *domain.Puzzle) error

	// GetPuzzle returns domain.ErrPuzzleNotFound for an unknown id.
	GetPuzzle(ctx context.Context, id string) (*domain.Puzzle, error)

	// GetRandomPuzzle samples one stored puzzle, optionally filtered by
	// language and category. Empty filters match everything.
	GetRandomPuzzle(ctx context.Context, language, category string) (*domain.Puzzle, error)

	// ListPuzzles pages through stored puzzles, newest first.
	ListPuzzles(ctx context.Context, language, category string, limit, offset int) ([]*domain.Puzzle, error)

	CountPuzzles(ctx context.Context) (int, error)

	DeletePuzzle(ctx context.Context, id string) error

	SaveReport(ctx context.Context, r *domain.Report) error

	Close() error
}
