package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/puzzle"
)

// cmdSeed generates puzzles in-process and stores them. The rotation
// pool absorbs rate limits; a run only aborts when every provider in
// the pool stays exhausted through its cooldown passes.
func cmdSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	count := fs.Int("n", 10, "number of puzzles to generate")
	language := fs.String("lang", "", "target language (random when empty)")
	seed := fs.String("seed", "", "seed prefix for reproducible selection")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	env, err := setupBatch(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	generated := 0
	failed := 0
	// A candidate walk can legitimately come up empty; give each
	// requested puzzle a few tries before counting it lost.
	maxAttempts := *count * 3

	for attempt := 0; generated < *count && attempt < maxAttempts; attempt++ {
		req := puzzle.Request{Language: *language}
		if *seed != "" {
			req.Seed = fmt.Sprintf("%s-%d", *seed, attempt)
		}

		p, err := env.generator.Generate(ctx, req)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrRateLimited):
				// The pool already rotated and cooled down; nothing
				// left to wait for in this run.
				return fmt.Errorf("provider pool exhausted after %d puzzles: %w", generated, err)
			case errors.Is(err, domain.ErrNoPuzzleProduced):
				slog.Warn("generation budget exhausted, retrying with a fresh walk", "attempt", attempt)
				failed++
				continue
			default:
				slog.Error("generation failed", "attempt", attempt, "error", err)
				failed++
				continue
			}
		}

		if err := env.store.UpsertPuzzle(ctx, p); err != nil {
			return fmt.Errorf("store puzzle %s: %w", p.ID, err)
		}
		generated++
		slog.Info("puzzle stored",
			"id", p.ID,
			"language", p.Language,
			"progress", fmt.Sprintf("%d/%d", generated, *count),
		)
	}

	fmt.Printf("Seeded %d puzzles (%d failed attempts)\n", generated, failed)
	if generated < *count {
		return fmt.Errorf("only %d of %d puzzles generated", generated, *count)
	}
	return nil
}
