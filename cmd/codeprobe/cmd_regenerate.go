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

// cmdRegenerate replaces stored puzzles with freshly generated ones in
// the same language. The old record is only deleted once a replacement
// is safely stored, so a failed run never shrinks the corpus.
func cmdRegenerate(args []string) error {
	fs := flag.NewFlagSet("regenerate", flag.ExitOnError)
	id := fs.String("id", "", "identity of a single puzzle to replace")
	language := fs.String("lang", "", "replace every puzzle in this language")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" && *language == "" {
		return errors.New("regenerate needs -id or -lang")
	}

	ctx := context.Background()
	env, err := setupBatch(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	var targets []*domain.Puzzle
	if *id != "" {
		p, err := env.store.GetPuzzle(ctx, *id)
		if err != nil {
			return fmt.Errorf("load puzzle %s: %w", *id, err)
		}
		targets = append(targets, p)
	} else {
		for offset := 0; ; offset += repairPageSize {
			page, err := env.store.ListPuzzles(ctx, *language, "", repairPageSize, offset)
			if err != nil {
				return fmt.Errorf("list puzzles: %w", err)
			}
			targets = append(targets, page...)
			if len(page) < repairPageSize {
				break
			}
		}
	}

	replaced := 0
	failed := 0
	for _, old := range targets {
		// Seeding with the old identity keeps the selection walk
		// reproducible per record without pinning the same file.
		fresh, err := env.generator.Generate(ctx, puzzle.Request{
			Language: old.Language,
			Seed:     old.ID,
		})
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return fmt.Errorf("provider pool exhausted after %d replacements: %w", replaced, err)
			}
			slog.Error("replacement generation failed, keeping original", "id", old.ID, "error", err)
			failed++
			continue
		}

		if err := env.store.UpsertPuzzle(ctx, fresh); err != nil {
			return fmt.Errorf("store replacement for %s: %w", old.ID, err)
		}
		if fresh.ID != old.ID {
			if err := env.store.DeletePuzzle(ctx, old.ID); err != nil && !errors.Is(err, domain.ErrPuzzleNotFound) {
				slog.Warn("failed to delete replaced puzzle", "id", old.ID, "error", err)
			}
		}
		replaced++
		slog.Info("puzzle replaced", "old", old.ID, "new", fresh.ID)
	}

	fmt.Printf("Replaced %d puzzles (%d failed)\n", replaced, failed)
	return nil
}
