package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
)

const repairPageSize = 50

// cmdRepair runs the review prompt over stored puzzles. Approved
// records are left untouched; corrected ones are upserted in place
// under the same identity.
func cmdRepair(args []string) error {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	language := fs.String("lang", "", "only repair puzzles in this language")
	limit := fs.Int("limit", 0, "stop after this many puzzles (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	env, err := setupBatch(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	var approved, corrected, malformed, failed int
	seen := 0

	for offset := 0; ; offset += repairPageSize {
		page, err := env.store.ListPuzzles(ctx, *language, "", repairPageSize, offset)
		if err != nil {
			return fmt.Errorf("list puzzles: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, p := range page {
			if *limit > 0 && seen >= *limit {
				break
			}
			seen++

			repaired, changed, err := env.generator.Repair(ctx, p)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrRateLimited):
					return fmt.Errorf("provider pool exhausted after %d puzzles: %w", seen-1, err)
				case errors.Is(err, domain.ErrMalformedOutput):
					slog.Warn("review produced no usable verdict", "id", p.ID)
					malformed++
				default:
					slog.Error("repair failed", "id", p.ID, "error", err)
					failed++
				}
				continue
			}

			if !changed {
				approved++
				continue
			}

			if err := env.store.UpsertPuzzle(ctx, repaired); err != nil {
				return fmt.Errorf("store repaired puzzle %s: %w", repaired.ID, err)
			}
			corrected++
			slog.Info("puzzle corrected", "id", repaired.ID)
		}

		if (*limit > 0 && seen >= *limit) || len(page) < repairPageSize {
			break
		}
	}

	fmt.Printf("Reviewed %d puzzles: %d approved, %d corrected, %d unreviewable, %d failed\n",
		seen, approved, corrected, malformed, failed)
	return nil
}
