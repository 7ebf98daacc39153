package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func samplePuzzle(path string) *domain.Puzzle {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Puzzle{
		ID: domain.IdentityKey("octocat", "hello", path, "abc123"),
		Source: domain.Source{
			Owner:         "octocat",
			Repo:          "hello",
			DefaultBranch: "main",
		},
		File: domain.File{
			Path:     path,
			Content:  "package main\n\nfunc main() {}\n",
			Language: "go",
			Size:     30,
		},
		Commit:   "abc123",
		Question: "What does main do?",
		Answer: domain.AnswerKey{
			StartLine: 3,
			EndLine:   3,
			TaskType:  domain.TaskTraceValue,
			Answer:    "nothing",
			Choices:   []string{"nothing", "prints"},
		},
		Explanation: "main has an empty body",
		Rubric:      "Correct answer: nothing. Grade by exact match or rubric in explanation.",
		Category:    "go",
		Language:    "go",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestUpsertAndGetPuzzle(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	p := samplePuzzle("cmd/main.go")

	if err := s.UpsertPuzzle(ctx, p); err != nil {
		t.Fatalf("UpsertPuzzle() error = %v", err)
	}

	got, err := s.GetPuzzle(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPuzzle() error = %v", err)
	}
	if got.Question != p.Question {
		t.Errorf("Question = %q; want %q", got.Question, p.Question)
	}
	if got.Answer.StartLine != 3 || got.Answer.EndLine != 3 {
		t.Errorf("span = [%d, %d]; want [3, 3]", got.Answer.StartLine, got.Answer.EndLine)
	}
	if len(got.Answer.Choices) != 2 {
		t.Errorf("Choices = %v; want 2 options round-tripped", got.Answer.Choices)
	}
	if got.Source.Owner != "octocat" || got.File.Path != "cmd/main.go" {
		t.Errorf("source = %+v file = %+v", got.Source, got.File)
	}
}

func TestUpsertPuzzleIdempotent(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	p := samplePuzzle("cmd/main.go")

	if err := s.UpsertPuzzle(ctx, p); err != nil {
		t.Fatalf("first UpsertPuzzle() error = %v", err)
	}

	p2 := samplePuzzle("cmd/main.go")
	p2.Question = "Updated question?"
	p2.UpdatedAt = p2.UpdatedAt.Add(time.Hour)
	if err := s.UpsertPuzzle(ctx, p2); err != nil {
		t.Fatalf("second UpsertPuzzle() error = %v", err)
	}

	n, err := s.CountPuzzles(ctx)
	if err != nil {
		t.Fatalf("CountPuzzles() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountPuzzles() = %d; want 1 (second insert upserts in place)", n)
	}

	got, err := s.GetPuzzle(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPuzzle() error = %v", err)
	}
	if got.Question != "Updated question?" {
		t.Errorf("Question = %q; want the updated text", got.Question)
	}
}

func TestGetPuzzleNotFound(t *testing.T) {
	s := NewStore(openTestDB(t))

	_, err := s.GetPuzzle(context.Background(), "no|such|puzzle|here")
	if !errors.Is(err, domain.ErrPuzzleNotFound) {
		t.Errorf("GetPuzzle() error = %v; want ErrPuzzleNotFound", err)
	}
}

func TestGetRandomPuzzle(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	goPuzzle := samplePuzzle("a.go")
	pyPuzzle := samplePuzzle("b.py")
	pyPuzzle.Language = "python"
	pyPuzzle.Category = "python"
	for _, p := range []*domain.Puzzle{goPuzzle, pyPuzzle} {
		if err := s.UpsertPuzzle(ctx, p); err != nil {
			t.Fatalf("UpsertPuzzle() error = %v", err)
		}
	}

	got, err := s.GetRandomPuzzle(ctx, "python", "")
	if err != nil {
		t.Fatalf("GetRandomPuzzle() error = %v", err)
	}
	if got.Language != "python" {
		t.Errorf("Language = %q; want python", got.Language)
	}

	if _, err := s.GetRandomPuzzle(ctx, "rust", ""); !errors.Is(err, domain.ErrPuzzleNotFound) {
		t.Errorf("GetRandomPuzzle(rust) error = %v; want ErrPuzzleNotFound", err)
	}

	if _, err := s.GetRandomPuzzle(ctx, "", ""); err != nil {
		t.Errorf("GetRandomPuzzle() with no filter error = %v", err)
	}
}

func TestListPuzzles(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	for _, path := range []string{"a.go", "b.go", "c.go"} {
		if err := s.UpsertPuzzle(ctx, samplePuzzle(path)); err != nil {
			t.Fatalf("UpsertPuzzle(%s) error = %v", path, err)
		}
	}

	got, err := s.ListPuzzles(ctx, "go", "", 2, 0)
	if err != nil {
		t.Fatalf("ListPuzzles() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d; want 2 (limit applied)", len(got))
	}

	rest, err := s.ListPuzzles(ctx, "go", "", 10, 2)
	if err != nil {
		t.Fatalf("ListPuzzles() offset error = %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("len = %d; want 1 (offset applied)", len(rest))
	}
}

func TestDeletePuzzle(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	p := samplePuzzle("a.go")

	if err := s.UpsertPuzzle(ctx, p); err != nil {
		t.Fatalf("UpsertPuzzle() error = %v", err)
	}
	if err := s.DeletePuzzle(ctx, p.ID); err != nil {
		t.Fatalf("DeletePuzzle() error = %v", err)
	}
	if _, err := s.GetPuzzle(ctx, p.ID); !errors.Is(err, domain.ErrPuzzleNotFound) {
		t.Errorf("GetPuzzle() after delete error = %v; want ErrPuzzleNotFound", err)
	}
	if err := s.DeletePuzzle(ctx, p.ID); !errors.Is(err, domain.ErrPuzzleNotFound) {
		t.Errorf("second DeletePuzzle() error = %v; want ErrPuzzleNotFound", err)
	}
}

func TestSaveReport(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	r := &domain.Report{
		ID:        uuid.NewString(),
		PuzzleID:  "octocat|hello|a.go|abc123",
		Reason:    "wrong_answer",
		Detail:    "the expected span misses the return",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatalf("SaveReport() error = %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM reports WHERE puzzle_id = ?", r.PuzzleID).Scan(&n); err != nil {
		t.Fatalf("count reports: %v", err)
	}
	if n != 1 {
		t.Errorf("report count = %d; want 1", n)
	}
}
