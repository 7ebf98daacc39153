package queue_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/codeprobe/internal/queue"
)

func TestCreateGenerateJob(t *testing.T) {
	job := queue.CreateGenerateJob("go", "batch-42")

	if job.ID == uuid.Nil {
		t.Error("ID should be assigned")
	}
	if job.Language != "go" {
		t.Errorf("Language = %q; want go", job.Language)
	}
	if job.Seed != "batch-42" {
		t.Errorf("Seed = %q; want batch-42", job.Seed)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestCreateGenerateJobUniqueIDs(t *testing.T) {
	a := queue.CreateGenerateJob("go", "")
	b := queue.CreateGenerateJob("go", "")
	if a.ID == b.ID {
		t.Error("two jobs share an ID")
	}
}
