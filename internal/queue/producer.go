package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Producer publishes generation jobs to the queue.
type Producer struct {
	conn *Connection
}

// NewProducer creates a new queue producer.
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// PublishGenerateJob publishes a generation job to the queue.
func (p *Producer) PublishGenerateJob(ctx context.Context, job *GenerateJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, GenerateQueueName, job); err != nil {
		return fmt.Errorf("failed to publish generate job: %w", err)
	}

	slog.Info("published generate job",
		"job_id", job.ID,
		"language", job.Language,
		"seed", job.Seed,
	)

	return nil
}

// PublishResult publishes a generation result to the results queue.
func (p *Producer) PublishResult(ctx context.Context, result *GenerateResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, ResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish generate result: %w", err)
	}

	slog.Info("published generate result",
		"job_id", result.JobID,
		"status", result.Status,
		"puzzle_id", result.PuzzleID,
		"duration", result.Duration,
	)

	return nil
}

// CreateGenerateJob creates a new generation job for a language.
func CreateGenerateJob(language, seed string) *GenerateJob {
	return &GenerateJob{
		ID:        uuid.New(),
		Language:  language,
		Seed:      seed,
		CreatedAt: time.Now(),
	}
}
