//go:build integration

package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/queue"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get AMQP URL: %v", err)
	}

	cleanup := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return amqpURL, cleanup
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}

	if err := conn.Close(); err != nil {
		t.Errorf("failed to close connection: %v", err)
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	_, err := queue.NewConnection("amqp://invalid:5672")
	if err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_JobRoundTrip(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	var mu sync.Mutex
	var handled []string

	handler := func(_ context.Context, job *queue.GenerateJob) (*queue.GenerateResult, error) {
		mu.Lock()
		handled = append(handled, job.Language)
		mu.Unlock()
		return &queue.GenerateResult{
			Status:   queue.StatusCompleted,
			PuzzleID: "octocat|hello|a.go|abc123",
		}, nil
	}

	consumer := queue.NewConsumer(conn, handler, queue.DefaultConsumerConfig())
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("failed to start consumer: %v", err)
	}
	defer consumer.Stop()

	producer := queue.NewProducer(conn)
	job := queue.CreateGenerateJob("go", "seed-1")
	if err := producer.PublishGenerateJob(context.Background(), job); err != nil {
		t.Fatalf("failed to publish job: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		mu.Lock()
		n := len(handled)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job was not handled within 10s")
		case <-time.After(100 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if handled[0] != "go" {
		t.Errorf("handled language = %q; want go", handled[0])
	}
}

func TestIntegration_ResultDeliveredToSubscriber(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	results := queue.NewResultConsumer(conn)
	if err := results.Start(context.Background()); err != nil {
		t.Fatalf("failed to start result consumer: %v", err)
	}
	defer results.Stop()

	job := queue.CreateGenerateJob("go", "")
	got := make(chan *queue.GenerateResult, 1)
	results.Subscribe(job.ID.String(), func(r *queue.GenerateResult) {
		got <- r
	})
	defer results.Unsubscribe(job.ID.String())

	producer := queue.NewProducer(conn)
	if err := producer.PublishResult(context.Background(), &queue.GenerateResult{
		JobID:  job.ID,
		Status: queue.StatusCompleted,
	}); err != nil {
		t.Fatalf("failed to publish result: %v", err)
	}

	select {
	case r := <-got:
		if r.Status != queue.StatusCompleted {
			t.Errorf("Status = %q; want %q", r.Status, queue.StatusCompleted)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("result was not delivered within 10s")
	}
}

func TestIntegration_RateLimitedJobRequeued(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	var mu sync.Mutex
	attempts := 0

	handler := func(_ context.Context, _ *queue.GenerateJob) (*queue.GenerateResult, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, domain.ErrRateLimited
		}
		return &queue.GenerateResult{Status: queue.StatusCompleted}, nil
	}

	cfg := queue.DefaultConsumerConfig()
	cfg.Workers = 1
	cfg.Cooldown = 500 * time.Millisecond
	consumer := queue.NewConsumer(conn, handler, cfg)
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("failed to start consumer: %v", err)
	}
	defer consumer.Stop()

	producer := queue.NewProducer(conn)
	if err := producer.PublishGenerateJob(context.Background(), queue.CreateGenerateJob("go", "")); err != nil {
		t.Fatalf("failed to publish job: %v", err)
	}

	deadline := time.After(15 * time.Second)
	for {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 2 {
			return // requeued delivery reached the handler again
		}
		select {
		case <-deadline:
			t.Fatalf("attempts = %d; want 2 (rate-limited job must be redelivered)", n)
		case <-time.After(200 * time.Millisecond):
		}
	}
}
