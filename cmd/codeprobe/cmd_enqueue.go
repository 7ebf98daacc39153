package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/config"
	"github.com/felixgeelhaar/codeprobe/internal/queue"
)

// cmdEnqueue publishes generation jobs for the daemon's queue workers
// instead of running the pipeline in-process.
func cmdEnqueue(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	count := fs.Int("n", 10, "number of jobs to publish")
	language := fs.String("lang", "", "target language (random when empty)")
	seed := fs.String("seed", "", "seed prefix for reproducible selection")
	timeout := fs.Int("timeout", 0, "per-job timeout in seconds (0 = worker default)")
	wait := fs.Bool("wait", false, "wait for job results")
	waitFor := fs.Duration("wait-timeout", 10*time.Minute, "how long to wait for results")
	if err := fs.Parse(args); err != nil {
		return err
	}

	envCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load env config: %w", err)
	}
	if envCfg.RabbitMQURL == "" {
		return errors.New("RABBITMQ_URL is not set")
	}

	conn, err := queue.NewConnection(envCfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer conn.Close()

	ctx := context.Background()
	producer := queue.NewProducer(conn)

	var (
		results  *queue.ResultConsumer
		pending  sync.WaitGroup
		resultMu sync.Mutex
		outcomes = make(map[string]int)
	)
	if *wait {
		results = queue.NewResultConsumer(conn)
		if err := results.Start(ctx); err != nil {
			return fmt.Errorf("start result consumer: %w", err)
		}
		defer results.Stop()
	}

	for i := 0; i < *count; i++ {
		jobSeed := ""
		if *seed != "" {
			jobSeed = fmt.Sprintf("%s-%d", *seed, i)
		}
		job := queue.CreateGenerateJob(*language, jobSeed)
		job.Timeout = *timeout

		if *wait {
			pending.Add(1)
			results.Subscribe(job.ID.String(), func(result *queue.GenerateResult) {
				resultMu.Lock()
				outcomes[result.Status]++
				resultMu.Unlock()
				pending.Done()
			})
		}

		if err := producer.PublishGenerateJob(ctx, job); err != nil {
			return fmt.Errorf("publish job %d: %w", i, err)
		}
	}

	fmt.Printf("Published %d jobs to %s\n", *count, queue.GenerateQueueName)

	if !*wait {
		return nil
	}

	doneCh := make(chan struct{})
	go func() {
		pending.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(*waitFor):
		return fmt.Errorf("timed out waiting for results after %s", *waitFor)
	}

	resultMu.Lock()
	defer resultMu.Unlock()
	fmt.Printf("Results: %d completed, %d failed, %d timed out\n",
		outcomes[queue.StatusCompleted],
		outcomes[queue.StatusFailed],
		outcomes[queue.StatusTimeout])
	return nil
}
