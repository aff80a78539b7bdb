package generators

import (
	"context"
	"errors"
	"testing"
	"time"

	"AI-Adventure/server/internal/llm"
)

func TestImageQueueRunsJobs(t *testing.T) {
	q := NewImageQueue(2, 4)
	q.Start(context.Background())
	defer q.Stop()

	res, err := q.Submit(context.Background(), func(ctx context.Context) (*llm.ImageResult, error) {
		return &llm.ImageResult{URL: "done"}, nil
	})
	if err != nil || res.URL != "done" {
		t.Fatalf("Submit = %+v, %v", res, err)
	}

	_, err = q.Submit(context.Background(), func(ctx context.Context) (*llm.ImageResult, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected job error")
	}

	stats := q.Stats()
	if stats.Completed != 1 || stats.Failed != 1 || stats.Workers != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImageQueueRejectsWhenFull(t *testing.T) {
	q := NewImageQueue(1, 1)
	q.Start(context.Background())
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := func(ctx context.Context) (*llm.ImageResult, error) {
		close(started)
		<-release
		return &llm.ImageResult{URL: "a"}, nil
	}
	waiting := func(ctx context.Context) (*llm.ImageResult, error) {
		return &llm.ImageResult{URL: "b"}, nil
	}

	go func() { _, _ = q.Submit(context.Background(), blocking) }()
	<-started
	go func() { _, _ = q.Submit(context.Background(), waiting) }()

	deadline := time.Now().Add(time.Second)
	for q.Stats().Queued != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := q.Submit(context.Background(), waiting); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	close(release)
}

func TestImageQueueStopFailsWaiting(t *testing.T) {
	q := NewImageQueue(1, 1)
	q.Stop()

	_, err := q.Submit(context.Background(), func(ctx context.Context) (*llm.ImageResult, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrQueueStopped) {
		t.Fatalf("err = %v, want ErrQueueStopped", err)
	}
}

func TestImageQueueHonorsCallerContext(t *testing.T) {
	q := NewImageQueue(1, 1)
	q.Start(context.Background())
	defer q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Submit(ctx, func(ctx context.Context) (*llm.ImageResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
