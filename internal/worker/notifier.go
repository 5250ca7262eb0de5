// Package worker forwards committed domain events from the job queue to the external notifier.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/aura-stream/backend/internal/events"
	"github.com/aura-stream/backend/pkg/queue"
)

const dequeueTimeout = 5 * time.Second

// JobQueue is the part of *queue.Queue the notifier consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, key string, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, key string, job *queue.Job) error
}

// NotifierConfig configures delivery. Zero values pick the defaults.
type NotifierConfig struct {
	URL             string // empty = events are logged and dropped
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

// Notifier posts each event as JSON to a single endpoint. Consecutive delivery
// failures open a circuit breaker; while open, jobs fail fast and are retried later.
type Notifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	queue   JobQueue
	logger  *zap.Logger
	backoff time.Duration
}

// NewNotifier creates a notifier that consumes q.
func NewNotifier(cfg NotifierConfig, q JobQueue, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notifier",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Notifier{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		queue:   q,
		logger:  logger,
		backoff: queue.RetryBackoff,
	}
}

// Process delivers one event job. Non-2xx responses are errors so the job is retried.
func (n *Notifier) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEvent {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var e events.Event
	if err := json.Unmarshal(job.Payload, &e); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if n.url == "" {
		n.logger.Info("event dropped, no notifier configured", zap.String("type", string(e.Type)), zap.String("stream_id", e.StreamID.String()))
		return nil
	}

	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.post(ctx, job, e.Type)
	})
	if err != nil {
		return err
	}
	n.logger.Debug("event delivered", zap.String("job_id", job.ID), zap.String("type", string(e.Type)))
	return nil
}

func (n *Notifier) post(ctx context.Context, job *queue.Job, t events.Type) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(job.Payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(t))
	req.Header.Set("X-Event-ID", job.ID)
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notifier status: %d", resp.StatusCode)
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notifier stopping")
			return
		default:
		}

		job, err := n.queue.Dequeue(ctx, queue.QueueEvents, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			n.logger.Warn("dequeue error", zap.Error(err))
			n.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		if err := n.Process(ctx, job); err != nil {
			n.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := n.queue.Retry(ctx, queue.QueueEvents, job); reErr != nil {
				n.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			n.sleep(ctx)
		}
	}
}

func (n *Notifier) sleep(ctx context.Context) {
	t := time.NewTimer(n.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
