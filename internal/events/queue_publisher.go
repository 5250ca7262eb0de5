package events

import (
	"context"
	"fmt"

	"github.com/aura-stream/backend/pkg/queue"
)

// QueuePublisher enqueues events on the Redis job queue for the notifier worker.
type QueuePublisher struct {
	queue *queue.Queue
}

// NewQueuePublisher creates a publisher backed by q.
func NewQueuePublisher(q *queue.Queue) *QueuePublisher {
	return &QueuePublisher{queue: q}
}

func (p *QueuePublisher) Publish(ctx context.Context, e Event) error {
	if _, err := p.queue.Enqueue(ctx, queue.QueueEvents, queue.JobTypeEvent, e); err != nil {
		return fmt.Errorf("enqueue %s: %w", e.Type, err)
	}
	return nil
}
