package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/repairflow/internal/work"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client queues customer notifications. It implements work.Notifier.
type Client struct {
	enq   enqueuer
	queue string
}

var _ work.Notifier = (*Client)(nil)

// NewClient connects to Redis. Notifications go to queue, or QueueNotifications when empty.
func NewClient(redisOpts asynq.RedisClientOpt, queue string) *Client {
	return newClient(asynq.NewClient(redisOpts), queue)
}

func newClient(e enqueuer, queue string) *Client {
	if queue == "" {
		queue = QueueNotifications
	}
	return &Client{enq: e, queue: queue}
}

// notificationID keys a notification so each order gets each kind at most once.
func notificationID(n work.Notification) string {
	return string(n.Kind) + ":" + n.OrderUUID
}

// Notify enqueues n. A duplicate of an already queued notification is dropped silently.
func (c *Client) Notify(ctx context.Context, n work.Notification) error {
	task, err := NewNotificationTask(n)
	if err != nil {
		return err
	}
	_, err = c.enq.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(5),
		asynq.TaskID(notificationID(n)),
	)
	switch {
	case err == nil, errors.Is(err, asynq.ErrTaskIDConflict):
		return nil
	default:
		return fmt.Errorf("enqueue %s for order %s: %w", task.Type(), n.OrderUUID, err)
	}
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.enq.Close()
}
