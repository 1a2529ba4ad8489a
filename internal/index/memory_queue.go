package index

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a queueClient backed by an in-memory buffered channel.
type MemoryQueue struct {
	ch chan queueMessage
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan queueMessage, buffer)}
}

// ErrQueueFull reports that the in-memory buffer had no room. Projection is
// fire-and-forget, so a full buffer drops the update immediately instead of
// stalling the request path.
var ErrQueueFull = errors.New("index: memory queue full")

// Send enqueues a payload. It never blocks: a full buffer returns
// ErrQueueFull right away.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	msg := queueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds
// elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timer *time.Timer
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer = time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

// collect drains already-buffered messages up to the batch size.
func (q *MemoryQueue) collect(first queueMessage, maxMessages int) []queueMessage {
	batch := []queueMessage{first}
	for len(batch) < maxMessages {
		select {
		case msg := <-q.ch:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

// Delete is a no-op for the in-memory queue.
func (q *MemoryQueue) Delete(context.Context, string) error { return nil }

// Depth reports the number of buffered messages.
func (q *MemoryQueue) Depth() int { return len(q.ch) }
