package interfaces

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ternarybob/colligo/internal/models"
)

// ReceivedTask is one claimed queue task plus its delivery bookkeeping.
// ReceiveCount > 1 means the task is a redelivery and the worker's
// idempotence guards decide what still needs doing.
type ReceivedTask struct {
	ID           string
	ReceiveCount int
	Task         models.QueueMessage
}

// QueueManager manages one durable, at-least-once task queue backed by
// the shared Badger store. Claimed tasks become invisible for the
// visibility timeout and are redelivered unless acked.
type QueueManager interface {
	// Enqueue adds a task in its own transaction
	Enqueue(ctx context.Context, task *models.QueueMessage) error

	// EnqueueTxn adds a task inside an already-open transaction, so the
	// enqueue commits atomically with whatever else the transaction does
	EnqueueTxn(txn *badger.Txn, task *models.QueueMessage) error

	// Receive claims the next visible task. The returned ack function
	// deletes the task; an unacked task reappears after the visibility
	// timeout. Returns models.ErrNoMessage when the queue is empty.
	Receive(ctx context.Context) (*ReceivedTask, func() error, error)

	// Extend pushes out the visibility timeout for a claimed task,
	// used before slow browser fetches
	Extend(ctx context.Context, taskID string, duration time.Duration) error

	// Length returns the number of tasks currently in the queue
	Length(ctx context.Context) (int, error)

	// Purge removes all tasks
	Purge(ctx context.Context) error

	Close() error
}
