package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// receiveConflictRetries bounds how often a Receive retries after losing
// a claim race to another worker before reporting an empty queue.
const receiveConflictRetries = 5

// storedTask is the internal structure persisted in Badger.
// Key layout:
//   - queue:{name}:msg:{id} holds the serialized task
//   - queue:{name}:index:{visibleAt %020d}:{id} orders tasks by visibility
//
// The zero-padded timestamp makes lexical key order equal visibility
// order, so Receive scans the index prefix and stops at the first future
// entry. Claiming re-indexes the task at now+visibilityTimeout; an acked
// task is deleted, an unacked one reappears when its new slot passes.
type storedTask struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// BadgerManager implements a persistent queue using BadgerDB
type BadgerManager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute // Default
	}
	if maxReceive <= 0 {
		maxReceive = 3 // Default
	}

	return &BadgerManager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a task to the queue in its own transaction
func (m *BadgerManager) Enqueue(ctx context.Context, task *models.QueueMessage) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return m.EnqueueTxn(txn, task)
	})
}

// EnqueueTxn adds a task inside an already-open transaction. Callers use
// this to commit an enqueue atomically with job counter updates: the task
// exists if and only if the counters moved.
func (m *BadgerManager) EnqueueTxn(txn *badger.Txn, task *models.QueueMessage) error {
	id := uuid.New().String()

	stored := storedTask{
		ID:           id,
		Body:         *task,
		EnqueuedAt:   time.Now(),
		VisibleAt:    time.Now(), // Immediately visible
		ReceiveCount: 0,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue task: %w", err)
	}

	if err := txn.Set(m.msgKey(id), data); err != nil {
		return err
	}
	return txn.Set(m.indexKey(stored.VisibleAt, id), []byte{})
}

// Receive pulls the next visible task from the queue. The returned ack
// function deletes the task; tasks past maxReceive deliveries are dropped
// as poison. Claim races with concurrent workers are retried a bounded
// number of times before reporting an empty queue.
func (m *BadgerManager) Receive(ctx context.Context) (*interfaces.ReceivedTask, func() error, error) {
	for attempt := 0; ; attempt++ {
		received, ack, err := m.receiveOnce(ctx)
		if err == nil {
			return received, ack, nil
		}
		if errors.Is(err, badger.ErrConflict) && attempt < receiveConflictRetries {
			continue
		}
		if errors.Is(err, badger.ErrConflict) {
			return nil, nil, models.ErrNoMessage
		}
		return nil, nil, err
	}
}

func (m *BadgerManager) receiveOnce(ctx context.Context) (*interfaces.ReceivedTask, func() error, error) {
	var claimed storedTask
	var msgID string
	var oldIndexKey []byte
	found := false

	err := m.db.Update(func(txn *badger.Txn) error {
		// Iterate over visibility index to find a ready task
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found = false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue // Skip invalid keys
			}

			if ts.After(now) {
				// Keys are sorted by timestamp; nothing further is ready
				break
			}

			itemMsg, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Index entry without data, clean up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var candidate storedTask
			if err := itemMsg.Value(func(val []byte) error {
				return json.Unmarshal(val, &candidate)
			}); err != nil {
				return err
			}

			// Drop poison tasks instead of redelivering forever
			if candidate.ReceiveCount >= m.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			claimed = candidate
			msgID = id
			oldIndexKey = key
			found = true
			break
		}

		if !found {
			// Return nil so the transaction commits: poison drops and
			// orphaned index entries cleaned up during the scan must not
			// roll back with an error return
			return nil
		}

		// Claim: bump receive count and push visibility out
		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(m.visibilityTimeout)

		newData, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(msgID), newData); err != nil {
			return err
		}

		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(m.indexKey(claimed.VisibleAt, msgID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, models.ErrNoMessage
	}

	received := &interfaces.ReceivedTask{
		ID:           msgID,
		ReceiveCount: claimed.ReceiveCount,
		Task:         claimed.Body,
	}

	ack := func() error {
		return m.delete(msgID)
	}

	return received, ack, nil
}

func (m *BadgerManager) delete(taskID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		msgKey := m.msgKey(taskID)
		item, err := txn.Get(msgKey)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already deleted
			}
			return err
		}

		var current storedTask
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		// The index key position follows the current visibility
		if err := txn.Delete(m.indexKey(current.VisibleAt, taskID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}

		return txn.Delete(msgKey)
	})
}

// Extend pushes out the visibility timeout for a claimed task, keeping it
// invisible while a slow fetch (browser render) finishes
func (m *BadgerManager) Extend(ctx context.Context, taskID string, duration time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		msgKey := m.msgKey(taskID)
		item, err := txn.Get(msgKey)
		if err != nil {
			return err
		}

		var stored storedTask
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		oldVisibleAt := stored.VisibleAt
		stored.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey, newData); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(oldVisibleAt, taskID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}

		return txn.Set(m.indexKey(stored.VisibleAt, taskID), []byte{})
	})
}

// Length returns the number of tasks currently in the queue, visible or
// claimed
func (m *BadgerManager) Length(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Purge removes all tasks from the queue
func (m *BadgerManager) Purge(ctx context.Context) error {
	prefix := []byte(fmt.Sprintf("queue:%s:", m.queueName))

	// Collect keys first; deleting during iteration invalidates the iterator
	var keys [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := m.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Close closes the queue manager (no-op, the DB is managed externally)
func (m *BadgerManager) Close() error {
	return nil
}

// Helpers

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerManager) indexKey(visibleAt time.Time, id string) []byte {
	ts := visibleAt.UnixNano()
	// Zero pad to 20 digits to ensure string sorting works like number sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, ts, id))
}

func (m *BadgerManager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", m.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	// Suffix is "{20-digit-ts}:{id}"

	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	_, err := fmt.Sscanf(tsStr, "%d", &ts)
	if err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
