package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/xhad/verdikt/internal/models"
	"go.uber.org/zap"
)

// ErrNoMessage is returned by Receive when no message is visible yet.
var ErrNoMessage = errors.New("no message")

// message is the stored form of a queued job.
type message struct {
	ID           string               `json:"id"`
	Job          models.ProcessingJob `json:"job"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
	VisibleAt    time.Time            `json:"visible_at"`
	ReceiveCount int                  `json:"receive_count"`
}

// Delivery is a received job. The job stays invisible to other consumers
// until the visibility timeout expires or Ack removes it.
type Delivery struct {
	ID           string
	Job          models.ProcessingJob
	ReceiveCount int

	ack func() error
}

func (d *Delivery) Ack() error {
	return d.ack()
}

type QueueConfig struct {
	Name              string
	VisibilityTimeout time.Duration
	// MaxReceive drops a message delivered this many times without an ack.
	MaxReceive int
	// OnDrop is called with each job dropped for MaxReceive, after the drop
	// is committed. Optional.
	OnDrop func(job models.ProcessingJob, deliveries int)
	Logger *zap.Logger
}

// Queue is a durable job queue on top of BadgerDB.
//
// Message data lives at queue:{name}:msg:{id}; a visibility index at
// queue:{name}:index:{visibleAt}:{id} keeps messages ordered by the time
// they become receivable.
type Queue struct {
	db     *badger.DB
	config QueueConfig
	logger *zap.Logger
	ownsDB bool
}

func New(db *badger.DB, config QueueConfig) (*Queue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 10 * time.Minute
	}
	if config.MaxReceive <= 0 {
		config.MaxReceive = 3
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Queue{
		db:     db,
		config: config,
		logger: config.Logger,
	}, nil
}

// Open opens (or creates) the badger database at path and returns a queue
// that closes it on Close. An empty path keeps everything in memory.
func Open(path string, config QueueConfig) (*Queue, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	q, err := New(db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	q.ownsDB = true
	return q, nil
}

// Enqueue stores job so that it becomes receivable after delay.
func (q *Queue) Enqueue(ctx context.Context, job models.ProcessingJob, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	msg := message{
		ID:         uuid.New().String(),
		Job:        job,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(msg.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("job enqueued",
		zap.String("decision_id", job.DecisionID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay))
	return nil
}

// Receive claims the oldest visible message. It returns ErrNoMessage when
// nothing is ready.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		msg     message
		claimed bool
		dropped []message
	)
	err := q.db.Update(func(txn *badger.Txn) error {
		claimed = false
		dropped = dropped[:0]

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var claimedKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Index keys sort by visibility time.
			if ts.After(now) {
				break
			}

			item, err := txn.Get(q.msgKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			if msg.ReceiveCount >= q.config.MaxReceive {
				q.logger.Warn("dropping message after too many deliveries",
					zap.String("message_id", msg.ID),
					zap.String("decision_id", msg.Job.DecisionID),
					zap.Int("receive_count", msg.ReceiveCount))
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				dropped = append(dropped, msg)
				continue
			}

			claimedKey = key
			break
		}

		// Commit drops even when nothing is claimable.
		if claimedKey == nil {
			return nil
		}
		claimed = true

		msg.ReceiveCount++
		msg.VisibleAt = now.Add(q.config.VisibilityTimeout)

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msg.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(claimedKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
	if err != nil {
		return nil, err
	}

	if q.config.OnDrop != nil {
		for _, m := range dropped {
			q.config.OnDrop(m.Job, m.ReceiveCount)
		}
	}
	if !claimed {
		return nil, ErrNoMessage
	}

	id := msg.ID
	return &Delivery{
		ID:           id,
		Job:          msg.Job,
		ReceiveCount: msg.ReceiveCount,
		ack:          func() error { return q.delete(id) },
	}, nil
}

func (q *Queue) delete(id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var current message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(q.msgKey(id))
	})
}

// Len counts stored messages, including in-flight and delayed ones.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("queue:%s:msg:", q.config.Name))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (q *Queue) Close() error {
	if q.ownsDB {
		return q.db.Close()
	}
	return nil
}

func (q *Queue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.config.Name, id))
}

func (q *Queue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.config.Name))
}

func (q *Queue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero padded so lexical order matches time order.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.config.Name, visibleAt.UnixNano(), id))
}

func (q *Queue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := q.indexPrefix()
	if len(key) < len(prefix)+21 {
		return time.Time{}, "", fmt.Errorf("invalid index key: %q", key)
	}

	suffix := string(key[len(prefix):])
	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
