package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/pkg/queue"
)

func newQueue(t *testing.T, visibility time.Duration) *queue.Queue {
	t.Helper()
	q, err := queue.Open("", queue.QueueConfig{Name: "test", VisibilityTimeout: visibility})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func job(id string) models.ProcessingJob {
	return models.ProcessingJob{
		URL:        "https://reyestr.court.gov.ua/Review/" + id,
		DecisionID: id,
		ChannelKey: "user-1",
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := newQueue(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, job("1"), 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, job("2"), 0))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", first.Job.DecisionID)
	assert.Equal(t, 1, first.ReceiveCount)
	assert.False(t, first.Job.EnqueuedAt.IsZero())

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", second.Job.DecisionID)

	// Both are in flight.
	_, err = q.Receive(ctx)
	assert.True(t, errors.Is(err, queue.ErrNoMessage))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, first.Ack())
	require.NoError(t, second.Ack())
	require.NoError(t, second.Ack())

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_Delay(t *testing.T) {
	q := newQueue(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, job("1"), 50*time.Millisecond))

	_, err := q.Receive(ctx)
	assert.True(t, errors.Is(err, queue.ErrNoMessage))

	time.Sleep(80 * time.Millisecond)
	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", d.Job.DecisionID)
}

func TestQueue_RedeliversAfterVisibilityTimeout(t *testing.T) {
	q := newQueue(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, job("1"), 0))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.ReceiveCount)

	time.Sleep(50 * time.Millisecond)
	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)
	assert.Equal(t, 2, again.ReceiveCount)
}

func TestQueue_DropsAfterMaxReceive(t *testing.T) {
	q, err := queue.Open("", queue.QueueConfig{Name: "test", VisibilityTimeout: 10 * time.Millisecond, MaxReceive: 1})
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, job("1"), 0))
	_, err = q.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = q.Receive(ctx)
	assert.True(t, errors.Is(err, queue.ErrNoMessage))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_OnDropReportsDroppedJob(t *testing.T) {
	var dropped []models.ProcessingJob
	var deliveries []int
	q, err := queue.Open("", queue.QueueConfig{
		Name:              "test",
		VisibilityTimeout: 10 * time.Millisecond,
		MaxReceive:        2,
		OnDrop: func(job models.ProcessingJob, n int) {
			dropped = append(dropped, job)
			deliveries = append(deliveries, n)
		},
	})
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, job("12345678"), 0))
	for i := 0; i < 2; i++ {
		_, err = q.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	_, err = q.Receive(ctx)
	assert.True(t, errors.Is(err, queue.ErrNoMessage))
	require.Len(t, dropped, 1)
	assert.Equal(t, "12345678", dropped[0].DecisionID)
	assert.Equal(t, "user-1", dropped[0].ChannelKey)
	assert.Equal(t, []int{2}, deliveries)

	// The drop is committed, so it is reported once.
	_, err = q.Receive(ctx)
	assert.True(t, errors.Is(err, queue.ErrNoMessage))
	assert.Len(t, dropped, 1)
}

func TestQueue_Persists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "queue")
	ctx := context.Background()

	q, err := queue.Open(dir, queue.QueueConfig{Name: "test"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job("49586520"), 0))
	require.NoError(t, q.Close())

	q, err = queue.Open(dir, queue.QueueConfig{Name: "test"})
	require.NoError(t, err)
	defer q.Close()

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "49586520", d.Job.DecisionID)
	assert.Equal(t, "user-1", d.Job.ChannelKey)
}

func TestQueue_CanceledContext(t *testing.T) {
	q := newQueue(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, q.Enqueue(ctx, job("1"), 0))
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
