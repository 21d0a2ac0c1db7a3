package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"github.com/xhad/verdikt/pkg/identifiers"
	"github.com/xhad/verdikt/pkg/notifier"
	"github.com/xhad/verdikt/pkg/pipeline"
	"github.com/xhad/verdikt/pkg/processor"
	"github.com/xhad/verdikt/pkg/queue"
	"github.com/xhad/verdikt/pkg/registry"
	"github.com/xhad/verdikt/pkg/store"
	"github.com/xhad/verdikt/pkg/worker"
)

// flakyFetcher fails every fetch of the ids in broken.
type flakyFetcher struct {
	broken map[string]bool
	mu     sync.Mutex
	calls  map[string]int
}

func (f *flakyFetcher) FetchURL(ctx context.Context, id, url string) (models.Document, error) {
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()

	if f.broken[id] {
		return models.Document{}, types.FetchError("scraper.Fetch", errors.New("unexpected status 503"))
	}
	return models.Document{
		ID:      id,
		Content: "Справа № 910/1/24. Суд ухвалив рішення задовольнити позов.",
	}, nil
}

func (f *flakyFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type unitEmbedder struct{}

func (unitEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (unitEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func TestPool_FailingJobDoesNotAffectOthers(t *testing.T) {
	ctx := context.Background()

	q, err := queue.Open("", queue.QueueConfig{Name: "decisions", VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	defer q.Close()

	reg, err := registry.NewSQLite(ctx, registry.RegistryConfig{Path: filepath.Join(t.TempDir(), "registry.db")})
	require.NoError(t, err)
	defer reg.Close()

	hub := notifier.NewHub(64, nil)
	events, cancel := hub.Subscribe("caller")
	defer cancel()

	fetcher := &flakyFetcher{broken: map[string]bool{"12345678": true}, calls: map[string]int{}}
	chunker := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 512, ChunkOverlap: 50})
	vs := store.New(store.NewMemoryIndex(2), unitEmbedder{}, store.VectorStoreConfig{})

	p := pipeline.New(pipeline.Deps{
		Fetcher:  fetcher,
		Chunker:  &chunker,
		Store:    vs,
		Registry: reg,
		Notifier: hub,
	})
	handler := worker.NewRetryHandler(p, worker.RetryPolicy{MaxRetries: 2, Delay: 10 * time.Millisecond}, q, hub, nil)

	var handled, final atomic.Int32
	pool := worker.NewPool(q, handler, worker.PoolConfig{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		OnResult: func(res pipeline.Result) {
			handled.Add(1)
			if res.Final {
				final.Add(1)
			}
		},
	})

	ids := identifiers.Extract("49586520\nsome text\n12345678")
	require.Equal(t, []string{"49586520", "12345678"}, ids)
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, models.ProcessingJob{URL: "https://example.test/" + id, DecisionID: id, ChannelKey: "caller"}, 0))
	}

	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	terminal := map[string]models.EventStatus{}
	timeout := time.After(5 * time.Second)
	for len(terminal) < 2 {
		select {
		case ev := <-events:
			if ev.Terminal() {
				terminal[ev.DecisionID] = ev.Status
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal events, got %v", terminal)
		}
	}

	assert.Equal(t, models.EventDone, terminal["49586520"])
	assert.Equal(t, models.EventError, terminal["12345678"])

	pool.Stop()
	assert.Equal(t, 3, fetcher.count("12345678"))
	assert.Equal(t, 1, fetcher.count("49586520"))
	assert.Equal(t, int32(4), handled.Load())
	assert.Equal(t, int32(2), final.Load())

	done, err := reg.Get(ctx, "49586520")
	require.NoError(t, err)
	assert.True(t, done.IsDone())
	assert.Equal(t, "910/1/24", done.DecisionNumber)

	failed, err := reg.Get(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbsent, failed.Status)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPool_AbandonReportsFinalFailure(t *testing.T) {
	hub := notifier.NewHub(8, nil)
	events, cancel := hub.Subscribe("caller")
	defer cancel()

	handler := worker.NewRetryHandler(nil, worker.RetryPolicy{MaxRetries: 2}, nil, hub, nil)

	var results []pipeline.Result
	pool := worker.NewPool(nil, handler, worker.PoolConfig{
		OnResult: func(res pipeline.Result) { results = append(results, res) },
	})

	pool.Abandon(models.ProcessingJob{DecisionID: "12345678", ChannelKey: "caller"}, 4)

	require.Len(t, results, 1)
	assert.True(t, results[0].Final)
	assert.True(t, results[0].Failed())
	assert.Equal(t, pipeline.StageQueue, results[0].Stage)

	select {
	case ev := <-events:
		assert.Equal(t, models.EventError, ev.Status)
		assert.Equal(t, "12345678", ev.DecisionID)
	case <-time.After(time.Second):
		t.Fatal("no error event for abandoned job")
	}
}

func TestPool_StartTwice(t *testing.T) {
	q, err := queue.Open("", queue.QueueConfig{Name: "decisions"})
	require.NoError(t, err)
	defer q.Close()

	pool := worker.NewPool(q, nil, worker.PoolConfig{Workers: 1, PollInterval: time.Millisecond})
	require.NoError(t, pool.Start(context.Background()))
	assert.Error(t, pool.Start(context.Background()))
	pool.Stop()
	pool.Stop()
}
