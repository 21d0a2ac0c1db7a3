// Package pipeline runs the ingestion stages for a single decision.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"github.com/xhad/verdikt/pkg/metadata"
	"github.com/xhad/verdikt/pkg/processor"
	"go.uber.org/zap"
)

type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusAlreadyDone Status = "already_done"
	StatusFailed      Status = "failed"
)

type Stage string

const (
	StageRegistry Stage = "registry"
	StageFetch    Stage = "fetch"
	StageChunk    Stage = "chunk"
	StageStore    Stage = "store"
	StageComplete Stage = "complete"
	// StageQueue marks a job the queue gave up on before it could run.
	StageQueue Stage = "queue"
)

// Result is the outcome of one pipeline run. Stage is the last stage
// reached; for a failed run it is the stage that failed.
type Result struct {
	DecisionID string
	Status     Status
	Stage      Stage
	Chunks     int
	Duration   time.Duration
	Err        error
	// Final is set by the worker layer when no further attempt is scheduled.
	Final bool
}

func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// Retryable reports whether the failure may succeed on a fresh attempt.
func (r Result) Retryable() bool {
	return r.Failed() && types.IsRetryable(r.Err)
}

type Deps struct {
	Fetcher  types.Fetcher
	Chunker  types.Chunker
	Store    types.VectorStore
	Registry types.Registry
	Notifier types.Notifier
	Logger   *zap.Logger
}

// Pipeline holds the shared process-wide collaborators. It is safe for
// concurrent use by many workers.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, logger: deps.Logger}
}

// Process runs fetch, metadata, chunk, store and registry update strictly in
// order. The registry only moves to done after every earlier stage succeeded,
// and a decision that is already done is skipped without any writes.
func (p *Pipeline) Process(ctx context.Context, job models.ProcessingJob) Result {
	start := time.Now()
	res := p.process(ctx, job)
	res.DecisionID = job.DecisionID
	res.Duration = time.Since(start)

	logger := p.logger.With(
		zap.String("decision_id", job.DecisionID),
		zap.Int("attempt", job.Attempt),
		zap.String("stage", string(res.Stage)),
		zap.Duration("duration", res.Duration))
	switch res.Status {
	case StatusFailed:
		logger.Error("decision processing failed", zap.Error(res.Err))
	case StatusAlreadyDone:
		logger.Info("decision already processed")
	default:
		logger.Info("decision processed", zap.Int("chunks", res.Chunks))
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, job models.ProcessingJob) Result {
	rec, err := p.deps.Registry.GetOrCreate(ctx, job.DecisionID)
	if err != nil {
		return failed(StageRegistry, err)
	}
	if rec.IsDone() {
		p.notify(ctx, job, models.EventAlreadyDone, "decision already processed")
		return Result{Status: StatusAlreadyDone, Stage: StageRegistry}
	}

	p.notify(ctx, job, models.EventStarted, job.URL)

	if job.URL == "" {
		return failed(StageFetch, types.InputError("pipeline.Process", "job for %s has no source url", job.DecisionID))
	}
	doc, err := p.deps.Fetcher.FetchURL(ctx, job.DecisionID, job.URL)
	if err != nil {
		return failed(StageFetch, err)
	}
	p.notify(ctx, job, models.EventTextExtracted, fmt.Sprintf("%d characters", len([]rune(doc.Content))))

	meta := metadata.Extract(doc.Content)
	p.notify(ctx, job, models.EventMetadataExtracted, meta.Number)

	chunks := p.deps.Chunker.Split(doc, meta)
	p.notify(ctx, job, models.EventChunksCreated, fmt.Sprintf("%d chunks", len(chunks)))

	ids := processor.ChunkIDs(job.DecisionID, chunks)
	if err := p.deps.Store.Save(ctx, chunks, ids, job.DecisionID); err != nil {
		return failed(StageStore, err)
	}
	p.notify(ctx, job, models.EventDocumentsSaved, fmt.Sprintf("%d vectors", len(ids)))

	if err := p.deps.Registry.MarkDone(ctx, job.DecisionID, meta); err != nil {
		return Result{Status: StatusFailed, Stage: StageRegistry, Chunks: len(chunks), Err: err}
	}
	p.notify(ctx, job, models.EventDone, meta.Number)

	return Result{Status: StatusSucceeded, Stage: StageComplete, Chunks: len(chunks)}
}

func failed(stage Stage, err error) Result {
	return Result{Status: StatusFailed, Stage: stage, Err: err}
}

// notify publishes a progress event. Publish failures are logged and never
// affect the run.
func (p *Pipeline) notify(ctx context.Context, job models.ProcessingJob, status models.EventStatus, detail string) {
	if p.deps.Notifier == nil || job.ChannelKey == "" {
		return
	}

	event := models.ProgressEvent{DecisionID: job.DecisionID, Status: status, Detail: detail}
	if err := p.deps.Notifier.Publish(ctx, job.ChannelKey, event); err != nil {
		p.logger.Warn("failed to publish progress event",
			zap.String("decision_id", job.DecisionID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
