package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"github.com/xhad/verdikt/pkg/pipeline"
	"go.uber.org/zap"
)

type Action int

const (
	// ActionComplete finishes the job; nothing else happens.
	ActionComplete Action = iota
	// ActionRetry re-enqueues a fresh copy of the job after a delay.
	ActionRetry
	// ActionFail reports the job as terminally failed.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	}
	return "complete"
}

// RetryPolicy bounds how many times a failed job is re-enqueued.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

// Decide maps a pipeline result for the given attempt (0 for the first run)
// onto what should happen next.
func (p RetryPolicy) Decide(res pipeline.Result, attempt int) Decision {
	if !res.Failed() {
		return Decision{Action: ActionComplete}
	}
	if res.Retryable() && attempt < p.MaxRetries {
		return Decision{Action: ActionRetry, Delay: p.Delay}
	}
	return Decision{Action: ActionFail}
}

// Processor runs one job to a result.
type Processor interface {
	Process(ctx context.Context, job models.ProcessingJob) pipeline.Result
}

// RetryHandler wraps a Processor with a RetryPolicy. Retries are delayed
// re-enqueues of a new job; a job out of retries publishes an error event.
type RetryHandler struct {
	processor Processor
	policy    RetryPolicy
	queue     types.JobQueue
	notifier  types.Notifier
	logger    *zap.Logger
}

func NewRetryHandler(processor Processor, policy RetryPolicy, queue types.JobQueue, notifier types.Notifier, logger *zap.Logger) *RetryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryHandler{
		processor: processor,
		policy:    policy,
		queue:     queue,
		notifier:  notifier,
		logger:    logger,
	}
}

func (h *RetryHandler) Handle(ctx context.Context, job models.ProcessingJob) pipeline.Result {
	res := h.processor.Process(ctx, job)
	decision := h.policy.Decide(res, job.Attempt)

	switch decision.Action {
	case ActionRetry:
		next := job
		next.Attempt++
		next.EnqueuedAt = time.Now()
		if err := h.queue.Enqueue(ctx, next, decision.Delay); err != nil {
			h.logger.Error("failed to re-enqueue job",
				zap.String("decision_id", job.DecisionID),
				zap.Error(err))
			h.fail(ctx, job, res)
			res.Final = true
			return res
		}
		h.logger.Info("job scheduled for retry",
			zap.String("decision_id", job.DecisionID),
			zap.Int("attempt", next.Attempt),
			zap.Duration("delay", decision.Delay))
		return res
	case ActionFail:
		h.fail(ctx, job, res)
	}
	res.Final = true
	return res
}

// Abandon reports a job the queue dropped after too many deliveries
// without a handler ever finishing it.
func (h *RetryHandler) Abandon(ctx context.Context, job models.ProcessingJob, deliveries int) pipeline.Result {
	res := pipeline.Result{
		DecisionID: job.DecisionID,
		Status:     pipeline.StatusFailed,
		Stage:      pipeline.StageQueue,
		Err:        fmt.Errorf("job dropped after %d deliveries", deliveries),
		Final:      true,
	}
	h.fail(ctx, job, res)
	return res
}

func (h *RetryHandler) fail(ctx context.Context, job models.ProcessingJob, res pipeline.Result) {
	h.logger.Error("job failed",
		zap.String("decision_id", job.DecisionID),
		zap.Int("attempt", job.Attempt),
		zap.String("stage", string(res.Stage)),
		zap.Error(res.Err))

	if h.notifier == nil || job.ChannelKey == "" {
		return
	}
	detail := string(res.Stage)
	if res.Err != nil {
		detail = res.Err.Error()
	}
	event := models.ProgressEvent{DecisionID: job.DecisionID, Status: models.EventError, Detail: detail}
	if err := h.notifier.Publish(ctx, job.ChannelKey, event); err != nil {
		h.logger.Warn("failed to publish error event",
			zap.String("decision_id", job.DecisionID),
			zap.Error(err))
	}
}
