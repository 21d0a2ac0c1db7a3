package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/pkg/pipeline"
	"github.com/xhad/verdikt/pkg/queue"
	"go.uber.org/zap"
)

// Source hands out queued jobs.
type Source interface {
	Receive(ctx context.Context) (*queue.Delivery, error)
}

// Handler processes a received job.
type Handler interface {
	Handle(ctx context.Context, job models.ProcessingJob) pipeline.Result
}

// Abandoner is implemented by handlers that report jobs the source gave up on.
type Abandoner interface {
	Abandon(ctx context.Context, job models.ProcessingJob, deliveries int) pipeline.Result
}

type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
	Logger       *zap.Logger
	// OnResult is called after every handled or abandoned job. Optional.
	OnResult func(pipeline.Result)
}

// Pool polls a Source with a fixed number of workers. A job is acked once
// its handler returns, whatever the result; retries are new queue entries.
type Pool struct {
	source  Source
	handler Handler
	config  PoolConfig
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(source Source, handler Handler, config PoolConfig) *Pool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Pool{
		source:  source,
		handler: handler,
		config:  config,
		logger:  config.Logger,
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return errors.New("worker pool already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("starting worker pool", zap.Int("workers", p.config.Workers))
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	p.logger.Info("stopping worker pool")
	cancel()
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	// Spread workers across the poll interval.
	stagger := p.config.PollInterval / time.Duration(p.config.Workers) * time.Duration(id)
	if stagger > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything visible before waiting for the next tick.
		for {
			handled, err := p.next(ctx, id)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("error processing message", zap.Int("worker_id", id), zap.Error(err))
			}
			if !handled || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopped", zap.Int("worker_id", id))
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) next(ctx context.Context, id int) (bool, error) {
	d, err := p.source.Receive(ctx)
	if errors.Is(err, queue.ErrNoMessage) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to receive message: %w", err)
	}

	p.logger.Debug("processing job",
		zap.String("message_id", d.ID),
		zap.String("decision_id", d.Job.DecisionID),
		zap.Int("worker_id", id))

	res := p.handle(ctx, d.Job)

	if err := d.Ack(); err != nil {
		return true, fmt.Errorf("failed to ack message %s: %w", d.ID, err)
	}
	if p.config.OnResult != nil {
		p.config.OnResult(res)
	}
	return true, nil
}

// Abandon reports a job that the source dropped without running it. Wire it
// to the queue's OnDrop hook.
func (p *Pool) Abandon(job models.ProcessingJob, deliveries int) {
	res := pipeline.Result{
		DecisionID: job.DecisionID,
		Status:     pipeline.StatusFailed,
		Stage:      pipeline.StageQueue,
		Err:        fmt.Errorf("job dropped after %d deliveries", deliveries),
		Final:      true,
	}
	if a, ok := p.handler.(Abandoner); ok {
		res = a.Abandon(context.Background(), job, deliveries)
	} else {
		p.logger.Error("job abandoned",
			zap.String("decision_id", job.DecisionID),
			zap.Int("deliveries", deliveries))
	}
	if p.config.OnResult != nil {
		p.config.OnResult(res)
	}
}

// handle keeps a panicking handler from taking the worker down.
func (p *Pool) handle(ctx context.Context, job models.ProcessingJob) (res pipeline.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job handler panicked",
				zap.String("decision_id", job.DecisionID),
				zap.Any("panic", r))
			res = pipeline.Result{
				DecisionID: job.DecisionID,
				Status:     pipeline.StatusFailed,
				Err:        fmt.Errorf("handler panic: %v", r),
				Final:      true,
			}
		}
	}()
	return p.handler.Handle(ctx, job)
}
