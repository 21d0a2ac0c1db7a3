// Package submit turns submitted text into queued processing jobs.
package submit

import (
	"context"
	"time"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"github.com/xhad/verdikt/pkg/identifiers"
	"go.uber.org/zap"
)

// Receipt lists what a submission extracted and what it queued. Accepted
// holds each distinct identifier once, in first-occurrence order.
type Receipt struct {
	Extracted  []string `json:"extracted"`
	Accepted   []string `json:"accepted"`
	ChannelKey string   `json:"channel_key"`
}

type Service struct {
	queue  types.JobQueue
	urlFor func(decisionID string) string
	logger *zap.Logger
}

func NewService(queue types.JobQueue, urlFor func(string) string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{queue: queue, urlFor: urlFor, logger: logger}
}

// Submit enqueues one job per distinct identifier found in text. Text
// without identifiers is rejected with an input error.
func (s *Service) Submit(ctx context.Context, channelKey, text string) (Receipt, error) {
	const op = "submit.Submit"

	extracted := identifiers.Extract(text)
	if len(extracted) == 0 {
		return Receipt{}, types.InputError(op, "no decision identifiers found")
	}

	accepted := identifiers.Distinct(extracted)
	now := time.Now()
	for _, id := range accepted {
		job := models.ProcessingJob{
			URL:        s.urlFor(id),
			DecisionID: id,
			ChannelKey: channelKey,
			EnqueuedAt: now,
		}
		if err := s.queue.Enqueue(ctx, job, 0); err != nil {
			return Receipt{}, types.StoreError(op, err)
		}
	}

	s.logger.Info("decisions submitted",
		zap.String("channel", channelKey),
		zap.Int("extracted", len(extracted)),
		zap.Int("accepted", len(accepted)))

	return Receipt{Extracted: extracted, Accepted: accepted, ChannelKey: channelKey}, nil
}
