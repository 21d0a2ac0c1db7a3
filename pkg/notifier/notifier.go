package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"go.uber.org/zap"
)

// Hub fans progress events out to the subscribers of a channel key.
// Delivery is at most once: events published while nobody listens are
// dropped, and so are events for a subscriber whose buffer is full.
type Hub struct {
	buffer int
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan models.ProgressEvent
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		buffer: buffer,
		logger: logger,
		subs:   make(map[string]map[int]chan models.ProgressEvent),
	}
}

// Subscribe registers a listener on channelKey. The returned cancel func
// unregisters it and closes the events channel; calling it twice is safe.
func (h *Hub) Subscribe(channelKey string) (<-chan models.ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan models.ProgressEvent, h.buffer)
	if h.subs[channelKey] == nil {
		h.subs[channelKey] = make(map[int]chan models.ProgressEvent)
	}
	h.subs[channelKey][id] = ch

	h.logger.Debug("progress subscriber added", zap.String("channel", channelKey))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[channelKey], id)
			if len(h.subs[channelKey]) == 0 {
				delete(h.subs, channelKey)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish never blocks. It returns a notify error when a subscriber missed
// the event because its buffer was full.
func (h *Hub) Publish(ctx context.Context, channelKey string, event models.ProgressEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for _, ch := range h.subs[channelKey] {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		return types.NewError(types.KindNotify, "notifier.Publish",
			fmt.Errorf("%d subscriber(s) on %s missed %s event", dropped, channelKey, event.Status))
	}
	return nil
}

// Subscribers returns the number of listeners on channelKey.
func (h *Hub) Subscribers(channelKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channelKey])
}
