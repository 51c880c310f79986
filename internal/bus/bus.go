package bus

import (
	"log/slog"
	"sync"

	"resumebot/internal/domain"
)

// InMemoryBus is a Go-channel based update feed from the sync engines
// to the UI layer. Updates are snapshots, so when the buffer is full
// the oldest pending update is dropped in favor of the newest.
type InMemoryBus struct {
	updates chan domain.Update
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &InMemoryBus{
		updates: make(chan domain.Update, bufferSize),
		logger:  logger,
	}
}

func (b *InMemoryBus) Publish(u domain.Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	for {
		select {
		case b.updates <- u:
			return
		default:
		}
		// Buffer full: discard the oldest snapshot, it is stale anyway.
		select {
		case old := <-b.updates:
			b.logger.Warn("update bus full, dropping stale update", "kind", old.Kind)
		default:
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Update {
	return b.updates
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.updates)
	}
}
