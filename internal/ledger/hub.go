package ledger

import (
	"context"
	"log/slog"
	"sync"
)

// Hub fans out change notifications to snapshot subscribers of one
// collection. A subscriber re-reads the full result set after each change,
// so every emission is authoritative and notifications that arrive while a
// read is in flight collapse into a single follow-up read.
type Hub[T any] struct {
	name string
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	dirty chan struct{}
}

func NewHub[T any](name string) *Hub[T] {
	return &Hub[T]{name: name, subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe starts a stream for userID that lists with list. The stream
// closes when ctx is done.
func (h *Hub[T]) Subscribe(ctx context.Context, userID string, list func(context.Context) ([]T, error)) <-chan []T {
	sub := &subscriber{dirty: make(chan struct{}, 1)}
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	out := make(chan []T)
	go func() {
		defer close(out)
		defer h.remove(userID, sub)
		for {
			snapshot, err := list(ctx)
			if err != nil {
				slog.WarnContext(ctx, "Snapshot read failed", "collection", h.name, "error", err)
			} else {
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-sub.dirty:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Notify marks every subscriber of userID as stale.
func (h *Hub[T]) Notify(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		select {
		case sub.dirty <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of active streams for userID.
func (h *Hub[T]) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

func (h *Hub[T]) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[userID], sub)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}
