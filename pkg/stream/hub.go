// Package stream provides the live message view: every subscriber receives
// full, re-sorted snapshots of a thread's messages as they change. Snapshots
// are whole lists, never diffs, which keeps consumers trivial; per-thread
// datasets are small enough that the bandwidth cost is acceptable.
package stream

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"avatarchat/pkg/logger"
	"avatarchat/pkg/models"
	"avatarchat/pkg/telemetry"
)

// Lister is the slice of the message store the hub needs.
type Lister interface {
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
}

// Hub fans message-change notifications out to per-thread subscribers.
// Register Notify as the store's notifier so writes drive emissions.
type Hub struct {
	store Lister

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewHub(store Lister) *Hub {
	return &Hub{store: store, subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe attaches a new consumer to threadID. Registration and the
// initial snapshot emission complete before Subscribe returns, so a message
// appended afterwards is never missed. A missing or deleted thread yields an
// empty snapshot, not an error.
//
// The subscription ends only via Cancel, ctx cancellation, or a terminal
// storage error; it never completes on its own.
func (h *Hub) Subscribe(ctx context.Context, threadID string) (*Subscription, error) {
	sub := &Subscription{
		threadID: threadID,
		ch:       make(chan []models.Message, 1),
		hub:      h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.closeWithErr(nil)
		return sub, nil
	}
	set, ok := h.subs[threadID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[threadID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	telemetry.StreamSubscribers.Inc()
	logger.Log.Debug("stream_subscribed", zap.String("thread", threadID))

	snap, err := h.snapshot(ctx, threadID)
	if err != nil {
		h.unregister(sub)
		sub.closeWithErr(err)
		return nil, err
	}
	sub.deliver(snap)

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Cancel()
		}()
	}
	return sub, nil
}

// Notify reloads the thread's snapshot and pushes it to every subscriber.
// A storage failure is terminal for the thread's subscribers: the error is
// recorded on each subscription and its channel closed, never silently
// swallowed.
func (h *Hub) Notify(threadID string) {
	h.mu.Lock()
	set := h.subs[threadID]
	if len(set) == 0 || h.closed {
		h.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	snap, err := h.snapshot(context.Background(), threadID)
	if err != nil {
		logger.Log.Error("stream_snapshot_failed", zap.String("thread", threadID), zap.Error(err))
		for _, sub := range targets {
			h.unregister(sub)
			sub.closeWithErr(err)
		}
		return
	}
	for _, sub := range targets {
		sub.deliver(snap)
	}
}

// snapshot loads and re-sorts the full message list. Re-sorting on every
// emission is mandatory: storage insertion order is not assumed stable.
func (h *Hub) snapshot(ctx context.Context, threadID string) ([]models.Message, error) {
	msgs, err := h.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	models.SortMessages(msgs)
	return msgs, nil
}

func (h *Hub) unregister(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.threadID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			telemetry.StreamSubscribers.Dec()
		}
		if len(set) == 0 {
			delete(h.subs, sub.threadID)
		}
	}
	h.mu.Unlock()
}

// Close terminates every subscription; used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
			telemetry.StreamSubscribers.Dec()
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()
	for _, sub := range all {
		sub.closeWithErr(nil)
	}
}

// Subscription is one consumer's view of a thread's message stream.
type Subscription struct {
	threadID string
	hub      *Hub

	mu     sync.Mutex
	ch     chan []models.Message
	closed bool
	err    error

	cancelOnce sync.Once
}

// C delivers ordered snapshots. The channel closes when the subscription
// ends; check Err afterwards to distinguish cancellation from failure.
func (s *Subscription) C() <-chan []models.Message { return s.ch }

// Err reports the terminal error, nil for a clean cancellation. Only
// meaningful after C is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel detaches the subscriber and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.hub.unregister(s)
		s.closeWithErr(nil)
	})
}

// deliver pushes a snapshot with latest-wins semantics: a slow consumer
// skips intermediate snapshots instead of exerting backpressure.
func (s *Subscription) deliver(snap []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- snap:
			return
		default:
			// drop the stale pending snapshot, then retry
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *Subscription) closeWithErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
