package repository

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aditya/ridelink/internal/models"
)

type listFunc func(ctx context.Context, filter models.RideFilter) ([]models.RideRecord, error)

type subscription struct {
	filter models.RideFilter
	fn     SnapshotFunc
	closed atomic.Bool

	// mu serializes deliveries so a subscriber never sees an older set
	// after a newer one.
	mu sync.Mutex

	idsMu sync.Mutex
	ids   map[string]struct{}
}

// deliver re-reads the matching set and hands it to the subscriber.
func (s *subscription) deliver(ctx context.Context, list listFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	recs, err := list(ctx, s.filter)
	if err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		ids[rec.ID] = struct{}{}
	}
	s.idsMu.Lock()
	s.ids = ids
	s.idsMu.Unlock()

	if s.closed.Load() {
		return nil
	}
	s.fn(recs)
	return nil
}

func (s *subscription) holds(id string) bool {
	s.idsMu.Lock()
	defer s.idsMu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// hub tracks the live subscriptions of one repository.
type hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscription
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscription)}
}

// add registers a subscription and returns it with its cancel func. The
// cancel func also runs when ctx ends.
func (h *hub) add(ctx context.Context, filter models.RideFilter, fn SnapshotFunc) (*subscription, func()) {
	sub := &subscription{filter: filter, fn: fn}

	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			sub.closed.Store(true)
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	return sub, func() {
		stop()
		remove()
	}
}

// affected returns the subscriptions whose result set may change because
// rec changed. A nil rec means everything.
func (h *hub) affected(id string, rec *models.RideRecord) []*subscription {
	h.mu.Lock()
	all := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		all = append(all, sub)
	}
	h.mu.Unlock()

	if rec == nil && id == "" {
		return all
	}

	var out []*subscription
	for _, sub := range all {
		if (rec != nil && sub.filter.Matches(rec)) || sub.holds(id) {
			out = append(out, sub)
		}
	}
	return out
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
