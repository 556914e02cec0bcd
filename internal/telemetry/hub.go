package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity when the
// settings file does not override it.
const DefaultSubscriberBuffer = 100

// Subscription is one subscriber's bounded sink for a run's snapshots.
type Subscription struct {
	runID    string
	ch       chan Snapshot
	dropped  atomic.Uint64
	released bool // guarded by the hub mutex
}

// C returns the receive channel. It is closed when the run finishes or the
// subscription is released.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// RunID returns the run this subscription is attached to.
func (s *Subscription) RunID() string { return s.runID }

// Dropped returns how many snapshots were discarded because this
// subscriber's buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// runState holds everything the hub tracks for one run.
type runState struct {
	latest  *Snapshot
	subs    map[*Subscription]struct{}
	closed  bool
	dropped uint64
}

// Hub routes snapshots from one publisher per run to any number of
// subscribers. All channel sends and closes happen under the hub mutex, so a
// send can never race a close. Sends are non-blocking, which keeps holding
// the lock through the fan-out cheap.
type Hub struct {
	mu     sync.RWMutex
	buffer int
	runs   map[string]*runState
}

// NewHub creates a hub. bufferSize <= 0 selects DefaultSubscriberBuffer.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Hub{
		buffer: bufferSize,
		runs:   make(map[string]*runState),
	}
}

func (h *Hub) run(runID string) *runState {
	rs, ok := h.runs[runID]
	if !ok {
		rs = &runState{subs: make(map[*Subscription]struct{})}
		h.runs[runID] = rs
	}
	return rs
}

// Publish stores snap as the run's latest and offers it to every subscriber.
// A full subscriber buffer drops the message for that subscriber only.
// Subscribers observe snapshots in publication order.
func (h *Hub) Publish(runID string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs := h.run(runID)
	rs.latest = &snap
	for sub := range rs.subs {
		select {
		case sub.ch <- snap:
		default:
			sub.dropped.Add(1)
			rs.dropped++
		}
	}
}

// Subscribe attaches a new bounded sink to a run. The latest snapshot, if
// any, is delivered immediately. Subscribing to a run that already finished
// yields that terminal snapshot followed by channel close. The caller must
// release the subscription with Unsubscribe.
func (h *Hub) Subscribe(runID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs := h.run(runID)
	sub := &Subscription{
		runID: runID,
		ch:    make(chan Snapshot, h.buffer),
	}
	if rs.latest != nil {
		sub.ch <- *rs.latest
	}
	if rs.closed {
		close(sub.ch)
		sub.released = true
		return sub
	}
	rs.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe releases a subscription and closes its channel. Releasing an
// already-released subscription is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.released {
		return
	}
	sub.released = true
	if rs, ok := h.runs[sub.runID]; ok {
		delete(rs.subs, sub)
	}
	close(sub.ch)
}

// CloseRun signals subscribers that no further snapshots will arrive by
// closing their channels. The latest (terminal) snapshot stays retrievable
// for late readers until Clear. Idempotent.
func (h *Hub) CloseRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.runs[runID]
	if !ok || rs.closed {
		return
	}
	rs.closed = true
	for sub := range rs.subs {
		sub.released = true
		close(sub.ch)
	}
	rs.subs = make(map[*Subscription]struct{})
	logging.TelemetryDebug("closed run %s (dropped total %d)", runID, rs.dropped)
}

// Clear forgets a run entirely, releasing any remaining subscribers.
// Retention calls this when a run's artifacts are pruned.
func (h *Hub) Clear(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.runs[runID]
	if !ok {
		return
	}
	for sub := range rs.subs {
		sub.released = true
		close(sub.ch)
	}
	delete(h.runs, runID)
}

// Latest returns the most recent snapshot published for a run.
func (h *Hub) Latest(runID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs, ok := h.runs[runID]
	if !ok || rs.latest == nil {
		return Snapshot{}, false
	}
	return *rs.latest, true
}

// Stats is a point-in-time view of hub load, surfaced by the status
// endpoint and the metrics collector.
type Stats struct {
	Runs        int    `json:"runs"`
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

// Stats reports active runs, attached subscribers and total drops.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var st Stats
	st.Runs = len(h.runs)
	for _, rs := range h.runs {
		st.Subscribers += len(rs.subs)
		st.Dropped += rs.dropped
	}
	return st
}

// Subscribers returns how many subscriptions are attached to a run.
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rs, ok := h.runs[runID]; ok {
		return len(rs.subs)
	}
	return 0
}

// DroppedFor returns the total snapshots dropped across all subscribers of
// one run.
func (h *Hub) DroppedFor(runID string) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rs, ok := h.runs[runID]; ok {
		return rs.dropped
	}
	return 0
}
