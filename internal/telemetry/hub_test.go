package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func snap(runID string, progress int) Snapshot {
	return Snapshot{
		RunID:     runID,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	h := NewHub(10)
	sub := h.Subscribe("r1")
	defer h.Unsubscribe(sub)

	for i := 1; i <= 5; i++ {
		h.Publish("r1", snap("r1", i*10))
	}
	for i := 1; i <= 5; i++ {
		got := <-sub.C()
		if got.Progress != i*10 {
			t.Fatalf("message %d: progress = %d, want %d", i, got.Progress, i*10)
		}
	}
}

func TestSubscribeReplaysLatest(t *testing.T) {
	h := NewHub(10)
	h.Publish("r1", snap("r1", 40))
	h.Publish("r1", snap("r1", 55))

	sub := h.Subscribe("r1")
	defer h.Unsubscribe(sub)

	got := <-sub.C()
	if got.Progress != 55 {
		t.Fatalf("replayed progress = %d, want 55", got.Progress)
	}
	select {
	case extra := <-sub.C():
		t.Fatalf("unexpected extra message: %+v", extra)
	default:
	}
}

func TestSubscribeToUnknownRun(t *testing.T) {
	h := NewHub(10)
	sub := h.Subscribe("early")
	defer h.Unsubscribe(sub)

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected message before any publish: %+v", got)
	default:
	}

	h.Publish("early", snap("early", 10))
	if got := <-sub.C(); got.Progress != 10 {
		t.Fatalf("progress = %d, want 10", got.Progress)
	}
}

func TestSlowSubscriberDropsExcess(t *testing.T) {
	const capacity = 100
	h := NewHub(capacity)

	slow := h.Subscribe("r1")
	defer h.Unsubscribe(slow)
	fast := h.Subscribe("r1")
	defer h.Unsubscribe(fast)

	// The fast subscriber drains after every publish, the slow one never
	// reads. Draining inline keeps delivery to the fast side deterministic.
	total := 10 * capacity
	for i := 0; i < total; i++ {
		h.Publish("r1", snap("r1", i))
		got := <-fast.C()
		if got.Progress != i {
			t.Fatalf("fast subscriber got %d, want %d", got.Progress, i)
		}
	}

	if got := slow.Dropped(); got != uint64(total-capacity) {
		t.Errorf("slow dropped = %d, want %d", got, total-capacity)
	}
	if got := fast.Dropped(); got != 0 {
		t.Errorf("fast dropped = %d, want 0", got)
	}
	if got := h.DroppedFor("r1"); got != uint64(total-capacity) {
		t.Errorf("run drop counter = %d, want %d", got, total-capacity)
	}

	// The slow buffer holds exactly the first `capacity` messages, in order.
	for i := 0; i < capacity; i++ {
		got := <-slow.C()
		if got.Progress != i {
			t.Fatalf("slow subscriber got %d at position %d", got.Progress, i)
		}
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(10)
	sub := h.Subscribe("r1")

	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // second release must be a no-op
	h.Unsubscribe(nil)

	if _, open := <-sub.C(); open {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after release must not panic or deliver.
	h.Publish("r1", snap("r1", 10))
}

func TestCloseRunClosesSubscribers(t *testing.T) {
	h := NewHub(10)
	sub := h.Subscribe("r1")

	h.Publish("r1", snap("r1", 100))
	h.CloseRun("r1")
	h.CloseRun("r1") // idempotent

	got, open := <-sub.C()
	if !open || got.Progress != 100 {
		t.Fatalf("want buffered terminal snapshot, got %+v open=%v", got, open)
	}
	if _, open := <-sub.C(); open {
		t.Fatal("channel not closed after CloseRun")
	}

	// Unsubscribing a closed-out subscription stays a no-op.
	h.Unsubscribe(sub)
}

func TestSubscribeAfterCloseRun(t *testing.T) {
	h := NewHub(10)
	h.Publish("r1", snap("r1", 100))
	h.CloseRun("r1")

	late := h.Subscribe("r1")
	got, open := <-late.C()
	if !open || got.Progress != 100 {
		t.Fatalf("late reader: got %+v open=%v", got, open)
	}
	if _, open := <-late.C(); open {
		t.Fatal("late reader channel should be closed after the terminal snapshot")
	}
}

func TestClearForgetsRun(t *testing.T) {
	h := NewHub(10)
	sub := h.Subscribe("r1")
	h.Publish("r1", snap("r1", 50))

	h.Clear("r1")
	h.Clear("r1")

	// Drain the buffered snapshot, then observe close.
	<-sub.C()
	if _, open := <-sub.C(); open {
		t.Fatal("subscriber channel not closed by Clear")
	}
	if _, ok := h.Latest("r1"); ok {
		t.Fatal("latest snapshot survived Clear")
	}
}

func TestLatest(t *testing.T) {
	h := NewHub(10)
	if _, ok := h.Latest("r1"); ok {
		t.Fatal("latest reported before any publish")
	}
	h.Publish("r1", snap("r1", 30))
	got, ok := h.Latest("r1")
	if !ok || got.Progress != 30 {
		t.Fatalf("latest = %+v ok=%v", got, ok)
	}
}

func TestStats(t *testing.T) {
	h := NewHub(2)
	s1 := h.Subscribe("a")
	s2 := h.Subscribe("a")
	s3 := h.Subscribe("b")
	defer h.Unsubscribe(s1)
	defer h.Unsubscribe(s2)
	defer h.Unsubscribe(s3)

	for i := 0; i < 4; i++ {
		h.Publish("a", snap("a", i))
	}

	st := h.Stats()
	if st.Runs != 2 || st.Subscribers != 3 {
		t.Errorf("stats = %+v", st)
	}
	// Two subscribers on "a" with capacity 2 each drop 2 of 4 messages.
	if st.Dropped != 4 {
		t.Errorf("dropped = %d, want 4", st.Dropped)
	}
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	h := NewHub(DefaultSubscriberBuffer)

	const runs = 8
	const messages = 50

	var wg sync.WaitGroup
	for r := 0; r < runs; r++ {
		runID := fmt.Sprintf("run-%d", r)
		sub := h.Subscribe(runID)

		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < messages; i++ {
				h.Publish(id, snap(id, i))
			}
			h.CloseRun(id)
		}(runID)
		go func(id string, sub *Subscription) {
			defer wg.Done()
			prev := -1
			for got := range sub.C() {
				if got.RunID != id {
					t.Errorf("run %s received snapshot for %s", id, got.RunID)
					return
				}
				if got.Progress <= prev {
					t.Errorf("run %s: out of order %d after %d", id, got.Progress, prev)
					return
				}
				prev = got.Progress
			}
		}(runID, sub)
	}
	wg.Wait()
}
