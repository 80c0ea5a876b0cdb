package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

var testReconnect = config.Reconnect{
	BaseDelay:   time.Second,
	MaxDelay:    10 * time.Second,
	MaxAttempts: 5,
}

// supHarness drives a supervisor with instant waits, recording the
// delays it was asked to pause for and every redial call.
type supHarness struct {
	sup *Supervisor

	mu     sync.Mutex
	delays []time.Duration

	redials   int32
	gaveUp    int32
	recovered chan int
	done      chan struct{}
}

func newSupHarness(redial func(ctx context.Context, attempt int) error) *supHarness {
	h := &supHarness{recovered: make(chan int, 4), done: make(chan struct{}, 4)}
	h.sup = NewSupervisor(testReconnect, func(ctx context.Context) error {
		n := int(atomic.AddInt32(&h.redials, 1))
		return redial(ctx, n)
	}, logger.Default())
	h.sup.wait = func(ctx context.Context, d time.Duration) bool {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		h.mu.Unlock()
		return ctx.Err() == nil
	}
	h.sup.OnRecovered.Subscribe(func(n int) {
		h.recovered <- n
		h.done <- struct{}{}
	})
	h.sup.OnGaveUp.Subscribe(func(error) {
		atomic.AddInt32(&h.gaveUp, 1)
		h.done <- struct{}{}
	})
	return h
}

func (h *supHarness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery loop did not finish")
	}
}

func (h *supHarness) seenDelays() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]time.Duration, len(h.delays))
	copy(out, h.delays)
	return out
}

func checkDelays(t *testing.T, got, want []time.Duration) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %v = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	h := newSupHarness(func(context.Context, int) error { return errors.New("down") })
	h.sup.Arm()
	h.sup.Kick()
	h.waitDone(t)

	checkDelays(t, h.seenDelays(), []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
	})
	if n := atomic.LoadInt32(&h.redials); n != 5 {
		t.Errorf("redials = %v, want 5", n)
	}
	if n := atomic.LoadInt32(&h.gaveUp); n != 1 {
		t.Errorf("terminal reports = %v, want exactly 1", n)
	}
	if h.sup.Armed() {
		t.Error("supervisor still armed after giving up")
	}
}

func TestGivingUpDisarmsUntilNextArm(t *testing.T) {
	h := newSupHarness(func(context.Context, int) error { return errors.New("down") })
	h.sup.Arm()
	h.sup.Kick()
	h.waitDone(t)

	before := atomic.LoadInt32(&h.redials)
	h.sup.Kick()
	time.Sleep(50 * time.Millisecond)
	if after := atomic.LoadInt32(&h.redials); after != before {
		t.Errorf("disarmed supervisor redialed, %v -> %v", before, after)
	}
	if n := atomic.LoadInt32(&h.gaveUp); n != 1 {
		t.Errorf("terminal reports = %v, want exactly 1", n)
	}
}

func TestRecoveryCountsAttemptsAndResets(t *testing.T) {
	// the third call of each outage succeeds
	h := newSupHarness(func(_ context.Context, n int) error {
		if n%3 == 0 {
			return nil
		}
		return errors.New("down")
	})
	h.sup.Arm()
	h.sup.Kick()
	h.waitDone(t)
	h.sup.Kick() // next outage
	h.waitDone(t)

	for i := 0; i < 2; i++ {
		select {
		case n := <-h.recovered:
			if n != 3 {
				t.Errorf("outage %v recovered on attempt %v, want 3", i, n)
			}
		default:
			t.Fatalf("missing recovery report %v", i)
		}
	}
	// both outages walked up from the base delay
	checkDelays(t, h.seenDelays(), []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		time.Second, 2 * time.Second, 4 * time.Second,
	})
	if !h.sup.Armed() {
		t.Error("recovery should leave the supervisor armed")
	}
}

func TestKickNeedsArming(t *testing.T) {
	h := newSupHarness(func(context.Context, int) error { return nil })
	h.sup.Kick()
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&h.redials); n != 0 {
		t.Errorf("unarmed supervisor redialed %v time(s)", n)
	}
}

func TestConcurrentKicksRunOneLoop(t *testing.T) {
	release := make(chan struct{})
	h := newSupHarness(func(context.Context, int) error {
		<-release
		return nil
	})
	h.sup.Arm()
	h.sup.Kick()
	h.sup.Kick()
	h.sup.Kick()
	close(release)
	h.waitDone(t)
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&h.redials); n != 1 {
		t.Errorf("redials = %v, want 1 for a single outage", n)
	}
}

func TestDisarmAbortsRecovery(t *testing.T) {
	entered := make(chan struct{}, 1)
	h := newSupHarness(func(ctx context.Context, _ int) error {
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	h.sup.Arm()
	h.sup.Kick()
	<-entered

	h.sup.Disarm()
	select {
	case <-h.done:
		t.Error("aborted recovery still reported an outcome")
	case <-time.After(100 * time.Millisecond):
	}
	if h.sup.Armed() {
		t.Error("supervisor armed after Disarm")
	}
	if n := atomic.LoadInt32(&h.redials); n != 1 {
		t.Errorf("redials = %v, want the one aborted attempt", n)
	}
}
