package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

type noServers struct{}

func (noServers) Servers() []webrtc.ICEServer { return nil }

type envelope struct {
	t   api.PT
	sig api.Signal
}

// wire queues one side's outbound signaling and pumps it into the
// other side's manager in order, the way the relay would.
type wire struct {
	self string
	out  chan envelope
}

func newWire(self string) *wire { return &wire{self: self, out: make(chan envelope, 256)} }

func (w *wire) Send(t api.PT, payload any) {
	if sig, ok := payload.(api.Signal); ok {
		w.out <- envelope{t: t, sig: sig}
	}
}

// pump forwards envelopes to the destination manager, rewriting To
// into From as the relay does. permit filters, nil passes all.
func (w *wire) pump(dst *Manager, permit func(envelope) bool) {
	go func() {
		for e := range w.out {
			if permit != nil && !permit(e) {
				continue
			}
			sig := api.Signal{From: w.self, Data: e.sig.Data}
			switch e.t {
			case api.Offer:
				dst.HandleOffer(sig)
			case api.Answer:
				dst.HandleAnswer(sig)
			case api.IceCandidate:
				dst.HandleCandidate(sig)
			}
		}
	}()
}

// sink records outbound signaling when no remote side exists.
type sink struct {
	mu   sync.Mutex
	sent []envelope
}

func (s *sink) Send(t api.PT, payload any) {
	sig, _ := payload.(api.Signal)
	s.mu.Lock()
	s.sent = append(s.sent, envelope{t: t, sig: sig})
	s.mu.Unlock()
}

func (s *sink) count(t api.PT) (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.sent {
		if e.t == t {
			n++
		}
	}
	return
}

func (s *sink) first(t api.PT) (api.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.sent {
		if e.t == t {
			return e.sig, true
		}
	}
	return api.Signal{}, false
}

func testManager(t *testing.T, out Sender) *Manager {
	t.Helper()
	log := logger.Default()
	factory, err := NewApiFactory(config.Webrtc{LogLevel: int(logger.ErrorLevel)}, log, nil)
	if err != nil {
		t.Fatalf("api factory: %v", err)
	}
	return NewManager(factory, noServers{}, out, nil, log)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %v", what)
}

func connected(m *Manager, id string) func() bool {
	return func() bool {
		s, err := m.sessions.Find(id)
		return err == nil && s.ConnectionState() == webrtc.PeerConnectionStateConnected
	}
}

func TestLinkEstablished(t *testing.T) {
	wa, wb := newWire("a"), newWire("b")
	a := testManager(t, wa)
	b := testManager(t, wb)
	wa.pump(b, nil)
	wb.pump(a, nil)
	defer a.CloseAll()
	defer b.CloseAll()

	if _, err := a.Create("b", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "a-b link", connected(a, "b"))
	waitFor(t, "b-a link", connected(b, "a"))

	bs, err := b.sessions.Find("a")
	if err != nil || bs.Initiator() {
		t.Errorf("expected an on-demand responder session on b")
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("expected one session per side, got %v and %v", a.Len(), b.Len())
	}
}

func TestGlareRestart(t *testing.T) {
	wa, wb := newWire("a"), newWire("b")
	a := testManager(t, wa)
	b := testManager(t, wb)
	// swallow a's first offer so b's crosses it in flight and lands
	// on a while a still has a local offer outstanding
	var aOffers int32
	wa.pump(b, func(e envelope) bool {
		return !(e.t == api.Offer && atomic.AddInt32(&aOffers, 1) == 1)
	})
	wb.pump(a, nil)
	defer a.CloseAll()
	defer b.CloseAll()

	if _, err := a.Create("b", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.Create("a", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "glare resolved a-b", connected(a, "b"))
	waitFor(t, "glare resolved b-a", connected(b, "a"))

	as, err := a.sessions.Find("b")
	if err != nil {
		t.Fatalf("no session survived on a")
	}
	if as.Initiator() {
		t.Errorf("side a should have restarted as a responder")
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("duplicate sessions after glare: %v and %v", a.Len(), b.Len())
	}
}

func TestEmptyRosterThenJoin(t *testing.T) {
	out := &sink{}
	m := testManager(t, out)
	defer m.CloseAll()

	m.HandleRoster(api.RoomJoinedInfo{Rid: "general"})
	if m.Len() != 0 {
		t.Fatalf("empty roster must create no sessions, got %v", m.Len())
	}
	m.HandleJoin(api.UserJoinedInfo{From: "p1", Username: "Alice"})
	if m.Len() != 1 {
		t.Fatalf("expected one session, got %v", m.Len())
	}
	if sig, ok := out.first(api.Offer); !ok || sig.To != "p1" {
		t.Errorf("expected an offer to p1, got %+v", sig)
	}
}

func TestRosterRespondersStayQuiet(t *testing.T) {
	out := &sink{}
	m := testManager(t, out)
	defer m.CloseAll()

	m.HandleRoster(api.RoomJoinedInfo{Rid: "general", Users: []api.User{{Id: "p1"}, {Id: "p2"}}})
	if m.Len() != 2 {
		t.Fatalf("expected two sessions, got %v", m.Len())
	}
	if n := out.count(api.Offer); n != 0 {
		t.Errorf("responders must not offer, sent %v", n)
	}
}

func TestLeaveClosesSession(t *testing.T) {
	out := &sink{}
	m := testManager(t, out)
	defer m.CloseAll()

	m.HandleJoin(api.UserJoinedInfo{From: "p1"})
	m.HandleLeave(api.UserLeftInfo{From: "p1"})
	if m.Len() != 0 {
		t.Fatalf("expected no sessions after leave, got %v", m.Len())
	}
	// a second leave for the same peer is a no-op
	m.HandleLeave(api.UserLeftInfo{From: "p1"})
}

func TestCloseStorm(t *testing.T) {
	out := &sink{}
	m := testManager(t, out)

	s, err := m.Create("p1", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Close("p1")
		}()
	}
	wg.Wait()
	m.Close("p1")
	s.Close()
	m.CloseAll()
	if m.Len() != 0 {
		t.Errorf("expected no sessions, got %v", m.Len())
	}
}
