package session

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/com"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

// Sender pushes signaling payloads back through the relay.
type Sender interface {
	Send(t api.PT, payload any)
}

// ServerSource supplies the ICE server list for new connections.
type ServerSource interface {
	Servers() []webrtc.ICEServer
}

// Manager owns every active peer session of the current room:
// it spins sessions up and down on membership changes and routes
// the per-peer signaling legs. At most one session exists per
// peer id, a recreate tears the older one down first.
type Manager struct {
	log     *logger.Logger
	factory *ApiFactory
	ice     ServerSource
	out     Sender
	policy  Policy

	mu       sync.Mutex
	sessions com.Map[string, *Session]

	// Mic and Screen supply the live local tracks attached to new
	// sessions, nil meaning none right now.
	Mic    func() webrtc.TrackLocal
	Screen func() webrtc.TrackLocal

	OnPeerTrack   func(peer string, track *webrtc.TrackRemote, recv *webrtc.RTPReceiver)
	OnPeerControl func(peer string, data []byte)
	// OnPeerReady fires when the peer's control channel opens, the
	// moment to announce our own state to that side.
	OnPeerReady func(peer string)
	OnPeerGone  func(peer string)
	OnKeyframe  func(peer string)
}

func NewManager(factory *ApiFactory, ice ServerSource, out Sender, policy Policy, log *logger.Logger) *Manager {
	if policy == nil {
		policy = NopPolicy{}
	}
	return &Manager{
		log:      log.Extend(log.With().Str("s", "rtc")),
		factory:  factory,
		ice:      ice,
		out:      out,
		policy:   policy,
		sessions: com.NewMap[string, *Session](),
	}
}

// Create opens a session for the peer, attaches the live local
// tracks, and sends the first offer when this side initiates.
func (m *Manager) Create(id string, initiator bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(id, initiator)
}

func (m *Manager) create(id string, initiator bool) (*Session, error) {
	if old, err := m.sessions.Find(id); err == nil {
		m.sessions.RemoveByKey(id)
		old.Close()
	}
	conn, err := m.factory.NewPeer(m.ice.Servers())
	if err != nil {
		return nil, err
	}
	s := newSession(id, initiator, conn, m.policy, m.log.Extend(m.log.With().Str("p", id)))
	s.OnSignal = func(t api.PT, data string) {
		m.out.Send(t, api.Signal{To: id, Data: data})
	}
	s.OnTrack = func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		if m.OnPeerTrack != nil {
			m.OnPeerTrack(id, track, recv)
		}
	}
	s.OnControl = func(data []byte) {
		if m.OnPeerControl != nil {
			m.OnPeerControl(id, data)
		}
	}
	s.OnControlUp = func() {
		if m.OnPeerReady != nil {
			m.OnPeerReady(id)
		}
	}
	s.OnKeyframe = func() {
		if m.OnKeyframe != nil {
			m.OnKeyframe(id)
		}
	}
	s.OnDown = func() { m.drop(s) }

	if m.Mic != nil {
		if t := m.Mic(); t != nil {
			sender, err := s.AddTrack(t)
			if err != nil {
				s.Close()
				return nil, err
			}
			s.audio = sender
		}
	}
	if m.Screen != nil {
		if t := m.Screen(); t != nil {
			// share failure for one peer shouldn't kill its voice link
			if sender, err := s.AddTrack(t); err == nil {
				s.screen = sender
			} else {
				s.log.Error().Err(err).Msg("screen attach")
			}
		}
	}
	if initiator {
		if err := s.openControl(); err != nil {
			s.Close()
			return nil, err
		}
	}
	m.sessions.Put(id, s)
	m.log.Info().Msgf("session %v, initiator: %v", id, initiator)
	if initiator {
		s.Offer()
	}
	return s, nil
}

// drop removes a session that went down on its own, unless a newer
// one took over its id already.
func (m *Manager) drop(s *Session) {
	m.mu.Lock()
	cur, err := m.sessions.Find(s.id)
	removed := err == nil && cur == s
	if removed {
		m.sessions.RemoveByKey(s.id)
	}
	m.mu.Unlock()
	if !removed {
		return
	}
	s.Close()
	m.log.Info().Msgf("session %v is gone", s.id)
	if m.OnPeerGone != nil {
		m.OnPeerGone(s.id)
	}
}

// Close tears the peer's session down if there is one.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, err := m.sessions.Find(id)
	if err == nil {
		m.sessions.RemoveByKey(id)
	}
	m.mu.Unlock()
	if err == nil {
		s.Close()
	}
}

// CloseAll drops every session, leaving the room empty.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	list := m.sessions.Drain()
	m.mu.Unlock()
	for _, s := range list {
		s.Close()
	}
}

// Each visits a snapshot of the active sessions.
func (m *Manager) Each(fn func(s *Session)) {
	for _, s := range m.sessions.List() {
		fn(s)
	}
}

func (m *Manager) Len() int { return m.sessions.Len() }

// Broadcast sends a control frame to every connected peer.
func (m *Manager) Broadcast(data []byte) {
	m.Each(func(s *Session) { s.SendControl(data) })
}

// SendTo sends a control frame to one peer, a no-op when no session
// exists for the id.
func (m *Manager) SendTo(id string, data []byte) {
	if s, err := m.sessions.Find(id); err == nil {
		s.SendControl(data)
	}
}

// ReplaceMic swaps the microphone track on all sessions, used when
// the input device changes mid-call.
func (m *Manager) ReplaceMic(t webrtc.TrackLocal) {
	m.Each(func(s *Session) {
		if err := s.AttachMic(t); err != nil {
			s.log.Error().Err(err).Msg("mic replace")
		}
	})
}

// HandleRoster opens a responder session for every member already
// in the room. The elder side sends the offers, so here we wait.
func (m *Manager) HandleRoster(info api.RoomJoinedInfo) {
	for _, u := range info.Users {
		if _, err := m.Create(u.Id, false); err != nil {
			m.log.Error().Err(err).Msgf("no session for %v", u.Id)
		}
	}
}

// HandleJoin starts an initiating session towards a peer that just
// entered the room.
func (m *Manager) HandleJoin(info api.UserJoinedInfo) {
	if _, err := m.Create(info.From, true); err != nil {
		m.log.Error().Err(err).Msgf("no session for %v", info.From)
	}
}

// HandleLeave tears the leaving peer's session down.
func (m *Manager) HandleLeave(info api.UserLeftInfo) { m.Close(info.From) }

// HandleOffer answers an incoming offer, spinning up a responder
// session on demand and restarting the link when offers crossed.
func (m *Manager) HandleOffer(sig api.Signal) {
	s, err := m.sessions.Find(sig.From)
	if err != nil {
		if s, err = m.Create(sig.From, false); err != nil {
			m.log.Error().Err(err).Msgf("no session for %v", sig.From)
			return
		}
	}
	err = s.HandleOffer(sig.Data)
	if errors.Is(err, ErrGlare) {
		// both sides offered at once, this one restarts as responder
		m.log.Debug().Msgf("offer glare with %v, restarting", sig.From)
		if s, err = m.Create(sig.From, false); err != nil {
			m.log.Error().Err(err).Msgf("no session for %v", sig.From)
			return
		}
		err = s.HandleOffer(sig.Data)
	}
	if err != nil {
		m.log.Error().Err(err).Msgf("offer from %v", sig.From)
	}
}

func (m *Manager) HandleAnswer(sig api.Signal) {
	s, err := m.sessions.Find(sig.From)
	if err != nil {
		m.log.Debug().Msgf("answer from unknown peer %v", sig.From)
		return
	}
	if err = s.HandleAnswer(sig.Data); err != nil {
		m.log.Error().Err(err).Msgf("answer from %v", sig.From)
	}
}

func (m *Manager) HandleCandidate(sig api.Signal) {
	s, err := m.sessions.Find(sig.From)
	if err != nil {
		m.log.Debug().Msgf("candidate from unknown peer %v", sig.From)
		return
	}
	if err = s.AddCandidate(sig.Data); err != nil {
		m.log.Error().Err(err).Msgf("candidate from %v", sig.From)
	}
}
