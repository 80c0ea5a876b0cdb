// Package session negotiates and owns the peer-to-peer media links
// of the current room, one session per remote member.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

// ErrGlare marks an incoming offer that crossed one we already sent.
var ErrGlare = errors.New("offer collision")

const controlLabel = "ctrl"

// negotiationDelay collapses a burst of track changes into a single
// offer/answer exchange.
const negotiationDelay = 150 * time.Millisecond

// Session is one peer-to-peer media link to another room member.
// Inbound signaling goes through HandleOffer, HandleAnswer, and
// AddCandidate; outbound descriptions and candidates leave through
// OnSignal.
type Session struct {
	id   string
	log  *logger.Logger
	conn *webrtc.PeerConnection

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	audio     *webrtc.RTPSender
	screen    *webrtc.RTPSender
	ctrl      *webrtc.DataChannel
	closed    bool
	initiator bool

	policy    Policy
	negotiate func(f func())

	OnSignal    func(t api.PT, data string)
	OnTrack     func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver)
	OnControl   func(data []byte)
	OnControlUp func()
	OnKeyframe  func()
	OnDown      func()
}

func newSession(id string, initiator bool, conn *webrtc.PeerConnection, policy Policy, log *logger.Logger) *Session {
	s := &Session{
		id:        id,
		log:       log,
		conn:      conn,
		initiator: initiator,
		policy:    policy,
		negotiate: debounce.New(negotiationDelay),
	}
	conn.OnICECandidate(s.handleICECandidate)
	conn.OnConnectionStateChange(s.handleState)
	conn.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		s.log.Debug().Msgf("remote [%v] track %v", track.Kind(), track.ID())
		if s.OnTrack != nil {
			s.OnTrack(track, recv)
		}
	})
	conn.OnDataChannel(func(ch *webrtc.DataChannel) {
		if ch.Label() == controlLabel {
			s.bindControl(ch)
		}
	})
	return s
}

func (s *Session) Id() string      { return s.id }
func (s *Session) Initiator() bool { return s.initiator }

func (s *Session) SignalingState() webrtc.SignalingState {
	return s.conn.SignalingState()
}

func (s *Session) ConnectionState() webrtc.PeerConnectionState {
	return s.conn.ConnectionState()
}

// Offer starts negotiation right away. Renegotiations should go
// through Negotiate so several track changes collapse into one
// exchange.
func (s *Session) Offer() { s.offer() }

func (s *Session) Negotiate() { s.negotiate(s.offer) }

func (s *Session) offer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.conn.SignalingState() != webrtc.SignalingStateStable {
		// mid-exchange, track changes ride along with the pending one
		return
	}
	offer, err := s.conn.CreateOffer(nil)
	if err != nil {
		s.log.Error().Err(err).Msg("create offer")
		return
	}
	if err = s.conn.SetLocalDescription(offer); err != nil {
		s.log.Error().Err(err).Msg("set local offer")
		return
	}
	s.log.Debug().Msg("-> offer")
	s.dispatch(api.Offer, offer)
}

// HandleOffer runs the responder side of the exchange. The current
// signaling state picks the branch, so offer races resolve here
// instead of surfacing as failures:
//   - stable is a fresh offer, answer it;
//   - have-local-offer means offers crossed, ErrGlare tells the
//     caller to restart this session as a responder;
//   - pranswer states just take the description.
func (s *Session) HandleOffer(data string) error {
	var offer webrtc.SessionDescription
	if err := api.FromBase64Json(data, &offer); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	switch s.conn.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		return ErrGlare
	case webrtc.SignalingStateHaveLocalPranswer, webrtc.SignalingStateHaveRemotePranswer:
		return s.setRemote(offer)
	}
	if err := s.setRemote(offer); err != nil {
		return err
	}
	return s.answer()
}

// HandleAnswer completes our outstanding offer. Answers landing on
// an already stable link are dropped as benign reconnect races, and
// ones that cannot apply after crossed offers are swallowed too.
func (s *Session) HandleAnswer(data string) error {
	var answer webrtc.SessionDescription
	if err := api.FromBase64Json(data, &answer); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.conn.SignalingState() == webrtc.SignalingStateStable {
		s.log.Debug().Msg("answer on a stable link, dropped")
		return nil
	}
	if err := s.setRemote(answer); err != nil {
		s.log.Warn().Err(err).Msg("answer not applicable")
	}
	return nil
}

// AddCandidate applies a remote candidate now or, when it raced
// ahead of its description, after that description arrives.
func (s *Session) AddCandidate(data string) error {
	var candidate webrtc.ICECandidateInit
	if err := api.FromBase64Json(data, &candidate); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.conn.RemoteDescription() == nil {
		s.pending = append(s.pending, candidate)
		s.log.Debug().Msgf("candidate queued, %v pending", len(s.pending))
		return nil
	}
	return s.conn.AddICECandidate(candidate)
}

// setRemote applies the description and drains, in arrival order,
// the candidates held back while it was missing. Callers must hold
// the mutex.
func (s *Session) setRemote(sd webrtc.SessionDescription) error {
	if err := s.conn.SetRemoteDescription(sd); err != nil {
		return err
	}
	queued := s.pending
	s.pending = nil
	for _, c := range queued {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.log.Error().Err(err).Str("candidate", c.Candidate).Msg("queued candidate")
		}
	}
	return nil
}

// answer replies to the freshly set remote offer. Callers must hold
// the mutex.
func (s *Session) answer() error {
	answer, err := s.conn.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err = s.conn.SetLocalDescription(answer); err != nil {
		return err
	}
	s.log.Debug().Msg("-> answer")
	s.dispatch(api.Answer, answer)
	return nil
}

// dispatch pushes a local description out with the policy rewrite
// applied to the wire copy only, pion keeps the original.
func (s *Session) dispatch(t api.PT, sd webrtc.SessionDescription) {
	sd.SDP = s.policy.Apply(sd.SDP)
	data, err := api.ToBase64Json(sd)
	if err != nil {
		s.log.Error().Err(err).Msgf("%v encode", t)
		return
	}
	if s.OnSignal != nil {
		s.OnSignal(t, data)
	}
}

func (s *Session) handleICECandidate(ice *webrtc.ICECandidate) {
	if ice == nil {
		s.log.Debug().Msg("ICE gathering was complete probably")
		return
	}
	candidate := ice.ToJSON()
	data, err := api.ToBase64Json(candidate)
	if err != nil {
		s.log.Error().Err(err).Msg("candidate encode")
		return
	}
	s.log.Debug().Str("candidate", candidate.Candidate).Msg("ICE")
	if s.OnSignal != nil {
		s.OnSignal(api.IceCandidate, data)
	}
}

func (s *Session) handleState(state webrtc.PeerConnectionState) {
	s.log.Debug().Str(".state", state.String()).Msg("peer")
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.log.Info().Msg("peer link up")
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		if s.OnDown != nil {
			go s.OnDown()
		}
	}
}

// AddTrack plugs a local track in and keeps its RTCP feed drained.
func (s *Session) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := s.conn.AddTrack(t)
	if err != nil {
		return nil, err
	}
	go s.readRTCP(sender)
	return sender, nil
}

// readRTCP watches a sender's feedback for keyframe requests, the
// rest just keeps the interceptors fed.
func (s *Session) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok && s.OnKeyframe != nil {
				s.OnKeyframe()
			}
		}
	}
}

// AttachMic adds the microphone track, or swaps it in place when one
// is already flowing (a device change needs no renegotiation then).
func (s *Session) AttachMic(t webrtc.TrackLocal) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	sender := s.audio
	s.mu.Unlock()
	if sender != nil {
		return sender.ReplaceTrack(t)
	}
	sender, err := s.AddTrack(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.audio = sender
	s.mu.Unlock()
	s.Negotiate()
	return nil
}

// AttachScreen adds the share track once and renegotiates; repeated
// attach calls are no-ops until DetachScreen drops the sender.
func (s *Session) AttachScreen(t webrtc.TrackLocal) error {
	s.mu.Lock()
	if s.closed || s.screen != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	sender, err := s.AddTrack(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.screen = sender
	s.mu.Unlock()
	s.Negotiate()
	return nil
}

// DetachScreen removes the share sender and renegotiates the link
// back down. Safe to call when nothing is attached.
func (s *Session) DetachScreen() {
	s.mu.Lock()
	sender := s.screen
	s.screen = nil
	s.mu.Unlock()
	if sender == nil {
		return
	}
	if err := s.conn.RemoveTrack(sender); err != nil {
		s.log.Error().Err(err).Msg("screen detach")
		return
	}
	s.Negotiate()
}

// Sharing tells whether the share track is attached to this link.
func (s *Session) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen != nil
}

// openControl opens the state sync channel. Only the initiator side
// calls it so exactly one channel exists per link.
func (s *Session) openControl() error {
	ch, err := s.conn.CreateDataChannel(controlLabel, nil)
	if err != nil {
		return err
	}
	s.bindControl(ch)
	return nil
}

func (s *Session) bindControl(ch *webrtc.DataChannel) {
	ch.OnOpen(func() {
		s.log.Debug().Str("label", ch.Label()).Msg("control channel open")
		if s.OnControlUp != nil {
			s.OnControlUp()
		}
	})
	ch.OnError(func(err error) { s.log.Error().Err(err).Msg("control channel") })
	ch.OnMessage(func(m webrtc.DataChannelMessage) {
		if len(m.Data) == 0 {
			return
		}
		if s.OnControl != nil {
			s.OnControl(m.Data)
		}
	})
	ch.OnClose(func() { s.log.Debug().Msg("control channel closed") })
	s.mu.Lock()
	s.ctrl = ch
	s.mu.Unlock()
}

// SendControl pushes a state frame to the peer, dropping it silently
// while the channel is not open yet.
func (s *Session) SendControl(data []byte) {
	s.mu.Lock()
	ch := s.ctrl
	s.mu.Unlock()
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	if err := ch.Send(data); err != nil {
		s.log.Error().Err(err).Msg("control send")
	}
}

// OutboundStats reports the ICE estimate of available outgoing
// bandwidth in bps and the total transport bytes sent.
func (s *Session) OutboundStats() (bitrate float64, bytes uint64) {
	for _, st := range s.conn.GetStats() {
		switch v := st.(type) {
		case webrtc.ICECandidatePairStats:
			if v.AvailableOutgoingBitrate > bitrate {
				bitrate = v.AvailableOutgoingBitrate
			}
		case webrtc.TransportStats:
			bytes += v.BytesSent
		}
	}
	return bitrate, bytes
}

// Close tears the link down and drops every queued or attached
// resource. Repeated and concurrent calls collapse into one.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.audio = nil
	s.screen = nil
	s.ctrl = nil
	s.mu.Unlock()
	if err := s.conn.Close(); err != nil {
		// usually DTLS noise when the transport is gone already
		s.log.Debug().Err(err).Msg("peer close")
	}
	s.log.Debug().Msg("session closed")
}
