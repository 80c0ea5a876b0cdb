package client

import (
	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/event"
	"github.com/voxmesh/voxmesh/pkg/monitoring"
	"github.com/voxmesh/voxmesh/pkg/screen"
	"github.com/voxmesh/voxmesh/pkg/settings"
	"github.com/voxmesh/voxmesh/pkg/signal"
	"github.com/voxmesh/voxmesh/pkg/sounds"
)

// wire hooks every component into the client. Relay packets route to
// the session mesh, mesh callbacks route to playback and presence,
// and the local state changes fan back out.
func (c *Client) wire() {
	c.manager.Mic = c.pipeline.Track
	c.manager.Screen = c.share.Track
	c.manager.OnPeerTrack = c.handlePeerTrack
	c.manager.OnPeerControl = c.handlePeerControl
	c.manager.OnPeerReady = c.announce
	c.manager.OnPeerGone = c.handlePeerGone
	c.manager.OnKeyframe = func(string) { c.share.ForceKeyframe() }

	c.sub(c.transport.RoomJoined.Subscribe(c.handleRoomJoined))
	c.sub(c.transport.UserJoined.Subscribe(c.handleUserJoined))
	c.sub(c.transport.UserLeft.Subscribe(c.handleUserLeft))
	c.sub(c.transport.Offer.Subscribe(c.manager.HandleOffer))
	c.sub(c.transport.Answer.Subscribe(c.manager.HandleAnswer))
	c.sub(c.transport.Ice.Subscribe(c.manager.HandleCandidate))
	c.sub(c.transport.Chat.Subscribe(func(m api.ChatInfo) { c.OnChat.Emit(m) }))
	c.sub(c.transport.Typing.Subscribe(func(m api.TypingInfo) { c.OnTyping.Emit(m) }))
	c.sub(c.transport.OnClose.Subscribe(c.handleLinkDown))

	c.sub(c.pipeline.OnSpeaking.Subscribe(c.handleSpeaking))
	c.sub(c.share.OnTier.Subscribe(func(t screen.Tier) {
		monitoring.ScreenTier.Set(float64(screen.TierIndex(t)))
	}))
	c.sub(c.share.OnEnded.Subscribe(func(error) { monitoring.ScreenTier.Set(-1) }))
	c.sub(c.store.OnChange.Subscribe(c.applySettings))
	c.sub(c.sup.OnRecovered.Subscribe(c.handleRecovered))
	c.sub(c.sup.OnGaveUp.Subscribe(c.handleGaveUp))
}

func (c *Client) sub(h *event.Handle) { c.handles = append(c.handles, h) }

// handleRoomJoined reconciles the roster against the known members
// and releases a waiting join. On a plain join the map is empty, on
// a rejoin members who left during the outage get their Gone update.
func (c *Client) handleRoomJoined(info api.RoomJoinedInfo) {
	c.log.Info().Msgf("room %v, %v member(s)", info.Rid, len(info.Users))
	c.manager.HandleRoster(info)

	fresh := make(map[string]bool, len(info.Users))
	for _, u := range info.Users {
		fresh[u.Id] = true
	}
	var gone, updated []PeerState
	c.mu.Lock()
	for _, old := range c.peers.List() {
		if !fresh[old.Id] {
			c.peers.RemoveByKey(old.Id)
			old.Gone = true
			gone = append(gone, old)
		}
	}
	for _, u := range info.Users {
		st, err := c.peers.Find(u.Id)
		if err != nil {
			st = PeerState{Id: u.Id}
		}
		st.Username = u.Username
		c.peers.Put(u.Id, st)
		updated = append(updated, st)
	}
	ack := c.joined
	c.joined = nil
	c.mu.Unlock()

	for _, st := range gone {
		c.player.Drop(st.Id)
		c.OnPeerState.Emit(st)
	}
	for _, st := range updated {
		c.OnPeerState.Emit(st)
	}
	c.trackSessions()
	if ack != nil {
		ack <- info
	}
}

func (c *Client) handleUserJoined(info api.UserJoinedInfo) {
	c.manager.HandleJoin(info)
	st := PeerState{Id: info.From, Username: info.Username}
	c.mu.Lock()
	c.peers.Put(info.From, st)
	c.mu.Unlock()
	c.OnPeerState.Emit(st)
	c.bank.Play(sounds.Joined)
	c.trackSessions()
}

func (c *Client) handleUserLeft(info api.UserLeftInfo) {
	c.manager.HandleLeave(info)
	c.dropPeer(info.From)
	c.trackSessions()
}

// handlePeerGone fires for sessions that died on their own, without
// a leave from the relay.
func (c *Client) handlePeerGone(peer string) {
	c.dropPeer(peer)
	c.trackSessions()
}

func (c *Client) dropPeer(id string) {
	c.player.Drop(id)
	c.mu.Lock()
	st, ok := c.peers.Pop(id)
	c.mu.Unlock()
	if !ok {
		return
	}
	st.Gone = true
	c.OnPeerState.Emit(st)
	c.bank.Play(sounds.Left)
}

func (c *Client) handlePeerTrack(peer string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		c.player.Play(peer, track)
		return
	}
	c.OnVideoTrack.Emit(VideoTrack{Peer: peer, Track: track})
}

// handlePeerControl folds a peer's state frame into the roster.
// Frames that don't parse or carry an unknown kind are dropped.
func (c *Client) handlePeerControl(peer string, data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		c.log.Debug().Err(err).Str("p", peer).Msg("bad control frame")
		return
	}
	if f.Kind != ctrlState {
		return
	}
	c.mu.Lock()
	st, errFind := c.peers.Find(peer)
	if errFind != nil {
		st = PeerState{Id: peer}
	}
	st.Speaking, st.Muted, st.Deafened = f.Speaking, f.Muted, f.Deafened
	c.peers.Put(peer, st)
	c.mu.Unlock()
	c.OnPeerState.Emit(st)
}

// announce mirrors the local flags to one peer, or to everyone with
// an empty id.
func (c *Client) announce(peer string) {
	data, err := encodeState(c.pipeline.Speaking(), c.pipeline.Muted(), c.pipeline.Deafened())
	if err != nil {
		c.log.Error().Err(err).Msg("state encode")
		return
	}
	if peer == "" {
		c.manager.Broadcast(data)
		return
	}
	c.manager.SendTo(peer, data)
}

func (c *Client) handleSpeaking(bool) {
	monitoring.SpeakingFlips.Inc()
	c.announce("")
}

func (c *Client) handleLinkDown(ev signal.CloseEvent) {
	if ev.Requested {
		return
	}
	if c.sup.Armed() {
		c.bank.Play(sounds.Disconnected)
	}
	c.sup.Kick()
}

func (c *Client) handleRecovered(int) {
	c.bank.Play(sounds.Connected)
	c.trackSessions()
}

func (c *Client) handleGaveUp(err error) {
	c.teardown(false)
	c.OnDroppedOut.Emit(err)
}

// applySettings pushes an edited settings file into the live stack.
// Audio knobs land immediately, screen changes wait for the next
// share start.
func (c *Client) applySettings(s settings.Settings) {
	if err := c.pipeline.Apply(s.Media); err != nil {
		c.log.Warn().Err(err).Msg("capture settings")
	}
	if err := c.player.Apply(s.Media); err != nil {
		c.log.Warn().Err(err).Msg("playback settings")
	}
	for peer, v := range s.Volumes {
		c.player.SetVolume(peer, v)
	}
	c.share.Apply(s.Screen)
}
