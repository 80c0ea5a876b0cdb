// Package client wires the voice chat together: the relay link, the
// session mesh, local audio in both directions, the screen share and
// the supporting services, behind one facade.
package client

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/audio"
	"github.com/voxmesh/voxmesh/pkg/com"
	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/event"
	"github.com/voxmesh/voxmesh/pkg/ice"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/monitoring"
	"github.com/voxmesh/voxmesh/pkg/os"
	"github.com/voxmesh/voxmesh/pkg/recorder"
	"github.com/voxmesh/voxmesh/pkg/screen"
	"github.com/voxmesh/voxmesh/pkg/session"
	"github.com/voxmesh/voxmesh/pkg/settings"
	"github.com/voxmesh/voxmesh/pkg/signal"
	"github.com/voxmesh/voxmesh/pkg/sounds"
	"github.com/voxmesh/voxmesh/pkg/storage"
)

var (
	// ErrJoinInFlight refuses a Join that overlaps another one, the
	// running join finishes undisturbed.
	ErrJoinInFlight = errors.New("client: join already in progress")
	// ErrLinkLost is the terminal outage error, reported once after
	// the reconnect attempts ran out.
	ErrLinkLost = errors.New("client: connection lost")
)

// VideoTrack is an incoming screen share surfaced to the renderer.
type VideoTrack struct {
	Peer  string
	Track *webrtc.TrackRemote
}

// Client is one user's seat in a room. It owns the signaling link
// and every component hanging off it, and stays in exactly one room
// at a time: joining another tears the current one down first.
type Client struct {
	conf config.Config
	log  *logger.Logger

	transport *signal.Transport
	ice       *ice.Provider
	manager   *session.Manager
	pipeline  *audio.Pipeline
	player    *audio.Player
	share     *screen.Controller
	store     *settings.Store
	bank      *sounds.Bank
	rec       *recorder.Recording
	sup       *Supervisor

	mu      sync.Mutex
	room    string
	joining bool
	joined  chan api.RoomJoinedInfo

	peers   com.Map[string, PeerState]
	handles []*event.Handle

	// OnPeerState fires whenever a member's presence or flags change,
	// including the final Gone update.
	OnPeerState event.Emitter[PeerState]
	// OnVideoTrack hands incoming share tracks to a renderer.
	OnVideoTrack event.Emitter[VideoTrack]
	OnChat       event.Emitter[api.ChatInfo]
	OnTyping     event.Emitter[api.TypingInfo]
	// OnDroppedOut fires once when reconnection gave up and the room
	// state was dropped.
	OnDroppedOut event.Emitter[error]
}

// New builds the full client. The audio host and the display capture
// come from the caller so the stack runs headless under tests.
func New(conf config.Config, host audio.Opener, capture screen.Capturer, log *logger.Logger) (*Client, error) {
	alog := log.Extend(log.With().Str("s", "app"))

	dir := conf.Client.CacheDir
	if dir == "" {
		dir = os.HomeDir()
	}
	store, err := settings.NewStore(settings.Settings{Media: conf.Media, Screen: conf.Screen}, dir, log)
	if err != nil {
		return nil, err
	}
	sett := store.Get()

	transport := signal.NewTransport(conf.Signal, log)
	prov := ice.NewProvider(conf.Webrtc, conf.Signal.Token, dir, log)
	factory, err := session.NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		return nil, err
	}
	policy := session.OpusParams{
		Bitrate: sett.Media.Opus.Bitrate,
		Stereo:  sett.Media.Channels == 2,
		FEC:     sett.Media.Opus.FEC,
	}
	manager := session.NewManager(factory, prov, transport, policy, log)

	pipeline, err := audio.NewPipeline(sett.Media, host, log)
	if err != nil {
		return nil, err
	}
	player := audio.NewPlayer(sett.Media, host, log)

	c := &Client{
		conf:      conf,
		log:       alog,
		transport: transport,
		ice:       prov,
		manager:   manager,
		pipeline:  pipeline,
		player:    player,
		store:     store,
		peers:     com.NewMap[string, PeerState](),
	}
	c.share = screen.NewController(sett.Screen, capture, managerPeers{manager}, log)
	c.bank = sounds.NewBank(conf.Sounds, sett.Media, player, log)
	c.sup = NewSupervisor(conf.Client.Reconnect, c.redial, log)

	st, err := storage.GetCloudStorage(conf.Storage)
	if err != nil {
		alog.Warn().Err(err).Msg("cloud storage")
	}
	rec, err := recorder.NewRecording(
		recorder.Meta{User: conf.Client.Username}, st, log,
		recorder.Options{
			Dir:      conf.Recording.Folder,
			Name:     conf.Recording.Name,
			MixRate:  sett.Media.SampleRate,
			MicRate:  sett.Media.SampleRate,
			Channels: sett.Media.Channels,
			Zip:      conf.Recording.Zip,
		})
	if err != nil {
		alog.Warn().Err(err).Msg("recorder unavailable")
	} else {
		c.rec = rec
		player.SetTap(rec.WriteMix)
		pipeline.SetTap(rec.WriteMic)
	}

	c.wire()
	if err := store.Watch(); err != nil {
		alog.Warn().Err(err).Msg("settings watch")
	}
	if conf.Sounds.Enabled {
		go func() {
			if err := c.bank.Sync(); err != nil {
				alog.Warn().Err(err).Msg("sound bank")
			}
		}()
	}
	return c, nil
}

// Join connects to the relay and enters the room. Joining from
// another room leaves it first, sessions and local media included,
// before anything of the new room comes up. A Join that overlaps a
// running one is refused.
func (c *Client) Join(ctx context.Context, room string) error {
	c.mu.Lock()
	if c.joining {
		c.mu.Unlock()
		return ErrJoinInFlight
	}
	c.joining = true
	prev := c.room
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.joining = false
		c.mu.Unlock()
	}()

	c.sup.Disarm()
	// kicks a credential refresh before the sessions need the list
	c.ice.Servers()
	if prev != "" {
		c.teardown(true)
	}
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	if err := c.enter(ctx, room); err != nil {
		return err
	}
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()

	c.startMedia()
	if c.conf.Recording.Enabled && c.rec != nil {
		if err := c.rec.Set(true, recorder.Meta{Room: room, User: c.conf.Client.Username}); err != nil {
			c.log.Warn().Err(err).Msg("recording start")
		}
	}
	c.sup.Arm()
	c.bank.Play(sounds.Joined)
	c.log.Info().Msgf("joined %v", room)
	return nil
}

// enter runs the room round trip: the join request out, the roster
// back. The roster handler processes the members before the ack
// lands here, so sessions exist when enter returns.
func (c *Client) enter(ctx context.Context, room string) error {
	ack := make(chan api.RoomJoinedInfo, 1)
	c.mu.Lock()
	c.joined = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.joined == ack {
			c.joined = nil
		}
		c.mu.Unlock()
	}()

	c.transport.Send(api.Join, api.JoinRequest{Rid: room, Username: c.conf.Client.Username})
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startMedia brings the local audio up. A missing device downgrades
// the call instead of failing the join, the state stays queryable.
func (c *Client) startMedia() {
	if err := c.pipeline.Acquire(); err != nil {
		c.log.Warn().Err(err).Msg("mic unavailable, joining receive only")
	}
	if err := c.player.Start(); err != nil {
		c.log.Warn().Err(err).Msg("playback unavailable")
	}
}

// redial is the supervisor's recovery step: reconnect the relay and
// redo the room round trip. Sessions from before the drop are dead
// weight, the rejoin roster brings fresh ones up. The share track
// survives and reattaches with the new sessions.
func (c *Client) redial(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == "" {
		return nil
	}
	c.manager.CloseAll()
	c.trackSessions()
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	return c.enter(ctx, room)
}

// Leave exits the room, keeping the relay link up so the next Join
// is cheap. Safe to call when not in a room.
func (c *Client) Leave() {
	c.sup.Disarm()
	c.mu.Lock()
	in := c.room != ""
	c.mu.Unlock()
	if in {
		c.teardown(true)
		c.log.Info().Msg("left the room")
	}
}

// Close ends everything: the room, the relay link, the watchers and
// the background services. The client is done afterwards.
func (c *Client) Close() {
	c.sup.Disarm()
	c.mu.Lock()
	in := c.room != ""
	c.mu.Unlock()
	if in {
		c.teardown(true)
	}
	c.transport.Disconnect()
	c.store.Close()
	for _, h := range c.handles {
		h.Close()
	}
	c.log.Info().Msg("client closed")
}

// teardown unwinds the room: the share, every session, the local
// media, the recording take and the roster. The relay link is the
// caller's business, Leave keeps it and Close drops it.
func (c *Client) teardown(notify bool) {
	if notify {
		c.transport.Send(api.Leave, struct{}{})
	}
	c.share.Stop()
	monitoring.ScreenTier.Set(-1)
	c.manager.CloseAll()
	c.pipeline.Release()
	c.player.Stop()
	if c.rec != nil {
		_ = c.rec.Stop()
	}
	c.clearRoster()
	c.mu.Lock()
	c.room = ""
	c.mu.Unlock()
	c.trackSessions()
}

func (c *Client) clearRoster() {
	c.mu.Lock()
	list := c.peers.Drain()
	c.mu.Unlock()
	for _, st := range list {
		st.Gone = true
		c.OnPeerState.Emit(st)
	}
}

// SetMuted flips the outgoing mute. Unmuting while deafened lifts
// the deafen too, nobody unmutes to keep hearing nothing.
func (c *Client) SetMuted(on bool) {
	if !on && c.pipeline.Deafened() {
		c.SetDeafened(false)
	}
	c.pipeline.SetMuted(on)
	if on {
		c.bank.Play(sounds.Muted)
	} else {
		c.bank.Play(sounds.Unmuted)
	}
	c.announce("")
}

// SetDeafened gates all playback and forces the mute with it.
// Lifting the deafen leaves the mute in place.
func (c *Client) SetDeafened(on bool) {
	c.pipeline.SetDeafened(on)
	c.player.SetDeafened(on)
	c.announce("")
}

// PushToTalk tracks the talk key, meaningful in push to talk mode.
func (c *Client) PushToTalk(held bool) { c.pipeline.PushToTalk(held) }

// StartShare begins the screen share at the named preset, empty for
// the configured one.
func (c *Client) StartShare(preset string) error {
	if err := c.share.Start(preset); err != nil {
		return err
	}
	monitoring.ScreenTier.Set(float64(screen.TierIndex(c.share.Tier())))
	return nil
}

// StopShare ends the share, a no-op when none runs.
func (c *Client) StopShare() {
	c.share.Stop()
	monitoring.ScreenTier.Set(-1)
}

// SetVolume adjusts one member's playback level and persists it.
func (c *Client) SetVolume(peer string, v float64) {
	c.player.SetVolume(peer, v)
	if err := c.store.Update(func(s *settings.Settings) {
		if s.Volumes == nil {
			s.Volumes = map[string]float64{}
		}
		s.Volumes[peer] = v
	}); err != nil {
		c.log.Warn().Err(err).Msg("volume save")
	}
}

// SetRecording flips the call recording for the current room.
func (c *Client) SetRecording(on bool) error {
	if c.rec == nil {
		return errors.New("client: recorder unavailable")
	}
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	return c.rec.Set(on, recorder.Meta{Room: room, User: c.conf.Client.Username})
}

// SendChat posts a text line to the room.
func (c *Client) SendChat(text string) {
	c.transport.Send(api.Chat, api.ChatInfo{Text: text})
}

// SendTyping shares the typing indicator state.
func (c *Client) SendTyping(active bool) {
	c.transport.Send(api.Typing, api.TypingInfo{Active: active})
}

// Roster lists the known room members in stable order.
func (c *Client) Roster() []PeerState {
	list := c.peers.List()
	sort.Slice(list, func(i, j int) bool { return list[i].Id < list[j].Id })
	return list
}

func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) Muted() bool    { return c.pipeline.Muted() }
func (c *Client) Deafened() bool { return c.pipeline.Deafened() }
func (c *Client) Speaking() bool { return c.pipeline.Speaking() }
func (c *Client) Sharing() bool  { return c.share.Sharing() }

// Recording reports whether a take is currently running.
func (c *Client) Recording() bool { return c.rec != nil && c.rec.Enabled() }

func (c *Client) trackSessions() {
	monitoring.ActiveSessions.Set(float64(c.manager.Len()))
}

// managerPeers exposes the session mesh to the share controller.
type managerPeers struct{ m *session.Manager }

func (a managerPeers) Each(fn func(screen.Peer)) {
	a.m.Each(func(s *session.Session) { fn(s) })
}
