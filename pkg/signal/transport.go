// Package signal maintains the client side of the relay signaling
// channel: a single authenticated socket with typed packet dispatch.
package signal

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/goccy/go-json"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/com"
	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/event"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/network/websocket"
)

var (
	ErrAuthFailed = errors.New("signal: auth failed")
	ErrClosed     = errors.New("signal: closed")
)

type State uint8

const (
	Disconnected State = iota
	Connecting
	Open
)

// CloseEvent tells whether the socket closed on request (Disconnect)
// or dropped on its own.
type CloseEvent struct {
	Requested bool
}

type attempt struct {
	done chan struct{}
	err  error
}

// Transport is the reconnecting, authenticated signaling channel.
// All inbound packets are dispatched sequentially on the socket
// reader goroutine, preserving the relay's per-peer ordering.
type Transport struct {
	conf config.Signal
	log  *logger.Logger

	mu        sync.Mutex
	state     State
	sock      *websocket.WS
	attempt   *attempt
	authCh    chan bool
	queue     [][]byte
	requested bool

	OnOpen  event.Emitter[struct{}]
	OnClose event.Emitter[CloseEvent]

	RoomJoined event.Emitter[api.RoomJoinedInfo]
	UserJoined event.Emitter[api.UserJoinedInfo]
	UserLeft   event.Emitter[api.UserLeftInfo]
	Offer      event.Emitter[api.Signal]
	Answer     event.Emitter[api.Signal]
	Ice        event.Emitter[api.Signal]
	Chat       event.Emitter[api.ChatInfo]
	Typing     event.Emitter[api.TypingInfo]
}

func NewTransport(conf config.Signal, log *logger.Logger) *Transport {
	return &Transport{conf: conf, log: log.Extend(log.With().Str("s", "sig"))}
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect opens the socket and authenticates with the relay.
// Concurrent calls share a single connection attempt; a call made
// while the channel is already open returns immediately.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == Open {
		t.mu.Unlock()
		return nil
	}
	if t.attempt != nil {
		a := t.attempt
		t.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &attempt{done: make(chan struct{})}
	t.attempt = a
	t.state = Connecting
	t.requested = false
	t.authCh = make(chan bool, 1)
	t.mu.Unlock()

	err := t.dial(ctx)

	t.mu.Lock()
	a.err = err
	t.attempt = nil
	if err != nil {
		t.state = Disconnected
		if n := len(t.queue); n > 0 {
			t.log.Debug().Msgf("dropping %v queued packets", n)
			t.queue = nil
		}
	} else {
		t.state = Open
		for _, raw := range t.queue {
			t.sock.Write(raw)
		}
		t.queue = nil
	}
	t.mu.Unlock()
	close(a.done)

	if err == nil {
		t.OnOpen.Emit(struct{}{})
	}
	return err
}

func (t *Transport) dial(ctx context.Context) error {
	addr, err := url.Parse(t.conf.Address)
	if err != nil {
		return err
	}
	sock, err := websocket.NewClient(ctx, *addr, t.log)
	if err != nil {
		return err
	}
	sock.OnMessage = t.handleMessage
	sock.Listen()
	go t.watch(sock)

	t.mu.Lock()
	t.sock = sock
	t.mu.Unlock()

	t.write(api.Auth, api.AuthRequest{Token: t.conf.Token})

	select {
	case ok := <-t.authCh:
		if !ok {
			sock.Close()
			return ErrAuthFailed
		}
		t.log.Info().Msg("authenticated")
		return nil
	case <-sock.Done:
		return ErrClosed
	case <-ctx.Done():
		sock.Close()
		return ctx.Err()
	}
}

// watch emits the close event once the underlying socket dies.
func (t *Transport) watch(sock *websocket.WS) {
	<-sock.Done
	t.mu.Lock()
	stale := t.sock != sock
	requested := t.requested
	if !stale {
		t.sock = nil
		t.state = Disconnected
	}
	t.mu.Unlock()
	if !stale {
		t.OnClose.Emit(CloseEvent{Requested: requested})
	}
}

// Send delivers a packet to the relay. Packets submitted while the
// handshake is still in flight are queued and flushed in order after
// the relay acknowledges auth; packets submitted when the channel is
// down are dropped silently.
func (t *Transport) Send(pt api.PT, payload any) {
	raw, err := json.Marshal(&api.Out{Id: com.NewUid().String(), T: uint8(pt), Payload: payload})
	if err != nil {
		t.log.Error().Err(err).Msgf("encode fail %v", pt)
		return
	}
	t.mu.Lock()
	switch t.state {
	case Open:
		sock := t.sock
		t.mu.Unlock()
		sock.Write(raw)
		return
	case Connecting:
		t.queue = append(t.queue, raw)
	case Disconnected:
		t.log.Debug().Msgf("skip %v, channel is down", pt)
	}
	t.mu.Unlock()
}

// Disconnect closes the channel and marks the closure as requested,
// so it is never mistaken for a drop.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.requested = true
	sock := t.sock
	t.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

func (t *Transport) write(pt api.PT, payload any) {
	raw, err := json.Marshal(&api.Out{Id: com.NewUid().String(), T: uint8(pt), Payload: payload})
	if err != nil {
		t.log.Error().Err(err).Msgf("encode fail %v", pt)
		return
	}
	t.mu.Lock()
	sock := t.sock
	t.mu.Unlock()
	if sock != nil {
		sock.Write(raw)
	}
}
