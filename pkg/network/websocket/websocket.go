// Package websocket contains a thin client socket with asynchronous
// read/write pumps on top of gorilla/websocket.
package websocket

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxmesh/voxmesh/pkg/com"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

type WS struct {
	id   com.Uid
	conn deadlinedConn
	log  *logger.Logger
	send chan []byte
	stop chan struct{}

	// OnMessage is called for every inbound message.
	// Set before Listen.
	OnMessage func(message []byte)

	stopGuard sync.Once
	shutGuard sync.Once

	// Done is closed when the socket is no longer usable.
	Done chan struct{}
}

// NewClient dials the address and returns an unstarted socket.
func NewClient(ctx context.Context, address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, log), nil
}

func newSocket(conn *websocket.Conn, log *logger.Logger) *WS {
	id := com.NewUid()
	return &WS{
		id:   id,
		conn: deadlinedConn{sock: conn, wt: writeWait},
		log:  log.Extend(log.With().Str("sock", id.Short())),
		send: make(chan []byte),
		stop: make(chan struct{}),
		Done: make(chan struct{}),
	}
}

// Listen starts the read/write pumps.
func (ws *WS) Listen() {
	go ws.writer()
	go ws.reader()
}

// Write queues the message for delivery and drops it silently
// when the socket is closing.
func (ws *WS) Write(data []byte) {
	select {
	case ws.send <- data:
	case <-ws.stop:
	}
}

// Close initiates a graceful shutdown: the writer sends a close
// frame and both pumps terminate. Safe to call multiple times.
func (ws *WS) Close() { ws.stopOnce() }

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.shut()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongTime))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongTime)) })
		conn.SetPingHandler(func(m string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			return conn.WriteControl(websocket.PongMessage, []byte(m), time.Now().Add(writeWait))
		})
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.log.Debug().Err(err).Msg("ws read fail")
			}
			return
		}
		if h := ws.OnMessage; h != nil {
			h(message)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (ws *WS) writer() {
	ticker := time.NewTicker(pingTime)
	defer func() {
		ticker.Stop()
		ws.shut()
	}()
	for {
		select {
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				ws.log.Debug().Err(err).Msg("ws write fail")
				return
			}
		case <-ticker.C:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.stop:
			m := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.conn.write(websocket.CloseMessage, m)
			return
		}
	}
}

func (ws *WS) stopOnce() { ws.stopGuard.Do(func() { close(ws.stop) }) }

func (ws *WS) shut() {
	ws.shutGuard.Do(func() {
		ws.stopOnce()
		_ = ws.conn.close()
		close(ws.Done)
		ws.log.Debug().Msg("ws closed")
	})
}
