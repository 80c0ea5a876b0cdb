package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxmesh/voxmesh/pkg/logger"
)

var upgrader = websocket.Upgrader{}

func echoServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade fail: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			mt, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err = conn.WriteMessage(mt, message); err != nil {
				return
			}
		}
	}))
}

func wsAddr(s *httptest.Server) url.URL {
	u, _ := url.Parse("ws" + strings.TrimPrefix(s.URL, "http"))
	return *u
}

func TestClientEcho(t *testing.T) {
	s := echoServer(t)
	defer s.Close()

	ws, err := NewClient(context.Background(), wsAddr(s), logger.Default())
	if err != nil {
		t.Fatalf("dial fail: %v", err)
	}
	got := make(chan []byte, 1)
	ws.OnMessage = func(m []byte) { got <- m }
	ws.Listen()
	defer ws.Close()

	ws.Write([]byte("ping!"))
	select {
	case m := <-got:
		if string(m) != "ping!" {
			t.Errorf("unexpected echo: %v", string(m))
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no echo")
	}
}

func TestClientClose(t *testing.T) {
	s := echoServer(t)
	defer s.Close()

	ws, err := NewClient(context.Background(), wsAddr(s), logger.Default())
	if err != nil {
		t.Fatalf("dial fail: %v", err)
	}
	ws.Listen()

	ws.Close()
	ws.Close()
	select {
	case <-ws.Done:
	case <-time.After(3 * time.Second):
		t.Fatalf("the socket didn't close")
	}
	// writes after close should not panic or block
	ws.Write([]byte("late"))
}

func TestClientServerDrop(t *testing.T) {
	s := echoServer(t)

	ws, err := NewClient(context.Background(), wsAddr(s), logger.Default())
	if err != nil {
		t.Fatalf("dial fail: %v", err)
	}
	ws.Listen()

	s.CloseClientConnections()
	select {
	case <-ws.Done:
	case <-time.After(3 * time.Second):
		t.Fatalf("the drop was not detected")
	}
}
