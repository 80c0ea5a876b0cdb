package ice

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

const fetchBody = `{
  "iceServers": [
    {"urls": "stun:stun.example.com:3478"},
    {"urls": ["turn:turn.example.com:3478?transport=udp", "turn:turn.example.com:443?transport=tcp"],
     "username": "u1", "credential": "c1", "ttl": 86400}
  ],
  "ttl": 86400
}`

type iceEndpoint struct {
	*httptest.Server
	hits int32
	fail int32
	body string
}

func newIceEndpoint(t *testing.T, body string) *iceEndpoint {
	e := &iceEndpoint{body: body}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&e.hits, 1)
		if atomic.LoadInt32(&e.fail) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("wrong auth header: %v", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(e.body))
	}))
	return e
}

func (e *iceEndpoint) n() int32 { return atomic.LoadInt32(&e.hits) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %v", what)
}

func TestServersDefault(t *testing.T) {
	p := NewProvider(config.Webrtc{}, "", "", logger.Default())
	list := p.Servers()
	if len(list) == 0 {
		t.Fatalf("expected a non-empty default list")
	}
	for _, s := range list {
		if len(s.URLs) == 0 {
			t.Errorf("server without urls: %+v", s)
		}
	}
}

func TestServersFetch(t *testing.T) {
	srv := newIceEndpoint(t, fetchBody)
	defer srv.Close()

	conf := config.Webrtc{IceFetch: config.IceFetch{URL: srv.URL}}
	p := NewProvider(conf, "secret", t.TempDir(), logger.Default())
	// the stale default list is served until the fetch lands
	if len(p.Servers()) == 0 {
		t.Fatalf("expected a non-empty list during fetch")
	}
	waitFor(t, "fetched servers", func() bool { return len(p.Servers()) == 3 })
	list := p.Servers()
	if list[1].Username != "u1" || list[1].Credential != "c1" {
		t.Errorf("lost relay credentials: %+v", list[1])
	}
	if srv.n() != 1 {
		t.Errorf("expected 1 fetch, got %v", srv.n())
	}
}

func TestServersFetchFailure(t *testing.T) {
	srv := newIceEndpoint(t, fetchBody)
	defer srv.Close()

	conf := config.Webrtc{IceFetch: config.IceFetch{URL: srv.URL}}
	p := NewProvider(conf, "secret", t.TempDir(), logger.Default())
	waitFor(t, "fetched servers", func() bool { return len(p.Servers()) == 3 })

	atomic.StoreInt32(&srv.fail, 1)
	p.mu.Lock()
	p.expiry = time.Now().Add(-time.Second)
	p.mu.Unlock()

	if len(p.Servers()) != 3 {
		t.Fatalf("lost the last known good list on expiry")
	}
	waitFor(t, "failed refetch", func() bool { return srv.n() == 2 })
	if len(p.Servers()) != 3 {
		t.Fatalf("lost the last known good list on a failed fetch")
	}
	// failure sets a cooldown, further calls must not hammer the endpoint
	time.Sleep(50 * time.Millisecond)
	if _ = p.Servers(); srv.n() != 2 {
		t.Errorf("no cooldown after a failed fetch, %v hits", srv.n())
	}
}

func TestServersCacheRestore(t *testing.T) {
	srv := newIceEndpoint(t, fetchBody)
	defer srv.Close()

	dir := t.TempDir()
	conf := config.Webrtc{IceFetch: config.IceFetch{URL: srv.URL}}
	p1 := NewProvider(conf, "secret", dir, logger.Default())
	waitFor(t, "fetched servers", func() bool { return len(p1.Servers()) == 3 })

	p2 := NewProvider(conf, "secret", dir, logger.Default())
	if len(p2.Servers()) != 3 {
		t.Fatalf("expected 3 cached servers, got %v", len(p2.Servers()))
	}
	time.Sleep(50 * time.Millisecond)
	if srv.n() != 1 {
		t.Errorf("expected a cache hit instead of fetch %v", srv.n())
	}
}

func TestServersExpiry(t *testing.T) {
	srv := newIceEndpoint(t, `{"iceServers": [{"urls": "stun:stun.example.com:3478"}], "ttl": 1}`)
	defer srv.Close()

	conf := config.Webrtc{IceFetch: config.IceFetch{URL: srv.URL, TTLSlack: 900 * time.Millisecond}}
	p := NewProvider(conf, "secret", t.TempDir(), logger.Default())
	waitFor(t, "first fetch", func() bool { return srv.n() == 1 })
	time.Sleep(150 * time.Millisecond)
	_ = p.Servers()
	waitFor(t, "refetch after expiry", func() bool { return srv.n() == 2 })
}
