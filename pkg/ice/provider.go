package ice

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v3"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/os"
)

const (
	defaultTTL     = time.Hour
	defaultSlack   = time.Minute
	defaultTimeout = 10 * time.Second
	retryCooldown  = 30 * time.Second
)

// Provider serves the current ICE server list. It starts from the
// configured (or built-in) servers, replaces them with the fetched
// relay list once available, and keeps the result cached on disk so
// a restart inside the credential lifetime does not refetch.
type Provider struct {
	conf   config.Webrtc
	log    *logger.Logger
	token  string
	client *http.Client
	path   string
	flock  *os.Flock

	mu       sync.Mutex
	current  []config.IceServer
	expiry   time.Time
	nextTry  time.Time
	fetching bool
}

func NewProvider(conf config.Webrtc, token, dir string, log *logger.Logger) *Provider {
	timeout := conf.IceFetch.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	p := &Provider{
		conf:   conf,
		log:    log.Extend(log.With().Str("s", "ice")),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
	p.current = conf.IceServers
	if len(p.current) == 0 {
		p.current = Defaults()
	}
	if conf.IceFetch.URL != "" && dir != "" {
		if err := os.CheckCreateDir(dir); err == nil {
			p.path = filepath.Join(dir, "ice.json")
			if fl, err := os.NewFileLock(filepath.Join(dir, "ice.lock")); err == nil {
				p.flock = fl
			}
			p.restore()
		} else {
			p.log.Warn().Err(err).Msgf("no cache dir %v", dir)
		}
	}
	p.mu.Lock()
	if p.stale() {
		p.fetching = true
		go p.refresh()
	}
	p.mu.Unlock()
	return p
}

// Servers returns a usable server list right away, refreshing a
// stale one in the background so connection setup never waits on
// the network. It never fails: fetch errors keep the last known
// good (or default) list.
func (p *Provider) Servers() []webrtc.ICEServer {
	p.mu.Lock()
	list := p.current
	if p.stale() && !p.fetching {
		p.fetching = true
		go p.refresh()
	}
	p.mu.Unlock()
	return Webrtc(list)
}

// stale is true when a fetch is configured and the cached list has
// expired (or was never fetched), outside the failure cooldown.
// Callers must hold the mutex.
func (p *Provider) stale() bool {
	if p.conf.IceFetch.URL == "" {
		return false
	}
	if !p.nextTry.IsZero() && time.Now().Before(p.nextTry) {
		return false
	}
	return p.expiry.IsZero() || time.Now().After(p.expiry)
}

func (p *Provider) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()
	fresh, expiry, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetching = false
	if err != nil {
		p.log.Warn().Err(err).Msg("ice fetch fail, keeping the last list")
		p.nextTry = time.Now().Add(retryCooldown)
		return
	}
	if len(fresh) > 0 {
		p.current = fresh
	}
	p.expiry = expiry
	p.nextTry = time.Time{}
	p.persist()
	p.log.Info().Msgf("ice servers refreshed, %v entries, expire %v", len(p.current), expiry.Format(time.RFC3339))
}

type serverList struct {
	Urls       []string `json:"-"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
	TTL        int      `json:"ttl,omitempty"`
}

// UnmarshalJSON accepts both the single-url and the url-array forms.
func (s *serverList) UnmarshalJSON(data []byte) error {
	var one struct {
		Urls       string `json:"urls"`
		Username   string `json:"username"`
		Credential string `json:"credential"`
		TTL        int    `json:"ttl"`
	}
	if err := json.Unmarshal(data, &one); err == nil && one.Urls != "" {
		*s = serverList{Urls: []string{one.Urls}, Username: one.Username, Credential: one.Credential, TTL: one.TTL}
		return nil
	}
	var many struct {
		Urls       []string `json:"urls"`
		Username   string   `json:"username"`
		Credential string   `json:"credential"`
		TTL        int      `json:"ttl"`
	}
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = serverList{Urls: many.Urls, Username: many.Username, Credential: many.Credential, TTL: many.TTL}
	return nil
}

func (p *Provider) fetch(ctx context.Context) ([]config.IceServer, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.conf.IceFetch.URL, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("unexpected status %v", res.StatusCode)
	}

	var body struct {
		IceServers []serverList `json:"iceServers"`
		TTL        int          `json:"ttl"`
	}
	if err = json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, time.Time{}, err
	}

	ttl := time.Duration(body.TTL) * time.Second
	var servers []config.IceServer
	for _, e := range body.IceServers {
		if t := time.Duration(e.TTL) * time.Second; t > ttl {
			ttl = t
		}
		for _, u := range e.Urls {
			servers = append(servers, config.IceServer{Urls: u, Username: e.Username, Credential: e.Credential})
		}
	}
	if ttl == 0 {
		ttl = defaultTTL
	}
	slack := p.conf.IceFetch.TTLSlack
	if slack == 0 {
		slack = defaultSlack
	}
	if slack >= ttl {
		slack = ttl / 2
	}
	return servers, time.Now().Add(ttl - slack), nil
}

type cacheFile struct {
	Servers []config.IceServer `json:"servers"`
	Expiry  time.Time          `json:"expiry"`
}

// restore loads the persisted list when it is still fresh.
func (p *Provider) restore() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	var c cacheFile
	if err = json.Unmarshal(data, &c); err != nil {
		p.log.Warn().Err(err).Msg("broken ice cache")
		return
	}
	if len(c.Servers) == 0 || time.Now().After(c.Expiry) {
		return
	}
	p.current = c.Servers
	p.expiry = c.Expiry
	p.log.Debug().Msgf("ice cache restored, expire %v", c.Expiry.Format(time.RFC3339))
}

// persist stores the list for the next process. Callers must hold
// the mutex.
func (p *Provider) persist() {
	if p.path == "" {
		return
	}
	data, err := json.Marshal(cacheFile{Servers: p.current, Expiry: p.expiry})
	if err != nil {
		return
	}
	if p.flock != nil {
		if err = p.flock.Lock(); err == nil {
			defer func() { _ = p.flock.Unlock() }()
		}
	}
	if err = os.WriteFileAtomic(p.path, data, 0644); err != nil {
		p.log.Warn().Err(err).Msg("ice cache write fail")
	}
}
