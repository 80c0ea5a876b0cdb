// Package httpx wraps the stdlib HTTP server with port rolling,
// prefix-routed muxes and optional ACME certificates. The client
// serves its debug endpoints through it.
package httpx

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/os"
	"golang.org/x/crypto/acme/autocert"
)

type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options

	listener *Listener
	redirect *Server
	log      *logger.Logger
}

type (
	Mux struct {
		*http.ServeMux
		prefix string
	}
	Handler        = http.Handler
	HandlerFunc    = http.HandlerFunc
	ResponseWriter = http.ResponseWriter
	Request        = http.Request
)

// NewServeMux allocates and returns a new ServeMux with every pattern
// mounted under the prefix.
func NewServeMux(prefix string) *Mux {
	return &Mux{ServeMux: http.NewServeMux(), prefix: prefix}
}

func (m *Mux) HandleW(pattern string, h func(http.ResponseWriter)) *Mux {
	m.ServeMux.HandleFunc(m.prefix+pattern, func(w http.ResponseWriter, _ *http.Request) { h(w) })
	return m
}

func (m *Mux) Handle(pattern string, handler Handler) *Mux {
	m.ServeMux.Handle(m.prefix+pattern, handler)
	return m
}

func (m *Mux) HandleFunc(pattern string, handler func(ResponseWriter, *Request)) *Mux {
	m.ServeMux.HandleFunc(m.prefix+pattern, handler)
	return m
}

// NewServer binds a listener for the address and builds the handler
// with the handler factory. The server's final address, ports rolled,
// is known once NewServer returns, yet nothing is served until Run.
func NewServer(address string, handler func(*Server) Handler, options ...Option) (*Server, error) {
	opts := &Options{
		HttpsRedirect: true,
		IdleTimeout:   120 * time.Second,
		ReadTimeout:   500 * time.Second,
		WriteTimeout:  500 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.CertCacheDir == "" {
		opts.CertCacheDir = filepath.Join(os.HomeDir(), "certs")
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}
	server.Handler = handler(server)

	if opts.Https && opts.IsAutoHttpsCert() {
		server.autoCert = NewTLSConfig(opts.HttpsDomain, opts.CertCacheDir).CertManager
		server.TLSConfig = server.autoCert.TLSConfig()
	}

	addr := server.Addr
	if addr == "" {
		addr = ":http"
		if opts.Https {
			addr = ":https"
		}
	}
	listener, err := NewListener(addr, opts.PortRoll)
	if err != nil {
		return nil, err
	}
	server.listener = listener
	server.Addr = buildAddress(server.Addr, *listener)

	return server, nil
}

// Run serves in the background until Shutdown or a listener error.
func (s *Server) Run() {
	if s.opts.Https && s.opts.HttpsRedirect {
		if rdr, err := s.redirection(); err != nil {
			s.log.Error().Err(err).Msg("couldn't init the redirection server")
		} else {
			s.redirect = rdr
			s.redirect.Run()
		}
	}
	go s.run()
}

func (s *Server) run() {
	protocol := s.GetProtocol()
	s.log.Debug().Msgf("%s server started at %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ServeTLS(*s.listener, s.opts.HttpsCert, s.opts.HttpsKey)
	} else {
		err = s.Serve(*s.listener)
	}
	if err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Msgf("%s server fail", protocol)
	}
}

// Shutdown stops accepting new connections and drains the running
// ones, the redirect server included.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.redirect != nil {
		_ = s.redirect.Shutdown(ctx)
	}
	return s.Server.Shutdown(ctx)
}

func (s *Server) GetProtocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}

// redirection makes the plain HTTP server that bounces to the TLS
// address and carries the ACME HTTP challenge for it.
func (s *Server) redirection() (*Server, error) {
	host := s.Addr
	if s.opts.HttpsDomain != "" {
		host = s.opts.HttpsDomain
	}
	target := buildAddress(host, *s.listener)

	return NewServer(s.opts.HttpsRedirectAddress, func(*Server) Handler {
		h := NewServeMux("")
		h.Handle("/", HandlerFunc(func(w ResponseWriter, r *Request) {
			to := url.URL{Scheme: "https", Host: target, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
			http.Redirect(w, r, to.String(), http.StatusFound)
		}))
		if s.autoCert != nil {
			return s.autoCert.HTTPHandler(h)
		}
		return h
	}, WithLogger(s.log))
}
