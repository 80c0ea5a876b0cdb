// Package monitoring serves the optional debug endpoints, pprof
// profiles and prometheus metrics.
package monitoring

import (
	"context"
	"fmt"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/network/httpx"
)

type Monitoring struct {
	conf   config.Monitoring
	log    *logger.Logger
	server *httpx.Server
}

// New builds the debug server with the enabled endpoint groups
// mounted under the URL prefix. The listener is bound right away and
// rolls past busy ports, so several clients can run on one machine.
func New(conf config.Monitoring, log *logger.Logger) (*Monitoring, error) {
	log = log.Extend(log.With().Str("s", "mon"))
	opts := []httpx.Option{httpx.WithLogger(log), httpx.WithPortRoll(true)}
	if conf.Https {
		opts = append(opts, httpx.WithHttps(conf.Tls.Domain, conf.Tls.Cert, conf.Tls.Key))
	}
	server, err := httpx.NewServer(fmt.Sprintf(":%d", conf.Port), func(*httpx.Server) httpx.Handler {
		h := httpx.NewServeMux(conf.URLPrefix)
		h.HandleW("/echo", func(httpx.ResponseWriter) {})
		if conf.ProfilingEnabled {
			h.HandleFunc("/debug/pprof/", pprof.Index)
			h.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			h.HandleFunc("/debug/pprof/profile", pprof.Profile)
			h.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			h.HandleFunc("/debug/pprof/trace", pprof.Trace)
			// the index page only links the profiles living on the
			// default mux, named ones need explicit routes
			h.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
			h.Handle("/debug/pprof/block", pprof.Handler("block"))
			h.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
			h.Handle("/debug/pprof/heap", pprof.Handler("heap"))
			h.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
			h.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		}
		if conf.MetricEnabled {
			h.Handle("/metrics", promhttp.Handler())
		}
		return h
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &Monitoring{conf: conf, log: log, server: server}, nil
}

func (m *Monitoring) Run() {
	m.log.Info().Msgf("debug server at %v%v", m.server.Addr, m.conf.URLPrefix)
	m.server.Run()
}

func (m *Monitoring) Shutdown(ctx context.Context) error { return m.server.Shutdown(ctx) }

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
