package httpx

import (
	"time"

	"github.com/voxmesh/voxmesh/pkg/logger"
)

type (
	Options struct {
		Https                bool
		HttpsRedirect        bool
		HttpsRedirectAddress string
		HttpsCert            string
		HttpsKey             string
		HttpsDomain          string
		CertCacheDir         string
		PortRoll             bool
		IdleTimeout          time.Duration
		ReadTimeout          time.Duration
		WriteTimeout         time.Duration
		Logger               *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

// IsAutoHttpsCert reports whether certificates come from ACME instead
// of cert and key files.
func (o *Options) IsAutoHttpsCert() bool { return !(o.HttpsCert != "" && o.HttpsKey != "") }

func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }
func WithPortRoll(roll bool) Option        { return func(opts *Options) { opts.PortRoll = roll } }

// WithHttps switches the server to TLS on the given domain. Empty
// cert and key files mean ACME provisioning with the domain
// whitelisted.
func WithHttps(domain string, cert string, key string) Option {
	return func(opts *Options) {
		opts.Https = true
		opts.HttpsDomain = domain
		opts.HttpsCert = cert
		opts.HttpsKey = key
	}
}
