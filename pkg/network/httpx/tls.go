package httpx

import "golang.org/x/crypto/acme/autocert"

type TLS struct {
	CertManager *autocert.Manager
}

// NewTLSConfig makes an ACME manager that provisions certificates on
// demand and caches them under dir.
func NewTLSConfig(host string, dir string) *TLS {
	tls := TLS{
		CertManager: &autocert.Manager{
			Prompt: autocert.AcceptTOS,
			Cache:  autocert.DirCache(dir),
		},
	}
	if host != "" {
		tls.CertManager.HostPolicy = autocert.HostWhitelist(host)
	}
	return &tls
}
