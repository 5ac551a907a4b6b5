// Package ssl implements the SNI certificate store of spec.md §4.7: given
// a ClientHelloInfo's ServerName, resolve the certificate to present,
// preferring an exact hostname match, falling back to a wildcard match
// ("*.example.com" matching "api.example.com"), and finally a configured
// default certificate.
package ssl

import (
	"crypto/tls"
	"strings"
	"sync/atomic"

	"github.com/pingsix/pingsix/internal/catalog"
)

// Store resolves TLS certificates by SNI hostname. It hot-swaps its whole
// resolution table on every catalog.Registry event, mirroring the teacher's
// internal/listener.HTTPListener.certPtr pattern (atomic.Pointer swap, no
// lock on the read path) but generalized from "one certificate" to "a
// table of them, selected by hostname".
type Store struct {
	table atomic.Pointer[table]
}

type table struct {
	exact    map[string]*tls.Certificate
	wildcard map[string]*tls.Certificate // keyed by the suffix after "*.", e.g. "example.com"
	def      *tls.Certificate
}

// New builds a Store from the registry's current snapshot and keeps it in
// sync by consuming the registry's event subscription for as long as stop
// is not closed.
func New(reg *catalog.Registry) *Store {
	s := &Store{}
	s.rebuild(reg.Snapshot())
	return s
}

// Watch consumes registry SSL events and rebuilds the resolution table on
// every Added/Removed/Replaced. Intended to run in its own goroutine for
// the lifetime of the process.
func (s *Store) Watch(reg *catalog.Registry, events <-chan catalog.Event, stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Entity != catalog.EntitySSL {
				continue
			}
			s.rebuild(reg.Snapshot())
		case <-stop:
			return
		}
	}
}

func (s *Store) rebuild(snap catalog.Snapshot) {
	t := &table{
		exact:    make(map[string]*tls.Certificate),
		wildcard: make(map[string]*tls.Certificate),
	}
	for _, cert := range snap.SSLCerts {
		if cert.IsDefault {
			t.def = cert.Cert
		}
		for _, sni := range cert.Config.Snis {
			if strings.HasPrefix(sni, "*.") {
				t.wildcard[strings.TrimPrefix(sni, "*.")] = cert.Cert
			} else {
				t.exact[sni] = cert.Cert
			}
		}
	}
	s.table.Store(t)
}

// GetCertificate implements the tls.Config.GetCertificate hook: exact SNI
// match wins, then the first-level wildcard, then the default certificate.
// Returns nil, nil (not an error) when there is no match and no default,
// matching Go's tls package convention of falling through to
// Config.Certificates in that case.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	t := s.table.Load()
	if t == nil {
		return nil, nil
	}
	name := strings.ToLower(hello.ServerName)
	if cert, ok := t.exact[name]; ok {
		return cert, nil
	}
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		if cert, ok := t.wildcard[name[idx+1:]]; ok {
			return cert, nil
		}
	}
	return t.def, nil
}
