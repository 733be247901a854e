// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session holds the long-lived ConnectionConfig shared by
// many connections and the per-connection Session records it
// produces. Certificate resolution tries exact hostname, then
// wildcard-label substitution, then (when a certmagic manager is
// configured) the certificate that manager already holds in its
// storage, with singleflight collapsing concurrent loads for the same
// name. No new certificate is obtained from an ACME CA here.
package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/caddyserver/certmagic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// VerifyMode is the peer-verification policy.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	VerifyPeer
	VerifyRequirePeer
)

// TrustManager validates a peer certificate chain. It is an
// externally supplied collaborator: this package only defines the
// hook, never a policy.
type TrustManager interface {
	VerifyChain(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// KeyManager resolves a local key/certificate pair for client-auth or
// server presentation, the sibling external collaborator to
// TrustManager.
type KeyManager interface {
	SelectCertificate(acceptableIssuers [][]byte, acceptableTypes []uint8) (*tls.Certificate, error)
}

// ConnectionConfig is the long-lived, shared configuration. It is
// owned by the consumer for potentially many connections; connections
// take a shared reference whose lifetime must not exceed the
// config's.
type ConnectionConfig struct {
	mu sync.RWMutex

	EnabledProtocols []uint16 // e.g. tls.VersionTLS12
	cipherSuites     []uint16 // ordered; atomic swap on update

	SessionIDContext []byte // <= 32 bytes
	SessionCache     *Cache

	SignedCertTimestamps []byte // SCT list bytes, server-side
	OCSPResponse         []byte // stapled OCSP response, server-side

	RootCAs         *x509.CertPool // client-side trust anchors; nil means system roots
	ClientCAs       *x509.CertPool
	PSKIdentityHint string

	VerifyMode VerifyMode
	Trust      TrustManager
	Keys       KeyManager

	// SessionCreationEnabled gates whether handshakes may establish
	// new resumable sessions; when false, connections still handshake
	// but nothing is cached for resumption.
	SessionCreationEnabled bool

	// Manual is the exact/wildcard-matched certificate set, keyed by
	// lowercased hostname.
	Manual map[string]*tls.Certificate

	// Manager, when non-nil, supplies the certificates it already
	// manages for names that Manual does not cover.
	Manager *certmagic.Config
	group   singleflight.Group

	Log *zap.Logger

	closed bool
}

// NewConfig returns a ConnectionConfig with an empty certificate set
// and a fresh session cache. Callers MUST call Close when no
// connection holds a reference any longer.
func NewConfig(log *zap.Logger) *ConnectionConfig {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionConfig{
		SessionCreationEnabled: true,
		SessionCache:           NewCache(DefaultCacheSize, DefaultCacheTTL),
		Manual:                 make(map[string]*tls.Certificate),
		Log:                    log,
	}
}

// Close releases the config's caches. Freeing a config while
// connections still reference it is a caller error; this package does
// not attempt to detect that case.
func (c *ConnectionConfig) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.SessionCache = nil
}

// SetSessionIDContext sets the session ID context used to scope
// session resumption, which must be at most 32 bytes.
func (c *ConnectionConfig) SetSessionIDContext(ctx []byte) error {
	if len(ctx) > 32 {
		return tlserr.New(tlserr.KindIllegalArgument, "session id context exceeds 32 bytes")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionIDContext = append([]byte(nil), ctx...)
	return nil
}

// SetSignedCertTimestamps stores a copy of the raw SCT-list bytes for
// server use. The engine's handshake does not read them, so they are
// not sent to the peer.
func (c *ConnectionConfig) SetSignedCertTimestamps(sctList []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SignedCertTimestamps = append([]byte(nil), sctList...)
}

// SetOCSPResponse stores a copy of the OCSP response bytes for server
// use. The engine's handshake does not read them, so no response is
// stapled.
func (c *ConnectionConfig) SetOCSPResponse(resp []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OCSPResponse = append([]byte(nil), resp...)
}

// CipherSuites returns the currently enabled, ordered cipher-suite
// list. Safe for concurrent use while SetCipherSuites runs
// concurrently (the list is swapped atomically, never mutated).
// A never-configured list returns nil, meaning the primitive library's
// defaults; an explicitly emptied list returns a non-nil empty slice,
// which makes a TLS ≤1.2 handshake fail (there is nothing to offer).
func (c *ConnectionConfig) CipherSuites() []uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cipherSuites == nil {
		return nil
	}
	out := make([]uint16, len(c.cipherSuites))
	copy(out, c.cipherSuites)
	return out
}

// AddManualCertificate registers cert under every name derived from
// its leaf (CommonName, DNS SANs, IP SANs), lowercased.
func (c *ConnectionConfig) AddManualCertificate(cert *tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return tlserr.New(tlserr.KindIllegalArgument, "certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tlserr.Wrap(tlserr.KindParseError, "parsing leaf certificate", err)
	}
	names := certificateNames(leaf)
	if len(names) == 0 {
		return tlserr.New(tlserr.KindIllegalArgument, "certificate has no usable names")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.Manual[n] = cert
	}
	return nil
}

func certificateNames(leaf *x509.Certificate) []string {
	var names []string
	if leaf.Subject.CommonName != "" {
		names = append(names, strings.ToLower(leaf.Subject.CommonName))
	}
	for _, n := range leaf.DNSNames {
		names = append(names, strings.ToLower(n))
	}
	for _, ip := range leaf.IPAddresses {
		names = append(names, ip.String())
	}
	return names
}

// CertificateForName resolves a certificate for name: exact match,
// then wildcard label substitution, then (if Manager is configured)
// the certificate Manager holds in its storage, loaded through
// certmagic's CacheManagedCertificate and coordinated through
// singleflight so concurrent handshakes for the same uncached name
// share one load. Nothing is obtained or renewed here.
func (c *ConnectionConfig) CertificateForName(name string) (*tls.Certificate, error) {
	name = strings.ToLower(name)

	c.mu.RLock()
	if cert, ok := c.Manual[name]; ok {
		c.mu.RUnlock()
		return cert, nil
	}
	labels := strings.Split(name, ".")
	for i := range labels {
		orig := labels[i]
		labels[i] = "*"
		candidate := strings.Join(labels, ".")
		labels[i] = orig
		if cert, ok := c.Manual[candidate]; ok {
			c.mu.RUnlock()
			return cert, nil
		}
	}
	manager := c.Manager
	c.mu.RUnlock()

	if manager == nil {
		return nil, tlserr.New(tlserr.KindSslProtocol, fmt.Sprintf("no certificate available for %s", name))
	}

	result, err, _ := c.group.Do(name, func() (any, error) {
		return manager.CacheManagedCertificate(nameContext(), name)
	})
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindSsl, "on-demand certificate issuance failed", err)
	}
	cert, ok := result.(certmagic.Certificate)
	if !ok {
		return nil, errors.New("session: unexpected certmagic result type")
	}
	return &cert.Certificate, nil
}
