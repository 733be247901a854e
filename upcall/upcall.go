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

// Package upcall routes the fixed set of calls the primitive library
// (crypto/tls's own handshake machinery) makes back into consumer
// code mid-handshake, each bracketed by installing and clearing the
// AppData upcall environment under its mutex: certificate-chain
// verification, client certificate selection (including
// PKCS#7-wrapped chains via pkcs7util), PSK identity/key lookup, ALPN
// selection, ephemeral DH parameter sizing, and handshake
// state-change notification.
package upcall

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/Tharow-Services/conscrypt-sub000/appdata"
	"github.com/Tharow-Services/conscrypt-sub000/pkcs7util"
	"github.com/Tharow-Services/conscrypt-sub000/session"
	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// CallbackSet is the consumer-supplied implementation of every
// upcall. A Router works correctly with a CallbackSet that leaves
// optional methods returning their zero value.
type CallbackSet interface {
	// VerifyCertificateChain validates the peer's chain. authType is
	// "RSA", "ECDSA", or similar, matching the key exchange in use.
	VerifyCertificateChain(rawCerts [][]byte, verified [][]*x509.Certificate, authType string) error

	// ClientCertificateRequested returns the client certificate (and
	// matching key) to present, or (nil, nil) to send an empty
	// Certificate message. acceptableIssuers holds DER-encoded
	// Distinguished Names. A Router always passes a nil
	// acceptablePKCS7: it decodes a PKCS#7 certs-only bundle into
	// acceptableIssuers first.
	ClientCertificateRequested(acceptableIssuers [][]byte, acceptablePKCS7 []byte) (*tls.Certificate, error)

	// PSKIdentityHint returns the identity hint a server offers the
	// client during a PSK handshake ("" disables the hint).
	PSKIdentityHint() string

	// PSKClientKeyRequested resolves the pre-shared key for identity
	// hint on the client side, returning the identity to send back and
	// the shared secret.
	PSKClientKeyRequested(identityHint string) (identity string, key []byte, err error)

	// PSKServerKeyRequested resolves the pre-shared key for an
	// identity presented by a client.
	PSKServerKeyRequested(identityHint, identity string) (key []byte, err error)

	// ALPNProtocols returns the ordered list of protocols this side is
	// willing to negotiate.
	ALPNProtocols() [][]byte

	// InfoStateChange is notified of handshake progress, mirroring
	// the primitive library's info callback. Observational only.
	InfoStateChange(state string, ret int)
}

// Router bridges a CallbackSet's upcalls through the AppData
// lock/install/clear bracket: every upcall except ALPNSelect runs with
// the environment installed and the AppData mutex held. ALPNSelect
// reads AppData's ALPN list without the bracket.
type Router struct {
	Data *appdata.AppData
	CB   CallbackSet
}

// NewRouter constructs a Router over the supplied AppData/CallbackSet
// pair. cb may be nil: VerifyCertificateChain and the PSK upcalls then
// fail closed with IllegalState, ClientCertificateRequested declines
// with (nil, nil), InfoStateChange does nothing, and ALPNSelect uses
// only AppData's list.
func NewRouter(data *appdata.AppData, cb CallbackSet) *Router {
	return &Router{Data: data, CB: cb}
}

func (r *Router) bracket(env *appdata.Environment, fn func() error) error {
	r.Data.Lock()
	defer r.Data.Unlock()
	if err := r.Data.InstallUpcall(env); err != nil {
		return err
	}
	defer r.Data.ClearUpcall()
	return fn()
}

// VerifyCertificateChain upcalls CB.VerifyCertificateChain, bracketed
// by the AppData lock, wrapping a rejection with the kind
// tlserr.Classify assigns it, or KindSsl when Classify does not
// recognize the error.
func (r *Router) VerifyCertificateChain(rawCerts [][]byte, verified [][]*x509.Certificate, authType string) error {
	if r.CB == nil {
		return tlserr.New(tlserr.KindIllegalState, "upcall: no callback set installed")
	}
	// The transient session handle exposes the in-progress peer chain
	// to the verifier; it is valid only while the upcall runs.
	transient := &session.Session{CreatedAt: time.Now(), PeerCertDER: rawCerts}
	env := &appdata.Environment{Callbacks: r.CB, HandshakeSession: transient}
	return r.bracket(env, func() error {
		if err := r.CB.VerifyCertificateChain(rawCerts, verified, authType); err != nil {
			kind := tlserr.Classify(err)
			if kind == tlserr.KindUnknown {
				kind = tlserr.KindSsl
			}
			return tlserr.Wrap(kind, "upcall: verify_certificate_chain rejected peer", err)
		}
		return nil
	})
}

// ClientCertificateRequested upcalls for client-certificate selection.
// If acceptablePKCS7 is non-empty, it is parsed into DER issuer DNs via
// pkcs7util before invoking CB, so CallbackSet implementations never
// need to know about PKCS#7 themselves.
func (r *Router) ClientCertificateRequested(acceptableIssuers [][]byte, acceptablePKCS7 []byte) (*tls.Certificate, error) {
	if r.CB == nil {
		return nil, nil
	}
	issuers := acceptableIssuers
	if len(acceptablePKCS7) > 0 {
		parsed, err := pkcs7util.IssuerDNs(acceptablePKCS7)
		if err != nil {
			return nil, tlserr.Wrap(tlserr.KindParseError, "upcall: decoding PKCS#7 acceptable issuers", err)
		}
		issuers = parsed
	}

	var cert *tls.Certificate
	env := &appdata.Environment{Callbacks: r.CB}
	err := r.bracket(env, func() error {
		var cbErr error
		cert, cbErr = r.CB.ClientCertificateRequested(issuers, nil)
		return cbErr
	})
	return cert, err
}

// PSKClientKeyRequested upcalls the client-side PSK resolver.
func (r *Router) PSKClientKeyRequested(identityHint string) (identity string, key []byte, err error) {
	if r.CB == nil {
		return "", nil, tlserr.New(tlserr.KindIllegalState, "upcall: no callback set installed")
	}
	env := &appdata.Environment{Callbacks: r.CB}
	bracketErr := r.bracket(env, func() error {
		var e error
		identity, key, e = r.CB.PSKClientKeyRequested(identityHint)
		return e
	})
	if bracketErr != nil {
		return "", nil, bracketErr
	}
	return identity, key, nil
}

// PSKServerKeyRequested upcalls the server-side PSK resolver.
func (r *Router) PSKServerKeyRequested(identityHint, identity string) ([]byte, error) {
	if r.CB == nil {
		return nil, tlserr.New(tlserr.KindIllegalState, "upcall: no callback set installed")
	}
	var key []byte
	env := &appdata.Environment{Callbacks: r.CB}
	err := r.bracket(env, func() error {
		var e error
		key, e = r.CB.PSKServerKeyRequested(identityHint, identity)
		return e
	})
	return key, err
}

// ALPNSelect implements first-match-wins selection against the
// peer's advertised protocol list: the first protocol in our own
// preference order (appdata's installed list, falling back to
// CB.ALPNProtocols) that also appears in peerProtocols wins. No
// overlap means the connection continues without ALPN (nil, false),
// not a failure.
func (r *Router) ALPNSelect(peerProtocols [][]byte) (selected []byte, ok bool) {
	ours := r.Data.ALPN()
	if len(ours) == 0 && r.CB != nil {
		ours = r.CB.ALPNProtocols()
	}
	for _, want := range ours {
		for _, have := range peerProtocols {
			if string(want) == string(have) {
				return want, true
			}
		}
	}
	return nil, false
}

// DHParams is the ephemeral Diffie-Hellman parameter size returned
// by EphemeralDHParams, expressed as (prime bits, subgroup bits).
type DHParams struct {
	PrimeBits    int
	SubgroupBits int
}

// EphemeralDHParams picks the group for classic (non-ECDHE)
// ephemeral DH: keys up to 1024 bits use a 1024/160 group, up to
// 2048 bits use 2048/224, and anything larger uses 2048/256.
func EphemeralDHParams(keyBits int) DHParams {
	switch {
	case keyBits <= 1024:
		return DHParams{PrimeBits: 1024, SubgroupBits: 160}
	case keyBits <= 2048:
		return DHParams{PrimeBits: 2048, SubgroupBits: 224}
	default:
		return DHParams{PrimeBits: 2048, SubgroupBits: 256}
	}
}

// InfoStateChange forwards a handshake progress notification to CB,
// bracketed the same as every other upcall even though it cannot fail,
// since the primitive library still re-enters consumer code to
// deliver it.
func (r *Router) InfoStateChange(state string, ret int) {
	if r.CB == nil {
		return
	}
	env := &appdata.Environment{Callbacks: r.CB}
	_ = r.bracket(env, func() error {
		r.CB.InfoStateChange(state, ret)
		return nil
	})
}

// SessionFromConnectionState builds a session.Session snapshot from a
// completed crypto/tls handshake, used by the engine to populate
// ConnectionConfig's session cache after a handshake finishes.
func SessionFromConnectionState(id []byte, cs tls.ConnectionState) *session.Session {
	der := make([][]byte, len(cs.PeerCertificates))
	for i, c := range cs.PeerCertificates {
		der[i] = c.Raw
	}
	return &session.Session{
		ID:          id,
		CipherSuite: tls.CipherSuiteName(cs.CipherSuite),
		Protocol:    tlsVersionName(cs.Version),
		CreatedAt:   time.Now(),
		ServerName:  cs.ServerName,
		PeerCertDER: der,
	}
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return "unknown"
	}
}
