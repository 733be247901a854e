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

package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Tharow-Services/conscrypt-sub000/appdata"
	"github.com/Tharow-Services/conscrypt-sub000/bio"
	"github.com/Tharow-Services/conscrypt-sub000/session"
	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
	"github.com/Tharow-Services/conscrypt-sub000/upcall"
)

// Connection is one TLS connection, driven over either a socket BIO
// (blocking Read/Write surface) or a memory-pair BIO (non-blocking
// Wrap/Unwrap surface), never both.
type Connection struct {
	mu    sync.Mutex
	state State
	mode  Mode

	config *session.ConnectionConfig
	data   *appdata.AppData
	router *upcall.Router
	log    *zap.Logger

	falseStart bool

	// socket-mode fields
	sock    *bio.SocketBIO
	tlsConn *tls.Conn

	// engine-mode fields
	external bio.BIO // network-facing half, driven by Wrap/Unwrap
	internal bio.BIO // handshake-facing half, driven by tlsConn

	pumpsOnce     sync.Once
	handshakeOnce sync.Once
	handshakeErr  atomic.Value // error
	handshakeDone chan struct{}

	outbound   bytes.Buffer // decrypted app bytes from readerPump, drained by Unwrap
	outboundMu sync.Mutex

	localSession *session.Session // recorded once, on handshake completion
	writeReqCh   chan []byte      // engine-mode app-data write requests, drained by writerPump
	closedFlag   atomic.Bool
}

// newBase constructs the shared bookkeeping for both socket and
// engine modes.
func newBase(cfg *session.ConnectionConfig, mode Mode, cb upcall.CallbackSet, sock *bio.SocketBIO, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	data := appdata.New(sock, log)
	return &Connection{
		state:         StateModeSet,
		mode:          mode,
		config:        cfg,
		data:          data,
		router:        upcall.NewRouter(data, cb),
		log:           log,
		sock:          sock,
		handshakeDone: make(chan struct{}),
		writeReqCh:    make(chan []byte, 64),
	}
}

// NewSocketConnection builds a Connection in socket mode, driving
// the handshake and all subsequent I/O directly over sock.
func NewSocketConnection(sock *bio.SocketBIO, cfg *session.ConnectionConfig, mode Mode, serverName string, cb upcall.CallbackSet, log *zap.Logger) (*Connection, error) {
	c := newBase(cfg, mode, cb, sock, log)
	tlsCfg := buildTLSConfig(cfg, mode, serverName, c)
	netConn := newBIOConn(sock).withAliveCheck(c.data.Alive)
	switch mode {
	case ModeClient:
		c.tlsConn = tls.Client(netConn, tlsCfg)
	case ModeServer:
		c.tlsConn = tls.Server(netConn, tlsCfg)
	default:
		return nil, tlserr.New(tlserr.KindIllegalState, "engine: mode must be set before construction")
	}
	return c, nil
}

// NewEngineConnection builds a Connection in engine mode and returns
// the network-facing BIO half the caller pumps ciphertext through.
func NewEngineConnection(cfg *session.ConnectionConfig, mode Mode, serverName string, cb upcall.CallbackSet, log *zap.Logger) (*Connection, bio.BIO, error) {
	c := newBase(cfg, mode, cb, nil, log)
	external, internal := bio.NewMemoryPair()
	c.external, c.internal = external, internal

	tlsCfg := buildTLSConfig(cfg, mode, serverName, c)
	netConn := newBIOConn(internal)
	switch mode {
	case ModeClient:
		c.tlsConn = tls.Client(netConn, tlsCfg)
	case ModeServer:
		c.tlsConn = tls.Server(netConn, tlsCfg)
	default:
		return nil, nil, tlserr.New(tlserr.KindIllegalState, "engine: mode must be set before construction")
	}

	return c, external, nil
}

func buildTLSConfig(cfg *session.ConnectionConfig, mode Mode, serverName string, c *Connection) *tls.Config {
	tlsCfg := &tls.Config{
		ServerName:            serverName,
		CipherSuites:          cfg.CipherSuites(),
		MinVersion:            minVersion(cfg.EnabledProtocols),
		MaxVersion:            maxVersion(cfg.EnabledProtocols),
		RootCAs:               cfg.RootCAs,
		ClientCAs:             cfg.ClientCAs,
		ClientSessionCache:    tls.NewLRUClientSessionCache(session.DefaultCacheSize),
		Renegotiation:         tls.RenegotiateFreelyAsClient,
		NextProtos:            protosToStrings(cfg.SessionCache, c.router),
		VerifyPeerCertificate: c.verifyPeerCertificate,
		GetCertificate:        c.getCertificate,
		GetClientCertificate:  c.getClientCertificate,
	}
	if !cfg.SessionCreationEnabled {
		tlsCfg.SessionTicketsDisabled = true
		tlsCfg.ClientSessionCache = nil
	}
	if mode == ModeServer {
		switch cfg.VerifyMode {
		case session.VerifyRequirePeer:
			tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		case session.VerifyPeer:
			tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
		default:
			tlsCfg.ClientAuth = tls.NoClientCert
		}
	}
	return tlsCfg
}

func protosToStrings(_ *session.Cache, r *upcall.Router) []string {
	if r == nil || r.CB == nil {
		return nil
	}
	raw := r.CB.ALPNProtocols()
	out := make([]string, len(raw))
	for i, p := range raw {
		out[i] = string(p)
	}
	return out
}

func minVersion(protocols []uint16) uint16 {
	min := uint16(0)
	for _, p := range protocols {
		if min == 0 || p < min {
			min = p
		}
	}
	if min == 0 {
		return tls.VersionTLS12
	}
	return min
}

func maxVersion(protocols []uint16) uint16 {
	var max uint16
	for _, p := range protocols {
		if p > max {
			max = p
		}
	}
	if max == 0 {
		return tls.VersionTLS13
	}
	return max
}

// BeginHandshake arms the engine-mode handshake: the first call moves
// MODE_SET to HANDSHAKE_WANTED and starts the background record pumps
// that carry it from there to HANDSHAKE_STARTED. Subsequent calls are
// no-ops; Wrap and Unwrap call it implicitly so callers that drive the
// engine directly never stall on a forgotten begin.
func (c *Connection) BeginHandshake() {
	if c.external == nil {
		return
	}
	c.mu.Lock()
	if c.state == StateModeSet {
		c.state = StateHandshakeWanted
	}
	c.mu.Unlock()
	c.startPumps()
}

func (c *Connection) startPumps() {
	c.pumpsOnce.Do(func() {
		c.setState(StateHandshakeStarted)
		c.notifyState(StateHandshakeStarted, 1)
		go c.readerPump()
		go c.writerPump()
	})
}

func (c *Connection) writerPump() {
	for data := range c.writeReqCh {
		if _, err := c.tlsConn.Write(data); err != nil {
			c.closedFlag.Store(true)
			return
		}
	}
}

// readerPump drives the handshake to completion and then drains
// decrypted application bytes into the outbound buffer until the peer
// closes. It is the only goroutine that calls tlsConn.Read.
func (c *Connection) readerPump() {
	var err error
	if suites := c.config.CipherSuites(); suites != nil && len(suites) == 0 && maxVersion(c.config.EnabledProtocols) < tls.VersionTLS13 {
		// An explicitly emptied suite list leaves nothing to offer below TLS 1.3.
		err = tlserr.New(tlserr.KindSslProtocol, "engine: no cipher suites enabled")
	} else {
		err = c.tlsConn.Handshake()
	}
	if err != nil {
		// A failed handshake leaves the connection CLOSED with the
		// failure latched for HandshakeError.
		c.log.Warn("handshake failed",
			zap.String("conn_id", c.data.ConnID),
			zap.Error(err))
		c.closedFlag.Store(true)
		c.setState(StateClosed)
		c.handshakeErr.Store(tlserr.Wrap(tlserr.KindSslHandshake, "engine: handshake failed", err))
		c.handshakeOnce.Do(func() { close(c.handshakeDone) })
		c.notifyState(StateClosed, 0)
		return
	}
	c.signalHandshakeIfDone()

	buf := make([]byte, 16*1024)
	for {
		n, err := c.tlsConn.Read(buf)
		if n > 0 {
			c.outboundMu.Lock()
			c.outbound.Write(buf[:n])
			c.outboundMu.Unlock()
		}
		if err != nil {
			c.markInboundClosed()
			return
		}
	}
}

func (c *Connection) signalHandshakeIfDone() {
	c.handshakeOnce.Do(func() {
		close(c.handshakeDone)
		c.mu.Lock()
		switch c.state {
		case StateHandshakeWanted, StateHandshakeStarted, StateHandshakeCompleted, StateReadyHandshakeCutThrough:
			c.state = StateReady
		}
		c.mu.Unlock()
		c.recordSession()
		cs := c.tlsConn.ConnectionState()
		c.log.Info("handshake complete",
			zap.String("conn_id", c.data.ConnID),
			zap.String("cipher", tls.CipherSuiteName(cs.CipherSuite)),
			zap.String("alpn", cs.NegotiatedProtocol))
		c.notifyState(StateReady, 1)
	})
}

// markInboundClosed records that the peer's close_notify (or a
// transport EOF) has been observed: READY becomes CLOSED_INBOUND, and
// a connection that already sent its own close_notify is fully CLOSED.
func (c *Connection) markInboundClosed() {
	c.log.Debug("inbound closed", zap.String("conn_id", c.data.ConnID))
	c.closedFlag.Store(true)
	c.mu.Lock()
	switch c.state {
	case StateClosedOutbound:
		c.state = StateClosed
	case StateClosed:
	default:
		c.state = StateClosedInbound
	}
	after := c.state
	c.mu.Unlock()
	c.notifyState(after, 1)
}

// SetALPNProtocols installs the server's ALPN preference list from
// its wire form (len-prefixed protocols, concatenated). The list is
// deep-copied into AppData, so the caller may reuse wire immediately.
// Only meaningful in server mode, where alpn_select consults it.
func (c *Connection) SetALPNProtocols(wire []byte) error {
	protocols, err := upcall.DecodeALPN(wire)
	if err != nil {
		return err
	}
	c.data.InstallALPN(protocols)
	return nil
}

// SetFalseStart allows application data to be accepted before the
// peer's Finished message is verified. Only safe with forward-secret
// AEAD suites; no effect once the handshake has already started.
func (c *Connection) SetFalseStart(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateModeSet {
		c.falseStart = enabled
	}
}

// State reports the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// notifyState reports a lifecycle transition through the info upcall.
// Called outside the connection mutex so a callback may read State()
// without deadlocking.
func (c *Connection) notifyState(s State, ret int) {
	if c.router != nil {
		c.router.InfoStateChange(s.String(), ret)
	}
}

// Interrupt unblocks any thread suspended in Read/Write/Handshake.
// It is the sole asynchronous cancellation point.
func (c *Connection) Interrupt() {
	c.data.Interrupt()
}

// Shutdown performs the outbound half of an orderly close: it sends
// close_notify and moves READY to CLOSED_OUTBOUND (or, if the peer's
// close_notify was already seen, all the way to CLOSED). The inbound
// half completes when the peer's close_notify arrives via the reader.
func (c *Connection) Shutdown() error {
	if c.tlsConn == nil {
		return tlserr.New(tlserr.KindIllegalState, "engine: no connection to shut down")
	}
	err := c.tlsConn.CloseWrite()

	c.mu.Lock()
	switch c.state {
	case StateClosedInbound:
		c.state = StateClosed
	case StateClosed, StateClosedOutbound:
	default:
		c.state = StateClosedOutbound
	}
	after := c.state
	c.mu.Unlock()
	c.notifyState(after, 1)

	if err != nil {
		return tlserr.Wrap(tlserr.Classify(err), "engine: sending close_notify", err)
	}
	return nil
}

// SelectedALPN returns the negotiated ALPN protocol. It is
// observable only after handshake completion; earlier calls fail
// with IllegalState.
func (c *Connection) SelectedALPN() ([]byte, error) {
	if !c.handshakeFinished() {
		return nil, tlserr.New(tlserr.KindIllegalState, "engine: ALPN is not negotiated until the handshake completes")
	}
	proto := c.tlsConn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		return nil, nil
	}
	return []byte(proto), nil
}

// HandshakeError returns the latched handshake failure, if any
// (engine mode latches it instead of returning it from a blocking
// call the way socket-mode Handshake does).
func (c *Connection) HandshakeError() error {
	if err, ok := c.handshakeErr.Load().(error); ok {
		return err
	}
	return nil
}

// Session returns the locally recorded session snapshot for this
// connection once the handshake has completed, or nil before then.
func (c *Connection) Session() *session.Session {
	if !c.handshakeFinished() || c.config == nil || c.config.SessionCache == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localSession
}

// Close tears down the connection, sending close_notify where
// possible.
func (c *Connection) Close() error {
	c.setState(StateClosed)
	if c.tlsConn != nil {
		_ = c.tlsConn.Close()
	}
	if c.sock != nil {
		return c.sock.Close()
	}
	if c.external != nil {
		return c.external.Close()
	}
	return nil
}

// newSessionID derives a locally generated, application-visible
// session identifier. crypto/tls deliberately keeps its own
// resumption tickets opaque, so this package maintains a parallel,
// inspectable session.Session per connection; crypto/tls's
// ClientSessionCache still handles real resumption transparently.
func newSessionID() []byte {
	id := make([]byte, 32)
	_, _ = rand.Read(id)
	return id
}

func (c *Connection) recordSession() {
	if c.tlsConn == nil || c.config == nil || c.config.SessionCache == nil {
		return
	}
	cs := c.tlsConn.ConnectionState()
	s := upcall.SessionFromConnectionState(newSessionID(), cs)
	c.config.SessionCache.Put(s)
	c.mu.Lock()
	c.localSession = s
	c.mu.Unlock()
}

// handshakeContext returns a context honoring the appdata's liveness,
// so a concurrent Interrupt cancels an in-flight handshake promptly.
func (c *Connection) handshakeContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				if !c.data.Alive() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}
