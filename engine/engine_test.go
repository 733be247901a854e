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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Tharow-Services/conscrypt-sub000/bio"
	"github.com/Tharow-Services/conscrypt-sub000/certutil"
	"github.com/Tharow-Services/conscrypt-sub000/session"
	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
	"github.com/Tharow-Services/conscrypt-sub000/upcall"
)

type testCallbacks struct {
	verifyErr error
	alpn      [][]byte

	mu     sync.Mutex
	states []string
}

func (c *testCallbacks) VerifyCertificateChain(raw [][]byte, verified [][]*x509.Certificate, authType string) error {
	return c.verifyErr
}

func (c *testCallbacks) ClientCertificateRequested(issuers [][]byte, pkcs7 []byte) (*tls.Certificate, error) {
	return nil, nil
}

func (c *testCallbacks) PSKIdentityHint() string { return "" }

func (c *testCallbacks) PSKClientKeyRequested(hint string) (string, []byte, error) {
	return "", nil, nil
}

func (c *testCallbacks) PSKServerKeyRequested(hint, identity string) ([]byte, error) {
	return nil, nil
}

func (c *testCallbacks) ALPNProtocols() [][]byte { return c.alpn }

func (c *testCallbacks) InfoStateChange(state string, ret int) {
	c.mu.Lock()
	c.states = append(c.states, state)
	c.mu.Unlock()
}

// sawState reports whether an info upcall delivered the given state.
func (c *testCallbacks) sawState(state string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.states {
		if s == state {
			return true
		}
	}
	return false
}

// testPair builds a client and server connection in engine mode,
// sharing one self-signed certificate that the client trusts.
func testPair(t *testing.T, clientCB, serverCB upcall.CallbackSet) (client, server *Connection) {
	t.Helper()
	cert, err := certutil.NewSelfSigned(certutil.SelfSignedConfig{SAN: []string{"engine.test"}})
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)

	clientCfg := session.NewConfig(nil)
	clientCfg.RootCAs = roots
	serverCfg := session.NewConfig(nil)
	require.NoError(t, serverCfg.AddManualCertificate(&cert))

	client, _, err = NewEngineConnection(clientCfg, ModeClient, "engine.test", clientCB, nil)
	require.NoError(t, err)
	server, _, err = NewEngineConnection(serverCfg, ModeServer, "", serverCB, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// shuttle moves whatever records each side has produced across to the
// other, returning the number of ciphertext bytes moved.
func shuttle(t *testing.T, a, b *Connection) int {
	t.Helper()
	record := make([]byte, 64*1024)
	plain := make([]byte, 64*1024)
	moved := 0
	for _, dir := range []struct{ from, to *Connection }{{a, b}, {b, a}} {
		res, err := dir.from.Wrap(nil, 0, 0, record, 0, len(record))
		require.NoError(t, err)
		if res.BytesProduced == 0 {
			continue
		}
		_, err = dir.to.Unwrap(record, 0, res.BytesProduced, plain, 0, len(plain))
		require.NoError(t, err)
		moved += res.BytesProduced
	}
	return moved
}

// converge ping-pongs both connections until cond holds or the
// deadline passes.
func converge(t *testing.T, a, b *Connection, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("connections did not converge (a=%s b=%s, aErr=%v, bErr=%v)",
				a.State(), b.State(), a.HandshakeError(), b.HandshakeError())
		}
		if shuttle(t, a, b) == 0 {
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestValidateOffsetLength(t *testing.T) {
	buf := make([]byte, 10)
	tests := []struct {
		name           string
		offset, length int
		wantErr        bool
	}{
		{"zero-zero", 0, 0, false},
		{"full", 0, 10, false},
		{"tail", 9, 1, false},
		{"empty at end", 10, 0, false},
		{"negative offset", -1, 1, true},
		{"negative length", 0, -1, true},
		{"past end", 5, 6, true},
		{"offset past end", 11, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOffsetLength(buf, tt.offset, tt.length)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, tlserr.Is(err, tlserr.KindArrayBounds))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMutualHandshake(t *testing.T) {
	cb := &testCallbacks{alpn: [][]byte{[]byte("h2"), []byte("http/1.1")}}
	client, server := testPair(t, cb, cb)

	client.BeginHandshake()
	server.BeginHandshake()
	assert.Equal(t, StateHandshakeStarted, client.State())

	converge(t, client, server, func() bool {
		return client.State() == StateReady && server.State() == StateReady
	})

	cs := client.Session()
	ss := server.Session()
	require.NotNil(t, cs)
	require.NotNil(t, ss)
	assert.Equal(t, cs.CipherSuite, ss.CipherSuite)
	assert.Len(t, cs.ID, 32)
	assert.Len(t, ss.ID, 32)

	proto, err := client.SelectedALPN()
	require.NoError(t, err)
	assert.Equal(t, "h2", string(proto))

	// the info upcall observed the lifecycle as it happened
	require.Eventually(t, func() bool {
		return cb.sawState("HANDSHAKE_STARTED") && cb.sawState("READY")
	}, 10*time.Second, 2*time.Millisecond)
}

func TestApplicationDataOrdering(t *testing.T) {
	cb := &testCallbacks{}
	client, server := testPair(t, cb, cb)
	converge(t, client, server, func() bool {
		return client.State() == StateReady && server.State() == StateReady
	})

	payload := []byte("first second third")
	record := make([]byte, 64*1024)
	plain := make([]byte, 64*1024)

	res, err := client.Wrap(payload, 0, len(payload), record, 0, len(record))
	require.NoError(t, err)
	assert.Equal(t, len(payload), res.BytesConsumed)

	var received []byte
	deadline := time.Now().Add(10 * time.Second)
	// feed the encrypted record to the server once it is ready; the
	// server decrypts it in the background
	for fed := false; !fed; {
		require.False(t, time.Now().After(deadline), "payload never arrived")
		out, err := client.Wrap(nil, 0, 0, record, 0, len(record))
		require.NoError(t, err)
		if out.BytesProduced == 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		in, err := server.Unwrap(record, 0, out.BytesProduced, plain, 0, len(plain))
		require.NoError(t, err)
		received = append(received, plain[:in.BytesProduced]...)
		fed = true
	}
	// drain anything decrypted after the last Unwrap
	for len(received) < len(payload) && time.Now().Before(deadline) {
		in, err := server.Unwrap(nil, 0, 0, plain, 0, len(plain))
		require.NoError(t, err)
		received = append(received, plain[:in.BytesProduced]...)
	}
	assert.Equal(t, payload, received)
}

func TestCertVerifyRejectionClosesConnection(t *testing.T) {
	clientCB := &testCallbacks{verifyErr: errors.New("chain rejected by policy")}
	client, server := testPair(t, clientCB, &testCallbacks{})

	client.BeginHandshake()
	server.BeginHandshake()

	deadline := time.Now().Add(10 * time.Second)
	for client.HandshakeError() == nil {
		require.False(t, time.Now().After(deadline), "handshake failure never surfaced")
		record := make([]byte, 64*1024)
		plain := make([]byte, 64*1024)
		for _, dir := range []struct{ from, to *Connection }{{client, server}, {server, client}} {
			res, err := dir.from.Wrap(nil, 0, 0, record, 0, len(record))
			if err != nil {
				continue
			}
			if res.BytesProduced > 0 {
				_, _ = dir.to.Unwrap(record, 0, res.BytesProduced, plain, 0, len(plain))
			}
		}
		time.Sleep(2 * time.Millisecond)
	}

	err := client.HandshakeError()
	require.Error(t, err)
	assert.True(t, tlserr.Is(err, tlserr.KindSslHandshake))
	assert.Equal(t, StateClosed, client.State())

	// the connection refuses further traffic
	res, err := client.Wrap([]byte("late"), 0, 4, make([]byte, 1024), 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, res.Status)
	assert.Zero(t, res.BytesConsumed)
}

func TestEmptyCipherSuiteListFailsHandshake(t *testing.T) {
	cert, err := certutil.NewSelfSigned(certutil.SelfSignedConfig{SAN: []string{"engine.test"}})
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)

	// configuring an empty suite list succeeds silently...
	clientCfg := session.NewConfig(nil)
	clientCfg.RootCAs = roots
	clientCfg.EnabledProtocols = []uint16{tls.VersionTLS12}
	require.NoError(t, clientCfg.SetCipherSuites(nil))

	client, _, err := NewEngineConnection(clientCfg, ModeClient, "engine.test", &testCallbacks{}, nil)
	require.NoError(t, err)
	defer client.Close()

	// ...and the handshake fails on the first wrap
	client.BeginHandshake()
	require.Eventually(t, func() bool {
		return client.HandshakeError() != nil
	}, 10*time.Second, 2*time.Millisecond)
	assert.Equal(t, StateClosed, client.State())
}

func TestSelectedALPNBeforeHandshake(t *testing.T) {
	cb := &testCallbacks{alpn: [][]byte{[]byte("h2")}}
	client, _ := testPair(t, cb, cb)

	_, err := client.SelectedALPN()
	require.Error(t, err)
	assert.True(t, tlserr.Is(err, tlserr.KindIllegalState))
}

func TestFalseStartCutThrough(t *testing.T) {
	cb := &testCallbacks{alpn: [][]byte{[]byte("h2")}}
	client, server := testPair(t, cb, cb)
	client.SetFalseStart(true)

	client.BeginHandshake()
	server.BeginHandshake()

	// app data is accepted before the handshake completes
	payload := []byte{0x00, 0x01, 0x02}
	record := make([]byte, 64*1024)
	res, err := client.Wrap(payload, 0, len(payload), record, 0, len(record))
	require.NoError(t, err)
	require.Equal(t, len(payload), res.BytesConsumed)
	assert.Equal(t, StateReadyHandshakeCutThrough, client.State())

	// the state promotes to READY without a re-handshake, and the
	// payload arrives
	converge(t, client, server, func() bool {
		return client.State() == StateReady
	})

	plain := make([]byte, 64*1024)
	var received []byte
	require.Eventually(t, func() bool {
		out, err := client.Wrap(nil, 0, 0, record, 0, len(record))
		if err != nil {
			return false
		}
		in, err := server.Unwrap(record, 0, out.BytesProduced, plain, 0, len(plain))
		if err != nil {
			return false
		}
		received = append(received, plain[:in.BytesProduced]...)
		return len(received) >= len(payload)
	}, 10*time.Second, 2*time.Millisecond)
	assert.Equal(t, payload, received)
}

func TestShutdownStateWalk(t *testing.T) {
	cb := &testCallbacks{}
	client, server := testPair(t, cb, cb)
	converge(t, client, server, func() bool {
		return client.State() == StateReady && server.State() == StateReady
	})

	require.NoError(t, client.Shutdown())
	assert.Equal(t, StateClosedOutbound, client.State())

	// deliver the close_notify; the server observes inbound closure
	converge(t, client, server, func() bool {
		return server.State() == StateClosedInbound
	})

	require.NoError(t, server.Shutdown())
	assert.Equal(t, StateClosed, server.State())

	// and the server's close_notify completes the client's walk
	converge(t, client, server, func() bool {
		return client.State() == StateClosed
	})
}

func TestWrapRejectsBadOffsets(t *testing.T) {
	cb := &testCallbacks{}
	client, _ := testPair(t, cb, cb)

	buf := make([]byte, 8)
	_, err := client.Wrap(buf, 4, 8, buf, 0, 8)
	require.Error(t, err)
	assert.True(t, tlserr.Is(err, tlserr.KindArrayBounds))

	_, err = client.Unwrap(buf, 0, 8, buf, -1, 4)
	require.Error(t, err)
	assert.True(t, tlserr.Is(err, tlserr.KindArrayBounds))
}

func TestSyscallErrorClassifiesAsIo(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))

	sock, err := bio.NewSocketBIO(fds[0], true)
	require.NoError(t, err)
	defer sock.Close()

	// with the peer gone, writes fail with EPIPE/ECONNRESET once the
	// socket buffer is exhausted
	require.NoError(t, unix.Close(fds[1]))

	var ioErr error
	payload := make([]byte, 64*1024)
	for i := 0; i < 64 && ioErr == nil; i++ {
		_, err := sock.Write(payload)
		if err != nil && err != bio.ErrWouldBlock {
			ioErr = err
		}
	}
	require.Error(t, ioErr, "write to a closed peer never failed")

	classified := classifyIOErr(ioErr)
	assert.True(t, tlserr.Is(classified, tlserr.KindIo),
		"errno %v surfaced as %v, not Io", ioErr, classified)
	assert.False(t, tlserr.Is(classified, tlserr.KindUnknown))
}

func TestSocketReadTimeout(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	defer unix.Close(fds[1])

	sock, err := bio.NewSocketBIO(fds[0], true)
	require.NoError(t, err)

	conn, err := NewSocketConnection(sock, session.NewConfig(nil), ModeClient, "nowhere.test", &testCallbacks{}, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the peer never answers, so the deadline must fire
	start := time.Now()
	buf := make([]byte, 16)
	_, err = conn.Read(buf, 0, len(buf), 100*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInterruptUnblocksSocketHandshake(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	defer unix.Close(fds[1])

	sock, err := bio.NewSocketBIO(fds[0], true)
	require.NoError(t, err)

	cfg := session.NewConfig(nil)
	conn, err := NewSocketConnection(sock, cfg, ModeClient, "nowhere.test", &testCallbacks{}, nil)
	require.NoError(t, err)
	defer conn.Close()

	errCh := make(chan error, 1)
	go func() {
		// blocks: the other end of the socketpair never answers
		errCh <- conn.Handshake()
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Interrupt()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, tlserr.Is(err, tlserr.KindIo))
		assert.Equal(t, StateClosed, conn.State())
	case <-time.After(10 * time.Second):
		t.Fatal("interrupt did not unblock the handshake")
	}
}
