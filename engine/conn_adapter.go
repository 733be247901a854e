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
	"net"
	"time"

	"github.com/Tharow-Services/conscrypt-sub000/bio"
)

// bioConn adapts a bio.BIO (optionally a bio.Waiter, optionally a
// *bio.SocketBIO) into a blocking net.Conn so that crypto/tls's
// *tls.Conn — which only ever speaks to a blocking net.Conn — can run
// its handshake/record state machine in a dedicated goroutine while
// the engine's public Wrap/Unwrap/Read/Write surface stays
// non-blocking from the caller's point of view.
type bioConn struct {
	b             bio.BIO
	waiter        bio.Waiter     // non-nil for memory-pair BIOs
	sock          *bio.SocketBIO // non-nil for socket-mode BIOs
	alive         func() bool    // reports AppData liveness, if known
	readDeadline  time.Time
	writeDeadline time.Time
}

func newBIOConn(b bio.BIO) *bioConn {
	w, _ := b.(bio.Waiter)
	s, _ := b.(*bio.SocketBIO)
	return &bioConn{b: b, waiter: w, sock: s}
}

// withAliveCheck attaches an AppData liveness probe so a wakeup-pipe
// interrupt is distinguished from ordinary I/O readiness.
func (c *bioConn) withAliveCheck(alive func() bool) *bioConn {
	c.alive = alive
	return c
}

func (c *bioConn) Read(p []byte) (int, error) {
	for {
		n, err := c.b.Read(p)
		if err != bio.ErrWouldBlock {
			return n, err
		}
		if err := c.waitReadable(); err != nil {
			return 0, err
		}
	}
}

func (c *bioConn) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := c.b.Write(p[total:])
		total += n
		if err == nil {
			continue
		}
		if err != bio.ErrWouldBlock {
			return total, err
		}
		if err := c.waitWritable(); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *bioConn) waitReadable() error {
	if c.sock != nil {
		woken, err := sslSelect(c.sock, false, c.readDeadline)
		if err != nil {
			return err
		}
		if woken && c.alive != nil && !c.alive() {
			return errInterrupted{}
		}
		return nil
	}
	if c.waiter != nil {
		if !c.waiter.WaitReadable(c.readDeadline) {
			return errTimeout{}
		}
		return nil
	}
	return nil
}

func (c *bioConn) waitWritable() error {
	if c.sock != nil {
		woken, err := sslSelect(c.sock, true, c.writeDeadline)
		if err != nil {
			return err
		}
		if woken && c.alive != nil && !c.alive() {
			return errInterrupted{}
		}
		return nil
	}
	if c.waiter != nil {
		if !c.waiter.WaitWritable(c.writeDeadline) {
			return errTimeout{}
		}
		return nil
	}
	return nil
}

func (c *bioConn) Close() error         { return c.b.Close() }
func (c *bioConn) LocalAddr() net.Addr  { return pipeAddr{} }
func (c *bioConn) RemoteAddr() net.Addr { return pipeAddr{} }

func (c *bioConn) SetDeadline(t time.Time) error {
	c.readDeadline, c.writeDeadline = t, t
	return nil
}
func (c *bioConn) SetReadDeadline(t time.Time) error  { c.readDeadline = t; return nil }
func (c *bioConn) SetWriteDeadline(t time.Time) error { c.writeDeadline = t; return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "tlsengine" }
func (pipeAddr) String() string  { return "tlsengine" }

type errTimeout struct{}

func (errTimeout) Error() string   { return "bio: wait deadline exceeded" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

type errInterrupted struct{}

func (errInterrupted) Error() string { return "bio: connection interrupted" }

var _ net.Conn = (*bioConn)(nil)
