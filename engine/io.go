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
	"errors"
	"io"
	"time"

	"github.com/Tharow-Services/conscrypt-sub000/appdata"
	"github.com/Tharow-Services/conscrypt-sub000/bio"
	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// validateOffsetLength checks that offset and length describe a
// valid, in-bounds subslice of buf; a violation never touches buf.
func validateOffsetLength(buf []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return tlserr.New(tlserr.KindArrayBounds, "ARRAY_OFFSET_LENGTH_INVALID")
	}
	return nil
}

// Handshake drives the socket-mode handshake to completion, retrying
// transparently on transport readiness/EINTR inside the underlying
// bioConn and unblocking early if Interrupt is called.
func (c *Connection) Handshake() error {
	if c.tlsConn == nil || c.sock == nil {
		return tlserr.New(tlserr.KindIllegalState, "engine: Handshake is only valid in socket mode")
	}
	c.setState(StateHandshakeStarted)
	c.notifyState(StateHandshakeStarted, 1)

	ctx, cancel := c.handshakeContext()
	defer cancel()

	if err := c.tlsConn.HandshakeContext(ctx); err != nil {
		c.setState(StateClosed)
		c.notifyState(StateClosed, 0)
		if !c.data.Alive() {
			return appdataErrInterrupted()
		}
		return tlserr.Wrap(tlserr.KindSslHandshake, "engine: handshake failed", err)
	}

	c.setState(StateHandshakeCompleted)
	c.signalHandshakeIfDone()
	return nil
}

func appdataErrInterrupted() error {
	return appdata.ErrInterrupted
}

// Renegotiate checks that this is a client-mode connection and
// returns; it sends nothing. crypto/tls only supports the client
// *accepting* a server-initiated renegotiation (there is no API for a
// client to originate one), and every connection's tls.Config already
// accepts it (RenegotiateFreelyAsClient).
func (c *Connection) Renegotiate() error {
	if c.mode != ModeClient {
		return tlserr.New(tlserr.KindIllegalState, "engine: only a client may accept renegotiation")
	}
	return nil
}

// Read is the socket-mode read surface: validated bounds, AppData
// wait-bracket accounting, a per-call timeout (zero means wait
// forever), and translation of a peer-initiated close_notify into
// io.EOF-shaped behavior via crypto/tls itself.
func (c *Connection) Read(dst []byte, offset, length int, timeout time.Duration) (int, error) {
	if err := validateOffsetLength(dst, offset, length); err != nil {
		return 0, err
	}
	if c.tlsConn == nil {
		return 0, tlserr.New(tlserr.KindIllegalState, "engine: Read is only valid in socket mode")
	}
	if !c.data.EnterWait() {
		return 0, tlserr.New(tlserr.KindIllegalState, "engine: too many concurrent readers")
	}
	defer c.data.ExitWait()

	if timeout > 0 {
		_ = c.tlsConn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = c.tlsConn.SetReadDeadline(time.Time{})
	}
	n, err := c.tlsConn.Read(dst[offset : offset+length])
	if n > 0 {
		c.data.Notify()
	}
	if err != nil {
		return n, classifyIOErr(err)
	}
	return n, nil
}

// Write is the socket-mode write surface. A zero timeout waits
// forever.
func (c *Connection) Write(src []byte, offset, length int, timeout time.Duration) (int, error) {
	if err := validateOffsetLength(src, offset, length); err != nil {
		return 0, err
	}
	if c.tlsConn == nil {
		return 0, tlserr.New(tlserr.KindIllegalState, "engine: Write is only valid in socket mode")
	}
	if !c.data.EnterWait() {
		return 0, tlserr.New(tlserr.KindIllegalState, "engine: too many concurrent writers")
	}
	defer c.data.ExitWait()

	if timeout > 0 {
		_ = c.tlsConn.SetWriteDeadline(time.Now().Add(timeout))
	} else {
		_ = c.tlsConn.SetWriteDeadline(time.Time{})
	}
	n, err := c.tlsConn.Write(src[offset : offset+length])
	if n > 0 {
		c.data.Notify()
	}
	if err != nil {
		return n, classifyIOErr(err)
	}
	return n, nil
}

func classifyIOErr(err error) error {
	var interrupted errInterrupted
	if errors.As(err, &interrupted) {
		return appdataErrInterrupted()
	}
	if t, ok := err.(interface{ Timeout() bool }); ok && t.Timeout() {
		return tlserr.Wrap(tlserr.KindTimeout, "engine: i/o timed out", err)
	}
	kind := tlserr.Classify(err)
	if kind == tlserr.KindUnknown {
		// Whatever went wrong, it happened on the transport; keep the
		// surfaced kind inside the taxonomy.
		kind = tlserr.KindIo
	}
	return tlserr.Wrap(kind, "engine: i/o failed", err)
}

// handshakeFinished reports, without blocking, whether the handshake
// has ended, successfully or not.
func (c *Connection) handshakeFinished() bool {
	select {
	case <-c.handshakeDone:
		return true
	default:
		return false
	}
}

// Unwrap feeds ciphertext bytes received off the real network into
// the handshake/record layer and drains whatever plaintext (or,
// mid-handshake, nothing) it has produced so far.
func (c *Connection) Unwrap(src []byte, srcOffset, srcLength int, dst []byte, dstOffset, dstLength int) (Result, error) {
	if err := validateOffsetLength(src, srcOffset, srcLength); err != nil {
		return Result{}, err
	}
	if err := validateOffsetLength(dst, dstOffset, dstLength); err != nil {
		return Result{}, err
	}
	if c.external == nil {
		return Result{}, tlserr.New(tlserr.KindIllegalState, "engine: Unwrap is only valid in engine mode")
	}
	c.BeginHandshake()

	closed := c.closedFlag.Load()
	consumed := 0
	if srcLength > 0 && !closed {
		n, err := c.external.Write(src[srcOffset : srcOffset+srcLength])
		consumed = n
		if err != nil && err != bio.ErrWouldBlock {
			return Result{}, classifyIOErr(err)
		}
	}

	// Plaintext already decrypted before the peer closed is still
	// surfaced; CLOSED is only reported once the buffer runs dry.
	c.outboundMu.Lock()
	avail := c.outbound.Len()
	produced := 0
	status := StatusOK
	if avail > 0 {
		if avail > dstLength {
			status = StatusBufferOverflow
		}
		produced, _ = c.outbound.Read(dst[dstOffset : dstOffset+dstLength])
	}
	c.outboundMu.Unlock()

	if closed && produced == 0 && status == StatusOK {
		status = StatusClosed
	}
	if !closed && srcLength > 0 && consumed == 0 && produced == 0 {
		status = StatusBufferUnderflow
	}

	return Result{
		Status:          status,
		HandshakeStatus: c.handshakeStatusHint(),
		BytesConsumed:   consumed,
		BytesProduced:   produced,
	}, nil
}

// Wrap hands off plaintext app data for encryption (deferring the
// actual tls.Conn.Write to a background writer so the call never
// blocks) and drains whatever ciphertext is ready to go out,
// including handshake flights the background pumps produced on their
// own.
func (c *Connection) Wrap(src []byte, srcOffset, srcLength int, dst []byte, dstOffset, dstLength int) (Result, error) {
	if err := validateOffsetLength(src, srcOffset, srcLength); err != nil {
		return Result{}, err
	}
	if err := validateOffsetLength(dst, dstOffset, dstLength); err != nil {
		return Result{}, err
	}
	if c.external == nil {
		return Result{}, tlserr.New(tlserr.KindIllegalState, "engine: Wrap is only valid in engine mode")
	}
	c.BeginHandshake()

	closed := c.closedFlag.Load()
	consumed := 0
	status := StatusOK
	if srcLength > 0 && closed {
		// No new app data after the connection closed; outbound
		// records already encrypted (our close_notify included) still
		// drain below.
		srcLength = 0
		status = StatusClosed
	}
	if srcLength > 0 && !c.handshakeFinished() && !c.falseStart {
		// App data is not accepted mid-handshake unless False Start is
		// enabled; the caller keeps pumping handshake records meanwhile.
		srcLength = 0
	}
	if srcLength > 0 {
		cp := make([]byte, srcLength)
		copy(cp, src[srcOffset:srcOffset+srcLength])
		select {
		case c.writeReqCh <- cp:
			consumed = srcLength
			if c.falseStart && !c.handshakeFinished() {
				// App data accepted before the peer's Finished was
				// verified: False Start cut-through. signalHandshakeIfDone
				// promotes this to READY later without a re-handshake.
				c.mu.Lock()
				if c.state == StateHandshakeStarted {
					c.state = StateReadyHandshakeCutThrough
				}
				c.mu.Unlock()
			}
		default:
			status = StatusBufferOverflow // writer backlog full; caller should retry
		}
	}

	produced, err := c.external.Read(dst[dstOffset : dstOffset+dstLength])
	if err != nil && err != bio.ErrWouldBlock && err != io.EOF {
		return Result{}, classifyIOErr(err)
	}
	if closed && status == StatusOK && consumed == 0 && produced == 0 {
		status = StatusClosed
	}

	return Result{
		Status:          status,
		HandshakeStatus: c.handshakeStatusHint(),
		BytesConsumed:   consumed,
		BytesProduced:   produced,
	}, nil
}

// handshakeStatusHint reports what the caller should do next: once
// the handshake completes, steady state is reached (NOT_HANDSHAKING);
// beforehand, whether to wrap or unwrap next is inferred from which
// side still has pending bytes.
func (c *Connection) handshakeStatusHint() HandshakeStatus {
	if c.handshakeFinished() {
		return HandshakeNotHandshaking
	}
	if c.external != nil && c.external.Pending() > 0 {
		return HandshakeNeedWrap
	}
	return HandshakeNeedUnwrap
}
