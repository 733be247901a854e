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

package bio

import (
	"io"
	"sync"
	"time"
)

const memoryPairBufferSize = 16 * 1024

// memoryRing is a small fixed-capacity byte ring buffer. It exists so
// MemoryPairBIO doesn't need unbounded slice growth (which would
// violate the "no allocation in the fast path" rule once warmed up).
type memoryRing struct {
	buf        []byte
	start, len int
}

func newMemoryRing(cap int) *memoryRing { return &memoryRing{buf: make([]byte, cap)} }

func (r *memoryRing) Cap() int  { return len(r.buf) }
func (r *memoryRing) Len() int  { return r.len }
func (r *memoryRing) Free() int { return len(r.buf) - r.len }

func (r *memoryRing) Write(p []byte) int {
	n := 0
	for n < len(p) && r.Free() > 0 {
		idx := (r.start + r.len) % len(r.buf)
		r.buf[idx] = p[n]
		r.len++
		n++
	}
	return n
}

func (r *memoryRing) Read(p []byte) int {
	n := 0
	for n < len(p) && r.len > 0 {
		p[n] = r.buf[r.start]
		r.start = (r.start + 1) % len(r.buf)
		r.len--
		n++
	}
	return n
}

// pairHalf is one side of a MemoryPair: what it writes becomes what
// its peer reads.
type pairHalf struct {
	mu           sync.Mutex
	cond         *sync.Cond
	inbound      *memoryRing // bytes written by the peer, read by us
	peerClosedTx bool        // our peer will write no more; guarded by mu
	totalRead    uint64
	totalWritten uint64
	peer         *pairHalf
}

// Waiter is implemented by BIOs that can block a caller until data
// becomes readable or room becomes writable, used by the engine
// package to drive a blocking net.Conn adapter (so crypto/tls's own
// handshake state machine can run in a background goroutine) over an
// otherwise non-blocking memory-pair BIO.
type Waiter interface {
	WaitReadable(deadline time.Time) bool
	WaitWritable(deadline time.Time) bool
}

// NewMemoryPair returns two coupled BIO halves; bytes written to one
// half become readable on the other. The engine package uses a pair
// to drive a crypto/tls handshake over in-memory buffers instead of
// a socket.
func NewMemoryPair() (a, b BIO) {
	ha := &pairHalf{inbound: newMemoryRing(memoryPairBufferSize)}
	hb := &pairHalf{inbound: newMemoryRing(memoryPairBufferSize)}
	ha.cond = sync.NewCond(&ha.mu)
	hb.cond = sync.NewCond(&hb.mu)
	ha.peer = hb
	hb.peer = ha
	return ha, hb
}

func (h *pairHalf) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	h.mu.Lock()
	n := h.inbound.Read(p)
	if n > 0 {
		h.totalRead += uint64(n)
		h.mu.Unlock()
		h.cond.Broadcast()
		return n, nil
	}
	defer h.mu.Unlock()
	if h.peerClosedTx {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

func (h *pairHalf) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	h.peer.mu.Lock()
	if h.peer.inbound.Free() == 0 {
		h.peer.mu.Unlock()
		return 0, ErrWouldBlock
	}
	n := h.peer.inbound.Write(p)
	h.peer.mu.Unlock()
	h.peer.cond.Broadcast()

	h.mu.Lock()
	h.totalWritten += uint64(n)
	h.mu.Unlock()
	return n, nil
}

// CloseWrite marks this half as done sending; the peer will observe
// EOF once its inbound buffer drains, matching a socket's
// shutdown(SHUT_WR) semantics.
func (h *pairHalf) CloseWrite() {
	h.peer.mu.Lock()
	h.peer.peerClosedTx = true
	h.peer.mu.Unlock()
	h.peer.cond.Broadcast()
	h.cond.Broadcast()
}

// WaitReadable blocks until data is available to Read, the peer
// closes for writing, or deadline passes (a zero deadline means wait
// forever). It reports whether the wait ended for a reason other than
// timeout.
func (h *pairHalf) WaitReadable(deadline time.Time) bool {
	return h.waitUntil(deadline, func() bool {
		return h.inbound.Len() > 0 || h.peerClosedTx
	})
}

// WaitWritable blocks until room is available to Write or deadline
// passes.
func (h *pairHalf) WaitWritable(deadline time.Time) bool {
	return h.peer.waitUntil(deadline, func() bool {
		return h.peer.inbound.Free() > 0
	})
}

func (h *pairHalf) waitUntil(deadline time.Time, ready func() bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !deadline.IsZero() {
		timer := time.AfterFunc(time.Until(deadline), h.cond.Broadcast)
		defer timer.Stop()
	}
	for !ready() {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false
		}
		h.cond.Wait()
	}
	return true
}

func (h *pairHalf) Flush() error { return nil }

func (h *pairHalf) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inbound.Len()
}

func (h *pairHalf) Eof() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inbound.Len() == 0 && h.peerClosedTx
}

func (h *pairHalf) Kind() Kind { return KindMemoryPair }

func (h *pairHalf) Totals() Totals {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Totals{Read: h.totalRead, Written: h.totalWritten}
}

func (h *pairHalf) Close() error {
	h.CloseWrite()
	return nil
}

var (
	_ TotalsBIO = (*pairHalf)(nil)
	_ Waiter    = (*pairHalf)(nil)
)
