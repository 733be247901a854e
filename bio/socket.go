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
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// SocketBIO wraps a non-blocking file descriptor plus an "emergency"
// wakeup pipe. EWOULDBLOCK/EAGAIN surfaces as ErrWouldBlock; EINTR is
// swallowed and the syscall retried in place, never surfaced to the
// caller.
type SocketBIO struct {
	fd          int
	ownsFD      bool
	wakeupRead  int
	wakeupWrite int
	totalRead   uint64
	totalWrite  uint64
	eof         int32 // atomic bool
	closed      int32 // atomic bool
}

// NewSocketBIO wraps fd, which must already be set non-blocking by
// the caller; fd ownership and mode stay with the consumer. If
// ownsFD is false (the common case), Close will not close fd.
func NewSocketBIO(fd int, ownsFD bool) (*SocketBIO, error) {
	rfd, wfd, err := newWakeupPipe()
	if err != nil {
		return nil, err
	}
	return &SocketBIO{fd: fd, ownsFD: ownsFD, wakeupRead: rfd, wakeupWrite: wfd}, nil
}

// newWakeupPipe creates a non-blocking pipe whose write end AppData
// notifies on interrupt/close and whose read end sslSelect polls
// alongside the connection's fd. Fails distinctly if the pipe cannot
// be made non-blocking.
func newWakeupPipe() (rfd, wfd int, err error) {
	var fds [2]int
	if err = unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// WakeupReadFD exposes the wakeup pipe's read end for sslSelect
// (engine package) to poll alongside the connection fd.
func (s *SocketBIO) WakeupReadFD() int { return s.wakeupRead }

// FD exposes the underlying connection fd for sslSelect.
func (s *SocketBIO) FD() int { return s.fd }

// Notify writes one byte to the wakeup pipe, retrying on EINTR. It
// never blocks: every call adds one pending byte, and a write refused
// with EAGAIN (pipe full) is silently dropped.
func (s *SocketBIO) Notify() {
	for {
		_, err := unix.Write(s.wakeupWrite, []byte{0})
		if err == unix.EINTR {
			continue
		}
		// EAGAIN: a wakeup byte is already sitting in the pipe; the
		// point of the notification is already satisfied.
		return
	}
}

// DrainWakeup empties the wakeup pipe's read end non-blockingly,
// restoring it to "no pending wakeup" so future sslSelect calls block
// normally again.
func (s *SocketBIO) DrainWakeup() {
	var buf [64]byte
	for {
		_, err := unix.Read(s.wakeupRead, buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (s *SocketBIO) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch err {
		case nil:
			if n == 0 {
				atomic.StoreInt32(&s.eof, 1)
				return 0, io.EOF
			}
			atomic.AddUint64(&s.totalRead, uint64(n))
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s *SocketBIO) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(s.fd, p)
		switch err {
		case nil:
			atomic.AddUint64(&s.totalWrite, uint64(n))
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

// Flush is a no-op: the socket BIO has no internal write buffer.
func (s *SocketBIO) Flush() error { return nil }

// Pending always reports 0: without an internal buffer there is
// nothing to report short of another read syscall, which Pending
// must not perform.
func (s *SocketBIO) Pending() int { return 0 }

func (s *SocketBIO) Eof() bool { return atomic.LoadInt32(&s.eof) != 0 }

func (s *SocketBIO) Kind() Kind { return KindFD }

func (s *SocketBIO) Totals() Totals {
	return Totals{Read: atomic.LoadUint64(&s.totalRead), Written: atomic.LoadUint64(&s.totalWrite)}
}

// Close detaches the BIO. It never closes the connection fd unless
// this BIO was constructed with ownsFD true; closing the owning
// Connection must not close a fd the consumer still owns.
func (s *SocketBIO) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	unix.Close(s.wakeupRead)
	unix.Close(s.wakeupWrite)
	if s.ownsFD {
		return unix.Close(s.fd)
	}
	return nil
}

var _ TotalsBIO = (*SocketBIO)(nil)
