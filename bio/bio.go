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

// Package bio provides the transport abstraction under the TLS
// engine: a two-way byte pipe with read/write/flush/pending
// semantics, backed either by a non-blocking file descriptor plus an
// emergency wakeup pipe, or by an in-memory paired buffer. The
// capability set is fixed at construction; there is no method-table
// dispatch beyond the interface itself.
package bio

import "errors"

// ErrWouldBlock is returned by Read/Write when the underlying
// transport has no data/room right now and the caller should suspend
// and retry once the transport is ready.
var ErrWouldBlock = errors.New("bio: operation would block")

// Kind tags which realization a BIO is, for diagnostics.
type Kind int

const (
	KindFD Kind = iota
	KindMemoryPair
)

// BIO is the two-way byte-pipe abstraction. All methods are
// synchronous; implementations must not allocate in the fast path
// after construction. Thread safety is externally enforced: the
// Connection (engine package) guarantees at most one reader and one
// writer call into a BIO concurrently.
type BIO interface {
	// Read fills p and returns the number of bytes read. It returns
	// (0, ErrWouldBlock) if no data is available right now, and
	// (0, io.EOF) if the peer has closed for writing and nothing
	// remains buffered.
	Read(p []byte) (n int, err error)

	// Write sends p and returns the number of bytes written, which
	// may be less than len(p). It returns (0, ErrWouldBlock) if the
	// transport has no room right now.
	Write(p []byte) (n int, err error)

	// Flush pushes any internally buffered bytes to the wire. Most
	// realizations are unbuffered and Flush is a no-op.
	Flush() error

	// Pending reports bytes immediately readable without blocking.
	Pending() int

	// Eof reports whether the peer has signaled end of input.
	Eof() bool

	// Kind identifies the realization, for diagnostics/logging only.
	Kind() Kind

	// Close detaches the BIO. For an FD-backed BIO that does not own
	// its file descriptor (the common case — the consumer owns the
	// socket), Close must NOT close the fd; it only releases the
	// wakeup-pipe and any BIO-local state.
	Close() error
}

// Totals is a cheap (reader, writer totals) snapshot used by the
// engine to decide, after an I/O call, whether bytes moved and a
// blocked peer thread should be woken.
type Totals struct {
	Read    uint64
	Written uint64
}

// TotalsBIO is implemented by BIOs that can report Totals; both
// realizations in this package implement it.
type TotalsBIO interface {
	BIO
	Totals() Totals
}
