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

// Package appdata holds the per-connection scratch state: liveness,
// waiting-thread accounting, the wakeup pipe, the installed upcall
// environment, and the negotiated ALPN protocol list. Its mutex
// serializes everything the handshake upcall router (upcall package)
// and the engine I/O surface (engine package) touch.
package appdata

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tharow-Services/conscrypt-sub000/bio"
	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// Environment is the transient, scoped-to-one-call state installed
// immediately before a primitive-library call that may upcall into
// consumer code, and cleared immediately after the call returns.
// Callbacks is deliberately typed `any` here: the upcall package
// defines the concrete CallbackSet so that appdata has no import
// cycle back to it.
type Environment struct {
	Callbacks any
	FDHandle  int

	// HandshakeSession is the transient handle reflecting the
	// in-progress peer chain, non-nil only for the duration of a
	// verify upcall; reading it after the upcall returns is invalid.
	HandshakeSession any
}

// AppData is the per-connection scratch block. Its lifetime exactly
// matches one Connection.
type AppData struct {
	mu sync.Mutex

	alive          bool
	waitingThreads uint32

	upcallEnv *Environment
	alpn      [][]byte

	wakeup    *bio.SocketBIO // nil in engine (memory-pair) mode
	ConnID    string
	Log       *zap.Logger
}

// New allocates a new AppData, including the wakeup pipe if sock is
// non-nil (socket mode). Engine/memory-pair mode connections pass a
// nil sock and rely on the memory-pair BIO's own backpressure instead
// of a wakeup pipe, since memory-pair wrap/unwrap never blocks.
func New(sock *bio.SocketBIO, log *zap.Logger) *AppData {
	if log == nil {
		log = zap.NewNop()
	}
	return &AppData{
		alive:  true,
		wakeup: sock,
		ConnID: uuid.NewString(),
		Log:    log,
	}
}

// Lock/Unlock expose the mutex directly: the upcall router and engine
// must hold this same lock across "install environment; call
// primitive; clear environment", which Go's sync.Mutex cannot express
// as a single guarded method without forcing a closure-based API that
// would fight the primitive library's call shape. Callers are
// expected to defer Unlock immediately after Lock.
func (a *AppData) Lock()   { a.mu.Lock() }
func (a *AppData) Unlock() { a.mu.Unlock() }

// Alive reports whether the connection has not been interrupted.
// It takes the AppData mutex itself, so it must not be called with
// the lock held (alive only ever transitions true->false, never back).
func (a *AppData) Alive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Interrupt sets alive=false (monotonically; it never re-raises) and
// wakes up to two blocked threads, the upper bound of one reader plus
// one writer. Blocked sslSelect calls wake, observe alive=false, and
// the Read/Write/Handshake waiting on them fails with ErrInterrupted.
func (a *AppData) Interrupt() {
	a.mu.Lock()
	a.alive = false
	sock := a.wakeup
	a.mu.Unlock()

	if sock != nil {
		sock.Notify()
		sock.Notify()
	}
}

// ErrInterrupted is what a blocked read/write observes after Interrupt.
var ErrInterrupted = tlserr.New(tlserr.KindIo, "socket closed")

// EnterWait increments the waiting-thread count, enforcing the
// at-most-one-reader-plus-one-writer invariant. It returns false if
// the bound would be exceeded; the engine treats that as a caller bug
// and fails the call rather than corrupting state.
func (a *AppData) EnterWait() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.waitingThreads >= 2 {
		return false
	}
	a.waitingThreads++
	return true
}

// ExitWait decrements the waiting-thread count.
func (a *AppData) ExitWait() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.waitingThreads > 0 {
		a.waitingThreads--
	}
}

// Notify wakes a thread blocked in sslSelect, used by the engine
// after an I/O call observably moved bytes.
func (a *AppData) Notify() {
	a.mu.Lock()
	sock := a.wakeup
	a.mu.Unlock()
	if sock != nil {
		sock.Notify()
	}
}

// InstallUpcall stores env for the duration of one re-entrant call
// into the primitive library. The caller must already hold the lock.
func (a *AppData) InstallUpcall(env *Environment) error {
	if !a.alive {
		return tlserr.New(tlserr.KindIo, "appdata: fd closed")
	}
	a.upcallEnv = env
	return nil
}

// ClearUpcall removes the installed environment. Caller MUST hold the
// lock.
func (a *AppData) ClearUpcall() {
	a.upcallEnv = nil
}

// UpcallEnv returns the currently installed environment, or nil.
// Caller MUST hold the lock.
func (a *AppData) UpcallEnv() *Environment {
	return a.upcallEnv
}

// InstallALPN deep-copies protocols into the AppData, replacing
// whatever was there before. No pointer into the caller's buffer is
// retained: the caller's slice may be freed or reused the instant
// this call returns.
func (a *AppData) InstallALPN(protocols [][]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([][]byte, len(protocols))
	for i, p := range protocols {
		b := make([]byte, len(p))
		copy(b, p)
		cp[i] = b
	}
	a.alpn = cp
}

// ALPN returns the server's configured ALPN protocol list. Safe for
// concurrent use; returns a defensive copy.
func (a *AppData) ALPN() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([][]byte, len(a.alpn))
	copy(cp, a.alpn)
	return cp
}
