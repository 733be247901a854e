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
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRingWrapAround(t *testing.T) {
	r := newMemoryRing(8)
	require.Equal(t, 8, r.Cap())

	n := r.Write([]byte("abcdef"))
	require.Equal(t, 6, n)
	require.Equal(t, 2, r.Free())

	out := make([]byte, 4)
	require.Equal(t, 4, r.Read(out))
	require.Equal(t, "abcd", string(out))

	// wraps past the end of the backing array
	n = r.Write([]byte("ghijkl"))
	require.Equal(t, 6, n)
	require.Equal(t, 0, r.Free())

	out = make([]byte, 8)
	require.Equal(t, 8, r.Read(out))
	require.Equal(t, "efghijkl", string(out))
	require.Equal(t, 0, r.Len())
}

func TestMemoryPairRoundTrip(t *testing.T) {
	a, b := NewMemoryPair()

	n, err := a.Write([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 4, b.Pending())

	buf := make([]byte, 16)
	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	// reading the drained side reports would-block, not EOF
	_, err = b.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestMemoryPairBackpressure(t *testing.T) {
	a, b := NewMemoryPair()

	chunk := bytes.Repeat([]byte{0x42}, 4096)
	total := 0
	for {
		n, err := a.Write(chunk)
		total += n
		if err == ErrWouldBlock {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, memoryPairBufferSize, total)

	// draining the peer frees room again
	buf := make([]byte, 1024)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1024, n)

	n, err = a.Write(chunk)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
}

func TestMemoryPairEOFAfterCloseWrite(t *testing.T) {
	a, b := NewMemoryPair()

	_, err := a.Write([]byte("last words"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// buffered bytes still drain before EOF surfaces
	buf := make([]byte, 32)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "last words", string(buf[:n]))

	_, err = b.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	require.True(t, b.Eof())
}

func TestMemoryPairTotals(t *testing.T) {
	a, b := NewMemoryPair()

	_, err := a.Write([]byte("12345"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = b.Read(buf)
	require.NoError(t, err)

	at := a.(TotalsBIO).Totals()
	bt := b.(TotalsBIO).Totals()
	require.Equal(t, uint64(5), at.Written)
	require.Equal(t, uint64(0), at.Read)
	require.Equal(t, uint64(5), bt.Read)
}

func TestMemoryPairWaitReadable(t *testing.T) {
	a, b := NewMemoryPair()
	w := b.(Waiter)

	// deadline in the past: times out immediately
	require.False(t, w.WaitReadable(time.Now().Add(-time.Second)))

	done := make(chan bool, 1)
	go func() {
		done <- w.WaitReadable(time.Now().Add(5 * time.Second))
	}()
	time.Sleep(10 * time.Millisecond)
	_, err := a.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitReadable never woke up")
	}
}

func TestMemoryPairWaitReadableWakesOnClose(t *testing.T) {
	a, b := NewMemoryPair()
	w := b.(Waiter)

	done := make(chan bool, 1)
	go func() {
		done <- w.WaitReadable(time.Time{})
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitReadable did not observe peer close")
	}
}

func TestMemoryPairZeroLengthIO(t *testing.T) {
	a, b := NewMemoryPair()

	n, err := a.Write(nil)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = b.Read(nil)
	require.NoError(t, err)
	require.Zero(t, n)
}
