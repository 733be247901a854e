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

package appdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	d := New(nil, nil)
	require.True(t, d.Alive())
	require.NotEmpty(t, d.ConnID)
	require.NotNil(t, d.Log)
}

func TestInterruptIsMonotonic(t *testing.T) {
	d := New(nil, nil)
	d.Interrupt()
	require.False(t, d.Alive())
	// a second interrupt must not re-raise
	d.Interrupt()
	require.False(t, d.Alive())
}

func TestEnterWaitBound(t *testing.T) {
	d := New(nil, nil)
	require.True(t, d.EnterWait())
	require.True(t, d.EnterWait())
	// one reader + one writer is the cap
	require.False(t, d.EnterWait())

	d.ExitWait()
	require.True(t, d.EnterWait())

	// ExitWait never underflows
	d.ExitWait()
	d.ExitWait()
	d.ExitWait()
	require.True(t, d.EnterWait())
}

func TestUpcallEnvironmentLifecycle(t *testing.T) {
	d := New(nil, nil)
	env := &Environment{FDHandle: 7}

	d.Lock()
	require.NoError(t, d.InstallUpcall(env))
	require.Same(t, env, d.UpcallEnv())
	d.ClearUpcall()
	require.Nil(t, d.UpcallEnv())
	d.Unlock()
}

func TestInstallUpcallAfterInterrupt(t *testing.T) {
	d := New(nil, nil)
	d.Interrupt()

	d.Lock()
	err := d.InstallUpcall(&Environment{})
	d.Unlock()
	require.Error(t, err)
}

func TestInstallALPNDeepCopies(t *testing.T) {
	d := New(nil, nil)
	src := [][]byte{[]byte("h2"), []byte("http/1.1")}
	d.InstallALPN(src)

	// mutating the caller's buffer must not leak into AppData
	src[0][0] = 'X'
	got := d.ALPN()
	require.Equal(t, "h2", string(got[0]))
	require.Equal(t, "http/1.1", string(got[1]))

	// replacing the list drops the old one
	d.InstallALPN([][]byte{[]byte("spdy/3")})
	got = d.ALPN()
	require.Len(t, got, 1)
	require.Equal(t, "spdy/3", string(got[0]))
}
