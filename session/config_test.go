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

package session

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

func TestSetSessionIDContextBound(t *testing.T) {
	cfg := NewConfig(nil)

	require.NoError(t, cfg.SetSessionIDContext(bytes.Repeat([]byte{1}, 32)))
	err := cfg.SetSessionIDContext(bytes.Repeat([]byte{1}, 33))
	require.Error(t, err)
	assert.True(t, tlserr.Is(err, tlserr.KindIllegalArgument))
}

func TestSetSessionIDContextCopies(t *testing.T) {
	cfg := NewConfig(nil)
	src := []byte{1, 2, 3}
	require.NoError(t, cfg.SetSessionIDContext(src))
	src[0] = 9
	assert.Equal(t, byte(1), cfg.SessionIDContext[0])
}

func TestSetStapleBytesCopy(t *testing.T) {
	cfg := NewConfig(nil)

	sct := []byte{0, 5, 1, 2, 3, 4, 5}
	cfg.SetSignedCertTimestamps(sct)
	sct[2] = 0xFF
	assert.Equal(t, byte(1), cfg.SignedCertTimestamps[2])

	ocsp := []byte{9, 9}
	cfg.SetOCSPResponse(ocsp)
	ocsp[0] = 0
	assert.Equal(t, byte(9), cfg.OCSPResponse[0])
}

func selfSignedFor(t *testing.T, names ...string) *tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: names[0]},
		DNSNames:     names,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestCertificateLookupExactAndWildcard(t *testing.T) {
	cfg := NewConfig(nil)

	exact := selfSignedFor(t, "example.com")
	wild := selfSignedFor(t, "*.example.org")
	require.NoError(t, cfg.AddManualCertificate(exact))
	require.NoError(t, cfg.AddManualCertificate(wild))

	got, err := cfg.CertificateForName("EXAMPLE.com")
	require.NoError(t, err)
	assert.Same(t, exact, got)

	got, err = cfg.CertificateForName("api.example.org")
	require.NoError(t, err)
	assert.Same(t, wild, got)

	_, err = cfg.CertificateForName("nothing.invalid")
	require.Error(t, err)
	assert.True(t, tlserr.Is(err, tlserr.KindSslProtocol))
}

func TestAddManualCertificateRejectsEmptyChain(t *testing.T) {
	cfg := NewConfig(nil)
	err := cfg.AddManualCertificate(&tls.Certificate{})
	require.Error(t, err)
}
