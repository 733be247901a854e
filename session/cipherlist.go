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
	"context"
	"crypto/tls"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// SetCipherSuites replaces the config's enabled cipher-suite list.
// An empty list is legal at configuration time; the handshake itself
// fails later if no mutually acceptable suite exists. Unknown suite
// names are rejected immediately, since those can never become valid
// later.
//
// "!SSLv2" is accepted (and skipped) at the head of a list for
// compatibility with OpenSSL-style cipher strings that emit it;
// crypto/tls never negotiates SSLv2, so it carries no effect.
func (c *ConnectionConfig) SetCipherSuites(names []string) error {
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		if name == "!SSLv2" || name == "" {
			continue
		}
		id, ok := cipherSuiteByName(name)
		if !ok {
			return tlserr.New(tlserr.KindIllegalArgument, "session: unknown cipher suite "+name)
		}
		ids = append(ids, id)
	}
	orderByHardwareAES(ids)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cipherSuites = ids
	return nil
}

func cipherSuiteByName(name string) (uint16, bool) {
	for _, cs := range tls.CipherSuites() {
		if strings.EqualFold(cs.Name, name) {
			return cs.ID, true
		}
	}
	for _, cs := range tls.InsecureCipherSuites() {
		if strings.EqualFold(cs.Name, name) {
			return cs.ID, true
		}
	}
	return 0, false
}

// orderByHardwareAES stably moves AES-GCM suites ahead of ChaCha20
// ones when the host has AES-NI; without hardware AES the caller's
// order stands, leaving ChaCha20 preference intact.
func orderByHardwareAES(ids []uint16) {
	if !cpuid.CPU.Supports(cpuid.AESNI) {
		return
	}
	isChaCha := func(id uint16) bool {
		switch id {
		case tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256:
			return true
		default:
			return false
		}
	}
	aesFirst := make([]uint16, 0, len(ids))
	rest := make([]uint16, 0, len(ids))
	for _, id := range ids {
		if isChaCha(id) {
			rest = append(rest, id)
		} else {
			aesFirst = append(aesFirst, id)
		}
	}
	copy(ids, append(aesFirst, rest...))
}

// nameContext returns the context used for managed-certificate
// loads. Requests have no natural deadline from the caller at
// this layer, so Background is the default.
func nameContext() context.Context { return context.Background() }
