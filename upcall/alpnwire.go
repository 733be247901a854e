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

package upcall

import (
	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// EncodeALPN serializes a protocol list into the wire form the
// configuration surface accepts: each protocol as a one-byte length
// followed by its bytes, concatenated. A zero-length or over-long
// (>255 byte) protocol is a protocol error, never silently encoded.
func EncodeALPN(protocols [][]byte) ([]byte, error) {
	size := 0
	for _, p := range protocols {
		if len(p) == 0 {
			return nil, tlserr.New(tlserr.KindSslProtocol, "upcall: zero-length ALPN protocol")
		}
		if len(p) > 255 {
			return nil, tlserr.New(tlserr.KindSslProtocol, "upcall: ALPN protocol exceeds 255 bytes")
		}
		size += 1 + len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range protocols {
		out = append(out, byte(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// DecodeALPN parses the concatenated length-prefixed ALPN wire form
// back into a protocol list. The vector must be exactly consumed; a
// length byte running past the end of the input, or a zero-length
// element, is a protocol error.
func DecodeALPN(wire []byte) ([][]byte, error) {
	var out [][]byte
	for i := 0; i < len(wire); {
		n := int(wire[i])
		if n == 0 {
			return nil, tlserr.New(tlserr.KindSslProtocol, "upcall: zero-length ALPN protocol")
		}
		i++
		if i+n > len(wire) {
			return nil, tlserr.New(tlserr.KindSslProtocol, "upcall: truncated ALPN protocol list")
		}
		p := make([]byte, n)
		copy(p, wire[i:i+n])
		out = append(out, p)
		i += n
	}
	return out, nil
}
