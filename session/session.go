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
	"encoding/asn1"
	"time"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// Session is a resumable handshake record: a session ID, the
// negotiated cipher/protocol, its creation time, and (for TLS) the
// SNI name it was established under.
type Session struct {
	ID          []byte
	CipherSuite string
	Protocol    string
	CreatedAt   time.Time
	ServerName  string
	PeerCertDER [][]byte // verified peer chain, leaf first
}

// TimeMS returns the session's creation time in epoch milliseconds,
// for consumers that exchange Java-style timestamps rather than
// time.Time values.
func (s *Session) TimeMS() int64 {
	return s.CreatedAt.UnixMilli()
}

// wireSession is the DER encoding of a Session.
// asn1.Marshal/Unmarshal give byte-exact DER without a bespoke
// codec.
type wireSession struct {
	ID                []byte
	CipherSuite       string
	Protocol          string
	CreatedUnixMillis int64
	ServerName        string   `asn1:"optional"`
	PeerCertDER       [][]byte `asn1:"optional"`
}

// Encode produces the DER bytes for s, suitable for storage outside
// process memory and later recovery via Decode.
func (s *Session) Encode() ([]byte, error) {
	w := wireSession{
		ID:                s.ID,
		CipherSuite:       s.CipherSuite,
		Protocol:          s.Protocol,
		CreatedUnixMillis: s.CreatedAt.UnixMilli(),
		ServerName:        s.ServerName,
		PeerCertDER:       s.PeerCertDER,
	}
	out, err := asn1.Marshal(w)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "session: encode failed", err)
	}
	return out, nil
}

// Decode reverses Encode. A session round-tripped through
// Encode/Decode compares equal on ID, cipher, protocol, and creation
// time.
func Decode(der []byte) (*Session, error) {
	var w wireSession
	rest, err := asn1.Unmarshal(der, &w)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "session: decode failed", err)
	}
	if len(rest) != 0 {
		return nil, tlserr.New(tlserr.KindParseError, "session: trailing bytes after DER session")
	}
	return &Session{
		ID:          w.ID,
		CipherSuite: w.CipherSuite,
		Protocol:    w.Protocol,
		CreatedAt:   time.UnixMilli(w.CreatedUnixMillis).UTC(),
		ServerName:  w.ServerName,
		PeerCertDER: w.PeerCertDER,
	}, nil
}
