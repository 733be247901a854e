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
	"crypto/tls"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// Profile is a deployment-pinned TLS policy loaded from YAML,
// letting an operator fix protocol bounds, cipher names, client auth,
// and session-cache sizing without touching Go code.
type Profile struct {
	MinVersion       string   `yaml:"min_version"`
	MaxVersion       string   `yaml:"max_version"`
	CipherSuites     []string `yaml:"cipher_suites"`
	ClientAuth       string   `yaml:"client_auth"` // none | verify | require
	SessionCacheSize int      `yaml:"session_cache_size"`
	SessionCacheTTL  string   `yaml:"session_cache_ttl"` // time.ParseDuration syntax
	PSKIdentityHint  string   `yaml:"psk_identity_hint"`
}

// protocolVersions accepts both the lowercase short names and the
// TLSv-prefixed display names. SSL 3.0 is deliberately absent.
var protocolVersions = map[string]uint16{
	"tls1.0":  tls.VersionTLS10,
	"tls1.1":  tls.VersionTLS11,
	"tls1.2":  tls.VersionTLS12,
	"tls1.3":  tls.VersionTLS13,
	"TLSv1":   tls.VersionTLS10,
	"TLSv1.1": tls.VersionTLS11,
	"TLSv1.2": tls.VersionTLS12,
	"TLSv1.3": tls.VersionTLS13,
}

// LoadProfile reads and parses a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindIo, "session: reading profile", err)
	}
	return ParseProfile(raw)
}

// ParseProfile parses YAML profile bytes.
func ParseProfile(raw []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "session: parsing profile", err)
	}
	return &p, nil
}

// Apply imposes the profile onto cfg. Version names, cipher-suite
// names, and the client-auth mode are validated here. An absent
// cipher_suites key leaves the existing list alone; a present-but-empty
// one empties it (same defer-to-handshake rule as SetCipherSuites).
func (p *Profile) Apply(cfg *ConnectionConfig) error {
	var protocols []uint16
	min, max := uint16(0), uint16(0)
	if p.MinVersion != "" {
		v, ok := protocolVersions[p.MinVersion]
		if !ok {
			return tlserr.New(tlserr.KindIllegalArgument, "session: unknown protocol "+p.MinVersion)
		}
		min = v
	}
	if p.MaxVersion != "" {
		v, ok := protocolVersions[p.MaxVersion]
		if !ok {
			return tlserr.New(tlserr.KindIllegalArgument, "session: unknown protocol "+p.MaxVersion)
		}
		max = v
	}
	if min != 0 && max != 0 && min > max {
		return tlserr.New(tlserr.KindIllegalArgument, "session: min_version exceeds max_version")
	}
	for v := min; min != 0 && max != 0 && v <= max; v++ {
		protocols = append(protocols, v)
	}
	if len(protocols) == 0 && min != 0 {
		protocols = []uint16{min}
	}

	switch p.ClientAuth {
	case "", "none":
		cfg.VerifyMode = VerifyNone
	case "verify":
		cfg.VerifyMode = VerifyPeer
	case "require":
		cfg.VerifyMode = VerifyRequirePeer
	default:
		return tlserr.New(tlserr.KindIllegalArgument, "session: unknown client_auth mode "+p.ClientAuth)
	}

	if p.CipherSuites != nil {
		if err := cfg.SetCipherSuites(p.CipherSuites); err != nil {
			return err
		}
	}

	ttl := DefaultCacheTTL
	if p.SessionCacheTTL != "" {
		parsed, err := time.ParseDuration(p.SessionCacheTTL)
		if err != nil {
			return tlserr.Wrap(tlserr.KindIllegalArgument, "session: parsing session_cache_ttl", err)
		}
		ttl = parsed
	}

	cfg.mu.Lock()
	if len(protocols) > 0 {
		cfg.EnabledProtocols = protocols
	}
	cfg.PSKIdentityHint = p.PSKIdentityHint
	if p.SessionCacheSize > 0 {
		cfg.SessionCache = NewCache(p.SessionCacheSize, ttl)
	}
	cfg.mu.Unlock()
	return nil
}
