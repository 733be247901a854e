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

// Package sctverify decodes RFC 6962 §3.2 SCT lists (the two-byte
// length-prefixed vector format session.ConnectionConfig stores as its
// SignedCertTimestamps bytes) and verifies each timestamp's signature
// against a configured Certificate Transparency log public key.
//
// The list format is raw bytes in and out: callers keep storing the
// wire form, and verification parses it only transiently.
package sctverify

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"time"

	ct "github.com/google/certificate-transparency-go"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// LogID computes a CT log's identifier: SHA-256 over the DER-encoded
// SubjectPublicKeyInfo of the log's public key.
func LogID(spkiDER []byte) [sha256.Size]byte {
	return sha256.Sum256(spkiDER)
}

// DecodeList parses the two-byte length-prefixed SCT list format. An
// empty list is legal and returns no timestamps; truncated or
// over-running vectors are a parse error.
func DecodeList(sctList []byte) ([]ct.SignedCertificateTimestamp, error) {
	if len(sctList) == 0 {
		return nil, nil
	}
	scts, err := ct.DeserializeSCTList(sctList)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "sctverify: decoding SCT list", err)
	}
	return scts, nil
}

// EncodeList serializes timestamps back into the wire-format list, the
// inverse of DecodeList.
func EncodeList(scts []ct.SignedCertificateTimestamp) ([]byte, error) {
	out, err := ct.SerializeSCTList(scts)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "sctverify: encoding SCT list", err)
	}
	return out, nil
}

// Log describes one trusted CT log: its public key and the identifier
// derived from it. Construct with NewLog.
type Log struct {
	Name     string
	PubKey   crypto.PublicKey
	ID       [sha256.Size]byte
	verifier *ct.SignatureVerifier
}

// NewLog builds a Log from a DER-encoded SubjectPublicKeyInfo, the
// form log lists distribute keys in.
func NewLog(name string, spkiDER []byte) (*Log, error) {
	pub, err := x509.ParsePKIXPublicKey(spkiDER)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindInvalidKey, "sctverify: parsing log public key", err)
	}
	v, err := ct.NewSignatureVerifier(pub)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindInvalidKey, "sctverify: unsupported log key type", err)
	}
	return &Log{Name: name, PubKey: pub, ID: LogID(spkiDER), verifier: v}, nil
}

// VerifySCT checks one SCT over leafDER (the certificate as presented
// on the wire, not a precertificate) against this log: the log ID must
// match and the signature must validate over the reconstructed
// Merkle-tree leaf.
func (l *Log) VerifySCT(sct ct.SignedCertificateTimestamp, leafDER []byte) error {
	if sct.LogID.KeyID != l.ID {
		return tlserr.New(tlserr.KindSignature, "sctverify: SCT is from a different log")
	}
	leaf := ct.CreateX509MerkleTreeLeaf(ct.ASN1Cert{Data: leafDER}, sct.Timestamp)
	entry := ct.LogEntry{Leaf: *leaf}
	if err := l.verifier.VerifySCTSignature(sct, entry); err != nil {
		return tlserr.Wrap(tlserr.KindSignature, "sctverify: SCT signature invalid", err)
	}
	return nil
}

// VerifyList decodes sctList and checks every timestamp in it against
// the supplied logs, requiring each SCT to verify under at least one
// known log. It returns the number of verified SCTs; zero with a nil
// error means the list was empty.
func VerifyList(sctList, leafDER []byte, logs []*Log, now time.Time) (int, error) {
	scts, err := DecodeList(sctList)
	if err != nil {
		return 0, err
	}
	verified := 0
	for _, sct := range scts {
		if err := verifyOne(sct, leafDER, logs, now); err != nil {
			return verified, err
		}
		verified++
	}
	return verified, nil
}

func verifyOne(sct ct.SignedCertificateTimestamp, leafDER []byte, logs []*Log, now time.Time) error {
	if ts := time.UnixMilli(int64(sct.Timestamp)); ts.After(now) {
		return tlserr.New(tlserr.KindSignature, "sctverify: SCT timestamp is in the future")
	}
	for _, l := range logs {
		if sct.LogID.KeyID != l.ID {
			continue
		}
		return l.VerifySCT(sct, leafDER)
	}
	return tlserr.New(tlserr.KindSignature, "sctverify: SCT is from an unknown log")
}
