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

// Package keywrap lets a caller-held private key whose material
// never leaves the caller (hardware-backed, OS keystore) be used for
// RSA-PKCS#1 raw signing, RSA raw decryption, and ECDSA signing.
//
// Go already has the right shape for this in crypto.Signer and
// crypto.Decrypter: a wrapped key is simply a value that implements
// one or both of those interfaces without exposing its private
// scalar/exponent. Wrapper adds size caching, padding validation,
// zero-padding to the modulus size, and duplicate/free semantics on
// top of the bare stdlib interfaces.
package keywrap

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// Padding identifies the RSA padding scheme for SignRaw/Decrypt.
// Signing accepts PKCS#1 v1.5 only; decryption accepts PKCS#1 v1.5
// and the two OAEP schemes, and rejects PaddingNone (UNKNOWN_PADDING).
type Padding int

const (
	PaddingPKCS1 Padding = iota
	PaddingOAEPSHA1
	PaddingOAEPSHA256
	PaddingNone
)

// KeyExData is the glue struct bound to an RSA or EC key object:
// the caller's opaque key handle plus the locally cached size. It is
// exclusively owned by the *Wrapper that created it and is released
// via Free when that Wrapper is dropped.
type KeyExData struct {
	handle          any
	cachedSizeBytes int
}

// Wrapper adapts a caller-supplied crypto.Signer (and, for RSA
// decryption, crypto.Decrypter) into the size/sign-raw/decrypt/
// ecdsa-sign operations the record layer consumes for delegated
// keys.
type Wrapper struct {
	ex        KeyExData
	signer    crypto.Signer
	decrypter crypto.Decrypter // nil if this key only signs
	isECDSA   bool
	groupBits int // only meaningful when isECDSA
}

// NewRSAWrapper wraps an RSA crypto.Signer (and, optionally, the same
// value as a crypto.Decrypter) whose modulus is modulusSizeBytes long.
// The caller's public key is deliberately never consulted: only the
// cached size is known locally.
func NewRSAWrapper(handle any, signer crypto.Signer, decrypter crypto.Decrypter, modulusSizeBytes int) *Wrapper {
	return &Wrapper{
		ex:        KeyExData{handle: handle, cachedSizeBytes: modulusSizeBytes},
		signer:    signer,
		decrypter: decrypter,
	}
}

// NewECDSAWrapper wraps an EC crypto.Signer whose group order is
// groupOrderBits wide.
func NewECDSAWrapper(handle any, signer crypto.Signer, groupOrderBits int) *Wrapper {
	return &Wrapper{
		ex:        KeyExData{handle: handle},
		signer:    signer,
		isECDSA:   true,
		groupBits: groupOrderBits,
	}
}

// RSASize returns the cached modulus size in bytes without
// consulting the caller's key.
func (w *Wrapper) RSASize() int { return w.ex.cachedSizeBytes }

// RSASignRaw upcalls the caller with (key handle, digest) expecting
// a raw PKCS#1 v1.5 signature, then left-zero-pads the result to
// exactly RSASize() bytes.
//
// Go's crypto.Signer, when called with opts.HashFunc()==0, signs the
// message directly via RSASSA-PKCS1-V1_5 without hashing it again
// first — that is precisely "raw" PKCS#1 v1.5 signing, so no extra
// shim is needed beyond padding/size validation.
func (w *Wrapper) RSASignRaw(digest []byte, padding Padding, maxOut int) ([]byte, error) {
	if padding != PaddingPKCS1 {
		return nil, tlserr.New(tlserr.KindInvalidAlgorithmParameter, "keywrap: UNKNOWN_PADDING")
	}
	size := w.RSASize()
	if maxOut < size {
		return nil, tlserr.New(tlserr.KindIllegalBlockSize, "keywrap: DATA_TOO_LARGE")
	}
	sig, err := w.signer.Sign(rand.Reader, digest, crypto.Hash(0))
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindSignature, "keywrap: rsa_sign_raw upcall failed", err)
	}
	if len(sig) > size {
		return nil, tlserr.New(tlserr.KindIllegalBlockSize, "keywrap: DATA_TOO_LARGE")
	}
	return leftZeroPad(sig, size), nil
}

// RSADecrypt upcalls the caller with (key handle, padding, ciphertext)
// and copies the returned cleartext to the output, failing with
// IllegalBlockSize ("DATA_TOO_LARGE") if it would overflow maxOut.
func (w *Wrapper) RSADecrypt(ciphertext []byte, padding Padding, maxOut int) ([]byte, error) {
	if w.decrypter == nil {
		return nil, tlserr.New(tlserr.KindInvalidKey, "keywrap: key does not support decryption")
	}
	opts, err := decrypterOpts(padding)
	if err != nil {
		return nil, err
	}
	clear, err := w.decrypter.Decrypt(rand.Reader, ciphertext, opts)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindBadPadding, "keywrap: rsa_decrypt upcall failed", err)
	}
	if len(clear) > maxOut {
		return nil, tlserr.New(tlserr.KindIllegalBlockSize, "keywrap: DATA_TOO_LARGE")
	}
	return clear, nil
}

// decrypterOpts maps a padding code to the crypto/rsa option types that
// an *rsa.PrivateKey-shaped crypto.Decrypter (HSM-backed or not)
// expects, since crypto.DecrypterOpts itself carries no methods.
func decrypterOpts(padding Padding) (crypto.DecrypterOpts, error) {
	switch padding {
	case PaddingPKCS1:
		return &rsa.PKCS1v15DecryptOptions{}, nil
	case PaddingOAEPSHA1:
		return &rsa.OAEPOptions{Hash: crypto.SHA1}, nil
	case PaddingOAEPSHA256:
		return &rsa.OAEPOptions{Hash: crypto.SHA256}, nil
	default:
		return nil, tlserr.New(tlserr.KindInvalidAlgorithmParameter, "keywrap: UNKNOWN_PADDING")
	}
}

// EcdsaMaxSigSize returns the maximum DER ECDSA signature size for a
// group of the given order width.
func EcdsaMaxSigSize(groupOrderBits int) int {
	// Two ASN.1 INTEGERs (r, s), each up to groupOrderBits/8 bytes plus
	// a leading zero and a short tag/length, plus the SEQUENCE header.
	n := (groupOrderBits + 7) / 8
	return 2*(n+3) + 3
}

// ECDSASign upcalls the caller with (key handle, digest) expecting a
// DER ECDSA signature. Over-long results fail; under-long results
// are accepted as-is.
func (w *Wrapper) ECDSASign(digest []byte) ([]byte, error) {
	if !w.isECDSA {
		return nil, tlserr.New(tlserr.KindInvalidKey, "keywrap: not an EC key")
	}
	sig, err := w.signer.Sign(rand.Reader, digest, crypto.SHA256)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindSignature, "keywrap: ecdsa_sign upcall failed", err)
	}
	if max := EcdsaMaxSigSize(w.groupBits); len(sig) > max {
		return nil, tlserr.New(tlserr.KindSignature, "keywrap: ecdsa signature exceeds group bound")
	}
	return sig, nil
}

// Duplicate always fails: duplication of a wrapped key is
// unsupported, since the material lives with the caller.
func (w *Wrapper) Duplicate() error {
	return tlserr.New(tlserr.KindIllegalState, "keywrap: duplication of a wrapped key is unsupported")
}

// Free releases the caller's private-key reference. Go's GC will
// eventually collect the Wrapper regardless; Free exists so a caller
// holding an HSM session or similar scarce external resource behind
// the crypto.Signer can drop it eagerly instead of waiting on the
// collector.
func (w *Wrapper) Free() {
	w.ex.handle = nil
	w.signer = nil
	w.decrypter = nil
}

func leftZeroPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

