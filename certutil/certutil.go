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

// Package certutil loads PEM-encoded certificates and private keys
// into the crypto.Signer/crypto.Decrypter-shaped values the keywrap
// and session packages expect, via go.step.sm/crypto's pemutil
// (PKCS#1, SEC1, PKCS#8, and encrypted PEM blocks).
package certutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"

	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/pemutil"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// LoadKeyPair reads a PEM certificate chain and private key from disk
// and returns a ready-to-use tls.Certificate, the same shape
// session.ConnectionConfig.AddManualCertificate expects.
func LoadKeyPair(certPath, keyPath string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "certutil: loading key pair", err)
	}
	return &cert, nil
}

// LoadPrivateKey reads a PEM private key of any shape pemutil
// understands (PKCS#1, SEC1, PKCS#8, optionally password-protected)
// and returns it as a crypto.Signer.
func LoadPrivateKey(path string) (crypto.Signer, error) {
	key, err := pemutil.Read(path)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "certutil: loading private key", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, tlserr.New(tlserr.KindInvalidKey, "certutil: key does not support signing")
	}
	return signer, nil
}

// Decrypter returns key as a crypto.Decrypter if its type supports
// decryption (RSA does; ECDSA keys never do), for use by
// keywrap.NewRSAWrapper.
func Decrypter(key crypto.Signer) crypto.Decrypter {
	if d, ok := key.(crypto.Decrypter); ok {
		return d
	}
	return nil
}

// ModulusSizeBytes returns an RSA key's modulus size, or 0 for a
// non-RSA key.
func ModulusSizeBytes(key crypto.PublicKey) int {
	if pub, ok := key.(*rsa.PublicKey); ok {
		return (pub.N.BitLen() + 7) / 8
	}
	return 0
}

// CurveOrderBits returns an ECDSA key's curve order width in bits, or
// 0 for a non-EC key.
func CurveOrderBits(key crypto.PublicKey) int {
	if pub, ok := key.(*ecdsa.PublicKey); ok {
		return pub.Curve.Params().N.BitLen()
	}
	return 0
}

// Fingerprint returns the SHA-256 fingerprint of a public key's
// SubjectPublicKeyInfo, for log correlation of wrapped keys whose
// private material is never visible here.
func Fingerprint(pub crypto.PublicKey) (string, error) {
	fp, err := keyutil.Fingerprint(pub)
	if err != nil {
		return "", tlserr.Wrap(tlserr.KindInvalidKey, "certutil: fingerprinting key", err)
	}
	return fp, nil
}

// ParseChain decodes a tls.Certificate's DER chain into
// x509.Certificate values, leaf first.
func ParseChain(cert *tls.Certificate) ([]*x509.Certificate, error) {
	chain := make([]*x509.Certificate, 0, len(cert.Certificate))
	for _, der := range cert.Certificate {
		leaf, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, tlserr.Wrap(tlserr.KindParseError, "certutil: parsing chain", err)
		}
		chain = append(chain, leaf)
	}
	return chain, nil
}
