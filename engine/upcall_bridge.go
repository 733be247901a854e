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

package engine

import (
	"crypto/tls"
	"crypto/x509"
)

// getCertificate is crypto/tls's GetCertificate hook: the primitive
// library re-entering consumer code mid-handshake to select a server
// certificate. It routes through ConnectionConfig's name lookup
// (session package) rather than through Router/CallbackSet since
// crypto/tls itself, not our upcall router, drives the call.
func (c *Connection) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := hello.ServerName
	if name == "" {
		name = "default"
	}
	cert, err := c.config.CertificateForName(name)
	if err != nil {
		return nil, err
	}
	if len(hello.SupportedProtos) > 0 {
		if selected, ok := c.router.ALPNSelect(protosToBytes(hello.SupportedProtos)); ok {
			c.data.InstallALPN([][]byte{selected})
		}
	}
	return cert, nil
}

// getClientCertificate is crypto/tls's GetClientCertificate hook,
// the client-side certificate-selection upcall.
func (c *Connection) getClientCertificate(info *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	issuers := info.AcceptableCAs
	cert, err := c.router.ClientCertificateRequested(issuers, nil)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return &tls.Certificate{}, nil
	}
	return cert, nil
}

// verifyPeerCertificate is crypto/tls's VerifyPeerCertificate hook.
// It only runs the consumer's callback; crypto/tls has already
// performed its own standard chain validation (InsecureSkipVerify is
// never set here) by the time this is called, so the upcall
// supplements, never replaces, that validation.
func (c *Connection) verifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	if c.router.CB == nil {
		return nil
	}
	authType := "RSA"
	if len(verifiedChains) > 0 && len(verifiedChains[0]) > 0 {
		switch verifiedChains[0][0].PublicKeyAlgorithm.String() {
		case "ECDSA":
			authType = "ECDSA"
		}
	}
	return c.router.VerifyCertificateChain(rawCerts, verifiedChains, authType)
}

func protosToBytes(s []string) [][]byte {
	out := make([][]byte, len(s))
	for i, p := range s {
		out[i] = []byte(p)
	}
	return out
}
