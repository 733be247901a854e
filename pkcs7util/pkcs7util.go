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

// Package pkcs7util extracts certificate chains and issuer
// distinguished names from PKCS#7 certs-only bundles (RFC 2315
// SignedData with no signer info), the wire format some peers use
// instead of a bare DER certificate list when advertising acceptable
// client-certificate issuers.
package pkcs7util

import (
	"github.com/smallstep/pkcs7"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// ParseChain decodes a PKCS#7 certs-only bundle into its certificate
// chain, DER-encoded, in the order the bundle stored them.
func ParseChain(der []byte) ([][]byte, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "pkcs7util: parsing bundle", err)
	}
	out := make([][]byte, len(p7.Certificates))
	for i, c := range p7.Certificates {
		out[i] = c.Raw
	}
	return out, nil
}

// IssuerDNs decodes a PKCS#7 certs-only bundle and returns each
// certificate's raw ASN.1 Subject (the "acceptable issuer"
// distinguished name a TLS CertificateRequest would otherwise list
// directly), matching the shape ClientCertificateRequested expects.
func IssuerDNs(der []byte) ([][]byte, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "pkcs7util: parsing bundle", err)
	}
	out := make([][]byte, len(p7.Certificates))
	for i, c := range p7.Certificates {
		out[i] = c.RawSubject
	}
	return out, nil
}
