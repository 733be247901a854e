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

// Package ocspstaple fetches and validates OCSP responses for
// stapling onto a certificate, the way
// session.ConnectionConfig.OCSPResponse expects to be populated. It
// is a small standalone fetcher/validator so session doesn't depend
// on an ACME-flavored certificate cache.
package ocspstaple

import (
	"bytes"
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/Tharow-Services/conscrypt-sub000/tlserr"
)

// Response holds a fetched and parsed OCSP response alongside its raw
// DER bytes, the latter being the form ConnectionConfig.SetOCSPResponse
// takes.
type Response struct {
	Raw    []byte
	Parsed *ocsp.Response
}

// Stale reports whether resp's NextUpdate has already passed and a
// refetch is due.
func (r *Response) Stale(now time.Time) bool {
	return !r.Parsed.NextUpdate.IsZero() && now.After(r.Parsed.NextUpdate)
}

// Fetch requests a fresh OCSP response for leaf from its responder
// (the first URL in leaf's OCSPServer list) and validates it against
// leaf and issuer.
func Fetch(ctx context.Context, leaf, issuer *x509.Certificate) (*Response, error) {
	if len(leaf.OCSPServer) == 0 {
		return nil, tlserr.New(tlserr.KindIo, "ocspstaple: certificate has no OCSP responder")
	}

	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "ocspstaple: building OCSP request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, leaf.OCSPServer[0], bytes.NewReader(req))
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindIo, "ocspstaple: building http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindIo, "ocspstaple: requesting OCSP response", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindIo, "ocspstaple: reading OCSP response", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, leaf, issuer)
	if err != nil {
		return nil, tlserr.Wrap(tlserr.KindParseError, "ocspstaple: parsing OCSP response", err)
	}
	if parsed.Status != ocsp.Good {
		return nil, tlserr.New(tlserr.KindSsl, "ocspstaple: certificate status is not good")
	}

	return &Response{Raw: body, Parsed: parsed}, nil
}
