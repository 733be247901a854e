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

// Package tlserr defines the engine's error-kind taxonomy and the
// classification of crypto-primitive errors onto it.
package tlserr

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Kind names the failure class an Error carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindIo
	KindTimeout
	KindNullArgument
	KindOutOfMemory
	KindIllegalArgument
	KindIllegalState
	KindArrayBounds
	KindParseError
	KindInvalidKey
	KindInvalidAlgorithmParameter
	KindNoSuchAlgorithm
	KindBadPadding
	KindIllegalBlockSize
	KindSignature
	KindSsl
	KindSslProtocol
	KindSslHandshake
)

func (k Kind) String() string {
	switch k {
	case KindIo:
		return "Io"
	case KindTimeout:
		return "Timeout"
	case KindNullArgument:
		return "NullArgument"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindIllegalArgument:
		return "IllegalArgument"
	case KindIllegalState:
		return "IllegalState"
	case KindArrayBounds:
		return "ArrayBounds"
	case KindParseError:
		return "ParseError"
	case KindInvalidKey:
		return "InvalidKey"
	case KindInvalidAlgorithmParameter:
		return "InvalidAlgorithmParameter"
	case KindNoSuchAlgorithm:
		return "NoSuchAlgorithm"
	case KindBadPadding:
		return "BadPadding"
	case KindIllegalBlockSize:
		return "IllegalBlockSize"
	case KindSignature:
		return "Signature"
	case KindSsl:
		return "Ssl"
	case KindSslProtocol:
		return "SslProtocol"
	case KindSslHandshake:
		return "SslHandshake"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a classified Kind. Error
// chains compose with errors.Is/errors.As via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around cause; cause itself is
// not classified.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Cause
		if err == nil {
			return false
		}
	}
	return false
}

// Classify maps an error from the crypto-primitive layer (crypto/tls,
// crypto/x509, crypto/rsa, crypto/ecdsa, encoding/asn1) or the
// transport onto a Kind, keying on those packages' exported sentinel
// and typed errors. A syscall error classifies by its errno, so the
// kind surfaced for a failed read/write always corresponds to the
// errno the transport captured.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ETIMEDOUT:
			return KindTimeout
		default:
			return KindIo
		}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var certErr x509.CertificateInvalidError
	if errors.As(err, &certErr) {
		return KindSsl
	}
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return KindSsl
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return KindSsl
	}
	var algErr x509.InsecureAlgorithmError
	if errors.As(err, &algErr) {
		return KindNoSuchAlgorithm
	}

	if errors.Is(err, rsa.ErrVerification) {
		return KindSignature
	}
	if errors.Is(err, rsa.ErrMessageTooLong) {
		return KindIllegalBlockSize
	}
	if errors.Is(err, rsa.ErrDecryption) {
		return KindBadPadding
	}

	var structErr asn1.StructuralError
	if errors.As(err, &structErr) {
		return KindParseError
	}
	var synErr asn1.SyntaxError
	if errors.As(err, &synErr) {
		return KindParseError
	}

	return KindUnknown
}
