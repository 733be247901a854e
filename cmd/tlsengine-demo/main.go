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

// tlsengine-demo drives one full client/server TLS handshake through
// the engine's Wrap/Unwrap surface over in-memory transport, with a
// freshly generated self-signed certificate, and prints what was
// negotiated. It exists for manual smoke-testing of the engine without
// a network.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Tharow-Services/conscrypt-sub000/certutil"
	"github.com/Tharow-Services/conscrypt-sub000/engine"
	"github.com/Tharow-Services/conscrypt-sub000/session"
	"github.com/Tharow-Services/conscrypt-sub000/upcall"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Flags wraps a FlagSet so that typed values from flags can be easily
// retrieved.
type Flags struct {
	*pflag.FlagSet
}

// String returns the string representation of the flag given by name.
// It panics if the flag is not in the flag set.
func (f Flags) String(name string) string {
	return f.FlagSet.Lookup(name).Value.String()
}

func rootCommand() *cobra.Command {
	var alpn []string
	cmd := &cobra.Command{
		Use:   "tlsengine-demo",
		Short: "Run one in-memory TLS handshake through the engine surface",
		Long: `tlsengine-demo generates a self-signed certificate, builds a client
and a server connection in engine (wrap/unwrap) mode, and ping-pongs
records between them until both sides are READY. It then sends a small
payload from client to server and performs an orderly shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := Flags{cmd.Flags()}
			verbose, _ := cmd.Flags().GetBool("verbose")
			return runDemo(fl.String("hostname"), alpn, fl.String("profile"), fl.String("payload"), verbose)
		},
	}
	cmd.Flags().String("hostname", "demo.local", "SNI hostname for the handshake")
	cmd.Flags().StringSliceVar(&alpn, "alpn", []string{"h2", "http/1.1"}, "ALPN protocols to offer")
	cmd.Flags().String("profile", "", "optional YAML TLS profile to apply to both sides")
	cmd.Flags().String("payload", "hello over tls", "application payload to send once READY")
	cmd.Flags().Bool("verbose", false, "log every record exchange")
	return cmd
}

// demoCallbacks is a minimal CallbackSet: it trusts whatever chain
// crypto/tls already verified and offers the configured ALPN list.
type demoCallbacks struct {
	alpn [][]byte
	log  *zap.Logger
}

func (d *demoCallbacks) VerifyCertificateChain(rawCerts [][]byte, verified [][]*x509.Certificate, authType string) error {
	d.log.Debug("verify upcall", zap.Int("chain_len", len(rawCerts)), zap.String("auth_type", authType))
	return nil
}

func (d *demoCallbacks) ClientCertificateRequested(issuers [][]byte, pkcs7 []byte) (*tls.Certificate, error) {
	return nil, nil
}

func (d *demoCallbacks) PSKIdentityHint() string { return "" }

func (d *demoCallbacks) PSKClientKeyRequested(hint string) (string, []byte, error) {
	return "", nil, nil
}

func (d *demoCallbacks) PSKServerKeyRequested(hint, identity string) ([]byte, error) {
	return nil, nil
}

func (d *demoCallbacks) ALPNProtocols() [][]byte { return d.alpn }

func (d *demoCallbacks) InfoStateChange(state string, ret int) {
	d.log.Debug("state change", zap.String("state", state), zap.Int("ret", ret))
}

func runDemo(hostname string, alpn []string, profilePath, payload string, verbose bool) error {
	log := zap.NewNop()
	if verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}

	cert, err := certutil.NewSelfSigned(certutil.SelfSignedConfig{SAN: []string{hostname}})
	if err != nil {
		return err
	}
	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)
	if fp, err := certutil.Fingerprint(cert.Leaf.PublicKey); err == nil {
		fmt.Printf("certificate key: %s\n", fp)
	}

	serverCfg := session.NewConfig(log)
	clientCfg := session.NewConfig(log)
	clientCfg.RootCAs = roots
	if err := serverCfg.AddManualCertificate(&cert); err != nil {
		return err
	}
	if profilePath != "" {
		profile, err := session.LoadProfile(profilePath)
		if err != nil {
			return err
		}
		if err := profile.Apply(serverCfg); err != nil {
			return err
		}
		if err := profile.Apply(clientCfg); err != nil {
			return err
		}
	}

	alpnBytes := make([][]byte, len(alpn))
	for i, p := range alpn {
		alpnBytes[i] = []byte(p)
	}
	cb := &demoCallbacks{alpn: alpnBytes, log: log}

	client, _, err := engine.NewEngineConnection(clientCfg, engine.ModeClient, hostname, cb, log)
	if err != nil {
		return err
	}
	server, _, err := engine.NewEngineConnection(serverCfg, engine.ModeServer, "", cb, log)
	if err != nil {
		return err
	}
	defer client.Close()
	defer server.Close()

	wire, err := upcall.EncodeALPN(alpnBytes)
	if err != nil {
		return err
	}
	if err := server.SetALPNProtocols(wire); err != nil {
		return err
	}

	client.BeginHandshake()
	server.BeginHandshake()

	record := make([]byte, 64*1024)
	plain := make([]byte, 64*1024)
	pump := func(from, to *engine.Connection) (int, error) {
		res, err := from.Wrap(nil, 0, 0, record, 0, len(record))
		if err != nil {
			return 0, err
		}
		if res.BytesProduced == 0 {
			return 0, nil
		}
		if verbose {
			log.Debug("record", zap.Int("bytes", res.BytesProduced))
		}
		if _, err := to.Unwrap(record, 0, res.BytesProduced, plain, 0, len(plain)); err != nil {
			return 0, err
		}
		return res.BytesProduced, nil
	}

	deadline := time.Now().Add(5 * time.Second)
	for client.State() != engine.StateReady || server.State() != engine.StateReady {
		if time.Now().After(deadline) {
			if err := client.HandshakeError(); err != nil {
				return err
			}
			if err := server.HandshakeError(); err != nil {
				return err
			}
			return fmt.Errorf("handshake did not converge (client=%s server=%s)", client.State(), server.State())
		}
		moved := 0
		for _, dir := range []struct{ from, to *engine.Connection }{{client, server}, {server, client}} {
			n, err := pump(dir.from, dir.to)
			if err != nil {
				return err
			}
			moved += n
		}
		if moved == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	clientSession := client.Session()
	fmt.Printf("handshake complete: %s %s\n", clientSession.Protocol, clientSession.CipherSuite)
	if proto, err := client.SelectedALPN(); err == nil && len(proto) > 0 {
		fmt.Printf("alpn: %s\n", proto)
	}

	// One application round trip, then an orderly close.
	res, err := client.Wrap([]byte(payload), 0, len(payload), record, 0, len(record))
	if err != nil {
		return err
	}
	received := 0
	for received < len(payload) && time.Now().Before(deadline) {
		out, err := server.Unwrap(record, 0, res.BytesProduced, plain, 0, len(plain))
		if err != nil {
			return err
		}
		res.BytesProduced = 0 // fed once; don't replay the same record
		if out.BytesProduced > 0 {
			fmt.Printf("server received: %q\n", plain[:out.BytesProduced])
			received += out.BytesProduced
			continue
		}
		time.Sleep(5 * time.Millisecond)
		if res, err = client.Wrap(nil, 0, 0, record, 0, len(record)); err != nil {
			return err
		}
	}

	if err := client.Shutdown(); err != nil {
		return err
	}
	if err := server.Shutdown(); err != nil {
		return err
	}
	fmt.Println("closed cleanly")
	return nil
}
