package mumble

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// TLS setup has two mutually exclusive server-trust modes, selected
// when the transport is constructed:
//
//   - pinned: a server_cert file is configured and verification accepts
//     only a leaf certificate byte-identical to it. Hostname and chain
//     validation are bypassed on purpose: the operator has said "trust
//     exactly this certificate", which is a stronger statement than CA
//     validation for the self-signed certs Mumble servers typically run.
//   - public CA: no server_cert file; the standard root store applies.

// loadPinnedCert reads a certificate file as PEM or raw DER and returns
// the DER bytes.
func loadPinnedCert(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server certificate: %w", err)
	}
	if block, _ := pem.Decode(raw); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("server certificate file %s: unexpected PEM block %q", path, block.Type)
		}
		raw = block.Bytes
	}
	if _, err := x509.ParseCertificate(raw); err != nil {
		return nil, fmt.Errorf("parse server certificate: %w", err)
	}
	return raw, nil
}

// pinnedVerifier returns a VerifyPeerCertificate callback accepting
// exactly the given DER certificate.
func pinnedVerifier(pinned []byte) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrNoPeerCert
		}
		if !bytes.Equal(rawCerts[0], pinned) {
			return ErrCertMismatch
		}
		return nil
	}
}

// newTLSConfig builds the client TLS configuration. pinned selects
// pinning mode when non-nil; clientCert, when set, names a PEM file
// holding both certificate and key for mutual TLS.
func newTLSConfig(serverName string, pinned []byte, clientCert string) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: serverName}

	if pinned != nil {
		// Chain and hostname checks are replaced wholesale by the
		// byte-equality check.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = pinnedVerifier(pinned)
	}

	if clientCert != "" {
		cert, err := tls.LoadX509KeyPair(clientCert, clientCert)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
