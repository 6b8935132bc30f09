// Package certstore implements the self-signed certificate contract of
// spec §4.A: given a device id and two file paths, produce a
// PEM-encoded (certificate, private key) pair, generating and
// persisting one if it doesn't already exist on disk.
//
// Grounded on original_source/rusty_connect/src/cert/certgen.rs, which
// does the same load-or-generate dance with rcgen/rsa; here the
// idiomatic Go equivalent is the standard library's crypto/x509 +
// crypto/rsa, which is how every TLS-capable repo in the retrieval pack
// (go-ethereum, hyperledger) builds self-signed material — no
// third-party cert-generation helper appears anywhere in the pack.
package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const rsaKeyBits = 2048

// organizationName and organizationalUnitName match the teacher's
// cert's DistinguishedName exactly, per spec §4.A.
const organizationName = "Deep"
const organizationalUnitName = "RustyConnect"

// Pair holds PEM-encoded certificate and private key bytes — the
// format every downstream component (TLS server/client config,
// side-channel transfers) consumes.
type Pair struct {
	CertPEM []byte
	KeyPEM  []byte
}

// TLSCertificate parses the pair into a tls.Certificate suitable for
// tls.Config.Certificates.
func (p Pair) TLSCertificate() (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(p.CertPEM, p.KeyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certstore: parse keypair: %w", err)
	}
	return cert, nil
}

// LoadOrGenerate returns the certificate+key pair for deviceID, reading
// certPath/keyPath if both exist, otherwise generating a fresh
// self-signed 2048-bit RSA certificate and persisting it to those
// paths. Failures here are fatal to daemon startup (spec §7).
func LoadOrGenerate(deviceID, certPath, keyPath string) (Pair, error) {
	log := logrus.WithField("component", "certstore")

	certBytes, certErr := os.ReadFile(certPath)
	keyBytes, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		log.WithField("device_id", deviceID).Debug("loaded existing certificate")
		return Pair{CertPEM: certBytes, KeyPEM: keyBytes}, nil
	}

	log.WithField("device_id", deviceID).Info("generating new self-signed certificate")
	pair, err := generate(deviceID)
	if err != nil {
		return Pair{}, fmt.Errorf("certstore: generate: %w", err)
	}
	if err := os.WriteFile(certPath, pair.CertPEM, 0o600); err != nil {
		return Pair{}, fmt.Errorf("certstore: write cert: %w", err)
	}
	if err := os.WriteFile(keyPath, pair.KeyPEM, 0o600); err != nil {
		return Pair{}, fmt.Errorf("certstore: write key: %w", err)
	}
	return pair, nil
}

func generate(deviceID string) (Pair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return Pair{}, fmt.Errorf("generate rsa key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Pair{}, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         deviceID,
			Organization:       []string{organizationName},
			OrganizationalUnit: []string{organizationalUnitName},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(20, 0, 0),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return Pair{}, fmt.Errorf("create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return Pair{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}
