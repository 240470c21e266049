// Copyright 2025 Takhin Data, Inc.

package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// GenerateTestCertificates builds a throwaway CA plus a localhost server
// certificate signed by it, so pkg/tls's tests can exercise mTLS
// handshakes without shipping checked-in PEM fixtures.
func GenerateTestCertificates(dir string) (certFile, keyFile, caFile string, err error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", "", fmt.Errorf("generate CA key: %w", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Laser Test CA"},
			CommonName:   "Laser Test CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caCertBytes, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return "", "", "", fmt.Errorf("create CA certificate: %w", err)
	}

	caFile = filepath.Join(dir, "ca.pem")
	if err := writePEMFile(caFile, "CERTIFICATE", caCertBytes); err != nil {
		return "", "", "", fmt.Errorf("write CA certificate: %w", err)
	}

	// The CA key is kept alongside the CA cert so GenerateClientCertificate
	// can sign additional leaf certs against the same CA later.
	caKeyBytes, err := x509.MarshalECPrivateKey(caKey)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal CA key: %w", err)
	}
	if err := writePEMFile(filepath.Join(dir, "ca-key.pem"), "EC PRIVATE KEY", caKeyBytes); err != nil {
		return "", "", "", fmt.Errorf("write CA key: %w", err)
	}

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", "", fmt.Errorf("generate server key: %w", err)
	}

	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			Organization: []string{"Laser Replication Node"},
			CommonName:   "localhost",
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
	}

	serverCertBytes, err := x509.CreateCertificate(rand.Reader, serverTemplate, caTemplate, &serverKey.PublicKey, caKey)
	if err != nil {
		return "", "", "", fmt.Errorf("create server certificate: %w", err)
	}

	certFile = filepath.Join(dir, "server.pem")
	if err := writePEMFile(certFile, "CERTIFICATE", serverCertBytes); err != nil {
		return "", "", "", fmt.Errorf("write server certificate: %w", err)
	}

	keyFile = filepath.Join(dir, "server-key.pem")
	keyBytes, err := x509.MarshalECPrivateKey(serverKey)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal server key: %w", err)
	}
	if err := writePEMFile(keyFile, "EC PRIVATE KEY", keyBytes); err != nil {
		return "", "", "", fmt.Errorf("write server key: %w", err)
	}

	return certFile, keyFile, caFile, nil
}

// GenerateClientCertificate signs a client (follower) certificate against
// the CA previously written to dir by GenerateTestCertificates, for tests
// that exercise require-and-verify client-cert mode.
func GenerateClientCertificate(dir, caFile string) (certFile, keyFile string, err error) {
	caCert, err := readPEMCertificate(caFile)
	if err != nil {
		return "", "", fmt.Errorf("read CA certificate: %w", err)
	}

	caKeyData, err := os.ReadFile(filepath.Join(dir, "ca-key.pem"))
	if err != nil {
		return "", "", fmt.Errorf("read CA key file: %w", err)
	}
	caKeyBlock, _ := pem.Decode(caKeyData)
	if caKeyBlock == nil {
		return "", "", fmt.Errorf("decode CA key")
	}
	caKey, err := x509.ParseECPrivateKey(caKeyBlock.Bytes)
	if err != nil {
		return "", "", fmt.Errorf("parse CA key: %w", err)
	}

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate client key: %w", err)
	}

	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject: pkix.Name{
			Organization: []string{"Laser Replication Follower"},
			CommonName:   "test-follower",
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	clientCertBytes, err := x509.CreateCertificate(rand.Reader, clientTemplate, caCert, &clientKey.PublicKey, caKey)
	if err != nil {
		return "", "", fmt.Errorf("create client certificate: %w", err)
	}

	certFile = filepath.Join(dir, "client.pem")
	if err := writePEMFile(certFile, "CERTIFICATE", clientCertBytes); err != nil {
		return "", "", fmt.Errorf("write client certificate: %w", err)
	}

	keyFile = filepath.Join(dir, "client-key.pem")
	keyBytes, err := x509.MarshalECPrivateKey(clientKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal client key: %w", err)
	}
	if err := writePEMFile(keyFile, "EC PRIVATE KEY", keyBytes); err != nil {
		return "", "", fmt.Errorf("write client key: %w", err)
	}

	return certFile, keyFile, nil
}

func writePEMFile(path, blockType string, bytes []byte) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	return pem.Encode(out, &pem.Block{Type: blockType, Bytes: bytes})
}

func readPEMCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode certificate")
	}

	return x509.ParseCertificate(block.Bytes)
}
