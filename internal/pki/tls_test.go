// Copyright (c) 2026 Sebas-Inf, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPKI holds the paths of a fake CA + broker + client certificate chain
// generated for one test.
type testPKI struct {
	CACertPath     string
	BrokerCertPath string
	BrokerKeyPath  string
	ClientCertPath string
	ClientKeyPath  string
}

func generateTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating CA certificate: %v", err)
	}
	caCertPath := filepath.Join(dir, "ca.pem")
	writePEM(t, caCertPath, "CERTIFICATE", caCertDER)
	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}

	brokerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating broker key: %v", err)
	}
	brokerTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Broker"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}
	brokerCertDER, err := x509.CreateCertificate(rand.Reader, brokerTemplate, caCert, &brokerKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating broker certificate: %v", err)
	}
	brokerCertPath := filepath.Join(dir, "broker.pem")
	writePEM(t, brokerCertPath, "CERTIFICATE", brokerCertDER)
	brokerKeyPath := filepath.Join(dir, "broker-key.pem")
	writeKeyPEM(t, brokerKeyPath, brokerKey)

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Ingestion Client"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	clientCertDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caCert, &clientKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating client certificate: %v", err)
	}
	clientCertPath := filepath.Join(dir, "client.pem")
	writePEM(t, clientCertPath, "CERTIFICATE", clientCertDER)
	clientKeyPath := filepath.Join(dir, "client-key.pem")
	writeKeyPEM(t, clientKeyPath, clientKey)

	return &testPKI{
		CACertPath:     caCertPath,
		BrokerCertPath: brokerCertPath,
		BrokerKeyPath:  brokerKeyPath,
		ClientCertPath: clientCertPath,
		ClientKeyPath:  clientKeyPath,
	}
}

func writePEM(t *testing.T, path, blockType string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating file %s: %v", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: data}); err != nil {
		t.Fatalf("encoding PEM: %v", err)
	}
}

func writeKeyPEM(t *testing.T, path string, key *ecdsa.PrivateKey) {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling EC key: %v", err)
	}
	writePEM(t, path, "EC PRIVATE KEY", der)
}

func TestNewBrokerTLSConfig_WithClientCert(t *testing.T) {
	p := generateTestPKI(t)

	cfg, err := NewBrokerTLSConfig(p.CACertPath, p.ClientCertPath, p.ClientKeyPath)
	if err != nil {
		t.Fatalf("NewBrokerTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected 1 certificate, got %d", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("expected non-nil RootCAs")
	}
}

func TestNewBrokerTLSConfig_ServerOnly(t *testing.T) {
	p := generateTestPKI(t)

	cfg, err := NewBrokerTLSConfig(p.CACertPath, "", "")
	if err != nil {
		t.Fatalf("NewBrokerTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 0 {
		t.Errorf("expected no client certificate, got %d", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("expected non-nil RootCAs")
	}
}

func TestNewBrokerTLSConfig_InvalidCACert(t *testing.T) {
	dir := t.TempDir()
	fakeCA := filepath.Join(dir, "fake-ca.pem")
	if err := os.WriteFile(fakeCA, []byte("not a certificate"), 0o644); err != nil {
		t.Fatalf("writing fake CA: %v", err)
	}

	if _, err := NewBrokerTLSConfig(fakeCA, "", ""); err == nil {
		t.Fatal("expected error for invalid CA cert")
	}
}

func TestNewBrokerTLSConfig_MissingClientCert(t *testing.T) {
	p := generateTestPKI(t)
	if _, err := NewBrokerTLSConfig(p.CACertPath, "/nonexistent/client.pem", "/nonexistent/key.pem"); err == nil {
		t.Fatal("expected error for missing client cert file")
	}
}

func TestNewMutualTLSConfig_Handshake(t *testing.T) {
	p := generateTestPKI(t)

	serverCfg, err := NewMutualTLSConfig(p.CACertPath, p.BrokerCertPath, p.BrokerKeyPath)
	if err != nil {
		t.Fatalf("NewMutualTLSConfig (server side): %v", err)
	}
	clientCfg, err := NewMutualTLSConfig(p.CACertPath, p.ClientCertPath, p.ClientKeyPath)
	if err != nil {
		t.Fatalf("NewMutualTLSConfig (client side): %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("TLS listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()

		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			done <- err
			return
		}
		_, err = conn.Write(buf[:n])
		done <- err
	}()

	clientCfg.ServerName = "localhost"
	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("TLS dial: %v", err)
	}
	defer conn.Close()

	msg := []byte("hello ingestion")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("writing to TLS conn: %v", err)
	}

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("reading from TLS conn: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Errorf("expected %q, got %q", msg, buf[:n])
	}

	if err := <-done; err != nil {
		t.Fatalf("server error: %v", err)
	}
}
