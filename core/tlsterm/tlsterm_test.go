package tlsterm

import (
	"context"
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

	"github.com/searchktools/fast-proxy/core/errs"
	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// writeTestCert generates a self-signed certificate for localhost and
// returns the chain and key file paths.
func writeTestCert(t *testing.T) (chain, key string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gateway.example"},
		DNSNames:     []string{"gateway.example", "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	chain = filepath.Join(dir, "chain.pem")
	key = filepath.Join(dir, "key.pem")
	os.WriteFile(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)
	os.WriteFile(key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600)
	return chain, key
}

func dummyAccepted(t *testing.T, conn net.Conn) proxyctx.Accepted {
	t.Helper()
	return proxyctx.NewAccepted("tls-test", 1, conn)
}

// TestTerminateCapturesSNIAndALPN tests the handshake facts landing in
// the context stage.
func TestTerminateCapturesSNIAndALPN(t *testing.T) {
	chain, key := writeTestCert(t)
	term, err := New(chain, key, StackStd, 2*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	type result struct {
		stage proxyctx.TLSDone
		err   error
	}
	done := make(chan result, 1)
	go func() {
		_, stage, err := term.Terminate(context.Background(), dummyAccepted(t, serverEnd), serverEnd)
		done <- result{stage, err}
	}()

	client := tls.Client(clientEnd, &tls.Config{
		ServerName:         "gateway.example",
		NextProtos:         []string{"h2", "http/1.1"},
		InsecureSkipVerify: true,
	})
	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Terminate: %v", res.err)
	}
	if !res.stage.Terminated {
		t.Error("stage must be marked terminated")
	}
	if res.stage.SNI != "gateway.example" {
		t.Errorf("SNI = %q", res.stage.SNI)
	}
	if res.stage.ALPN != "h2" {
		t.Errorf("ALPN = %q", res.stage.ALPN)
	}
}

// TestStrictStackRejectsTLS12 tests the strict profile's floor.
func TestStrictStackRejectsTLS12(t *testing.T) {
	chain, key := writeTestCert(t)
	term, err := New(chain, key, StackStrict, 2*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := term.Terminate(context.Background(), dummyAccepted(t, serverEnd), serverEnd)
		done <- err
	}()

	client := tls.Client(clientEnd, &tls.Config{
		ServerName:         "gateway.example",
		MaxVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	})
	client.Handshake() // expected to fail

	if err := <-done; errs.KindOf(err) != errs.TlsHandshake {
		t.Errorf("expected TlsHandshake error, got %v", err)
	}
}

// TestBadMaterial tests the factory-time failure mode.
func TestBadMaterial(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "junk.pem")
	os.WriteFile(bad, []byte("not a certificate"), 0o600)

	if _, err := New(bad, bad, StackStd, time.Second); errs.KindOf(err) != errs.ConfigBuild {
		t.Errorf("expected ConfigBuild error, got %v", err)
	}
}

// TestUnknownStack tests stack validation.
func TestUnknownStack(t *testing.T) {
	chain, key := writeTestCert(t)
	if _, err := New(chain, key, Stack("bogus"), time.Second); err == nil {
		t.Error("expected error for unknown stack")
	}
}
