package detect

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitProductVersion(t *testing.T) {
	product, version := splitProductVersion("OpenSSH_9.6p1")
	assert.Equal(t, "OpenSSH", product)
	assert.Equal(t, "9.6p1", version)

	product, version = splitProductVersion("nginx/1.25.3")
	assert.Equal(t, "nginx", product)
	assert.Equal(t, "1.25.3", version)

	product, version = splitProductVersion("solo")
	assert.Equal(t, "solo", product)
	assert.Empty(t, version)
}

func TestGenericServiceForPortKnownAndUnknown(t *testing.T) {
	svc := genericServiceForPort(22, "")
	require.NotNil(t, svc)
	assert.Equal(t, "ssh", svc.Name)
	assert.Equal(t, 20, svc.Confidence)

	svc = genericServiceForPort(54321, "")
	assert.Nil(t, svc)

	svc = genericServiceForPort(54321, "some banner text")
	require.NotNil(t, svc)
	assert.Equal(t, "unknown", svc.Name)
}

// serveBanner writes banner on one end of an in-memory pipe and returns the
// other end for Prober.probe to read from.
func serveBanner(t *testing.T, banner string) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		server.Write([]byte(banner))
		server.Close()
	}()
	return client
}

func TestProberProbeMatchesSSHBanner(t *testing.T) {
	p := NewProber(0, 200*time.Millisecond)
	conn := serveBanner(t, "SSH-2.0-OpenSSH_9.6\r\n")
	defer conn.Close()

	banner, svc := p.probe(conn, 22, 0)
	require.NotNil(t, svc)
	assert.Equal(t, "ssh", svc.Name)
	assert.Equal(t, "OpenSSH", svc.Product)
	assert.Contains(t, banner, "SSH-2.0-OpenSSH_9.6")
}

func TestProberProbeFallsBackToGenericOnNoMatch(t *testing.T) {
	p := NewProber(0, 200*time.Millisecond)
	conn := serveBanner(t, "garbage\r\n")
	defer conn.Close()

	_, svc := p.probe(conn, 9999, 0)
	require.NotNil(t, svc)
	assert.Equal(t, "unknown", svc.Name)
}

func TestDetectServiceDialFailureWraps(t *testing.T) {
	p := NewProber(50*time.Millisecond, 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Port 0 on loopback never accepts; DialContext should fail quickly.
	_, _, _, err := p.DetectService(ctx, net.ParseIP("127.0.0.1"), 0, 0)
	assert.Error(t, err)
}

func selfSignedCertDER(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "scan-target.example"},
		DNSNames:     []string{"scan-target.example"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func TestParseCertificateExtractsFields(t *testing.T) {
	der := selfSignedCertDER(t)

	cert, err := parseCertificate(der)
	require.NoError(t, err)
	assert.Contains(t, cert.Subject, "scan-target.example")
	assert.Contains(t, cert.SANs, "scan-target.example")
	assert.True(t, cert.SelfSigned)
	assert.Equal(t, 2048, cert.PublicKeyBits)
}

func TestParseCertificateRejectsGarbage(t *testing.T) {
	_, err := parseCertificate([]byte("not a certificate"))
	assert.Error(t, err)
}
