package listener

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// genCert writes a self-signed (or CA-signed, if ca/caKey non-nil)
// certificate and key pair under dir, returning the cert/key paths and the
// certificate itself.
func genCert(t *testing.T, dir, name string, serial int64, ca *x509.Certificate, caKey *ecdsa.PrivateKey) (certPath, keyPath string, cert *x509.Certificate, key *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  ca == nil,
	}

	parent, signerKey := tmpl, key
	if ca != nil {
		parent, signerKey = ca, caKey
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signerKey)
	require.NoError(t, err)
	cert, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	certPath = filepath.Join(dir, name+".crt")
	keyPath = filepath.Join(dir, name+".key")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyBytes, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath, cert, key
}

func TestTLSConfig_Build_PlainServerTLS(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	certPath, keyPath, _, _ := genCert(t, dir, "server", 1, nil, nil)

	cfg := TLSConfig{CertFile: certPath, KeyFile: keyPath}
	built, err := cfg.Build()
	require.NoError(t, err)
	require.Len(t, built.Certificates, 1)
	require.Nil(t, built.ClientCAs)
}

func TestTLSConfig_Build_MTLSRequiresClientCert(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	caPath, caKeyPath, ca, caKey := genCert(t, dir, "ca", 1, nil, nil)
	_ = caKeyPath
	serverCertPath, serverKeyPath, _, _ := genCert(t, dir, "server", 2, ca, caKey)

	cfg := TLSConfig{
		CertFile:          serverCertPath,
		KeyFile:           serverKeyPath,
		CAFile:            caPath,
		RequireClientCert: true,
	}
	built, err := cfg.Build()
	require.NoError(t, err)
	require.NotNil(t, built.ClientCAs)
	require.Equal(t, 4, int(built.ClientAuth)) // tls.RequireAndVerifyClientCert
}

func TestTLSConfig_Build_MissingCertFile(t *testing.T) {
	t.Parallel()
	cfg := TLSConfig{CertFile: "/nonexistent/server.crt", KeyFile: "/nonexistent/server.key"}
	_, err := cfg.Build()
	require.Error(t, err)
}

func TestTLSConfig_Build_VerifyPeerCertificate_RevokesListedSerial(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	caPath, _, ca, caKey := genCert(t, dir, "ca", 1, nil, nil)
	serverCertPath, serverKeyPath, _, _ := genCert(t, dir, "server", 2, ca, caKey)
	_, _, clientCert, _ := genCert(t, dir, "client", 42, ca, caKey)

	crlTmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(24 * time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: clientCert.SerialNumber, RevocationTime: time.Now()},
		},
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, ca, caKey)
	require.NoError(t, err)
	crlPath := filepath.Join(dir, "ca.crl")
	require.NoError(t, os.WriteFile(crlPath, pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crlDER}), 0o600))

	cfg := TLSConfig{
		CertFile: serverCertPath,
		KeyFile:  serverKeyPath,
		CAFile:   caPath,
		CRLFile:  crlPath,
	}
	built, err := cfg.Build()
	require.NoError(t, err)
	require.NotNil(t, built.VerifyPeerCertificate)

	err = built.VerifyPeerCertificate(nil, [][]*x509.Certificate{{clientCert}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "revoked")
}
