package tlsx_test

import (
	"crypto/tls"
	"errors"
	"testing"

	"github.com/kvmshare/securesocket/internal/sslerror"
	"github.com/kvmshare/securesocket/internal/testingx"
	"github.com/kvmshare/securesocket/internal/tlsx"
)

func TestVersionString(t *testing.T) {
	if tlsx.VersionString(tls.VersionTLS12) != "TLSv1.2" {
		t.Fatal("not working for existing version")
	}
	if tlsx.VersionString(1) != "TLS_VERSION_UNKNOWN_1" {
		t.Fatal("not working for nonexisting version")
	}
	if tlsx.VersionString(0) != "" {
		t.Fatal("not working for zero version")
	}
}

func TestCipherSuiteString(t *testing.T) {
	if tlsx.CipherSuiteString(tls.TLS_AES_128_GCM_SHA256) != "TLS_AES_128_GCM_SHA256" {
		t.Fatal("not working for existing cipher suite")
	}
	if tlsx.CipherSuiteString(0) != "" {
		t.Fatal("not working for zero cipher suite")
	}
}

func TestCipherDescription(t *testing.T) {
	if tlsx.CipherDescription(tls.ConnectionState{}) != "" {
		t.Fatal("expected empty description before the handshake")
	}
	desc := tlsx.CipherDescription(tls.ConnectionState{
		HandshakeComplete: true,
		CipherSuite:       tls.TLS_AES_256_GCM_SHA384,
		Version:           tls.VersionTLS13,
	})
	if desc != "TLS_AES_256_GCM_SHA384 TLSv1.3" {
		t.Fatalf("unexpected description: %s", desc)
	}
}

func TestLoadKeyPair(t *testing.T) {
	kp := testingx.NewKeyPair(t, "server")
	other := testingx.NewKeyPair(t, "other")
	dir := t.TempDir()

	t.Run("success", func(t *testing.T) {
		cert, err := tlsx.LoadKeyPair(kp.WritePEM(t, dir))
		if err != nil {
			t.Fatal(err)
		}
		if len(cert.Certificate) != 1 {
			t.Fatal("unexpected certificate chain")
		}
	})

	var failures = []struct {
		name string
		path func(t *testing.T) string
		want error
	}{{
		name: "empty path",
		path: func(t *testing.T) string { return "" },
		want: tlsx.ErrCertificateNotSpecified,
	}, {
		name: "missing file",
		path: func(t *testing.T) string { return dir + "/nonexistent.pem" },
		want: tlsx.ErrCertificateNotFound,
	}, {
		name: "no certificate",
		path: func(t *testing.T) string {
			return testingx.WriteFile(t, dir, "keyonly.pem", kp.KeyPEM)
		},
		want: tlsx.ErrCertificateInvalid,
	}, {
		name: "corrupt certificate",
		path: func(t *testing.T) string {
			data := []byte("-----BEGIN CERTIFICATE-----\nYW50YW5p\n-----END CERTIFICATE-----\n")
			return testingx.WriteFile(t, dir, "corrupt.pem", data)
		},
		want: tlsx.ErrCertificateInvalid,
	}, {
		name: "no key",
		path: func(t *testing.T) string {
			return testingx.WriteFile(t, dir, "certonly.pem", kp.CertPEM)
		},
		want: tlsx.ErrPrivateKeyInvalid,
	}, {
		name: "mismatched key",
		path: func(t *testing.T) string {
			data := append(append([]byte{}, kp.CertPEM...), other.KeyPEM...)
			return testingx.WriteFile(t, dir, "mismatch.pem", data)
		},
		want: tlsx.ErrPrivateKeyMismatch,
	}}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tlsx.LoadKeyPair(tt.path(t))
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if !errors.Is(err, sslerror.ErrConfigurationFailure) {
				t.Fatal("not marked as a configuration failure")
			}
		})
	}
}

func TestLoadCertificate(t *testing.T) {
	kp := testingx.NewKeyPair(t, "server")
	dir := t.TempDir()
	cert, err := tlsx.LoadCertificate(testingx.WriteFile(t, dir, "cert.pem", kp.CertPEM))
	if err != nil {
		t.Fatal(err)
	}
	if !cert.Equal(kp.Certificate) {
		t.Fatal("unexpected certificate")
	}
	if _, err := tlsx.LoadCertificate(kp.WritePEM(t, dir)); err != nil {
		t.Fatal(err)
	}
	_, err = tlsx.LoadCertificate(testingx.WriteFile(t, dir, "key.pem", kp.KeyPEM))
	if !errors.Is(err, tlsx.ErrCertificateInvalid) {
		t.Fatalf("unexpected error: %v", err)
	}
}
