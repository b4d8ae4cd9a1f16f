package model

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
)

func TestNewTLSConnectionState(t *testing.T) {
	state := NewTLSConnectionState(tls.ConnectionState{
		CipherSuite: tls.TLS_AES_128_GCM_SHA256,
		PeerCertificates: []*x509.Certificate{
			{Raw: []byte("abc")},
			{Raw: []byte("def")},
		},
		Version: tls.VersionTLS13,
	})
	if len(state.PeerCertificates) != 2 {
		t.Fatal("unexpected number of certificates")
	}
	if string(state.PeerCertificates[1].Data) != "def" {
		t.Fatal("unexpected second certificate")
	}
	if state.Version != tls.VersionTLS13 {
		t.Fatal("unexpected TLS version")
	}
	if state.CipherSuite != tls.TLS_AES_128_GCM_SHA256 {
		t.Fatal("unexpected cipher suite")
	}
}

func TestSimplifyCertsEmpty(t *testing.T) {
	if out := SimplifyCerts(nil); out != nil {
		t.Fatal("expected nil output")
	}
}

func TestRoleString(t *testing.T) {
	if RoleClient.String() != "client" {
		t.Fatal("unexpected client role string")
	}
	if RoleServer.String() != "server" {
		t.Fatal("unexpected server role string")
	}
}
