// Package model contains the data model. Socket events are tagged
// using a unique int64 ConnID. IDs are never reused within a process.
//
// All events also have a Time. This is always the time in which
// an event has been emitted, relative to the moment in which the
// socket that emitted it has been created.
//
// When an operation may fail, we also include the Error.
package model

import (
	"crypto/tls"
	"crypto/x509"
	"time"
)

// Role is the role of a secure socket in the TLS handshake.
type Role int

const (
	// RoleClient is the connecting side. It verifies the server.
	RoleClient = Role(iota)

	// RoleServer is the accepting side. It does not verify the client.
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// CloseEvent is emitted when the plain socket has been closed.
type CloseEvent struct {
	ConnID int64
	Error  error
	Time   time.Duration
}

// DisconnectedEvent is emitted when the socket is no longer usable
// because of a fatal TLS failure or because the peer went away.
type DisconnectedEvent struct {
	ConnID int64
	Error  error
	Time   time.Duration
}

// FingerprintEvent is emitted when the client has checked the server
// certificate fingerprint against the trust store.
type FingerprintEvent struct {
	ConnID      int64
	Fingerprint string
	Trusted     bool
	Time        time.Duration
}

// InputShutdownEvent is emitted together with DisconnectedEvent to
// signal that no more input will be available.
type InputShutdownEvent struct {
	ConnID int64
	Time   time.Duration
}

// ReadEvent is emitted when a raw socket read returns.
type ReadEvent struct {
	ConnID   int64
	Duration time.Duration
	Error    error
	NumBytes int64
	Time     time.Duration
}

// StopRetryEvent is emitted when the failure is such that whoever
// is reconnecting the socket should give up.
type StopRetryEvent struct {
	ConnID int64
	Time   time.Duration
}

// TLSConnectionState contains the TLS connection state.
type TLSConnectionState struct {
	CipherSuite      uint16
	PeerCertificates []X509Certificate
	Version          uint16
}

// NewTLSConnectionState creates a new TLSConnectionState.
func NewTLSConnectionState(s tls.ConnectionState) TLSConnectionState {
	return TLSConnectionState{
		CipherSuite:      s.CipherSuite,
		PeerCertificates: SimplifyCerts(s.PeerCertificates),
		Version:          s.Version,
	}
}

// SimplifyCerts simplifies a certificate chain for archival
func SimplifyCerts(in []*x509.Certificate) (out []X509Certificate) {
	for _, cert := range in {
		out = append(out, X509Certificate{
			Data: cert.Raw,
		})
	}
	return
}

// TLSHandshakeStartEvent is emitted when the first handshake step runs.
type TLSHandshakeStartEvent struct {
	ConnID int64
	Role   Role
	Time   time.Duration
}

// TLSHandshakeDoneEvent is emitted when the handshake is over, either
// because the socket is ready or because it failed.
type TLSHandshakeDoneEvent struct {
	ConnectionState TLSConnectionState
	ConnID          int64
	Error           error
	Retries         int
	Role            Role
	Time            time.Duration
}

// WriteEvent is emitted when a raw socket write returns.
type WriteEvent struct {
	ConnID   int64
	Duration time.Duration
	Error    error
	NumBytes int64
	Time     time.Duration
}

// X509Certificate is an x.509 certificate.
type X509Certificate struct {
	// Data contains the certificate bytes in DER format.
	Data []byte
}

// Measurement contains zero or more events. Do not assume that at any
// time a Measurement will only contain a single event. When a Measurement
// contains an event, the corresponding pointer is non nil.
type Measurement struct {
	Close             *CloseEvent             `json:",omitempty"`
	Disconnected      *DisconnectedEvent      `json:",omitempty"`
	Fingerprint       *FingerprintEvent       `json:",omitempty"`
	InputShutdown     *InputShutdownEvent     `json:",omitempty"`
	Read              *ReadEvent              `json:",omitempty"`
	StopRetry         *StopRetryEvent         `json:",omitempty"`
	TLSHandshakeStart *TLSHandshakeStartEvent `json:",omitempty"`
	TLSHandshakeDone  *TLSHandshakeDoneEvent  `json:",omitempty"`
	Write             *WriteEvent             `json:",omitempty"`
}

// Handler handles measurement events.
type Handler interface {
	// OnMeasurement is called when an event occurs. OnMeasurement may
	// be called by background goroutines and OnMeasurement calls may
	// happen concurrently.
	OnMeasurement(Measurement)
}
