// Package engine adapts crypto/tls to a non-blocking engine interface.
//
// Operations never block. When an operation cannot make progress it
// returns an *sslerror.EngineError carrying a "want" code, and the
// channel returned by Conn.Ready fires when it is worth trying again.
// The blocking parts of crypto/tls run in background goroutines owned by
// the connection handle.
package engine

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/kvmshare/securesocket/internal/tlsx"
	"github.com/kvmshare/securesocket/model"
)

// Conn is a connection handle bound to a raw socket.
//
// Handshake returns 1 on success. Read and Write return the number of
// bytes transferred on success. On failure they return zero or a negative
// status together with an *sslerror.EngineError.
type Conn interface {
	Handshake() (int, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Shutdown sends a close notification to the peer after the data
	// already accepted by Write. It waits a bounded amount of time.
	Shutdown() error

	// Free releases the handle. It is idempotent.
	Free()

	PeerCertificate() *x509.Certificate
	ConnectionState() tls.ConnectionState

	// Ready fires when an operation that previously returned a
	// "want" code may now make progress.
	Ready() <-chan struct{}
}

// Factory creates connection handles.
type Factory interface {
	NewConn(raw net.Conn) (Conn, error)

	// LoadCertificates loads the certificate and key to present to peers.
	LoadCertificates(path string) error

	// Free releases the factory. It is idempotent.
	Free()
}

// ErrFreed indicates that a released context or handle has been used.
var ErrFreed = errors.New("engine: use of released handle")

// Context is the crypto/tls engine context. Its role is fixed at
// construction. It negotiates the best version crypto/tls offers and
// refuses anything older than TLS 1.2.
type Context struct {
	config *tls.Config
	freed  bool
	logger log.Interface
	mu     sync.Mutex
	role   model.Role
}

// NewContext creates a new context for role.
func NewContext(role model.Role, logger log.Interface) *Context {
	if logger == nil {
		logger = log.Log
	}
	config := &tls.Config{MinVersion: tls.VersionTLS12}
	if role == model.RoleClient {
		// Servers are authenticated by fingerprint pinning rather than
		// by a certificate authority chain.
		config.InsecureSkipVerify = true
	}
	return &Context{config: config, logger: logger, role: role}
}

var _ Factory = &Context{}

// Role returns the role of the context.
func (c *Context) Role() model.Role {
	return c.role
}

// LoadCertificates loads the certificate and private key to present
// to peers from a single PEM file. See tlsx.LoadKeyPair for the checks.
func (c *Context) LoadCertificates(path string) error {
	cert, err := tlsx.LoadKeyPair(path)
	if err != nil {
		c.logger.WithError(err).Error("ssl: cannot load certificate")
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return ErrFreed
	}
	c.config.Certificates = []tls.Certificate{cert}
	return nil
}

// NewConn implements Factory.NewConn.
func (c *Context) NewConn(raw net.Conn) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return nil, ErrFreed
	}
	var tlsConn *tls.Conn
	if c.role == model.RoleServer {
		tlsConn = tls.Server(raw, c.config.Clone())
	} else {
		tlsConn = tls.Client(raw, c.config.Clone())
	}
	return newConn(tlsConn), nil
}

// Free implements Factory.Free.
func (c *Context) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freed = true
	c.config = &tls.Config{}
}
