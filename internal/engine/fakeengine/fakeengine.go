// Package fakeengine contains a scripted engine.Factory and engine.Conn
// that allow to test the secure socket state machine without sockets.
package fakeengine

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"

	"github.com/kvmshare/securesocket/internal/engine"
	"github.com/kvmshare/securesocket/internal/sslerror"
)

// Step is the scripted result of a single engine operation.
type Step struct {
	// Data is copied into the buffer by successful reads.
	Data []byte

	// Status is the status returned by failed operations.
	Status int

	// Err is the error to return, nil means success.
	Err error
}

// Done is a successful handshake step.
var Done = Step{Status: 1}

// Want returns a step failing with the given "want" code.
func Want(code sslerror.Code) Step {
	return Step{Status: -1, Err: sslerror.NewEngineError(code, nil)}
}

// Fail returns a step failing with the given code and engine error.
func Fail(status int, code sslerror.Code, err error) Step {
	return Step{Status: status, Err: sslerror.NewEngineError(code, err)}
}

// Conn is a scripted engine.Conn. Each script is consumed in order and
// its last step repeats once the script is exhausted. An empty script
// always succeeds.
type Conn struct {
	Handshakes []Step
	Reads      []Step
	Writes     []Step

	Certificate *x509.Certificate
	State       tls.ConnectionState

	mu            sync.Mutex
	raw           net.Conn
	ready         chan struct{}
	handshakes    int
	reads         int
	writes        int
	shutdownCalls int
	freeCalls     int
	written       []byte
}

var _ engine.Conn = &Conn{}

func next(script []Step, idx *int) Step {
	if len(script) <= 0 {
		return Step{}
	}
	step := script[len(script)-1]
	if *idx < len(script) {
		step = script[*idx]
	}
	*idx++
	return step
}

// Handshake implements engine.Conn.Handshake.
func (c *Conn) Handshake() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := next(c.Handshakes, &c.handshakes)
	if step.Err != nil {
		return step.Status, step.Err
	}
	return 1, nil
}

// Read implements engine.Conn.Read.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := next(c.Reads, &c.reads)
	if step.Err != nil {
		return step.Status, step.Err
	}
	return copy(p, step.Data), nil
}

// Write implements engine.Conn.Write.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := next(c.Writes, &c.writes)
	if step.Err != nil {
		return step.Status, step.Err
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

// Shutdown implements engine.Conn.Shutdown.
func (c *Conn) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownCalls++
	return nil
}

// Free implements engine.Conn.Free.
func (c *Conn) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeCalls++
}

// PeerCertificate implements engine.Conn.PeerCertificate.
func (c *Conn) PeerCertificate() *x509.Certificate {
	return c.Certificate
}

// ConnectionState implements engine.Conn.ConnectionState.
func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.State
}

// Ready implements engine.Conn.Ready. The fake is always ready.
func (c *Conn) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready == nil {
		c.ready = make(chan struct{})
		close(c.ready)
	}
	return c.ready
}

// HandshakeCalls returns the number of Handshake calls.
func (c *Conn) HandshakeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshakes
}

// ShutdownCalls returns the number of Shutdown calls.
func (c *Conn) ShutdownCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownCalls
}

// FreeCalls returns the number of Free calls.
func (c *Conn) FreeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeCalls
}

// Written returns the bytes accepted by Write.
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

// Raw returns the raw socket the handle has been bound to.
func (c *Conn) Raw() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// Factory is a scripted engine.Factory returning Conn.
type Factory struct {
	Conn                *Conn
	LoadCertificatesErr error
	NewConnErr          error

	mu        sync.Mutex
	created   int
	freeCalls int
}

var _ engine.Factory = &Factory{}

// NewConn implements engine.Factory.NewConn.
func (f *Factory) NewConn(raw net.Conn) (engine.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewConnErr != nil {
		return nil, f.NewConnErr
	}
	f.created++
	if f.Conn == nil {
		f.Conn = &Conn{}
	}
	f.Conn.mu.Lock()
	f.Conn.raw = raw
	f.Conn.mu.Unlock()
	return f.Conn, nil
}

// LoadCertificates implements engine.Factory.LoadCertificates.
func (f *Factory) LoadCertificates(path string) error {
	return f.LoadCertificatesErr
}

// Free implements engine.Factory.Free.
func (f *Factory) Free() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeCalls++
}

// Created returns the number of handles created.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// FreeCalls returns the number of Free calls.
func (f *Factory) FreeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeCalls
}
