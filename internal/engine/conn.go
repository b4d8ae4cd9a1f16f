package engine

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/kvmshare/securesocket/internal/sslerror"
)

const (
	chunkSize       = 1 << 14
	queueSize       = 16
	shutdownTimeout = 2 * time.Second
)

type conn struct {
	tlsConn *tls.Conn
	ready   chan struct{}

	startOnce     sync.Once
	handshakeDone chan struct{}
	handshakeErr  error

	incoming chan []byte
	pending  []byte
	readErr  error

	outgoing     chan []byte
	shutdownOnce sync.Once
	shutdownReq  chan struct{}
	writerDone   chan struct{}

	freeOnce sync.Once
	mu       sync.Mutex
	stop     chan struct{}
	writeErr error
}

func newConn(tlsConn *tls.Conn) *conn {
	return &conn{
		tlsConn:       tlsConn,
		ready:         make(chan struct{}, 1),
		handshakeDone: make(chan struct{}),
		incoming:      make(chan []byte, queueSize),
		outgoing:      make(chan []byte, queueSize),
		shutdownReq:   make(chan struct{}),
		writerDone:    make(chan struct{}),
		stop:          make(chan struct{}),
	}
}

func (c *conn) notify() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *conn) freed() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// established returns whether the handshake completed successfully.
func (c *conn) established() bool {
	select {
	case <-c.handshakeDone:
		return c.handshakeErr == nil
	default:
		return false
	}
}

func wantRead() error {
	return sslerror.NewEngineError(sslerror.CodeWantRead, nil)
}

func wantWrite() error {
	return sslerror.NewEngineError(sslerror.CodeWantWrite, nil)
}

// mapError converts a crypto/tls error into an engine status and error.
// When eofIsClose is true, a clean EOF means the peer closed the session.
func mapError(err error, eofIsClose bool) (int, error) {
	switch {
	case errors.Is(err, io.EOF) && eofIsClose:
		return 0, sslerror.NewEngineError(sslerror.CodeZeroReturn, nil)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return 0, sslerror.NewEngineError(sslerror.CodeSyscall, nil)
	case isTransportError(err):
		return -1, &sslerror.EngineError{Code: sslerror.CodeSyscall, Transport: err}
	default:
		return -1, sslerror.NewEngineError(sslerror.CodeSSL, err)
	}
}

func isTransportError(err error) bool {
	var opErr *net.OpError
	var errno syscall.Errno
	return errors.As(err, &opErr) || errors.As(err, &errno) ||
		errors.Is(err, net.ErrClosed)
}

func (c *conn) Handshake() (int, error) {
	if c.freed() {
		return -1, sslerror.NewEngineError(sslerror.CodeSSL, ErrFreed)
	}
	c.startOnce.Do(func() {
		go c.handshake()
	})
	select {
	case <-c.handshakeDone:
		if c.handshakeErr != nil {
			return mapError(c.handshakeErr, false)
		}
		return 1, nil
	default:
		return -1, wantRead()
	}
}

func (c *conn) handshake() {
	err := c.tlsConn.Handshake()
	c.handshakeErr = err
	close(c.handshakeDone)
	if err == nil {
		go c.readLoop()
		go c.writeLoop()
	}
	c.notify()
}

func (c *conn) readLoop() {
	for {
		buf := make([]byte, chunkSize)
		n, err := c.tlsConn.Read(buf)
		if n > 0 {
			select {
			case c.incoming <- buf[:n]:
				c.notify()
			case <-c.stop:
				return
			}
		}
		if err != nil {
			c.readErr = err
			close(c.incoming)
			c.notify()
			return
		}
	}
}

func (c *conn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.stop:
			return
		case buf := <-c.outgoing:
			if !c.write(buf) {
				return
			}
		case <-c.shutdownReq:
			if !c.drain() {
				return
			}
			c.tlsConn.SetWriteDeadline(time.Now().Add(shutdownTimeout))
			c.tlsConn.CloseWrite()
			return
		}
	}
}

// drain writes what is still queued so that the close notification
// follows all the data accepted by Write.
func (c *conn) drain() bool {
	for {
		select {
		case buf := <-c.outgoing:
			if !c.write(buf) {
				return false
			}
		default:
			return true
		}
	}
}

func (c *conn) write(buf []byte) bool {
	if _, err := c.tlsConn.Write(buf); err != nil {
		c.mu.Lock()
		c.writeErr = err
		c.mu.Unlock()
		c.notify()
		return false
	}
	c.notify()
	return true
}

func (c *conn) Read(p []byte) (int, error) {
	if c.freed() {
		return -1, sslerror.NewEngineError(sslerror.CodeSSL, ErrFreed)
	}
	if !c.established() {
		return -1, wantRead()
	}
	if len(c.pending) <= 0 {
		select {
		case chunk, ok := <-c.incoming:
			if !ok {
				return mapError(c.readErr, true)
			}
			c.pending = chunk
		default:
			return -1, wantRead()
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *conn) Write(p []byte) (int, error) {
	if c.freed() {
		return -1, sslerror.NewEngineError(sslerror.CodeSSL, ErrFreed)
	}
	if !c.established() {
		return -1, wantWrite()
	}
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return mapError(err, false)
	}
	if len(p) <= 0 {
		return 0, nil
	}
	select {
	case c.outgoing <- append([]byte(nil), p...):
		return len(p), nil
	default:
		return -1, wantWrite()
	}
}

func (c *conn) Shutdown() error {
	if c.freed() {
		return ErrFreed
	}
	if !c.established() {
		return nil
	}
	c.shutdownOnce.Do(func() {
		close(c.shutdownReq)
	})
	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()
	select {
	case <-c.writerDone:
	case <-timer.C:
	}
	return nil
}

func (c *conn) Free() {
	c.freeOnce.Do(func() {
		close(c.stop)
		c.notify()
	})
}

func (c *conn) ConnectionState() tls.ConnectionState {
	// Calling tlsConn.ConnectionState during the handshake would block.
	select {
	case <-c.handshakeDone:
		return c.tlsConn.ConnectionState()
	default:
		return tls.ConnectionState{}
	}
}

func (c *conn) PeerCertificate() *x509.Certificate {
	if !c.established() {
		return nil
	}
	if certs := c.tlsConn.ConnectionState().PeerCertificates; len(certs) > 0 {
		return certs[0]
	}
	return nil
}

func (c *conn) Ready() <-chan struct{} {
	return c.ready
}
