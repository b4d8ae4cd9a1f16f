// Package tlssession owns the TLS engine handles of one secure socket and
// exposes non-blocking handshake, read and write steps.
package tlssession

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/kvmshare/securesocket/internal/engine"
	"github.com/kvmshare/securesocket/internal/sslerror"
	"github.com/kvmshare/securesocket/model"
)

// Outcome is the result of a session step.
type Outcome int

const (
	// Progressed means the step completed.
	Progressed = Outcome(iota)

	// WouldBlock means the step needs another readiness cycle.
	WouldBlock

	// Fatal means the session is unusable.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Progressed:
		return "progressed"
	case WouldBlock:
		return "would_block"
	default:
		return "fatal"
	}
}

// Session owns an engine context and, once the first handshake step has
// run, exactly one connection handle. Steps are not safe for concurrent
// use: the owning socket serializes them. ShutdownAndRelease may be
// called concurrently and more than once.
type Session struct {
	checker *sslerror.Checker
	logger  log.Interface
	role    model.Role

	mu               sync.Mutex
	conn             engine.Conn
	factory          engine.Factory
	fatal            bool
	handshakeRetries int
	lastErr          error
}

// New creates a session owning factory. The checker carries the retry
// counter of the owning socket.
func New(factory engine.Factory, role model.Role, checker *sslerror.Checker, logger log.Interface) *Session {
	if logger == nil {
		logger = log.Log
	}
	if checker == nil {
		checker = &sslerror.Checker{Logger: logger}
	}
	return &Session{checker: checker, factory: factory, logger: logger, role: role}
}

// Role returns the role of the session.
func (s *Session) Role() model.Role {
	return s.role
}

// HandshakeAsClient runs a client handshake step on raw.
func (s *Session) HandshakeAsClient(raw net.Conn) Outcome {
	return s.handshake(raw, model.RoleClient)
}

// HandshakeAsServer runs a server handshake step on raw.
func (s *Session) HandshakeAsServer(raw net.Conn) Outcome {
	return s.handshake(raw, model.RoleServer)
}

func (s *Session) handshake(raw net.Conn, role model.Role) Outcome {
	conn, outcome := s.connection(raw, role)
	if conn == nil {
		return outcome
	}
	status, err := conn.Handshake()
	return s.decide(sslerror.HandshakeOperation, status, err)
}

// connection returns the connection handle, creating it on first use.
func (s *Session) connection(raw net.Conn, role model.Role) (engine.Conn, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return nil, Fatal
	}
	if role != s.role {
		s.failLocked(fmt.Errorf("%w: cannot handshake as %s with a %s context",
			sslerror.ErrProtocolFailure, role, s.role))
		return nil, Fatal
	}
	if s.conn == nil {
		conn, err := s.factory.NewConn(raw)
		if err != nil {
			s.failLocked(fmt.Errorf("%w: %w", sslerror.ErrProtocolFailure, err))
			return nil, Fatal
		}
		s.conn = conn
	}
	return s.conn, Progressed
}

func (s *Session) failLocked(err error) {
	s.fatal = true
	s.lastErr = sslerror.SafeErrWrapperBuilder{
		Error:     err,
		Operation: sslerror.HandshakeOperation,
	}.MaybeBuild()
	s.logger.WithError(s.lastErr).Error("ssl: session failed")
}

func (s *Session) decide(operation string, status int, err error) Outcome {
	decision := s.checker.Check(operation, status, err)
	if operation == sslerror.HandshakeOperation && decision.Class != sslerror.Retryable {
		s.mu.Lock()
		s.handshakeRetries = decision.Retries
		s.mu.Unlock()
	}
	if decision.Fatal {
		s.mu.Lock()
		s.fatal = true
		s.lastErr = decision.Err
		s.mu.Unlock()
		return Fatal
	}
	if decision.Class == sslerror.Retryable {
		return WouldBlock
	}
	return Progressed
}

// established returns the connection handle unless the session is fatal.
func (s *Session) established() (engine.Conn, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return nil, Fatal
	}
	if s.conn == nil {
		return nil, WouldBlock
	}
	return s.conn, Progressed
}

// Read reads decrypted data into p. It returns zero bytes and WouldBlock
// when no data is available yet.
func (s *Session) Read(p []byte) (int, Outcome) {
	conn, outcome := s.established()
	if conn == nil {
		return 0, outcome
	}
	n, err := conn.Read(p)
	return s.transferred(sslerror.ReadOperation, n, err)
}

// Write encrypts and sends p. It returns zero bytes and WouldBlock when
// the engine cannot accept data yet.
func (s *Session) Write(p []byte) (int, Outcome) {
	conn, outcome := s.established()
	if conn == nil {
		return 0, outcome
	}
	n, err := conn.Write(p)
	return s.transferred(sslerror.WriteOperation, n, err)
}

// transferred decides the outcome of a read or write. Retryable reads
// and writes do not count against the retry bound, which only applies
// to the handshake.
func (s *Session) transferred(operation string, n int, err error) (int, Outcome) {
	if sslerror.Classify(n, err) == sslerror.Retryable {
		return 0, WouldBlock
	}
	if outcome := s.decide(operation, n, err); outcome != Progressed {
		return 0, outcome
	}
	return n, Progressed
}

// SetFatal marks the session as fatal. The first error is kept.
func (s *Session) SetFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal = true
	if s.lastErr == nil {
		s.lastErr = err
	}
}

// IsFatal returns whether the session is fatal.
func (s *Session) IsFatal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Err returns the error that made the session fatal, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Retries returns the current number of consecutive retries.
func (s *Session) Retries() int {
	return s.checker.Retries()
}

// HandshakeRetries returns the number of retries that preceded the
// end of the handshake.
func (s *Session) HandshakeRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeRetries
}

// Shutdown sends a close notification to the peer, if there is a
// connection handle. It does not release anything.
func (s *Session) Shutdown() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		if err := conn.Shutdown(); err != nil {
			s.logger.WithError(err).Debug("ssl: shutdown failed")
		}
	}
}

// ShutdownAndRelease sends a close notification, if possible, and then
// releases the connection handle and the engine context, in this order.
// It is the only place where handles are released and it is idempotent.
func (s *Session) ShutdownAndRelease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal = true
	if s.conn != nil {
		if err := s.conn.Shutdown(); err != nil {
			s.logger.WithError(err).Debug("ssl: shutdown failed")
		}
		s.conn.Free()
		s.conn = nil
	}
	if s.factory != nil {
		s.factory.Free()
		s.factory = nil
	}
}

// PeerCertificate returns the certificate offered by the peer, if any.
func (s *Session) PeerCertificate() *x509.Certificate {
	if conn, _ := s.established(); conn != nil {
		return conn.PeerCertificate()
	}
	return nil
}

// ConnectionState returns the TLS connection state.
func (s *Session) ConnectionState() tls.ConnectionState {
	if conn, _ := s.established(); conn != nil {
		return conn.ConnectionState()
	}
	return tls.ConnectionState{}
}

// Ready returns a channel that fires when a step that returned
// WouldBlock may now progress. It is nil without a connection handle.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Ready()
}
