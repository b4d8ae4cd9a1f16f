// Package securesocket upgrades a plain socket to a TLS session using
// a readiness driven handshake. Clients authenticate servers by pinning
// their certificate fingerprint. Servers do not authenticate clients.
package securesocket

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/kvmshare/securesocket/internal/engine"
	"github.com/kvmshare/securesocket/internal/fingerprint"
	"github.com/kvmshare/securesocket/internal/multiplexer"
	"github.com/kvmshare/securesocket/internal/sslerror"
	"github.com/kvmshare/securesocket/internal/tcpsocket"
	"github.com/kvmshare/securesocket/internal/tlssession"
	"github.com/kvmshare/securesocket/internal/tlsx"
	"github.com/kvmshare/securesocket/model"
)

// State is the readiness state of a secure socket.
type State int

const (
	// Idle means no handshake has been requested yet.
	Idle = State(iota)

	// HandshakingClient means a client handshake is in progress.
	HandshakingClient

	// HandshakingServer means a server handshake is in progress.
	HandshakingServer

	// Ready means plaintext can be read and written.
	Ready

	// Fatal is terminal.
	Fatal
)

var stateNames = map[State]string{
	Idle:              "idle",
	HandshakingClient: "handshaking_client",
	HandshakingServer: "handshaking_server",
	Ready:             "ready",
	Fatal:             "fatal",
}

func (s State) String() string {
	return stateNames[s]
}

// Config contains the secure socket settings.
type Config struct {
	// AcceptFailureDelay is how long a failed server handshake waits
	// before giving up, so a misbehaving client cannot hammer us.
	AcceptFailureDelay time.Duration

	// DestroyDelay is how long Destroy waits after releasing resources.
	DestroyDelay time.Duration

	// Logger is the logger to use. If nil, we use log.Log.
	Logger log.Interface

	// MaxRetry bounds consecutive flow control retries. If zero, we
	// use sslerror.DefaultMaxRetry.
	MaxRetry int

	// ProfileDir is the directory containing the trust store.
	ProfileDir string
}

// Socket is a secure socket. The zero value is invalid, use New.
type Socket struct {
	config  Config
	done    chan struct{}
	doneOne sync.Once
	destroy sync.Once
	factory engine.Factory
	logger  log.Interface
	session *tlssession.Session
	sock    *tcpsocket.Socket
	state   State
	store   *fingerprint.Store
}

// New creates a secure socket on top of sock. The socket owns factory
// and releases it on Destroy.
func New(sock *tcpsocket.Socket, factory engine.Factory, role model.Role, config Config) *Socket {
	logger := config.Logger
	if logger == nil {
		logger = log.Log
	}
	checker := &sslerror.Checker{Logger: logger, MaxRetry: config.MaxRetry}
	return &Socket{
		config:  config,
		done:    make(chan struct{}),
		factory: factory,
		logger:  logger,
		session: tlssession.New(factory, role, checker, logger),
		sock:    sock,
		store:   fingerprint.NewStore(config.ProfileDir),
	}
}

// LoadCertificates loads the certificate and private key the server
// presents to clients. On failure the socket becomes unusable.
func (s *Socket) LoadCertificates(path string) error {
	mu := s.sock.Mutex()
	mu.Lock()
	defer mu.Unlock()
	if err := s.factory.LoadCertificates(path); err != nil {
		s.state = Fatal
		s.session.SetFatal(err)
		s.session.ShutdownAndRelease()
		s.finish()
		return err
	}
	return nil
}

// SecureConnect starts the client handshake.
func (s *Socket) SecureConnect() {
	s.start(HandshakingClient, s.serviceConnect)
}

// SecureAccept starts the server handshake.
func (s *Socket) SecureAccept() {
	s.start(HandshakingServer, s.serviceAccept)
}

func (s *Socket) start(state State, method multiplexer.MethodFunc) {
	mu := s.sock.Mutex()
	mu.Lock()
	defer mu.Unlock()
	if s.state != Idle {
		s.logger.WithField("state", s.state).Warn("ssl: handshake already started")
		return
	}
	s.state = state
	s.sock.SendEvent(model.Measurement{
		TLSHandshakeStart: &model.TLSHandshakeStartEvent{
			ConnID: s.sock.ID(),
			Role:   s.session.Role(),
			Time:   s.sock.Elapsed(),
		},
	})
	job := multiplexer.NewMethodJob(method, s.session, s.sock.IsReadable(), s.sock.IsWritable())
	if err := s.sock.SetJob(job); err != nil {
		s.fail(sslerror.SafeErrWrapperBuilder{
			Error:     fmt.Errorf("%w: %w", sslerror.ErrTransportFailure, err),
			Operation: sslerror.HandshakeOperation,
		}.MaybeBuild())
	}
}

func (s *Socket) serviceConnect(job multiplexer.Job, readable, writable, failed bool) multiplexer.Job {
	mu := s.sock.Mutex()
	mu.Lock()
	defer mu.Unlock()
	return s.step(job, failed)
}

func (s *Socket) serviceAccept(job multiplexer.Job, readable, writable, failed bool) multiplexer.Job {
	mu := s.sock.Mutex()
	mu.Lock()
	handshaking := s.state == HandshakingServer
	next := s.step(job, failed)
	fatal := handshaking && s.state == Fatal
	mu.Unlock()
	if fatal && !failed && s.config.AcceptFailureDelay > 0 {
		time.Sleep(s.config.AcceptFailureDelay)
	}
	return next
}

// step runs one handshake step and performs the resulting state
// transition. It must be called with the socket lock held.
func (s *Socket) step(job multiplexer.Job, failed bool) multiplexer.Job {
	if failed && (s.state == HandshakingClient || s.state == HandshakingServer) {
		s.fail(sslerror.SafeErrWrapperBuilder{
			Error:     fmt.Errorf("%w: scheduler closed", sslerror.ErrTransportFailure),
			Operation: sslerror.HandshakeOperation,
		}.MaybeBuild())
		return nil
	}
	switch s.state {
	case HandshakingClient:
		switch s.session.HandshakeAsClient(s.sock.Conn()) {
		case tlssession.WouldBlock:
			return job
		case tlssession.Fatal:
			s.fail(s.session.Err())
			return nil
		}
		if err := s.verifyServer(); err != nil {
			s.fail(err)
			return nil
		}
		s.becomeReady()
	case HandshakingServer:
		switch s.session.HandshakeAsServer(s.sock.Conn()) {
		case tlssession.WouldBlock:
			return job
		case tlssession.Fatal:
			s.logger.Error("ssl: client connection may not be secure")
			s.fail(s.session.Err())
			return nil
		}
		s.becomeReady()
	}
	return nil
}

// verifyServer checks the server certificate against the trust store.
func (s *Socket) verifyServer() error {
	cert := s.session.PeerCertificate()
	digest, err := fingerprint.Compute(cert)
	if err != nil {
		s.logger.WithError(err).Error("ssl: server has no certificate")
		return s.handshakeError(err)
	}
	fp := fingerprint.Format(digest)
	s.logger.WithField("fingerprint", fp).Info("server fingerprint")
	trusted := s.store.IsTrusted(fp)
	s.sock.SendEvent(model.Measurement{
		Fingerprint: &model.FingerprintEvent{
			ConnID:      s.sock.ID(),
			Fingerprint: fp,
			Trusted:     trusted,
			Time:        s.sock.Elapsed(),
		},
	})
	if !trusted {
		s.logger.WithFields(log.Fields{
			"fingerprint": fp,
			"store":       s.store.Path,
		}).Error(sslerror.ErrCertificateUntrusted.Error())
		return s.handshakeError(sslerror.ErrCertificateUntrusted)
	}
	s.logger.WithField("subject", cert.Subject.String()).Info("server ssl certificate info")
	return nil
}

func (s *Socket) handshakeError(err error) error {
	err = sslerror.SafeErrWrapperBuilder{
		Error:     err,
		Operation: sslerror.HandshakeOperation,
	}.MaybeBuild()
	s.session.SetFatal(err)
	return err
}

func (s *Socket) becomeReady() {
	s.state = Ready
	state := s.session.ConnectionState()
	s.logger.WithFields(log.Fields{
		"cipher": tlsx.CipherDescription(state),
		"role":   s.session.Role(),
	}).Info("ssl: connection established")
	s.sock.SendEvent(model.Measurement{
		TLSHandshakeDone: &model.TLSHandshakeDoneEvent{
			ConnectionState: model.NewTLSConnectionState(state),
			ConnID:          s.sock.ID(),
			Retries:         s.session.HandshakeRetries(),
			Role:            s.session.Role(),
			Time:            s.sock.Elapsed(),
		},
	})
	s.finish()
}

// fail tears down the socket after a fatal condition and notifies
// listeners. It must be called with the socket lock held.
func (s *Socket) fail(err error) {
	if s.state == Fatal {
		return
	}
	handshaking := s.state == HandshakingClient || s.state == HandshakingServer
	s.state = Fatal
	s.session.SetFatal(err)
	err = s.session.Err()
	s.logger.WithError(err).WithField("role", s.session.Role()).Debug("ssl: disconnecting")
	id, elapsed := s.sock.ID(), s.sock.Elapsed()
	if handshaking {
		s.sock.SendEvent(model.Measurement{
			TLSHandshakeDone: &model.TLSHandshakeDoneEvent{
				ConnID:  id,
				Error:   err,
				Retries: s.session.HandshakeRetries(),
				Role:    s.session.Role(),
				Time:    elapsed,
			},
		})
	}
	s.sock.SendEvent(model.Measurement{
		StopRetry: &model.StopRetryEvent{ConnID: id, Time: elapsed},
	})
	s.sock.SendEvent(model.Measurement{
		Disconnected: &model.DisconnectedEvent{ConnID: id, Error: err, Time: elapsed},
	})
	s.sock.SendEvent(model.Measurement{
		InputShutdown: &model.InputShutdownEvent{ConnID: id, Time: elapsed},
	})
	s.session.ShutdownAndRelease()
	s.sock.Close()
	s.finish()
}

func (s *Socket) finish() {
	s.doneOne.Do(func() {
		close(s.done)
	})
}

// Done is closed when the handshake is over, either because the socket
// is ready or because it failed or has been closed.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Ready fires when a read or write that returned zero may progress.
func (s *Socket) Ready() <-chan struct{} {
	return s.session.Ready()
}

// SecureRead reads plaintext into p. It returns the number of bytes
// read, zero if no data is available yet and -1 on failure.
func (s *Socket) SecureRead(p []byte) int {
	mu := s.sock.Mutex()
	mu.Lock()
	defer mu.Unlock()
	return s.transfer(s.session.Read, p)
}

// SecureWrite writes plaintext from p. It returns the number of bytes
// written, zero if the data cannot be accepted yet and -1 on failure.
func (s *Socket) SecureWrite(p []byte) int {
	mu := s.sock.Mutex()
	mu.Lock()
	defer mu.Unlock()
	return s.transfer(s.session.Write, p)
}

func (s *Socket) transfer(op func([]byte) (int, tlssession.Outcome), p []byte) int {
	switch s.state {
	case Ready:
	case Fatal:
		return -1
	default:
		return 0
	}
	n, outcome := op(p)
	switch outcome {
	case tlssession.WouldBlock:
		return 0
	case tlssession.Fatal:
		s.fail(s.session.Err())
		return -1
	}
	return n
}

// IsSecureReady returns whether plaintext can be read and written.
func (s *Socket) IsSecureReady() bool {
	return s.State() == Ready
}

// State returns the current state.
func (s *Socket) State() State {
	mu := s.sock.Mutex()
	mu.Lock()
	defer mu.Unlock()
	return s.state
}

// LastError returns the error that made the socket fatal, if any.
func (s *Socket) LastError() error {
	return s.session.Err()
}

// Close marks the socket as fatal, sends a close notification to the
// peer and closes the plain socket.
func (s *Socket) Close() error {
	mu := s.sock.Mutex()
	mu.Lock()
	s.state = Fatal
	s.session.SetFatal(net.ErrClosed)
	s.session.Shutdown()
	s.finish()
	mu.Unlock()
	return s.sock.Close()
}

// Destroy releases all the resources of the socket. It waits
// Config.DestroyDelay before returning the first time it is called.
func (s *Socket) Destroy() {
	s.destroy.Do(func() {
		mu := s.sock.Mutex()
		mu.Lock()
		s.state = Fatal
		s.session.ShutdownAndRelease()
		s.finish()
		mu.Unlock()
		s.sock.Close()
		if s.config.DestroyDelay > 0 {
			time.Sleep(s.config.DestroyDelay)
		}
	})
}
