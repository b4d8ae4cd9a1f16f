// Package securesocket upgrades established TCP connections to TLS
// sessions. Clients authenticate servers by pinning the fingerprint of
// their certificate against a trust store kept in the profile directory
// (trust on first use). There is no certificate authority validation.
//
// Sockets never block while handshaking: a process wide multiplexer
// runs the handshake steps whenever the engine may make progress. Use
// Wait to block until the handshake is over, and Stream to get a
// blocking io.ReadWriteCloser on top of SecureRead and SecureWrite.
//
// Events are emitted using the model.Handler in Config, see the
// model package for the list of events.
package securesocket

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/kvmshare/securesocket/handlers"
	"github.com/kvmshare/securesocket/internal/engine"
	"github.com/kvmshare/securesocket/internal/multiplexer"
	secure "github.com/kvmshare/securesocket/internal/securesocket"
	"github.com/kvmshare/securesocket/internal/sslerror"
	"github.com/kvmshare/securesocket/internal/tcpsocket"
	"github.com/kvmshare/securesocket/model"
)

const (
	// DefaultAcceptFailureDelay is the default Config.AcceptFailureDelay.
	DefaultAcceptFailureDelay = time.Second

	// DefaultDestroyDelay is the default Config.DestroyDelay.
	DefaultDestroyDelay = time.Second

	// DefaultMaxRetry is the default Config.MaxRetry.
	DefaultMaxRetry = sslerror.DefaultMaxRetry

	pollInterval = 10 * time.Millisecond
)

var (
	// ErrCertificateAbsent indicates the server did not offer a certificate.
	ErrCertificateAbsent = sslerror.ErrCertificateAbsent

	// ErrCertificateUntrusted indicates the server fingerprint is not trusted.
	ErrCertificateUntrusted = sslerror.ErrCertificateUntrusted

	// ErrConfigurationFailure indicates an unusable certificate or key.
	ErrConfigurationFailure = sslerror.ErrConfigurationFailure

	// ErrPeerClosed indicates the peer closed the TLS session.
	ErrPeerClosed = sslerror.ErrPeerClosed

	// ErrProtocolFailure indicates a handshake or record layer failure.
	ErrProtocolFailure = sslerror.ErrProtocolFailure

	// ErrRetryLimitExceeded indicates the handshake did not progress.
	ErrRetryLimitExceeded = sslerror.ErrRetryLimitExceeded

	// ErrTransportFailure indicates the underlying socket failed.
	ErrTransportFailure = sslerror.ErrTransportFailure
)

// Config contains the settings of a secure socket. The zero value
// is valid and uses the documented defaults.
type Config struct {
	// AcceptFailureDelay is how long a failed server handshake waits
	// before giving up. Zero means DefaultAcceptFailureDelay and a
	// negative value disables the delay.
	AcceptFailureDelay time.Duration

	// DestroyDelay is how long Destroy waits after releasing the
	// socket. Zero means DefaultDestroyDelay and a negative value
	// disables the delay.
	DestroyDelay time.Duration

	// Handler receives the socket events. If nil, events are discarded.
	Handler model.Handler

	// Logger is the logger to use. If nil, we use log.Log.
	Logger log.Interface

	// MaxRetry bounds the number of consecutive flow control retries
	// before the socket fails. Zero means DefaultMaxRetry.
	MaxRetry int

	// ProfileDir is the directory containing SSL/Fingerprints. If
	// empty, we use the securesocket directory inside the user
	// configuration directory.
	ProfileDir string
}

// DefaultProfileDir returns the default Config.ProfileDir.
func DefaultProfileDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "securesocket"), nil
}

func delay(value, defaultValue time.Duration) time.Duration {
	switch {
	case value == 0:
		return defaultValue
	case value < 0:
		return 0
	default:
		return value
	}
}

func (c Config) internal() (secure.Config, error) {
	out := secure.Config{
		AcceptFailureDelay: delay(c.AcceptFailureDelay, DefaultAcceptFailureDelay),
		DestroyDelay:       delay(c.DestroyDelay, DefaultDestroyDelay),
		Logger:             c.Logger,
		MaxRetry:           c.MaxRetry,
		ProfileDir:         c.ProfileDir,
	}
	if out.Logger == nil {
		out.Logger = log.Log
	}
	if out.MaxRetry <= 0 {
		out.MaxRetry = DefaultMaxRetry
	}
	if out.ProfileDir == "" {
		dir, err := DefaultProfileDir()
		if err != nil {
			return out, err
		}
		out.ProfileDir = dir
	}
	return out, nil
}

func (c Config) handler() model.Handler {
	if c.Handler == nil {
		return handlers.NoHandler
	}
	return c.Handler
}

var (
	muxOnce  sync.Once
	muxValue *multiplexer.Multiplexer
)

func defaultMultiplexer() *multiplexer.Multiplexer {
	muxOnce.Do(func() {
		muxValue = multiplexer.New(log.Log)
	})
	return muxValue
}

// Socket is a secure socket.
type Socket struct {
	sock *secure.Socket
}

func newSocket(conn net.Conn, role model.Role, config Config) (*Socket, error) {
	settings, err := config.internal()
	if err != nil {
		return nil, err
	}
	tcp := tcpsocket.New(conn, defaultMultiplexer(), config.handler())
	ctx := engine.NewContext(role, settings.Logger)
	return &Socket{sock: secure.New(tcp, ctx, role, settings)}, nil
}

// NewClient starts a client handshake on conn. The server is trusted
// only if its fingerprint is in the trust store of config.ProfileDir.
func NewClient(conn net.Conn, config Config) (*Socket, error) {
	s, err := newSocket(conn, model.RoleClient, config)
	if err != nil {
		return nil, err
	}
	s.sock.SecureConnect()
	return s, nil
}

// NewServer loads the PEM file at certPath, containing both the
// certificate and the private key, and starts a server handshake on
// conn. On failure conn is closed.
func NewServer(conn net.Conn, certPath string, config Config) (*Socket, error) {
	s, err := newSocket(conn, model.RoleServer, config)
	if err != nil {
		return nil, err
	}
	if err := s.sock.LoadCertificates(certPath); err != nil {
		s.sock.Close()
		return nil, err
	}
	s.sock.SecureAccept()
	return s, nil
}

// Wait blocks until the handshake is over or ctx is done. It returns
// nil if the socket is ready.
func (s *Socket) Wait(ctx context.Context) error {
	select {
	case <-s.sock.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.sock.IsSecureReady() {
		return nil
	}
	return s.sock.LastError()
}

// SecureRead reads plaintext into p. It returns the number of bytes
// read, zero if no data is available yet and -1 on failure.
func (s *Socket) SecureRead(p []byte) int {
	return s.sock.SecureRead(p)
}

// SecureWrite writes plaintext from p. It returns the number of bytes
// written, zero if the data cannot be accepted yet and -1 on failure.
func (s *Socket) SecureWrite(p []byte) int {
	return s.sock.SecureWrite(p)
}

// IsSecureReady returns whether plaintext can be read and written.
func (s *Socket) IsSecureReady() bool {
	return s.sock.IsSecureReady()
}

// LastError returns the error that made the socket fail, if any.
func (s *Socket) LastError() error {
	return s.sock.LastError()
}

// Close sends a close notification to the peer and closes the socket.
func (s *Socket) Close() error {
	return s.sock.Close()
}

// Destroy releases all the resources of the socket. It waits
// Config.DestroyDelay before returning.
func (s *Socket) Destroy() {
	s.sock.Destroy()
}

// Stream returns a blocking view of the socket. Read returns io.EOF
// once the peer has closed the session.
func (s *Socket) Stream() io.ReadWriteCloser {
	return &stream{sock: s.sock}
}

type stream struct {
	sock *secure.Socket
}

func (s *stream) wait() {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-s.sock.Ready():
	case <-timer.C:
	}
}

func (s *stream) err() error {
	err := s.sock.LastError()
	if err == nil || errors.Is(err, sslerror.ErrPeerClosed) {
		return io.EOF
	}
	return err
}

func (s *stream) Read(p []byte) (int, error) {
	if len(p) <= 0 {
		return 0, nil
	}
	for {
		n := s.sock.SecureRead(p)
		if n > 0 {
			return n, nil
		}
		if n < 0 {
			return 0, s.err()
		}
		s.wait()
	}
}

func (s *stream) Write(p []byte) (int, error) {
	var total int
	for total < len(p) {
		n := s.sock.SecureWrite(p[total:])
		if n < 0 {
			return total, s.err()
		}
		if n == 0 {
			s.wait()
			continue
		}
		total += n
	}
	return total, nil
}

func (s *stream) Close() error {
	return s.sock.Close()
}
