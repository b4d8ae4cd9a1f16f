// Package tcpsocket contains the plain socket that secure sockets
// extend. It owns the connection, the per socket lock and the job
// registered with the multiplexer.
package tcpsocket

import (
	"net"
	"sync"
	"time"

	"github.com/kvmshare/securesocket/handlers"
	"github.com/kvmshare/securesocket/internal/connx"
	"github.com/kvmshare/securesocket/internal/multiplexer"
	"github.com/kvmshare/securesocket/model"
)

// Socket is a connected plain socket.
type Socket struct {
	beginning time.Time
	closeErr  error
	closeOnce sync.Once
	closed    chan struct{}
	conn      *connx.MeasuringConn
	handler   model.Handler
	id        int64
	mu        sync.Mutex
	mux       *multiplexer.Multiplexer
}

// New wraps an already connected conn. Events are emitted using handler,
// which may be nil.
func New(conn net.Conn, mux *multiplexer.Multiplexer, handler model.Handler) *Socket {
	if handler == nil {
		handler = handlers.NoHandler
	}
	beginning := time.Now()
	id := connx.NextConnID()
	return &Socket{
		beginning: beginning,
		closed:    make(chan struct{}),
		conn: &connx.MeasuringConn{
			Beginning: beginning,
			Conn:      conn,
			Handler:   handler,
			ID:        id,
		},
		handler: handler,
		id:      id,
		mux:     mux,
	}
}

// ID returns the unique ID of the socket.
func (s *Socket) ID() int64 {
	return s.id
}

// Elapsed returns the time elapsed since the socket was created.
func (s *Socket) Elapsed() time.Duration {
	return time.Since(s.beginning)
}

// Conn returns the connection used for raw I/O.
func (s *Socket) Conn() net.Conn {
	return s.conn
}

// Mutex returns the lock serializing the operations on the socket.
func (s *Socket) Mutex() *sync.Mutex {
	return &s.mu
}

// SetJob registers job with the multiplexer, replacing any previous
// job. A nil job removes the current one. Jobs are ignored once the
// socket has been closed.
func (s *Socket) SetJob(job multiplexer.Job) error {
	if job == nil {
		s.mux.RemoveJob(s)
		return nil
	}
	if !s.IsReadable() {
		return net.ErrClosed
	}
	return s.mux.AddJob(s, job)
}

// SendEvent emits m using the socket handler.
func (s *Socket) SendEvent(m model.Measurement) {
	s.handler.OnMeasurement(m)
}

// Close removes the job and closes the connection. It is idempotent
// and always returns the result of the first close.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mux.RemoveJob(s)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// IsReadable returns whether the socket may still produce input.
func (s *Socket) IsReadable() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// IsWritable returns whether the socket may still accept output.
func (s *Socket) IsWritable() bool {
	return s.IsReadable()
}
