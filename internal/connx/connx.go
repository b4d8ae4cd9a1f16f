// Package connx contains net.Conn extensions
package connx

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/kvmshare/securesocket/model"
)

var connID int64

// NextConnID returns a new unique connection ID.
func NextConnID() int64 {
	return atomic.AddInt64(&connID, 1)
}

// MeasuringConn is a net.Conn that emits an event for each
// read, write and close.
type MeasuringConn struct {
	net.Conn
	Beginning time.Time
	Handler   model.Handler
	ID        int64
}

// Read reads data from the connection.
func (c *MeasuringConn) Read(b []byte) (n int, err error) {
	start := time.Now()
	n, err = c.Conn.Read(b)
	stop := time.Now()
	c.Handler.OnMeasurement(model.Measurement{
		Read: &model.ReadEvent{
			Duration: stop.Sub(start),
			Error:    err,
			NumBytes: int64(n),
			ConnID:   c.ID,
			Time:     stop.Sub(c.Beginning),
		},
	})
	return
}

// Write writes data to the connection
func (c *MeasuringConn) Write(b []byte) (n int, err error) {
	start := time.Now()
	n, err = c.Conn.Write(b)
	stop := time.Now()
	c.Handler.OnMeasurement(model.Measurement{
		Write: &model.WriteEvent{
			Duration: stop.Sub(start),
			Error:    err,
			NumBytes: int64(n),
			ConnID:   c.ID,
			Time:     stop.Sub(c.Beginning),
		},
	})
	return
}

// Close closes the connection
func (c *MeasuringConn) Close() (err error) {
	err = c.Conn.Close()
	c.Handler.OnMeasurement(model.Measurement{
		Close: &model.CloseEvent{
			Error:  err,
			ConnID: c.ID,
			Time:   time.Since(c.Beginning),
		},
	})
	return
}

// CloseWrite half closes the connection when the wrapped
// connection supports that.
func (c *MeasuringConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
