package connx_test

import (
	"net"
	"testing"
	"time"

	"github.com/kvmshare/securesocket/internal/connx"
	"github.com/kvmshare/securesocket/internal/handlers/savinghandler"
)

func TestMeasuringConn(t *testing.T) {
	saver := &savinghandler.Handler{}
	conn := net.Conn(&connx.MeasuringConn{
		Beginning: time.Now(),
		Conn:      fakeconn{},
		Handler:   saver,
		ID:        17,
	})
	data := make([]byte, 1<<17)
	n, err := conn.Read(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Fatal("invalid number of bytes read")
	}
	n, err = conn.Write(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Fatal("invalid number of bytes written")
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	events := saver.All()
	if len(events) != 3 {
		t.Fatal("unexpected number of events")
	}
	if events[0].Read == nil || events[0].Read.NumBytes != 1<<17 || events[0].Read.ConnID != 17 {
		t.Fatal("unexpected read event")
	}
	if events[1].Write == nil || events[1].Write.NumBytes != 1<<17 {
		t.Fatal("unexpected write event")
	}
	if events[2].Close == nil || events[2].Close.ConnID != 17 {
		t.Fatal("unexpected close event")
	}
}

func TestMeasuringConnCloseWrite(t *testing.T) {
	conn := &connx.MeasuringConn{Conn: fakeconn{}, Handler: &savinghandler.Handler{}}
	if err := conn.CloseWrite(); err != nil {
		t.Fatal(err)
	}
}

func TestNextConnIDIsUnique(t *testing.T) {
	first := connx.NextConnID()
	second := connx.NextConnID()
	if first == second || first <= 0 {
		t.Fatal("connection IDs are not unique")
	}
}

type fakeconn struct{}

func (fakeconn) Read(b []byte) (n int, err error) {
	n = len(b)
	return
}
func (fakeconn) Write(b []byte) (n int, err error) {
	n = len(b)
	return
}
func (fakeconn) Close() (err error) {
	return
}
func (fakeconn) LocalAddr() net.Addr {
	return &net.TCPAddr{}
}
func (fakeconn) RemoteAddr() net.Addr {
	return &net.TCPAddr{}
}
func (fakeconn) SetDeadline(t time.Time) (err error) {
	return
}
func (fakeconn) SetReadDeadline(t time.Time) (err error) {
	return
}
func (fakeconn) SetWriteDeadline(t time.Time) (err error) {
	return
}
