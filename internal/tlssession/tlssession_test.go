package tlssession

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/kvmshare/securesocket/internal/engine/fakeengine"
	"github.com/kvmshare/securesocket/internal/sslerror"
	"github.com/kvmshare/securesocket/model"
)

func newSession(factory *fakeengine.Factory, role model.Role, maxRetry int) (*Session, *memory.Handler) {
	handler := memory.New()
	logger := &log.Logger{Handler: handler, Level: log.DebugLevel}
	checker := &sslerror.Checker{Logger: logger, MaxRetry: maxRetry}
	return New(factory, role, checker, logger), handler
}

func TestHandshakeCreatesOneHandle(t *testing.T) {
	conn := &fakeengine.Conn{Handshakes: []fakeengine.Step{
		fakeengine.Want(sslerror.CodeWantRead),
		fakeengine.Want(sslerror.CodeWantWrite),
		fakeengine.Done,
	}}
	factory := &fakeengine.Factory{Conn: conn}
	sess, _ := newSession(factory, model.RoleClient, 0)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	if out := sess.HandshakeAsClient(client); out != WouldBlock {
		t.Fatalf("unexpected outcome: %s", out)
	}
	if sess.Retries() != 1 {
		t.Fatal("retry counter not incremented")
	}
	if out := sess.HandshakeAsClient(client); out != WouldBlock {
		t.Fatalf("unexpected outcome: %s", out)
	}
	if out := sess.HandshakeAsClient(client); out != Progressed {
		t.Fatalf("unexpected outcome: %s", out)
	}
	if factory.Created() != 1 {
		t.Fatal("expected exactly one handle")
	}
	if conn.Raw() != client {
		t.Fatal("handle not bound to the raw socket")
	}
	if sess.Retries() != 0 {
		t.Fatal("retry counter not reset on success")
	}
	if sess.HandshakeRetries() != 2 {
		t.Fatal("unexpected number of handshake retries")
	}
	if sess.Ready() == nil {
		t.Fatal("expected a readiness channel")
	}
}

func TestHandshakeRetryLimit(t *testing.T) {
	conn := &fakeengine.Conn{Handshakes: []fakeengine.Step{
		fakeengine.Want(sslerror.CodeWantRead),
	}}
	sess, handler := newSession(&fakeengine.Factory{Conn: conn}, model.RoleServer, 3)
	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		outcomes = append(outcomes, sess.HandshakeAsServer(nil))
	}
	for i := 0; i < 3; i++ {
		if outcomes[i] != WouldBlock {
			t.Fatalf("step %d: unexpected outcome: %s", i, outcomes[i])
		}
	}
	if outcomes[3] != Fatal {
		t.Fatalf("unexpected final outcome: %s", outcomes[3])
	}
	if !errors.Is(sess.Err(), sslerror.ErrRetryLimitExceeded) {
		t.Fatalf("unexpected error: %+v", sess.Err())
	}
	if !sess.IsFatal() {
		t.Fatal("session should be fatal")
	}
	if out := sess.HandshakeAsServer(nil); out != Fatal {
		t.Fatal("fatal session should stay fatal")
	}
	if conn.HandshakeCalls() != 4 {
		t.Fatal("engine called after the session became fatal")
	}
	var found bool
	for _, entry := range handler.Entries {
		if entry.Level == log.ErrorLevel && entry.Message == sslerror.ErrRetryLimitExceeded.Error() {
			found = true
		}
	}
	if !found {
		t.Fatal("retry limit not logged")
	}
}

func TestHandshakeProtocolFailure(t *testing.T) {
	conn := &fakeengine.Conn{Handshakes: []fakeengine.Step{
		fakeengine.Fail(-1, sslerror.CodeSSL, errors.New("bad record mac")),
	}}
	sess, _ := newSession(&fakeengine.Factory{Conn: conn}, model.RoleClient, 0)
	if out := sess.HandshakeAsClient(nil); out != Fatal {
		t.Fatalf("unexpected outcome: %s", out)
	}
	var wrapper *sslerror.ErrWrapper
	if !errors.As(sess.Err(), &wrapper) {
		t.Fatal("expected an ErrWrapper")
	}
	if wrapper.Failure != sslerror.FailureHandshake {
		t.Fatalf("unexpected failure: %s", wrapper.Failure)
	}
}

func TestHandshakeRoleMismatch(t *testing.T) {
	factory := &fakeengine.Factory{}
	sess, _ := newSession(factory, model.RoleServer, 0)
	if out := sess.HandshakeAsClient(nil); out != Fatal {
		t.Fatalf("unexpected outcome: %s", out)
	}
	if factory.Created() != 0 {
		t.Fatal("handle created for the wrong role")
	}
	if !errors.Is(sess.Err(), sslerror.ErrProtocolFailure) {
		t.Fatalf("unexpected error: %+v", sess.Err())
	}
}

func TestHandshakeNewConnFailure(t *testing.T) {
	expected := errors.New("mocked error")
	sess, _ := newSession(&fakeengine.Factory{NewConnErr: expected}, model.RoleClient, 0)
	if out := sess.HandshakeAsClient(nil); out != Fatal {
		t.Fatalf("unexpected outcome: %s", out)
	}
	if !errors.Is(sess.Err(), expected) {
		t.Fatalf("unexpected error: %+v", sess.Err())
	}
}

func TestReadWriteBeforeHandshake(t *testing.T) {
	sess, _ := newSession(&fakeengine.Factory{}, model.RoleClient, 0)
	if n, out := sess.Read(make([]byte, 4)); n != 0 || out != WouldBlock {
		t.Fatal("expected WouldBlock")
	}
	if n, out := sess.Write([]byte("abc")); n != 0 || out != WouldBlock {
		t.Fatal("expected WouldBlock")
	}
	if sess.Ready() != nil {
		t.Fatal("expected no readiness channel")
	}
	if sess.PeerCertificate() != nil {
		t.Fatal("expected no peer certificate")
	}
}

func TestReadWrite(t *testing.T) {
	conn := &fakeengine.Conn{
		Reads: []fakeengine.Step{
			fakeengine.Want(sslerror.CodeWantRead),
			{Data: []byte("hello")},
			fakeengine.Fail(0, sslerror.CodeZeroReturn, nil),
		},
		Writes: []fakeengine.Step{
			fakeengine.Want(sslerror.CodeWantWrite),
			{},
		},
	}
	sess, _ := newSession(&fakeengine.Factory{Conn: conn}, model.RoleClient, 0)
	if out := sess.HandshakeAsClient(nil); out != Progressed {
		t.Fatalf("unexpected outcome: %s", out)
	}
	buf := make([]byte, 16)
	if n, out := sess.Read(buf); n != 0 || out != WouldBlock {
		t.Fatal("expected WouldBlock")
	}
	n, out := sess.Read(buf)
	if out != Progressed || !bytes.Equal(buf[:n], []byte("hello")) {
		t.Fatal("unexpected read result")
	}
	if n, out := sess.Write([]byte("abc")); n != 0 || out != WouldBlock {
		t.Fatal("expected WouldBlock")
	}
	if n, out := sess.Write([]byte("abc")); n != 3 || out != Progressed {
		t.Fatal("unexpected write result")
	}
	if string(conn.Written()) != "abc" {
		t.Fatal("unexpected written bytes")
	}
	if n, out := sess.Read(buf); n != 0 || out != Fatal {
		t.Fatal("expected Fatal on close notify")
	}
	if !errors.Is(sess.Err(), sslerror.ErrPeerClosed) {
		t.Fatalf("unexpected error: %+v", sess.Err())
	}
	if n, out := sess.Write([]byte("abc")); n != 0 || out != Fatal {
		t.Fatal("expected Fatal after close")
	}
}

func TestShutdownAndReleaseIsIdempotent(t *testing.T) {
	conn := &fakeengine.Conn{}
	factory := &fakeengine.Factory{Conn: conn}
	sess, _ := newSession(factory, model.RoleClient, 0)
	if out := sess.HandshakeAsClient(nil); out != Progressed {
		t.Fatalf("unexpected outcome: %s", out)
	}
	sess.ShutdownAndRelease()
	sess.ShutdownAndRelease()
	if conn.ShutdownCalls() != 1 || conn.FreeCalls() != 1 {
		t.Fatal("handle released more than once")
	}
	if factory.FreeCalls() != 1 {
		t.Fatal("context released more than once")
	}
	if !sess.IsFatal() {
		t.Fatal("released session should be fatal")
	}
	if out := sess.HandshakeAsClient(nil); out != Fatal {
		t.Fatal("released session should not handshake")
	}
}

func TestShutdownAndReleaseWithoutHandle(t *testing.T) {
	factory := &fakeengine.Factory{}
	sess, _ := newSession(factory, model.RoleServer, 0)
	sess.Shutdown()
	sess.ShutdownAndRelease()
	if factory.FreeCalls() != 1 {
		t.Fatal("context not released")
	}
}

func TestSetFatalKeepsFirstError(t *testing.T) {
	sess, _ := newSession(&fakeengine.Factory{}, model.RoleClient, 0)
	first := errors.New("first")
	sess.SetFatal(first)
	sess.SetFatal(errors.New("second"))
	if sess.Err() != first {
		t.Fatal("first error not kept")
	}
}

func TestOutcomeString(t *testing.T) {
	if Progressed.String() != "progressed" || WouldBlock.String() != "would_block" ||
		Fatal.String() != "fatal" {
		t.Fatal("unexpected outcome strings")
	}
}

func TestIdleReadWriteDoNotExhaustRetries(t *testing.T) {
	conn := &fakeengine.Conn{
		Reads:  []fakeengine.Step{fakeengine.Want(sslerror.CodeWantRead)},
		Writes: []fakeengine.Step{fakeengine.Want(sslerror.CodeWantWrite)},
	}
	sess, _ := newSession(&fakeengine.Factory{Conn: conn}, model.RoleClient, 3)
	if out := sess.HandshakeAsClient(nil); out != Progressed {
		t.Fatalf("unexpected outcome: %s", out)
	}
	buf := make([]byte, 4)
	for i := 0; i < 10; i++ {
		if n, out := sess.Read(buf); n != 0 || out != WouldBlock {
			t.Fatalf("read %d: expected WouldBlock, got %s", i, out)
		}
		if n, out := sess.Write([]byte("abc")); n != 0 || out != WouldBlock {
			t.Fatalf("write %d: expected WouldBlock, got %s", i, out)
		}
	}
	if sess.IsFatal() || sess.Retries() != 0 {
		t.Fatal("idle session counted retries")
	}
}
