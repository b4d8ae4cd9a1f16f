package logger

import (
	"crypto/tls"
	"errors"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/kvmshare/securesocket/model"
)

func TestOnMeasurement(t *testing.T) {
	mem := memory.New()
	handler := NewHandler(&log.Logger{Handler: mem, Level: log.DebugLevel})
	handler.OnMeasurement(model.Measurement{
		Close:         &model.CloseEvent{},
		Disconnected:  &model.DisconnectedEvent{Error: errors.New("mocked error")},
		Fingerprint:   &model.FingerprintEvent{Fingerprint: "AB:CD", Trusted: true},
		InputShutdown: &model.InputShutdownEvent{},
		Read:          &model.ReadEvent{NumBytes: 17},
		StopRetry:     &model.StopRetryEvent{},
		TLSHandshakeStart: &model.TLSHandshakeStartEvent{
			Role: model.RoleServer,
		},
		TLSHandshakeDone: &model.TLSHandshakeDoneEvent{
			ConnectionState: model.TLSConnectionState{
				CipherSuite: tls.TLS_AES_128_GCM_SHA256,
				Version:     tls.VersionTLS13,
			},
		},
		Write: &model.WriteEvent{NumBytes: 4},
	})
	if len(mem.Entries) != 9 {
		t.Fatalf("unexpected number of entries: %d", len(mem.Entries))
	}
	for _, entry := range mem.Entries {
		if entry.Level != log.DebugLevel {
			t.Fatal("events must only be logged at debug level")
		}
		if entry.Message == "tls: handshake done" {
			if entry.Fields.Get("version") != "TLSv1.3" {
				t.Fatal("unexpected version field")
			}
		}
	}
}
