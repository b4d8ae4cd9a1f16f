// Package logger is a handler that emits logs
package logger

import (
	"github.com/apex/log"
	"github.com/kvmshare/securesocket/internal/tlsx"
	"github.com/kvmshare/securesocket/model"
)

// Handler is a handler that logs events.
type Handler struct {
	logger log.Interface
}

// NewHandler returns a new logging handler.
func NewHandler(logger log.Interface) *Handler {
	return &Handler{logger: logger}
}

// OnMeasurement logs the specific measurement
func (h *Handler) OnMeasurement(m model.Measurement) {
	// Syscalls
	if m.Read != nil {
		h.logger.WithFields(log.Fields{
			"blockedFor": m.Read.Duration,
			"connID":     m.Read.ConnID,
			"elapsed":    m.Read.Time,
			"error":      m.Read.Error,
			"numBytes":   m.Read.NumBytes,
		}).Debug("net: read done")
	}
	if m.Write != nil {
		h.logger.WithFields(log.Fields{
			"blockedFor": m.Write.Duration,
			"connID":     m.Write.ConnID,
			"elapsed":    m.Write.Time,
			"error":      m.Write.Error,
			"numBytes":   m.Write.NumBytes,
		}).Debug("net: write done")
	}
	if m.Close != nil {
		h.logger.WithFields(log.Fields{
			"connID":  m.Close.ConnID,
			"elapsed": m.Close.Time,
			"error":   m.Close.Error,
		}).Debug("net: close done")
	}

	// TLS
	if m.TLSHandshakeStart != nil {
		h.logger.WithFields(log.Fields{
			"connID":  m.TLSHandshakeStart.ConnID,
			"elapsed": m.TLSHandshakeStart.Time,
			"role":    m.TLSHandshakeStart.Role,
		}).Debug("tls: start handshake")
	}
	if m.TLSHandshakeDone != nil {
		h.logger.WithFields(log.Fields{
			"cipher":  tlsx.CipherSuiteString(m.TLSHandshakeDone.ConnectionState.CipherSuite),
			"connID":  m.TLSHandshakeDone.ConnID,
			"elapsed": m.TLSHandshakeDone.Time,
			"error":   m.TLSHandshakeDone.Error,
			"retries": m.TLSHandshakeDone.Retries,
			"role":    m.TLSHandshakeDone.Role,
			"version": tlsx.VersionString(m.TLSHandshakeDone.ConnectionState.Version),
		}).Debug("tls: handshake done")
	}
	if m.Fingerprint != nil {
		h.logger.WithFields(log.Fields{
			"connID":      m.Fingerprint.ConnID,
			"elapsed":     m.Fingerprint.Time,
			"fingerprint": m.Fingerprint.Fingerprint,
			"trusted":     m.Fingerprint.Trusted,
		}).Debug("tls: fingerprint checked")
	}

	// Notifications
	if m.StopRetry != nil {
		h.logger.WithFields(log.Fields{
			"connID":  m.StopRetry.ConnID,
			"elapsed": m.StopRetry.Time,
		}).Debug("socket: stop retry")
	}
	if m.Disconnected != nil {
		h.logger.WithFields(log.Fields{
			"connID":  m.Disconnected.ConnID,
			"elapsed": m.Disconnected.Time,
			"error":   m.Disconnected.Error,
		}).Debug("socket: disconnected")
	}
	if m.InputShutdown != nil {
		h.logger.WithFields(log.Fields{
			"connID":  m.InputShutdown.ConnID,
			"elapsed": m.InputShutdown.Time,
		}).Debug("socket: input shutdown")
	}
}
