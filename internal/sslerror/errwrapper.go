package sslerror

import (
	"errors"
	"io"
)

var (
	// ErrPeerClosed indicates the peer closed the TLS session.
	ErrPeerClosed = errors.New("ssl connection closed")

	// ErrTransportFailure indicates the underlying socket failed.
	ErrTransportFailure = errors.New("ssl error occurred (system call failure)")

	// ErrUnexpectedEOF indicates the socket was closed mid-session.
	ErrUnexpectedEOF = errors.New("eof violates ssl protocol")

	// ErrProtocolFailure indicates a handshake or record layer failure.
	ErrProtocolFailure = errors.New("ssl error occurred (generic failure)")

	// ErrRetryLimitExceeded indicates too many flow control retries.
	ErrRetryLimitExceeded = errors.New("passive ssl error limit exceeded")

	// ErrCertificateUntrusted indicates the server fingerprint is not trusted.
	ErrCertificateUntrusted = errors.New("failed to verify server certificate fingerprint")

	// ErrCertificateAbsent indicates the server did not offer a certificate.
	ErrCertificateAbsent = errors.New("server has no ssl certificate")

	// ErrConfigurationFailure indicates an unusable certificate or key.
	ErrConfigurationFailure = errors.New("ssl configuration failure")
)

// Failure strings.
const (
	FailureConnectionClosed     = "ssl_connection_closed"
	FailureEOFError             = "eof_error"
	FailureSystemCall           = "ssl_system_call_failure"
	FailureHandshake            = "ssl_failed_handshake"
	FailureGeneric              = "ssl_generic_failure"
	FailureRetryLimitExceeded   = "ssl_retry_limit_exceeded"
	FailureUntrustedCertificate = "ssl_untrusted_certificate"
	FailureMissingCertificate   = "ssl_missing_certificate"
	FailureInvalidConfiguration = "ssl_invalid_configuration"
	FailureUnknown              = "unknown_failure"
)

// ErrWrapper is the error returned by secure socket operations.
type ErrWrapper struct {
	// Failure is the OONI-like failure string.
	Failure string

	// Operation is the operation that failed.
	Operation string

	// WrappedErr is the error that we're wrapping.
	WrappedErr error
}

// Error returns a description of the error that occurred.
func (e *ErrWrapper) Error() string {
	return e.Failure
}

// Unwrap allows to access the underlying error.
func (e *ErrWrapper) Unwrap() error {
	return e.WrappedErr
}

// SafeErrWrapperBuilder contains a builder for ErrWrapper that
// is safe, i.e., behaves correctly when the error is nil.
type SafeErrWrapperBuilder struct {
	// Error is the error, if any.
	Error error

	// Failure overrides the computed failure string, if not empty.
	Failure string

	// Operation is the operation that failed.
	Operation string
}

// MaybeBuild builds a new ErrWrapper, if b.Error is not nil, and returns
// a nil error value, instead, if b.Error is nil.
func (b SafeErrWrapperBuilder) MaybeBuild() (err error) {
	if b.Error != nil {
		var wrapper *ErrWrapper
		if errors.As(b.Error, &wrapper) {
			return b.Error
		}
		failure := b.Failure
		if failure == "" {
			failure = toFailureString(b.Error)
		}
		err = &ErrWrapper{
			Failure:    failure,
			Operation:  b.Operation,
			WrappedErr: b.Error,
		}
	}
	return
}

func toFailureString(err error) string {
	switch {
	case errors.Is(err, ErrPeerClosed):
		return FailureConnectionClosed
	case errors.Is(err, ErrUnexpectedEOF), errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return FailureEOFError
	case errors.Is(err, ErrTransportFailure):
		return FailureSystemCall
	case errors.Is(err, ErrRetryLimitExceeded):
		return FailureRetryLimitExceeded
	case errors.Is(err, ErrCertificateUntrusted):
		return FailureUntrustedCertificate
	case errors.Is(err, ErrCertificateAbsent):
		return FailureMissingCertificate
	case errors.Is(err, ErrConfigurationFailure):
		return FailureInvalidConfiguration
	case errors.Is(err, ErrProtocolFailure):
		return FailureGeneric
	}
	return FailureUnknown + ": " + err.Error()
}
