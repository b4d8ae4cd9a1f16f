package sslerror

import (
	"errors"
	"fmt"

	"github.com/apex/log"
)

// DefaultMaxRetry is the default bound on consecutive flow control
// retries. It is very high because some clients generate tens of
// thousands of "want" signals before the handshake completes.
const DefaultMaxRetry = 100000

// Decision is the outcome of Checker.Check.
type Decision struct {
	// Class is the classification of the operation result.
	Class Class

	// Fatal indicates that the session must be torn down.
	Fatal bool

	// Err is the wrapped failure when Fatal is true.
	Err error

	// Retries is the number of consecutive retries that
	// preceded this decision.
	Retries int
}

// Checker applies the retry and teardown policy to the results of
// engine operations. A Checker holds the retry counter of exactly one
// socket and must never be shared. The zero value is ready to use.
type Checker struct {
	// Logger is the logger to use. If nil, we use log.Log.
	Logger log.Interface

	// MaxRetry is the retry bound. If zero or negative, we
	// use DefaultMaxRetry.
	MaxRetry int

	retries int
}

// Retries returns the current value of the retry counter.
func (c *Checker) Retries() int {
	return c.retries
}

func (c *Checker) logger() log.Interface {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Log
}

func (c *Checker) maxRetry() int {
	if c.MaxRetry > 0 {
		return c.MaxRetry
	}
	return DefaultMaxRetry
}

// Check classifies the result of the given operation, updates the retry
// counter and decides whether the session has become fatal. Retryable
// results are only logged at debug level since they are the expected
// steady state of a non-blocking handshake.
func (c *Checker) Check(operation string, status int, err error) Decision {
	logger := c.logger()
	decision := Decision{Class: Classify(status, err), Retries: c.retries}
	var reason error
	switch decision.Class {
	case Success:
		c.retries = 0
	case Retryable:
		c.retries++
		logger.WithFields(log.Fields{
			"attempt":   c.retries,
			"code":      CodeOf(err),
			"operation": operation,
		}).Debug("passive ssl error")
	case ConnectionClosed:
		logger.Debug("ssl connection closed")
		reason = ErrPeerClosed
	case TransportFailure:
		logger.Error(ErrTransportFailure.Error())
		reason = ErrTransportFailure
		var ee *EngineError
		if errors.As(err, &ee) && ee.Err == nil {
			if status == 0 {
				logger.Error(ErrUnexpectedEOF.Error())
				reason = ErrUnexpectedEOF
			} else if status < 0 && ee.Transport != nil {
				logger.Error(ee.Transport.Error())
			}
		}
	default:
		if CodeOf(err) == CodeSSL {
			logger.Error(ErrProtocolFailure.Error())
		} else {
			logger.Error("ssl error occurred (unknown failure)")
		}
		reason = ErrProtocolFailure
	}
	if c.retries > c.maxRetry() {
		logger.WithField("attempt", c.retries).Error(ErrRetryLimitExceeded.Error())
		reason = ErrRetryLimitExceeded
	}
	if reason != nil {
		decision.Fatal = true
		c.retries = 0
		var ee *EngineError
		if errors.As(err, &ee) && ee.Err != nil {
			logger.Error(ee.Err.Error())
		}
		decision.Err = SafeErrWrapperBuilder{
			Error:     wrapReason(reason, err),
			Failure:   failureFor(operation, reason),
			Operation: operation,
		}.MaybeBuild()
	}
	return decision
}

func wrapReason(reason, err error) error {
	if err == nil {
		return reason
	}
	return fmt.Errorf("%w: %w", reason, err)
}

func failureFor(operation string, reason error) string {
	if operation == HandshakeOperation && errors.Is(reason, ErrProtocolFailure) {
		return FailureHandshake
	}
	return toFailureString(reason)
}

// Operation names.
const (
	HandshakeOperation = "tls_handshake"
	ReadOperation      = "tls_read"
	WriteOperation     = "tls_write"
)
