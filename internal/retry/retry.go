// Package retry contains the client reconnect loop.
//
// A reconnect attempt stops the loop for good when the secure socket
// emits a StopRetryEvent, i.e., when retrying cannot help because, for
// example, the server is not trusted.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/kvmshare/securesocket/model"
)

const (
	initialMean = 0.5
	finalMean   = 8.0
	meanFactor  = 2.0
	stdevFactor = 0.05
)

var (
	// ErrStopped indicates that an attempt asked to stop retrying.
	ErrStopped = errors.New("retry: stopped")

	// ErrExhausted indicates that all the attempts failed.
	ErrExhausted = errors.New("retry: all attempts failed")
)

// Stopper is a model.Handler recording StopRetryEvent.
type Stopper struct {
	stopped int32
}

// OnMeasurement implements model.Handler.OnMeasurement.
func (s *Stopper) OnMeasurement(m model.Measurement) {
	if m.StopRetry != nil {
		atomic.StoreInt32(&s.stopped, 1)
	}
}

// Stopped returns whether a StopRetryEvent has been seen.
func (s *Stopper) Stopped() bool {
	return atomic.LoadInt32(&s.stopped) != 0
}

// Retry retries op until it succeeds, the context expires, the stopper
// has seen a StopRetryEvent, or we've attempted to retry the operation
// for too much time. The stopper may be nil.
func Retry(ctx context.Context, stopper *Stopper, op func() error) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var err error
	for mean := initialMean; mean <= finalMean; mean *= meanFactor {
		if err = op(); err == nil {
			return nil
		}
		if stopper != nil && stopper.Stopped() {
			return errors.Join(ErrStopped, err)
		}
		stdev := stdevFactor * mean
		seconds := rng.NormFloat64()*stdev + mean
		sleepTime := time.Duration(seconds * float64(time.Second))
		timer := time.NewTimer(sleepTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.Join(ErrExhausted, err)
}
