// Package multiplexer runs the readiness driven jobs of sockets.
//
// Each registered job runs on its own goroutine. A job runs once as
// soon as it is added and then every time its Ready channel fires, with
// a slow fallback ticker for sources that cannot signal readiness. The
// job returned by Run replaces the current one; nil drops it.
package multiplexer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// Job is a readiness driven continuation.
type Job interface {
	// Run services the job. Failed is true when the multiplexer is
	// closing and this is the last time the job runs. Run returns the
	// job to run next, or nil to remove the job.
	Run(readable, writable, failed bool) Job

	// Ready fires when the job may make progress. A nil channel
	// means the job relies on the fallback ticker.
	Ready() <-chan struct{}

	// IsReadable returns whether the job is interested in reading.
	IsReadable() bool

	// IsWritable returns whether the job is interested in writing.
	IsWritable() bool
}

// DefaultPollInterval is the default fallback ticker interval.
const DefaultPollInterval = 10 * time.Millisecond

// ErrClosed indicates that the multiplexer has been closed.
var ErrClosed = errors.New("multiplexer: closed")

type worker struct {
	job     Job
	removed chan struct{}
	wake    chan struct{}
}

// Multiplexer runs jobs keyed by their owner.
type Multiplexer struct {
	// Logger is the logger to use.
	Logger log.Interface

	// PollInterval is the fallback ticker interval.
	PollInterval time.Duration

	cancel  context.CancelFunc
	closed  bool
	ctx     context.Context
	group   *errgroup.Group
	mu      sync.Mutex
	workers map[interface{}]*worker
}

// New creates a new multiplexer.
func New(logger log.Interface) *Multiplexer {
	if logger == nil {
		logger = log.Log
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Multiplexer{
		Logger:       logger,
		PollInterval: DefaultPollInterval,
		cancel:       cancel,
		ctx:          ctx,
		group:        group,
		workers:      make(map[interface{}]*worker),
	}
}

// AddJob registers job for key. If key already has a job, the new job
// replaces it.
func (m *Multiplexer) AddJob(key interface{}, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if w, found := m.workers[key]; found {
		w.job = job
		select {
		case w.wake <- struct{}{}:
		default:
		}
		return nil
	}
	w := &worker{
		job:     job,
		removed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
	m.workers[key] = w
	m.group.Go(func() error {
		m.loop(key, w)
		return nil
	})
	return nil
}

// RemoveJob removes the job registered for key, if any. A job that
// is running completes but does not run again.
func (m *Multiplexer) RemoveJob(key interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, found := m.workers[key]; found {
		delete(m.workers, key)
		close(w.removed)
	}
}

// Len returns the number of registered jobs.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Close stops all the jobs and waits for their goroutines. Each
// registered job runs one last time with failed set to true.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	return m.group.Wait()
}

func (m *Multiplexer) current(w *worker) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-w.removed:
		return nil, false
	default:
		return w.job, true
	}
}

func (m *Multiplexer) loop(key interface{}, w *worker) {
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()
	for {
		job, ok := m.current(w)
		if !ok {
			return
		}
		next := job.Run(job.IsReadable(), job.IsWritable(), false)
		m.mu.Lock()
		select {
		case <-w.removed:
			m.mu.Unlock()
			return
		default:
		}
		if w.job != job {
			// Replaced while running.
			m.mu.Unlock()
			continue
		}
		if next == nil {
			delete(m.workers, key)
			close(w.removed)
			m.mu.Unlock()
			return
		}
		w.job = next
		m.mu.Unlock()
		select {
		case <-m.ctx.Done():
			m.Logger.Debug("multiplexer: closing job")
			m.RemoveJob(key)
			next.Run(false, false, true)
			return
		case <-w.removed:
			return
		case <-w.wake:
		case <-next.Ready():
		case <-ticker.C:
		}
	}
}

// MethodFunc is the function called by a MethodJob.
type MethodFunc func(job Job, readable, writable, failed bool) Job

// Pollable is a readiness source.
type Pollable interface {
	Ready() <-chan struct{}
}

// MethodJob is a Job that calls a function.
type MethodJob struct {
	method   MethodFunc
	pollable Pollable
	readable bool
	writable bool
}

// NewMethodJob creates a job calling method when pollable is ready. The
// pollable may be nil.
func NewMethodJob(method MethodFunc, pollable Pollable, readable, writable bool) *MethodJob {
	return &MethodJob{
		method:   method,
		pollable: pollable,
		readable: readable,
		writable: writable,
	}
}

// Run implements Job.Run.
func (j *MethodJob) Run(readable, writable, failed bool) Job {
	return j.method(j, readable, writable, failed)
}

// Ready implements Job.Ready.
func (j *MethodJob) Ready() <-chan struct{} {
	if j.pollable == nil {
		return nil
	}
	return j.pollable.Ready()
}

// IsReadable implements Job.IsReadable.
func (j *MethodJob) IsReadable() bool {
	return j.readable
}

// IsWritable implements Job.IsWritable.
func (j *MethodJob) IsWritable() bool {
	return j.writable
}
