package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRetention = 10 * time.Minute

// FinishHook receives the final snapshot of every job that reaches a
// terminal state. Hooks run on the job's goroutine and must not block long.
type FinishHook func(Snapshot)

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRetention sets how long terminal jobs stay queryable.
func WithRetention(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithClock replaces time.Now for eviction decisions and job timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator replaces the UUIDv4 job id generator.
func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// WithFinishHook registers a hook called once per finished job.
func WithFinishHook(h FinishHook) RegistryOption {
	return func(r *Registry) { r.hooks = append(r.hooks, h) }
}

// Registry owns the set of live and recently finished jobs.
type Registry struct {
	coord     *Coordinator
	retention time.Duration
	now       func() time.Time
	newID     func() string
	hooks     []FinishHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
}

// NewRegistry creates an empty registry that runs jobs on coord.
func NewRegistry(coord *Coordinator, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		coord:     coord,
		retention: defaultRetention,
		now:       coord.opts.Now,
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates req, registers a new job and starts it in the background.
// Invalid requests return a *ValidationError and create nothing.
func (r *Registry) Create(req ScanRequest) (string, error) {
	ports, err := req.validate()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	job := newJob(r.newID(), req, ports, r.now)
	r.jobs[job.id] = job
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(job)
	return job.id, nil
}

func (r *Registry) run(job *Job) {
	defer r.wg.Done()
	defer close(job.done)

	r.coord.Run(r.ctx, job)

	final := job.Snapshot(0)
	for _, h := range r.hooks {
		h(final)
	}
}

// Get returns a snapshot of job id with the log entries from cursor onward.
func (r *Registry) Get(id string, cursor int) (Snapshot, error) {
	job, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return job.Snapshot(cursor), nil
}

// Job returns the live job for id.
func (r *Registry) Job(id string) (*Job, error) {
	return r.lookup(id)
}

// RequestStop asks job id to stop. Stopping a job that is already stopping
// or finished is acknowledged without effect.
func (r *Registry) RequestStop(id string) error {
	job, err := r.lookup(id)
	if err != nil {
		return err
	}
	job.requestStop()
	return nil
}

func (r *Registry) lookup(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// EvictExpired drops terminal jobs that finished more than the retention
// window ago and returns how many were removed.
func (r *Registry) EvictExpired() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, job := range r.jobs {
		job.mu.RLock()
		expired := job.state.Terminal() && !job.finishedAt.After(cutoff)
		job.mu.RUnlock()
		if expired {
			delete(r.jobs, id)
			evicted++
		}
	}
	return evicted
}

// Janitor calls EvictExpired every interval until ctx is done.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictExpired(); n > 0 {
				slog.DebugContext(ctx, "evicted expired jobs", "count", n)
			}
		}
	}
}

// Len returns the number of jobs currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Close stops every running job and waits for their coordinators to return.
// Create fails with ErrRegistryClosed afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	for _, job := range r.jobs {
		job.requestStop()
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
