package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"portscope/scanner"
)

const (
	archiveAttempts = 3
	archiveTimeout  = 5 * time.Second
)

// Archiver moves finished scan snapshots into an ArchiveStore on a small
// pool of background workers.
type Archiver struct {
	store  ArchiveStore
	logger *slog.Logger
	queue  chan scanner.Snapshot
	retry  time.Duration
	wg     sync.WaitGroup
}

// NewArchiver creates an archiver with a queue of the given capacity.
func NewArchiver(store ArchiveStore, logger *slog.Logger, capacity int) *Archiver {
	return &Archiver{
		store:  store,
		logger: logger,
		queue:  make(chan scanner.Snapshot, capacity),
		retry:  time.Second,
	}
}

// Start launches numWorkers goroutines draining the queue.
func (a *Archiver) Start(numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		a.wg.Add(1)
		go a.workerLoop()
	}
}

// Enqueue hands a final snapshot to the workers. It is used as a registry
// finish hook and never blocks: when the queue is full the snapshot is
// dropped and logged.
func (a *Archiver) Enqueue(snap scanner.Snapshot) {
	select {
	case a.queue <- snap:
	default:
		a.logger.Warn("archive queue full; dropping scan", "job_id", snap.ID, "state", string(snap.State))
	}
}

// Close stops accepting snapshots and waits for queued ones to be written.
func (a *Archiver) Close() {
	close(a.queue)
	a.wg.Wait()
}

func (a *Archiver) workerLoop() {
	defer a.wg.Done()
	for snap := range a.queue {
		a.archive(snap)
	}
}

func (a *Archiver) archive(snap scanner.Snapshot) {
	var err error
	for attempt := 1; attempt <= archiveAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		err = a.store.Save(ctx, snap)
		cancel()
		if err == nil {
			a.logger.Debug("scan archived", "job_id", snap.ID, "state", string(snap.State))
			return
		}
		a.logger.Warn("archive attempt failed", "job_id", snap.ID, "attempt", attempt, "error", err)
		if attempt < archiveAttempts {
			time.Sleep(a.retry)
		}
	}
	a.logger.Error("giving up archiving scan", "job_id", snap.ID, "error", err)
}
