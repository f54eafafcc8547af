package importer

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 2

// Runner is a fixed-size worker pool for import task closures. Tasks
// beyond pool capacity wait in the queue; they are never dropped or
// rejected. There is no cancellation or timeout: a task runs to whatever
// completion its row loop reaches.
type Runner struct {
	queue  chan func()
	wg     sync.WaitGroup
	logger *zap.Logger
	once   sync.Once
}

// NewRunner starts the pool. Construction-time sizing keeps the pool's
// lifetime tied to its owner instead of a process-wide singleton.
func NewRunner(workers, queueSize int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		queue:  make(chan func(), queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work(i)
	}
	return r
}

// Submit enqueues a task closure. Blocks while the queue is full rather
// than rejecting.
func (r *Runner) Submit(fn func()) {
	r.queue <- fn
}

// Close stops intake and waits for queued and in-flight tasks to finish.
func (r *Runner) Close() {
	r.once.Do(func() { close(r.queue) })
	r.wg.Wait()
}

func (r *Runner) work(id int) {
	defer r.wg.Done()
	for fn := range r.queue {
		r.run(id, fn)
	}
}

// run keeps a panicking task from taking the worker down with it.
func (r *Runner) run(id int, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("import worker recovered from panic",
				zap.Int("worker", id),
				zap.Any("panic", rec),
			)
		}
	}()
	fn()
}
