package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
)

var (
	ErrQueueFull      = errors.New("index queue is full")
	ErrDispatcherDone = errors.New("index dispatcher stopped")
)

type TaskPublisher interface {
	PublishIndexTask(ctx context.Context, task models.IndexTask, attempt int) error
}

// QueueDispatcher publishes index tasks to NATS for cmd/worker to run.
type QueueDispatcher struct {
	publisher TaskPublisher
}

func NewQueueDispatcher(p TaskPublisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: p}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job *models.IndexJob) error {
	return d.publisher.PublishIndexTask(ctx, job.Task(), job.Attempts)
}

type TaskProcessor interface {
	Process(ctx context.Context, task models.IndexTask) error
}

// PoolDispatcher runs index tasks on a fixed number of in-process workers fed by a
// bounded queue. Dispatch never blocks: a full queue is reported as ErrQueueFull.
type PoolDispatcher struct {
	processor TaskProcessor
	workers   int
	tasks     chan models.IndexTask

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPoolDispatcher(processor TaskProcessor, workers, queueSize int) *PoolDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &PoolDispatcher{
		processor: processor,
		workers:   workers,
		tasks:     make(chan models.IndexTask, queueSize),
	}
}

// Start launches the workers. They run until Stop drains the queue. Cancelling ctx
// does not abort queued tasks, so their outcome is still recorded during shutdown.
func (d *PoolDispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(workerID int) {
			defer d.wg.Done()
			for task := range d.tasks {
				observability.QueueDepth.Set(float64(len(d.tasks)))
				if err := d.processor.Process(ctx, task); err != nil {
					slog.Error("process index task error", "worker", workerID, "job_id", task.JobID, "error", err)
				}
			}
		}(i)
	}
	slog.Info("local index pool started", "workers", d.workers, "queue_size", cap(d.tasks))
}

func (d *PoolDispatcher) Dispatch(_ context.Context, job *models.IndexJob) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherDone
	}
	select {
	case d.tasks <- job.Task():
		observability.QueueDepth.Set(float64(len(d.tasks)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects further tasks and waits for queued ones to finish.
func (d *PoolDispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
