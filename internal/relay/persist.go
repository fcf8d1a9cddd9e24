package relay

import (
	"log/slog"

	"github.com/alexjbarnes/notify-relay/internal/models"
)

const persistQueueDepth = 256

type persistJob struct {
	msg   models.Message
	flush chan struct{}
}

// persistQueue writes a session's messages in arrival order without
// blocking the read loop. Only the owning session goroutine may call
// its methods.
type persistQueue struct {
	store  Store
	logger *slog.Logger

	jobs chan persistJob
	done chan struct{}
}

func newPersistQueue(store Store, logger *slog.Logger) *persistQueue {
	q := &persistQueue{
		store:  store,
		logger: logger,
		jobs:   make(chan persistJob, persistQueueDepth),
		done:   make(chan struct{}),
	}

	go q.run()

	return q
}

func (q *persistQueue) run() {
	defer close(q.done)

	for job := range q.jobs {
		if job.flush != nil {
			close(job.flush)
			continue
		}

		if err := q.store.Upsert(job.msg); err != nil {
			q.logger.Error("persisting message",
				slog.String("id", job.msg.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Enqueue schedules m for persistence.
func (q *persistQueue) Enqueue(m models.Message) {
	q.jobs <- persistJob{msg: m}
}

// Flush blocks until every message enqueued so far is written.
func (q *persistQueue) Flush() {
	ch := make(chan struct{})
	q.jobs <- persistJob{flush: ch}
	<-ch
}

// Close drains the queue and stops the worker.
func (q *persistQueue) Close() {
	close(q.jobs)
	<-q.done
}
