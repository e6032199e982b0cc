package reconciler

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/unvariance/collector/internal/errs"
)

// retryKind distinguishes the two retryable operations §4.8 defines.
type retryKind int

const (
	retryGroupCreation retryKind = iota
	retryContainerReconcile
)

type retryItem struct {
	kind retryKind
	id   string
}

// Scheduler implements retry_all_once (§4.8) as a rate-limited queue
// instead of a bare ticker sweep (§B.3): Failed pods and Partial
// containers are deduplicated by the queue itself, and a failing retry
// is requeued with exponential backoff rather than retried on every
// tick regardless of how recently it last failed.
type Scheduler struct {
	r   *Reconciler
	q   workqueue.TypedRateLimitingInterface[retryItem]
	log *slog.Logger
}

// NewScheduler creates a Scheduler over r.
func NewScheduler(r *Reconciler, log *slog.Logger) *Scheduler {
	return &Scheduler{
		r:   r,
		q:   workqueue.NewTypedRateLimitingQueue[retryItem](workqueue.DefaultTypedControllerRateLimiter[retryItem]()),
		log: log,
	}
}

// EnqueueFailedPod schedules a group-creation retry for podUID.
func (s *Scheduler) EnqueueFailedPod(podUID string) {
	s.q.AddRateLimited(retryItem{kind: retryGroupCreation, id: podUID})
}

// EnqueuePartialContainer schedules a container-reconcile retry.
func (s *Scheduler) EnqueuePartialContainer(containerID string) {
	s.q.AddRateLimited(retryItem{kind: retryContainerReconcile, id: containerID})
}

// Run drains the queue until ctx is cancelled. It is the scheduler's
// entire task body, suitable for shutdown.Fabric.Go.
func (s *Scheduler) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.q.ShutDown()
		case <-done:
		}
	}()
	defer close(done)

	for {
		item, shutdown := s.q.Get()
		if shutdown {
			return nil
		}
		s.process(item)
		s.q.Done(item)
	}
}

// process runs one retry attempt and re-enqueues on failure with
// per-item backoff. A Capacity error is requeued like any other failure;
// it does not pause or stop retries of other pods' group creation.
func (s *Scheduler) process(item retryItem) {
	var err error
	switch item.kind {
	case retryGroupCreation:
		err = s.r.RetryGroupCreation(item.id)
	case retryContainerReconcile:
		err = s.r.RetryContainerReconcile(item.id)
	}

	if err == nil {
		s.q.Forget(item)
		return
	}
	if errs.Is(err, errs.InvalidInput) {
		// Pod or container no longer exists; nothing to retry.
		s.q.Forget(item)
		return
	}
	if s.log != nil {
		s.log.Debug("retry failed, requeueing with backoff",
			slog.String("id", item.id), slog.String("error", err.Error()))
	}
	s.q.AddRateLimited(item)
}

// RescanFailed returns a Fabric-compatible task that periodically walks
// the reconciler's current state and enqueues every Failed pod and
// Partial container, the scheduling half of retry_all_once (§4.8): the
// periodic sweep only discovers work, the rate-limited queue paces it.
func (s *Scheduler) RescanFailed(interval time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				pods, containers := s.r.Snapshot()
				for _, p := range pods {
					if p.Group == GroupFailed {
						s.EnqueueFailedPod(p.PodUID)
					}
				}
				for _, c := range containers {
					if c.Sync == SyncPartial {
						s.EnqueuePartialContainer(c.ContainerID)
					}
				}
			}
		}
	}
}
