package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/carebridge/scheduling-service/internal/metrics"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

// Scheduler moves due notifications from the table onto the dispatch queue
// and sweeps failed records back into rotation once their cooldown passes.
type Scheduler struct {
	repo          Repository
	queue         redisclient.Queue
	queueName     string
	lookahead     time.Duration // selection window; normally the pass interval
	batchSize     int
	retryCooldown time.Duration
	log           *logrus.Entry
	now           func() time.Time
}

func NewScheduler(repo Repository, queue redisclient.Queue, queueName string, lookahead time.Duration, batchSize int, retryCooldown time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		repo:          repo,
		queue:         queue,
		queueName:     queueName,
		lookahead:     lookahead,
		batchSize:     batchSize,
		retryCooldown: retryCooldown,
		log:           log,
		now:           time.Now,
	}
}

// RunOnce performs a single scheduling pass. Each selected record is flipped
// pending -> queued before its dispatch message is published; a failed
// publish moves the record to failed with the error attached rather than
// leaving it stranded in a state the selector will never revisit.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now()

	due, err := s.repo.SelectDue(ctx, now.Add(s.lookahead), s.batchSize)
	if err != nil {
		return fmt.Errorf("select due notifications: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	queued := 0
	for _, rec := range due {
		ok, err := s.repo.MarkQueued(ctx, rec.ID)
		if err != nil {
			s.log.WithError(err).WithField("notification_id", rec.ID).Error("mark queued failed")
			continue
		}
		if !ok {
			// Another pass or an operator got there first.
			continue
		}

		if err := s.publish(ctx, rec); err != nil {
			s.log.WithError(err).WithField("notification_id", rec.ID).Error("publish failed")
			if markErr := s.repo.MarkFailed(ctx, rec.ID, fmt.Sprintf("queue publish: %v", err)); markErr != nil {
				s.log.WithError(markErr).WithField("notification_id", rec.ID).Error("mark failed after bad publish")
			}
			continue
		}

		metrics.NotificationsScheduled.Inc()
		queued++
	}

	s.log.WithFields(logrus.Fields{
		"selected": len(due),
		"queued":   queued,
	}).Debug("scheduling pass complete")

	return nil
}

// SweepRetries resets failed records still under the attempt budget whose
// cooldown has elapsed; they become pending with send time now and are
// picked up by the next pass. Records stranded in queued by a crash between
// the status flip and the publish are returned to pending the same way.
func (s *Scheduler) SweepRetries(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.retryCooldown)

	n, err := s.repo.SweepFailed(ctx, cutoff, MaxAttempts, now)
	if err != nil {
		return 0, fmt.Errorf("retry sweep: %w", err)
	}
	if n > 0 {
		s.log.WithField("reset", n).Info("retry sweep requeued failed notifications")
	}

	stuck, err := s.repo.SweepStuckQueued(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("stuck-queued sweep: %w", err)
	}
	if stuck > 0 {
		s.log.WithField("reset", stuck).Warn("returned stranded queued notifications to pending")
	}

	return n + stuck, nil
}

func (s *Scheduler) publish(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(DispatchMessage{
		NotificationID: rec.ID,
		TenantID:       rec.TenantID,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch message: %w", err)
	}

	return s.queue.Publish(ctx, s.queueName, redisclient.Message{
		Kind:     "notification.dispatch",
		Payload:  payload,
		Priority: rec.Priority,
	})
}
