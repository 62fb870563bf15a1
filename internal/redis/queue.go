package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// MaxPriority bounds message priority; higher values are serviced first.
	MaxPriority = 1000

	// maxRedeliveries is the transport-level redelivery budget. It is
	// independent of the application retry counter notifications carry.
	maxRedeliveries = 3

	pollInterval = time.Second
)

// Message is the envelope stored on the queue.
type Message struct {
	ID           uuid.UUID       `json:"id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	Redeliveries int             `json:"redeliveries"`
}

type Handler func(ctx context.Context, msg Message) error

// Queue is a durable priority queue with dead-letter semantics. Higher
// priority pops first; ties break on enqueue time.
type Queue interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Consume(ctx context.Context, queue string, concurrency int, h Handler) error
}

type redisQueue struct {
	client       *redis.Client
	dlqRetention time.Duration
	log          *logrus.Entry
}

func NewRedisQueue(client *redis.Client, dlqRetention time.Duration, log *logrus.Entry) Queue {
	return &redisQueue{
		client:       client,
		dlqRetention: dlqRetention,
		log:          log,
	}
}

// score orders a sorted-set queue by descending priority, then enqueue time.
func score(msg Message) float64 {
	p := msg.Priority
	if p < 0 {
		p = 0
	}
	if p > MaxPriority {
		p = MaxPriority
	}
	return float64(MaxPriority-p)*1e13 + float64(msg.EnqueuedAt.UnixMilli())
}

func (q *redisQueue) Publish(ctx context.Context, queue string, msg Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	if err := q.client.ZAdd(ctx, queue, redis.Z{Score: score(msg), Member: data}).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume pops messages and feeds them to a bounded worker pool. It blocks
// until ctx is cancelled. A handler error counts against the redelivery
// budget; exhausted messages go to the dead-letter list.
func (q *redisQueue) Consume(ctx context.Context, queue string, concurrency int, h Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	work := make(chan Message, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range work {
				q.process(ctx, queue, msg, h)
			}
		}()
	}

	defer func() {
		close(work)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		popped, err := q.client.ZPopMin(ctx, queue, int64(concurrency)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.WithError(err).Warn("queue pop failed, backing off")
			sleepCtx(ctx, pollInterval)
			continue
		}

		if len(popped) == 0 {
			sleepCtx(ctx, pollInterval)
			continue
		}

		for _, z := range popped {
			raw, ok := z.Member.(string)
			if !ok {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				q.log.WithError(err).Error("dropping undecodable queue message")
				continue
			}
			select {
			case work <- msg:
			case <-ctx.Done():
				// Put it back so nothing is lost on shutdown.
				_ = q.Publish(context.Background(), queue, msg)
				return ctx.Err()
			}
		}
	}
}

func (q *redisQueue) process(ctx context.Context, queue string, msg Message, h Handler) {
	err := h(ctx, msg)
	if err == nil {
		return
	}

	msg.Redeliveries++
	if msg.Redeliveries > maxRedeliveries {
		q.log.WithError(err).WithFields(logrus.Fields{
			"message_id": msg.ID,
			"kind":       msg.Kind,
		}).Error("redelivery budget exhausted, dead-lettering message")
		q.deadLetter(ctx, queue, msg)
		return
	}

	q.log.WithError(err).WithFields(logrus.Fields{
		"message_id":   msg.ID,
		"redeliveries": msg.Redeliveries,
	}).Warn("handler failed, requeueing message")

	if pubErr := q.Publish(ctx, queue, msg); pubErr != nil {
		q.log.WithError(pubErr).Error("requeue failed, dead-lettering message")
		q.deadLetter(ctx, queue, msg)
	}
}

func (q *redisQueue) deadLetter(ctx context.Context, queue string, msg Message) {
	key := queue + ":dead"
	data, err := json.Marshal(msg)
	if err != nil {
		q.log.WithError(err).Error("marshal dead-letter message")
		return
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, q.dlqRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.WithError(err).WithField("message_id", msg.ID).Error("dead-letter push failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
