// Package queue carries background jobs between the API and the workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logging"
)

const (
	TopicCampaignProcess   = "campaign.process"
	TopicCampaignFollowups = "campaign.followups"
	TopicAccountIngest     = "account.ingest"
)

// DefaultMaxRetries is how many times a failed job is retried before it is dropped.
const DefaultMaxRetries = 3

// ErrNoSubscribers is returned by Publish on a topic nobody listens to.
var ErrNoSubscribers = errors.New("no subscribers")

// Job names the entity a handler works on: a campaign or an account.
type Job struct {
	ID string `json:"id"`
}

type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Publish(ctx context.Context, topic string, job Job) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// InMemoryQueue runs each published job on its own goroutine with linear
// backoff between retries.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	logger   *zap.Logger

	MaxRetries int
	Backoff    func(attempt int) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		logger:     logging.OrNop(logger),
		MaxRetries: DefaultMaxRetries,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*500) * time.Millisecond
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish hands job to every subscriber of topic.
func (q *InMemoryQueue) Publish(_ context.Context, topic string, job Job) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("publish %s: %w", topic, ErrNoSubscribers)
	}
	if q.ctx.Err() != nil {
		return fmt.Errorf("publish %s: queue closed", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.processJob(topic, handler, job)
		}()
	}
	return nil
}

func (q *InMemoryQueue) processJob(topic string, handler Handler, job Job) {
	for attempt := 0; ; attempt++ {
		err := handler(q.ctx, job)
		if err == nil {
			q.logger.Debug("job processed", zap.String("topic", topic), zap.String("id", job.ID))
			return
		}
		if attempt >= q.MaxRetries || q.ctx.Err() != nil {
			q.logger.Error("job permanently failed",
				zap.String("topic", topic), zap.String("id", job.ID),
				zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}
		q.logger.Warn("job failed, retrying",
			zap.String("topic", topic), zap.String("id", job.ID),
			zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-time.After(q.Backoff(attempt + 1)):
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Close cancels in-flight jobs and waits for them to return.
func (q *InMemoryQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
