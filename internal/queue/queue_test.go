package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestQueue(t *testing.T) *InMemoryQueue {
	q := NewInMemoryQueue(zaptest.NewLogger(t))
	q.Backoff = func(int) time.Duration { return time.Millisecond }
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestInMemoryQueue_Deliver(t *testing.T) {
	q := newTestQueue(t)
	var mu sync.Mutex
	var got []string
	require.NoError(t, q.Subscribe(TopicCampaignProcess, func(_ context.Context, job Job) error {
		mu.Lock()
		got = append(got, job.ID)
		mu.Unlock()
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), TopicCampaignProcess, Job{ID: "c1"}))
	require.NoError(t, q.Publish(context.Background(), TopicCampaignProcess, Job{ID: "c2"}))
	q.Wait()

	assert.ElementsMatch(t, []string{"c1", "c2"}, got)
}

func TestInMemoryQueue_NoSubscribers(t *testing.T) {
	q := newTestQueue(t)
	err := q.Publish(context.Background(), TopicAccountIngest, Job{ID: "a1"})
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestInMemoryQueue_RetriesThenSucceeds(t *testing.T) {
	q := newTestQueue(t)
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(TopicCampaignFollowups, func(context.Context, Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), TopicCampaignFollowups, Job{ID: "c1"}))
	q.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestInMemoryQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := newTestQueue(t)
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(TopicCampaignProcess, func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("permanent")
	}))

	require.NoError(t, q.Publish(context.Background(), TopicCampaignProcess, Job{ID: "c1"}))
	q.Wait()
	assert.Equal(t, int32(DefaultMaxRetries+1), calls.Load())
}

func TestInMemoryQueue_CloseCancelsHandlers(t *testing.T) {
	q := NewInMemoryQueue(zaptest.NewLogger(t))
	started := make(chan struct{})
	require.NoError(t, q.Subscribe(TopicAccountIngest, func(ctx context.Context, _ Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, q.Publish(context.Background(), TopicAccountIngest, Job{ID: "a1"}))
	<-started
	require.NoError(t, q.Close())

	assert.Error(t, q.Publish(context.Background(), TopicAccountIngest, Job{ID: "a2"}))
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int64(3)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryHeader: "x"}))
}
