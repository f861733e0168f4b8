package scheduler_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/repository/memstore"
	"github.com/unclebandit/outreach-engine/internal/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu   sync.Mutex
	jobs []string
	fail string
}

func (r *recorder) Publish(_ context.Context, topic string, job queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if topic == r.fail {
		return errors.New("broker unavailable")
	}
	r.jobs = append(r.jobs, topic+":"+job.ID)
	return nil
}

func (r *recorder) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.jobs...)
	sort.Strings(out)
	return out
}

var now = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, store repository.Store) {
	t.Helper()
	ctx := context.Background()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	require.NoError(t, store.Accounts.Create(ctx, &model.EmailAccount{ID: "acc-on", Enabled: true}))
	require.NoError(t, store.Accounts.Create(ctx, &model.EmailAccount{ID: "acc-off"}))

	for _, c := range []*model.Campaign{
		{ID: "due", Status: model.CampaignDraft, ScheduleType: model.ScheduleScheduled, ScheduledAt: &past},
		{ID: "later", Status: model.CampaignDraft, ScheduleType: model.ScheduleScheduled, ScheduledAt: &future},
		{ID: "running", Status: model.CampaignActive, AutoFollowup: true},
		{ID: "done", Status: model.CampaignCompleted, AutoFollowup: true},
		{ID: "quiet", Status: model.CampaignCompleted},
		{ID: "held", Status: model.CampaignPaused, AutoFollowup: true},
	} {
		require.NoError(t, store.Campaigns.Create(ctx, c))
	}
}

func newScheduler(t *testing.T, q scheduler.Publisher) (*scheduler.Scheduler, repository.Store) {
	store := memstore.New().Store()
	seed(t, store)
	s := scheduler.New(store, q, config.DefaultPolicy(), zaptest.NewLogger(t))
	s.Now = func() time.Time { return now }
	return s, store
}

func TestTick(t *testing.T) {
	q := &recorder{}
	s, store := newScheduler(t, q)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Launched)
	assert.Equal(t, []string{
		"account.ingest:acc-on",
		"campaign.followups:done",
		"campaign.followups:running",
		"campaign.process:due",
		"campaign.process:running",
	}, q.Jobs())

	due, err := store.Campaigns.GetByID(context.Background(), "due")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, due.Status)

	later, err := store.Campaigns.GetByID(context.Background(), "later")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, later.Status)

	// A launched campaign is not launched twice.
	res, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Launched)
}

func TestTick_PublishFailuresDoNotStopOtherJobs(t *testing.T) {
	q := &recorder{fail: queue.TopicCampaignFollowups}
	s, _ := newScheduler(t, q)

	res, err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Passes)
	assert.Equal(t, 1, res.Ingests)
}

func TestRun_StopsWithContext(t *testing.T) {
	q := &recorder{}
	s, _ := newScheduler(t, q)
	s.Policy.SchedulerInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(q.Jobs()) >= 10 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
