package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/service"
)

const day = 24 * time.Hour

func withFollowups(in *service.CreateCampaignInput) {
	in.AutoFollowup = true
	in.DripIntervalDays = 3
	in.MaxFollowups = 3
}

func TestScheduleFollowups_ThreadsUntilCeiling(t *testing.T) {
	f := newFixture(t, nil)
	ada := f.addLead("Ada", "Analytical Engines")
	c := f.createCampaign(withFollowups, ada)
	ctx := context.Background()
	_, err := f.campaigns.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	original := f.sentWithStatus(model.SentOK)[0]

	// Not due yet.
	f.clock.Advance(2 * day)
	res, err := f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)

	f.clock.Advance(day)
	res, err = f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	sent := f.transport.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Re: "+original.Subject, sent[1].Subject)
	assert.Equal(t, original.MessageID, sent[1].InReplyTo)
	assert.Equal(t, ada.Email, sent[1].To)

	records := f.sentWithStatus(model.SentOK)
	require.Len(t, records, 2)
	assert.Equal(t, original.ThreadID, records[1].ThreadID)

	f.clock.Advance(3 * day)
	res, err = f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, records[1].MessageID, f.transport.Sent()[2].InReplyTo)

	// The thread now holds max_followups messages.
	f.clock.Advance(3 * day)
	res, err = f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, f.transport.Sent(), 3)
}

func TestScheduleFollowups_SkipsRepliedLeads(t *testing.T) {
	f := newFixture(t, nil)
	ada := f.addLead("Ada", "Analytical Engines")
	bob := f.addLead("Bob", "Builders")
	c := f.createCampaign(withFollowups, ada, bob)
	ctx := context.Background()
	_, err := f.campaigns.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.Leads.RecordReply(ctx, ada.ID, model.LeadReplied, f.clock.Now()))

	f.clock.Advance(3 * day)
	res, err := f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Skipped)

	sent := f.transport.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, bob.Email, sent[2].To)
}

func TestScheduleFollowups_PauseStopsRemainingSends(t *testing.T) {
	f := newFixture(t, nil)
	ada := f.addLead("Ada", "Analytical Engines")
	bob := f.addLead("Bob", "Builders")
	cy := f.addLead("Cy", "Cyberdyne")
	c := f.createCampaign(withFollowups, ada, bob, cy)
	ctx := context.Background()
	_, err := f.campaigns.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, f.transport.Sent(), 3)

	sentAtPause := -1
	f.followups.Sleep = func(context.Context, time.Duration) error {
		sentAtPause = len(f.transport.Sent())
		_, err := f.store.Campaigns.SetStatus(ctx, c.ID, nil, model.CampaignPaused,
			map[string]string{model.MetaPauseReason: model.PauseReasonManual})
		return err
	}

	f.clock.Advance(3 * day)
	res, err := f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 1, res.Sent)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 4, sentAtPause)
	assert.Len(t, f.transport.Sent(), 4)
}

func TestScheduleFollowups_RepliedThreadIsNotACandidate(t *testing.T) {
	f := newFixture(t, draftAndLabel("neutral"))
	ada := f.addLead("Ada", "Analytical Engines")
	c := f.createCampaign(withFollowups, ada)
	ctx := context.Background()
	_, err := f.campaigns.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)

	f.reply(ada.Email, "<r1@analyticalengines.com>", "Not now, maybe later.", time.Hour)
	f.clock.Advance(2 * time.Hour)
	_, err = f.inbound.Ingest(ctx, f.account.ID)
	require.NoError(t, err)

	f.clock.Advance(5 * day)
	res, err := f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Len(t, f.transport.Sent(), 1)
}

func TestScheduleFollowups_DisabledOrInactive(t *testing.T) {
	f := newFixture(t, nil)
	ada := f.addLead("Ada", "Analytical Engines")
	bob := f.addLead("Bob", "Builders")
	ctx := context.Background()

	off := f.createCampaign(nil, ada)
	_, err := f.campaigns.ProcessCampaign(ctx, off.ID)
	require.NoError(t, err)

	paused := f.createCampaign(withFollowups, bob)
	_, err = f.campaigns.ProcessCampaign(ctx, paused.ID)
	require.NoError(t, err)
	_, err = f.store.Campaigns.SetStatus(ctx, paused.ID, nil, model.CampaignPaused, nil)
	require.NoError(t, err)

	f.clock.Advance(10 * day)
	for _, id := range []string{off.ID, paused.ID} {
		res, err := f.followups.ScheduleFollowups(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, res.Candidates)
	}
	assert.Len(t, f.transport.Sent(), 2)
}

func TestScheduleFollowups_DefersAtDailyLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.account = f.connect(2)
	ada := f.addLead("Ada", "Analytical Engines")
	bob := f.addLead("Bob", "Builders")
	c := f.createCampaign(withFollowups, ada, bob)
	ctx := context.Background()
	_, err := f.campaigns.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)

	f.clock.Advance(3 * day)
	// Something else used today's quota.
	require.NoError(t, f.store.Sent.Create(ctx, &model.SentMessage{
		AccountID: f.account.ID, ToEmail: "x@y.com", ThreadID: "t", Status: model.SentOK, SentAt: f.clock.Now(),
	}))

	res, err := f.followups.ScheduleFollowups(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.True(t, res.Deferred)
}

func TestScheduleFollowups_SingleFlight(t *testing.T) {
	f := newFixture(t, nil)
	ada := f.addLead("Ada", "Analytical Engines")
	c := f.createCampaign(withFollowups, ada)
	ctx := context.Background()

	release, ok, err := f.locks.TryAcquire(ctx, "followups:"+c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = f.followups.ScheduleFollowups(ctx, c.ID)
	assert.ErrorIs(t, err, appErrors.ErrCampaignBusy)
}
