package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

func TestGetAnalytics(t *testing.T) {
	f := newFixture(t, draftAndLabel("interested"))
	ada := f.addLead("Ada", "Analytical Engines")
	bob := f.addLead("Bob", "Builders")
	cy := f.addLead("Cy", "Cyberdyne")
	dan := f.addLead("Dan", "Dynamo")
	f.transport.failFor[dan.Email] = true
	c := f.createCampaign(nil, ada, bob, cy, dan)
	ctx := context.Background()
	_, err := f.campaigns.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)

	f.reply(ada.Email, "<r1@analyticalengines.com>", "Love it.", time.Hour)
	f.clock.Advance(2 * time.Hour)
	_, err = f.inbound.Ingest(ctx, f.account.ID)
	require.NoError(t, err)

	a, err := f.analytics.GetAnalytics(ctx, workspace, "")
	require.NoError(t, err)
	assert.Equal(t, "30d", a.Timeframe)
	assert.Equal(t, 3, a.EmailsSent)
	assert.Equal(t, 1, a.EmailsFailed)
	assert.Equal(t, 1, a.Replies)
	assert.Equal(t, 33.33, a.ReplyRate)
	assert.Equal(t, 1, a.Sentiment["interested"])
	assert.Equal(t, 0, a.Sentiment["negative"])
	assert.Equal(t, 1, a.CampaignsByStat["completed"])

	f.clock.Advance(2 * day)
	recent, err := f.analytics.GetAnalytics(ctx, workspace, "24h")
	require.NoError(t, err)
	assert.Zero(t, recent.EmailsSent)
	assert.Zero(t, recent.ReplyRate)
	require.NotNil(t, recent.Since)
	assert.Equal(t, f.clock.Now().Add(-24*time.Hour), *recent.Since)

	all, err := f.analytics.GetAnalytics(ctx, workspace, "all")
	require.NoError(t, err)
	assert.Nil(t, all.Since)
	assert.Equal(t, 3, all.EmailsSent)

	other, err := f.analytics.GetAnalytics(ctx, "ws-2", "7d")
	require.NoError(t, err)
	assert.Zero(t, other.EmailsSent)
}

func TestGetAnalytics_Validation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.analytics.GetAnalytics(context.Background(), workspace, "1y")
	assert.True(t, appErrors.IsValidation(err))
	_, err = f.analytics.GetAnalytics(context.Background(), "", "7d")
	assert.True(t, appErrors.IsValidation(err))
}
