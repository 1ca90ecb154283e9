package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestDeal(t *testing.T, st *SQLiteStore, name string, status model.DealStatus) *model.Deal {
	t.Helper()
	deal, err := st.CreateDeal(context.Background(), model.Deal{
		Tenant:           "acme",
		Name:             name,
		Status:           status,
		PredictedMonthly: 2000,
		PredictedOnetime: 5000,
	})
	require.NoError(t, err)
	return deal
}

// --- Deals ---

func TestSQLite_CreateDeal_And_GetDeal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "Acme onboarding", model.DealStatusDraft)
	assert.NotEmpty(t, deal.ID)

	fetched, err := st.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, deal.ID, fetched.ID)
	assert.Equal(t, "Acme onboarding", fetched.Name)
	assert.Equal(t, model.DealStatusDraft, fetched.Status)
	assert.Equal(t, 2000.0, fetched.PredictedMonthly)
	assert.Nil(t, fetched.SentAt)
}

func TestSQLite_GetDeal_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetDeal(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_UpdateDealStatus_SetsSentAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "Acme onboarding", model.DealStatusDraft)

	sentAt := time.Now().UTC().Truncate(time.Second)
	err := st.UpdateDealStatus(ctx, deal.ID, model.DealStatusSent, &sentAt)
	require.NoError(t, err)

	fetched, err := st.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealStatusSent, fetched.Status)
	require.NotNil(t, fetched.SentAt)

	// A later status change without a send timestamp keeps the original one.
	err = st.UpdateDealStatus(ctx, deal.ID, model.DealStatusAccepted, nil)
	require.NoError(t, err)

	fetched, err = st.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealStatusAccepted, fetched.Status)
	require.NotNil(t, fetched.SentAt)
}

func TestSQLite_UpdateDealStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateDealStatus(context.Background(), "missing", model.DealStatusSent, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_ListOpenDeals_ExcludesClosed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	createTestDeal(t, st, "draft deal", model.DealStatusDraft)
	createTestDeal(t, st, "sent deal", model.DealStatusSent)
	closed := createTestDeal(t, st, "won deal", model.DealStatusDraft)
	require.NoError(t, st.UpdateDealStatus(ctx, closed.ID, model.DealStatusAccepted, nil))

	deals, err := st.ListOpenDeals(ctx, DealFilter{})
	require.NoError(t, err)
	assert.Len(t, deals, 2)
}

func TestSQLite_ListOpenDeals_FilterAndLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	createTestDeal(t, st, "a", model.DealStatusDraft)
	createTestDeal(t, st, "b", model.DealStatusSent)
	createTestDeal(t, st, "c", model.DealStatusSent)

	deals, err := st.ListOpenDeals(ctx, DealFilter{Status: model.DealStatusSent})
	require.NoError(t, err)
	assert.Len(t, deals, 2)

	deals, err = st.ListOpenDeals(ctx, DealFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}

// --- Call scores ---

func TestSQLite_SaveCallScores_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "Acme onboarding", model.DealStatusSent)

	err := st.SaveCallScores(ctx, deal.ID, model.CallScores{
		BudgetClarity: model.BudgetVague,
		Competition:   model.CompetitionMany,
		Engagement:    model.EngagementLow,
		PlanFit:       model.PlanFitWeak,
	})
	require.NoError(t, err)

	// Second save replaces the first assessment.
	err = st.SaveCallScores(ctx, deal.ID, model.CallScores{
		BudgetClarity: model.BudgetClear,
		Competition:   model.CompetitionNone,
		Engagement:    model.EngagementHigh,
		PlanFit:       model.PlanFitStrong,
	})
	require.NoError(t, err)

	in, err := st.LoadScoringInput(ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, in.CallScores)
	assert.Equal(t, model.BudgetClear, in.CallScores.BudgetClarity)
	assert.Equal(t, model.PlanFitStrong, in.CallScores.PlanFit)
}

func TestSQLite_SaveCallScores_InvalidCategory(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveCallScores(context.Background(), "deal-1", model.CallScores{
		BudgetClarity: model.BudgetClear,
		Competition:   "fierce",
		Engagement:    model.EngagementHigh,
		PlanFit:       model.PlanFitStrong,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "competition")
}

// --- Scoring snapshot ---

func TestSQLite_LoadScoringInput_EmptyDeal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "fresh", model.DealStatusDraft)

	in, err := st.LoadScoringInput(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, deal.ID, in.Deal.ID)
	assert.Nil(t, in.CallScores)
	assert.Zero(t, in.Invites.TotalInvites)
	assert.Nil(t, in.Milestones.FirstEmailOpenedAt)
	assert.Nil(t, in.Comms.LastOutboundAt)
	assert.Zero(t, in.Comms.FollowupsSinceReply)
}

func TestSQLite_LoadScoringInput_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.LoadScoringInput(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_LoadScoringInput_InviteAggregates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "Acme onboarding", model.DealStatusSent)

	base := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	firstOpen := base.Add(1 * time.Hour)
	laterOpen := base.Add(5 * time.Hour)
	viewed := base.Add(8 * time.Hour)

	_, err := st.AddInvite(ctx, model.Invite{
		DealID: deal.ID, Email: "cfo@acme.com",
		OpenedAt: &laterOpen, ProposalViewedAt: &viewed,
	})
	require.NoError(t, err)
	_, err = st.AddInvite(ctx, model.Invite{
		DealID: deal.ID, Email: "ceo@acme.com",
		OpenedAt: &firstOpen,
	})
	require.NoError(t, err)
	_, err = st.AddInvite(ctx, model.Invite{DealID: deal.ID, Email: "ops@acme.com"})
	require.NoError(t, err)

	in, err := st.LoadScoringInput(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, in.Invites.TotalInvites)
	assert.Equal(t, 2, in.Invites.OpenedCount)
	assert.Equal(t, 1, in.Invites.ViewedCount)
	require.NotNil(t, in.Milestones.FirstEmailOpenedAt)
	assert.True(t, in.Milestones.FirstEmailOpenedAt.Equal(firstOpen),
		"first open milestone should be the earliest open across invites")
	require.NotNil(t, in.Milestones.FirstProposalViewedAt)
	assert.True(t, in.Milestones.FirstProposalViewedAt.Equal(viewed))
	assert.Nil(t, in.Milestones.FirstAccountCreatedAt)
}

func TestSQLite_LoadScoringInput_FollowupsSinceReply(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "Acme onboarding", model.DealStatusSent)

	base := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordCommunication(ctx, deal.ID, model.CommOutbound, base))
	require.NoError(t, st.RecordCommunication(ctx, deal.ID, model.CommInbound, base.Add(24*time.Hour)))
	require.NoError(t, st.RecordCommunication(ctx, deal.ID, model.CommOutbound, base.Add(48*time.Hour)))
	require.NoError(t, st.RecordCommunication(ctx, deal.ID, model.CommOutbound, base.Add(96*time.Hour)))

	in, err := st.LoadScoringInput(ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, in.Comms.LastInboundAt)
	require.NotNil(t, in.Comms.LastOutboundAt)
	assert.True(t, in.Comms.LastOutboundAt.Equal(base.Add(96*time.Hour)))
	assert.Equal(t, 2, in.Comms.FollowupsSinceReply,
		"only outbound touches after the last reply count as follow-ups")
}

// --- Scores ---

func TestSQLite_SaveScore_And_LatestScore(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "Acme onboarding", model.DealStatusSent)

	_, err := st.SaveScore(ctx, model.DealScore{
		DealID:          deal.ID,
		Score:           42,
		BaseScore:       50,
		TotalPenalties:  8,
		WeightedMonthly: 840,
		WeightedOnetime: 2100,
		Breakdown:       map[string]float64{"email_not_opened": 8},
		ConfigHash:      "abc123",
		ScoredAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = st.SaveScore(ctx, model.DealScore{
		DealID:     deal.ID,
		Score:      60,
		BaseScore:  60,
		ConfigHash: "abc123",
		ScoredAt:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	latest, err := st.LatestScore(ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 60, latest.Score)
}

func TestSQLite_LatestScore_None(t *testing.T) {
	st := newTestSQLiteStore(t)

	sc, err := st.LatestScore(context.Background(), "never-scored")
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestSQLite_LatestScore_BreakdownRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	deal := createTestDeal(t, st, "Acme onboarding", model.DealStatusSent)

	_, err := st.SaveScore(ctx, model.DealScore{
		DealID: deal.ID,
		Score:  55,
		Breakdown: map[string]float64{
			"silence":            10,
			"multi_invite_bonus": -5,
		},
	})
	require.NoError(t, err)

	latest, err := st.LatestScore(ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 10.0, latest.Breakdown["silence"])
	assert.Equal(t, -5.0, latest.Breakdown["multi_invite_bonus"])
}

func TestSQLite_SaveScores_Bulk(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d1 := createTestDeal(t, st, "a", model.DealStatusSent)
	d2 := createTestDeal(t, st, "b", model.DealStatusSent)

	n, err := st.SaveScores(ctx, []model.DealScore{
		{DealID: d1.ID, Score: 40},
		{DealID: d2.ID, Score: 75},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	latest, err := st.LatestScore(ctx, d2.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 75, latest.Score)
}

func TestSQLite_SaveScores_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.SaveScores(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	// Migrate already ran in newTestSQLiteStore; a second run must not error.
	require.NoError(t, st.Migrate(context.Background()))
}
