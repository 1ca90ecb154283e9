package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-cli/internal/model"
)

func fullMarksCallScores() *model.CallScores {
	return &model.CallScores{
		BudgetClarity: model.BudgetClear,
		Competition:   model.CompetitionNone,
		Engagement:    model.EngagementHigh,
		PlanFit:       model.PlanFitStrong,
	}
}

func TestBaseScoreDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultBaseScore = 42

	got, err := baseScore(nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestBaseScoreFullyCalibrated(t *testing.T) {
	// Weights sum to 100 and every chosen mapping is 1.0, so the base
	// score is exactly 100.
	got, err := baseScore(fullMarksCallScores(), DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got, 0.001)
}

func TestBaseScoreWeightedSum(t *testing.T) {
	cs := &model.CallScores{
		BudgetClarity: model.BudgetVague,    // 30 * 0.6 = 18
		Competition:   model.CompetitionMany, // 20 * 0.2 = 4
		Engagement:    model.EngagementMedium, // 25 * 0.6 = 15
		PlanFit:       model.PlanFitWeak,      // 25 * 0.4 = 10
	}
	got, err := baseScore(cs, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 47.0, got, 0.001)
}

func TestBaseScoreInvalidCategory(t *testing.T) {
	cs := fullMarksCallScores()
	cs.Engagement = model.Engagement("extreme")

	_, err := baseScore(cs, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engagement")
}

func TestBaseScoreMissingMappingEntry(t *testing.T) {
	// A value that passes enum validation but is absent from the tenant's
	// mapping table must fail fast, not default to zero points.
	cfg := DefaultConfig()
	delete(cfg.Mappings.PlanFit, string(model.PlanFitStrong))

	_, err := baseScore(fullMarksCallScores(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan_fit")
}
