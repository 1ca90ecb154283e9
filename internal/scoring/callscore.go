package scoring

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// baseScore converts the rep's categorical judgments into the pre-penalty
// base score. When no assessment exists yet, the configured default is used
// unchanged. The mapping tables are assumed calibrated by the operator so
// realistic combinations land roughly in [0,100]; out-of-range sums pass
// through and rely on the final clamp.
func baseScore(cs *model.CallScores, cfg Config) (float64, error) {
	if cs == nil {
		return cfg.DefaultBaseScore, nil
	}
	if err := cs.Validate(); err != nil {
		return 0, err
	}

	var sum float64
	axes := []struct {
		name   string
		value  string
		weight float64
		table  map[string]float64
	}{
		{"budget_clarity", string(cs.BudgetClarity), cfg.Weights.BudgetClarity, cfg.Mappings.BudgetClarity},
		{"competition", string(cs.Competition), cfg.Weights.Competition, cfg.Mappings.Competition},
		{"engagement", string(cs.Engagement), cfg.Weights.Engagement, cfg.Mappings.Engagement},
		{"plan_fit", string(cs.PlanFit), cfg.Weights.PlanFit, cfg.Mappings.PlanFit},
	}
	for _, axis := range axes {
		pts, ok := axis.table[axis.value]
		if !ok {
			// A value outside the configured table would otherwise become a
			// silent zero and corrupt projections undetected.
			return 0, eris.Errorf("scoring: no %s mapping for value %q", axis.name, axis.value)
		}
		sum += axis.weight * pts
	}
	return sum, nil
}
