// Package scoring implements the pipeline deal-confidence scoring engine:
// a pure function from a deal snapshot to a 0-100 confidence score with an
// auditable penalty/bonus breakdown and weighted revenue projections.
package scoring

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// CallWeights holds the per-axis weights applied to call-score mappings.
// Each weight is a point budget in [0,100]; with mapping values in [0,1]
// a calibrated config lands base scores roughly in [0,100].
type CallWeights struct {
	BudgetClarity float64 `yaml:"budget_clarity" json:"budget_clarity" mapstructure:"budget_clarity"`
	Competition   float64 `yaml:"competition" json:"competition" mapstructure:"competition"`
	Engagement    float64 `yaml:"engagement" json:"engagement" mapstructure:"engagement"`
	PlanFit       float64 `yaml:"plan_fit" json:"plan_fit" mapstructure:"plan_fit"`
}

// CallMappings maps each categorical value to its point fraction per axis.
// Every enum value must have an entry; a missing entry is a config error
// caught by Validate, and an input value missing from the table is rejected
// at scoring time.
type CallMappings struct {
	BudgetClarity map[string]float64 `yaml:"budget_clarity" json:"budget_clarity" mapstructure:"budget_clarity"`
	Competition   map[string]float64 `yaml:"competition" json:"competition" mapstructure:"competition"`
	Engagement    map[string]float64 `yaml:"engagement" json:"engagement" mapstructure:"engagement"`
	PlanFit       map[string]float64 `yaml:"plan_fit" json:"plan_fit" mapstructure:"plan_fit"`
}

// PenaltyConfig parameterizes one time-decay penalty signal.
type PenaltyConfig struct {
	GraceDays    float64 `yaml:"grace_days" json:"grace_days" mapstructure:"grace_days"`
	DailyPenalty float64 `yaml:"daily_penalty" json:"daily_penalty" mapstructure:"daily_penalty"`
	MaxPenalty   float64 `yaml:"max_penalty" json:"max_penalty" mapstructure:"max_penalty"`
}

// SilencePenaltyConfig extends PenaltyConfig with follow-up acceleration:
// once the team has chased an unresponsive prospect past FollowupThreshold
// times, the daily rate is multiplied by AccelMultiplier.
type SilencePenaltyConfig struct {
	PenaltyConfig     `yaml:",inline" mapstructure:",squash"`
	FollowupThreshold int     `yaml:"followup_threshold" json:"followup_threshold" mapstructure:"followup_threshold"`
	AccelMultiplier   float64 `yaml:"accel_multiplier" json:"accel_multiplier" mapstructure:"accel_multiplier"`
}

// BonusConfig holds the multi-invite full-engagement bonuses.
type BonusConfig struct {
	AllOpened float64 `yaml:"all_opened" json:"all_opened" mapstructure:"all_opened"`
	AllViewed float64 `yaml:"all_viewed" json:"all_viewed" mapstructure:"all_viewed"`
}

// Config is the tenant-wide scoring configuration. It is loaded once,
// validated at load time, and passed into every scoring call; the engine
// never reads it from a global.
type Config struct {
	Weights           CallWeights          `yaml:"weights" json:"weights" mapstructure:"weights"`
	Mappings          CallMappings         `yaml:"mappings" json:"mappings" mapstructure:"mappings"`
	EmailNotOpened    PenaltyConfig        `yaml:"email_not_opened" json:"email_not_opened" mapstructure:"email_not_opened"`
	ProposalNotViewed PenaltyConfig        `yaml:"proposal_not_viewed" json:"proposal_not_viewed" mapstructure:"proposal_not_viewed"`
	Silence           SilencePenaltyConfig `yaml:"silence" json:"silence" mapstructure:"silence"`
	MultiInviteBonus  BonusConfig          `yaml:"multi_invite_bonus" json:"multi_invite_bonus" mapstructure:"multi_invite_bonus"`
	DefaultBaseScore  float64              `yaml:"default_base_score" json:"default_base_score" mapstructure:"default_base_score"`
}

// DefaultConfig returns a calibrated scoring configuration. Weights sum to
// 100 and mapping values are fractions in [0,1], so a fully positive call
// assessment scores 100 before penalties.
func DefaultConfig() Config {
	return Config{
		Weights: CallWeights{
			BudgetClarity: 30,
			Competition:   20,
			Engagement:    25,
			PlanFit:       25,
		},
		Mappings: CallMappings{
			BudgetClarity: map[string]float64{
				string(model.BudgetClear):    1.0,
				string(model.BudgetVague):    0.6,
				string(model.BudgetNone):     0.3,
				string(model.BudgetNoBudget): 0.0,
			},
			Competition: map[string]float64{
				string(model.CompetitionNone): 1.0,
				string(model.CompetitionSome): 0.6,
				string(model.CompetitionMany): 0.2,
			},
			Engagement: map[string]float64{
				string(model.EngagementHigh):   1.0,
				string(model.EngagementMedium): 0.6,
				string(model.EngagementLow):    0.2,
			},
			PlanFit: map[string]float64{
				string(model.PlanFitStrong): 1.0,
				string(model.PlanFitMedium): 0.7,
				string(model.PlanFitWeak):   0.4,
				string(model.PlanFitPoor):   0.1,
			},
		},
		EmailNotOpened: PenaltyConfig{
			GraceDays:    3,
			DailyPenalty: 5,
			MaxPenalty:   30,
		},
		ProposalNotViewed: PenaltyConfig{
			GraceDays:    5,
			DailyPenalty: 4,
			MaxPenalty:   25,
		},
		Silence: SilencePenaltyConfig{
			PenaltyConfig: PenaltyConfig{
				GraceDays:    5,
				DailyPenalty: 2,
				MaxPenalty:   40,
			},
			FollowupThreshold: 5,
			AccelMultiplier:   2,
		},
		MultiInviteBonus: BonusConfig{
			AllOpened: 5,
			AllViewed: 8,
		},
		DefaultBaseScore: 50,
	}
}

// LoadConfigFile reads tenant overrides from a YAML file on top of the
// defaults. An empty path returns the defaults unchanged. The result is
// validated before it is returned, so a broken tenant configuration is
// caught before any deal is scored with it.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "scoring: read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, eris.Wrapf(err, "scoring: parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, eris.Wrapf(err, "scoring: config %s", path)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent and that
// every categorical axis has a complete mapping table.
func (c Config) Validate() error {
	var errs []string

	weights := map[string]float64{
		"budget_clarity": c.Weights.BudgetClarity,
		"competition":    c.Weights.Competition,
		"engagement":     c.Weights.Engagement,
		"plan_fit":       c.Weights.PlanFit,
	}
	for name, w := range weights {
		if w < 0 || w > 100 {
			errs = append(errs, fmt.Sprintf("weight %s must be within [0,100], got %g", name, w))
		}
	}

	mappingAxes := []struct {
		name   string
		table  map[string]float64
		values []string
	}{
		{"budget_clarity", c.Mappings.BudgetClarity, []string{
			string(model.BudgetClear), string(model.BudgetVague),
			string(model.BudgetNone), string(model.BudgetNoBudget),
		}},
		{"competition", c.Mappings.Competition, []string{
			string(model.CompetitionNone), string(model.CompetitionSome), string(model.CompetitionMany),
		}},
		{"engagement", c.Mappings.Engagement, []string{
			string(model.EngagementHigh), string(model.EngagementMedium), string(model.EngagementLow),
		}},
		{"plan_fit", c.Mappings.PlanFit, []string{
			string(model.PlanFitStrong), string(model.PlanFitMedium),
			string(model.PlanFitWeak), string(model.PlanFitPoor),
		}},
	}
	for _, axis := range mappingAxes {
		if axis.table == nil {
			errs = append(errs, fmt.Sprintf("mapping table %s is missing", axis.name))
			continue
		}
		for _, v := range axis.values {
			if _, ok := axis.table[v]; !ok {
				errs = append(errs, fmt.Sprintf("mapping %s is missing entry %q", axis.name, v))
			}
		}
	}

	penalties := map[string]PenaltyConfig{
		"email_not_opened":    c.EmailNotOpened,
		"proposal_not_viewed": c.ProposalNotViewed,
		"silence":             c.Silence.PenaltyConfig,
	}
	for name, p := range penalties {
		if p.GraceDays < 0 {
			errs = append(errs, fmt.Sprintf("%s.grace_days must be >= 0", name))
		}
		if p.DailyPenalty < 0 {
			errs = append(errs, fmt.Sprintf("%s.daily_penalty must be >= 0", name))
		}
		if p.MaxPenalty < 0 {
			errs = append(errs, fmt.Sprintf("%s.max_penalty must be >= 0", name))
		}
	}
	if c.Silence.FollowupThreshold < 0 {
		errs = append(errs, "silence.followup_threshold must be >= 0")
	}
	if c.Silence.AccelMultiplier < 1 {
		errs = append(errs, "silence.accel_multiplier must be >= 1")
	}

	if c.MultiInviteBonus.AllOpened < 0 {
		errs = append(errs, "multi_invite_bonus.all_opened must be >= 0")
	}
	if c.MultiInviteBonus.AllViewed < 0 {
		errs = append(errs, "multi_invite_bonus.all_viewed must be >= 0")
	}

	if c.DefaultBaseScore < 0 || c.DefaultBaseScore > 100 {
		errs = append(errs, fmt.Sprintf("default_base_score must be within [0,100], got %g", c.DefaultBaseScore))
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Hash returns a short SHA-256 digest of the configuration so persisted
// scores can be traced back to the config that produced them.
func (c Config) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}
