package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-cli/internal/model"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"negative weight", func(c *Config) { c.Weights.Competition = -1 }, "competition"},
		{"weight above 100", func(c *Config) { c.Weights.BudgetClarity = 101 }, "budget_clarity"},
		{"missing mapping table", func(c *Config) { c.Mappings.Engagement = nil }, "engagement"},
		{"incomplete mapping table", func(c *Config) {
			delete(c.Mappings.BudgetClarity, string(model.BudgetVague))
		}, "vague"},
		{"negative grace", func(c *Config) { c.EmailNotOpened.GraceDays = -1 }, "grace_days"},
		{"negative daily penalty", func(c *Config) { c.ProposalNotViewed.DailyPenalty = -2 }, "daily_penalty"},
		{"negative cap", func(c *Config) { c.Silence.MaxPenalty = -5 }, "max_penalty"},
		{"multiplier below one", func(c *Config) { c.Silence.AccelMultiplier = 0.5 }, "accel_multiplier"},
		{"negative bonus", func(c *Config) { c.MultiInviteBonus.AllViewed = -3 }, "all_viewed"},
		{"default base out of range", func(c *Config) { c.DefaultBaseScore = 130 }, "default_base_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := LoadConfigFile("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("overrides merge onto defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scoring.yaml")
		data := []byte("default_base_score: 60\nemail_not_opened:\n  grace_days: 7\n  daily_penalty: 3\n  max_penalty: 21\n")
		require.NoError(t, os.WriteFile(path, data, 0o644))

		cfg, err := LoadConfigFile(path)
		require.NoError(t, err)
		assert.Equal(t, 60.0, cfg.DefaultBaseScore)
		assert.Equal(t, 7.0, cfg.EmailNotOpened.GraceDays)
		// Untouched sections keep their defaults.
		assert.Equal(t, DefaultConfig().Silence, cfg.Silence)
		assert.Equal(t, DefaultConfig().Weights, cfg.Weights)
	})

	t.Run("invalid override rejected at load time", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scoring.yaml")
		require.NoError(t, os.WriteFile(path, []byte("default_base_score: 400\n"), 0o644))

		_, err := LoadConfigFile(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFile("/nonexistent/scoring.yaml")
		require.Error(t, err)
	})
}

func TestConfigHash(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 32)

	b.DefaultBaseScore = 51
	assert.NotEqual(t, a.Hash(), b.Hash())
}
