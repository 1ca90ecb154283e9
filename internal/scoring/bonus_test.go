package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/pipeline-cli/internal/model"
)

func TestMultiInviteBonus(t *testing.T) {
	cfg := BonusConfig{AllOpened: 5, AllViewed: 8}

	tests := []struct {
		name       string
		stats      model.InviteStats
		wantOpened float64
		wantViewed float64
	}{
		{"no invites", model.InviteStats{}, 0, 0},
		{"single invite fully engaged", model.InviteStats{TotalInvites: 1, OpenedCount: 1, ViewedCount: 1}, 0, 0},
		{"all opened only", model.InviteStats{TotalInvites: 3, OpenedCount: 3, ViewedCount: 2}, 5, 0},
		{"all viewed only", model.InviteStats{TotalInvites: 3, OpenedCount: 2, ViewedCount: 3}, 0, 8},
		{"both earned", model.InviteStats{TotalInvites: 4, OpenedCount: 4, ViewedCount: 4}, 5, 8},
		{"partial engagement", model.InviteStats{TotalInvites: 5, OpenedCount: 3, ViewedCount: 1}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := multiInviteBonus(tt.stats, cfg)
			assert.Equal(t, tt.wantOpened, got.allOpened)
			assert.Equal(t, tt.wantViewed, got.allViewed)
		})
	}
}
