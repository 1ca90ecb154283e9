package scoring

import "github.com/sells-group/pipeline-cli/internal/model"

// bonusResult holds the two independent multi-invite bonus components.
type bonusResult struct {
	allOpened float64
	allViewed float64
}

// multiInviteBonus rewards full-team engagement on multi-stakeholder deals.
// Single-invite deals get nothing; the two bonuses are independent and
// additive, so a deal can earn both.
func multiInviteBonus(stats model.InviteStats, cfg BonusConfig) bonusResult {
	if stats.TotalInvites <= 1 {
		return bonusResult{}
	}
	var b bonusResult
	if stats.OpenedCount == stats.TotalInvites {
		b.allOpened = cfg.AllOpened
	}
	if stats.ViewedCount == stats.TotalInvites {
		b.allViewed = cfg.AllViewed
	}
	return b
}
