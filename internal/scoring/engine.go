package scoring

import (
	"math"
	"time"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// Input is a consistent snapshot of everything the engine needs to score a
// deal. It is assembled externally (one read per deal); the engine performs
// no I/O and holds no state between calls.
type Input struct {
	Deal       model.Deal
	CallScores *model.CallScores // nil means no rep assessment yet
	Milestones model.InviteMilestones
	Invites    model.InviteStats
	Comms      model.Communications
}

// Breakdown component keys, used in Result.Breakdown and persisted records.
const (
	ComponentEmailNotOpened    = "email_not_opened"
	ComponentProposalNotViewed = "proposal_not_viewed"
	ComponentSilence           = "silence"
	ComponentMultiInviteBonus  = "multi_invite_bonus"
)

// Result is the sole output of a scoring call.
type Result struct {
	ConfidenceScore   int     `json:"confidence_score"`
	ConfidencePercent float64 `json:"confidence_percent"`
	WeightedMonthly   float64 `json:"weighted_monthly"`
	WeightedOnetime   float64 `json:"weighted_onetime"`
	BaseScore         float64 `json:"base_score"`
	TotalPenalties    float64 `json:"total_penalties"`
	TotalBonus        float64 `json:"total_bonus"`

	// Breakdown holds per-component point values for audit and UI display.
	// Penalties are positive; the multi-invite bonus is stored negative
	// (points subtracted from the penalty side).
	Breakdown map[string]float64 `json:"breakdown"`
}

// Engine computes deal-confidence scores from snapshots. It is safe for
// concurrent use: every call is an independent pure computation over its
// arguments and the immutable config.
type Engine struct {
	cfg Config
}

// New creates an Engine after validating cfg. A broken configuration is
// rejected here, once, rather than on every scoring call.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's scoring configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Score computes the confidence score for a deal snapshot as of now.
// The evaluation timestamp is passed explicitly so scoring is deterministic
// and replayable; the engine never reads the system clock.
//
// It returns an error only for invalid input (an unrecognized categorical
// value); missing timestamps mean the corresponding penalty is inapplicable
// and contribute zero.
func (e *Engine) Score(in Input, now time.Time) (*Result, error) {
	base, err := baseScore(in.CallScores, e.cfg)
	if err != nil {
		return nil, err
	}

	emailPenalty := decayPenalty(decayInput{
		now:          now,
		trigger:      in.Deal.SentAt,
		milestone:    in.Milestones.FirstEmailOpenedAt,
		revivedAt:    in.Deal.RevivedAt,
		snoozedUntil: in.Deal.SnoozedUntil,
	}, e.cfg.EmailNotOpened)

	proposalPenalty := decayPenalty(decayInput{
		now:          now,
		trigger:      in.Deal.SentAt,
		milestone:    in.Milestones.FirstProposalViewedAt,
		revivedAt:    in.Deal.RevivedAt,
		snoozedUntil: in.Deal.SnoozedUntil,
	}, e.cfg.ProposalNotViewed)

	silencePenalty := silenceDecayPenalty(decayInput{
		now:          now,
		trigger:      in.Comms.LastOutboundAt,
		milestone:    replyMilestone(in.Comms),
		revivedAt:    in.Deal.RevivedAt,
		snoozedUntil: in.Deal.SnoozedUntil,
	}, in.Comms.FollowupsSinceReply, e.cfg.Silence)

	bonus := multiInviteBonus(in.Invites, e.cfg.MultiInviteBonus)

	totalPenalties := emailPenalty + proposalPenalty + silencePenalty
	totalBonus := bonus.allOpened + bonus.allViewed

	raw := base - totalPenalties + totalBonus
	score := clampScore(raw)
	pct := float64(score) / 100

	return &Result{
		ConfidenceScore:   score,
		ConfidencePercent: pct,
		WeightedMonthly:   in.Deal.PredictedMonthly * pct,
		WeightedOnetime:   in.Deal.PredictedOnetime * pct,
		BaseScore:         base,
		TotalPenalties:    totalPenalties,
		TotalBonus:        totalBonus,
		Breakdown: map[string]float64{
			ComponentEmailNotOpened:    emailPenalty,
			ComponentProposalNotViewed: proposalPenalty,
			ComponentSilence:           silencePenalty,
			ComponentMultiInviteBonus:  -totalBonus,
		},
	}, nil
}

// replyMilestone returns the prospect's last reply when it answers the
// last outbound message. An inbound at or after the most recent outbound
// is the positive event that clears the silence signal; an inbound the
// team has since followed up on does not.
func replyMilestone(comms model.Communications) *time.Time {
	if comms.LastInboundAt == nil {
		return nil
	}
	if comms.LastOutboundAt != nil && comms.LastInboundAt.Before(*comms.LastOutboundAt) {
		return nil
	}
	return comms.LastInboundAt
}

// clampScore rounds the raw score and clamps it to [0,100].
func clampScore(raw float64) int {
	s := int(math.Round(raw))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
