package scoring

import (
	"math"
	"time"
)

const hoursPerDay = 24

// decayInput carries the timestamps one decay signal is evaluated against.
type decayInput struct {
	now          time.Time
	trigger      *time.Time // natural trigger for the signal (sent_at, last outbound)
	milestone    *time.Time // positive event that short-circuits the penalty
	revivedAt    *time.Time
	snoozedUntil *time.Time
}

// decayPenalty computes an age-based penalty for one risk signal: zero
// during the grace period, accruing daily afterwards, saturating at the cap.
//
// The reference timestamp is the latest of the trigger, the revival
// timestamp, and an expired snooze. Snooze policy: while a snooze is active
// (now before snoozed_until) the signal accrues nothing; once it expires,
// snoozed_until becomes the new accrual baseline, so the clock restarts with
// a fresh grace period. Note that snoozing therefore forgives penalty
// accrued before the snooze rather than freezing it: the computation is
// stateless over the current snapshot, so the pre-snooze accrual is not
// carried forward. A missing trigger means the penalty is inapplicable,
// not an error.
func decayPenalty(in decayInput, cfg PenaltyConfig) float64 {
	days, ok := penaltyDays(in, cfg.GraceDays)
	if !ok {
		return 0
	}
	return math.Min(days*cfg.DailyPenalty, cfg.MaxPenalty)
}

// silenceDecayPenalty is decayPenalty with follow-up acceleration: once the
// team has sent at least threshold follow-ups without a reply, post-grace
// days accrue at the accelerated rate. The cap applies to the final total
// regardless of acceleration.
func silenceDecayPenalty(in decayInput, followups int, cfg SilencePenaltyConfig) float64 {
	days, ok := penaltyDays(in, cfg.GraceDays)
	if !ok {
		return 0
	}
	rate := cfg.DailyPenalty
	if cfg.FollowupThreshold > 0 && followups >= cfg.FollowupThreshold {
		rate *= cfg.AccelMultiplier
	}
	return math.Min(days*rate, cfg.MaxPenalty)
}

// penaltyDays returns the number of penalty-accruing days past the grace
// period, or ok=false when the signal does not apply (milestone reached,
// no trigger, active snooze, or reference in the future).
func penaltyDays(in decayInput, graceDays float64) (float64, bool) {
	if in.milestone != nil {
		return 0, false
	}
	if in.trigger == nil {
		return 0, false
	}
	if in.snoozedUntil != nil && in.now.Before(*in.snoozedUntil) {
		return 0, false
	}

	ref := *in.trigger
	if in.revivedAt != nil && in.revivedAt.After(ref) {
		ref = *in.revivedAt
	}
	if in.snoozedUntil != nil && in.snoozedUntil.After(ref) {
		ref = *in.snoozedUntil
	}

	elapsed := in.now.Sub(ref)
	if elapsed <= 0 {
		return 0, false
	}
	days := elapsed.Hours() / hoursPerDay
	if days <= graceDays {
		return 0, false
	}
	return days - graceDays, true
}
