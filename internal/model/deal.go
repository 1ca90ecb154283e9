package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DealStatus represents the lifecycle state of a pipeline deal.
type DealStatus string

const (
	DealStatusDraft      DealStatus = "draft"
	DealStatusSent       DealStatus = "sent"
	DealStatusAccepted   DealStatus = "accepted"
	DealStatusDeclined   DealStatus = "declined"
	DealStatusClosedLost DealStatus = "closed_lost"
)

// Valid reports whether s is a recognized deal status.
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusDraft, DealStatusSent, DealStatusAccepted, DealStatusDeclined, DealStatusClosedLost:
		return true
	}
	return false
}

// Open reports whether the deal is still in play and worth rescoring.
func (s DealStatus) Open() bool {
	return s == DealStatusDraft || s == DealStatusSent
}

// BudgetClarity is the rep's judgment of how well the prospect's budget is understood.
type BudgetClarity string

const (
	BudgetClear    BudgetClarity = "clear"
	BudgetVague    BudgetClarity = "vague"
	BudgetNone     BudgetClarity = "none"
	BudgetNoBudget BudgetClarity = "no_budget"
)

// Valid reports whether b is a recognized budget clarity value.
func (b BudgetClarity) Valid() bool {
	switch b {
	case BudgetClear, BudgetVague, BudgetNone, BudgetNoBudget:
		return true
	}
	return false
}

// Competition is the rep's judgment of competitive pressure on the deal.
type Competition string

const (
	CompetitionNone Competition = "none"
	CompetitionSome Competition = "some"
	CompetitionMany Competition = "many"
)

// Valid reports whether c is a recognized competition value.
func (c Competition) Valid() bool {
	switch c {
	case CompetitionNone, CompetitionSome, CompetitionMany:
		return true
	}
	return false
}

// Engagement is the rep's judgment of how engaged the prospect was on the call.
type Engagement string

const (
	EngagementHigh   Engagement = "high"
	EngagementMedium Engagement = "medium"
	EngagementLow    Engagement = "low"
)

// Valid reports whether e is a recognized engagement value.
func (e Engagement) Valid() bool {
	switch e {
	case EngagementHigh, EngagementMedium, EngagementLow:
		return true
	}
	return false
}

// PlanFit is the rep's judgment of how well the recommended plan fits the prospect.
type PlanFit string

const (
	PlanFitStrong PlanFit = "strong"
	PlanFitMedium PlanFit = "medium"
	PlanFitWeak   PlanFit = "weak"
	PlanFitPoor   PlanFit = "poor"
)

// Valid reports whether p is a recognized plan fit value.
func (p PlanFit) Valid() bool {
	switch p {
	case PlanFitStrong, PlanFitMedium, PlanFitWeak, PlanFitPoor:
		return true
	}
	return false
}

// CallScores holds the rep's four categorical judgments from the discovery call.
type CallScores struct {
	BudgetClarity BudgetClarity `json:"budget_clarity"`
	Competition   Competition   `json:"competition"`
	Engagement    Engagement    `json:"engagement"`
	PlanFit       PlanFit       `json:"plan_fit"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// Validate rejects call scores containing unrecognized categorical values.
// An unknown value is a data error, never a silent zero.
func (c *CallScores) Validate() error {
	if !c.BudgetClarity.Valid() {
		return eris.Errorf("model: invalid budget_clarity %q", string(c.BudgetClarity))
	}
	if !c.Competition.Valid() {
		return eris.Errorf("model: invalid competition %q", string(c.Competition))
	}
	if !c.Engagement.Valid() {
		return eris.Errorf("model: invalid engagement %q", string(c.Engagement))
	}
	if !c.PlanFit.Valid() {
		return eris.Errorf("model: invalid plan_fit %q", string(c.PlanFit))
	}
	return nil
}

// Deal is a pipeline deal: a priced recommendation sent to a prospect.
type Deal struct {
	ID               string     `json:"id"`
	Tenant           string     `json:"tenant"`
	Name             string     `json:"name"`
	Status           DealStatus `json:"status"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	SnoozedUntil     *time.Time `json:"snoozed_until,omitempty"`
	RevivedAt        *time.Time `json:"revived_at,omitempty"`
	PredictedMonthly float64    `json:"predicted_monthly"`
	PredictedOnetime float64    `json:"predicted_onetime"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// InviteMilestones holds the earliest engagement timestamp across all invitees.
// Any single stakeholder engaging counts as the deal reaching that milestone.
type InviteMilestones struct {
	FirstEmailOpenedAt    *time.Time `json:"first_email_opened_at,omitempty"`
	FirstAccountCreatedAt *time.Time `json:"first_account_created_at,omitempty"`
	FirstProposalViewedAt *time.Time `json:"first_proposal_viewed_at,omitempty"`
}

// InviteStats holds per-deal invite engagement counts.
type InviteStats struct {
	TotalInvites int `json:"total_invites"`
	OpenedCount  int `json:"opened_count"`
	AccountCount int `json:"account_count"`
	ViewedCount  int `json:"viewed_count"`
}

// Communications summarizes the message history between the team and the prospect.
// FollowupsSinceReply resets to zero whenever the prospect replies.
type Communications struct {
	LastInboundAt       *time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt      *time.Time `json:"last_outbound_at,omitempty"`
	FollowupsSinceReply int        `json:"followups_since_reply"`
}

// Invite is a stakeholder invited to view a deal's proposal. Engagement
// timestamps are nil until the corresponding event happens.
type Invite struct {
	ID               string     `json:"id"`
	DealID           string     `json:"deal_id"`
	Email            string     `json:"email"`
	OpenedAt         *time.Time `json:"opened_at,omitempty"`
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty"`
	ProposalViewedAt *time.Time `json:"proposal_viewed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CommDirection indicates who sent a message.
type CommDirection string

const (
	CommInbound  CommDirection = "inbound"  // prospect -> team
	CommOutbound CommDirection = "outbound" // team -> prospect
)

// Valid reports whether d is a recognized communication direction.
func (d CommDirection) Valid() bool {
	return d == CommInbound || d == CommOutbound
}

// DealScore is a persisted confidence-score record for a deal at a point in time.
type DealScore struct {
	ID              string             `json:"id"`
	DealID          string             `json:"deal_id"`
	Score           int                `json:"score"`
	BaseScore       float64            `json:"base_score"`
	TotalPenalties  float64            `json:"total_penalties"`
	TotalBonus      float64            `json:"total_bonus"`
	WeightedMonthly float64            `json:"weighted_monthly"`
	WeightedOnetime float64            `json:"weighted_onetime"`
	Breakdown       map[string]float64 `json:"breakdown,omitempty"`
	ConfigHash      string             `json:"config_hash,omitempty"`
	ScoredAt        time.Time          `json:"scored_at"`
}
