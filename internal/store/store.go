// Package store persists pipeline deals and their confidence scores, and
// assembles the consistent snapshots the scoring engine consumes.
package store

import (
	"context"
	"time"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/scoring"
)

// DealFilter specifies criteria for listing deals.
type DealFilter struct {
	Status model.DealStatus `json:"status,omitempty"`
	Tenant string           `json:"tenant,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scoring pipeline.
type Store interface {
	// Deals
	CreateDeal(ctx context.Context, deal model.Deal) (*model.Deal, error)
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)
	UpdateDealStatus(ctx context.Context, dealID string, status model.DealStatus, sentAt *time.Time) error
	ListOpenDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error)

	// Telemetry feeding the scoring snapshot
	SaveCallScores(ctx context.Context, dealID string, cs model.CallScores) error
	AddInvite(ctx context.Context, invite model.Invite) (*model.Invite, error)
	RecordCommunication(ctx context.Context, dealID string, direction model.CommDirection, at time.Time) error

	// Scoring
	LoadScoringInput(ctx context.Context, dealID string) (*scoring.Input, error)
	SaveScore(ctx context.Context, score model.DealScore) (*model.DealScore, error)
	SaveScores(ctx context.Context, scores []model.DealScore) (int64, error)
	LatestScore(ctx context.Context, dealID string) (*model.DealScore, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
