package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-cli/internal/db"
	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/scoring"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlInsertScore = `INSERT INTO deal_scores
		(id, deal_id, score, base_score, total_penalties, total_bonus,
		 weighted_monthly, weighted_onetime, breakdown, config_hash, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	sqlLatestScore = `SELECT id, deal_id, score, base_score, total_penalties, total_bonus,
		 weighted_monthly, weighted_onetime, breakdown, config_hash, scored_at
		FROM deal_scores WHERE deal_id = $1 ORDER BY scored_at DESC LIMIT 1`
)

// preparedStatements lists queries prepared on each new connection; these
// are the hot paths of the daily sweep.
var preparedStatements = map[string]string{
	"insert_score": sqlInsertScore,
	"latest_score": sqlLatestScore,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id                TEXT PRIMARY KEY,
	tenant            TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'draft',
	sent_at           TIMESTAMPTZ,
	snoozed_until     TIMESTAMPTZ,
	revived_at        TIMESTAMPTZ,
	predicted_monthly DOUBLE PRECISION NOT NULL DEFAULT 0,
	predicted_onetime DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS call_scores (
	deal_id        TEXT PRIMARY KEY REFERENCES deals(id),
	budget_clarity TEXT NOT NULL,
	competition    TEXT NOT NULL,
	engagement     TEXT NOT NULL,
	plan_fit       TEXT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS invites (
	id                 TEXT PRIMARY KEY,
	deal_id            TEXT NOT NULL REFERENCES deals(id),
	email              TEXT NOT NULL,
	opened_at          TIMESTAMPTZ,
	account_created_at TIMESTAMPTZ,
	proposal_viewed_at TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS communications (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL REFERENCES deals(id),
	direction   TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS deal_scores (
	id               TEXT PRIMARY KEY,
	deal_id          TEXT NOT NULL REFERENCES deals(id),
	score            INTEGER NOT NULL,
	base_score       DOUBLE PRECISION NOT NULL,
	total_penalties  DOUBLE PRECISION NOT NULL,
	total_bonus      DOUBLE PRECISION NOT NULL,
	weighted_monthly DOUBLE PRECISION NOT NULL,
	weighted_onetime DOUBLE PRECISION NOT NULL,
	breakdown        JSONB,
	config_hash      TEXT NOT NULL DEFAULT '',
	scored_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);
CREATE INDEX IF NOT EXISTS idx_deals_tenant ON deals(tenant);
CREATE INDEX IF NOT EXISTS idx_invites_deal_id ON invites(deal_id);
CREATE INDEX IF NOT EXISTS idx_communications_deal_id ON communications(deal_id, direction, occurred_at);
CREATE INDEX IF NOT EXISTS idx_deal_scores_deal_id ON deal_scores(deal_id, scored_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateDeal(ctx context.Context, deal model.Deal) (*model.Deal, error) {
	if !deal.Status.Valid() {
		return nil, eris.Errorf("postgres: invalid deal status %q", string(deal.Status))
	}
	if deal.ID == "" {
		deal.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	deal.CreatedAt = now
	deal.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO deals (id, tenant, name, status, sent_at, snoozed_until, revived_at,
			predicted_monthly, predicted_onetime, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		deal.ID, deal.Tenant, deal.Name, string(deal.Status),
		deal.SentAt, deal.SnoozedUntil, deal.RevivedAt,
		deal.PredictedMonthly, deal.PredictedOnetime, deal.CreatedAt, deal.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert deal")
	}
	return &deal, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant, name, status, sent_at, snoozed_until, revived_at,
			predicted_monthly, predicted_onetime, created_at, updated_at
		FROM deals WHERE id = $1`, dealID)

	var d model.Deal
	err := row.Scan(&d.ID, &d.Tenant, &d.Name, &d.Status, &d.SentAt, &d.SnoozedUntil,
		&d.RevivedAt, &d.PredictedMonthly, &d.PredictedOnetime, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("postgres: deal %s not found", dealID)
		}
		return nil, eris.Wrapf(err, "postgres: get deal %s", dealID)
	}
	return &d, nil
}

func (s *PostgresStore) UpdateDealStatus(ctx context.Context, dealID string, status model.DealStatus, sentAt *time.Time) error {
	if !status.Valid() {
		return eris.Errorf("postgres: invalid deal status %q", string(status))
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE deals SET status = $1, sent_at = COALESCE($2, sent_at), updated_at = $3 WHERE id = $4`,
		string(status), sentAt, time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update deal status %s", dealID)
	}
	return checkRowsAffected(tag, "deal", dealID)
}

func (s *PostgresStore) ListOpenDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error) {
	query := `
		SELECT id, tenant, name, status, sent_at, snoozed_until, revived_at,
			predicted_monthly, predicted_onetime, created_at, updated_at
		FROM deals WHERE status IN ('draft', 'sent')`
	args := []any{}
	argNum := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filter.Status))
		argNum++
	}
	if filter.Tenant != "" {
		query += fmt.Sprintf(" AND tenant = $%d", argNum)
		args = append(args, filter.Tenant)
		argNum++
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		var d model.Deal
		err := rows.Scan(&d.ID, &d.Tenant, &d.Name, &d.Status, &d.SentAt, &d.SnoozedUntil,
			&d.RevivedAt, &d.PredictedMonthly, &d.PredictedOnetime, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate deals")
	}
	return deals, nil
}

func (s *PostgresStore) SaveCallScores(ctx context.Context, dealID string, cs model.CallScores) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	recordedAt := cs.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_scores (deal_id, budget_clarity, competition, engagement, plan_fit, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (deal_id) DO UPDATE SET
			budget_clarity = EXCLUDED.budget_clarity,
			competition = EXCLUDED.competition,
			engagement = EXCLUDED.engagement,
			plan_fit = EXCLUDED.plan_fit,
			recorded_at = EXCLUDED.recorded_at`,
		dealID, string(cs.BudgetClarity), string(cs.Competition),
		string(cs.Engagement), string(cs.PlanFit), recordedAt,
	)
	return eris.Wrapf(err, "postgres: save call scores for deal %s", dealID)
}

func (s *PostgresStore) AddInvite(ctx context.Context, invite model.Invite) (*model.Invite, error) {
	if invite.ID == "" {
		invite.ID = uuid.New().String()
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invites (id, deal_id, email, opened_at, account_created_at, proposal_viewed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		invite.ID, invite.DealID, invite.Email,
		invite.OpenedAt, invite.AccountCreatedAt, invite.ProposalViewedAt, invite.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert invite for deal %s", invite.DealID)
	}
	return &invite, nil
}

func (s *PostgresStore) RecordCommunication(ctx context.Context, dealID string, direction model.CommDirection, at time.Time) error {
	if !direction.Valid() {
		return eris.Errorf("postgres: invalid communication direction %q", string(direction))
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO communications (id, deal_id, direction, occurred_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), dealID, string(direction), at,
	)
	return eris.Wrapf(err, "postgres: record communication for deal %s", dealID)
}

// loadInputQuery assembles the whole scoring snapshot in one consistent
// read: deal state, call scores, invite milestone/count aggregates, and
// communication aggregates including the follow-up count since the last
// inbound reply.
const loadInputQuery = `
WITH invite_agg AS (
	SELECT deal_id,
		COUNT(*) AS total,
		COUNT(opened_at) AS opened,
		COUNT(account_created_at) AS accounts,
		COUNT(proposal_viewed_at) AS viewed,
		MIN(opened_at) AS first_opened,
		MIN(account_created_at) AS first_account,
		MIN(proposal_viewed_at) AS first_viewed
	FROM invites
	WHERE deal_id = $1
	GROUP BY deal_id
),
comm_agg AS (
	SELECT deal_id,
		MAX(occurred_at) FILTER (WHERE direction = 'inbound') AS last_inbound,
		MAX(occurred_at) FILTER (WHERE direction = 'outbound') AS last_outbound
	FROM communications
	WHERE deal_id = $1
	GROUP BY deal_id
),
followups AS (
	SELECT c.deal_id, COUNT(*) AS n
	FROM communications c
	JOIN comm_agg ca ON ca.deal_id = c.deal_id
	WHERE c.direction = 'outbound'
	  AND (ca.last_inbound IS NULL OR c.occurred_at > ca.last_inbound)
	GROUP BY c.deal_id
)
SELECT d.id, d.tenant, d.name, d.status, d.sent_at, d.snoozed_until, d.revived_at,
	d.predicted_monthly, d.predicted_onetime, d.created_at, d.updated_at,
	cs.budget_clarity, cs.competition, cs.engagement, cs.plan_fit, cs.recorded_at,
	COALESCE(ia.total, 0), COALESCE(ia.opened, 0), COALESCE(ia.accounts, 0), COALESCE(ia.viewed, 0),
	ia.first_opened, ia.first_account, ia.first_viewed,
	ca.last_inbound, ca.last_outbound, COALESCE(f.n, 0)
FROM deals d
LEFT JOIN call_scores cs ON cs.deal_id = d.id
LEFT JOIN invite_agg ia ON ia.deal_id = d.id
LEFT JOIN comm_agg ca ON ca.deal_id = d.id
LEFT JOIN followups f ON f.deal_id = d.id
WHERE d.id = $1`

func (s *PostgresStore) LoadScoringInput(ctx context.Context, dealID string) (*scoring.Input, error) {
	row := s.pool.QueryRow(ctx, loadInputQuery, dealID)

	var in scoring.Input
	var budget, competition, engagement, planFit *string
	var recordedAt *time.Time
	err := row.Scan(
		&in.Deal.ID, &in.Deal.Tenant, &in.Deal.Name, &in.Deal.Status,
		&in.Deal.SentAt, &in.Deal.SnoozedUntil, &in.Deal.RevivedAt,
		&in.Deal.PredictedMonthly, &in.Deal.PredictedOnetime,
		&in.Deal.CreatedAt, &in.Deal.UpdatedAt,
		&budget, &competition, &engagement, &planFit, &recordedAt,
		&in.Invites.TotalInvites, &in.Invites.OpenedCount,
		&in.Invites.AccountCount, &in.Invites.ViewedCount,
		&in.Milestones.FirstEmailOpenedAt, &in.Milestones.FirstAccountCreatedAt,
		&in.Milestones.FirstProposalViewedAt,
		&in.Comms.LastInboundAt, &in.Comms.LastOutboundAt, &in.Comms.FollowupsSinceReply,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("postgres: deal %s not found", dealID)
		}
		return nil, eris.Wrapf(err, "postgres: load scoring input for deal %s", dealID)
	}

	if budget != nil {
		cs := model.CallScores{
			BudgetClarity: model.BudgetClarity(*budget),
			Competition:   model.Competition(*competition),
			Engagement:    model.Engagement(*engagement),
			PlanFit:       model.PlanFit(*planFit),
		}
		if recordedAt != nil {
			cs.RecordedAt = *recordedAt
		}
		in.CallScores = &cs
	}
	return &in, nil
}

func (s *PostgresStore) SaveScore(ctx context.Context, score model.DealScore) (*model.DealScore, error) {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.ScoredAt.IsZero() {
		score.ScoredAt = time.Now().UTC()
	}
	breakdown, err := marshalBreakdown(score.Breakdown)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: marshal breakdown for deal %s", score.DealID)
	}

	_, err = s.pool.Exec(ctx, sqlInsertScore,
		score.ID, score.DealID, score.Score, score.BaseScore,
		score.TotalPenalties, score.TotalBonus,
		score.WeightedMonthly, score.WeightedOnetime,
		breakdown, score.ConfigHash, score.ScoredAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert score for deal %s", score.DealID)
	}
	return &score, nil
}

// SaveScores bulk-persists a sweep's worth of scores via the COPY protocol.
func (s *PostgresStore) SaveScores(ctx context.Context, scores []model.DealScore) (int64, error) {
	rows := make([][]any, 0, len(scores))
	now := time.Now().UTC()
	for _, sc := range scores {
		id := sc.ID
		if id == "" {
			id = uuid.New().String()
		}
		scoredAt := sc.ScoredAt
		if scoredAt.IsZero() {
			scoredAt = now
		}
		breakdown, err := marshalBreakdown(sc.Breakdown)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal breakdown for deal %s", sc.DealID)
		}
		rows = append(rows, []any{
			id, sc.DealID, sc.Score, sc.BaseScore, sc.TotalPenalties, sc.TotalBonus,
			sc.WeightedMonthly, sc.WeightedOnetime, breakdown, sc.ConfigHash, scoredAt,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "deal_scores", []string{
		"id", "deal_id", "score", "base_score", "total_penalties", "total_bonus",
		"weighted_monthly", "weighted_onetime", "breakdown", "config_hash", "scored_at",
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk save scores")
	}
	return n, nil
}

func (s *PostgresStore) LatestScore(ctx context.Context, dealID string) (*model.DealScore, error) {
	row := s.pool.QueryRow(ctx, sqlLatestScore, dealID)

	var sc model.DealScore
	var breakdown []byte
	err := row.Scan(&sc.ID, &sc.DealID, &sc.Score, &sc.BaseScore, &sc.TotalPenalties,
		&sc.TotalBonus, &sc.WeightedMonthly, &sc.WeightedOnetime,
		&breakdown, &sc.ConfigHash, &sc.ScoredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest score for deal %s", dealID)
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &sc.Breakdown); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal breakdown for deal %s", dealID)
		}
	}
	return &sc, nil
}

func marshalBreakdown(breakdown map[string]float64) ([]byte, error) {
	if len(breakdown) == 0 {
		return nil, nil
	}
	return json.Marshal(breakdown)
}

func checkRowsAffected(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: %s %s not found", entity, id)
	}
	return nil
}
