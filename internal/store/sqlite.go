package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/scoring"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local
// development and single-host backend; Postgres is the production one.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id                TEXT PRIMARY KEY,
	tenant            TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'draft',
	sent_at           DATETIME,
	snoozed_until     DATETIME,
	revived_at        DATETIME,
	predicted_monthly REAL NOT NULL DEFAULT 0,
	predicted_onetime REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS call_scores (
	deal_id        TEXT PRIMARY KEY REFERENCES deals(id),
	budget_clarity TEXT NOT NULL,
	competition    TEXT NOT NULL,
	engagement     TEXT NOT NULL,
	plan_fit       TEXT NOT NULL,
	recorded_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS invites (
	id                 TEXT PRIMARY KEY,
	deal_id            TEXT NOT NULL REFERENCES deals(id),
	email              TEXT NOT NULL,
	opened_at          DATETIME,
	account_created_at DATETIME,
	proposal_viewed_at DATETIME,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS communications (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL REFERENCES deals(id),
	direction   TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
	occurred_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS deal_scores (
	id               TEXT PRIMARY KEY,
	deal_id          TEXT NOT NULL REFERENCES deals(id),
	score            INTEGER NOT NULL,
	base_score       REAL NOT NULL,
	total_penalties  REAL NOT NULL,
	total_bonus      REAL NOT NULL,
	weighted_monthly REAL NOT NULL,
	weighted_onetime REAL NOT NULL,
	breakdown        TEXT,
	config_hash      TEXT NOT NULL DEFAULT '',
	scored_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);
CREATE INDEX IF NOT EXISTS idx_invites_deal_id ON invites(deal_id);
CREATE INDEX IF NOT EXISTS idx_communications_deal_id ON communications(deal_id);
CREATE INDEX IF NOT EXISTS idx_deal_scores_deal_id ON deal_scores(deal_id, scored_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDeal(ctx context.Context, deal model.Deal) (*model.Deal, error) {
	if !deal.Status.Valid() {
		return nil, eris.Errorf("sqlite: invalid deal status %q", string(deal.Status))
	}
	if deal.ID == "" {
		deal.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	deal.CreatedAt = now
	deal.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (id, tenant, name, status, sent_at, snoozed_until, revived_at,
			predicted_monthly, predicted_onetime, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deal.ID, deal.Tenant, deal.Name, string(deal.Status),
		deal.SentAt, deal.SnoozedUntil, deal.RevivedAt,
		deal.PredictedMonthly, deal.PredictedOnetime, deal.CreatedAt, deal.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert deal")
	}
	return &deal, nil
}

func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant, name, status, sent_at, snoozed_until, revived_at,
			predicted_monthly, predicted_onetime, created_at, updated_at
		 FROM deals WHERE id = ?`, dealID)

	var d model.Deal
	err := row.Scan(&d.ID, &d.Tenant, &d.Name, &d.Status, &d.SentAt, &d.SnoozedUntil,
		&d.RevivedAt, &d.PredictedMonthly, &d.PredictedOnetime, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: deal %s not found", dealID)
		}
		return nil, eris.Wrapf(err, "sqlite: get deal %s", dealID)
	}
	return &d, nil
}

func (s *SQLiteStore) UpdateDealStatus(ctx context.Context, dealID string, status model.DealStatus, sentAt *time.Time) error {
	if !status.Valid() {
		return eris.Errorf("sqlite: invalid deal status %q", string(status))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET status = ?, sent_at = COALESCE(?, sent_at), updated_at = ? WHERE id = ?`,
		string(status), sentAt, time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update deal status %s", dealID)
	}
	return sqliteRowsAffected(res, "deal", dealID)
}

func (s *SQLiteStore) ListOpenDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error) {
	query := `SELECT id, tenant, name, status, sent_at, snoozed_until, revived_at,
			predicted_monthly, predicted_onetime, created_at, updated_at
		FROM deals WHERE status IN ('draft', 'sent')`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Tenant != "" {
		query += ` AND tenant = ?`
		args = append(args, filter.Tenant)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		var d model.Deal
		err := rows.Scan(&d.ID, &d.Tenant, &d.Name, &d.Status, &d.SentAt, &d.SnoozedUntil,
			&d.RevivedAt, &d.PredictedMonthly, &d.PredictedOnetime, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: iterate deals")
}

func (s *SQLiteStore) SaveCallScores(ctx context.Context, dealID string, cs model.CallScores) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	recordedAt := cs.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_scores (deal_id, budget_clarity, competition, engagement, plan_fit, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (deal_id) DO UPDATE SET
			budget_clarity = excluded.budget_clarity,
			competition = excluded.competition,
			engagement = excluded.engagement,
			plan_fit = excluded.plan_fit,
			recorded_at = excluded.recorded_at`,
		dealID, string(cs.BudgetClarity), string(cs.Competition),
		string(cs.Engagement), string(cs.PlanFit), recordedAt,
	)
	return eris.Wrapf(err, "sqlite: save call scores for deal %s", dealID)
}

func (s *SQLiteStore) AddInvite(ctx context.Context, invite model.Invite) (*model.Invite, error) {
	if invite.ID == "" {
		invite.ID = uuid.New().String()
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invites (id, deal_id, email, opened_at, account_created_at, proposal_viewed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		invite.ID, invite.DealID, invite.Email,
		invite.OpenedAt, invite.AccountCreatedAt, invite.ProposalViewedAt, invite.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert invite for deal %s", invite.DealID)
	}
	return &invite, nil
}

func (s *SQLiteStore) RecordCommunication(ctx context.Context, dealID string, direction model.CommDirection, at time.Time) error {
	if !direction.Valid() {
		return eris.Errorf("sqlite: invalid communication direction %q", string(direction))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO communications (id, deal_id, direction, occurred_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), dealID, string(direction), at,
	)
	return eris.Wrapf(err, "sqlite: record communication for deal %s", dealID)
}

// LoadScoringInput assembles the snapshot with row-level reads inside one
// transaction; aggregation happens in Go since the per-deal row counts are
// tiny.
func (s *SQLiteStore) LoadScoringInput(ctx context.Context, dealID string) (*scoring.Input, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin snapshot read")
	}
	defer tx.Rollback() //nolint:errcheck

	var in scoring.Input

	row := tx.QueryRowContext(ctx,
		`SELECT id, tenant, name, status, sent_at, snoozed_until, revived_at,
			predicted_monthly, predicted_onetime, created_at, updated_at
		 FROM deals WHERE id = ?`, dealID)
	err = row.Scan(&in.Deal.ID, &in.Deal.Tenant, &in.Deal.Name, &in.Deal.Status,
		&in.Deal.SentAt, &in.Deal.SnoozedUntil, &in.Deal.RevivedAt,
		&in.Deal.PredictedMonthly, &in.Deal.PredictedOnetime,
		&in.Deal.CreatedAt, &in.Deal.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: deal %s not found", dealID)
		}
		return nil, eris.Wrapf(err, "sqlite: load deal %s", dealID)
	}

	var cs model.CallScores
	err = tx.QueryRowContext(ctx,
		`SELECT budget_clarity, competition, engagement, plan_fit, recorded_at
		 FROM call_scores WHERE deal_id = ?`, dealID).
		Scan(&cs.BudgetClarity, &cs.Competition, &cs.Engagement, &cs.PlanFit, &cs.RecordedAt)
	switch {
	case err == nil:
		in.CallScores = &cs
	case errors.Is(err, sql.ErrNoRows):
		// No rep assessment yet; the engine substitutes the default base score.
	default:
		return nil, eris.Wrapf(err, "sqlite: load call scores for deal %s", dealID)
	}

	inviteRows, err := tx.QueryContext(ctx,
		`SELECT opened_at, account_created_at, proposal_viewed_at FROM invites WHERE deal_id = ?`, dealID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load invites for deal %s", dealID)
	}
	defer inviteRows.Close()
	for inviteRows.Next() {
		var opened, account, viewed *time.Time
		if err := inviteRows.Scan(&opened, &account, &viewed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan invite")
		}
		in.Invites.TotalInvites++
		if opened != nil {
			in.Invites.OpenedCount++
			in.Milestones.FirstEmailOpenedAt = earliest(in.Milestones.FirstEmailOpenedAt, opened)
		}
		if account != nil {
			in.Invites.AccountCount++
			in.Milestones.FirstAccountCreatedAt = earliest(in.Milestones.FirstAccountCreatedAt, account)
		}
		if viewed != nil {
			in.Invites.ViewedCount++
			in.Milestones.FirstProposalViewedAt = earliest(in.Milestones.FirstProposalViewedAt, viewed)
		}
	}
	if err := inviteRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate invites")
	}

	commRows, err := tx.QueryContext(ctx,
		`SELECT direction, occurred_at FROM communications WHERE deal_id = ? ORDER BY occurred_at`, dealID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load communications for deal %s", dealID)
	}
	defer commRows.Close()
	for commRows.Next() {
		var direction string
		var at time.Time
		if err := commRows.Scan(&direction, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan communication")
		}
		switch model.CommDirection(direction) {
		case model.CommInbound:
			t := at
			in.Comms.LastInboundAt = &t
			in.Comms.FollowupsSinceReply = 0
		case model.CommOutbound:
			t := at
			in.Comms.LastOutboundAt = &t
			in.Comms.FollowupsSinceReply++
		}
	}
	if err := commRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate communications")
	}

	return &in, tx.Commit()
}

func (s *SQLiteStore) SaveScore(ctx context.Context, score model.DealScore) (*model.DealScore, error) {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.ScoredAt.IsZero() {
		score.ScoredAt = time.Now().UTC()
	}
	var breakdown *string
	if len(score.Breakdown) > 0 {
		data, err := json.Marshal(score.Breakdown)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal breakdown for deal %s", score.DealID)
		}
		str := string(data)
		breakdown = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deal_scores
			(id, deal_id, score, base_score, total_penalties, total_bonus,
			 weighted_monthly, weighted_onetime, breakdown, config_hash, scored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		score.ID, score.DealID, score.Score, score.BaseScore,
		score.TotalPenalties, score.TotalBonus,
		score.WeightedMonthly, score.WeightedOnetime,
		breakdown, score.ConfigHash, score.ScoredAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert score for deal %s", score.DealID)
	}
	return &score, nil
}

func (s *SQLiteStore) SaveScores(ctx context.Context, scores []model.DealScore) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk save")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, sc := range scores {
		if sc.ID == "" {
			sc.ID = uuid.New().String()
		}
		if sc.ScoredAt.IsZero() {
			sc.ScoredAt = time.Now().UTC()
		}
		var breakdown *string
		if len(sc.Breakdown) > 0 {
			data, err := json.Marshal(sc.Breakdown)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal breakdown for deal %s", sc.DealID)
			}
			str := string(data)
			breakdown = &str
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deal_scores
				(id, deal_id, score, base_score, total_penalties, total_bonus,
				 weighted_monthly, weighted_onetime, breakdown, config_hash, scored_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, sc.DealID, sc.Score, sc.BaseScore, sc.TotalPenalties, sc.TotalBonus,
			sc.WeightedMonthly, sc.WeightedOnetime, breakdown, sc.ConfigHash, sc.ScoredAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert score for deal %s", sc.DealID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk save")
	}
	return n, nil
}

func (s *SQLiteStore) LatestScore(ctx context.Context, dealID string) (*model.DealScore, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deal_id, score, base_score, total_penalties, total_bonus,
			weighted_monthly, weighted_onetime, breakdown, config_hash, scored_at
		 FROM deal_scores WHERE deal_id = ? ORDER BY scored_at DESC, id DESC LIMIT 1`, dealID)

	var sc model.DealScore
	var breakdown *string
	err := row.Scan(&sc.ID, &sc.DealID, &sc.Score, &sc.BaseScore, &sc.TotalPenalties,
		&sc.TotalBonus, &sc.WeightedMonthly, &sc.WeightedOnetime,
		&breakdown, &sc.ConfigHash, &sc.ScoredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest score for deal %s", dealID)
	}
	if breakdown != nil && *breakdown != "" {
		if err := json.Unmarshal([]byte(*breakdown), &sc.Breakdown); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal breakdown for deal %s", dealID)
		}
	}
	return &sc, nil
}

func earliest(current, candidate *time.Time) *time.Time {
	if current == nil || candidate.Before(*current) {
		t := *candidate
		return &t
	}
	return current
}

func sqliteRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s %s not found", entity, id)
	}
	return nil
}
