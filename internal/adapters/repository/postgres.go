package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/pricing"
	"github.com/dwellhq/dwell/pkg/logger"
	"github.com/dwellhq/dwell/pkg/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// NewPool connects to databaseURL, retrying the first ping.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	c := poolConfig{
		maxConns:        defaultMaxConns,
		minConns:        defaultMinConns,
		connectAttempts: defaultConnectAttempts,
		retryInterval:   defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.log == nil {
		c.log = logger.Named("postgres")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = c.maxConns
	config.MinConns = min(c.minConns, c.maxConns)
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	for attempt := 1; ; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				c.log.Info(ctx, "database connected", logger.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
		}
		if attempt >= c.connectAttempts {
			return nil, fmt.Errorf("database connection failed after %d attempts: %w", attempt, err)
		}
		c.log.Warn(ctx, "database connection attempt failed",
			logger.Int("attempt", attempt), logger.Int("max_attempts", c.connectAttempts), logger.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryInterval):
		}
	}
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	s := &PostgresStore{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("repository")
	}
	return s
}

// Migrate creates missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryQueryLatency(op, metrics.SinceMs(start))
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

const userColumns = `id, first_name, last_name, occupation, bio, min_price, max_price, price_period,
	preferred_start_date, preferred_end_date, date_flexibility_days, preferred_listing_type,
	preference_profile, preference_version, last_preference_update, profile_completed,
	profile_completed_at, evaluation_credits`

func scanUser(row pgx.Row) (model.User, error) {
	var (
		u           model.User
		period      string
		listingType *string
	)
	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Occupation, &u.Bio, &u.MinPrice, &u.MaxPrice, &period,
		&u.PreferredStartDate, &u.PreferredEndDate, &u.DateFlexibilityDays, &listingType,
		&u.PreferenceProfile, &u.PreferenceVersion, &u.LastPreferenceUpdate, &u.ProfileCompleted,
		&u.ProfileCompletedAt, &u.EvaluationCredits,
	)
	if err != nil {
		return model.User{}, err
	}
	u.PricePeriod = model.ParsePricePeriod(period)
	if listingType != nil {
		lt := model.ListingType(*listingType)
		u.PreferredListingType = &lt
	}
	return u, nil
}

func scanListing(row pgx.Row) (model.Listing, error) {
	var (
		l                 model.Listing
		period, kind      *string
		title, neighbor   string
		brief, full, name string
	)
	err := row.Scan(
		&l.ID, &l.URL, &title, &l.Price, &period, &l.StartDate, &l.EndDate,
		&kind, &neighbor, &brief, &full, &name,
		&l.SourceSite, &l.CreatedAt,
	)
	if err != nil {
		return model.Listing{}, err
	}
	l.Title, l.Neighborhood, l.BriefDescription, l.FullDescription, l.ContactName = title, neighbor, brief, full, name
	if period != nil {
		l.PricePeriod = model.ParsePricePeriod(*period)
	}
	if kind != nil {
		l.ListingType = model.ListingType(*kind)
	}
	return l, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (model.User, error) {
	defer observe("get_user", time.Now())
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return model.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (s *PostgresStore) SaveUser(ctx context.Context, u model.User) error {
	defer observe("save_user", time.Now())
	var listingType *string
	if u.PreferredListingType != nil {
		lt := string(*u.PreferredListingType)
		listingType = &lt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			occupation = EXCLUDED.occupation,
			bio = EXCLUDED.bio,
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			price_period = EXCLUDED.price_period,
			preferred_start_date = EXCLUDED.preferred_start_date,
			preferred_end_date = EXCLUDED.preferred_end_date,
			date_flexibility_days = EXCLUDED.date_flexibility_days,
			preferred_listing_type = EXCLUDED.preferred_listing_type,
			preference_profile = EXCLUDED.preference_profile,
			preference_version = EXCLUDED.preference_version,
			last_preference_update = EXCLUDED.last_preference_update,
			profile_completed = EXCLUDED.profile_completed,
			profile_completed_at = EXCLUDED.profile_completed_at,
			evaluation_credits = EXCLUDED.evaluation_credits`,
		u.ID, u.FirstName, u.LastName, u.Occupation, u.Bio, u.MinPrice, u.MaxPrice, string(u.PricePeriod),
		u.PreferredStartDate, u.PreferredEndDate, u.DateFlexibilityDays, listingType,
		u.PreferenceProfile, u.PreferenceVersion, u.LastPreferenceUpdate, u.ProfileCompleted,
		u.ProfileCompletedAt, u.EvaluationCredits,
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *PostgresStore) EligibleUsers(ctx context.Context, minCredits float64) ([]model.User, error) {
	defer observe("eligible_users", time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE preference_profile <> '' AND evaluation_credits >= $1
		ORDER BY id`, minCredits)
	if err != nil {
		return nil, fmt.Errorf("eligible users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveListing(ctx context.Context, l model.Listing) error {
	defer observe("save_listing", time.Now())
	var period, kind *string
	if l.PricePeriod != model.PeriodUnknown {
		p := string(l.PricePeriod)
		period = &p
	}
	if l.ListingType != "" {
		k := string(l.ListingType)
		kind = &k
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (id, url, title, price, price_period, start_date, end_date, listing_type,
			neighborhood, brief_description, full_description, contact_name, source_site, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		l.ID, l.URL, l.Title, l.Price, period, l.StartDate, l.EndDate, kind,
		l.Neighborhood, l.BriefDescription, l.FullDescription, l.ContactName, l.SourceSite, createdAt,
	)
	if err != nil {
		return fmt.Errorf("save listing %s: %w", l.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (model.Listing, error) {
	defer observe("get_listing", time.Now())
	l, err := scanListing(s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings l WHERE l.id = $1`, id))
	if err != nil {
		return model.Listing{}, notFound(err, "listing", id)
	}
	return l, nil
}

func (s *PostgresStore) SelectCandidates(ctx context.Context, user model.User, limit int) ([]model.Listing, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observe("select_candidates", time.Now())

	query, args := candidateQuery(pricing.Filters(user), user.ID, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	out := make([]model.Listing, 0, limit)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TopRecommendations(ctx context.Context, userID string, limit int) ([]model.Recommendation, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observe("top_recommendations", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+`,
			e.id, e.score, e.reasoning, e.cost_usd, e.tokens_used, e.model_used, e.created_at
		FROM listing_evaluations e
		JOIN listings l ON l.id = e.listing_id
		WHERE e.user_id = $1
		ORDER BY e.score DESC, e.created_at DESC, e.id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("top recommendations: %w", err)
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		var (
			r                 model.Recommendation
			period, kind      *string
			title, neighbor   string
			brief, full, name string
		)
		l, e := &r.Listing, &r.Evaluation
		if err := rows.Scan(
			&l.ID, &l.URL, &title, &l.Price, &period, &l.StartDate, &l.EndDate,
			&kind, &neighbor, &brief, &full, &name, &l.SourceSite, &l.CreatedAt,
			&e.ID, &e.Score, &e.Reasoning, &e.CostUSD, &e.TokensUsed, &e.ModelUsed, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		l.Title, l.Neighborhood, l.BriefDescription, l.FullDescription, l.ContactName = title, neighbor, brief, full, name
		if period != nil {
			l.PricePeriod = model.ParsePricePeriod(*period)
		}
		if kind != nil {
			l.ListingType = model.ListingType(*kind)
		}
		e.UserID, e.ListingID = userID, l.ID
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EvaluationStatus(ctx context.Context, userID string) (model.EvaluationStatus, error) {
	defer observe("evaluation_status", time.Now())
	var st model.EvaluationStatus
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cost_usd), 0), COALESCE(AVG(score), 0)::float8, MAX(created_at)
		FROM listing_evaluations WHERE user_id = $1`, userID,
	).Scan(&st.TotalEvaluations, &st.TotalCost, &st.AverageScore, &st.LatestEvaluation)
	if err != nil {
		return model.EvaluationStatus{}, fmt.Errorf("evaluation status %s: %w", userID, err)
	}
	return st, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, run model.Run) error {
	defer observe("start_run", time.Now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO evaluation_runs (id, user_id, status, started_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.UserID, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run model.Run) error {
	defer observe("finish_run", time.Now())
	tag, err := s.pool.Exec(ctx, `
		UPDATE evaluation_runs SET
			status = $2, candidates_found = $3, completed = $4, total_cost = $5, average_score = $6,
			error_count = $7, budget_exceeded = $8, error = $9, finished_at = $10, unbilled_cost = $11
		WHERE id = $1`,
		run.ID, string(run.Status), run.Stats.CandidatesFound, run.Stats.Completed, run.Stats.TotalCost,
		run.Stats.AverageScore, run.Stats.ErrorCount, run.Stats.BudgetExceeded, run.Error, run.FinishedAt,
		run.Stats.UnbilledCost)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (model.Run, error) {
	defer observe("get_run", time.Now())
	var (
		r      model.Run
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, candidates_found, completed, total_cost, average_score,
			error_count, budget_exceeded, error, started_at, finished_at, unbilled_cost
		FROM evaluation_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &status, &r.Stats.CandidatesFound, &r.Stats.Completed, &r.Stats.TotalCost,
		&r.Stats.AverageScore, &r.Stats.ErrorCount, &r.Stats.BudgetExceeded, &r.Error, &r.StartedAt, &r.FinishedAt,
		&r.Stats.UnbilledCost)
	if err != nil {
		return model.Run{}, notFound(err, "run", id)
	}
	r.Status = model.RunStatus(status)
	return r, nil
}

// WithinTx runs fn in one database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	defer observe("transaction", time.Now())
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertEvaluation(ctx context.Context, e model.Evaluation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO listing_evaluations (id, user_id, listing_id, score, reasoning, cost_usd, tokens_used, model_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, listing_id) DO UPDATE SET
			score = EXCLUDED.score,
			reasoning = EXCLUDED.reasoning,
			cost_usd = EXCLUDED.cost_usd,
			tokens_used = EXCLUDED.tokens_used,
			model_used = EXCLUDED.model_used,
			created_at = EXCLUDED.created_at`,
		e.ID, e.UserID, e.ListingID, e.Score, e.Reasoning, e.CostUSD, e.TokensUsed, e.ModelUsed, e.CreatedAt)
	return err
}

func (t *pgTx) DeductCredits(ctx context.Context, userID string, amount float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users SET evaluation_credits = evaluation_credits - $2 WHERE id = $1`, userID, amount)
	return rowsOrNotFound(tag, err, "user", userID)
}

func (t *pgTx) RecordRunProgress(ctx context.Context, runID string, costUSD float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE evaluation_runs SET completed = completed + 1, total_cost = total_cost + $2
		WHERE id = $1`, runID, costUSD)
	return rowsOrNotFound(tag, err, "run", runID)
}

func (t *pgTx) CreditBalance(ctx context.Context, userID string) (float64, error) {
	var credits float64
	err := t.tx.QueryRow(ctx, `SELECT evaluation_credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err != nil {
		return 0, notFound(err, "user", userID)
	}
	return credits, nil
}

func rowsOrNotFound(tag pgconn.CommandTag, err error, what, id string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
