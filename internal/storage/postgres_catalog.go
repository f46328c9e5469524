package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offerpath/offerpath/internal/models"
)

// PostgresOfferRepo implements OfferRepo using PostgreSQL.
type PostgresOfferRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresOfferRepo(pool *pgxpool.Pool) *PostgresOfferRepo {
	return &PostgresOfferRepo{pool: pool}
}

const offerColumns = `id, name, status, destination_template, payout_amount, payout_currency,
	daily_click_cap, metrics, created_at, updated_at`

func (r *PostgresOfferRepo) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	return scanOffer(row)
}

func (r *PostgresOfferRepo) ListOffers(ctx context.Context) ([]*models.Offer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+offerColumns+` FROM offers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r *PostgresOfferRepo) UpsertOffer(ctx context.Context, o *models.Offer) error {
	metrics, err := marshalMetrics(o.Metrics)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO offers (id, name, status, destination_template, payout_amount,
			payout_currency, daily_click_cap, metrics, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			destination_template = EXCLUDED.destination_template,
			payout_amount = EXCLUDED.payout_amount,
			payout_currency = EXCLUDED.payout_currency,
			daily_click_cap = EXCLUDED.daily_click_cap,
			updated_at = EXCLUDED.updated_at
	`, o.ID, o.Name, string(o.Status), o.DestinationTemplate, o.PayoutAmount,
		nullString(o.PayoutCurrency), o.DailyClickCap, metrics, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert offer: %w", err)
	}
	return nil
}

func (r *PostgresOfferRepo) UpdateMetrics(ctx context.Context, offerID string, m *models.OfferMetrics) error {
	metrics, err := marshalMetrics(m)
	if err != nil {
		return err
	}

	// jsonb concatenation merges field-by-field, so cached keys not
	// produced by the calculator survive the write-back.
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers
		SET metrics = COALESCE(metrics, '{}'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1
	`, offerID, metrics)
	if err != nil {
		return fmt.Errorf("failed to write back offer metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOffer(row clickRow) (*models.Offer, error) {
	var o models.Offer
	var status string
	var payoutCurrency *string
	var metrics []byte

	err := row.Scan(
		&o.ID, &o.Name, &status, &o.DestinationTemplate, &o.PayoutAmount,
		&payoutCurrency, &o.DailyClickCap, &metrics, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan offer: %w", err)
	}

	o.Status = models.OfferStatus(status)
	o.PayoutCurrency = deref(payoutCurrency)

	if len(metrics) > 0 {
		var m models.OfferMetrics
		if err := json.Unmarshal(metrics, &m); err != nil {
			return nil, fmt.Errorf("failed to parse offer metrics: %w", err)
		}
		o.Metrics = &m
	}
	return &o, nil
}

func marshalMetrics(m *models.OfferMetrics) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal offer metrics: %w", err)
	}
	return b, nil
}

// PostgresQuestionRepo implements QuestionRepo using PostgreSQL.
type PostgresQuestionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresQuestionRepo(pool *pgxpool.Pool) *PostgresQuestionRepo {
	return &PostgresQuestionRepo{pool: pool}
}

const questionColumns = `id, survey_id, text, static_order, created_at, updated_at`

func (r *PostgresQuestionRepo) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	return scanQuestion(row)
}

func (r *PostgresQuestionRepo) ListQuestions(ctx context.Context) ([]*models.Question, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+questionColumns+` FROM questions ORDER BY static_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r *PostgresQuestionRepo) UpsertQuestion(ctx context.Context, q *models.Question) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO questions (id, survey_id, text, static_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			survey_id = EXCLUDED.survey_id,
			text = EXCLUDED.text,
			static_order = EXCLUDED.static_order,
			updated_at = EXCLUDED.updated_at
	`, q.ID, nullString(q.SurveyID), nullString(q.Text), q.StaticOrder, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert question: %w", err)
	}
	return nil
}

func (r *PostgresQuestionRepo) EligibleOffers(ctx context.Context, questionID string) ([]*models.Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.name, o.status, o.destination_template, o.payout_amount,
		       o.payout_currency, o.daily_click_cap, o.metrics, o.created_at, o.updated_at
		FROM offers o
		JOIN question_offers qo ON qo.offer_id = o.id
		WHERE qo.question_id = $1
		ORDER BY o.id
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve eligible offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r *PostgresQuestionRepo) LinkOffer(ctx context.Context, questionID, offerID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO question_offers (question_id, offer_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, questionID, offerID)
	if err != nil {
		return fmt.Errorf("failed to link offer: %w", err)
	}
	return nil
}

func scanQuestion(row clickRow) (*models.Question, error) {
	var q models.Question
	var surveyID, text *string

	err := row.Scan(&q.ID, &surveyID, &text, &q.StaticOrder, &q.CreatedAt, &q.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan question: %w", err)
	}

	q.SurveyID = deref(surveyID)
	q.Text = deref(text)
	return &q, nil
}
