package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offerpath/offerpath/internal/models"
)

// PostgresClickStore implements ClickStore using PostgreSQL.
type PostgresClickStore struct {
	pool *pgxpool.Pool
}

func NewPostgresClickStore(pool *pgxpool.Pool) *PostgresClickStore {
	return &PostgresClickStore{pool: pool}
}

const clickColumns = `id, offer_id, session_id, question_id, button_variant_id, survey_id,
	status, converted, converted_at, revenue, clicked_at,
	ip, user_agent, geo_country, geo_region, geo_city, target_url, metadata`

func (s *PostgresClickStore) SaveClick(ctx context.Context, click *models.ClickEvent) error {
	if click == nil {
		return nil
	}

	metadata, err := json.Marshal(click.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal click metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO click_events (`+clickColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		click.ID, click.OfferID, click.SessionID, click.QuestionID,
		nullString(click.ButtonVariantID), nullString(click.SurveyID),
		string(click.Status), click.Converted, click.ConvertedAt, click.Revenue, click.ClickedAt,
		nullString(click.IP), nullString(click.UserAgent),
		nullString(click.GeoCountry), nullString(click.GeoRegion), nullString(click.GeoCity),
		nullString(click.TargetURL), metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to save click: %w", err)
	}
	return nil
}

func (s *PostgresClickStore) GetClick(ctx context.Context, id string) (*models.ClickEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clickColumns+` FROM click_events WHERE id = $1`, id)
	return scanClick(row)
}

func (s *PostgresClickStore) MarkConverted(ctx context.Context, clickID string, revenue float64, at time.Time) (*models.ClickEvent, bool, error) {
	// The guarded UPDATE is the whole check-then-write: only the
	// first writer matches the NOT converted predicate, so revenue
	// and converted_at are written exactly once.
	row := s.pool.QueryRow(ctx, `
		UPDATE click_events
		SET converted = TRUE, converted_at = $2, revenue = $3
		WHERE id = $1 AND NOT converted
		RETURNING `+clickColumns,
		clickID, at, revenue,
	)

	click, err := scanClick(row)
	if err == nil {
		return click, true, nil
	}
	if err != ErrNotFound {
		return nil, false, fmt.Errorf("failed to mark conversion: %w", err)
	}

	// No row updated: either the click does not exist or it is
	// already converted. Read it back to tell the two apart.
	click, err = s.GetClick(ctx, clickID)
	if err != nil {
		return nil, false, err
	}
	return click, false, nil
}

func (s *PostgresClickStore) OfferWindowStats(ctx context.Context, offerID string, from, to time.Time) (WindowStats, error) {
	var stats WindowStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE converted),
		       COALESCE(SUM(revenue) FILTER (WHERE converted), 0)
		FROM click_events
		WHERE offer_id = $1 AND status = 'valid'
		  AND clicked_at >= $2 AND clicked_at <= $3
	`, offerID, from, to).Scan(&stats.Clicks, &stats.Conversions, &stats.Revenue)
	if err != nil {
		return WindowStats{}, fmt.Errorf("failed to aggregate offer window: %w", err)
	}
	return stats, nil
}

func (s *PostgresClickStore) WindowSnapshot(ctx context.Context, from, to time.Time) (*SnapshotStats, error) {
	// Repeatable read keeps the per-offer and per-question rollups on
	// one ledger snapshot even while clicks land concurrently.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snap := &SnapshotStats{
		From:           from,
		To:             to,
		Offers:         make(map[string]WindowStats),
		QuestionClicks: make(map[string]int64),
	}

	rows, err := tx.Query(ctx, `
		SELECT offer_id, COUNT(*),
		       COUNT(*) FILTER (WHERE converted),
		       COALESCE(SUM(revenue) FILTER (WHERE converted), 0)
		FROM click_events
		WHERE status = 'valid' AND clicked_at >= $1 AND clicked_at <= $2
		GROUP BY offer_id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate offers: %w", err)
	}
	for rows.Next() {
		var offerID string
		var st WindowStats
		if err := rows.Scan(&offerID, &st.Clicks, &st.Conversions, &st.Revenue); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Offers[offerID] = st
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `
		SELECT question_id, COUNT(*)
		FROM click_events
		WHERE status = 'valid' AND clicked_at >= $1 AND clicked_at <= $2
		  AND question_id <> ''
		GROUP BY question_id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var questionID string
		var count int64
		if err := rows.Scan(&questionID, &count); err != nil {
			return nil, err
		}
		snap.QuestionClicks[questionID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}
	return snap, nil
}

type clickRow interface {
	Scan(dest ...any) error
}

func scanClick(row clickRow) (*models.ClickEvent, error) {
	var click models.ClickEvent
	var status string
	var buttonVariantID, surveyID, ip, userAgent *string
	var geoCountry, geoRegion, geoCity, targetURL *string
	var metadata []byte

	err := row.Scan(
		&click.ID, &click.OfferID, &click.SessionID, &click.QuestionID,
		&buttonVariantID, &surveyID,
		&status, &click.Converted, &click.ConvertedAt, &click.Revenue, &click.ClickedAt,
		&ip, &userAgent, &geoCountry, &geoRegion, &geoCity, &targetURL, &metadata,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan click: %w", err)
	}

	click.Status = models.ClickStatus(status)
	click.ButtonVariantID = deref(buttonVariantID)
	click.SurveyID = deref(surveyID)
	click.IP = deref(ip)
	click.UserAgent = deref(userAgent)
	click.GeoCountry = deref(geoCountry)
	click.GeoRegion = deref(geoRegion)
	click.GeoCity = deref(geoCity)
	click.TargetURL = deref(targetURL)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &click.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse click metadata: %w", err)
		}
	}
	return &click, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
