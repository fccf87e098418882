package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/senyabanana/coop-offers/internal/models"

	"github.com/jackc/pgx/v5"
)

const offerColumns = `id, cooperative_id, product_ref, title, total_quantity, unit_price, total_price,
	min_order_quantity, status, delivery_deadline, view_count, interest_count, version, created_at, updated_at`

// PostgresOfferRepository - реализация OfferRepository для базы данных.
type PostgresOfferRepository struct {
	DB DBTX
}

// NewPostgresOfferRepository создаёт новый экземпляр PostgresOfferRepository.
func NewPostgresOfferRepository(db DBTX) *PostgresOfferRepository {
	return &PostgresOfferRepository{DB: db}
}

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var offer models.Offer
	err := row.Scan(
		&offer.ID,
		&offer.CooperativeID,
		&offer.ProductRef,
		&offer.Title,
		&offer.TotalQuantity,
		&offer.UnitPrice,
		&offer.TotalPrice,
		&offer.MinOrderQuantity,
		&offer.Status,
		&offer.DeliveryDeadline,
		&offer.ViewCount,
		&offer.InterestCount,
		&offer.Version,
		&offer.CreatedAt,
		&offer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func collectOffers(rows pgx.Rows) ([]models.Offer, error) {
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	return offers, rows.Err()
}

// CreateOffer сохраняет новое предложение.
func (r *PostgresOfferRepository) CreateOffer(ctx context.Context, offer *models.Offer) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		offer.ID,
		offer.CooperativeID,
		offer.ProductRef,
		offer.Title,
		offer.TotalQuantity,
		offer.UnitPrice,
		offer.TotalPrice,
		offer.MinOrderQuantity,
		offer.Status,
		offer.DeliveryDeadline,
		offer.ViewCount,
		offer.InterestCount,
		offer.Version,
		offer.CreatedAt,
		offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}
	return nil
}

// GetOffer возвращает предложение по ID.
func (r *PostgresOfferRepository) GetOffer(ctx context.Context, offerId string) (*models.Offer, error) {
	offer, err := scanOffer(r.DB.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, offerId))
	if err != nil {
		return nil, notFoundOr(err, "offer", offerId)
	}
	return offer, nil
}

// ListOffers возвращает список предложений.
func (r *PostgresOfferRepository) ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers`
	var filters []string
	var args []interface{}
	argIndex := 1

	if filter.CooperativeID != "" {
		filters = append(filters, fmt.Sprintf("cooperative_id = $%d", argIndex))
		args = append(args, filter.CooperativeID)
		argIndex++
	}

	if len(filter.Statuses) > 0 {
		filters = append(filters, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, statusArray(filter.Statuses))
		argIndex++
	}

	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

// TransitionOfferStatus меняет статус предложения по принципу compare-and-swap.
func (r *PostgresOfferRepository) TransitionOfferStatus(ctx context.Context, offerId string, from, to models.OfferStatus, at time.Time) (*models.Offer, error) {
	offer, err := scanOffer(r.DB.QueryRow(ctx, `
		UPDATE offers SET status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+offerColumns,
		offerId, from, to, at))
	if err == nil {
		return offer, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return nil, casMiss(ctx, r.DB, "offers", "offer", offerId)
}

// ClaimOfferForNegotiation берёт блокировку строки предложения под новые переговоры.
func (r *PostgresOfferRepository) ClaimOfferForNegotiation(ctx context.Context, offerId string, at time.Time) (*models.Offer, error) {
	offer, err := scanOffer(r.DB.QueryRow(ctx, `
		UPDATE offers SET status = $2,
			version = CASE WHEN status = $3 THEN version + 1 ELSE version END,
			updated_at = CASE WHEN status = $3 THEN $4 ELSE updated_at END
		WHERE id = $1 AND status = ANY($5) AND delivery_deadline > $4
		RETURNING `+offerColumns,
		offerId, models.NegotiatingOffer, models.ActiveOffer, at,
		statusArray([]models.OfferStatus{models.ActiveOffer, models.NegotiatingOffer})))
	if err == nil {
		return offer, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return nil, casMiss(ctx, r.DB, "offers", "offer", offerId)
}

// ReopenOfferIfIdle возвращает предложение в продажу, если открытых переговоров не осталось.
// Строка блокируется до проверки NOT EXISTS, поэтому проверка видит переговоры,
// закоммиченные вместе с ClaimOfferForNegotiation.
func (r *PostgresOfferRepository) ReopenOfferIfIdle(ctx context.Context, offerId string, at time.Time) (bool, error) {
	var reopened bool
	err := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM offers WHERE id = $1 FOR UPDATE`, offerId); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE offers SET status = $2, version = version + 1, updated_at = $4
			WHERE id = $1 AND status = $3 AND delivery_deadline > $4
			AND NOT EXISTS (
				SELECT 1 FROM negotiations n
				WHERE n.offer_id = offers.id AND n.status = ANY($5)
			)`,
			offerId, models.ActiveOffer, models.NegotiatingOffer, at, statusArray(models.OpenNegotiationStatuses))
		if err != nil {
			return err
		}
		reopened = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return reopened, nil
}

// ExpireOffers переводит просроченные предложения в expired.
func (r *PostgresOfferRepository) ExpireOffers(ctx context.Context, now time.Time) ([]models.Offer, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE offers SET status = $2, version = version + 1, updated_at = $1
		WHERE delivery_deadline < $1 AND status = ANY($3)
		RETURNING `+offerColumns,
		now, models.ExpiredOffer, statusArray([]models.OfferStatus{models.ActiveOffer, models.NegotiatingOffer}))
	if err != nil {
		return nil, err
	}
	return collectOffers(rows)
}

// IncrementOfferViews увеличивает счётчик просмотров.
func (r *PostgresOfferRepository) IncrementOfferViews(ctx context.Context, offerId string) error {
	_, err := r.DB.Exec(ctx, `UPDATE offers SET view_count = view_count + 1 WHERE id = $1`, offerId)
	return err
}

// IncrementOfferInterest увеличивает счётчик заинтересованных покупателей.
func (r *PostgresOfferRepository) IncrementOfferInterest(ctx context.Context, offerId string) error {
	_, err := r.DB.Exec(ctx, `UPDATE offers SET interest_count = interest_count + 1 WHERE id = $1`, offerId)
	return err
}
