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

const negotiationColumns = `id, offer_id, cooperative_id, buyer_id, quantity, initial_price, proposed_price, final_price,
	status, urgency, buyer_unread, cooperative_unread, last_actor, rejection_reason, version,
	created_at, updated_at, expires_at, accepted_at, rejected_at, closed_at`

const messageColumns = `id, negotiation_id, sender_role, sender_id, body, proposed_price, created_at`

// PostgresNegotiationRepository - реализация NegotiationRepository для базы данных.
type PostgresNegotiationRepository struct {
	DB DBTX
}

// NewPostgresNegotiationRepository создаёт новый экземпляр PostgresNegotiationRepository.
func NewPostgresNegotiationRepository(db DBTX) *PostgresNegotiationRepository {
	return &PostgresNegotiationRepository{DB: db}
}

func scanNegotiation(row pgx.Row) (*models.Negotiation, error) {
	var n models.Negotiation
	err := row.Scan(
		&n.ID,
		&n.OfferID,
		&n.CooperativeID,
		&n.BuyerID,
		&n.Quantity,
		&n.InitialPrice,
		&n.ProposedPrice,
		&n.FinalPrice,
		&n.Status,
		&n.Urgency,
		&n.BuyerUnread,
		&n.CooperativeUnread,
		&n.LastActor,
		&n.RejectionReason,
		&n.Version,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.ExpiresAt,
		&n.AcceptedAt,
		&n.RejectedAt,
		&n.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNegotiations(rows pgx.Rows) ([]models.Negotiation, error) {
	defer rows.Close()

	var negotiations []models.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		negotiations = append(negotiations, *n)
	}
	return negotiations, rows.Err()
}

// CreateNegotiation сохраняет новые переговоры.
func (r *PostgresNegotiationRepository) CreateNegotiation(ctx context.Context, n *models.Negotiation) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO negotiations (`+negotiationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		n.ID,
		n.OfferID,
		n.CooperativeID,
		n.BuyerID,
		n.Quantity,
		n.InitialPrice,
		n.ProposedPrice,
		n.FinalPrice,
		n.Status,
		n.Urgency,
		n.BuyerUnread,
		n.CooperativeUnread,
		n.LastActor,
		n.RejectionReason,
		n.Version,
		n.CreatedAt,
		n.UpdatedAt,
		n.ExpiresAt,
		n.AcceptedAt,
		n.RejectedAt,
		n.ClosedAt)
	if isUniqueViolation(err, openBidConstraint) {
		return fmt.Errorf("%w: offer %s buyer %s", models.ErrDuplicateBid, n.OfferID, n.BuyerID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert negotiation: %w", err)
	}
	return nil
}

// GetNegotiation возвращает переговоры по ID.
func (r *PostgresNegotiationRepository) GetNegotiation(ctx context.Context, negotiationId string) (*models.Negotiation, error) {
	n, err := scanNegotiation(r.DB.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id = $1`, negotiationId))
	if err != nil {
		return nil, notFoundOr(err, "negotiation", negotiationId)
	}
	return n, nil
}

// ListNegotiations возвращает переговоры по фильтру.
func (r *PostgresNegotiationRepository) ListNegotiations(ctx context.Context, filter models.NegotiationFilter) ([]models.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations`
	var filters []string
	var args []interface{}
	argIndex := 1

	add := func(clause string, value interface{}) {
		filters = append(filters, fmt.Sprintf(clause, argIndex))
		args = append(args, value)
		argIndex++
	}
	if filter.OfferID != "" {
		add("offer_id = $%d", filter.OfferID)
	}
	if filter.BuyerID != "" {
		add("buyer_id = $%d", filter.BuyerID)
	}
	if filter.CooperativeID != "" {
		add("cooperative_id = $%d", filter.CooperativeID)
	}
	if len(filter.Statuses) > 0 {
		add("status = ANY($%d)", statusArray(filter.Statuses))
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
	return collectNegotiations(rows)
}

// HasOpenNegotiation проверяет, есть ли у покупателя открытые переговоры по предложению.
func (r *PostgresNegotiationRepository) HasOpenNegotiation(ctx context.Context, offerId, buyerId string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM negotiations WHERE offer_id = $1 AND buyer_id = $2 AND status = ANY($3))`
	err := r.DB.QueryRow(ctx, query, offerId, buyerId, statusArray(models.OpenNegotiationStatuses)).Scan(&exists)
	return exists, err
}

// ListOpenSiblings возвращает остальные открытые переговоры по предложению.
func (r *PostgresNegotiationRepository) ListOpenSiblings(ctx context.Context, offerId, exceptId string) ([]models.Negotiation, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE offer_id = $1 AND id <> $2 AND status = ANY($3)
		ORDER BY created_at`,
		offerId, exceptId, statusArray(models.OpenNegotiationStatuses))
	if err != nil {
		return nil, err
	}
	return collectNegotiations(rows)
}

// ApplyCounterOffer записывает встречное предложение.
func (r *PostgresNegotiationRepository) ApplyCounterOffer(ctx context.Context, negotiationId string, counter models.CounterOffer) (*models.Negotiation, error) {
	var buyerInc, cooperativeInc int
	if counter.Actor == models.BuyerRole {
		cooperativeInc = 1
	} else {
		buyerInc = 1
	}

	n, err := scanNegotiation(r.DB.QueryRow(ctx, `
		UPDATE negotiations SET
			proposed_price = $2, status = $3, urgency = $4, last_actor = $5,
			buyer_unread = buyer_unread + $6, cooperative_unread = cooperative_unread + $7,
			version = version + 1, updated_at = $8
		WHERE id = $1 AND status = ANY($9) AND ($10 = 0 OR version = $10)
		RETURNING `+negotiationColumns,
		negotiationId,
		counter.ProposedPrice,
		models.ActiveNegotiation,
		counter.Urgency,
		counter.Actor,
		buyerInc,
		cooperativeInc,
		counter.At,
		statusArray(models.OpenNegotiationStatuses),
		counter.ExpectedVersion))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return nil, casMiss(ctx, r.DB, "negotiations", "negotiation", negotiationId)
}

// TransitionNegotiation закрывает открытые переговоры.
func (r *PostgresNegotiationRepository) TransitionNegotiation(ctx context.Context, negotiationId string, to models.NegotiationStatus, change models.StatusChange) (*models.Negotiation, error) {
	sets := []string{"status = $2", "closed_at = $3", "updated_at = $3", "version = version + 1"}
	args := []interface{}{negotiationId, to, change.At, statusArray(models.OpenNegotiationStatuses)}

	switch to {
	case models.AcceptedNegotiation:
		sets = append(sets, "accepted_at = $3", "final_price = $5")
		args = append(args, change.FinalPrice)
	case models.RejectedNegotiation:
		sets = append(sets, "rejected_at = $3", "rejection_reason = $5")
		args = append(args, change.Reason)
	case models.ExpiredNegotiation, models.CancelledNegotiation:
		sets = append(sets, "rejection_reason = $5")
		args = append(args, change.Reason)
	default:
		return nil, fmt.Errorf("%w: %s is not a terminal negotiation status", models.ErrInvalidState, to)
	}

	query := fmt.Sprintf(`UPDATE negotiations SET %s WHERE id = $1 AND status = ANY($4) RETURNING %s`,
		strings.Join(sets, ", "), negotiationColumns)
	n, err := scanNegotiation(r.DB.QueryRow(ctx, query, args...))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return nil, casMiss(ctx, r.DB, "negotiations", "negotiation", negotiationId)
}

// ExpireNegotiations переводит просроченные открытые переговоры в expired.
func (r *PostgresNegotiationRepository) ExpireNegotiations(ctx context.Context, now time.Time) ([]models.Negotiation, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE negotiations SET status = $2, closed_at = $1, updated_at = $1, version = version + 1
		WHERE expires_at < $1 AND status = ANY($3)
		RETURNING `+negotiationColumns,
		now, models.ExpiredNegotiation, statusArray(models.OpenNegotiationStatuses))
	if err != nil {
		return nil, err
	}
	return collectNegotiations(rows)
}

// ListOrphanedNegotiations возвращает открытые переговоры по закрытым предложениям.
func (r *PostgresNegotiationRepository) ListOrphanedNegotiations(ctx context.Context) ([]models.OrphanedNegotiation, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+prefixColumns("n", negotiationColumns)+`, o.status
		FROM negotiations n
		JOIN offers o ON o.id = n.offer_id
		WHERE n.status = ANY($1) AND o.status = ANY($2)
		ORDER BY n.created_at`,
		statusArray(models.OpenNegotiationStatuses),
		statusArray([]models.OfferStatus{models.SoldOffer, models.ExpiredOffer, models.CancelledOffer}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []models.OrphanedNegotiation
	for rows.Next() {
		var o models.OrphanedNegotiation
		n := &o.Negotiation
		if err := rows.Scan(
			&n.ID, &n.OfferID, &n.CooperativeID, &n.BuyerID, &n.Quantity, &n.InitialPrice, &n.ProposedPrice, &n.FinalPrice,
			&n.Status, &n.Urgency, &n.BuyerUnread, &n.CooperativeUnread, &n.LastActor, &n.RejectionReason, &n.Version,
			&n.CreatedAt, &n.UpdatedAt, &n.ExpiresAt, &n.AcceptedAt, &n.RejectedAt, &n.ClosedAt,
			&o.OfferStatus); err != nil {
			return nil, err
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// MarkRead обнуляет счётчик непрочитанных для стороны.
func (r *PostgresNegotiationRepository) MarkRead(ctx context.Context, negotiationId string, role models.Role) (*models.Negotiation, error) {
	column := "buyer_unread"
	if role == models.CooperativeRole {
		column = "cooperative_unread"
	}
	n, err := scanNegotiation(r.DB.QueryRow(ctx,
		fmt.Sprintf(`UPDATE negotiations SET %s = 0 WHERE id = $1 RETURNING %s`, column, negotiationColumns),
		negotiationId))
	if err != nil {
		return nil, notFoundOr(err, "negotiation", negotiationId)
	}
	return n, nil
}

// AppendMessage добавляет сообщение в переговоры.
func (r *PostgresNegotiationRepository) AppendMessage(ctx context.Context, m *models.NegotiationMessage) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO negotiation_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.NegotiationID, m.SenderRole, m.SenderID, m.Body, m.ProposedPrice, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert negotiation message: %w", err)
	}
	return nil
}

// ListMessages возвращает историю переговоров в порядке создания.
func (r *PostgresNegotiationRepository) ListMessages(ctx context.Context, negotiationId string) ([]models.NegotiationMessage, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+messageColumns+` FROM negotiation_messages
		WHERE negotiation_id = $1
		ORDER BY created_at, id`, negotiationId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.NegotiationMessage
	for rows.Next() {
		var m models.NegotiationMessage
		if err := rows.Scan(&m.ID, &m.NegotiationID, &m.SenderRole, &m.SenderID, &m.Body, &m.ProposedPrice, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
