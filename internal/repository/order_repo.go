package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/senyabanana/coop-offers/internal/models"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, negotiation_id, offer_id, cooperative_id, buyer_id, quantity, unit_price, total_price, status, created_at`

// PostgresOrderRepository - реализация OrderRepository для базы данных.
type PostgresOrderRepository struct {
	DB DBTX
}

// NewPostgresOrderRepository создаёт новый экземпляр PostgresOrderRepository.
func NewPostgresOrderRepository(db DBTX) *PostgresOrderRepository {
	return &PostgresOrderRepository{DB: db}
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.NegotiationID, &o.OfferID, &o.CooperativeID, &o.BuyerID,
		&o.Quantity, &o.UnitPrice, &o.TotalPrice, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder сохраняет заказ. Второй заказ по тем же переговорам отклоняется индексом.
func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.NegotiationID, o.OfferID, o.CooperativeID, o.BuyerID,
		o.Quantity, o.UnitPrice, o.TotalPrice, o.Status, o.CreatedAt)
	if isUniqueViolation(err, orderPerDealConstraint) {
		return fmt.Errorf("%w: negotiation %s", models.ErrDuplicateOrder, o.NegotiationID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по ID.
func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderId string) (*models.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderId))
	if err != nil {
		return nil, notFoundOr(err, "order", orderId)
	}
	return o, nil
}

// GetOrderByNegotiation возвращает заказ, созданный из переговоров.
func (r *PostgresOrderRepository) GetOrderByNegotiation(ctx context.Context, negotiationId string) (*models.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE negotiation_id = $1`, negotiationId))
	if err != nil {
		return nil, notFoundOr(err, "order for negotiation", negotiationId)
	}
	return o, nil
}

// ListOrders возвращает заказы покупателя или кооператива.
func (r *PostgresOrderRepository) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var filters []string
	var args []interface{}
	argIndex := 1

	if filter.BuyerID != "" {
		filters = append(filters, fmt.Sprintf("buyer_id = $%d", argIndex))
		args = append(args, filter.BuyerID)
		argIndex++
	}
	if filter.CooperativeID != "" {
		filters = append(filters, fmt.Sprintf("cooperative_id = $%d", argIndex))
		args = append(args, filter.CooperativeID)
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
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
