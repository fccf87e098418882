package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"

	"github.com/google/uuid"
)

// OrderMaterializer создаёт заказ из принятых переговоров внутри транзакции принятия.
type OrderMaterializer interface {
	Materialize(ctx context.Context, orders repository.OrderRepository, negotiation models.Negotiation) (*models.Order, error)
}

// OrderService превращает принятые переговоры в заказы и отдаёт их участникам.
type OrderService struct {
	deps
}

var _ OrderMaterializer = (*OrderService)(nil)

// NewOrderService создаёт новый экземпляр OrderService.
func NewOrderService(store repository.Store, logger *log.Logger) *OrderService {
	return &OrderService{deps: newDeps(store, nil, logger)}
}

// Materialize создаёт ровно один заказ на принятые переговоры.
func (s *OrderService) Materialize(ctx context.Context, orders repository.OrderRepository, n models.Negotiation) (*models.Order, error) {
	if n.Status != models.AcceptedNegotiation || !n.FinalPrice.Valid {
		return nil, fmt.Errorf("%w: negotiation %s is %s", models.ErrInvalidState, n.ID, n.Status)
	}

	existing, err := orders.GetOrderByNegotiation(ctx, n.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: order %s for negotiation %s", models.ErrDuplicateOrder, existing.ID, n.ID)
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	price := n.FinalPrice.Decimal
	order := &models.Order{
		ID:            uuid.NewString(),
		NegotiationID: n.ID,
		OfferID:       n.OfferID,
		CooperativeID: n.CooperativeID,
		BuyerID:       n.BuyerID,
		Quantity:      n.Quantity,
		UnitPrice:     price,
		TotalPrice:    n.Quantity.Mul(price),
		Status:        models.ConfirmedOrder,
		CreatedAt:     s.now(),
	}
	if err := orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder возвращает заказ одному из его участников.
func (s *OrderService) GetOrder(ctx context.Context, actor models.Actor, orderId string) (*models.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := checkID("order", orderId); err != nil {
		return nil, err
	}
	order, err := s.store.Orders().GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.AdminRole && actor.ID != order.BuyerID && actor.ID != order.CooperativeID {
		return nil, fmt.Errorf("%w: order %s", models.ErrForbidden, orderId)
	}
	return order, nil
}

// ListOrders возвращает заказы участника по его роли.
func (s *OrderService) ListOrders(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter := models.OrderFilter{Limit: limit, Offset: offset}
	switch actor.Role {
	case models.BuyerRole:
		filter.BuyerID = actor.ID
	case models.CooperativeRole:
		filter.CooperativeID = actor.ID
	default:
		return nil, fmt.Errorf("%w: role %s has no orders", models.ErrForbidden, actor.Role)
	}
	orders, err := s.store.Orders().ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}
