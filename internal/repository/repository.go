package repository

import (
	"context"
	"time"

	"github.com/senyabanana/coop-offers/internal/models"
)

// OfferRepository - интерфейс для работы с предложениями.
type OfferRepository interface {
	CreateOffer(ctx context.Context, offer *models.Offer) error
	GetOffer(ctx context.Context, offerId string) (*models.Offer, error)
	ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error)
	// TransitionOfferStatus меняет статус только если текущий равен from,
	// иначе возвращает models.ErrConflict.
	TransitionOfferStatus(ctx context.Context, offerId string, from, to models.OfferStatus, at time.Time) (*models.Offer, error)
	// ClaimOfferForNegotiation переводит active -> negotiating и оставляет negotiating как есть.
	// Если предложение нельзя торговать или срок поставки прошёл, возвращает models.ErrConflict.
	// В транзакции держит строку предложения до коммита.
	ClaimOfferForNegotiation(ctx context.Context, offerId string, at time.Time) (*models.Offer, error)
	// ReopenOfferIfIdle возвращает предложение negotiating -> active, если по нему
	// не осталось открытых переговоров и срок поставки не прошёл.
	ReopenOfferIfIdle(ctx context.Context, offerId string, at time.Time) (bool, error)
	ExpireOffers(ctx context.Context, now time.Time) ([]models.Offer, error)
	IncrementOfferViews(ctx context.Context, offerId string) error
	IncrementOfferInterest(ctx context.Context, offerId string) error
}

// NegotiationRepository - интерфейс для работы с переговорами и их сообщениями.
type NegotiationRepository interface {
	CreateNegotiation(ctx context.Context, negotiation *models.Negotiation) error
	GetNegotiation(ctx context.Context, negotiationId string) (*models.Negotiation, error)
	ListNegotiations(ctx context.Context, filter models.NegotiationFilter) ([]models.Negotiation, error)
	HasOpenNegotiation(ctx context.Context, offerId, buyerId string) (bool, error)
	ListOpenSiblings(ctx context.Context, offerId, exceptId string) ([]models.Negotiation, error)
	// ApplyCounterOffer обновляет цену только у открытых переговоров.
	ApplyCounterOffer(ctx context.Context, negotiationId string, counter models.CounterOffer) (*models.Negotiation, error)
	// TransitionNegotiation переводит открытые переговоры в терминальный статус.
	TransitionNegotiation(ctx context.Context, negotiationId string, to models.NegotiationStatus, change models.StatusChange) (*models.Negotiation, error)
	ExpireNegotiations(ctx context.Context, now time.Time) ([]models.Negotiation, error)
	ListOrphanedNegotiations(ctx context.Context) ([]models.OrphanedNegotiation, error)
	MarkRead(ctx context.Context, negotiationId string, role models.Role) (*models.Negotiation, error)
	AppendMessage(ctx context.Context, message *models.NegotiationMessage) error
	ListMessages(ctx context.Context, negotiationId string) ([]models.NegotiationMessage, error)
}

// OrderRepository - интерфейс для работы с заказами.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderId string) (*models.Order, error)
	GetOrderByNegotiation(ctx context.Context, negotiationId string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
}

// Store объединяет репозитории и даёт транзакцию поверх них.
// Внутри WithTx все репозитории fn работают в одной транзакции;
// ошибка fn откатывает все изменения.
type Store interface {
	Offers() OfferRepository
	Negotiations() NegotiationRepository
	Orders() OrderRepository
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
