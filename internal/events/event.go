// Package events доставляет доменные события о предложениях, переговорах и заказах.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string // Тип доменного события

const (
	NegotiationOpened    Type = "negotiation.opened"
	NegotiationCountered Type = "negotiation.countered"
	NegotiationAccepted  Type = "negotiation.accepted"
	NegotiationRejected  Type = "negotiation.rejected"
	NegotiationCancelled Type = "negotiation.cancelled"
	NegotiationExpired   Type = "negotiation.expired"
	OfferSold            Type = "offer.sold"
	OfferExpired         Type = "offer.expired"
	OfferCancelled       Type = "offer.cancelled"
	OrderCreated         Type = "order.created"
)

// Types - все известные типы, на них подписывается воркер.
var Types = []Type{
	NegotiationOpened, NegotiationCountered, NegotiationAccepted, NegotiationRejected,
	NegotiationCancelled, NegotiationExpired, OfferSold, OfferExpired, OfferCancelled, OrderCreated,
}

// Event - событие со снимком сущности в Payload.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OfferID    string          `json:"offerId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// New создаёт событие. Снимки моделей всегда сериализуются, ошибку маршалинга не проверяем.
func New(t Type, offerID string, payload any) Event {
	b, _ := json.Marshal(payload)
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OfferID:    offerID,
		OccurredAt: time.Now().UTC(),
		Payload:    b,
	}
}

// Publisher принимает события без ожидания доставки.
type Publisher interface {
	Publish(evt Event)
}

// Sink доставляет одно событие получателю.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// Discard - Publisher, который ничего не делает.
type Discard struct{}

func (Discard) Publish(Event) {}
