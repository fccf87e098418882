package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type OfferStatus string // Статус группового предложения

const (
	DraftOffer       OfferStatus = "draft"       // Черновик, не виден покупателям
	ActiveOffer      OfferStatus = "active"      // Опубликовано, принимает заявки
	NegotiatingOffer OfferStatus = "negotiating" // Есть открытые переговоры
	SoldOffer        OfferStatus = "sold"        // Продано одному покупателю
	ExpiredOffer     OfferStatus = "expired"     // Истёк срок поставки
	CancelledOffer   OfferStatus = "cancelled"   // Отменено кооперативом
)

// offerTransitions - допустимые переходы статусов предложения.
// negotiating -> active используется только для возврата предложения в продажу,
// когда последние открытые переговоры закрылись без сделки.
var offerTransitions = map[OfferStatus][]OfferStatus{
	DraftOffer:       {ActiveOffer, CancelledOffer},
	ActiveOffer:      {NegotiatingOffer, ExpiredOffer, CancelledOffer},
	NegotiatingOffer: {SoldOffer, ExpiredOffer, CancelledOffer, ActiveOffer},
	SoldOffer:        {},
	ExpiredOffer:     {},
	CancelledOffer:   {},
}

// Valid проверяет, что статус входит в перечисление.
func (s OfferStatus) Valid() bool {
	_, ok := offerTransitions[s]
	return ok
}

// CanTransitionTo проверяет переход по таблице.
func (s OfferStatus) CanTransitionTo(to OfferStatus) bool {
	return slices.Contains(offerTransitions[s], to)
}

// IsTerminal - статусы, после которых предложение не меняется.
func (s OfferStatus) IsTerminal() bool {
	return s.Valid() && len(offerTransitions[s]) == 0
}

// IsBiddable - можно ли открыть переговоры по предложению в этом статусе.
func (s OfferStatus) IsBiddable() bool {
	return s == ActiveOffer || s == NegotiatingOffer
}

// Offer представляет модель группового предложения кооператива.
type Offer struct {
	ID               string          `json:"id"`
	CooperativeID    string          `json:"cooperativeId"`
	ProductRef       string          `json:"productRef"`
	Title            string          `json:"title"`
	TotalQuantity    decimal.Decimal `json:"totalQuantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	MinOrderQuantity decimal.Decimal `json:"minOrderQuantity"`
	Status           OfferStatus     `json:"status"`
	DeliveryDeadline time.Time       `json:"deliveryDeadline"`
	ViewCount        int64           `json:"viewCount"`
	InterestCount    int64           `json:"interestCount"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// OfferRequest представляет структуру запроса для создания предложения.
type OfferRequest struct {
	CooperativeID    string          `json:"cooperativeId"`
	ProductRef       string          `json:"productRef"`
	Title            string          `json:"title"`
	TotalQuantity    decimal.Decimal `json:"totalQuantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	MinOrderQuantity decimal.Decimal `json:"minOrderQuantity"`
	DeliveryDeadline time.Time       `json:"deliveryDeadline"`
	Draft            bool            `json:"draft"`
}

// OfferFilter - параметры выборки предложений.
type OfferFilter struct {
	CooperativeID string
	Statuses      []OfferStatus
	Limit         int
	Offset        int
}
