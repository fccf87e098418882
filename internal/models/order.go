package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string // Статус заказа

const ConfirmedOrder OrderStatus = "confirmed" // Заказ создан из принятых переговоров

// Order представляет твёрдый заказ, созданный из принятых переговоров.
type Order struct {
	ID            string          `json:"id"`
	NegotiationID string          `json:"negotiationId"`
	OfferID       string          `json:"offerId"`
	CooperativeID string          `json:"cooperativeId"`
	BuyerID       string          `json:"buyerId"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// OrderFilter - параметры выборки заказов.
type OrderFilter struct {
	BuyerID       string
	CooperativeID string
	Limit         int
	Offset        int
}
