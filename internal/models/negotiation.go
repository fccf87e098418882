package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type (
	NegotiationStatus string // Статус переговоров
	Urgency           string // Срочность, вычисляется из времени до истечения
	Role              string // Роль участника
)

const (
	PendingNegotiation   NegotiationStatus = "pending"   // Ждёт первого ответа кооператива
	ActiveNegotiation    NegotiationStatus = "active"    // Идёт обмен встречными предложениями
	AcceptedNegotiation  NegotiationStatus = "accepted"  // Сделка заключена
	RejectedNegotiation  NegotiationStatus = "rejected"  // Отклонено стороной или системой
	ExpiredNegotiation   NegotiationStatus = "expired"   // Истёк срок
	CancelledNegotiation NegotiationStatus = "cancelled" // Отозвано покупателем

	LowUrgency    Urgency = "low"
	MediumUrgency Urgency = "medium"
	HighUrgency   Urgency = "high"

	BuyerRole       Role = "buyer"
	CooperativeRole Role = "cooperative"
	AdminRole       Role = "admin"
	SystemRole      Role = "system" // Автор системных сообщений
)

// Причины автоматического отклонения.
const (
	ReasonOfferSold      = "offer sold to another buyer"
	ReasonOfferCancelled = "offer cancelled by cooperative"
	ReasonOfferClosed    = "offer is no longer available"
)

// OpenNegotiationStatuses - нетерминальные статусы переговоров.
var OpenNegotiationStatuses = []NegotiationStatus{PendingNegotiation, ActiveNegotiation}

// IsOpen - переговоры ещё можно менять.
func (s NegotiationStatus) IsOpen() bool {
	return slices.Contains(OpenNegotiationStatuses, s)
}

// Valid проверяет, что статус входит в перечисление.
func (s NegotiationStatus) Valid() bool {
	switch s {
	case PendingNegotiation, ActiveNegotiation, AcceptedNegotiation, RejectedNegotiation, ExpiredNegotiation, CancelledNegotiation:
		return true
	}
	return false
}

// Opposite возвращает противоположную сторону переговоров.
func (r Role) Opposite() Role {
	if r == BuyerRole {
		return CooperativeRole
	}
	return BuyerRole
}

// UrgencyFor вычисляет срочность по времени до истечения переговоров.
func UrgencyFor(expiresAt, now time.Time) Urgency {
	left := expiresAt.Sub(now)
	switch {
	case left < 24*time.Hour:
		return HighUrgency
	case left < 72*time.Hour:
		return MediumUrgency
	default:
		return LowUrgency
	}
}

// Negotiation представляет модель переговоров одного покупателя по предложению.
type Negotiation struct {
	ID                string              `json:"id"`
	OfferID           string              `json:"offerId"`
	CooperativeID     string              `json:"cooperativeId"`
	BuyerID           string              `json:"buyerId"`
	Quantity          decimal.Decimal     `json:"quantity"`
	InitialPrice      decimal.Decimal     `json:"initialPrice"`
	ProposedPrice     decimal.Decimal     `json:"proposedPrice"`
	FinalPrice        decimal.NullDecimal `json:"finalPrice"`
	Status            NegotiationStatus   `json:"status"`
	Urgency           Urgency             `json:"urgency"`
	BuyerUnread       int                 `json:"buyerUnread"`
	CooperativeUnread int                 `json:"cooperativeUnread"`
	LastActor         Role                `json:"lastActor"`
	RejectionReason   string              `json:"rejectionReason,omitempty"`
	Version           int                 `json:"version"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	ExpiresAt         time.Time           `json:"expiresAt"`
	AcceptedAt        *time.Time          `json:"acceptedAt,omitempty"`
	RejectedAt        *time.Time          `json:"rejectedAt,omitempty"`
	ClosedAt          *time.Time          `json:"closedAt,omitempty"`
}

// NegotiationRequest - запрос покупателя на открытие переговоров.
type NegotiationRequest struct {
	OfferID      string          `json:"offerId"`
	InitialPrice decimal.Decimal `json:"initialPrice"`
	Quantity     decimal.Decimal `json:"quantity"`
	Message      string          `json:"message"`
}

// CounterOfferRequest - встречное предложение одной из сторон.
type CounterOfferRequest struct {
	ProposedPrice   decimal.Decimal `json:"proposedPrice"`
	Message         string          `json:"message"`
	ExpectedVersion int             `json:"expectedVersion"`
}

// CounterOffer - изменение, применяемое репозиторием атомарно.
type CounterOffer struct {
	ProposedPrice   decimal.Decimal
	Urgency         Urgency
	Actor           Role
	ExpectedVersion int
	At              time.Time
}

// StatusChange - данные терминального перехода переговоров.
type StatusChange struct {
	FinalPrice decimal.NullDecimal
	Reason     string
	At         time.Time
}

// NegotiationFilter - параметры выборки переговоров.
type NegotiationFilter struct {
	OfferID       string
	BuyerID       string
	CooperativeID string
	Statuses      []NegotiationStatus
	Limit         int
	Offset        int
}

// NegotiationMessage - одна реплика в переговорах.
type NegotiationMessage struct {
	ID            string              `json:"id"`
	NegotiationID string              `json:"negotiationId"`
	SenderRole    Role                `json:"senderRole"`
	SenderID      string              `json:"senderId"`
	Body          string              `json:"body"`
	ProposedPrice decimal.NullDecimal `json:"proposedPrice"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// OrphanedNegotiation - открытые переговоры по предложению, которое уже закрыто.
type OrphanedNegotiation struct {
	Negotiation Negotiation
	OfferStatus OfferStatus
}

// AcceptRequest - принятие текущего предложения цены. Нулевая цена означает текущую.
type AcceptRequest struct {
	FinalPrice decimal.Decimal `json:"finalPrice"`
}

// RejectRequest - отклонение переговоров с необязательной причиной.
type RejectRequest struct {
	Reason string `json:"reason"`
}
