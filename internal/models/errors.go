package models

import "errors"

// Ошибки предметной области. Сервисы оборачивают их через fmt.Errorf("%w: ...").
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrOfferNotBiddable = errors.New("offer is not open for bids")
	ErrDuplicateBid     = errors.New("buyer already has an open negotiation on this offer")
	ErrQuantity         = errors.New("quantity out of range")
	ErrInvalidState     = errors.New("operation is not allowed in the current state")
	ErrOfferAlreadySold = errors.New("offer already sold")
	ErrOrderCreation    = errors.New("order creation failed")
	ErrDuplicateOrder   = errors.New("order already exists for negotiation")
	ErrForbidden        = errors.New("forbidden")
)
