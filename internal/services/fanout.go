package services

import (
	"context"
	"errors"
	"time"

	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"

	"github.com/shopspring/decimal"
)

// RetryPolicy - параметры повторов при закрытии соседних переговоров.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy возвращает политику по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	return p.Backoff << (attempt - 1)
}

var closedEvent = map[models.NegotiationStatus]events.Type{
	models.RejectedNegotiation:  events.NegotiationRejected,
	models.CancelledNegotiation: events.NegotiationCancelled,
	models.ExpiredNegotiation:   events.NegotiationExpired,
}

// closeNegotiation переводит переговоры в терминальный статус и добавляет
// системное сообщение с причиной в той же транзакции.
func (d *deps) closeNegotiation(ctx context.Context, negotiationId string, to models.NegotiationStatus, reason string, sender models.Actor) (*models.Negotiation, error) {
	var closed *models.Negotiation
	err := d.store.WithTx(ctx, func(tx repository.Store) error {
		at := d.now()
		n, err := tx.Negotiations().TransitionNegotiation(ctx, negotiationId, to, models.StatusChange{Reason: reason, At: at})
		if err != nil {
			return err
		}
		if reason != "" {
			msg := &models.NegotiationMessage{
				ID:            messageID(at),
				NegotiationID: negotiationId,
				SenderRole:    sender.Role,
				SenderID:      sender.ID,
				Body:          reason,
				ProposedPrice: decimal.NullDecimal{},
				CreatedAt:     at,
			}
			if err := tx.Negotiations().AppendMessage(ctx, msg); err != nil {
				return err
			}
		}
		closed = n
		return nil
	})
	return closed, err
}

// closeWithRetry повторяет closeNegotiation с экспоненциальной паузой.
// ErrConflict и ErrNotFound не повторяются: переговоры уже закрыты кем-то другим.
func (d *deps) closeWithRetry(ctx context.Context, negotiationId string, to models.NegotiationStatus, reason string, policy RetryPolicy) (*models.Negotiation, error) {
	attempts := max(policy.Attempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, policy.delay(attempt)); err != nil {
				return nil, err
			}
		}
		n, err := d.closeNegotiation(ctx, negotiationId, to, reason, systemActor)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

var systemActor = models.Actor{ID: "system", Role: models.SystemRole}

// fanOut отклоняет все открытые переговоры по предложению, кроме exceptId.
// Выполняется после коммита и не зависит от отмены контекста запроса.
// Переговоры, которые не удалось закрыть, остаются для ReconcileOrphans.
func (d *deps) fanOut(ctx context.Context, offerId, exceptId, reason string, policy RetryPolicy) []models.Negotiation {
	ctx = context.WithoutCancel(ctx)

	var siblings []models.Negotiation
	var err error
	for attempt := 0; attempt < max(policy.Attempts, 1); attempt++ {
		if attempt > 0 {
			_ = sleepCtx(ctx, policy.delay(attempt))
		}
		if siblings, err = d.store.Negotiations().ListOpenSiblings(ctx, offerId, exceptId); err == nil {
			break
		}
	}
	if err != nil {
		d.logger.Printf("[fanout][ERROR] list open negotiations of offer %s: %v", offerId, err)
		return nil
	}

	var rejected []models.Negotiation
	for _, sibling := range siblings {
		n, err := d.closeWithRetry(ctx, sibling.ID, models.RejectedNegotiation, reason, policy)
		switch {
		case err == nil:
			rejected = append(rejected, *n)
			d.publish(events.NegotiationRejected, offerId, n)
		case errors.Is(err, models.ErrConflict):
			// уже закрыты параллельно
		default:
			d.logger.Printf("[fanout][ERROR] reject negotiation %s of offer %s after %d attempts: %v",
				sibling.ID, offerId, max(policy.Attempts, 1), err)
		}
	}
	return rejected
}

// reopenOffer возвращает предложение в продажу, если открытых переговоров не осталось.
func (d *deps) reopenOffer(ctx context.Context, offerId string) {
	reopened, err := d.store.Offers().ReopenOfferIfIdle(ctx, offerId, d.now())
	if err != nil {
		d.logger.Printf("[offers][ERROR] reopen offer %s: %v", offerId, err)
		return
	}
	if reopened {
		d.logger.Printf("[offers] offer %s is active again", offerId)
	}
}
