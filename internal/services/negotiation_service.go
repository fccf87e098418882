package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxMessageLength = 2000
	sellAttempts     = 3
)

// NegotiationConfig - настройки движка переговоров.
type NegotiationConfig struct {
	TTL   time.Duration
	Retry RetryPolicy
}

// AcceptResult - итог принятия переговоров.
type AcceptResult struct {
	Negotiation models.Negotiation   `json:"negotiation"`
	Offer       models.Offer         `json:"offer"`
	Order       models.Order         `json:"order"`
	Rejected    []models.Negotiation `json:"rejected"`
}

// NegotiationService - движок переговоров по групповым предложениям.
type NegotiationService struct {
	deps
	orders OrderMaterializer
	cfg    NegotiationConfig
}

// NewNegotiationService создаёт новый экземпляр NegotiationService.
func NewNegotiationService(store repository.Store, orders OrderMaterializer, publisher events.Publisher, logger *log.Logger, cfg NegotiationConfig) *NegotiationService {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &NegotiationService{deps: newDeps(store, publisher, logger), orders: orders, cfg: cfg}
}

// participantRole определяет сторону actor в переговорах.
func participantRole(actor models.Actor, n *models.Negotiation) (models.Role, error) {
	switch {
	case actor.Role == models.BuyerRole && actor.ID == n.BuyerID:
		return models.BuyerRole, nil
	case actor.Role == models.CooperativeRole && actor.ID == n.CooperativeID:
		return models.CooperativeRole, nil
	}
	return "", fmt.Errorf("%w: actor %s is not a party to negotiation %s", models.ErrForbidden, actor.ID, n.ID)
}

// closedError объясняет, почему закрытые переговоры нельзя менять. Переговоры,
// отклонённые из-за продажи предложения, сообщают о продаже.
func closedError(n *models.Negotiation) error {
	if n.Status == models.RejectedNegotiation && n.RejectionReason == models.ReasonOfferSold {
		return fmt.Errorf("%w: offer %s", models.ErrOfferAlreadySold, n.OfferID)
	}
	return fmt.Errorf("%w: negotiation %s is %s", models.ErrInvalidState, n.ID, n.Status)
}

func checkMessage(body string) (string, error) {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) > maxMessageLength {
		return "", fmt.Errorf("%w: message is longer than %d characters", models.ErrValidation, maxMessageLength)
	}
	return body, nil
}

func (s *NegotiationService) participant(ctx context.Context, actor models.Actor, negotiationId string) (*models.Negotiation, models.Role, error) {
	if err := requireActor(actor); err != nil {
		return nil, "", err
	}
	if err := checkID("negotiation", negotiationId); err != nil {
		return nil, "", err
	}
	n, err := s.store.Negotiations().GetNegotiation(ctx, negotiationId)
	if err != nil {
		return nil, "", err
	}
	role, err := participantRole(actor, n)
	if err != nil {
		return nil, "", err
	}
	return n, role, nil
}

// refreshUrgency пересчитывает срочность открытых переговоров на момент чтения.
func (s *NegotiationService) refreshUrgency(n *models.Negotiation) {
	if n.Status.IsOpen() {
		n.Urgency = models.UrgencyFor(n.ExpiresAt, s.now())
	}
}

// OpenNegotiation открывает переговоры покупателя по предложению.
func (s *NegotiationService) OpenNegotiation(ctx context.Context, actor models.Actor, req models.NegotiationRequest) (*models.Negotiation, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.BuyerRole {
		return nil, fmt.Errorf("%w: only buyers can open negotiations", models.ErrForbidden)
	}
	if !req.InitialPrice.IsPositive() {
		return nil, fmt.Errorf("%w: initialPrice must be positive", models.ErrValidation)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}
	body, err := checkMessage(req.Message)
	if err != nil {
		return nil, err
	}
	if err := checkID("offer", req.OfferID); err != nil {
		return nil, err
	}

	offer, err := s.store.Offers().GetOffer(ctx, req.OfferID)
	if err != nil {
		return nil, err
	}
	if offer.CooperativeID == actor.ID {
		return nil, fmt.Errorf("%w: cannot bid on own offer", models.ErrForbidden)
	}
	now := s.now()
	if !offer.Status.IsBiddable() || !offer.DeliveryDeadline.After(now) {
		return nil, fmt.Errorf("%w: offer %s is %s", models.ErrOfferNotBiddable, offer.ID, offer.Status)
	}
	exists, err := s.store.Negotiations().HasOpenNegotiation(ctx, offer.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: offer %s buyer %s", models.ErrDuplicateBid, offer.ID, actor.ID)
	}
	if req.Quantity.LessThan(offer.MinOrderQuantity) || req.Quantity.GreaterThan(offer.TotalQuantity) {
		return nil, fmt.Errorf("%w: quantity %s must be between %s and %s",
			models.ErrQuantity, req.Quantity, offer.MinOrderQuantity, offer.TotalQuantity)
	}

	expiresAt := now.Add(s.cfg.TTL)
	if offer.DeliveryDeadline.Before(expiresAt) {
		expiresAt = offer.DeliveryDeadline
	}
	n := &models.Negotiation{
		ID:                uuid.NewString(),
		OfferID:           offer.ID,
		CooperativeID:     offer.CooperativeID,
		BuyerID:           actor.ID,
		Quantity:          req.Quantity,
		InitialPrice:      req.InitialPrice,
		ProposedPrice:     req.InitialPrice,
		Status:            models.PendingNegotiation,
		Urgency:           models.UrgencyFor(expiresAt, now),
		CooperativeUnread: 1,
		LastActor:         models.BuyerRole,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         expiresAt,
	}

	// Статус предложения проверяется по строке, захваченной в транзакции.
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		_, err := tx.Offers().ClaimOfferForNegotiation(ctx, offer.ID, now)
		if errors.Is(err, models.ErrConflict) {
			current, getErr := tx.Offers().GetOffer(ctx, offer.ID)
			if getErr != nil {
				return getErr
			}
			return fmt.Errorf("%w: offer %s is %s", models.ErrOfferNotBiddable, offer.ID, current.Status)
		}
		if err != nil {
			return err
		}
		if err := tx.Negotiations().CreateNegotiation(ctx, n); err != nil {
			return err
		}
		if body == "" {
			return nil
		}
		return tx.Negotiations().AppendMessage(ctx, &models.NegotiationMessage{
			ID:            messageID(now),
			NegotiationID: n.ID,
			SenderRole:    models.BuyerRole,
			SenderID:      actor.ID,
			Body:          body,
			ProposedPrice: decimal.NewNullDecimal(req.InitialPrice),
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Offers().IncrementOfferInterest(ctx, offer.ID); err != nil {
		s.logger.Printf("[offers][ERROR] increment interest of %s: %v", offer.ID, err)
	}
	s.publish(events.NegotiationOpened, n.OfferID, n)
	return n, nil
}

// CounterOffer применяет встречное предложение одной из сторон.
// При ExpectedVersion = 0 побеждает последняя запись.
func (s *NegotiationService) CounterOffer(ctx context.Context, actor models.Actor, negotiationId string, req models.CounterOfferRequest) (*models.Negotiation, error) {
	if !req.ProposedPrice.IsPositive() {
		return nil, fmt.Errorf("%w: proposedPrice must be positive", models.ErrValidation)
	}
	if req.ExpectedVersion < 0 {
		return nil, fmt.Errorf("%w: expectedVersion must not be negative", models.ErrValidation)
	}
	body, err := checkMessage(req.Message)
	if err != nil {
		return nil, err
	}
	n, role, err := s.participant(ctx, actor, negotiationId)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !n.Status.IsOpen() {
		return nil, closedError(n)
	}
	if !n.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: negotiation %s has expired", models.ErrInvalidState, n.ID)
	}

	var updated *models.Negotiation
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		updated, err = tx.Negotiations().ApplyCounterOffer(ctx, n.ID, models.CounterOffer{
			ProposedPrice:   req.ProposedPrice,
			Urgency:         models.UrgencyFor(n.ExpiresAt, now),
			Actor:           role,
			ExpectedVersion: req.ExpectedVersion,
			At:              now,
		})
		if err != nil {
			return err
		}
		return tx.Negotiations().AppendMessage(ctx, &models.NegotiationMessage{
			ID:            messageID(now),
			NegotiationID: n.ID,
			SenderRole:    role,
			SenderID:      actor.ID,
			Body:          body,
			ProposedPrice: decimal.NewNullDecimal(req.ProposedPrice),
			CreatedAt:     now,
		})
	})
	if errors.Is(err, models.ErrConflict) {
		if current, gerr := s.store.Negotiations().GetNegotiation(ctx, n.ID); gerr == nil && !current.Status.IsOpen() {
			return nil, closedError(current)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.publish(events.NegotiationCountered, updated.OfferID, updated)
	return updated, nil
}

// Accept принимает текущее предложение цены. Продажа предложения, перевод переговоров
// в accepted и создание заказа выполняются одной транзакцией. Остальные открытые
// переговоры по предложению отклоняются после коммита.
func (s *NegotiationService) Accept(ctx context.Context, actor models.Actor, negotiationId string, finalPrice decimal.Decimal) (*AcceptResult, error) {
	if finalPrice.IsNegative() {
		return nil, fmt.Errorf("%w: finalPrice must not be negative", models.ErrValidation)
	}
	n, role, err := s.participant(ctx, actor, negotiationId)
	if err != nil {
		return nil, err
	}
	if !n.Status.IsOpen() {
		return nil, closedError(n)
	}
	if role == n.LastActor {
		return nil, fmt.Errorf("%w: %s cannot accept its own proposal", models.ErrInvalidState, role)
	}
	if finalPrice.IsZero() {
		finalPrice = n.ProposedPrice
	}
	if !finalPrice.Equal(n.ProposedPrice) {
		return nil, fmt.Errorf("%w: finalPrice %s differs from the current proposal %s",
			models.ErrValidation, finalPrice, n.ProposedPrice)
	}
	now := s.now()
	if !n.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: negotiation %s has expired", models.ErrInvalidState, n.ID)
	}

	var result AcceptResult
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		offer, err := sellOffer(ctx, tx.Offers(), n.OfferID, now)
		if err != nil {
			return err
		}
		accepted, err := tx.Negotiations().TransitionNegotiation(ctx, n.ID, models.AcceptedNegotiation, models.StatusChange{
			FinalPrice: decimal.NewNullDecimal(finalPrice),
			At:         now,
		})
		if errors.Is(err, models.ErrConflict) {
			return fmt.Errorf("%w: negotiation %s is no longer open", models.ErrInvalidState, n.ID)
		}
		if err != nil {
			return err
		}
		order, err := s.orders.Materialize(ctx, tx.Orders(), *accepted)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrOrderCreation, err)
		}
		result.Offer, result.Negotiation, result.Order = *offer, *accepted, *order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.NegotiationAccepted, n.OfferID, result.Negotiation)
	s.publish(events.OfferSold, n.OfferID, result.Offer)
	s.publish(events.OrderCreated, n.OfferID, result.Order)

	result.Rejected = s.fanOut(ctx, n.OfferID, n.ID, models.ReasonOfferSold, s.cfg.Retry)
	if result.Rejected == nil {
		result.Rejected = []models.Negotiation{}
	}
	return &result, nil
}

// sellOffer переводит предложение в sold. Предложение в active сначала переводится
// в negotiating, чтобы не нарушать таблицу переходов.
func sellOffer(ctx context.Context, offers repository.OfferRepository, offerId string, now time.Time) (*models.Offer, error) {
	for attempt := 0; attempt < sellAttempts; attempt++ {
		offer, err := offers.GetOffer(ctx, offerId)
		if err != nil {
			return nil, err
		}
		if offer.Status == models.SoldOffer {
			return nil, fmt.Errorf("%w: offer %s", models.ErrOfferAlreadySold, offerId)
		}
		if !offer.Status.IsBiddable() || !offer.DeliveryDeadline.After(now) {
			return nil, fmt.Errorf("%w: offer %s is %s", models.ErrOfferNotBiddable, offerId, offer.Status)
		}
		if offer.Status == models.ActiveOffer {
			_, err := offers.TransitionOfferStatus(ctx, offerId, models.ActiveOffer, models.NegotiatingOffer, now)
			if errors.Is(err, models.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
		}
		sold, err := offers.TransitionOfferStatus(ctx, offerId, models.NegotiatingOffer, models.SoldOffer, now)
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return sold, nil
	}
	return nil, fmt.Errorf("%w: offer %s", models.ErrOfferAlreadySold, offerId)
}

// Reject отклоняет переговоры одной из сторон.
func (s *NegotiationService) Reject(ctx context.Context, actor models.Actor, negotiationId, reason string) (*models.Negotiation, error) {
	reason, err := checkMessage(reason)
	if err != nil {
		return nil, err
	}
	n, role, err := s.participant(ctx, actor, negotiationId)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "rejected by " + string(role)
	}
	return s.close(ctx, actor, n, role, models.RejectedNegotiation, reason)
}

// Cancel отзывает заявку покупателя.
func (s *NegotiationService) Cancel(ctx context.Context, actor models.Actor, negotiationId string) (*models.Negotiation, error) {
	n, role, err := s.participant(ctx, actor, negotiationId)
	if err != nil {
		return nil, err
	}
	if role != models.BuyerRole {
		return nil, fmt.Errorf("%w: only the buyer can withdraw a negotiation", models.ErrForbidden)
	}
	return s.close(ctx, actor, n, role, models.CancelledNegotiation, "withdrawn by buyer")
}

func (s *NegotiationService) close(ctx context.Context, actor models.Actor, n *models.Negotiation, role models.Role, to models.NegotiationStatus, reason string) (*models.Negotiation, error) {
	if !n.Status.IsOpen() {
		return nil, fmt.Errorf("%w: negotiation %s is %s", models.ErrInvalidState, n.ID, n.Status)
	}
	closed, err := s.closeNegotiation(ctx, n.ID, to, reason, models.Actor{ID: actor.ID, Role: role})
	if errors.Is(err, models.ErrConflict) {
		return nil, fmt.Errorf("%w: negotiation %s is no longer open", models.ErrInvalidState, n.ID)
	}
	if err != nil {
		return nil, err
	}
	s.reopenOffer(context.WithoutCancel(ctx), n.OfferID)
	s.publish(closedEvent[to], closed.OfferID, closed)
	return closed, nil
}

// ExpireDueNegotiations закрывает открытые переговоры с истёкшим сроком.
func (s *NegotiationService) ExpireDueNegotiations(ctx context.Context) ([]models.Negotiation, error) {
	expired, err := s.store.Negotiations().ExpireNegotiations(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("expire negotiations: %w", err)
	}
	seen := make(map[string]bool)
	for i := range expired {
		s.publish(events.NegotiationExpired, expired[i].OfferID, expired[i])
		if !seen[expired[i].OfferID] {
			seen[expired[i].OfferID] = true
			s.reopenOffer(ctx, expired[i].OfferID)
		}
	}
	return expired, nil
}

// ReconcileOrphans закрывает открытые переговоры, чьё предложение уже закрыто.
func (s *NegotiationService) ReconcileOrphans(ctx context.Context) ([]models.Negotiation, error) {
	orphans, err := s.store.Negotiations().ListOrphanedNegotiations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orphaned negotiations: %w", err)
	}

	var closed []models.Negotiation
	var errs []error
	for _, orphan := range orphans {
		to, reason := models.RejectedNegotiation, models.ReasonOfferClosed
		switch orphan.OfferStatus {
		case models.SoldOffer:
			reason = models.ReasonOfferSold
		case models.CancelledOffer:
			reason = models.ReasonOfferCancelled
		case models.ExpiredOffer:
			to, reason = models.ExpiredNegotiation, ""
		}
		n, err := s.closeNegotiation(ctx, orphan.Negotiation.ID, to, reason, systemActor)
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("negotiation %s: %w", orphan.Negotiation.ID, err))
			continue
		}
		closed = append(closed, *n)
		s.publish(closedEvent[to], n.OfferID, n)
	}
	return closed, errors.Join(errs...)
}

// GetNegotiation возвращает переговоры участнику.
func (s *NegotiationService) GetNegotiation(ctx context.Context, actor models.Actor, negotiationId string) (*models.Negotiation, error) {
	n, _, err := s.participant(ctx, actor, negotiationId)
	if err != nil {
		return nil, err
	}
	s.refreshUrgency(n)
	return n, nil
}

// ListMyNegotiations возвращает переговоры участника по его роли.
func (s *NegotiationService) ListMyNegotiations(ctx context.Context, actor models.Actor, filter models.NegotiationFilter) ([]models.Negotiation, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter.BuyerID, filter.CooperativeID = "", ""
	switch actor.Role {
	case models.BuyerRole:
		filter.BuyerID = actor.ID
	case models.CooperativeRole:
		filter.CooperativeID = actor.ID
	default:
		return nil, fmt.Errorf("%w: role %s has no negotiations", models.ErrForbidden, actor.Role)
	}
	return s.list(ctx, filter)
}

// ListOfferNegotiations возвращает переговоры по предложению. Кооператив видит все,
// покупатель - только свои.
func (s *NegotiationService) ListOfferNegotiations(ctx context.Context, actor models.Actor, offerId string, filter models.NegotiationFilter) ([]models.Negotiation, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := checkID("offer", offerId); err != nil {
		return nil, err
	}
	offer, err := s.store.Offers().GetOffer(ctx, offerId)
	if err != nil {
		return nil, err
	}
	filter.OfferID, filter.BuyerID, filter.CooperativeID = offerId, "", ""
	switch {
	case actor.Role == models.CooperativeRole && actor.ID == offer.CooperativeID:
	case actor.Role == models.BuyerRole:
		filter.BuyerID = actor.ID
	default:
		return nil, fmt.Errorf("%w: offer %s", models.ErrForbidden, offerId)
	}
	return s.list(ctx, filter)
}

func (s *NegotiationService) list(ctx context.Context, filter models.NegotiationFilter) ([]models.Negotiation, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unsupported negotiation status %q", models.ErrValidation, status)
		}
	}
	negotiations, err := s.store.Negotiations().ListNegotiations(ctx, filter)
	if err != nil {
		return nil, err
	}
	if negotiations == nil {
		negotiations = []models.Negotiation{}
	}
	for i := range negotiations {
		s.refreshUrgency(&negotiations[i])
	}
	return negotiations, nil
}

// ListMessages возвращает ленту сообщений переговоров.
func (s *NegotiationService) ListMessages(ctx context.Context, actor models.Actor, negotiationId string) ([]models.NegotiationMessage, error) {
	if _, _, err := s.participant(ctx, actor, negotiationId); err != nil {
		return nil, err
	}
	messages, err := s.store.Negotiations().ListMessages(ctx, negotiationId)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.NegotiationMessage{}
	}
	return messages, nil
}

// MarkRead сбрасывает счётчик непрочитанного для стороны actor.
func (s *NegotiationService) MarkRead(ctx context.Context, actor models.Actor, negotiationId string) (*models.Negotiation, error) {
	_, role, err := s.participant(ctx, actor, negotiationId)
	if err != nil {
		return nil, err
	}
	n, err := s.store.Negotiations().MarkRead(ctx, negotiationId, role)
	if err != nil {
		return nil, err
	}
	s.refreshUrgency(n)
	return n, nil
}
