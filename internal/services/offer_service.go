package services

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"

	"github.com/google/uuid"
)

const counterTimeout = 2 * time.Second

// publicOfferStatuses - статусы, которые видны всем, кроме владельца.
var publicOfferStatuses = []models.OfferStatus{
	models.ActiveOffer, models.NegotiatingOffer, models.SoldOffer, models.ExpiredOffer, models.CancelledOffer,
}

// OfferService - реестр групповых предложений.
type OfferService struct {
	deps
	retry RetryPolicy
	wg    sync.WaitGroup
}

// NewOfferService создаёт новый экземпляр OfferService.
func NewOfferService(store repository.Store, publisher events.Publisher, logger *log.Logger, retry RetryPolicy) *OfferService {
	return &OfferService{deps: newDeps(store, publisher, logger), retry: retry}
}

// Wait дожидается фоновых обновлений счётчиков просмотров.
func (s *OfferService) Wait() {
	s.wg.Wait()
}

// CreateOffer создаёт новое предложение кооператива.
func (s *OfferService) CreateOffer(ctx context.Context, actor models.Actor, req models.OfferRequest) (*models.Offer, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.CooperativeRole {
		return nil, fmt.Errorf("%w: only cooperatives can publish offers", models.ErrForbidden)
	}
	if req.CooperativeID == "" {
		req.CooperativeID = actor.ID
	}
	if req.CooperativeID != actor.ID {
		return nil, fmt.Errorf("%w: cannot publish offers for cooperative %s", models.ErrForbidden, req.CooperativeID)
	}

	now := s.now()
	req.ProductRef = strings.TrimSpace(req.ProductRef)
	switch {
	case req.ProductRef == "":
		return nil, fmt.Errorf("%w: productRef is required", models.ErrValidation)
	case !req.TotalQuantity.IsPositive():
		return nil, fmt.Errorf("%w: totalQuantity must be positive", models.ErrValidation)
	case !req.UnitPrice.IsPositive():
		return nil, fmt.Errorf("%w: unitPrice must be positive", models.ErrValidation)
	case req.MinOrderQuantity.IsNegative():
		return nil, fmt.Errorf("%w: minOrderQuantity must not be negative", models.ErrValidation)
	case req.MinOrderQuantity.GreaterThan(req.TotalQuantity):
		return nil, fmt.Errorf("%w: minOrderQuantity exceeds totalQuantity", models.ErrValidation)
	case !req.DeliveryDeadline.After(now):
		return nil, fmt.Errorf("%w: deliveryDeadline must be in the future", models.ErrValidation)
	}

	status := models.ActiveOffer
	if req.Draft {
		status = models.DraftOffer
	}
	offer := &models.Offer{
		ID:               uuid.NewString(),
		CooperativeID:    req.CooperativeID,
		ProductRef:       req.ProductRef,
		Title:            strings.TrimSpace(req.Title),
		TotalQuantity:    req.TotalQuantity,
		UnitPrice:        req.UnitPrice,
		TotalPrice:       req.TotalQuantity.Mul(req.UnitPrice),
		MinOrderQuantity: req.MinOrderQuantity,
		Status:           status,
		DeliveryDeadline: req.DeliveryDeadline.UTC(),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Offers().CreateOffer(ctx, offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// GetOffer возвращает предложение. Черновик виден только владельцу.
// Счётчик просмотров увеличивается в фоне, его ошибка только логируется.
func (s *OfferService) GetOffer(ctx context.Context, actor models.Actor, offerId string) (*models.Offer, error) {
	if err := checkID("offer", offerId); err != nil {
		return nil, err
	}
	offer, err := s.store.Offers().GetOffer(ctx, offerId)
	if err != nil {
		return nil, err
	}
	if offer.Status == models.DraftOffer && offer.CooperativeID != actor.ID {
		return nil, fmt.Errorf("%w: offer %s", models.ErrNotFound, offerId)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), counterTimeout)
		defer cancel()
		if err := s.store.Offers().IncrementOfferViews(bg, offerId); err != nil {
			s.logger.Printf("[offers][ERROR] increment views of %s: %v", offerId, err)
		}
	}()
	return offer, nil
}

// ListOffers возвращает предложения по фильтру. Без фильтров - только открытые для заявок,
// черновики видны только своему кооперативу.
func (s *OfferService) ListOffers(ctx context.Context, actor models.Actor, filter models.OfferFilter) ([]models.Offer, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unsupported offer status %q", models.ErrValidation, status)
		}
	}
	own := filter.CooperativeID != "" && filter.CooperativeID == actor.ID
	if !own {
		if filter.CooperativeID == "" && len(filter.Statuses) == 0 {
			filter.Statuses = []models.OfferStatus{models.ActiveOffer, models.NegotiatingOffer}
		} else if len(filter.Statuses) == 0 {
			filter.Statuses = publicOfferStatuses
		} else {
			filter.Statuses = slices.DeleteFunc(slices.Clone(filter.Statuses), func(st models.OfferStatus) bool {
				return st == models.DraftOffer
			})
			if len(filter.Statuses) == 0 {
				return []models.Offer{}, nil
			}
		}
	}
	offers, err := s.store.Offers().ListOffers(ctx, filter)
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	return offers, nil
}

// TransitionStatus меняет статус предложения по таблице переходов, только если текущий равен from.
func (s *OfferService) TransitionStatus(ctx context.Context, offerId string, from, to models.OfferStatus) (*models.Offer, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: offer transition %s -> %s", models.ErrInvalidState, from, to)
	}
	if err := checkID("offer", offerId); err != nil {
		return nil, err
	}
	return s.store.Offers().TransitionOfferStatus(ctx, offerId, from, to, s.now())
}

// ExpireStaleOffers переводит в expired все открытые предложения с прошедшим сроком поставки.
func (s *OfferService) ExpireStaleOffers(ctx context.Context) ([]models.Offer, error) {
	expired, err := s.store.Offers().ExpireOffers(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("expire offers: %w", err)
	}
	for i := range expired {
		s.publish(events.OfferExpired, expired[i].ID, expired[i])
	}
	return expired, nil
}

// PublishOffer публикует черновик.
func (s *OfferService) PublishOffer(ctx context.Context, actor models.Actor, offerId string) (*models.Offer, error) {
	offer, err := s.ownOffer(ctx, actor, offerId)
	if err != nil {
		return nil, err
	}
	if offer.Status != models.DraftOffer {
		return nil, fmt.Errorf("%w: offer %s is %s", models.ErrInvalidState, offerId, offer.Status)
	}
	if !offer.DeliveryDeadline.After(s.now()) {
		return nil, fmt.Errorf("%w: deliveryDeadline has passed", models.ErrValidation)
	}
	return s.TransitionStatus(ctx, offerId, models.DraftOffer, models.ActiveOffer)
}

// CancelOffer отменяет предложение и отклоняет все открытые переговоры по нему.
func (s *OfferService) CancelOffer(ctx context.Context, actor models.Actor, offerId string) (*models.Offer, error) {
	offer, err := s.ownOffer(ctx, actor, offerId)
	if err != nil {
		return nil, err
	}
	if offer.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: offer %s is %s", models.ErrInvalidState, offerId, offer.Status)
	}
	cancelled, err := s.TransitionStatus(ctx, offerId, offer.Status, models.CancelledOffer)
	if err != nil {
		return nil, err
	}
	s.publish(events.OfferCancelled, offerId, cancelled)
	s.fanOut(ctx, offerId, "", models.ReasonOfferCancelled, s.retry)
	return cancelled, nil
}

func (s *OfferService) ownOffer(ctx context.Context, actor models.Actor, offerId string) (*models.Offer, error) {
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
	if actor.Role == models.AdminRole {
		return offer, nil
	}
	if actor.Role != models.CooperativeRole || actor.ID != offer.CooperativeID {
		return nil, fmt.Errorf("%w: offer %s belongs to another cooperative", models.ErrForbidden, offerId)
	}
	return offer, nil
}
