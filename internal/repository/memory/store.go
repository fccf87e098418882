// Package memory хранит предложения, переговоры и заказы в памяти процесса.
// Используется в режиме STORAGE_DRIVER=memory и в тестах сервисов.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"
)

type state struct {
	offers       map[string]models.Offer
	negotiations map[string]models.Negotiation
	messages     map[string][]models.NegotiationMessage
	orders       map[string]models.Order
}

func (s *state) clone() *state {
	messages := make(map[string][]models.NegotiationMessage, len(s.messages))
	for id, thread := range s.messages {
		messages[id] = slices.Clone(thread)
	}
	return &state{
		offers:       maps.Clone(s.offers),
		negotiations: maps.Clone(s.negotiations),
		messages:     messages,
		orders:       maps.Clone(s.orders),
	}
}

// Store реализует repository.Store. Все операции сериализуются одним мьютексом,
// транзакция держит его до конца и при ошибке восстанавливает снимок.
type Store struct {
	mu   *sync.Mutex
	data *state
	inTx bool
}

var _ repository.Store = (*Store)(nil)

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		mu: &sync.Mutex{},
		data: &state{
			offers:       make(map[string]models.Offer),
			negotiations: make(map[string]models.Negotiation),
			messages:     make(map[string][]models.NegotiationMessage),
			orders:       make(map[string]models.Order),
		},
	}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Offers() repository.OfferRepository             { return offerRepo{s} }
func (s *Store) Negotiations() repository.NegotiationRepository { return negotiationRepo{s} }
func (s *Store) Orders() repository.OrderRepository             { return orderRepo{s} }

// WithTx выполняет fn под общим мьютексом и откатывает изменения при ошибке.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(&Store{mu: s.mu, data: s.data, inTx: true}); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", models.ErrNotFound, entity, id)
}

func conflict(entity, id string) error {
	return fmt.Errorf("%w: %s %s", models.ErrConflict, entity, id)
}

type offerRepo struct{ s *Store }

func (r offerRepo) CreateOffer(_ context.Context, offer *models.Offer) error {
	defer r.s.lock()()
	if _, ok := r.s.data.offers[offer.ID]; ok {
		return fmt.Errorf("offer %s already exists", offer.ID)
	}
	r.s.data.offers[offer.ID] = *offer
	return nil
}

func (r offerRepo) GetOffer(_ context.Context, offerId string) (*models.Offer, error) {
	defer r.s.lock()()
	offer, ok := r.s.data.offers[offerId]
	if !ok {
		return nil, notFound("offer", offerId)
	}
	return &offer, nil
}

func (r offerRepo) ListOffers(_ context.Context, filter models.OfferFilter) ([]models.Offer, error) {
	defer r.s.lock()()
	var out []models.Offer
	for _, offer := range r.s.data.offers {
		if filter.CooperativeID != "" && offer.CooperativeID != filter.CooperativeID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, offer.Status) {
			continue
		}
		out = append(out, offer)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r offerRepo) TransitionOfferStatus(_ context.Context, offerId string, from, to models.OfferStatus, at time.Time) (*models.Offer, error) {
	defer r.s.lock()()
	offer, ok := r.s.data.offers[offerId]
	if !ok {
		return nil, notFound("offer", offerId)
	}
	if offer.Status != from {
		return nil, conflict("offer", offerId)
	}
	offer.Status = to
	offer.Version++
	offer.UpdatedAt = at
	r.s.data.offers[offerId] = offer
	return &offer, nil
}

func (r offerRepo) ClaimOfferForNegotiation(_ context.Context, offerId string, at time.Time) (*models.Offer, error) {
	defer r.s.lock()()
	offer, ok := r.s.data.offers[offerId]
	if !ok {
		return nil, notFound("offer", offerId)
	}
	if !offer.Status.IsBiddable() || !offer.DeliveryDeadline.After(at) {
		return nil, conflict("offer", offerId)
	}
	if offer.Status == models.ActiveOffer {
		offer.Status = models.NegotiatingOffer
		offer.Version++
		offer.UpdatedAt = at
		r.s.data.offers[offerId] = offer
	}
	return &offer, nil
}

func (r offerRepo) ReopenOfferIfIdle(_ context.Context, offerId string, at time.Time) (bool, error) {
	defer r.s.lock()()
	offer, ok := r.s.data.offers[offerId]
	if !ok || offer.Status != models.NegotiatingOffer || !offer.DeliveryDeadline.After(at) {
		return false, nil
	}
	for _, n := range r.s.data.negotiations {
		if n.OfferID == offerId && n.Status.IsOpen() {
			return false, nil
		}
	}
	offer.Status = models.ActiveOffer
	offer.Version++
	offer.UpdatedAt = at
	r.s.data.offers[offerId] = offer
	return true, nil
}

func (r offerRepo) ExpireOffers(_ context.Context, now time.Time) ([]models.Offer, error) {
	defer r.s.lock()()
	var expired []models.Offer
	for id, offer := range r.s.data.offers {
		if !offer.DeliveryDeadline.Before(now) || !offer.Status.IsBiddable() {
			continue
		}
		offer.Status = models.ExpiredOffer
		offer.Version++
		offer.UpdatedAt = now
		r.s.data.offers[id] = offer
		expired = append(expired, offer)
	}
	return expired, nil
}

func (r offerRepo) IncrementOfferViews(_ context.Context, offerId string) error {
	defer r.s.lock()()
	offer, ok := r.s.data.offers[offerId]
	if !ok {
		return notFound("offer", offerId)
	}
	offer.ViewCount++
	r.s.data.offers[offerId] = offer
	return nil
}

func (r offerRepo) IncrementOfferInterest(_ context.Context, offerId string) error {
	defer r.s.lock()()
	offer, ok := r.s.data.offers[offerId]
	if !ok {
		return notFound("offer", offerId)
	}
	offer.InterestCount++
	r.s.data.offers[offerId] = offer
	return nil
}

type negotiationRepo struct{ s *Store }

func (r negotiationRepo) CreateNegotiation(_ context.Context, n *models.Negotiation) error {
	defer r.s.lock()()
	if _, ok := r.s.data.negotiations[n.ID]; ok {
		return fmt.Errorf("negotiation %s already exists", n.ID)
	}
	for _, existing := range r.s.data.negotiations {
		if existing.OfferID == n.OfferID && existing.BuyerID == n.BuyerID && existing.Status.IsOpen() {
			return fmt.Errorf("%w: offer %s buyer %s", models.ErrDuplicateBid, n.OfferID, n.BuyerID)
		}
	}
	r.s.data.negotiations[n.ID] = *n
	return nil
}

func (r negotiationRepo) GetNegotiation(_ context.Context, negotiationId string) (*models.Negotiation, error) {
	defer r.s.lock()()
	n, ok := r.s.data.negotiations[negotiationId]
	if !ok {
		return nil, notFound("negotiation", negotiationId)
	}
	return &n, nil
}

func (r negotiationRepo) ListNegotiations(_ context.Context, filter models.NegotiationFilter) ([]models.Negotiation, error) {
	defer r.s.lock()()
	var out []models.Negotiation
	for _, n := range r.s.data.negotiations {
		switch {
		case filter.OfferID != "" && n.OfferID != filter.OfferID,
			filter.BuyerID != "" && n.BuyerID != filter.BuyerID,
			filter.CooperativeID != "" && n.CooperativeID != filter.CooperativeID,
			len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, n.Status):
			continue
		}
		out = append(out, n)
	}
	sortNegotiations(out, true)
	return page(out, filter.Limit, filter.Offset), nil
}

func (r negotiationRepo) HasOpenNegotiation(_ context.Context, offerId, buyerId string) (bool, error) {
	defer r.s.lock()()
	for _, n := range r.s.data.negotiations {
		if n.OfferID == offerId && n.BuyerID == buyerId && n.Status.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (r negotiationRepo) ListOpenSiblings(_ context.Context, offerId, exceptId string) ([]models.Negotiation, error) {
	defer r.s.lock()()
	var out []models.Negotiation
	for _, n := range r.s.data.negotiations {
		if n.OfferID == offerId && n.ID != exceptId && n.Status.IsOpen() {
			out = append(out, n)
		}
	}
	sortNegotiations(out, false)
	return out, nil
}

func (r negotiationRepo) ApplyCounterOffer(_ context.Context, negotiationId string, counter models.CounterOffer) (*models.Negotiation, error) {
	defer r.s.lock()()
	n, ok := r.s.data.negotiations[negotiationId]
	if !ok {
		return nil, notFound("negotiation", negotiationId)
	}
	if !n.Status.IsOpen() || (counter.ExpectedVersion != 0 && counter.ExpectedVersion != n.Version) {
		return nil, conflict("negotiation", negotiationId)
	}
	n.ProposedPrice = counter.ProposedPrice
	n.Status = models.ActiveNegotiation
	n.Urgency = counter.Urgency
	n.LastActor = counter.Actor
	if counter.Actor == models.BuyerRole {
		n.CooperativeUnread++
	} else {
		n.BuyerUnread++
	}
	n.Version++
	n.UpdatedAt = counter.At
	r.s.data.negotiations[negotiationId] = n
	return &n, nil
}

func (r negotiationRepo) TransitionNegotiation(_ context.Context, negotiationId string, to models.NegotiationStatus, change models.StatusChange) (*models.Negotiation, error) {
	defer r.s.lock()()
	if to.IsOpen() || !to.Valid() {
		return nil, fmt.Errorf("%w: %s is not a terminal negotiation status", models.ErrInvalidState, to)
	}
	n, ok := r.s.data.negotiations[negotiationId]
	if !ok {
		return nil, notFound("negotiation", negotiationId)
	}
	if !n.Status.IsOpen() {
		return nil, conflict("negotiation", negotiationId)
	}
	at := change.At
	n.Status = to
	n.ClosedAt = &at
	n.UpdatedAt = at
	n.Version++
	switch to {
	case models.AcceptedNegotiation:
		n.AcceptedAt = &at
		n.FinalPrice = change.FinalPrice
	case models.RejectedNegotiation:
		n.RejectedAt = &at
		n.RejectionReason = change.Reason
	default:
		n.RejectionReason = change.Reason
	}
	r.s.data.negotiations[negotiationId] = n
	return &n, nil
}

func (r negotiationRepo) ExpireNegotiations(_ context.Context, now time.Time) ([]models.Negotiation, error) {
	defer r.s.lock()()
	var expired []models.Negotiation
	for id, n := range r.s.data.negotiations {
		if !n.ExpiresAt.Before(now) || !n.Status.IsOpen() {
			continue
		}
		at := now
		n.Status = models.ExpiredNegotiation
		n.ClosedAt = &at
		n.UpdatedAt = now
		n.Version++
		r.s.data.negotiations[id] = n
		expired = append(expired, n)
	}
	sortNegotiations(expired, false)
	return expired, nil
}

func (r negotiationRepo) ListOrphanedNegotiations(_ context.Context) ([]models.OrphanedNegotiation, error) {
	defer r.s.lock()()
	var orphans []models.OrphanedNegotiation
	for _, n := range r.s.data.negotiations {
		if !n.Status.IsOpen() {
			continue
		}
		offer, ok := r.s.data.offers[n.OfferID]
		if !ok || !offer.Status.IsTerminal() {
			continue
		}
		orphans = append(orphans, models.OrphanedNegotiation{Negotiation: n, OfferStatus: offer.Status})
	}
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].Negotiation.CreatedAt.Before(orphans[j].Negotiation.CreatedAt)
	})
	return orphans, nil
}

func (r negotiationRepo) MarkRead(_ context.Context, negotiationId string, role models.Role) (*models.Negotiation, error) {
	defer r.s.lock()()
	n, ok := r.s.data.negotiations[negotiationId]
	if !ok {
		return nil, notFound("negotiation", negotiationId)
	}
	if role == models.CooperativeRole {
		n.CooperativeUnread = 0
	} else {
		n.BuyerUnread = 0
	}
	r.s.data.negotiations[negotiationId] = n
	return &n, nil
}

func (r negotiationRepo) AppendMessage(_ context.Context, m *models.NegotiationMessage) error {
	defer r.s.lock()()
	if _, ok := r.s.data.negotiations[m.NegotiationID]; !ok {
		return notFound("negotiation", m.NegotiationID)
	}
	r.s.data.messages[m.NegotiationID] = append(r.s.data.messages[m.NegotiationID], *m)
	return nil
}

func (r negotiationRepo) ListMessages(_ context.Context, negotiationId string) ([]models.NegotiationMessage, error) {
	defer r.s.lock()()
	thread := slices.Clone(r.s.data.messages[negotiationId])
	sort.SliceStable(thread, func(i, j int) bool {
		if !thread[i].CreatedAt.Equal(thread[j].CreatedAt) {
			return thread[i].CreatedAt.Before(thread[j].CreatedAt)
		}
		return thread[i].ID < thread[j].ID
	})
	return thread, nil
}

func sortNegotiations(items []models.Negotiation, newestFirst bool) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt) == newestFirst
		}
		return a.ID < b.ID
	})
}

type orderRepo struct{ s *Store }

func (r orderRepo) CreateOrder(_ context.Context, o *models.Order) error {
	defer r.s.lock()()
	for _, existing := range r.s.data.orders {
		if existing.NegotiationID == o.NegotiationID {
			return fmt.Errorf("%w: negotiation %s", models.ErrDuplicateOrder, o.NegotiationID)
		}
	}
	r.s.data.orders[o.ID] = *o
	return nil
}

func (r orderRepo) GetOrder(_ context.Context, orderId string) (*models.Order, error) {
	defer r.s.lock()()
	o, ok := r.s.data.orders[orderId]
	if !ok {
		return nil, notFound("order", orderId)
	}
	return &o, nil
}

func (r orderRepo) GetOrderByNegotiation(_ context.Context, negotiationId string) (*models.Order, error) {
	defer r.s.lock()()
	for _, o := range r.s.data.orders {
		if o.NegotiationID == negotiationId {
			return &o, nil
		}
	}
	return nil, notFound("order for negotiation", negotiationId)
}

func (r orderRepo) ListOrders(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	defer r.s.lock()()
	var out []models.Order
	for _, o := range r.s.data.orders {
		if filter.BuyerID != "" && o.BuyerID != filter.BuyerID {
			continue
		}
		if filter.CooperativeID != "" && o.CooperativeID != filter.CooperativeID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}
