package services

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"
	"github.com/senyabanana/coop-offers/internal/repository/memory"

	"github.com/shopspring/decimal"
)

var (
	coop   = models.Actor{ID: "coop-1", Role: models.CooperativeRole}
	buyer1 = models.Actor{ID: "buyer-1", Role: models.BuyerRole}
	buyer2 = models.Actor{ID: "buyer-2", Role: models.BuyerRole}
	buyer3 = models.Actor{ID: "buyer-3", Role: models.BuyerRole}
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Type == t {
			n++
		}
	}
	return n
}

// tester - общее подмножество *testing.T и *rapid.T.
type tester interface {
	Helper()
	Fatalf(format string, args ...any)
}

type fixture struct {
	t            tester
	store        repository.Store
	offers       *OfferService
	negotiations *NegotiationService
	orders       *OrderService
	sweep        *SweepService
	events       *recorder

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, memory.NewStore())
}

func newFixtureWithStore(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	f := &fixture{
		t:      t,
		store:  store,
		events: &recorder{},
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	retry := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
	f.orders = NewOrderService(store, logger)
	f.offers = NewOfferService(store, f.events, logger, retry)
	f.negotiations = NewNegotiationService(store, f.orders, f.events, logger, NegotiationConfig{TTL: 7 * 24 * time.Hour, Retry: retry})
	f.sweep = NewSweepService(f.offers, f.negotiations, logger)
	for _, svc := range []interface{ SetClock(func() time.Time) }{f.orders, f.offers, f.negotiations} {
		svc.SetClock(f.clock)
	}
	t.Cleanup(f.offers.Wait)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// createOffer публикует предложение 5000 кг по 2500 с минимальным заказом 1000 кг.
func (f *fixture) createOffer() *models.Offer {
	f.t.Helper()
	offer, err := f.offers.CreateOffer(context.Background(), coop, models.OfferRequest{
		ProductRef:       "wheat-grade-3",
		Title:            "Пшеница 3 класса",
		TotalQuantity:    dec("5000"),
		UnitPrice:        dec("2500"),
		MinOrderQuantity: dec("1000"),
		DeliveryDeadline: f.clock().Add(30 * 24 * time.Hour),
	})
	if err != nil {
		f.t.Fatalf("CreateOffer: %v", err)
	}
	return offer
}

func (f *fixture) open(actor models.Actor, offerID, price, qty string) *models.Negotiation {
	f.t.Helper()
	n, err := f.negotiations.OpenNegotiation(context.Background(), actor, models.NegotiationRequest{
		OfferID:      offerID,
		InitialPrice: dec(price),
		Quantity:     dec(qty),
	})
	if err != nil {
		f.t.Fatalf("OpenNegotiation(%s): %v", actor.ID, err)
	}
	return n
}

func (f *fixture) offer(id string) *models.Offer {
	f.t.Helper()
	offer, err := f.store.Offers().GetOffer(context.Background(), id)
	if err != nil {
		f.t.Fatalf("GetOffer: %v", err)
	}
	return offer
}

func (f *fixture) negotiation(id string) *models.Negotiation {
	f.t.Helper()
	n, err := f.store.Negotiations().GetNegotiation(context.Background(), id)
	if err != nil {
		f.t.Fatalf("GetNegotiation: %v", err)
	}
	return n
}
