package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"
	"github.com/senyabanana/coop-offers/internal/repository/memory"

	"github.com/shopspring/decimal"
)

func TestAcceptScenarioSellsOfferAndRejectsSibling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()

	b1 := f.open(buyer1, offer.ID, "2500", "5000")
	if got := f.offer(offer.ID).Status; got != models.NegotiatingOffer {
		t.Fatalf("offer status after first bid = %s, want negotiating", got)
	}
	b2 := f.open(buyer2, offer.ID, "2400", "2000")

	countered, err := f.negotiations.CounterOffer(ctx, buyer1, b1.ID, models.CounterOfferRequest{
		ProposedPrice: dec("2350"),
		Message:       "готовы забрать весь объём",
	})
	if err != nil {
		t.Fatalf("CounterOffer: %v", err)
	}
	if countered.Status != models.ActiveNegotiation || countered.CooperativeUnread != 2 {
		t.Fatalf("countered = %s unread %d", countered.Status, countered.CooperativeUnread)
	}

	result, err := f.negotiations.Accept(ctx, coop, b1.ID, dec("2350"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if got := f.offer(offer.ID).Status; got != models.SoldOffer {
		t.Errorf("offer status = %s, want sold", got)
	}
	won := f.negotiation(b1.ID)
	if won.Status != models.AcceptedNegotiation || !won.FinalPrice.Valid || !won.FinalPrice.Decimal.Equal(dec("2350")) {
		t.Errorf("winner = %s final %v", won.Status, won.FinalPrice)
	}
	if won.AcceptedAt == nil {
		t.Error("accepted_at is not set")
	}
	lost := f.negotiation(b2.ID)
	if lost.Status != models.RejectedNegotiation || !strings.Contains(lost.RejectionReason, "sold") {
		t.Errorf("sibling = %s reason %q", lost.Status, lost.RejectionReason)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].ID != b2.ID {
		t.Errorf("result.Rejected = %+v", result.Rejected)
	}

	orders, err := f.orders.ListOrders(ctx, buyer1, 10, 0)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	order := orders[0]
	if !order.UnitPrice.Equal(dec("2350")) || !order.Quantity.Equal(dec("5000")) || order.BuyerID != buyer1.ID {
		t.Errorf("order = %+v", order)
	}
	if !order.TotalPrice.Equal(dec("11750000")) {
		t.Errorf("order total = %s", order.TotalPrice)
	}

	for typ, want := range map[events.Type]int{
		events.NegotiationOpened:    2,
		events.NegotiationCountered: 1,
		events.NegotiationAccepted:  1,
		events.NegotiationRejected:  1,
		events.OfferSold:            1,
		events.OrderCreated:         1,
	} {
		if got := f.events.count(typ); got != want {
			t.Errorf("%s events = %d, want %d", typ, got, want)
		}
	}
}

func TestOpenNegotiationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()

	tests := []struct {
		name  string
		actor models.Actor
		req   models.NegotiationRequest
		want  error
	}{
		{"cooperative cannot bid", coop, models.NegotiationRequest{OfferID: offer.ID, InitialPrice: dec("2400"), Quantity: dec("1000")}, models.ErrForbidden},
		{"price must be positive", buyer1, models.NegotiationRequest{OfferID: offer.ID, InitialPrice: dec("0"), Quantity: dec("1000")}, models.ErrValidation},
		{"below minimum", buyer1, models.NegotiationRequest{OfferID: offer.ID, InitialPrice: dec("2400"), Quantity: dec("999.5")}, models.ErrQuantity},
		{"above total", buyer1, models.NegotiationRequest{OfferID: offer.ID, InitialPrice: dec("2400"), Quantity: dec("5001")}, models.ErrQuantity},
		{"unknown offer", buyer1, models.NegotiationRequest{OfferID: "8f1c6d8e-1111-4a0e-9d1e-7c2b4b1f0a00", InitialPrice: dec("2400"), Quantity: dec("1000")}, models.ErrNotFound},
		{"malformed offer id", buyer1, models.NegotiationRequest{OfferID: "nope", InitialPrice: dec("2400"), Quantity: dec("1000")}, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.negotiations.OpenNegotiation(ctx, tt.actor, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := f.offer(offer.ID).Status; got != models.ActiveOffer {
		t.Fatalf("rejected bids changed offer status to %s", got)
	}
}

func TestOpenNegotiationSetsExpiryFromTTLAndDeadline(t *testing.T) {
	f := newFixture(t)
	offer, err := f.offers.CreateOffer(context.Background(), coop, models.OfferRequest{
		ProductRef:       "barley",
		TotalQuantity:    dec("100"),
		UnitPrice:        dec("10"),
		DeliveryDeadline: f.clock().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	n := f.open(buyer1, offer.ID, "9", "10")

	if !n.ExpiresAt.Equal(offer.DeliveryDeadline) {
		t.Errorf("expires_at = %s, want offer deadline %s", n.ExpiresAt, offer.DeliveryDeadline)
	}
	if n.Urgency != models.MediumUrgency {
		t.Errorf("urgency = %s, want medium", n.Urgency)
	}
	if n.Status != models.PendingNegotiation || !n.InitialPrice.Equal(n.ProposedPrice) {
		t.Errorf("negotiation = %+v", n)
	}
}

func TestDuplicateBidRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	f.open(buyer1, offer.ID, "2400", "1000")

	_, err := f.negotiations.OpenNegotiation(ctx, buyer1, models.NegotiationRequest{
		OfferID: offer.ID, InitialPrice: dec("2450"), Quantity: dec("1500"),
	})
	if !errors.Is(err, models.ErrDuplicateBid) {
		t.Fatalf("err = %v, want ErrDuplicateBid", err)
	}
	all, err := f.store.Negotiations().ListNegotiations(ctx, models.NegotiationFilter{OfferID: offer.ID})
	if err != nil {
		t.Fatalf("ListNegotiations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("negotiations = %d, want 1", len(all))
	}
}

func TestBuyerCanBidAgainAfterWithdrawing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	n := f.open(buyer1, offer.ID, "2400", "1000")

	if _, err := f.negotiations.Cancel(ctx, buyer1, n.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := f.offer(offer.ID).Status; got != models.ActiveOffer {
		t.Fatalf("offer status after withdrawal = %s, want active", got)
	}
	f.open(buyer1, offer.ID, "2450", "1000")
}

func TestOpenOnClosedOfferIsNotBiddable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	if _, err := f.offers.CancelOffer(ctx, coop, offer.ID); err != nil {
		t.Fatalf("CancelOffer: %v", err)
	}
	_, err := f.negotiations.OpenNegotiation(ctx, buyer1, models.NegotiationRequest{
		OfferID: offer.ID, InitialPrice: dec("2400"), Quantity: dec("1000"),
	})
	if !errors.Is(err, models.ErrOfferNotBiddable) {
		t.Fatalf("err = %v, want ErrOfferNotBiddable", err)
	}
}

func TestCounterOfferRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	n := f.open(buyer1, offer.ID, "2400", "1000")

	if _, err := f.negotiations.CounterOffer(ctx, buyer2, n.ID, models.CounterOfferRequest{ProposedPrice: dec("2300")}); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("outsider counter: err = %v, want ErrForbidden", err)
	}
	if _, err := f.negotiations.CounterOffer(ctx, coop, n.ID, models.CounterOfferRequest{ProposedPrice: dec("-1")}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("negative price: err = %v, want ErrValidation", err)
	}

	updated, err := f.negotiations.CounterOffer(ctx, coop, n.ID, models.CounterOfferRequest{ProposedPrice: dec("2480"), Message: "не ниже 2480"})
	if err != nil {
		t.Fatalf("CounterOffer: %v", err)
	}
	if updated.BuyerUnread != 1 || updated.LastActor != models.CooperativeRole || !updated.InitialPrice.Equal(dec("2400")) {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := f.negotiations.CounterOffer(ctx, buyer1, n.ID, models.CounterOfferRequest{ProposedPrice: dec("2450"), ExpectedVersion: n.Version}); !errors.Is(err, models.ErrConflict) {
		t.Errorf("stale version: err = %v, want ErrConflict", err)
	}
	if _, err := f.negotiations.CounterOffer(ctx, buyer1, n.ID, models.CounterOfferRequest{ProposedPrice: dec("2450"), ExpectedVersion: updated.Version}); err != nil {
		t.Errorf("fresh version: %v", err)
	}

	if _, err := f.negotiations.Reject(ctx, coop, n.ID, ""); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := f.negotiations.CounterOffer(ctx, buyer1, n.ID, models.CounterOfferRequest{ProposedPrice: dec("2460")}); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("counter on rejected: err = %v, want ErrInvalidState", err)
	}

	messages, err := f.negotiations.ListMessages(ctx, buyer1, n.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3 (two counters and the rejection)", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].ID <= messages[i-1].ID {
			t.Errorf("message ids are not increasing: %s then %s", messages[i-1].ID, messages[i].ID)
		}
	}
}

func TestCounterOfferUrgencyFollowsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	n := f.open(buyer1, offer.ID, "2400", "1000")
	if n.Urgency != models.LowUrgency {
		t.Fatalf("initial urgency = %s, want low", n.Urgency)
	}

	f.advance(5 * 24 * time.Hour)
	updated, err := f.negotiations.CounterOffer(ctx, coop, n.ID, models.CounterOfferRequest{ProposedPrice: dec("2450")})
	if err != nil {
		t.Fatalf("CounterOffer: %v", err)
	}
	if updated.Urgency != models.MediumUrgency {
		t.Errorf("urgency with 48h left = %s, want medium", updated.Urgency)
	}

	f.advance(36 * time.Hour)
	got, err := f.negotiations.GetNegotiation(ctx, buyer1, n.ID)
	if err != nil {
		t.Fatalf("GetNegotiation: %v", err)
	}
	if got.Urgency != models.HighUrgency {
		t.Errorf("urgency with 12h left = %s, want high", got.Urgency)
	}
}

func TestMarkReadResetsOwnCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	n := f.open(buyer1, offer.ID, "2400", "1000")

	read, err := f.negotiations.MarkRead(ctx, coop, n.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if read.CooperativeUnread != 0 {
		t.Fatalf("cooperative unread = %d, want 0", read.CooperativeUnread)
	}
}

func TestAcceptRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	n := f.open(buyer1, offer.ID, "2400", "1000")

	if _, err := f.negotiations.Accept(ctx, buyer1, n.ID, decimal.Zero); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("buyer accepting own bid: err = %v, want ErrInvalidState", err)
	}
	if _, err := f.negotiations.Accept(ctx, coop, n.ID, dec("2000")); !errors.Is(err, models.ErrValidation) {
		t.Errorf("price mismatch: err = %v, want ErrValidation", err)
	}
	if _, err := f.negotiations.Accept(ctx, coop, n.ID, dec("-1")); !errors.Is(err, models.ErrValidation) || !strings.Contains(err.Error(), "must not be negative") {
		t.Errorf("negative price: err = %v, want ErrValidation", err)
	}
	if _, err := f.negotiations.Accept(ctx, buyer2, n.ID, decimal.Zero); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("outsider: err = %v, want ErrForbidden", err)
	}

	result, err := f.negotiations.Accept(ctx, coop, n.ID, decimal.Zero)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !result.Order.UnitPrice.Equal(dec("2400")) {
		t.Errorf("order price = %s, want current proposal", result.Order.UnitPrice)
	}
	if _, err := f.negotiations.Accept(ctx, coop, n.ID, decimal.Zero); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("second accept: err = %v, want ErrInvalidState", err)
	}
}

func TestAcceptAfterLosingReportsOfferSold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	a := f.open(buyer1, offer.ID, "2400", "1000")
	b := f.open(buyer2, offer.ID, "2450", "1000")

	if _, err := f.negotiations.Accept(ctx, coop, b.ID, decimal.Zero); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.negotiations.Accept(ctx, coop, a.ID, decimal.Zero); !errors.Is(err, models.ErrOfferAlreadySold) {
		t.Fatalf("err = %v, want ErrOfferAlreadySold", err)
	}
}

func TestConcurrentAcceptsHaveSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()

	buyers := []models.Actor{buyer1, buyer2, buyer3,
		{ID: "buyer-4", Role: models.BuyerRole}, {ID: "buyer-5", Role: models.BuyerRole}}
	ids := make([]string, len(buyers))
	for i, b := range buyers {
		ids[i] = f.open(b, offer.ID, "2400", "1000").ID
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.negotiations.Accept(ctx, coop, id, decimal.Zero)
		}(i, id)
	}
	close(start)
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, models.ErrOfferAlreadySold):
		default:
			t.Errorf("accept %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	if got := f.offer(offer.ID).Status; got != models.SoldOffer {
		t.Fatalf("offer status = %s, want sold", got)
	}
	orders, _ := f.store.Orders().ListOrders(ctx, models.OrderFilter{CooperativeID: coop.ID})
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
}

func TestRejectLastNegotiationReopensOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	a := f.open(buyer1, offer.ID, "2400", "1000")
	b := f.open(buyer2, offer.ID, "2300", "1000")

	rejected, err := f.negotiations.Reject(ctx, coop, a.ID, "цена слишком низкая")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.RejectedAt == nil || rejected.RejectionReason != "цена слишком низкая" {
		t.Errorf("rejected = %+v", rejected)
	}
	if got := f.offer(offer.ID).Status; got != models.NegotiatingOffer {
		t.Fatalf("offer status with one open negotiation = %s, want negotiating", got)
	}

	if _, err := f.negotiations.Reject(ctx, buyer2, b.ID, ""); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got := f.offer(offer.ID).Status; got != models.ActiveOffer {
		t.Fatalf("offer status = %s, want active", got)
	}
	if _, err := f.negotiations.Reject(ctx, coop, b.ID, ""); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("second reject: err = %v, want ErrInvalidState", err)
	}
}

// hookStore выполняет before один раз перед следующей транзакцией.
type hookStore struct {
	repository.Store
	mu     sync.Mutex
	before func()
}

func (s *hookStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	before := s.before
	s.before = nil
	s.mu.Unlock()
	if before != nil {
		before()
	}
	return s.Store.WithTx(ctx, fn)
}

func TestOpenRacingLastRejectKeepsOfferNegotiating(t *testing.T) {
	store := &hookStore{Store: memory.NewStore()}
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	offer := f.createOffer()
	first := f.open(buyer1, offer.ID, "2400", "1000")

	// Последние открытые переговоры закрываются после того, как OpenNegotiation
	// прочитал предложение в статусе negotiating, но до его транзакции.
	store.mu.Lock()
	store.before = func() {
		if _, err := f.negotiations.Reject(ctx, coop, first.ID, ""); err != nil {
			t.Errorf("Reject: %v", err)
		}
	}
	store.mu.Unlock()

	second := f.open(buyer2, offer.ID, "2450", "1000")

	if got := f.negotiation(first.ID).Status; got != models.RejectedNegotiation {
		t.Fatalf("first negotiation = %s, want rejected", got)
	}
	if got := f.negotiation(second.ID).Status; got != models.PendingNegotiation {
		t.Fatalf("second negotiation = %s, want pending", got)
	}
	if got := f.offer(offer.ID).Status; got != models.NegotiatingOffer {
		t.Fatalf("offer status with an open negotiation = %s, want negotiating", got)
	}
}

func TestOpenAfterOfferClosedInsideTxIsNotBiddable(t *testing.T) {
	store := &hookStore{Store: memory.NewStore()}
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	offer := f.createOffer()

	store.mu.Lock()
	store.before = func() {
		if _, err := f.offers.CancelOffer(ctx, coop, offer.ID); err != nil {
			t.Errorf("CancelOffer: %v", err)
		}
	}
	store.mu.Unlock()

	_, err := f.negotiations.OpenNegotiation(ctx, buyer1, models.NegotiationRequest{
		OfferID:      offer.ID,
		InitialPrice: dec("2400"),
		Quantity:     dec("1000"),
	})
	if !errors.Is(err, models.ErrOfferNotBiddable) {
		t.Fatalf("err = %v, want ErrOfferNotBiddable", err)
	}
	list, err := f.store.Negotiations().ListNegotiations(ctx, models.NegotiationFilter{OfferID: offer.ID})
	if err != nil {
		t.Fatalf("ListNegotiations: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("negotiations on cancelled offer = %d, want 0", len(list))
	}
}

func TestAcceptPublishesSaleBeforeSiblingRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	winner := f.open(buyer1, offer.ID, "2400", "1000")
	f.open(buyer2, offer.ID, "2300", "1000")
	f.open(buyer3, offer.ID, "2350", "1000")

	if _, err := f.negotiations.Accept(ctx, coop, winner.ID, decimal.Zero); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	first := map[events.Type]int{}
	for i, evt := range f.events.events {
		if _, seen := first[evt.Type]; !seen {
			first[evt.Type] = i
		}
	}
	rejected, ok := first[events.NegotiationRejected]
	if !ok {
		t.Fatal("no negotiation.rejected event")
	}
	for _, typ := range []events.Type{events.NegotiationAccepted, events.OfferSold, events.OrderCreated} {
		if idx, ok := first[typ]; !ok || idx > rejected {
			t.Errorf("%s at %d, want before first rejection at %d", typ, idx, rejected)
		}
	}
}

func TestCancelIsBuyerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	n := f.open(buyer1, offer.ID, "2400", "1000")

	if _, err := f.negotiations.Cancel(ctx, coop, n.ID); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	cancelled, err := f.negotiations.Cancel(ctx, buyer1, n.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.CancelledNegotiation || f.events.count(events.NegotiationCancelled) != 1 {
		t.Fatalf("cancelled = %s", cancelled.Status)
	}
}

func TestListNegotiationsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer := f.createOffer()
	f.open(buyer1, offer.ID, "2400", "1000")
	f.open(buyer2, offer.ID, "2450", "1000")

	all, err := f.negotiations.ListOfferNegotiations(ctx, coop, offer.ID, models.NegotiationFilter{Limit: 10})
	if err != nil || len(all) != 2 {
		t.Fatalf("cooperative sees %d negotiations, err %v", len(all), err)
	}
	own, err := f.negotiations.ListOfferNegotiations(ctx, buyer1, offer.ID, models.NegotiationFilter{Limit: 10})
	if err != nil || len(own) != 1 || own[0].BuyerID != buyer1.ID {
		t.Fatalf("buyer sees %+v, err %v", own, err)
	}
	mine, err := f.negotiations.ListMyNegotiations(ctx, buyer2, models.NegotiationFilter{Limit: 10, Statuses: []models.NegotiationStatus{models.PendingNegotiation}})
	if err != nil || len(mine) != 1 {
		t.Fatalf("my negotiations = %+v, err %v", mine, err)
	}
	if _, err := f.negotiations.ListMyNegotiations(ctx, buyer2, models.NegotiationFilter{Statuses: []models.NegotiationStatus{"won"}}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("unknown status: err = %v, want ErrValidation", err)
	}
}
