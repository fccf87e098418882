//go:build integration

package repository

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/senyabanana/coop-offers/internal/db"
	"github.com/senyabanana/coop-offers/internal/models"
)

// Запуск: POSTGRES_CONN=postgres://... go test -tags integration ./internal/repository/
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	conn := os.Getenv("POSTGRES_CONN")
	if conn == "" {
		t.Skip("POSTGRES_CONN is not set")
	}
	if err := db.RunMigrations("file://../../migrations", conn, log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), conn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(context.Background(), `TRUNCATE orders, negotiation_messages, negotiations, offers CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewPostgresStore(pool)
}

var pgBase = time.Now().UTC().Truncate(time.Second)

func insertOffer(t *testing.T, s *PostgresStore, status models.OfferStatus) *models.Offer {
	t.Helper()
	offer := &models.Offer{
		ID:               uuid.NewString(),
		CooperativeID:    "coop-1",
		ProductRef:       "wheat",
		Title:            "Пшеница",
		TotalQuantity:    decimal.NewFromInt(100),
		UnitPrice:        decimal.NewFromInt(50),
		TotalPrice:       decimal.NewFromInt(5000),
		MinOrderQuantity: decimal.NewFromInt(10),
		Status:           status,
		DeliveryDeadline: pgBase.Add(48 * time.Hour),
		Version:          1,
		CreatedAt:        pgBase,
		UpdatedAt:        pgBase,
	}
	if err := s.Offers().CreateOffer(context.Background(), offer); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	return offer
}

func newNegotiation(offer *models.Offer, buyer string) *models.Negotiation {
	return &models.Negotiation{
		ID:            uuid.NewString(),
		OfferID:       offer.ID,
		CooperativeID: offer.CooperativeID,
		BuyerID:       buyer,
		Quantity:      decimal.NewFromInt(100),
		InitialPrice:  decimal.NewFromInt(45),
		ProposedPrice: decimal.NewFromInt(45),
		Status:        models.PendingNegotiation,
		Urgency:       models.LowUrgency,
		LastActor:     models.BuyerRole,
		Version:       1,
		CreatedAt:     pgBase,
		UpdatedAt:     pgBase,
		ExpiresAt:     pgBase.Add(24 * time.Hour),
	}
}

func TestPostgresOfferStatusCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	offer := insertOffer(t, s, models.ActiveOffer)

	if _, err := s.Offers().TransitionOfferStatus(ctx, offer.ID, models.NegotiatingOffer, models.SoldOffer, pgBase); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale from = %v, want conflict", err)
	}
	if _, err := s.Offers().TransitionOfferStatus(ctx, uuid.NewString(), models.ActiveOffer, models.SoldOffer, pgBase); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing = %v, want not found", err)
	}

	claimed, err := s.Offers().ClaimOfferForNegotiation(ctx, offer.ID, pgBase)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != models.NegotiatingOffer || claimed.Version != 2 {
		t.Fatalf("claimed = %s v%d", claimed.Status, claimed.Version)
	}
	again, err := s.Offers().ClaimOfferForNegotiation(ctx, offer.ID, pgBase)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again.Status != models.NegotiatingOffer || again.Version != 2 {
		t.Fatalf("claimed twice = %s v%d", again.Status, again.Version)
	}
	if _, err := s.Offers().ClaimOfferForNegotiation(ctx, offer.ID, pgBase.Add(72*time.Hour)); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("past deadline = %v, want conflict", err)
	}
}

func TestPostgresUniqueConstraintsMapToSentinels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	offer := insertOffer(t, s, models.NegotiatingOffer)

	n := newNegotiation(offer, "buyer-1")
	if err := s.Negotiations().CreateNegotiation(ctx, n); err != nil {
		t.Fatalf("CreateNegotiation: %v", err)
	}
	if err := s.Negotiations().CreateNegotiation(ctx, newNegotiation(offer, "buyer-1")); !errors.Is(err, models.ErrDuplicateBid) {
		t.Fatalf("second open bid = %v, want ErrDuplicateBid", err)
	}

	order := &models.Order{
		ID:            uuid.NewString(),
		NegotiationID: n.ID,
		OfferID:       offer.ID,
		CooperativeID: offer.CooperativeID,
		BuyerID:       n.BuyerID,
		Quantity:      n.Quantity,
		UnitPrice:     n.ProposedPrice,
		TotalPrice:    n.Quantity.Mul(n.ProposedPrice),
		Status:        models.ConfirmedOrder,
		CreatedAt:     pgBase,
	}
	if err := s.Orders().CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	order.ID = uuid.NewString()
	if err := s.Orders().CreateOrder(ctx, order); !errors.Is(err, models.ErrDuplicateOrder) {
		t.Fatalf("second order = %v, want ErrDuplicateOrder", err)
	}
}

func TestPostgresCounterOfferVersionGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	offer := insertOffer(t, s, models.NegotiatingOffer)
	n := newNegotiation(offer, "buyer-1")
	if err := s.Negotiations().CreateNegotiation(ctx, n); err != nil {
		t.Fatalf("CreateNegotiation: %v", err)
	}

	counter := models.CounterOffer{
		ProposedPrice:   decimal.NewFromInt(48),
		Urgency:         models.LowUrgency,
		Actor:           models.CooperativeRole,
		ExpectedVersion: 5,
		At:              pgBase,
	}
	if _, err := s.Negotiations().ApplyCounterOffer(ctx, n.ID, counter); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale version = %v, want conflict", err)
	}
	counter.ExpectedVersion = 0
	got, err := s.Negotiations().ApplyCounterOffer(ctx, n.ID, counter)
	if err != nil {
		t.Fatalf("last write wins: %v", err)
	}
	if got.Version != 2 || got.BuyerUnread != 1 || got.Status != models.ActiveNegotiation {
		t.Fatalf("countered = %+v", got)
	}

	if _, err := s.Negotiations().TransitionNegotiation(ctx, n.ID, models.RejectedNegotiation, models.StatusChange{At: pgBase}); err != nil {
		t.Fatalf("TransitionNegotiation: %v", err)
	}
	if _, err := s.Negotiations().ApplyCounterOffer(ctx, n.ID, counter); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("counter on closed = %v, want conflict", err)
	}
}

func TestPostgresReopenWaitsForOpenTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	offer := insertOffer(t, s, models.NegotiatingOffer)

	claimed := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.WithTx(ctx, func(tx Store) error {
			if _, err := tx.Offers().ClaimOfferForNegotiation(ctx, offer.ID, pgBase); err != nil {
				return err
			}
			if err := tx.Negotiations().CreateNegotiation(ctx, newNegotiation(offer, "buyer-2")); err != nil {
				return err
			}
			close(claimed)
			<-release
			return nil
		})
	}()
	select {
	case <-claimed:
	case err := <-txDone:
		t.Fatalf("open transaction: %v", err)
	}

	type reopenResult struct {
		reopened bool
		err      error
	}
	reopenDone := make(chan reopenResult, 1)
	go func() {
		reopened, err := s.Offers().ReopenOfferIfIdle(ctx, offer.ID, pgBase)
		reopenDone <- reopenResult{reopened, err}
	}()

	select {
	case res := <-reopenDone:
		t.Fatalf("reopen finished while the open transaction held the offer: %+v", res)
	case <-time.After(200 * time.Millisecond):
	}
	close(release)
	if err := <-txDone; err != nil {
		t.Fatalf("open transaction: %v", err)
	}
	res := <-reopenDone
	if res.err != nil || res.reopened {
		t.Fatalf("reopen = %v, %v; want false", res.reopened, res.err)
	}
	got, err := s.Offers().GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.NegotiatingOffer {
		t.Fatalf("offer status = %s, want negotiating", got.Status)
	}
}

func TestPostgresReopenIdleOffer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	offer := insertOffer(t, s, models.NegotiatingOffer)

	reopened, err := s.Offers().ReopenOfferIfIdle(ctx, offer.ID, pgBase)
	if err != nil || !reopened {
		t.Fatalf("reopen = %v, %v; want true", reopened, err)
	}
	reopened, err = s.Offers().ReopenOfferIfIdle(ctx, offer.ID, pgBase)
	if err != nil || reopened {
		t.Fatalf("second reopen = %v, %v; want false", reopened, err)
	}
}
