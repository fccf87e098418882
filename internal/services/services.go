package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/repository"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// deps - общие зависимости сервисов.
type deps struct {
	store     repository.Store
	publisher events.Publisher
	logger    *log.Logger
	now       func() time.Time
}

func newDeps(store repository.Store, publisher events.Publisher, logger *log.Logger) deps {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return deps{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени.
func (d *deps) SetClock(now func() time.Time) {
	d.now = now
}

func (d *deps) publish(t events.Type, offerID string, payload any) {
	d.publisher.Publish(events.New(t, offerID, payload))
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// messageID выдаёт монотонный ULID, поэтому (created_at, id) упорядочивает ленту сообщений.
func messageID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

func checkID(entity, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s %s", models.ErrNotFound, entity, id)
	}
	return nil
}

func requireActor(actor models.Actor) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", models.ErrForbidden)
	}
	return nil
}

// sleepCtx ждёт d или отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
