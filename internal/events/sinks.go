package events

import (
	"context"
	"errors"
	"log"
)

// LogSink пишет события в лог. Используется, когда Redis не настроен.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Deliver(_ context.Context, evt Event) error {
	s.Logger.Printf("[events] %s offer=%s id=%s", evt.Type, evt.OfferID, evt.ID)
	return nil
}

// MultiSink доставляет событие во все вложенные Sink.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, evt Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Deliver(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc позволяет использовать функцию как Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Deliver(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}
