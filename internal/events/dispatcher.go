package events

import (
	"context"
	"log"
	"sync"
	"time"
)

const deliverTimeout = 5 * time.Second

// Dispatcher буферизует события и доставляет их в Sink из отдельной горутины.
// При переполнении буфера событие отбрасывается с записью в лог.
type Dispatcher struct {
	sink   Sink
	logger *log.Logger
	queue  chan Event
	once   sync.Once
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher создаёт новый экземпляр Dispatcher и запускает доставку.
func NewDispatcher(sink Sink, logger *log.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish ставит событие в очередь и сразу возвращает управление.
func (d *Dispatcher) Publish(evt Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Printf("[events] dispatcher closed, dropping %s %s", evt.Type, evt.ID)
		return
	}
	select {
	case d.queue <- evt:
	default:
		d.logger.Printf("[events] buffer full, dropping %s %s", evt.Type, evt.ID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := d.sink.Deliver(ctx, evt); err != nil {
			d.logger.Printf("[events][ERROR] deliver %s %s: %v", evt.Type, evt.ID, err)
		}
		cancel()
	}
}

// Close перестаёт принимать события и ждёт доставки уже поставленных в очередь.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.done
}
