package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// Queue - очередь asynq для доменных событий.
const Queue = "events"

// Enqueuer - часть asynq.Client, нужная AsynqSink.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqSink кладёт события задачами в Redis через asynq.
type AsynqSink struct {
	client Enqueuer
}

// NewAsynqSink создаёт новый экземпляр AsynqSink.
func NewAsynqSink(client Enqueuer) *AsynqSink {
	return &AsynqSink{client: client}
}

func (s *AsynqSink) Deliver(ctx context.Context, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	task := asynq.NewTask(string(evt.Type), b)
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(Queue), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue %s: %w", evt.Type, err)
	}
	return nil
}

// Worker читает задачи событий из Redis и передаёт их в Sink.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	sink   Sink
	logger *log.Logger
}

// NewWorker создаёт новый экземпляр Worker.
func NewWorker(redisAddr string, sink Sink, logger *log.Logger) *Worker {
	w := &Worker{
		server: asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
			Concurrency: 5,
			Queues:      map[string]int{Queue: 10},
		}),
		mux:    asynq.NewServeMux(),
		sink:   sink,
		logger: logger,
	}
	for _, t := range Types {
		w.mux.HandleFunc(string(t), w.HandleTask)
	}
	return w
}

// Start запускает обработку задач в фоне.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq worker: %w", err)
	}
	w.logger.Printf("[events] asynq worker started, queue=%s", Queue)
	return nil
}

// Shutdown останавливает воркер.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// HandleTask разбирает задачу и передаёт событие в Sink.
func (w *Worker) HandleTask(ctx context.Context, t *asynq.Task) error {
	var evt Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		w.logger.Printf("[events][ERROR] bad payload for %s: %v", t.Type(), err)
		return fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry)
	}
	return w.sink.Deliver(ctx, evt)
}
