package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/router/config"
)

// Потребитель очереди событий asynq. Каждая задача достаётся одному воркеру,
// поэтому websocket-клиенты получают события от своего процесса, а не отсюда.
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal("cannot load config:", err)
	}
	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required for the events worker")
	}

	logger := log.New(os.Stdout, "EVENTS: ", log.LstdFlags)

	worker := events.NewWorker(cfg.RedisAddr, events.LogSink{Logger: logger}, logger)
	if err := worker.Start(); err != nil {
		log.Fatalf("error starting worker: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	worker.Shutdown()
}
