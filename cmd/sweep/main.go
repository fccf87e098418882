package main

import (
	"context"
	"log"
	"os"

	"github.com/senyabanana/coop-offers/internal/app"
	"github.com/senyabanana/coop-offers/internal/router/config"
)

// Однократный проход обслуживания: истечение офферов и переговоров, закрытие осиротевших переговоров.
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal("cannot load config:", err)
	}

	logger := log.New(os.Stdout, "SWEEP: ", log.LstdFlags)

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("error initializing application: %v", err)
	}
	defer application.Close()

	report, err := application.Sweep.Run(context.Background())
	if err != nil {
		application.Close()
		log.Fatalf("sweep failed: %v (report: %+v)", err, report)
	}
}
