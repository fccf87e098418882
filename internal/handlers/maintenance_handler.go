package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/services"
	"github.com/senyabanana/coop-offers/internal/utils"
)

// MaintenanceHandler запускает обслуживание по запросу внешнего планировщика.
type MaintenanceHandler struct {
	Sweep   *services.SweepService
	Logger  *log.Logger
	Timeout time.Duration
}

// NewMaintenanceHandler создаёт новый экземпляр MaintenanceHandler.
func NewMaintenanceHandler(sweep *services.SweepService, logger *log.Logger, timeout time.Duration) *MaintenanceHandler {
	return &MaintenanceHandler{Sweep: sweep, Logger: logger, Timeout: timeout}
}

// RunSweep обрабатывает POST /api/maintenance/sweep. Доступно только администратору.
func (h *MaintenanceHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != models.AdminRole {
		utils.SendErrorResponse(w, http.StatusForbidden, "admin role required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	report, err := h.Sweep.Run(ctx)
	if err != nil {
		h.Logger.Printf("[sweep][ERROR] %v", err)
		utils.SendJSON(w, http.StatusInternalServerError, report)
		return
	}
	utils.SendJSON(w, http.StatusOK, report)
}
