package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/senyabanana/coop-offers/internal/utils"
)

// HealthCheck проверяет доступность хранилища.
type HealthCheck func(ctx context.Context) error

// NewPingHandler возвращает обработчик GET /api/ping. Если хранилище недоступно, отвечает 503.
func NewPingHandler(check HealthCheck, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			utils.SendErrorResponse(w, http.StatusBadRequest, "invalid method, only GET is allowed")
			return
		}

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				logger.Printf("[ping] storage unavailable: %v", err)
				utils.SendErrorResponse(w, http.StatusServiceUnavailable, "storage unavailable")
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, "ok"); err != nil {
			logger.Println(err)
		}
	}
}
