package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/senyabanana/coop-offers/internal/services"
	"github.com/senyabanana/coop-offers/internal/utils"
)

// OrderHandler - структура для обработки HTTP-запросов к заказам.
type OrderHandler struct {
	Service *services.OrderService
	Logger  *log.Logger
	Timeout time.Duration
}

// NewOrderHandler создаёт новый экземпляр OrderHandler.
func NewOrderHandler(service *services.OrderService, logger *log.Logger, timeout time.Duration) *OrderHandler {
	return &OrderHandler{Service: service, Logger: logger, Timeout: timeout}
}

// ListMyOrders обрабатывает запросы для получения заказов участника.
func (h *OrderHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	limit, offset, err := utils.ParseLimitOffset(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	if err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.Service.ListOrders(ctx, actor, limit, offset)
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, orders)
}

// GetOrder обрабатывает запросы для получения заказа.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	order, err := h.Service.GetOrder(ctx, actor, r.PathValue("orderId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, order)
}
