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

// NegotiationHandler - структура для обработки HTTP-запросов к переговорам.
type NegotiationHandler struct {
	Service *services.NegotiationService
	Logger  *log.Logger
	Timeout time.Duration
}

// NewNegotiationHandler создаёт новый экземпляр NegotiationHandler.
func NewNegotiationHandler(service *services.NegotiationService, logger *log.Logger, timeout time.Duration) *NegotiationHandler {
	return &NegotiationHandler{
		Service: service,
		Logger:  logger,
		Timeout: timeout,
	}
}

// OpenNegotiation обрабатывает запросы покупателя на открытие переговоров.
func (h *NegotiationHandler) OpenNegotiation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var negotiationReq models.NegotiationRequest
	if !decodeBody(w, r, &negotiationReq, false) {
		return
	}

	negotiation, err := h.Service.OpenNegotiation(ctx, actor, negotiationReq)
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	h.Logger.Printf("negotiation %s opened on offer %s by %s", negotiation.ID, negotiation.OfferID, actor.ID)
	utils.SendJSON(w, http.StatusOK, negotiation)
}

// ListMyNegotiations обрабатывает запросы для получения переговоров участника.
func (h *NegotiationHandler) ListMyNegotiations(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	query := r.URL.Query()
	limit, offset, err := utils.ParseLimitOffset(query.Get("limit"), query.Get("offset"))
	if err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	negotiations, err := h.Service.ListMyNegotiations(ctx, actor, models.NegotiationFilter{
		OfferID:  query.Get("offer_id"),
		Statuses: utils.ParseStatuses[models.NegotiationStatus](query["status"]),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, negotiations)
}

// GetNegotiation обрабатывает запросы для получения переговоров.
func (h *NegotiationHandler) GetNegotiation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	negotiation, err := h.Service.GetNegotiation(ctx, actor, r.PathValue("negotiationId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, negotiation)
}

// CounterOffer обрабатывает встречные предложения.
func (h *NegotiationHandler) CounterOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var counterReq models.CounterOfferRequest
	if !decodeBody(w, r, &counterReq, false) {
		return
	}

	negotiation, err := h.Service.CounterOffer(ctx, actor, r.PathValue("negotiationId"), counterReq)
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, negotiation)
}

// Accept обрабатывает принятие переговоров.
func (h *NegotiationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var acceptReq models.AcceptRequest
	if !decodeBody(w, r, &acceptReq, true) {
		return
	}

	result, err := h.Service.Accept(ctx, actor, r.PathValue("negotiationId"), acceptReq.FinalPrice)
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	h.Logger.Printf("negotiation %s accepted, order %s created, %d siblings rejected",
		result.Negotiation.ID, result.Order.ID, len(result.Rejected))
	utils.SendJSON(w, http.StatusOK, result)
}

// Reject обрабатывает отклонение переговоров.
func (h *NegotiationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var rejectReq models.RejectRequest
	if !decodeBody(w, r, &rejectReq, true) {
		return
	}

	negotiation, err := h.Service.Reject(ctx, actor, r.PathValue("negotiationId"), rejectReq.Reason)
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, negotiation)
}

// Cancel обрабатывает отзыв заявки покупателем.
func (h *NegotiationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	negotiation, err := h.Service.Cancel(ctx, actor, r.PathValue("negotiationId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, negotiation)
}

// ListMessages обрабатывает запросы для получения ленты сообщений.
func (h *NegotiationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	messages, err := h.Service.ListMessages(ctx, actor, r.PathValue("negotiationId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, messages)
}

// MarkRead обрабатывает отметку о прочтении.
func (h *NegotiationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	negotiation, err := h.Service.MarkRead(ctx, actor, r.PathValue("negotiationId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, negotiation)
}
