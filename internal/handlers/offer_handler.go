package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/realtime"
	"github.com/senyabanana/coop-offers/internal/services"
	"github.com/senyabanana/coop-offers/internal/utils"
)

// OfferHandler - структура для обработки HTTP-запросов к предложениям.
type OfferHandler struct {
	Service      *services.OfferService
	Negotiations *services.NegotiationService
	Hub          *realtime.Hub
	Logger       *log.Logger
	Timeout      time.Duration
}

// NewOfferHandler создаёт новый экземпляр OfferHandler.
func NewOfferHandler(service *services.OfferService, negotiations *services.NegotiationService, hub *realtime.Hub, logger *log.Logger, timeout time.Duration) *OfferHandler {
	return &OfferHandler{
		Service:      service,
		Negotiations: negotiations,
		Hub:          hub,
		Logger:       logger,
		Timeout:      timeout,
	}
}

// ListOffers обрабатывает запросы для получения списка предложений.
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
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

	offers, err := h.Service.ListOffers(ctx, actorFrom(ctx), models.OfferFilter{
		CooperativeID: query.Get("cooperative_id"),
		Statuses:      utils.ParseStatuses[models.OfferStatus](query["status"]),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, offers)
}

// CreateOffer обрабатывает запросы для создания предложения.
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	var offerReq models.OfferRequest
	if !decodeBody(w, r, &offerReq, false) {
		return
	}

	offer, err := h.Service.CreateOffer(ctx, actor, offerReq)
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	h.Logger.Printf("offer %s created by %s", offer.ID, actor.ID)
	utils.SendJSON(w, http.StatusOK, offer)
}

// GetOffer обрабатывает запросы для получения предложения.
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.GetOffer(ctx, actorFrom(ctx), r.PathValue("offerId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, offer)
}

// PublishOffer обрабатывает запросы для публикации черновика.
func (h *OfferHandler) PublishOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.PublishOffer(ctx, actor, r.PathValue("offerId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, offer)
}

// CancelOffer обрабатывает запросы для отмены предложения.
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	offer, err := h.Service.CancelOffer(ctx, actor, r.PathValue("offerId"))
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}
	h.Logger.Printf("offer %s cancelled by %s", offer.ID, actor.ID)
	utils.SendJSON(w, http.StatusOK, offer)
}

// ListOfferNegotiations обрабатывает запросы для получения переговоров по предложению.
func (h *OfferHandler) ListOfferNegotiations(w http.ResponseWriter, r *http.Request) {
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

	negotiations, err := h.Negotiations.ListOfferNegotiations(ctx, actor, r.PathValue("offerId"), models.NegotiationFilter{
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

// OfferEvents подписывает клиента на события предложения по websocket.
func (h *OfferHandler) OfferEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	offerId := r.PathValue("offerId")

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	_, err := h.Service.GetOffer(ctx, actor, offerId)
	cancel()
	if err != nil {
		utils.SendError(w, h.Logger, err)
		return
	}

	if err := h.Hub.ServeWS(w, r, offerId); err != nil {
		h.Logger.Printf("[realtime] upgrade for offer %s failed: %v", offerId, err)
	}
}
