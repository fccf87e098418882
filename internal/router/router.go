package router

import (
	"net/http"

	"github.com/senyabanana/coop-offers/internal/handlers"
)

// Handlers - набор обработчиков, из которых собираются маршруты.
type Handlers struct {
	Ping         http.HandlerFunc
	Offers       *handlers.OfferHandler
	Negotiations *handlers.NegotiationHandler
	Orders       *handlers.OrderHandler
	Maintenance  *handlers.MaintenanceHandler
}

// InitRoutes регистрирует маршруты API. identity оборачивает все маршруты проверкой токена.
func InitRoutes(h Handlers, identity func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/ping", h.Ping)

	mux.HandleFunc("/api/offers", h.Offers.ListOffers)
	mux.HandleFunc("POST /api/offers/new", h.Offers.CreateOffer)
	mux.HandleFunc("GET /api/offers/{offerId}", h.Offers.GetOffer)
	mux.HandleFunc("PUT /api/offers/{offerId}/publish", h.Offers.PublishOffer)
	mux.HandleFunc("PUT /api/offers/{offerId}/cancel", h.Offers.CancelOffer)
	mux.HandleFunc("GET /api/offers/{offerId}/negotiations", h.Offers.ListOfferNegotiations)
	mux.HandleFunc("GET /api/offers/{offerId}/ws", h.Offers.OfferEvents)

	mux.HandleFunc("POST /api/negotiations/new", h.Negotiations.OpenNegotiation)
	mux.HandleFunc("GET /api/negotiations/my", h.Negotiations.ListMyNegotiations)
	mux.HandleFunc("GET /api/negotiations/{negotiationId}", h.Negotiations.GetNegotiation)
	mux.HandleFunc("PUT /api/negotiations/{negotiationId}/counter", h.Negotiations.CounterOffer)
	mux.HandleFunc("PUT /api/negotiations/{negotiationId}/accept", h.Negotiations.Accept)
	mux.HandleFunc("PUT /api/negotiations/{negotiationId}/reject", h.Negotiations.Reject)
	mux.HandleFunc("PUT /api/negotiations/{negotiationId}/cancel", h.Negotiations.Cancel)
	mux.HandleFunc("GET /api/negotiations/{negotiationId}/messages", h.Negotiations.ListMessages)
	mux.HandleFunc("PUT /api/negotiations/{negotiationId}/read", h.Negotiations.MarkRead)

	mux.HandleFunc("GET /api/orders/my", h.Orders.ListMyOrders)
	mux.HandleFunc("GET /api/orders/{orderId}", h.Orders.GetOrder)

	mux.HandleFunc("POST /api/maintenance/sweep", h.Maintenance.RunSweep)

	if identity == nil {
		return mux
	}
	return identity(mux)
}
