package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/utils"
)

// decodeBody разбирает JSON тела запроса. Пустое тело допустимо, если allowEmpty.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	utils.SendErrorResponse(w, http.StatusBadRequest, "invalid request body")
	return false
}

func actorFrom(ctx context.Context) models.Actor {
	actor, _ := models.ActorFromContext(ctx)
	return actor
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		utils.SendErrorResponse(w, http.StatusBadRequest, "invalid method, only "+method+" is allowed")
		return false
	}
	return true
}

// requireActor отвечает 401, если запрос пришёл без токена.
func requireActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := models.ActorFromContext(r.Context())
	if !ok {
		utils.SendErrorResponse(w, http.StatusUnauthorized, "authorization required")
		return models.Actor{}, false
	}
	return actor, true
}
