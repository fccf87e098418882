package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/senyabanana/coop-offers/internal/models"
)

// Сообщение для покупателя, чьё предложение уже недоступно.
const OfferUnavailableMessage = "this offer is no longer available"

// SendErrorResponse отправляет ошибку в формате JSON
func SendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	sendError(w, models.ErrorResponse{StatusCode: statusCode, Message: message})
}

func sendError(w http.ResponseWriter, errorResponse models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errorResponse.StatusCode)
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Println(err)
	}
}

// SendJSON отправляет ответ в формате JSON
func SendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println(err)
	}
}

// ErrorFor переводит доменную ошибку в ответ клиенту.
func ErrorFor(err error) models.ErrorResponse {
	var errorResponse *models.ErrorResponse
	switch {
	case errors.As(err, &errorResponse):
		return *errorResponse
	case errors.Is(err, models.ErrOrderCreation):
		return models.ErrorResponse{StatusCode: http.StatusInternalServerError, Code: "order_creation_failed", Message: "failed to create order, nothing was changed"}
	case errors.Is(err, models.ErrOfferAlreadySold), errors.Is(err, models.ErrOfferNotBiddable):
		return models.ErrorResponse{StatusCode: http.StatusConflict, Code: "offer_unavailable", Message: OfferUnavailableMessage}
	case errors.Is(err, models.ErrValidation):
		return models.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "validation_failed", Message: err.Error()}
	case errors.Is(err, models.ErrQuantity):
		return models.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "quantity_out_of_range", Message: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		return models.ErrorResponse{StatusCode: http.StatusNotFound, Code: "not_found", Message: err.Error()}
	case errors.Is(err, models.ErrForbidden):
		return models.ErrorResponse{StatusCode: http.StatusForbidden, Code: "forbidden", Message: err.Error()}
	case errors.Is(err, models.ErrDuplicateBid):
		return models.ErrorResponse{StatusCode: http.StatusConflict, Code: "duplicate_bid", Message: err.Error()}
	case errors.Is(err, models.ErrDuplicateOrder):
		return models.ErrorResponse{StatusCode: http.StatusConflict, Code: "duplicate_order", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidState):
		return models.ErrorResponse{StatusCode: http.StatusConflict, Code: "invalid_state", Message: err.Error()}
	case errors.Is(err, models.ErrConflict):
		return models.ErrorResponse{StatusCode: http.StatusConflict, Code: "conflict", Message: "the record was changed concurrently, reload and retry"}
	}
	return models.ErrorResponse{StatusCode: http.StatusInternalServerError, Code: "internal", Message: "internal server error"}
}

// SendError отправляет доменную ошибку и пишет в лог внутренние ошибки.
func SendError(w http.ResponseWriter, logger *log.Logger, err error) {
	errorResponse := ErrorFor(err)
	if errorResponse.StatusCode >= http.StatusInternalServerError {
		logger.Println(err)
	}
	sendError(w, errorResponse)
}

// ParseLimitOffset обрабатывает limit и offset
func ParseLimitOffset(limitStr, offsetStr string) (int, int, error) {
	var limit, offset int
	var err error

	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 50 {
			return 0, 0, fmt.Errorf("invalid limit parameter, must be a positive integer [0:50]")
		}
	} else {
		limit = 5
	}

	if offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset parameter, must be a non-negative integer")
		}
	} else {
		offset = 0
	}

	return limit, offset, nil
}

// ParseStatuses приводит значения query-параметра к типу статуса.
func ParseStatuses[S ~string](values []string) []S {
	statuses := make([]S, 0, len(values))
	for _, v := range values {
		statuses = append(statuses, S(v))
	}
	return statuses
}
