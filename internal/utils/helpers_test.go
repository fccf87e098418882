package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/senyabanana/coop-offers/internal/models"
)

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: offer x", models.ErrOfferAlreadySold), http.StatusConflict, "offer_unavailable"},
		{fmt.Errorf("%w: offer x is sold", models.ErrOfferNotBiddable), http.StatusConflict, "offer_unavailable"},
		{fmt.Errorf("%w: %w", models.ErrOrderCreation, models.ErrDuplicateOrder), http.StatusInternalServerError, "order_creation_failed"},
		{fmt.Errorf("%w: bad", models.ErrValidation), http.StatusBadRequest, "validation_failed"},
		{fmt.Errorf("%w: 5", models.ErrQuantity), http.StatusBadRequest, "quantity_out_of_range"},
		{fmt.Errorf("%w: offer", models.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: no", models.ErrForbidden), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: again", models.ErrDuplicateBid), http.StatusConflict, "duplicate_bid"},
		{fmt.Errorf("%w: closed", models.ErrInvalidState), http.StatusConflict, "invalid_state"},
		{fmt.Errorf("%w: lost", models.ErrConflict), http.StatusConflict, "conflict"},
		{errors.New("dial tcp: refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		got := ErrorFor(tt.err)
		if got.StatusCode != tt.status || got.Code != tt.code {
			t.Errorf("ErrorFor(%v) = %d %s, want %d %s", tt.err, got.StatusCode, got.Code, tt.status, tt.code)
		}
	}
	if got := ErrorFor(fmt.Errorf("%w: offer 1", models.ErrOfferAlreadySold)); got.Message != OfferUnavailableMessage {
		t.Errorf("message = %q", got.Message)
	}
	if got := ErrorFor(errors.New("password=secret")); got.Message != "internal server error" {
		t.Errorf("internal error leaked: %q", got.Message)
	}
}

func TestSendErrorResponseUsesReasonField(t *testing.T) {
	rec := httptest.NewRecorder()
	SendErrorResponse(rec, http.StatusBadRequest, "invalid request body")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["reason"] != "invalid request body" {
		t.Fatalf("body = %v", body)
	}
}

func TestParseLimitOffset(t *testing.T) {
	tests := []struct {
		limit, offset string
		wantL, wantO  int
		wantErr       bool
	}{
		{"", "", 5, 0, false},
		{"50", "10", 50, 10, false},
		{"0", "", 0, 0, true},
		{"51", "", 0, 0, true},
		{"abc", "", 0, 0, true},
		{"", "-1", 0, 0, true},
	}
	for _, tt := range tests {
		l, o, err := ParseLimitOffset(tt.limit, tt.offset)
		if (err != nil) != tt.wantErr || l != tt.wantL || o != tt.wantO {
			t.Errorf("ParseLimitOffset(%q, %q) = %d, %d, %v", tt.limit, tt.offset, l, o, err)
		}
	}
}
