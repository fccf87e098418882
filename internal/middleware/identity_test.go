package middleware

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/senyabanana/coop-offers/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

func TestIdentityMiddleware(t *testing.T) {
	identity := NewIdentity("test-secret", log.New(io.Discard, "", 0))
	buyer := models.Actor{ID: "buyer-1", Role: models.BuyerRole}

	valid, err := identity.IssueToken(buyer, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := identity.IssueToken(buyer, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	foreign, _ := NewIdentity("other-secret", log.New(io.Discard, "", 0)).IssueToken(buyer, jwt.RegisteredClaims{})
	badRole, _ := identity.IssueToken(models.Actor{ID: "x", Role: models.SystemRole}, jwt.RegisteredClaims{})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantActor  models.Actor
	}{
		{"anonymous", "", http.StatusOK, models.Actor{}},
		{"valid", "Bearer " + valid, http.StatusOK, buyer},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, models.Actor{}},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, models.Actor{}},
		{"foreign signature", "Bearer " + foreign, http.StatusUnauthorized, models.Actor{}},
		{"system role", "Bearer " + badRole, http.StatusUnauthorized, models.Actor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.Actor
			handler := identity.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = models.ActorFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/offers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got != tt.wantActor {
				t.Fatalf("actor = %+v, want %+v", got, tt.wantActor)
			}
		})
	}
}
