// Package middleware содержит обёртки HTTP-обработчиков.
package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/senyabanana/coop-offers/internal/models"
	"github.com/senyabanana/coop-offers/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

// Claims - поля токена, по которым определяется участник.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity проверяет bearer-токен (HS256) и кладёт models.Actor в контекст.
// Запросы без токена проходят анонимно, обработчики сами решают, нужен ли участник.
type Identity struct {
	secret []byte
	logger *log.Logger
}

// NewIdentity создаёт новый экземпляр Identity.
func NewIdentity(secret string, logger *log.Logger) *Identity {
	return &Identity{secret: []byte(secret), logger: logger}
}

// ParseToken возвращает участника из подписанного токена.
func (i *Identity) ParseToken(tokenStr string) (models.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Actor{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return models.Actor{}, errors.New("invalid token claims")
	}
	role := models.Role(claims.Role)
	switch role {
	case models.BuyerRole, models.CooperativeRole, models.AdminRole:
	default:
		return models.Actor{}, errors.New("unsupported role in token")
	}
	return models.Actor{ID: claims.Subject, Role: role}, nil
}

// Middleware оборачивает обработчик проверкой токена.
func (i *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			utils.SendErrorResponse(w, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
			return
		}
		actor, err := i.ParseToken(tokenStr)
		if err != nil {
			i.logger.Printf("[auth] rejected token: %v", err)
			utils.SendErrorResponse(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(models.WithActor(r.Context(), actor)))
	})
}

// IssueToken подписывает токен для участника. Используется в тестах и утилитах разработки.
func (i *Identity) IssueToken(actor models.Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.ID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(actor.Role), RegisteredClaims: claims})
	return token.SignedString(i.secret)
}
