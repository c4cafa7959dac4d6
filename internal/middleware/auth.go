// Package middleware provides HTTP middleware for the settlement gateway.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

type ctxKey string

const callerKey ctxKey = "caller"

// Claims is the JWT payload the gateway accepts.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Authenticator resolves the calling address from an API key or a bearer
// token. Every settlement operation is attributed to that address.
type Authenticator struct {
	apiKeys map[string]string // key -> address
	secret  []byte
	log     *logger.Logger
}

// NewAuthenticator creates an authenticator. apiKeys maps raw keys to the
// addresses they act for; jwtSecret signs and verifies bearer tokens.
func NewAuthenticator(apiKeys map[string]string, jwtSecret string, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	keys := make(map[string]string, len(apiKeys))
	for k, v := range apiKeys {
		keys[k] = v
	}
	return &Authenticator{apiKeys: keys, secret: []byte(jwtSecret), log: log}
}

// Handler authenticates the request and stores the caller address in the
// request context.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			if address, ok := a.apiKeys[apiKey]; ok {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), address)))
				return
			}
			a.log.WithField("path", r.URL.Path).Warn("rejected unknown API key")
			unauthorized(w, "invalid API key")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(w, "missing authorization")
			return
		}
		address, err := a.validate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			a.log.WithError(err).WithField("path", r.URL.Path).Warn("rejected bearer token")
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), address)))
	})
}

// IssueToken signs a bearer token for an address. Used by operator tooling
// and tests.
func (a *Authenticator) IssueToken(address string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "settlement-engine",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Address == "" {
		return "", fmt.Errorf("token carries no address")
	}
	return claims.Address, nil
}

// WithCaller returns ctx carrying the authenticated caller address.
func WithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, callerKey, address)
}

// Caller returns the authenticated caller address, or "" when the request
// did not pass authentication.
func Caller(ctx context.Context) string {
	address, _ := ctx.Value(callerKey).(string)
	return address
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
