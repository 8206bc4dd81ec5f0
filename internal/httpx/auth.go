package httpx

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// BuyerResolver maps a request to the authenticated buyer. Session handling
// lives in front of this service; it forwards the buyer id in a header.
type BuyerResolver interface {
	BuyerID(r *http.Request) (string, error)
}

type HeaderBuyerResolver struct {
	Header string
}

func (h HeaderBuyerResolver) BuyerID(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = "X-Buyer-Id"
	}
	id := strings.TrimSpace(r.Header.Get(name))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// adminOnly checks "Authorization: Bearer <ADMIN_TOKEN>". An empty token
// disables the admin API.
func adminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func adminActor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Admin-Actor")); a != "" {
		return a
	}
	return "admin"
}
