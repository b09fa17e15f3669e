package auth

import (
	"net/http"
	"strings"
)

// AccessTokenParam is the query parameter browsers use to pass a bearer on upgrade,
// since the WebSocket API cannot set headers.
const AccessTokenParam = "access_token"

// BearerFromRequest extracts the raw bearer. The Authorization header wins over the
// query parameter when both are present.
func BearerFromRequest(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}

	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if tok = strings.TrimSpace(tok); tok != "" {
				return tok, true
			}
		}
	}

	if r.URL != nil {
		if tok := strings.TrimSpace(r.URL.Query().Get(AccessTokenParam)); tok != "" {
			return tok, true
		}
	}
	return "", false
}
