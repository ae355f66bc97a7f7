package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
)

// Verifier resolves a bearer token to a live session.
// *identity.Authenticator implements it.
type Verifier interface {
	Verify(ctx context.Context, token string) (*identity.Session, error)
}

// Middleware authenticates every request from its own bearer token and
// stores the resulting Principal in the request context. Nothing is cached
// between requests.
func Middleware(v Verifier, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}
			sess, err := v.Verify(r.Context(), token)
			if err != nil {
				log.DebugContext(r.Context(), "bearer token rejected", logger.Component("policy"), logger.Error(err))
				writeUnauthorized(w)
				return
			}
			p, err := PrincipalFromSession(sess)
			if err != nil {
				log.WarnContext(r.Context(), "session carries an invalid user", logger.Component("policy"), logger.Error(err))
				writeUnauthorized(w)
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			ctx = identity.WithUser(ctx, sess.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tenantguard"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}

// WriteError renders err as JSON. Access denials become 403 with code 42501
// and a generic message; anything else is a 500 with no details.
func WriteError(w http.ResponseWriter, err error) {
	if IsAccessDenied(err) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: PublicMessage(err), Code: SQLStateInsufficientPrivilege})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: PublicMessage(err)})
}

// WriteJSON renders v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
