package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-essam23/chatrelay/internal/auth"
	"github.com/a-essam23/chatrelay/internal/collab"
	"github.com/a-essam23/chatrelay/internal/metrics"
	"github.com/coder/websocket"
)

// StatusUnauthorized is the application close code for a failed handshake.
const StatusUnauthorized websocket.StatusCode = 4001

// NewAuthGate verifies the credential from the tokenParam query parameter,
// falling back to an Authorization: Bearer header. A missing or invalid
// credential completes the upgrade only to close it with StatusUnauthorized,
// so browsers can tell an auth failure from a network error.
func NewAuthGate(logger *slog.Logger, verifier collab.TokenVerifier, tokenParam string, acceptOpts *websocket.AcceptOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			token := r.URL.Query().Get(tokenParam)
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				metrics.Handshakes.WithLabelValues("unauthorized").Inc()
				if errors.Is(err, auth.ErrMissingToken) {
					logger.Warn("Handshake without token", slog.String("ip", reqMeta.IP))
				} else {
					logger.Warn("Invalid token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				}
				rejectUnauthorized(w, r, acceptOpts)
				return
			}

			reqMeta.UserID = userID
			next.ServeHTTP(w, r)
		})
	}
}

func rejectUnauthorized(w http.ResponseWriter, r *http.Request, acceptOpts *websocket.AcceptOptions) {
	ws, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		// not a websocket request; Accept has already written the response
		return
	}
	ws.Close(StatusUnauthorized, "unauthorized")
}
