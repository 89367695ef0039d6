package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger logs each handshake as it arrives, noting whether a
// credential was offered, and again when the handler returns. For an upgraded
// socket that second line marks the end of the session and carries the user
// the auth gate resolved.
func NewRequestLogger(logger *slog.Logger, tokenParam string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			var ip string
			if ok {
				ip = reqMeta.IP
			}
			tokenPresent := r.URL.Query().Get(tokenParam) != "" || r.Header.Get("Authorization") != ""

			logger.Info("Incoming handshake",
				slog.String("path", r.URL.Path),
				slog.String("ip", ip),
				slog.Bool("tokenPresent", tokenPresent),
			)
			start := time.Now()
			next.ServeHTTP(w, r)

			var userID int64
			if ok {
				userID = reqMeta.UserID
			}
			logger.Info("Handshake request finished",
				slog.String("ip", ip),
				slog.Int64("userID", userID),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
