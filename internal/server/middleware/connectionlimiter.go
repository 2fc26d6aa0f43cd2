package middleware

import (
	"log/slog"
	"net/http"

	"collabcore/pkg/config"
)

type UserConnectionCounter func(userID int64) int
type UserConnectionCycler func(userID int64)

// NewConnectionLimiter caps the number of simultaneous connections per user.
// In "cycle" mode the oldest connection is closed to make room; in "reject"
// mode the new request is refused.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	cycler UserConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("connection limiter could not find request metadata in context. check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if counter(reqMeta.UserID) < cfg.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("user connection limit reached", slog.Int64("userID", reqMeta.UserID))
			switch cfg.Mode {
			case "cycle":
				cycler(reqMeta.UserID)
				next.ServeHTTP(w, r)
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			default:
				logger.Error("invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
