package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/m0nds/teamflow-pro/pkg/config"
	"github.com/m0nds/teamflow-pro/pkg/state"
)

// ConnectionCounter reports how many live connections an owner holds.
type ConnectionCounter func(ctx context.Context, owner string) (int, error)

// ConnectionCycler closes an owner's oldest connection to make room.
type ConnectionCycler func(ctx context.Context, owner string) error

// NewConnectionLimiter caps live connections per owner: the authenticated
// user, or the client IP for anonymous sockets.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter ConnectionCounter,
	cycler ConnectionCycler,
	config config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			owner := state.OwnerKey(reqMeta.UserID, reqMeta.IP)

			count, err := counter(r.Context(), owner)
			if err != nil {
				logger.Error("Connection limiter failed to get connection count", slog.Any("error", err))
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
			if count < config.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Connection limit reached", slog.String("owner", owner), slog.Int("count", count))
			switch config.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case "cycle":
				if err := cycler(r.Context(), owner); err != nil {
					logger.Error("Failed to cycle connection", slog.String("owner", owner), slog.Any("error", err))
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
					return
				}
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
