// Package auth identifies the Telegram user behind a bot-originated request.
// The bot front-end authenticates users itself and forwards the numeric ID.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"cargolink/pkg/requestcontext"
)

// UserIDHeader carries the Telegram user ID.
const UserIDHeader = "X-Telegram-User-ID"

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// ParseUserID parses a positive Telegram user ID.
func ParseUserID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("missing user id")
	}
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id: %w", err)
	}
	if uid <= 0 {
		return 0, fmt.Errorf("invalid user id: must be positive")
	}
	return uid, nil
}

// RequireUser rejects requests without a valid Telegram user header and
// stores the ID in the request context.
func RequireUser(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			uid, err := ParseUserID(r.Header.Get(UserIDHeader))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - telegram user",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid "+UserIDHeader+" header")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithUserID(ctx, uid)))
		})
	}
}
