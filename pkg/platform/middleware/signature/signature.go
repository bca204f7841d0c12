// Package signature authenticates provider webhooks that sign their body
// with a shared secret.
package signature

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	dErrors "cargolink/pkg/domain-errors"
	"cargolink/pkg/platform/hmacsig"
	"cargolink/pkg/platform/httputil"
	"cargolink/pkg/requestcontext"
)

// Require accepts a request only when header carries the hex HMAC-SHA256 of
// its body under secret. The verified body is handed on unchanged. With an
// empty secret every request is refused.
func Require(secret, header string, maxBody int64, logger *slog.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				logger.WarnContext(ctx, "webhook body unreadable",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
				return
			}

			if !hmacsig.Verify(key, raw, r.Header.Get(header)) {
				logger.WarnContext(ctx, "webhook rejected: signature mismatch",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
					"body_bytes", len(raw),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			next.ServeHTTP(w, r)
		})
	}
}
