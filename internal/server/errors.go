package server

import (
	"encoding/json"
	"net/http"

	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
)

// statusOf maps an error kind to its HTTP status.
func statusOf(kind errs.ErrKind) int {
	switch kind {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidFilter, errs.ErrKindInvalidSort, errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindAccessDenied, errs.ErrKindExpansionDenied:
		return http.StatusForbidden
	case errs.ErrKindConflict:
		return http.StatusConflict
	case errs.ErrKindStoreUnavailable:
		return http.StatusServiceUnavailable
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {kind, message}. Internal failures are logged
// with their cause and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errs.AsError(err)
	status := statusOf(e.Kind)
	pub := e.Public()

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.ErrorWith("request failed", err, map[string]any{"kind": pub.Kind, "path": r.URL.Path})
		if e.Kind == errs.ErrKindUnknown || e.Kind == errs.ErrKindQueryFailed {
			pub.Message = "internal error"
		}
	} else {
		log.With().Str("kind", pub.Kind).Logger().Debug(e.Message)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, pub)
}
