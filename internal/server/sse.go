package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
)

// handleSubscribe streams change events as Server-Sent Events. Each event
// is one "data:" frame holding the event JSON. When the subscription ends
// with an error a final "event: error" frame carries {kind, message}.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errs.New(errs.ErrKindUnknown, "streaming unsupported"))
		return
	}

	sub, err := s.svc.Subscribe(r.Context(), access.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	log := logger.FromContext(r.Context()).With().Uint64("subscription", sub.ID()).Logger()
	log.Debug("subscription stream opened")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(s.opts.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("subscription stream closed by client")
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					writeStreamError(w, err)
					flusher.Flush()
					log.With().Err(err).Logger().Info("subscription stream ended")
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.With().Err(err).Logger().Error("failed to encode change event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStreamError(w http.ResponseWriter, err error) {
	data, _ := json.Marshal(errs.AsError(err).Public())
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}
