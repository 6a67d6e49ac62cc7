package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
)

type listResponse struct {
	Records    []*record.Record `json:"records"`
	Cursor     *string          `json:"cursor"`
	TotalCount *int64           `json:"total_count,omitempty"`
}

type createResponse struct {
	IDs []record.Value `json:"ids"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := s.svc.List(r.Context(), access.PrincipalFromContext(r.Context()), chi.URLParam(r, "name"), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows := page.Rows
	if rows == nil {
		rows = []*record.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Records: rows, Cursor: page.NextCursor, TotalCount: page.TotalCount})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Read(r.Context(), access.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "name"), chi.URLParam(r, "id"), splitList(r.URL.Query().Get("expand")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreate accepts one object or an array of objects. An array is
// inserted in a single transaction.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, p, table := r.Context(), access.PrincipalFromContext(r.Context()), chi.URLParam(r, "name")

	var ids []record.Value
	if isArray(body) {
		ids, err = s.svc.CreateBulk(ctx, p, table, body)
	} else {
		var id record.Value
		id, err = s.svc.Create(ctx, p, table, body)
		ids = []record.Value{id}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{IDs: ids})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.svc.Update(r.Context(), access.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "name"), chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Delete(r.Context(), access.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	mode, err := schema.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := s.svc.Schema(r.Context(), access.PrincipalFromContext(r.Context()), chi.URLParam(r, "name"), mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "unreadable request body", err)
	}
	if !json.Valid(body) {
		return nil, errs.New(errs.ErrKindInvalidInput, "request body is not valid JSON")
	}
	return body, nil
}

func isArray(body []byte) bool {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	return strings.HasPrefix(trimmed, "[")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
