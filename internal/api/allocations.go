package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/allocator/internal/allocation"
)

// decodeRequest parses a single JSON allocation request from body.
func decodeRequest(body io.Reader) (*allocation.Request, error) {
	dec := json.NewDecoder(body)
	var req allocation.Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode request: trailing data after JSON object")
	}
	return &req, nil
}

func (a *API) handleAllocate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	run, err := a.svc.Allocate(r.Context(), req)
	switch {
	case errors.Is(err, allocation.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "allocation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("allocator.run.id", run.ID),
		attribute.String("allocator.run.source", string(run.Source)),
	)

	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("allocator.run.id", id))

	run, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get allocation run", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	limit := allocation.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > allocation.MaxListLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer in 1..%d", allocation.MaxListLimit))
			return
		}
		limit = n
	}

	runs, err := a.svc.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list allocation runs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []*allocation.Run{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"allocations": runs})
}
