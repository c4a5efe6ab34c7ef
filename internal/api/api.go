// Package api exposes the allocation service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/allocator/internal/allocation"
)

// StatusMessage is reported by the root endpoint.
const StatusMessage = "Quantum Engine: Online (Mean-Variance Optimized)"

// AllocationService defines the business operations the API needs.
type AllocationService interface {
	Allocate(ctx context.Context, req *allocation.Request) (*allocation.Run, error)
	Get(ctx context.Context, id string) (*allocation.Run, bool, error)
	List(ctx context.Context, limit int) ([]*allocation.Run, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AllocationService
	auth   func(http.Handler) http.Handler
}

// New creates a new API handler. auth wraps every allocation endpoint; nil
// leaves them open.
func New(logger log.Logger, svc AllocationService, auth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("allocation service is required"))
	}
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	return &API{
		logger: logger,
		svc:    svc,
		auth:   auth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/", a.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(a.auth)
		r.Post("/optimize", a.handleAllocate)
		r.Route("/api/v1/allocations", func(r chi.Router) {
			r.Post("/", a.handleAllocate)
			r.Get("/", a.handleList)
			r.Get("/{id}", a.handleGet)
		})
	})
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusMessage})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing useful to do with a write error once headers are sent
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
