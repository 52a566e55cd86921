// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// the workflow service, and encode; no business logic lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vcissuer/internal/platform/middleware"
	"vcissuer/internal/sentinel"
	dErrors "vcissuer/pkg/domain-errors"
	httpErrors "vcissuer/pkg/http-errors"
)

// HealthCheck probes one backing dependency by name.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// RouterOption tweaks optional router behavior.
type RouterOption func(*routerConfig)

type routerConfig struct {
	checks []HealthCheck
}

// WithHealthChecks registers dependency probes reported by GET /health.
func WithHealthChecks(checks ...HealthCheck) RouterOption {
	return func(c *routerConfig) { c.checks = append(c.checks, checks...) }
}

// NewRouter wires all public endpoints with the shared middleware stack.
func NewRouter(procedures *ProcedureHandler, oid4vci *OID4VCIHandler, logger *slog.Logger, opts ...RouterOption) http.Handler {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/health", handleHealth(cfg.checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/procedures", procedures.handleCreate)
		r.Get("/procedures", procedures.handleList)
		r.Get("/procedures/{procedureId}", procedures.handleGet)
		r.Post("/procedures/{procedureId}/withdraw", procedures.handleWithdraw)
		r.Post("/procedures/{procedureId}/reactivate", procedures.handleReactivate)
		r.Post("/procedures/{procedureId}/retry-sign", procedures.handleRetrySign)
		r.Post("/credentials/signed", procedures.handleSignedBatch)
	})

	r.Route("/oid4vci", func(r chi.Router) {
		r.Get("/credential-offer", oid4vci.handleOfferByTransactionCode)
		r.Get("/credential-offer/{nonce}", oid4vci.handleOfferByNonce)
		r.Post("/credential", oid4vci.handleCredential)
		r.Post("/deferred-credential", oid4vci.handleDeferredCredential)
	})

	return r
}

func handleHealth(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for _, check := range checks {
			if err := check.Probe(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[check.Name] = err.Error()
			}
		}
		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeError centralizes domain error translation so every endpoint shares
// one JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		writeJSONError(w, dErrors.CodeNotFound, err.Error(), http.StatusNotFound)
		return
	}
	status, code := httpErrors.StatusFor(err)
	writeJSONError(w, code, err.Error(), status)
}

func writeJSONError(w http.ResponseWriter, code dErrors.Code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             string(code),
		"error_description": description,
	})
}

// bearerToken extracts the raw bearer token, empty when absent or malformed.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
