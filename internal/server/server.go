// Package server is the thin HTTP layer over the verification core. It
// decodes requests, rejects structurally invalid input at the boundary and
// delegates everything else to the chain and the bulk runner.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parcelkit/address-verifier-go/internal/batch"
	"github.com/parcelkit/address-verifier-go/internal/policy"
	"github.com/parcelkit/address-verifier-go/internal/types"
	"github.com/parcelkit/address-verifier-go/internal/verifier"
)

type Server struct {
	chain  *verifier.Chain
	runner *batch.Runner
	policy *policy.Engine // nil when no policy is configured
}

func New(chain *verifier.Chain, runner *batch.Runner, engine *policy.Engine) *Server {
	return &Server{chain: chain, runner: runner, policy: engine}
}

// Router mounts the public endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/addresses", func(r chi.Router) {
		r.Post("/verify", s.handleVerify)
		r.Post("/verify-batch", s.handleVerifyBatch)
	})

	return r
}

type verifyRequest struct {
	Address types.Address `json:"address"`
	Slot    types.Slot    `json:"slot,omitempty"`
}

type verifyResponse struct {
	Slot    types.Slot       `json:"slot"`
	Outcome *types.Outcome   `json:"outcome"`
	Policy  *policy.Decision `json:"policy,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := uuid.NewString()
	start := time.Now()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Address.Empty() {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	slot := req.Slot
	if slot == "" {
		slot = types.SlotTo
	}
	if slot != types.SlotTo && slot != types.SlotFrom {
		writeError(w, http.StatusBadRequest, `slot must be "to" or "from"`)
		return
	}

	outcome := s.chain.Verify(ctx, req.Address)

	resp := verifyResponse{Slot: slot, Outcome: outcome}
	if s.policy != nil {
		decision, err := s.policy.Evaluate(ctx, policy.Input{
			Address: req.Address.Normalized(),
			Status:  outcome.Status,
			Flags:   outcome.Flags,
		})
		if err != nil {
			slog.ErrorContext(ctx, "policy evaluation failed",
				"request_id", requestID, "error", err)
		} else {
			resp.Policy = decision
		}
	}

	slog.InfoContext(ctx, "address verified",
		"request_id", requestID,
		"slot", slot,
		"status", outcome.Status,
		"tier", outcome.Tier,
		"duration_ms", time.Since(start).Milliseconds())

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req types.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := s.runner.Run(ctx, req)
	if err != nil {
		// Run only fails on structurally invalid requests.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
