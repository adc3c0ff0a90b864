// Package handlers provides HTTP handlers for the compute API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rxops/packfit/internal/api/middleware"
	"github.com/rxops/packfit/internal/apperr"
	"github.com/rxops/packfit/internal/observability/metrics"
	"github.com/rxops/packfit/internal/pipeline"
)

// Computer runs one compute request. Satisfied by *pipeline.Pipeline.
type Computer interface {
	Compute(ctx context.Context, req *pipeline.ComputeRequest) (*pipeline.ComputeResult, error)
}

// ComputeHandler exposes the compute pipeline over HTTP.
type ComputeHandler struct {
	pipeline Computer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewComputeHandler creates a handler.
func NewComputeHandler(p Computer, m *metrics.Metrics, logger *zap.Logger) *ComputeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComputeHandler{pipeline: p, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *ComputeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Compute)
	return r
}

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// Compute handles POST /compute.
func (h *ComputeHandler) Compute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	if h.metrics != nil {
		h.metrics.ComputeRequests.Inc()
	}

	var req pipeline.ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.pipeline.Compute(ctx, &req)
	if err != nil {
		e, ok := apperr.As(err)
		if !ok {
			e = apperr.Internal("unexpected pipeline failure", err)
		}
		h.logger.Warn("compute failed",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.String("code", string(e.Code)),
			zap.Error(err))
		if h.metrics != nil {
			h.metrics.ComputeFailures.WithLabelValues(string(e.Code)).Inc()
		}
		h.writeError(w, e)
		return
	}

	if h.metrics != nil {
		h.metrics.ComputeDuration.Observe(time.Since(start).Seconds())
	}
	h.logger.Info("compute succeeded",
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("drug", req.Drug),
		zap.Bool("mismatch", result.Flags.Mismatch),
		zap.Duration("duration", time.Since(start)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

func (h *ComputeHandler) writeError(w http.ResponseWriter, e *apperr.Error) {
	resp := errorResponse{Error: e.Message, Code: string(e.Code)}

	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		seconds := int(e.RetryAfter.Seconds() + 0.999)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		resp.RetryAfter = e.RetryAfter.String()
	}
	w.WriteHeader(apperr.HTTPStatus(e.Code))
	json.NewEncoder(w).Encode(resp)
}
