package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accessgate/internal/privacy"
	dErrors "accessgate/pkg/domain-errors"
	"accessgate/pkg/platform/httputil"
	request "accessgate/pkg/platform/middleware/request"
)

// Pipeline is the subset of privacy.Pipeline the handler needs.
type Pipeline interface {
	Validate(ctx context.Context, value any) privacy.ValidationResult
	GenerateExport(ctx context.Context, raw any, opts privacy.ExportOptions) (*privacy.Export, error)
}

type Handler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func New(pipeline Pipeline, logger *slog.Logger) *Handler {
	return &Handler{pipeline: pipeline, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/privacy", func(r chi.Router) {
		r.Post("/scan", h.handleScan)
		r.Post("/export", h.handleExport)
	})
}

// ExportRequest is the body of POST /admin/privacy/export.
type ExportRequest struct {
	Data    json.RawMessage       `json:"data"`
	Options privacy.ExportOptions `json:"options"`
}

// LeakageResponse is returned with 422 when an export is blocked.
type LeakageResponse struct {
	httputil.ErrorResponse
	Stage    privacy.Stage     `json:"stage"`
	Findings []privacy.Finding `json:"findings"`
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	var value any
	if err := httputil.DecodeJSON(w, r, &value); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.pipeline.Validate(r.Context(), value))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ExportRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "data is required"))
		return
	}
	var data any
	if err := json.Unmarshal(req.Data, &data); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid data"))
		return
	}

	export, err := h.pipeline.GenerateExport(ctx, data, req.Options)
	if err != nil {
		var leak *privacy.LeakageError
		if errors.As(err, &leak) {
			h.logger.WarnContext(ctx, "privacy export blocked",
				"request_id", request.GetRequestID(ctx),
				"stage", string(leak.Stage),
				"findings", len(leak.Findings),
			)
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, LeakageResponse{
				ErrorResponse: httputil.ErrorBody(err),
				Stage:         leak.Stage,
				Findings:      leak.Findings,
			})
			return
		}
		h.logger.ErrorContext(ctx, "privacy export failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, export)
}
