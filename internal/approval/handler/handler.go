package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accessgate/internal/approval/models"
	"accessgate/internal/approval/service"
	id "accessgate/pkg/domain"
	dErrors "accessgate/pkg/domain-errors"
	"accessgate/pkg/platform/httputil"
	request "accessgate/pkg/platform/middleware/request"
	"accessgate/pkg/requestcontext"
)

// Service defines the approval workflow operations the handler exposes.
type Service interface {
	Create(ctx context.Context, caller models.Caller, cmd service.CreateCommand) (*models.ApprovalRequest, error)
	Get(ctx context.Context, caller models.Caller, requestID id.ApprovalID) (*models.ApprovalRequest, error)
	List(ctx context.Context, caller models.Caller, filter models.ListFilter) ([]*models.ApprovalRequest, error)
	Approve(ctx context.Context, caller models.Caller, requestID id.ApprovalID, comment string) (*models.ApprovalRequest, error)
	Reject(ctx context.Context, caller models.Caller, requestID id.ApprovalID, reason string) (*models.ApprovalRequest, error)
	Access(ctx context.Context, caller models.Caller, requestID id.ApprovalID, fields []string) (*service.AccessResult, error)
	Stats(ctx context.Context, caller models.Caller) (models.Stats, error)
}

// Handler serves the approval workflow under /admin/approvals.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts the routes. Admin token and actor middleware are applied
// by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/approvals", func(r chi.Router) {
		r.Post("/requests", h.handleCreate)
		r.Get("/requests", h.handleList)
		r.Get("/requests/{id}", h.handleGet)
		r.Put("/requests/{id}/approve", h.handleApprove)
		r.Put("/requests/{id}/reject", h.handleReject)
		r.Post("/requests/{id}/access", h.handleAccess)
		r.Get("/stats", h.handleStats)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	created, err := h.service.Create(r.Context(), caller, req.Command())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := models.ListFilter{
		Status:       models.Status(q.Get("status")),
		RequestedBy:  q.Get("requestedBy"),
		ApprovalType: models.Type(q.Get("approvalType")),
		ApprovedBy:   q.Get("approvedBy"),
	}

	requests, err := h.service.List(r.Context(), caller, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Requests: requests, Count: len(requests)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, requestID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), caller, requestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, requestID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var body ApproveRequest
	if err := decodeOptional(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := h.service.Approve(r.Context(), caller, requestID, body.Comments)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	caller, requestID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var body RejectRequest
	if err := decodeOptional(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := h.service.Reject(r.Context(), caller, requestID, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	caller, requestID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var body AccessRequest
	if err := decodeOptional(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.service.Access(r.Context(), caller, requestID, body.Fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, NewAccessResponse(result))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (models.Caller, bool) {
	ctx := r.Context()
	actorID := requestcontext.ActorID(ctx)
	if actorID == "" {
		// RequireActor should have rejected this request already
		h.logger.ErrorContext(ctx, "actor missing from context despite actor middleware",
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "caller identity required"))
		return models.Caller{}, false
	}
	return models.Caller{ID: actorID, SuperAdmin: requestcontext.IsSuperAdmin(ctx)}, true
}

func (h *Handler) callerAndID(w http.ResponseWriter, r *http.Request) (models.Caller, id.ApprovalID, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return models.Caller{}, id.ApprovalID{}, false
	}
	requestID, err := id.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return models.Caller{}, id.ApprovalID{}, false
	}
	return caller, requestID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	status := httputil.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "approval request failed",
			"request_id", request.GetRequestID(ctx),
			"path", r.URL.Path,
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, "approval request rejected",
			"request_id", request.GetRequestID(ctx),
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return httputil.DecodeJSON(w, r, v)
}
