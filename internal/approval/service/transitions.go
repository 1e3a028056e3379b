package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel/attribute"

	"accessgate/internal/approval/models"
	"accessgate/internal/notify"
	id "accessgate/pkg/domain"
	dErrors "accessgate/pkg/domain-errors"
	"accessgate/pkg/platform/sentinel"
	"accessgate/pkg/requestcontext"
)

var errExpired = dErrors.New(dErrors.CodeExpired, "approval request has expired")

// mutateFunc applies a transition to a freshly loaded request. commit
// reports whether the request changed and must be written; err is returned
// to the caller after the write, so a transition can persist state and still
// fail (expiry does this).
type mutateFunc func(r *models.ApprovalRequest) (commit bool, err error)

// mutate runs fn under optimistic concurrency: load, apply, conditional
// write, and on a version conflict re-read and retry up to maxRetries times.
func (s *Service) mutate(ctx context.Context, requestID id.ApprovalID, fn mutateFunc) (*models.ApprovalRequest, bool, error) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		req, err := s.load(ctx, requestID)
		if err != nil {
			return nil, false, err
		}
		commit, fnErr := fn(req)
		if !commit {
			return req, false, fnErr
		}

		err = s.store.Update(ctx, req, req.Version)
		switch {
		case err == nil:
			return req, true, fnErr
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncrementConflictRetry()
			continue
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, false, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		default:
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update approval request")
		}
	}

	s.metrics.IncrementConcurrentModification()
	s.logger.ErrorContext(ctx, "approval request update retries exhausted",
		"approval_id", requestID.String(),
		"max_retries", s.maxRetries,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil, false, dErrors.New(dErrors.CodeConcurrentModification,
		"approval request was modified concurrently, retry later")
}

// Approve records caller's sign-off. The request becomes approved once two
// distinct approvers have signed. A lapsed deadline expires the request
// instead.
func (s *Service) Approve(ctx context.Context, caller models.Caller, requestID id.ApprovalID, comment string) (_ *models.ApprovalRequest, err error) {
	ctx, finish := s.observe(ctx, "approve",
		attribute.String("approval.id", requestID.String()),
		attribute.String("approval.approver", caller.ID),
	)
	defer func() { finish(err) }()

	now := requestcontext.Now(ctx)
	var number int
	req, committed, err := s.mutate(ctx, requestID, func(r *models.ApprovalRequest) (bool, error) {
		if commit, expiryErr := expireIfLapsed(r, now, caller.ID, models.ExpiryOnApprove); expiryErr != nil {
			return commit, expiryErr
		}
		if err := r.CanApprove(caller.ID); err != nil {
			return false, err
		}
		number = r.ApplyApproval(caller.ID, comment, now)
		return true, nil
	})
	if err != nil {
		if committed {
			s.afterExpiry(ctx, req, caller.ID)
		}
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.AuditApproved))
	s.logger.InfoContext(ctx, "approval recorded",
		"approval_id", req.ID.String(),
		"actor_id", caller.ID,
		"approval_number", number,
		"status", string(req.Status),
	)
	s.publish(ctx, notify.EventApproved, req, caller.ID)
	return req, nil
}

// Reject closes a pending request.
func (s *Service) Reject(ctx context.Context, caller models.Caller, requestID id.ApprovalID, reason string) (_ *models.ApprovalRequest, err error) {
	ctx, finish := s.observe(ctx, "reject", attribute.String("approval.id", requestID.String()))
	defer func() { finish(err) }()

	now := requestcontext.Now(ctx)
	req, _, err := s.mutate(ctx, requestID, func(r *models.ApprovalRequest) (bool, error) {
		if err := r.CanReject(); err != nil {
			return false, err
		}
		r.ApplyRejection(caller.ID, reason, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.AuditRejected))
	s.logger.InfoContext(ctx, "approval request rejected",
		"approval_id", req.ID.String(),
		"actor_id", caller.ID,
	)
	s.publish(ctx, notify.EventRejected, req, caller.ID)
	return req, nil
}

// AccessResult is the disclosed record plus the request that authorized it.
type AccessResult struct {
	Data    map[string]any
	Request *models.ApprovalRequest
}

// Access discloses the target record of an approved request. The access is
// persisted in the audit trail before the resource is fetched, so a failed
// fetch still shows the attempt. A non-empty fields list narrows the result
// to those keys; unknown keys are skipped.
func (s *Service) Access(ctx context.Context, caller models.Caller, requestID id.ApprovalID, fields []string) (_ *AccessResult, err error) {
	ctx, finish := s.observe(ctx, "access",
		attribute.String("approval.id", requestID.String()),
		attribute.String("approval.accessor", caller.ID),
	)
	defer func() { finish(err) }()

	now := requestcontext.Now(ctx)
	fields = normalizeFields(fields)
	meta := accessMetadata(ctx, fields)

	req, committed, err := s.mutate(ctx, requestID, func(r *models.ApprovalRequest) (bool, error) {
		// Approvers sign off; only the requester (or a super admin) discloses.
		if !r.VisibleTo(caller) {
			return false, dErrors.New(dErrors.CodeAccessDenied, "approval was not granted to this caller")
		}
		if r.Status == models.StatusExpired {
			return false, errExpired
		}
		if err := r.CanAccess(); err != nil {
			return false, err
		}
		if commit, expiryErr := expireIfLapsed(r, now, caller.ID, models.ExpiryOnAccess); expiryErr != nil {
			return commit, expiryErr
		}
		r.ApplyAccess(caller.ID, meta, now)
		return true, nil
	})
	if err != nil {
		if committed {
			s.afterExpiry(ctx, req, caller.ID)
		}
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.AuditAccessed))
	s.logger.InfoContext(ctx, "approved data accessed",
		"approval_id", req.ID.String(),
		"actor_id", caller.ID,
		"target_type", string(req.TargetType),
		"fields", len(fields),
	)
	s.publish(ctx, notify.EventAccessed, req, caller.ID)

	record, err := s.resources.Fetch(ctx, req.TargetType, req.TargetID)
	if err != nil {
		s.metrics.IncrementResourceFetch("error")
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fetch target resource")
	}
	s.metrics.IncrementResourceFetch("ok")

	return &AccessResult{Data: filterFields(record, fields), Request: req}, nil
}

// SweepExpired expires up to limit lapsed requests on behalf of the system
// actor and returns how many it changed. Failures on individual requests are
// logged and skipped.
func (s *Service) SweepExpired(ctx context.Context, limit int) (_ int, err error) {
	ctx, finish := s.observe(ctx, "sweep")
	defer func() { finish(err) }()

	now := requestcontext.Now(ctx)
	candidates, err := s.store.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expirable requests")
	}

	expired := 0
	for _, candidate := range candidates {
		req, committed, err := s.mutate(ctx, candidate.ID, func(r *models.ApprovalRequest) (bool, error) {
			if !r.ShouldExpire(now) {
				return false, nil
			}
			r.ApplyExpiry(now, models.SystemActor, models.ExpiryOnSweep)
			return true, nil
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to expire approval request",
				"approval_id", candidate.ID.String(),
				"error", err,
			)
			continue
		}
		if committed {
			expired++
			s.afterExpiry(ctx, req, models.SystemActor)
		}
	}
	return expired, nil
}

// expireIfLapsed applies the lazy expiry transition. It returns errExpired
// when the deadline has passed, with commit set when the request changed.
func expireIfLapsed(r *models.ApprovalRequest, now time.Time, actorID string, trigger models.ExpiryTrigger) (commit bool, err error) {
	if r.ShouldExpire(now) {
		r.ApplyExpiry(now, actorID, trigger)
		return true, errExpired
	}
	if r.Status == models.StatusExpired {
		return false, errExpired
	}
	return false, nil
}

func (s *Service) afterExpiry(ctx context.Context, req *models.ApprovalRequest, actorID string) {
	s.metrics.IncrementTransition(string(models.AuditExpired))
	s.logger.InfoContext(ctx, "approval request expired",
		"approval_id", req.ID.String(),
		"actor_id", actorID,
		"deadline", req.ExpiryDeadline,
	)
	s.publish(ctx, notify.EventExpired, req, actorID)
}

func accessMetadata(ctx context.Context, fields []string) models.AccessedMetadata {
	meta := models.AccessedMetadata{
		Fields:    fields,
		IPAddress: requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	}
	if meta.UserAgent != "" {
		ua := useragent.New(meta.UserAgent)
		name, version := ua.Browser()
		meta.Browser = strings.TrimSpace(name + " " + version)
		meta.OS = ua.OS()
		meta.Mobile = ua.Mobile()
	}
	return meta
}

func normalizeFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func filterFields(record map[string]any, fields []string) map[string]any {
	if record == nil {
		return map[string]any{}
	}
	if len(fields) == 0 {
		return record
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := record[f]; ok {
			out[f] = v
		}
	}
	return out
}
