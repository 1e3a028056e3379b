package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accessgate/internal/approval/metrics"
	"accessgate/internal/approval/models"
	"accessgate/internal/notify"
	id "accessgate/pkg/domain"
	dErrors "accessgate/pkg/domain-errors"
	"accessgate/pkg/platform/sentinel"
	"accessgate/pkg/requestcontext"
)

// DefaultMaxRetries bounds re-reads after a version conflict.
const DefaultMaxRetries = 5

// Store persists approval requests with optimistic versioning.
type Store interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	FindByID(ctx context.Context, requestID id.ApprovalID) (*models.ApprovalRequest, error)
	FindPending(ctx context.Context, requestedBy string, targetType models.TargetType, targetID string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest, expectedVersion int64) error
	List(ctx context.Context, filter models.ListFilter) ([]*models.ApprovalRequest, error)
	Stats(ctx context.Context, filter models.ListFilter) (models.Stats, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.ApprovalRequest, error)
}

// ResourceProvider returns the record an approved request discloses.
type ResourceProvider interface {
	Fetch(ctx context.Context, targetType models.TargetType, targetID string) (map[string]any, error)
}

// Notifier receives state changes after they are persisted. Errors are
// logged and never affect the operation.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event) error
}

// Service runs the dual-authorization workflow and gates disclosure.
type Service struct {
	store      Store
	resources  ResourceProvider
	notifier   Notifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	ttl        time.Duration
	maxRetries int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithTTL sets how long new requests stay valid.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxRetries sets the conflict retry budget.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New constructs a Service.
func New(store Store, resources ResourceProvider, opts ...Option) *Service {
	s := &Service{
		store:      store,
		resources:  resources,
		logger:     slog.Default(),
		tracer:     otel.Tracer("accessgate/approval"),
		ttl:        models.DefaultTTL,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCommand carries the caller-supplied fields of a new request.
type CreateCommand struct {
	ApprovalType  models.Type
	TargetType    models.TargetType
	TargetID      string
	Justification string
}

// Create opens a pending request for caller. A stale pending request for the
// same target is expired first so it does not block the new one.
func (s *Service) Create(ctx context.Context, caller models.Caller, cmd CreateCommand) (_ *models.ApprovalRequest, err error) {
	ctx, finish := s.observe(ctx, "create", attribute.String("approval.requested_by", caller.ID))
	defer func() { finish(err) }()

	now := requestcontext.Now(ctx)
	req, err := models.NewApprovalRequest(
		id.NewApprovalID(),
		caller.ID,
		cmd.ApprovalType,
		cmd.TargetType,
		cmd.TargetID,
		cmd.Justification,
		now,
		s.ttl,
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		err = s.store.Create(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval request")
		}
		if attempt > 0 || !s.expireStalePending(ctx, req, now) {
			return nil, dErrors.New(dErrors.CodeDuplicateRequest,
				"a pending request already exists for this target")
		}
	}

	s.metrics.IncrementTransition(string(models.AuditCreated))
	s.logger.InfoContext(ctx, "approval request created",
		"approval_id", req.ID.String(),
		"actor_id", caller.ID,
		"approval_type", string(req.ApprovalType),
		"target_type", string(req.TargetType),
	)
	s.publish(ctx, notify.EventCreated, req, caller.ID)
	return req, nil
}

// expireStalePending expires the pending request blocking candidate when its
// deadline has passed. It reports whether creating candidate is worth retrying.
func (s *Service) expireStalePending(ctx context.Context, candidate *models.ApprovalRequest, now time.Time) bool {
	existing, err := s.store.FindPending(ctx, candidate.RequestedBy, candidate.TargetType, candidate.TargetID)
	if err != nil || !existing.ShouldExpire(now) {
		return false
	}
	expired, committed, err := s.mutate(ctx, existing.ID, func(r *models.ApprovalRequest) (bool, error) {
		if !r.ShouldExpire(now) {
			return false, nil
		}
		r.ApplyExpiry(now, candidate.RequestedBy, models.ExpiryOnCreate)
		return true, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to expire stale pending request",
			"approval_id", existing.ID.String(),
			"error", err,
		)
		return false
	}
	if committed {
		s.afterExpiry(ctx, expired, candidate.RequestedBy)
	}
	return true
}

// Get returns one request visible to caller.
func (s *Service) Get(ctx context.Context, caller models.Caller, requestID id.ApprovalID) (_ *models.ApprovalRequest, err error) {
	ctx, finish := s.observe(ctx, "get", attribute.String("approval.id", requestID.String()))
	defer func() { finish(err) }()

	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.VisibleTo(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "approval request belongs to another requester")
	}
	return req, nil
}

// List returns requests newest first. Callers without super admin rights
// only ever see their own requests.
func (s *Service) List(ctx context.Context, caller models.Caller, filter models.ListFilter) (_ []*models.ApprovalRequest, err error) {
	ctx, finish := s.observe(ctx, "list")
	defer func() { finish(err) }()

	filter, err = scopeFilter(caller, filter)
	if err != nil {
		return nil, err
	}
	requests, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approval requests")
	}
	if requests == nil {
		requests = []*models.ApprovalRequest{}
	}
	return requests, nil
}

// Stats counts requests visible to caller.
func (s *Service) Stats(ctx context.Context, caller models.Caller) (_ models.Stats, err error) {
	ctx, finish := s.observe(ctx, "stats")
	defer func() { finish(err) }()

	filter, _ := scopeFilter(caller, models.ListFilter{})
	stats, err := s.store.Stats(ctx, filter)
	if err != nil {
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute approval stats")
	}
	return stats, nil
}

func scopeFilter(caller models.Caller, filter models.ListFilter) (models.ListFilter, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return filter, dErrors.New(dErrors.CodeValidation, "unsupported status filter: "+string(filter.Status))
	}
	if filter.ApprovalType != "" && !filter.ApprovalType.IsValid() {
		return filter, dErrors.New(dErrors.CodeValidation, "unsupported approvalType filter: "+string(filter.ApprovalType))
	}
	filter.RequestedBy = strings.TrimSpace(filter.RequestedBy)
	if !caller.SuperAdmin {
		filter.RequestedBy = caller.ID
	}
	return filter, nil
}

func (s *Service) load(ctx context.Context, requestID id.ApprovalID) (*models.ApprovalRequest, error) {
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval request")
	}
	return req, nil
}

// observe starts a span and returns a func that ends it, records latency and
// logs unexpected failures.
func (s *Service) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "approval."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		defer span.End()
		s.metrics.ObserveOperation(operation, time.Since(start))
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		de, ok := dErrors.As(err)
		switch {
		case !ok || de.Code == dErrors.CodeInternal:
			s.logger.ErrorContext(ctx, "approval operation failed",
				"operation", operation,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		case de.Code == dErrors.CodeConcurrentModification:
			// logged where retries ran out
		default:
			s.logger.InfoContext(ctx, "approval operation rejected",
				"operation", operation,
				"request_id", requestcontext.RequestID(ctx),
				"code", string(de.Code),
				"reason", de.Message,
			)
		}
	}
}

// publish hands an event to the notifier. Failures and panics are logged
// and swallowed.
func (s *Service) publish(ctx context.Context, eventType notify.EventType, req *models.ApprovalRequest, actorID string) {
	if s.notifier == nil || req == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WarnContext(ctx, "notifier panicked",
				"event", string(eventType),
				"approval_id", req.ID.String(),
				"panic", r,
			)
		}
	}()

	event := notify.Event{
		Type:      eventType,
		RequestID: req.ID.String(),
		Status:    string(req.Status),
		ActorID:   actorID,
		At:        req.UpdatedAt,
		Approvals: len(req.Approvals),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			"event", string(eventType),
			"approval_id", req.ID.String(),
			"error", err,
		)
	}
}
