package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	id "accessgate/pkg/domain"
	dErrors "accessgate/pkg/domain-errors"
)

// DefaultTTL is how long a request stays usable after creation.
const DefaultTTL = 24 * time.Hour

// RequiredApprovers is the number of distinct approvers needed.
const RequiredApprovers = 2

// Approval is one sign-off on a request.
type Approval struct {
	ApproverID string    `json:"approverId"`
	ApprovedAt time.Time `json:"approvedAt"`
	Comment    string    `json:"comment,omitempty"`
}

// DataAccessRecord describes the latest disclosure. Re-access overwrites it;
// the audit trail keeps the history.
type DataAccessRecord struct {
	AccessedAt     time.Time `json:"accessedAt"`
	AccessedBy     string    `json:"accessedBy"`
	FieldsAccessed []string  `json:"fieldsAccessed"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
}

// ApprovalRequest is the aggregate root of the dual-authorization workflow.
//
// Invariants:
//   - RequestedBy, TargetID and Justification are non-empty
//   - Status only leaves pending once; rejected and expired are terminal and
//     approved may only lapse to expired
//   - Status is approved exactly when Approvals holds RequiredApprovers
//     distinct approver IDs
//   - Approvals and AuditTrail are append-only
//   - Version increases by one on every persisted change
type ApprovalRequest struct {
	ID               id.ApprovalID     `json:"id"`
	RequestedBy      string            `json:"requestedBy"`
	ApprovalType     Type              `json:"approvalType"`
	TargetType       TargetType        `json:"targetType"`
	TargetID         string            `json:"targetId"`
	Justification    string            `json:"justification"`
	Approvals        []Approval        `json:"approvals"`
	Status           Status            `json:"status"`
	ExpiryDeadline   time.Time         `json:"expiryDeadline"`
	DataAccessRecord *DataAccessRecord `json:"dataAccessRecord,omitempty"`
	AuditTrail       []AuditEntry      `json:"auditTrail"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Version          int64             `json:"version"`
}

// NewApprovalRequest validates input and returns a pending request carrying
// its created audit entry.
func NewApprovalRequest(
	requestID id.ApprovalID,
	requestedBy string,
	approvalType Type,
	targetType TargetType,
	targetID string,
	justification string,
	now time.Time,
	ttl time.Duration,
) (*ApprovalRequest, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	targetID = strings.TrimSpace(targetID)
	justification = strings.TrimSpace(justification)

	switch {
	case requestedBy == "":
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "requestedBy is required")
	case approvalType == "":
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "approvalType is required")
	case !approvalType.IsValid():
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported approvalType: "+string(approvalType))
	case targetType == "":
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "targetType is required")
	case !targetType.IsValid():
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported targetType: "+string(targetType))
	case targetID == "":
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "targetId is required")
	case justification == "":
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "justification is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	r := &ApprovalRequest{
		ID:             requestID,
		RequestedBy:    requestedBy,
		ApprovalType:   approvalType,
		TargetType:     targetType,
		TargetID:       targetID,
		Justification:  justification,
		Approvals:      []Approval{},
		Status:         StatusPending,
		ExpiryDeadline: now.Add(ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.appendAudit(AuditCreated, requestedBy, now, CreatedMetadata{
		ApprovalType:  approvalType,
		TargetType:    targetType,
		TargetID:      targetID,
		Justification: justification,
	})
	return r, nil
}

// IsPastDeadline reports whether now is strictly after the expiry deadline.
func (r *ApprovalRequest) IsPastDeadline(now time.Time) bool {
	return now.After(r.ExpiryDeadline)
}

// ShouldExpire reports whether the lazy expiry transition applies: the
// request is still pending or approved and its deadline has passed.
func (r *ApprovalRequest) ShouldExpire(now time.Time) bool {
	return (r.Status == StatusPending || r.Status == StatusApproved) && r.IsPastDeadline(now)
}

// ApplyExpiry transitions to expired. Call ShouldExpire first.
func (r *ApprovalRequest) ApplyExpiry(now time.Time, actorID string, trigger ExpiryTrigger) {
	previous := r.Status
	r.Status = StatusExpired
	r.UpdatedAt = now
	r.appendAudit(AuditExpired, actorID, now, ExpiredMetadata{
		Deadline:       r.ExpiryDeadline,
		PreviousStatus: previous,
		Trigger:        trigger,
	})
}

// CanApprove checks whether approverID may sign off now. Expiry is checked
// separately by the caller because it is persisted before failing.
func (r *ApprovalRequest) CanApprove(approverID string) error {
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeAlreadyFinalized, "approval request is already "+string(r.Status))
	}
	if approverID == r.RequestedBy {
		return dErrors.New(dErrors.CodeForbidden, "requester cannot approve their own request")
	}
	if r.HasApproved(approverID) {
		return dErrors.New(dErrors.CodeDuplicateApproval, "approver has already approved this request")
	}
	return nil
}

// ApplyApproval records a sign-off and finalizes the request once enough
// distinct approvers have signed. It returns the approval's ordinal.
func (r *ApprovalRequest) ApplyApproval(approverID, comment string, now time.Time) int {
	r.Approvals = append(r.Approvals, Approval{
		ApproverID: approverID,
		ApprovedAt: now,
		Comment:    strings.TrimSpace(comment),
	})
	number := len(r.Approvals)
	finalized := r.DistinctApprovers() >= RequiredApprovers
	if finalized {
		r.Status = StatusApproved
	}
	r.UpdatedAt = now
	r.appendAudit(AuditApproved, approverID, now, ApprovedMetadata{
		ApprovalNumber: number,
		Comment:        strings.TrimSpace(comment),
		Finalized:      finalized,
	})
	return number
}

// HasApproved reports whether approverID already signed.
func (r *ApprovalRequest) HasApproved(approverID string) bool {
	for _, a := range r.Approvals {
		if a.ApproverID == approverID {
			return true
		}
	}
	return false
}

// DistinctApprovers counts unique approver IDs.
func (r *ApprovalRequest) DistinctApprovers() int {
	seen := make(map[string]struct{}, len(r.Approvals))
	for _, a := range r.Approvals {
		seen[a.ApproverID] = struct{}{}
	}
	return len(seen)
}

// ApproverIDs lists approvers in signing order.
func (r *ApprovalRequest) ApproverIDs() []string {
	out := make([]string, 0, len(r.Approvals))
	for _, a := range r.Approvals {
		out = append(out, a.ApproverID)
	}
	return out
}

// CanReject checks that the request is still pending.
func (r *ApprovalRequest) CanReject() error {
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeAlreadyFinalized, "approval request is already "+string(r.Status))
	}
	return nil
}

// ApplyRejection transitions to rejected.
func (r *ApprovalRequest) ApplyRejection(actorID, reason string, now time.Time) {
	r.Status = StatusRejected
	r.UpdatedAt = now
	r.appendAudit(AuditRejected, actorID, now, RejectedMetadata{Reason: strings.TrimSpace(reason)})
}

// CanAccess checks that the request has been approved. Expiry is checked
// separately by the caller.
func (r *ApprovalRequest) CanAccess() error {
	if r.Status != StatusApproved {
		return dErrors.New(dErrors.CodeAccessDenied, "approval request is "+string(r.Status)+", not approved")
	}
	return nil
}

// ApplyAccess overwrites the data access record and logs the access.
func (r *ApprovalRequest) ApplyAccess(callerID string, meta AccessedMetadata, now time.Time) {
	fields := append([]string{}, meta.Fields...)
	r.DataAccessRecord = &DataAccessRecord{
		AccessedAt:     now,
		AccessedBy:     callerID,
		FieldsAccessed: fields,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}
	r.UpdatedAt = now
	meta.Fields = fields
	r.appendAudit(AuditAccessed, callerID, now, meta)
}

// VisibleTo reports whether caller may read this request.
func (r *ApprovalRequest) VisibleTo(caller Caller) bool {
	return caller.SuperAdmin || caller.ID == r.RequestedBy
}

// Clone returns a deep copy so stores never share slices with callers.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Approvals = append([]Approval{}, r.Approvals...)
	c.AuditTrail = make([]AuditEntry, len(r.AuditTrail))
	copy(c.AuditTrail, r.AuditTrail)
	if r.DataAccessRecord != nil {
		rec := *r.DataAccessRecord
		rec.FieldsAccessed = append([]string{}, r.DataAccessRecord.FieldsAccessed...)
		c.DataAccessRecord = &rec
	}
	return &c
}

func (r *ApprovalRequest) appendAudit(action AuditAction, actorID string, now time.Time, meta Metadata) {
	r.AuditTrail = append(r.AuditTrail, AuditEntry{
		ID:          uuid.New(),
		Action:      action,
		ActorID:     actorID,
		PerformedAt: now,
		Metadata:    meta,
	})
}
