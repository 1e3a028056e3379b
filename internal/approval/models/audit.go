package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction names the transition an audit entry records.
type AuditAction string

const (
	AuditCreated  AuditAction = "created"
	AuditApproved AuditAction = "approved"
	AuditRejected AuditAction = "rejected"
	AuditAccessed AuditAction = "accessed"
	AuditExpired  AuditAction = "expired"
)

// SystemActor performs transitions that no caller triggered directly.
const SystemActor = "system"

// AuditEntry is one immutable line of a request's audit trail.
type AuditEntry struct {
	ID          uuid.UUID
	Action      AuditAction
	ActorID     string
	PerformedAt time.Time
	Metadata    Metadata
}

// Metadata is a tagged union keyed by the entry's action. Each variant carries
// only the fields relevant to its action; GenericMetadata holds anything an
// older or newer writer produced that this version does not model.
type Metadata interface {
	action() AuditAction
}

type CreatedMetadata struct {
	ApprovalType  Type       `json:"approvalType"`
	TargetType    TargetType `json:"targetType"`
	TargetID      string     `json:"targetId"`
	Justification string     `json:"justification"`
}

type ApprovedMetadata struct {
	ApprovalNumber int    `json:"approvalNumber"`
	Comment        string `json:"comment,omitempty"`
	Finalized      bool   `json:"finalized"`
}

type RejectedMetadata struct {
	Reason string `json:"reason,omitempty"`
}

type AccessedMetadata struct {
	Fields    []string `json:"fields"`
	IPAddress string   `json:"ipAddress,omitempty"`
	UserAgent string   `json:"userAgent,omitempty"`
	Browser   string   `json:"browser,omitempty"`
	OS        string   `json:"os,omitempty"`
	Mobile    bool     `json:"mobile,omitempty"`
}

// ExpiryTrigger records which operation observed the lapsed deadline.
type ExpiryTrigger string

const (
	ExpiryOnApprove ExpiryTrigger = "approve"
	ExpiryOnAccess  ExpiryTrigger = "access"
	ExpiryOnCreate  ExpiryTrigger = "create"
	ExpiryOnSweep   ExpiryTrigger = "sweep"
)

type ExpiredMetadata struct {
	Deadline       time.Time     `json:"deadline"`
	PreviousStatus Status        `json:"previousStatus"`
	Trigger        ExpiryTrigger `json:"trigger"`
}

type GenericMetadata map[string]string

func (CreatedMetadata) action() AuditAction  { return AuditCreated }
func (ApprovedMetadata) action() AuditAction { return AuditApproved }
func (RejectedMetadata) action() AuditAction { return AuditRejected }
func (AccessedMetadata) action() AuditAction { return AuditAccessed }
func (ExpiredMetadata) action() AuditAction  { return AuditExpired }
func (GenericMetadata) action() AuditAction  { return "" }

type auditEntryJSON struct {
	ID          uuid.UUID       `json:"id"`
	Action      AuditAction     `json:"action"`
	ActorID     string          `json:"actorId"`
	PerformedAt time.Time       `json:"performedAt"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

func (e AuditEntry) MarshalJSON() ([]byte, error) {
	out := auditEntryJSON{
		ID:          e.ID,
		Action:      e.Action,
		ActorID:     e.ActorID,
		PerformedAt: e.PerformedAt,
	}
	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal audit metadata: %w", err)
		}
		out.Metadata = raw
	}
	return json.Marshal(out)
}

func (e *AuditEntry) UnmarshalJSON(b []byte) error {
	var in auditEntryJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	e.ID = in.ID
	e.Action = in.Action
	e.ActorID = in.ActorID
	e.PerformedAt = in.PerformedAt
	e.Metadata = nil
	if len(in.Metadata) == 0 || string(in.Metadata) == "null" {
		return nil
	}
	meta, err := decodeMetadata(in.Action, in.Metadata)
	if err != nil {
		return fmt.Errorf("unmarshal %s audit metadata: %w", in.Action, err)
	}
	e.Metadata = meta
	return nil
}

func decodeMetadata(action AuditAction, raw json.RawMessage) (Metadata, error) {
	switch action {
	case AuditCreated:
		return decodeAs[CreatedMetadata](raw)
	case AuditApproved:
		return decodeAs[ApprovedMetadata](raw)
	case AuditRejected:
		return decodeAs[RejectedMetadata](raw)
	case AuditAccessed:
		return decodeAs[AccessedMetadata](raw)
	case AuditExpired:
		return decodeAs[ExpiredMetadata](raw)
	}
	return decodeGeneric(raw)
}

func decodeAs[T Metadata](raw json.RawMessage) (Metadata, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeGeneric flattens unknown metadata into strings so it survives a
// round trip even when its shape is not modelled.
func decodeGeneric(raw json.RawMessage) (Metadata, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := make(GenericMetadata, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}
