package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "accessgate/pkg/domain-errors"
)

// ApprovalID identifies an approval request. It is a distinct type so it can
// never be confused with other UUID-shaped identifiers.
type ApprovalID uuid.UUID

// NewApprovalID returns a fresh random identifier.
func NewApprovalID() ApprovalID {
	return ApprovalID(uuid.New())
}

// ParseApprovalID parses an identifier received at a trust boundary. Empty,
// malformed and nil UUIDs are rejected.
func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ApprovalID{}, err
	}
	return ApprovalID(u), nil
}

func (id ApprovalID) String() string {
	return uuid.UUID(id).String()
}

func (id ApprovalID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id ApprovalID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ApprovalID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid approval id")
	}
	*id = ApprovalID(u)
	return nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be nil")
	}
	return u, nil
}
