package handler

import (
	"time"

	"accessgate/internal/approval/models"
	"accessgate/internal/approval/service"
	id "accessgate/pkg/domain"
)

// CreateRequest is the body of POST /admin/approvals/requests.
type CreateRequest struct {
	ApprovalType  string `json:"approvalType"`
	TargetType    string `json:"targetType"`
	TargetID      string `json:"targetId"`
	Justification string `json:"justification"`
}

func (r CreateRequest) Command() service.CreateCommand {
	return service.CreateCommand{
		ApprovalType:  models.Type(r.ApprovalType),
		TargetType:    models.TargetType(r.TargetType),
		TargetID:      r.TargetID,
		Justification: r.Justification,
	}
}

type ApproveRequest struct {
	Comments string `json:"comments"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type AccessRequest struct {
	Fields []string `json:"fields"`
}

type ListResponse struct {
	Requests []*models.ApprovalRequest `json:"requests"`
	Count    int                       `json:"count"`
}

// AccessApproval is the approval context returned alongside disclosed data.
type AccessApproval struct {
	ID             id.ApprovalID     `json:"id"`
	RequestedBy    string            `json:"requestedBy"`
	ApprovalType   models.Type       `json:"approvalType"`
	TargetType     models.TargetType `json:"targetType"`
	TargetID       string            `json:"targetId"`
	ApprovedBy     []string          `json:"approvedBy"`
	ExpiryDeadline time.Time         `json:"expiryDeadline"`
	AccessedAt     time.Time         `json:"accessedAt"`
}

type AccessResponse struct {
	Data     map[string]any `json:"data"`
	Approval AccessApproval `json:"approval"`
}

func NewAccessResponse(result *service.AccessResult) AccessResponse {
	req := result.Request
	resp := AccessResponse{
		Data: result.Data,
		Approval: AccessApproval{
			ID:             req.ID,
			RequestedBy:    req.RequestedBy,
			ApprovalType:   req.ApprovalType,
			TargetType:     req.TargetType,
			TargetID:       req.TargetID,
			ApprovedBy:     req.ApproverIDs(),
			ExpiryDeadline: req.ExpiryDeadline,
		},
	}
	if req.DataAccessRecord != nil {
		resp.Approval.AccessedAt = req.DataAccessRecord.AccessedAt
	}
	return resp
}
