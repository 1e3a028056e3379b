package models

// Status is the lifecycle state of an approval request. Pending is the only
// non-terminal state; approved may still lapse to expired when its deadline
// passes.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Type is the kind of privileged action being requested.
type Type string

const (
	TypeStudentDataDrilldown Type = "student_data_drilldown"
	TypeExportData           Type = "export_data"
	TypeDeleteUser           Type = "delete_user"
	TypeModifySettings       Type = "modify_settings"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeStudentDataDrilldown, TypeExportData, TypeDeleteUser, TypeModifySettings:
		return true
	}
	return false
}

// TargetType is the domain of the resource the request is about.
type TargetType string

const (
	TargetStudent      TargetType = "student"
	TargetSchool       TargetType = "school"
	TargetOrganization TargetType = "organization"
	TargetPlatform     TargetType = "platform"
)

func (t TargetType) IsValid() bool {
	switch t {
	case TargetStudent, TargetSchool, TargetOrganization, TargetPlatform:
		return true
	}
	return false
}

// Caller is the identity and capability supplied with every operation.
type Caller struct {
	ID         string
	SuperAdmin bool
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status       Status
	RequestedBy  string
	ApprovalType Type
	// ApprovedBy keeps requests that carry an approval from this actor.
	ApprovedBy string
}

// Stats summarises requests visible to a caller.
type Stats struct {
	Total    int            `json:"totalRequests"`
	Pending  int            `json:"pendingApprovals"`
	ByStatus map[Status]int `json:"byStatus"`
	ByType   map[Type]int   `json:"byType"`
}

// NewStats returns Stats with all known statuses present.
func NewStats() Stats {
	return Stats{
		ByStatus: map[Status]int{
			StatusPending:  0,
			StatusApproved: 0,
			StatusRejected: 0,
			StatusExpired:  0,
		},
		ByType: map[Type]int{},
	}
}

// Add counts one request.
func (s *Stats) Add(status Status, t Type) {
	s.AddCount(status, t, 1)
}

// AddCount counts n requests sharing status and type.
func (s *Stats) AddCount(status Status, t Type, n int) {
	s.Total += n
	s.ByStatus[status] += n
	s.ByType[t] += n
	if status == StatusPending {
		s.Pending += n
	}
}
