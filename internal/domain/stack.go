package domain

import "time"

// StackStatus is the runtime status of a deployed stack.
type StackStatus string

const (
	StackRunning StackStatus = "running"
	StackStopped StackStatus = "stopped"
	StackError   StackStatus = "error"
)

// MergeRequestStatus is the lifecycle state recorded for a merge request.
type MergeRequestStatus string

const (
	MergeRequestInProgress MergeRequestStatus = "in_progress"
	MergeRequestOpen       MergeRequestStatus = "open"
	MergeRequestClosed     MergeRequestStatus = "closed"
)

// PortLease binds an external port to one slot of one service of a stack.
type PortLease struct {
	ProjectID    string
	MRID         string
	Service      string
	SlotName     string
	InternalPort *int
	ExternalPort int
}

// LeaseKey identifies a lease independently of the port it holds.
type LeaseKey struct {
	ProjectID string
	MRID      string
	Service   string
	SlotName  string
}

// Key returns the identity of the lease.
func (l PortLease) Key() LeaseKey {
	return LeaseKey{ProjectID: l.ProjectID, MRID: l.MRID, Service: l.Service, SlotName: l.SlotName}
}

// StackRecord describes a deployed preview environment.
type StackRecord struct {
	ProjectID    string            `json:"project_id"`
	MRID         string            `json:"mr_id"`
	ProjectName  string            `json:"project_name"`
	MRName       string            `json:"merge_request_name"`
	Ports        map[string]int    `json:"ports"`
	Provider     Provider          `json:"provider"`
	Status       StackStatus       `json:"status"`
	Links        map[string]string `json:"links"`
	Orchestrator string            `json:"orchestrator,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// CommentStatus is the state conveyed by a merge request status comment.
type CommentStatus string

const (
	CommentInProgress CommentStatus = "in_progress"
	CommentReady      CommentStatus = "ready"
	CommentClosed     CommentStatus = "closed"
	CommentError      CommentStatus = "error"
)
