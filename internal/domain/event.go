package domain

// Provider identifies the source-control system an event came from.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// EventStatus is the normalized state of a merge/pull request.
type EventStatus string

const (
	EventOpen   EventStatus = "open"
	EventClosed EventStatus = "closed"
)

// CanonicalEvent is the provider-agnostic representation of a merge request
// state change. It is also the payload exchanged over the event queue.
type CanonicalEvent struct {
	ProjectID   string      `json:"project_id"`
	MRID        string      `json:"mr_id"`
	MRDisplayID string      `json:"mr_iid"`
	ProjectName string      `json:"project_name"`
	Title       string      `json:"title"`
	Branch      string      `json:"branch"`
	CommitSHA   string      `json:"sha"`
	Author      string      `json:"author"`
	CloneURL    string      `json:"repo"`
	FullName    string      `json:"full_name"`
	Provider    Provider    `json:"provider"`
	Status      EventStatus `json:"status"`
}

// Key returns the (project, merge request) identity of the event.
func (e CanonicalEvent) Key() string {
	return e.ProjectID + "/" + e.MRID
}

// Skip reasons reported by the webhook normalizer.
const (
	ReasonUnsupportedEvent    = "unsupported_event"
	ReasonCommentNotPR        = "comment_not_pr"
	ReasonCommentNotCommand   = "comment_not_command"
	ReasonMissingPullRequest  = "missing_pull_request"
	ReasonUnsupportedNoteable = "unsupported_noteable"
	ReasonMissingMergeRequest = "missing_merge_request"
)

// ParseOutcome is either a handled event or a skip decision with a reason.
type ParseOutcome struct {
	Event       CanonicalEvent
	ForceDeploy bool
	Reason      string
	handled     bool
}

// Handled wraps an event the lifecycle engine should act on.
func Handled(event CanonicalEvent, forceDeploy bool) ParseOutcome {
	return ParseOutcome{Event: event, ForceDeploy: forceDeploy, handled: true}
}

// Skipped records why a webhook produced no work.
func Skipped(reason string) ParseOutcome {
	return ParseOutcome{Reason: reason}
}

// IsHandled reports whether the outcome carries an event.
func (o ParseOutcome) IsHandled() bool {
	return o.handled
}
