// Package policy implements the declarative policy engine: resolving the
// specs that apply to a request, merging them, and evaluating a tool call
// against the merged spec.
package policy

import "time"

// ResetStrategy controls how a Quota's counter window is tracked.
type ResetStrategy string

const (
	ResetSliding ResetStrategy = "sliding"
	ResetFixed   ResetStrategy = "fixed"
)

// Window is one of the recognized quota window durations.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
)

// Duration returns the time.Duration a Window denotes.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Quota bounds how many times an action may be called within a window.
type Quota struct {
	Action        string
	Limit         int
	Window        Window
	ResetStrategy ResetStrategy
}

// TimeWindow restricts guard enforcement to a clock range in a timezone.
type TimeWindow struct {
	Start    string // "HH:MM"
	End      string // "HH:MM"
	Timezone string
}

// Guards are the request-shape and destination restrictions a policy
// imposes, independent of scopes and quotas.
type Guards struct {
	MaxRequestSize  int
	MaxResponseSize int
	AllowedDomains  []string
	BlockedDomains  []string
	PIIFilters      []string
	TimeWindow      *TimeWindow
	// CustomExprs are optional CEL expressions over
	// {agent_id, tool, action, params}; every expression must evaluate to
	// true for the call to pass. See CELGuard.
	CustomExprs []string
}

// HourRange is an inclusive-start, exclusive-end hour-of-day range.
type HourRange struct {
	Start int
	End   int
}

// Schedule restricts the days and hours during which a policy's scopes are
// usable. A nil Schedule imposes no restriction; one with Enabled == false
// permits no time at all.
type Schedule struct {
	Enabled      bool
	Timezone     string
	AllowedDays  []time.Weekday
	AllowedHours *HourRange
}

// TruncateField shortens one named field to MaxLength runes.
type TruncateField struct {
	Field     string
	MaxLength int
}

// ResponseFilters describe how to transform an adapter's result before it is
// returned to the caller.
type ResponseFilters struct {
	RedactFields   []string
	TruncateFields []TruncateField
	BlockPatterns  []string
}

// PolicySpec is the declarative record an admin authors; it becomes
// effective via one or more PolicyAssignment rows.
type PolicySpec struct {
	ID              string
	Scopes          []string
	Intent          string
	Guards          *Guards
	Quotas          []Quota
	Schedule        *Schedule
	ResponseFilters *ResponseFilters
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AssignmentTarget is either an agent ID or a role name; exactly one is set.
type AssignmentTarget struct {
	AgentID string
	Role    string
}

// PolicyAssignment binds a PolicySpec to an agent or a role.
type PolicyAssignment struct {
	ID       string
	PolicyID string
	Target   AssignmentTarget
}

// DenyReason enumerates the reasons Evaluate can deny a call.
type DenyReason string

const (
	DenyOutOfScope      DenyReason = "out_of_scope"
	DenyOutOfSchedule   DenyReason = "out_of_schedule"
	DenyDomainBlocked   DenyReason = "domain_blocked"
	DenyRequestTooLarge DenyReason = "request_too_large"
	DenyQuotaExceeded   DenyReason = "quota_exceeded"
	DenyGuardFailed     DenyReason = "guard_failed"
)

// QuotaInfo reports the post-increment state of one quota bucket.
type QuotaInfo struct {
	Action    string
	Limit     int
	Remaining int
	Window    Window
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed         bool
	DenyReason      DenyReason
	AppliedFilters  *ResponseFilters
	QuotaInfo       []QuotaInfo
	SanitizedParams map[string]any
}
