package proxy

import "time"

// outcome is the stage-failure code attached to the response and to the
// per-request audit log.
type outcome struct {
	status     int
	reason     string
	retryAfter time.Duration
}

func (o outcome) toResponse(corrID string) Response {
	return Response{
		Success:       false,
		Error:         o.reason,
		CorrelationID: corrID,
		StatusCode:    o.status,
		RetryAfter:    o.retryAfter,
	}
}

var (
	outShuttingDown     = outcome{status: 503, reason: "shutting_down"}
	outSchemaInvalid    = outcome{status: 400, reason: "validation_error"}
	outProvenanceFailed = outcome{status: 403, reason: "registry_mismatch"}
	outMalformed        = outcome{status: 403, reason: "malformed"}
	outBadSignature     = outcome{status: 403, reason: "bad_signature"}
	outExpired          = outcome{status: 403, reason: "expired"}
	outAgentNotFound    = outcome{status: 403, reason: "unknown_agent"}
	outAgentDisabled    = outcome{status: 403, reason: "disabled_agent"}
	outDegraded         = outcome{status: 503, reason: "degraded"}
	outToolUnconfigured = outcome{status: 503, reason: "tool_unconfigured"}
	outBreakerOpen      = outcome{status: 503, reason: "breaker_open"}
	outUpstream         = outcome{status: 502, reason: "upstream_error"}
)

// policyDenyStatus maps a policy.DenyReason to its HTTP status: always
// 403, reason carried through as the error field.
const policyDenyStatus = 403
