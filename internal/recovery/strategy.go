package recovery

import (
	"time"

	"github.com/agentgate/gateway/internal/health"
)

// ActionType is one of the known recovery action kinds.
type ActionType string

const (
	ActionCollectLogs      ActionType = "collect_logs"
	ActionRestartContainer ActionType = "restart_container"
	ActionStopContainer    ActionType = "stop_container"
	ActionRecreateContainer ActionType = "recreate_container"
	ActionNotifyOperator   ActionType = "notify_operator"
)

// Action is one step of a Strategy's ordered action list.
type Action struct {
	Type      ActionType
	Target    string // container ID/name, for container actions
	Timeout   time.Duration
	Params    map[string]string // e.g. {"message": "..."} for notify_operator
}

// Metrics is the condition-evaluation input, sampled fresh before each
// strategy selection: health_status, restart_count,
// memory_usage_percent, cpu_usage_percent, uptime.
type Metrics struct {
	HealthStatus      health.Status
	RestartCount      int
	MemoryUsagePercent float64
	CPUUsagePercent    float64
	Uptime             time.Duration
}

// Condition is a named threshold check against Metrics. Exactly one of
// the numeric fields (besides HealthStatus) is meaningful per condition;
// Matches dispatches on Field.
type Condition struct {
	Field    string // "health_status" | "restart_count" | "memory_usage_percent" | "cpu_usage_percent" | "uptime"
	Operator string // "eq" | "gte" | "lte" | "gt" | "lt"
	Value    string // compared as the field's native type
}

// Matches evaluates the condition against m.
func (c Condition) Matches(m Metrics) bool {
	switch c.Field {
	case "health_status":
		return c.Operator == "eq" && string(m.HealthStatus) == c.Value
	case "restart_count":
		return compareFloat(float64(m.RestartCount), c.Operator, c.Value)
	case "memory_usage_percent":
		return compareFloat(m.MemoryUsagePercent, c.Operator, c.Value)
	case "cpu_usage_percent":
		return compareFloat(m.CPUUsagePercent, c.Operator, c.Value)
	case "uptime":
		return compareFloat(m.Uptime.Seconds(), c.Operator, c.Value)
	default:
		return false
	}
}

func compareFloat(actual float64, op, valueStr string) bool {
	want, err := parseFloat(valueStr)
	if err != nil {
		return false
	}
	switch op {
	case "eq":
		return actual == want
	case "gte":
		return actual >= want
	case "lte":
		return actual <= want
	case "gt":
		return actual > want
	case "lt":
		return actual < want
	default:
		return false
	}
}

// Strategy is an ordered, condition-guarded recovery plan.
type Strategy struct {
	Name       string
	Priority   int // lower runs first among matching strategies
	Conditions []Condition
	Actions    []Action
}

// Matches reports whether every one of the strategy's conditions holds
// against m (conditions are ANDed).
func (s Strategy) Matches(m Metrics) bool {
	for _, c := range s.Conditions {
		if !c.Matches(m) {
			return false
		}
	}
	return true
}
