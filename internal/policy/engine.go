package policy

import (
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// Engine evaluates merged PolicySpecs against inbound tool calls.
type Engine struct {
	quotas *QuotaTracker
	now    func() time.Time
	loc    *time.Location

	celOnce  sync.Once
	celGuard *CELGuard
	celErr   error

	progMu   sync.Mutex
	programs map[string]cel.Program
}

// NewEngine returns an Engine with its own QuotaTracker.
func NewEngine() *Engine {
	return &Engine{
		quotas:   NewQuotaTracker(),
		now:      time.Now,
		programs: make(map[string]cel.Program),
	}
}

// SetDefaultLocation sets the timezone used for schedule evaluation when a
// schedule names none (the process DEFAULT_TIMEZONE). Call before serving;
// not safe to change concurrently with Evaluate.
func (e *Engine) SetDefaultLocation(loc *time.Location) {
	e.loc = loc
}

// Evaluate runs the decision algorithm against merged, in
// order: scope check, schedule check, guards, quotas. params is the decoded
// request body; for tool == http_fetch, params["url"] is used for the
// domain guard.
func (e *Engine) Evaluate(merged PolicySpec, agentID, tool, action string, params map[string]any) Decision {
	scopeKey := tool + ":" + action
	if !containsScope(merged.Scopes, scopeKey) {
		return Decision{Allowed: false, DenyReason: DenyOutOfScope}
	}

	now := e.now()
	if !InSchedule(merged.Schedule, now, e.loc) {
		return Decision{Allowed: false, DenyReason: DenyOutOfSchedule}
	}

	if tool == "http_fetch" {
		if host := extractHost(params); host != "" && !domainAllowed(merged.Guards, host) {
			return Decision{Allowed: false, DenyReason: DenyDomainBlocked}
		}
	}
	if !requestSizeOK(merged.Guards, params) {
		return Decision{Allowed: false, DenyReason: DenyRequestTooLarge}
	}

	sanitized := params
	if merged.Guards != nil {
		sanitized = applyPIIFilters(merged.Guards.PIIFilters, params)
		if !e.customExprsPass(merged.Guards.CustomExprs, agentID, tool, action, params) {
			return Decision{Allowed: false, DenyReason: DenyGuardFailed}
		}
	}

	quotaInfo, allowed := e.consumeQuotas(agentID, action, merged.Quotas, now)
	if !allowed {
		return Decision{Allowed: false, DenyReason: DenyQuotaExceeded, QuotaInfo: quotaInfo}
	}

	return Decision{
		Allowed:         true,
		AppliedFilters:  merged.ResponseFilters,
		QuotaInfo:       quotaInfo,
		SanitizedParams: sanitized,
	}
}

// customExprsPass evaluates every custom guard expression, compiling each
// at most once per Engine. Fail closed: a compile error, evaluation error,
// or false result denies the call.
func (e *Engine) customExprsPass(exprs []string, agentID, tool, action string, params map[string]any) bool {
	if len(exprs) == 0 {
		return true
	}

	e.celOnce.Do(func() {
		e.celGuard, e.celErr = NewCELGuard()
	})
	if e.celErr != nil {
		return false
	}

	for _, expr := range exprs {
		prg, err := e.program(expr)
		if err != nil {
			return false
		}
		ok, err := e.celGuard.Evaluate(prg, agentID, tool, action, params)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.progMu.Lock()
	defer e.progMu.Unlock()
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}
	prg, err := e.celGuard.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.programs[expr] = prg
	return prg, nil
}

// consumeQuotas resolves duplicate (action, window) quotas by keeping the
// lower limit, then attempts to consume every
// quota matching action. All must succeed, or none are left incremented.
func (e *Engine) consumeQuotas(agentID, action string, quotas []Quota, now time.Time) ([]QuotaInfo, bool) {
	resolved := resolveQuotaTieBreaks(quotas)

	var applicable []Quota
	for _, q := range resolved {
		if q.Action == action {
			applicable = append(applicable, q)
		}
	}
	if len(applicable) == 0 {
		return nil, true
	}

	remaining, failed, ok := e.quotas.TryConsumeAll(agentID, applicable, now)
	if !ok {
		q := applicable[failed]
		return []QuotaInfo{{Action: q.Action, Limit: q.Limit, Remaining: 0, Window: q.Window}}, false
	}
	infos := make([]QuotaInfo, len(applicable))
	for i, q := range applicable {
		infos[i] = QuotaInfo{Action: q.Action, Limit: q.Limit, Remaining: remaining[i], Window: q.Window}
	}
	return infos, true
}

func resolveQuotaTieBreaks(quotas []Quota) []Quota {
	type key struct {
		action string
		window Window
	}
	best := make(map[key]Quota)
	var order []key
	for _, q := range quotas {
		k := key{q.Action, q.Window}
		cur, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = q
			continue
		}
		if q.Limit < cur.Limit {
			best[k] = q
		}
	}
	out := make([]Quota, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

func containsScope(scopes []string, target string) bool {
	for _, s := range scopes {
		if s == target {
			return true
		}
	}
	return false
}

func extractHost(params map[string]any) string {
	raw, ok := params["url"]
	if !ok {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
