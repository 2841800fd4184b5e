package policy

import "time"

// Merge combines the PolicySpecs that apply to one request into a single
// effective spec: union of scopes, guards take the tightest bound
// (allowedDomains intersected, blockedDomains unioned), quotas
// concatenated (duplicate action+window resolved at evaluation time by
// taking the lower limit), schedules intersected, response filters
// concatenated.
func Merge(specs []PolicySpec) PolicySpec {
	merged := PolicySpec{}
	if len(specs) == 0 {
		return merged
	}

	scopeSet := make(map[string]struct{})
	var guards []*Guards
	var schedules []*Schedule

	for _, spec := range specs {
		for _, scope := range spec.Scopes {
			scopeSet[scope] = struct{}{}
		}
		if spec.Guards != nil {
			guards = append(guards, spec.Guards)
		}
		if spec.Schedule != nil {
			schedules = append(schedules, spec.Schedule)
		}
		merged.Quotas = append(merged.Quotas, spec.Quotas...)
		merged.ResponseFilters = mergeResponseFilters(merged.ResponseFilters, spec.ResponseFilters)
	}

	for scope := range scopeSet {
		merged.Scopes = append(merged.Scopes, scope)
	}
	merged.Guards = mergeGuards(guards)
	merged.Schedule = mergeSchedules(schedules)
	return merged
}

func mergeGuards(guards []*Guards) *Guards {
	if len(guards) == 0 {
		return nil
	}

	out := &Guards{}
	allowedSet := make(map[string]int)
	blockedSet := make(map[string]struct{})
	piiSet := make(map[string]struct{})
	seenExprs := make(map[string]struct{})

	for i, g := range guards {
		if g.MaxRequestSize > 0 && (out.MaxRequestSize == 0 || g.MaxRequestSize < out.MaxRequestSize) {
			out.MaxRequestSize = g.MaxRequestSize
		}
		if g.MaxResponseSize > 0 && (out.MaxResponseSize == 0 || g.MaxResponseSize < out.MaxResponseSize) {
			out.MaxResponseSize = g.MaxResponseSize
		}
		for _, d := range g.AllowedDomains {
			allowedSet[d]++
		}
		for _, d := range g.BlockedDomains {
			blockedSet[d] = struct{}{}
		}
		for _, p := range g.PIIFilters {
			piiSet[p] = struct{}{}
		}
		// Custom expressions concatenate: every contributing guard's
		// expression must still hold.
		for _, expr := range g.CustomExprs {
			if _, ok := seenExprs[expr]; !ok {
				seenExprs[expr] = struct{}{}
				out.CustomExprs = append(out.CustomExprs, expr)
			}
		}
		if g.TimeWindow != nil {
			// Narrowest time window wins; first one seen sets the bound, later
			// ones only tighten it.
			if out.TimeWindow == nil {
				tw := *g.TimeWindow
				out.TimeWindow = &tw
			} else if g.TimeWindow.Start > out.TimeWindow.Start {
				out.TimeWindow.Start = g.TimeWindow.Start
			}
			if out.TimeWindow != nil && g.TimeWindow.End < out.TimeWindow.End {
				out.TimeWindow.End = g.TimeWindow.End
			}
		}
		_ = i
	}

	// allowedDomains is an intersection: only keep domains named by every
	// guard that specified an allow-list at all.
	specifiedAllowLists := 0
	for _, g := range guards {
		if len(g.AllowedDomains) > 0 {
			specifiedAllowLists++
		}
	}
	for d, count := range allowedSet {
		if count == specifiedAllowLists {
			out.AllowedDomains = append(out.AllowedDomains, d)
		}
	}
	for d := range blockedSet {
		out.BlockedDomains = append(out.BlockedDomains, d)
	}
	for p := range piiSet {
		out.PIIFilters = append(out.PIIFilters, p)
	}
	return out
}

func mergeSchedules(schedules []*Schedule) *Schedule {
	if len(schedules) == 0 {
		return nil
	}

	out := &Schedule{Enabled: true, Timezone: "UTC"}
	var dayIntersection map[time.Weekday]struct{}

	for _, sched := range schedules {
		if !sched.Enabled {
			out.Enabled = false
		}
		if sched.Timezone != "" {
			out.Timezone = sched.Timezone
		}
		if sched.AllowedDays != nil {
			cur := make(map[time.Weekday]struct{}, len(sched.AllowedDays))
			for _, d := range sched.AllowedDays {
				cur[d] = struct{}{}
			}
			if dayIntersection == nil {
				dayIntersection = cur
			} else {
				for d := range dayIntersection {
					if _, ok := cur[d]; !ok {
						delete(dayIntersection, d)
					}
				}
			}
		}
		if sched.AllowedHours != nil {
			if out.AllowedHours == nil {
				hr := *sched.AllowedHours
				out.AllowedHours = &hr
			} else {
				if sched.AllowedHours.Start > out.AllowedHours.Start {
					out.AllowedHours.Start = sched.AllowedHours.Start
				}
				if sched.AllowedHours.End < out.AllowedHours.End {
					out.AllowedHours.End = sched.AllowedHours.End
				}
			}
		}
	}

	if dayIntersection != nil {
		for d := range dayIntersection {
			out.AllowedDays = append(out.AllowedDays, d)
		}
	}
	return out
}

func mergeResponseFilters(a, b *ResponseFilters) *ResponseFilters {
	if b == nil {
		return a
	}
	if a == nil {
		a = &ResponseFilters{}
	}
	out := &ResponseFilters{
		RedactFields:   append(append([]string{}, a.RedactFields...), b.RedactFields...),
		TruncateFields: append(append([]TruncateField{}, a.TruncateFields...), b.TruncateFields...),
		BlockPatterns:  append(append([]string{}, a.BlockPatterns...), b.BlockPatterns...),
	}
	return out
}
