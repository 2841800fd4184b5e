package policy

import (
	"fmt"
	"sync"
	"time"
)

// QuotaTracker holds per-(agent, quotaKey) counters. Fixed windows bucket by
// a truncated timestamp; sliding windows keep a ring of call timestamps and
// evict those older than the window on every check.
type QuotaTracker struct {
	mu      sync.Mutex
	fixed   map[string]int
	sliding map[string][]time.Time
}

// NewQuotaTracker returns an empty, ready-to-use QuotaTracker.
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{
		fixed:   make(map[string]int),
		sliding: make(map[string][]time.Time),
	}
}

// quotaKey buckets by window: action:date for 24h,
// action:date:hour for 1h, action:week:date for 7d.
func quotaKey(q Quota, now time.Time) string {
	u := now.UTC()
	switch q.Window {
	case Window1h:
		return fmt.Sprintf("%s:%s:%02d", q.Action, u.Format("2006-01-02"), u.Hour())
	case Window7d:
		weekStart := u.AddDate(0, 0, -int(u.Weekday()))
		return fmt.Sprintf("%s:week:%s", q.Action, weekStart.Format("2006-01-02"))
	default:
		return fmt.Sprintf("%s:%s", q.Action, u.Format("2006-01-02"))
	}
}

// TryConsume checks whether incrementing the counter for (agentID, q) at now
// would exceed q.Limit; if not, it increments and returns the remaining
// count. If it would exceed, it returns ok=false without mutating state.
func (t *QuotaTracker) TryConsume(agentID string, q Quota, now time.Time) (remaining int, ok bool) {
	remainings, _, ok := t.TryConsumeAll(agentID, []Quota{q}, now)
	if !ok {
		return 0, false
	}
	return remainings[0], true
}

// TryConsumeAll consumes one slot from every quota, or from none: all
// counters are checked for room under a single lock before any is
// incremented, so a request denied by one quota never burns a slot in
// another. On success it returns the post-increment remaining count per
// quota; on failure it returns the index of the first exhausted quota and
// leaves every counter untouched.
func (t *QuotaTracker) TryConsumeAll(agentID string, quotas []Quota, now time.Time) (remaining []int, failed int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, q := range quotas {
		if !t.hasRoomLocked(agentID, q, now) {
			return nil, i, false
		}
	}

	remaining = make([]int, len(quotas))
	for i, q := range quotas {
		remaining[i] = t.consumeLocked(agentID, q, now)
	}
	return remaining, -1, true
}

// hasRoomLocked reports whether one more call fits in (agentID, q)'s
// window. Sliding windows are pruned as a side effect; eviction of expired
// timestamps is not a consumption.
func (t *QuotaTracker) hasRoomLocked(agentID string, q Quota, now time.Time) bool {
	bucket := agentID + "|" + quotaKey(q, now)

	if q.ResetStrategy == ResetSliding {
		cutoff := now.Add(-q.Window.Duration())
		times := t.sliding[bucket]
		kept := times[:0]
		for _, ts := range times {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		t.sliding[bucket] = kept
		return len(kept) < q.Limit
	}

	return t.fixed[bucket] < q.Limit
}

// consumeLocked increments (agentID, q)'s counter, assuming hasRoomLocked
// was just confirmed under the same lock hold, and returns the remaining
// count.
func (t *QuotaTracker) consumeLocked(agentID string, q Quota, now time.Time) int {
	bucket := agentID + "|" + quotaKey(q, now)

	if q.ResetStrategy == ResetSliding {
		kept := append(t.sliding[bucket], now)
		t.sliding[bucket] = kept
		return q.Limit - len(kept)
	}

	count := t.fixed[bucket] + 1
	t.fixed[bucket] = count
	return q.Limit - count
}
