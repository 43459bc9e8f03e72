// Package planner decides, per model and run, whether to fully rebuild
// or apply an incremental merge, computes the incremental watermark
// filter, and owns the monotonic watermark-advance rule.
package planner

import (
	"strconv"
	"strings"
	"time"

	"github.com/strataform/strataform/pkg/core"
)

// FullFilter is substituted for the watermark filter on full builds so
// templates can reference it unconditionally.
const FullFilter = "1 = 1"

// Decision is the planner's verdict for one model in one run.
type Decision struct {
	// FullRebuild is true for views, tables, first-ever incremental
	// builds, and full-refresh runs.
	FullRebuild bool

	// Strategy is the write strategy applied on this run.
	Strategy core.Strategy

	// Filter is the watermark predicate handed to the query template:
	// FullFilter on full builds, the widened incremental bound
	// otherwise.
	Filter string

	// StoredWatermark is the watermark the filter was derived from,
	// empty on full builds.
	StoredWatermark string

	// LookbackBound is the calendar bound (run start minus lookback)
	// included in the filter, empty on full builds.
	LookbackBound string
}

// Plan computes the build decision for a model.
//
// Views and tables always rebuild fully. Incremental models rebuild
// fully on their first ever run (no watermark record) or when the
// caller requests a full refresh; otherwise they filter to rows newer
// than the stored watermark OR newer than run start minus the lookback
// window. The OR deliberately widens the window: recomputing a few
// overlapping rows is cheap, missing a late-arriving correction is a
// correctness bug.
func Plan(m *core.Model, wm *core.WatermarkRecord, runStart time.Time, fullRefresh bool) Decision {
	if m.Kind != core.KindIncremental {
		return Decision{FullRebuild: true, Strategy: core.StrategyReplace, Filter: FullFilter}
	}

	strategy := m.EffectiveStrategy()
	if strategy == core.StrategyReplace {
		// Incremental with replace means "recompute everything, keep
		// tracking the watermark": every run is a full rebuild.
		return Decision{FullRebuild: true, Strategy: strategy, Filter: FullFilter}
	}
	if fullRefresh || wm == nil || wm.Watermark == "" {
		return Decision{FullRebuild: true, Strategy: strategy, Filter: FullFilter}
	}

	lookback := FormatTime(runStart.Add(-m.EffectiveLookback()))
	col := m.WatermarkColumn
	filter := col + " > " + Literal(wm.Watermark) + " OR " + col + " > " + Literal(lookback)
	return Decision{
		Strategy:        strategy,
		Filter:          filter,
		StoredWatermark: wm.Watermark,
		LookbackBound:   lookback,
	}
}

// NextWatermark combines the stored watermark with the maximum value
// observed among the rows written in a run. The result is monotonic:
// it never regresses below the stored value, even when the run's
// window overlapped older rows.
func NextWatermark(stored, observed string) string {
	if observed == "" {
		return stored
	}
	if stored == "" {
		return observed
	}
	if Compare(observed, stored) > 0 {
		return observed
	}
	return stored
}

// Compare orders two watermark values: numerically when both parse as
// numbers, by instant when both parse as timestamps, lexicographically
// otherwise (which is correct for ISO-8601 text of uniform precision).
func Compare(a, b string) int {
	if fa, errA := strconv.ParseFloat(a, 64); errA == nil {
		if fb, errB := strconv.ParseFloat(b, 64); errB == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, okA := parseTime(a); okA {
		if tb, okB := parseTime(b); okB {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders a timestamp the way watermark bounds appear in
// generated SQL and in the state store.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Literal renders a watermark value as a SQL literal: bare when
// numeric, single-quoted with escaping otherwise.
func Literal(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
