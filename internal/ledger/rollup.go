package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/store"
)

// Rollup aggregates the audit log into per-period counts. It reads only the
// audit log and creates no state.
func (e *Engine) Rollup(ctx context.Context, period model.Period, since time.Time) ([]model.RollupRow, error) {
	entries, err := e.store.Audit(ctx, store.AuditFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return Aggregate(entries, period)
}

// Aggregate buckets entries by UTC day or ISO week (weeks start Monday),
// oldest first. Periods without entries are omitted.
func Aggregate(entries []model.AuditEntry, period model.Period) ([]model.RollupRow, error) {
	if period != model.PeriodDay && period != model.PeriodWeek {
		return nil, fmt.Errorf("unknown rollup period %q (supported: day, week)", period)
	}

	rows := make(map[time.Time]*model.RollupRow)
	for _, e := range entries {
		start, end := PeriodBounds(e.Timestamp, period)
		row, ok := rows[start]
		if !ok {
			row = &model.RollupRow{Start: start, End: end}
			rows[start] = row
		}
		switch e.Action {
		case model.ActionInit:
			row.NewClaims++
		case model.ActionScore:
			row.Scored++
		case model.ActionPromote:
			row.Promotions++
		case model.ActionDemote:
			row.Demotions++
		case model.ActionContest:
			row.Contested++
		case model.ActionClear:
			row.Cleared++
		case model.ActionDeprecate:
			row.Deprecated++
		}
	}

	out := make([]model.RollupRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// PeriodBounds returns the half-open [start, end) period containing t
func PeriodBounds(t time.Time, period model.Period) (time.Time, time.Time) {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if period == model.PeriodDay {
		return day, day.AddDate(0, 0, 1)
	}
	// time.Weekday starts on Sunday; ISO weeks start on Monday
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

// PeriodLabel renders a period start as 2026-03-02 or 2026-W10
func PeriodLabel(start time.Time, period model.Period) string {
	if period == model.PeriodWeek {
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	}
	return start.Format("2006-01-02")
}
