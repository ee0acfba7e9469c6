package reminder

import (
	"fmt"
	"time"

	"sugarbot/internal/sched"
)

// TriggerKind classifies the standing trigger a reminder produces.
type TriggerKind int

const (
	// TriggerNone means no standing job (after_event reminders are armed
	// per-event by the reconciler, not here).
	TriggerNone TriggerKind = iota
	TriggerDaily
	TriggerInterval
)

// TriggerSpec is the schedule description handed to the scheduler adapter.
type TriggerSpec struct {
	Kind  TriggerKind
	Daily sched.DailySpec // TriggerDaily
	Every time.Duration   // TriggerInterval
}

// SpecString renders the spec in the same normalized form the scheduler
// records, so reconciliation can compare desired vs live without extra
// state.
func (t TriggerSpec) SpecString() string {
	switch t.Kind {
	case TriggerDaily:
		return t.Daily.String()
	case TriggerInterval:
		return sched.IntervalSpecString(t.Every)
	default:
		return ""
	}
}

// TriggerFor translates a reminder plus its owner's context into a trigger
// spec. It is pure; invalid rows come back as ErrBadScheduleData, never as
// a panic into the reconcile loop.
func TriggerFor(r *Reminder, uctx UserScheduleContext) (TriggerSpec, error) {
	if err := r.Validate(); err != nil {
		return TriggerSpec{}, err
	}
	switch r.Kind {
	case KindAtTime:
		return TriggerSpec{
			Kind: TriggerDaily,
			Daily: sched.DailySpec{
				Hour:     r.TimeOfDay.Hour,
				Minute:   r.TimeOfDay.Minute,
				Dow:      r.Days.CronDow(),
				Timezone: uctx.Location().String(),
			},
		}, nil
	case KindEvery:
		return TriggerSpec{
			Kind:  TriggerInterval,
			Every: time.Duration(r.IntervalMinutes) * time.Minute,
		}, nil
	case KindAfterEvent:
		return TriggerSpec{Kind: TriggerNone}, nil
	}
	// Unreachable after Validate, kept for exhaustiveness.
	return TriggerSpec{}, fmt.Errorf("%w: kind %q", ErrBadScheduleData, r.Kind)
}

// nextAtScanDays bounds the day-by-day weekday-mask scan. Any non-empty
// mask matches within one week; 14 leaves slack for quiet-window pushes.
const nextAtScanDays = 14

// NextAt computes the next UTC fire instant for preview and testing. The
// standing trigger handed to the scheduler is TriggerFor's job; NextAt
// exists so "when will this fire next" is answerable without a live job.
//
// All wall-clock arithmetic happens in the owner's zone before converting
// to UTC, so an 09:00 daily reminder stays at local 09:00 across DST
// transitions. A wall-clock instant that falls into a spring-forward gap is
// normalized forward to the first valid local time.
//
// The second return is false for after_event reminders, which have no
// computable next instant, and for an at_time scan that finds no candidate.
func NextAt(r *Reminder, uctx UserScheduleContext, now time.Time) (time.Time, bool, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, false, err
	}
	loc := uctx.Location()
	localNow := now.In(loc)

	switch r.Kind {
	case KindAtTime:
		for d := 0; d < nextAtScanDays; d++ {
			day := localNow.AddDate(0, 0, d)
			if !r.Days.Contains(day.Weekday()) {
				continue
			}
			cand := time.Date(day.Year(), day.Month(), day.Day(), r.TimeOfDay.Hour, r.TimeOfDay.Minute, 0, 0, loc)
			if !cand.After(localNow) {
				continue
			}
			cand = pushPastQuiet(cand, uctx)
			return cand.UTC(), true, nil
		}
		return time.Time{}, false, nil

	case KindEvery:
		cand := localNow.Add(time.Duration(r.IntervalMinutes) * time.Minute)
		cand = pushPastQuiet(cand, uctx)
		return cand.UTC(), true, nil

	case KindAfterEvent:
		return time.Time{}, false, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: kind %q", ErrBadScheduleData, r.Kind)
}

// pushPastQuiet defers a candidate instant that falls inside the owner's
// quiet window to the window's end.
//
// Same-day window (start < end): a candidate at or after start and before
// end moves to end the same local day. Midnight-wrapping window
// (start >= end): a candidate at or after start moves to end the next
// calendar day; a candidate before end moves to end the same day. A
// candidate exactly at the window end is already outside it.
func pushPastQuiet(t time.Time, uctx UserScheduleContext) time.Time {
	qs, qe := uctx.QuietStart, uctx.QuietEnd
	if qs == nil || qe == nil {
		return t
	}
	m := t.Hour()*60 + t.Minute()
	endAt := func(dayShift int) time.Time {
		d := t.AddDate(0, 0, dayShift)
		return time.Date(d.Year(), d.Month(), d.Day(), qe.Hour, qe.Minute, 0, 0, t.Location())
	}
	if qs.Minutes() < qe.Minutes() {
		if m >= qs.Minutes() && m < qe.Minutes() {
			return endAt(0)
		}
		return t
	}
	switch {
	case m >= qs.Minutes():
		return endAt(1)
	case m < qe.Minutes():
		return endAt(0)
	default:
		return t
	}
}
