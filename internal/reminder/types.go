package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the three mutually exclusive schedule shapes a
// reminder can have.
type Kind string

const (
	// KindAtTime fires daily (optionally masked to weekdays) at a fixed
	// wall-clock time in the owner's timezone.
	KindAtTime Kind = "at_time"
	// KindEvery fires on a fixed interval.
	KindEvery Kind = "every"
	// KindAfterEvent fires once, OffsetMinutes after an externally logged
	// event (e.g. "check sugar 90 minutes after this meal"). It has no
	// standing recurring job.
	KindAfterEvent Kind = "after_event"
)

var (
	// ErrBadScheduleData marks a reminder whose field combination does not
	// match its kind, or an otherwise unschedulable row. The reconciler
	// treats such rows as unschedulable (job removed, row skipped) instead
	// of failing the batch.
	ErrBadScheduleData = errors.New("bad schedule data")

	// ErrSchedulerNotRegistered is returned by the Notifier when it was
	// wired without a reconciler. A reminder saved with no one to schedule
	// it is a process-wiring bug, so this fails loudly.
	ErrSchedulerNotRegistered = errors.New("scheduler not registered")

	// ErrNotFound is returned by Store implementations when a reminder or
	// user row does not exist.
	ErrNotFound = errors.New("not found")
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad minute", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Weekdays is a weekday bitmask: bit 0 = Monday ... bit 6 = Sunday.
// The zero value means "every day".
type Weekdays uint8

// Contains reports whether d is active under the mask.
func (w Weekdays) Contains(d time.Weekday) bool {
	if w == 0 {
		return true
	}
	// time.Weekday counts Sunday=0; the mask counts Monday=0.
	idx := (int(d) + 6) % 7
	return w&(1<<idx) != 0
}

// CronDow renders the mask as a cron day-of-week field (0=Sunday).
// The zero mask renders as "*".
func (w Weekdays) CronDow() string {
	if w == 0 {
		return "*"
	}
	var days []string
	for i := 0; i < 7; i++ {
		if w&(1<<i) == 0 {
			continue
		}
		days = append(days, strconv.Itoa((i+1)%7))
	}
	if len(days) == 0 {
		return "*"
	}
	return strings.Join(days, ",")
}

// Reminder is the core's read view of a persisted reminder row.
type Reminder struct {
	ID      int64
	OwnerID int64
	OrgID   int64 // multi-tenant tag, read-through only
	Kind    Kind
	Title   string

	TimeOfDay       *TimeOfDay // set iff Kind == at_time
	Days            Weekdays   // at_time only; zero = every day
	IntervalMinutes int        // set iff Kind == every
	OffsetMinutes   int        // set iff Kind == after_event

	Enabled bool
}

// Validate enforces the exactly-one-schedule-field invariant. A violating
// row is a data error, never a crash: callers remove its job and move on.
func (r *Reminder) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil reminder", ErrBadScheduleData)
	}
	switch r.Kind {
	case KindAtTime:
		if r.TimeOfDay == nil {
			return fmt.Errorf("%w: at_time reminder %d has no time_of_day", ErrBadScheduleData, r.ID)
		}
		if r.IntervalMinutes != 0 || r.OffsetMinutes != 0 {
			return fmt.Errorf("%w: at_time reminder %d carries interval/offset fields", ErrBadScheduleData, r.ID)
		}
	case KindEvery:
		if r.IntervalMinutes <= 0 {
			return fmt.Errorf("%w: every reminder %d has no positive interval_minutes", ErrBadScheduleData, r.ID)
		}
		if r.TimeOfDay != nil || r.OffsetMinutes != 0 {
			return fmt.Errorf("%w: every reminder %d carries time/offset fields", ErrBadScheduleData, r.ID)
		}
	case KindAfterEvent:
		if r.OffsetMinutes < 0 {
			return fmt.Errorf("%w: after_event reminder %d has negative offset_minutes", ErrBadScheduleData, r.ID)
		}
		if r.TimeOfDay != nil || r.IntervalMinutes != 0 {
			return fmt.Errorf("%w: after_event reminder %d carries time/interval fields", ErrBadScheduleData, r.ID)
		}
	default:
		return fmt.Errorf("%w: reminder %d has unknown kind %q", ErrBadScheduleData, r.ID, r.Kind)
	}
	return nil
}

// UserScheduleContext is the derived, per-owner scheduling context: where to
// deliver, which zone wall-clock math happens in, and the optional no-notify
// window.
type UserScheduleContext struct {
	ChatID   int64
	Timezone string // IANA name; empty or invalid falls back to UTC

	// Quiet window; both nil or both set. May wrap midnight
	// (QuietStart > QuietEnd).
	QuietStart *TimeOfDay
	QuietEnd   *TimeOfDay
}

// Location resolves the context's timezone, falling back to UTC on a
// missing or invalid name.
func (c UserScheduleContext) Location() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Row pairs a reminder with its owner's schedule context, as produced by the
// storage collaborator's bounded list query (no per-row user lookups).
type Row struct {
	Reminder Reminder
	User     UserScheduleContext
}

// Trigger log actions.
const (
	ActionFired     = "fired"
	ActionSnoozed   = "snoozed"
	ActionDismissed = "dismissed"
)

// TriggerLog is a delivery audit entry. It is written before the
// notification is attempted, so a failed send still leaves a trace.
type TriggerLog struct {
	ReminderID    int64
	OwnerID       int64
	Action        string
	SnoozeMinutes int // snoozed only
	At            time.Time
}

// Store is the narrow, read-mostly persistence port the core depends on.
// The sqlite store in internal/storage implements it; reminder rows are
// written by the API layer, never by this package.
type Store interface {
	GetReminder(ctx context.Context, id int64) (*Reminder, error)
	ListReminders(ctx context.Context) ([]Row, error)
	GetUserContext(ctx context.Context, ownerID int64) (UserScheduleContext, error)
	RecordTriggerLog(ctx context.Context, e TriggerLog) error
}

// Action is an inline button offered with a delivered notification.
type Action struct {
	Label string
	Data  string
}

// Transport delivers the user-facing notification. Failures are caught by
// the delivery handler, never propagated into the dispatch loop.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, actions []Action) error
}
