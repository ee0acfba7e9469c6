package reminder

import (
	"strconv"
	"strings"
)

// JobPrefix is the namespace all reminder-owned scheduler jobs live under.
// The orphan sweep enumerates this prefix; infrastructure jobs (GC and the
// like) must use a different prefix so the sweep never eats them.
const JobPrefix = "reminder_"

// Variant names a member of the closed set of job names one reminder can
// own. Create, delete and sweep paths all enumerate the same set, so they
// cannot drift apart.
type Variant string

const (
	// VariantMain is the standing job: the daily/interval trigger, or a
	// pending snooze one-shot (snooze replaces under the same name).
	VariantMain Variant = ""
	// VariantAfter is the event-anchored one-shot for after_event reminders.
	VariantAfter Variant = "after"
)

// JobKey is a typed scheduler job name for one reminder.
type JobKey struct {
	ReminderID int64
	Variant    Variant
}

func MainKey(id int64) JobKey  { return JobKey{ReminderID: id} }
func AfterKey(id int64) JobKey { return JobKey{ReminderID: id, Variant: VariantAfter} }

func (k JobKey) String() string {
	s := JobPrefix + strconv.FormatInt(k.ReminderID, 10)
	if k.Variant != VariantMain {
		s += "_" + string(k.Variant)
	}
	return s
}

// KeysFor enumerates every job name a reminder may own. Delete paths sweep
// exactly this set.
func KeysFor(id int64) []JobKey {
	return []JobKey{MainKey(id), AfterKey(id)}
}

// ParseJobKey parses a scheduler job name back into a JobKey. It returns
// false for names outside the reminder namespace or with an unknown variant
// suffix; the orphan sweep removes such strays.
func ParseJobKey(name string) (JobKey, bool) {
	rest, ok := strings.CutPrefix(name, JobPrefix)
	if !ok || rest == "" {
		return JobKey{}, false
	}
	variant := VariantMain
	if idPart, suffix, found := strings.Cut(rest, "_"); found {
		if Variant(suffix) != VariantAfter {
			return JobKey{}, false
		}
		variant = VariantAfter
		rest = idPart
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return JobKey{}, false
	}
	return JobKey{ReminderID: id, Variant: variant}, true
}
