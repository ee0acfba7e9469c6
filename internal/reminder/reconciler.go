package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sugarbot/internal/sched"
)

// Reconciler keeps the live job set consistent with the persisted reminder
// table. Both the targeted path (one reminder, driven by save/delete
// signals) and the batch path (whole table, driven by the GC) funnel into
// the scheduler's replace-by-name primitive, so concurrent reconciliation
// of the same reminder collapses to last-writer-wins on one job name.
type Reconciler struct {
	store     Store
	scheduler sched.Scheduler
	delivery  *Delivery
	log       zerolog.Logger
}

func NewReconciler(store Store, scheduler sched.Scheduler, delivery *Delivery, log zerolog.Logger) *Reconciler {
	rec := &Reconciler{
		store:     store,
		scheduler: scheduler,
		delivery:  delivery,
		log:       log,
	}
	// One-shot fires (snooze, after-event) consume their job; the delivery
	// handler calls back here to restore the standing schedule.
	delivery.rearm = rec.ReconcileOne
	return rec
}

// ReconcileOne brings the live job set for a single reminder in line with
// its persisted row.
//
// Absent, disabled, after_event-kind and malformed rows all normalize to
// "no live jobs": every name the reminder may own is removed. For
// after_event rows a save is equivalent to a delete; an edit invalidates
// any armed one-shot (its offset may have changed) and the next logged
// event re-arms it. Storage failures propagate to the caller (the internal
// HTTP handler surfaces them as 5xx); data errors do not.
func (c *Reconciler) ReconcileOne(ctx context.Context, id int64) error {
	r, err := c.store.GetReminder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		c.RemoveJobs(id)
		return nil
	}
	if errors.Is(err, ErrBadScheduleData) {
		c.log.Warn().Int64("reminder_id", id).Err(err).Msg("unschedulable reminder; jobs removed")
		c.RemoveJobs(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	if !r.Enabled || r.Kind == KindAfterEvent {
		c.RemoveJobs(id)
		return nil
	}

	uctx, err := c.store.GetUserContext(ctx, r.OwnerID)
	if err != nil {
		return fmt.Errorf("load user %d for reminder %d: %w", r.OwnerID, id, err)
	}
	return c.apply(*r, uctx)
}

// apply reconciles one validated-or-rejected enabled reminder against the
// scheduler. Shared by the targeted and batch paths.
func (c *Reconciler) apply(r Reminder, uctx UserScheduleContext) error {
	spec, err := TriggerFor(&r, uctx)
	if errors.Is(err, ErrBadScheduleData) {
		// Unschedulable row: remove its job, flag it, move on. The user
		// gets no notification and no error; monitoring owns this case.
		c.log.Warn().Int64("reminder_id", r.ID).Err(err).Msg("unschedulable reminder; job removed")
		c.RemoveJobs(r.ID)
		return nil
	}
	if err != nil {
		return err
	}

	mainName := MainKey(r.ID).String()
	live, liveOK := c.scheduler.Job(mainName)

	// A pending one-shot under the main name is an active snooze; the fire
	// re-arms the standing spec through the delivery handler, so replacing
	// it here would silently cancel the user's snooze.
	if liveOK && sched.IsOnceSpec(live.Spec) {
		return nil
	}

	if spec.Kind == TriggerNone {
		// after_event: no standing job. Event-anchored one-shots live under
		// the _after name and are armed by ScheduleAfterEvent.
		if liveOK {
			c.scheduler.Cancel(mainName)
		}
		return nil
	}

	// Stale companion job from a kind change (e.g. after_event → at_time).
	c.scheduler.Cancel(AfterKey(r.ID).String())

	if liveOK && live.Spec == spec.SpecString() {
		// Unchanged: no scheduler churn.
		return nil
	}

	job := c.delivery.JobFor(r.ID)
	switch spec.Kind {
	case TriggerDaily:
		err = c.scheduler.ScheduleDaily(mainName, spec.Daily, job)
	case TriggerInterval:
		err = c.scheduler.ScheduleInterval(mainName, spec.Every, job)
	}
	if err != nil {
		return fmt.Errorf("schedule %s: %w", mainName, err)
	}
	c.log.Debug().Int64("reminder_id", r.ID).Str("spec", spec.SpecString()).Msg("job scheduled")
	return nil
}

// ReconcileAll reconciles the whole table: one bounded list query (owner
// context joined in, no per-row lookups), per-row failure isolation, then
// an orphan sweep removing live jobs with no enabled backing row.
func (c *Reconciler) ReconcileAll(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	rows, err := c.store.ListReminders(ctx)
	if err != nil {
		return stats, fmt.Errorf("list reminders: %w", err)
	}

	alive := map[string]struct{}{}
	for _, row := range rows {
		r := row.Reminder
		if !r.Enabled {
			continue
		}
		if err := c.apply(r, row.User); err != nil {
			// One bad row must not abort the pass.
			stats.Failed++
			c.log.Error().Int64("reminder_id", r.ID).Err(err).Msg("reconcile failed for reminder")
			continue
		}
		stats.Reconciled++
		if r.Validate() == nil {
			for _, k := range KeysFor(r.ID) {
				alive[k.String()] = struct{}{}
			}
		}
	}

	for _, ji := range c.scheduler.Jobs(JobPrefix) {
		if _, ok := alive[ji.Name]; ok {
			continue
		}
		// Covers deleted/disabled reminders and any stray name in the
		// reminder namespace that no longer parses (legacy schemes).
		if c.scheduler.Cancel(ji.Name) {
			stats.Swept++
			if _, ok := ParseJobKey(ji.Name); !ok {
				c.log.Info().Str("job", ji.Name).Msg("legacy job name removed")
				continue
			}
			c.log.Info().Str("job", ji.Name).Msg("orphaned job removed")
		}
	}
	return stats, nil
}

// RemoveJobs cancels every job name the reminder may own and returns the
// number actually removed.
func (c *Reconciler) RemoveJobs(id int64) int {
	removed := 0
	for _, k := range KeysFor(id) {
		if c.scheduler.Cancel(k.String()) {
			removed++
		}
	}
	return removed
}

// ScheduleAfterEvent arms the event-anchored one-shot for an after_event
// reminder: offset_minutes past the triggering event's timestamp, supplied
// by the caller. An anchor already in the past fires immediately.
func (c *Reconciler) ScheduleAfterEvent(ctx context.Context, id int64, eventAt time.Time) error {
	r, err := c.store.GetReminder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		c.RemoveJobs(id)
		return nil
	}
	if errors.Is(err, ErrBadScheduleData) {
		c.log.Warn().Int64("reminder_id", id).Err(err).Msg("unschedulable reminder; jobs removed")
		c.RemoveJobs(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	if !r.Enabled || r.Kind != KindAfterEvent {
		c.scheduler.Cancel(AfterKey(id).String())
		return nil
	}
	if err := r.Validate(); err != nil {
		c.log.Warn().Int64("reminder_id", id).Err(err).Msg("unschedulable after_event reminder")
		c.RemoveJobs(id)
		return nil
	}
	delay := time.Until(eventAt.Add(time.Duration(r.OffsetMinutes) * time.Minute))
	if delay < 0 {
		delay = 0
	}
	if err := c.scheduler.ScheduleOnce(AfterKey(id).String(), delay, c.delivery.JobFor(id)); err != nil {
		return fmt.Errorf("schedule after-event job for reminder %d: %w", id, err)
	}
	c.log.Debug().Int64("reminder_id", id).Time("event_at", eventAt).Dur("delay", delay).Msg("after-event job armed")
	return nil
}

// ReconcileStats summarizes one batch pass.
type ReconcileStats struct {
	Reconciled int
	Failed     int
	Swept      int
}
