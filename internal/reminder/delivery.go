package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"sugarbot/internal/sched"
)

// DefaultSnoozeMinutes are the snooze choices offered when config supplies
// none.
var DefaultSnoozeMinutes = []int{10, 30}

// Delivery executes when a reminder's trigger elapses: it records the
// attempt, sends the user-facing notification with snooze/dismiss actions,
// and re-arms the standing schedule when the fire consumed a one-shot.
type Delivery struct {
	store     Store
	scheduler sched.Scheduler
	transport Transport
	log       zerolog.Logger

	snoozeMinutes []int

	// rearm restores the standing job after a one-shot (snooze or
	// after-event) fire. Set by NewReconciler; calling it on a recurring
	// fire is a no-op because the live spec is already current.
	rearm func(ctx context.Context, id int64) error
}

func NewDelivery(store Store, scheduler sched.Scheduler, transport Transport, snoozeMinutes []int, log zerolog.Logger) *Delivery {
	if len(snoozeMinutes) == 0 {
		snoozeMinutes = DefaultSnoozeMinutes
	}
	return &Delivery{
		store:         store,
		scheduler:     scheduler,
		transport:     transport,
		log:           log,
		snoozeMinutes: snoozeMinutes,
	}
}

// JobFor returns the scheduler job body for one reminder.
func (d *Delivery) JobFor(id int64) sched.Job {
	return func(ctx context.Context) error {
		return d.Fire(ctx, id)
	}
}

// Fire delivers one reminder. A reminder deleted between trigger and lookup
// exits silently; the stale job is swept by the next GC pass. Transport
// failures are logged and swallowed so the dispatch loop survives.
func (d *Delivery) Fire(ctx context.Context, id int64) error {
	r, err := d.store.GetReminder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		d.log.Debug().Int64("reminder_id", id).Msg("fired for deleted reminder")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	if !r.Enabled {
		return nil
	}
	uctx, err := d.store.GetUserContext(ctx, r.OwnerID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", r.OwnerID, err)
	}

	// Log before notify: a failed send still leaves the attempt on record.
	if err := d.store.RecordTriggerLog(ctx, TriggerLog{
		ReminderID: r.ID,
		OwnerID:    r.OwnerID,
		Action:     ActionFired,
		At:         time.Now().UTC(),
	}); err != nil {
		d.log.Warn().Int64("reminder_id", r.ID).Err(err).Msg("trigger log write failed")
	}

	if err := d.transport.Send(ctx, uctx.ChatID, d.renderText(r), d.actionsFor(r.ID)); err != nil {
		d.log.Error().Int64("reminder_id", r.ID).Int64("owner_id", r.OwnerID).Err(err).Msg("notification send failed")
	}

	if d.rearm != nil {
		if err := d.rearm(ctx, id); err != nil {
			d.log.Warn().Int64("reminder_id", id).Err(err).Msg("post-fire rearm failed")
		}
	}
	return nil
}

// Snooze replaces the reminder's pending job with a one-shot re-fire under
// the same name. Snoozing twice leaves one pending job with the last delay.
func (d *Delivery) Snooze(ctx context.Context, id int64, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("snooze minutes must be positive, got %d", minutes)
	}
	r, err := d.store.GetReminder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	if err := d.store.RecordTriggerLog(ctx, TriggerLog{
		ReminderID:    r.ID,
		OwnerID:       r.OwnerID,
		Action:        ActionSnoozed,
		SnoozeMinutes: minutes,
		At:            time.Now().UTC(),
	}); err != nil {
		d.log.Warn().Int64("reminder_id", r.ID).Err(err).Msg("trigger log write failed")
	}
	d.log.Info().Int64("reminder_id", id).Int("minutes", minutes).Msg("reminder snoozed")
	return d.scheduler.ScheduleOnce(MainKey(id).String(), time.Duration(minutes)*time.Minute, d.JobFor(id))
}

// Dismiss records the acknowledgement. The live job is left alone: for a
// recurring reminder the next natural fire stands, and a pending snooze was
// already superseded by the user's choice to dismiss only this delivery.
func (d *Delivery) Dismiss(ctx context.Context, id int64) error {
	r, err := d.store.GetReminder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	if err := d.store.RecordTriggerLog(ctx, TriggerLog{
		ReminderID: r.ID,
		OwnerID:    r.OwnerID,
		Action:     ActionDismissed,
		At:         time.Now().UTC(),
	}); err != nil {
		d.log.Warn().Int64("reminder_id", r.ID).Err(err).Msg("trigger log write failed")
	}
	return nil
}

func (d *Delivery) renderText(r *Reminder) string {
	if r.Title != "" {
		return "⏰ " + r.Title
	}
	switch r.Kind {
	case KindAfterEvent:
		return "⏰ Time to check your sugar"
	default:
		return "⏰ Reminder"
	}
}

// actionsFor builds the inline actions: one snooze button per configured
// delay plus a dismiss button. Callback data follows the
// "remind:<action>:<payload>" convention the transport routes on.
func (d *Delivery) actionsFor(id int64) []Action {
	idStr := strconv.FormatInt(id, 10)
	out := make([]Action, 0, len(d.snoozeMinutes)+1)
	for _, m := range d.snoozeMinutes {
		out = append(out, Action{
			Label: fmt.Sprintf("Snooze %dm", m),
			Data:  fmt.Sprintf("remind:snooze:%s:%d", idStr, m),
		})
	}
	out = append(out, Action{Label: "Dismiss", Data: "remind:dismiss:" + idStr})
	return out
}
