package reminder

import (
	"context"

	"github.com/rs/zerolog"
)

// reconcilerPort is the slice of the Reconciler the Notifier drives.
type reconcilerPort interface {
	ReconcileOne(ctx context.Context, id int64) error
	RemoveJobs(id int64) int
}

// Notifier bridges reminder-mutation signals (in-process calls or the
// internal HTTP endpoints) into targeted reconciliation, avoiding a full
// table scan on every edit.
//
// The reconciler is an explicit constructor dependency. Wiring a Notifier
// without one is a process configuration bug, so every call on such a
// Notifier fails with ErrSchedulerNotRegistered instead of silently
// dropping the reminder.
type Notifier struct {
	rec reconcilerPort
	log zerolog.Logger
}

func NewNotifier(rec *Reconciler, log zerolog.Logger) *Notifier {
	n := &Notifier{log: log}
	if rec != nil {
		n.rec = rec
	}
	return n
}

// NotifySaved reacts to a created or edited reminder. Disabled and
// after_event rows are treated like a delete inside the reconciler: every
// derived job name is removed, including a pending after-event one-shot
// whose offset the edit may have invalidated.
func (n *Notifier) NotifySaved(ctx context.Context, id int64) error {
	if n.rec == nil {
		return ErrSchedulerNotRegistered
	}
	if err := n.rec.ReconcileOne(ctx, id); err != nil {
		return err
	}
	n.log.Debug().Int64("reminder_id", id).Msg("reminder save reconciled")
	return nil
}

// NotifyDeleted removes every live job the reminder owned (standing trigger,
// after-event companion, pending snooze) and returns how many were removed.
func (n *Notifier) NotifyDeleted(ctx context.Context, id int64) (int, error) {
	if n.rec == nil {
		return 0, ErrSchedulerNotRegistered
	}
	removed := n.rec.RemoveJobs(id)
	n.log.Info().Int64("reminder_id", id).Int("removed", removed).Msg("reminder delete reconciled")
	return removed, nil
}
