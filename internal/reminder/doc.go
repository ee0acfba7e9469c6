// Package reminder is the scheduling and reconciliation core of the bot.
//
// A persisted reminder row (fixed time-of-day, fixed interval, or
// after-event offset) is turned into a live, timezone-aware scheduler job,
// and the in-process job set is kept consistent with the database across
// edits, deletions, toggles, restarts and multi-instance deployment:
//
//   - TriggerFor / NextAt translate a row plus its owner's timezone and
//     quiet-hours window into a trigger spec or a concrete next UTC instant.
//   - Reconciler diffs persisted rows against live jobs and applies the
//     difference through the scheduler's replace-by-name primitive, which
//     guarantees at most one live job per reminder.
//   - Notifier turns save/delete signals into targeted reconciliation.
//   - GC periodically reconciles the whole table and sweeps orphaned jobs.
//   - Delivery fires notifications, records the audit trail, and handles
//     snooze (a replace, never a parallel job) and dismiss.
package reminder
