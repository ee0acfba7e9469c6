// Package sched wraps a cron runner and one-shot timers behind a name-keyed
// scheduler port.
//
// Jobs are registered under logical names (e.g. "reminder_42"). Names are
// stable join keys: scheduling under an existing name atomically replaces
// the previous job, whatever its trigger type, and cancelling an absent name
// is a no-op. That replace-by-name semantic is what callers lean on for
// "at most one live job per name" under concurrent reconciliation.
//
// Daily triggers carry their own IANA timezone via the CRON_TZ= spec prefix,
// so wall-clock times stay correct across DST transitions independent of the
// process timezone.
package sched
