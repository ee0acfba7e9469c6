package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is the work executed when a trigger elapses.
type Job func(ctx context.Context) error

// DailySpec describes a daily cron trigger at a fixed wall-clock time in a
// per-entry timezone.
type DailySpec struct {
	Hour   int
	Minute int
	// Dow is a cron day-of-week field ("*" or e.g. "1,3,5", 0=Sunday).
	Dow string
	// Timezone is an IANA zone name; empty means UTC. The zone rides on the
	// cron spec (CRON_TZ= prefix), so each entry keeps its own zone and DST
	// rules regardless of process timezone.
	Timezone string
}

// String renders the normalized cron spec for the entry. Reconciliation
// compares these strings to decide whether a live job is already current.
func (d DailySpec) String() string {
	tz := strings.TrimSpace(d.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	dow := strings.TrimSpace(d.Dow)
	if dow == "" {
		dow = "*"
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s", tz, d.Minute, d.Hour, dow)
}

// IntervalSpecString renders the normalized spec for a repeating interval.
func IntervalSpecString(every time.Duration) string {
	return "@every " + every.String()
}

// OnceSpecPrefix marks one-shot entries in JobInfo.Spec.
const OnceSpecPrefix = "@at "

func onceSpecString(at time.Time) string {
	return OnceSpecPrefix + at.UTC().Format(time.RFC3339)
}

// IsOnceSpec reports whether a recorded trigger spec is a one-shot.
func IsOnceSpec(spec string) bool { return strings.HasPrefix(spec, OnceSpecPrefix) }

// JobInfo is the observable state of one live job.
type JobInfo struct {
	Name string
	Spec string // normalized trigger spec (see DailySpec.String et al)
	Next time.Time
}

// Scheduler is the job scheduler port: name-keyed, replace-on-schedule.
// Schedule* calls atomically replace any live job under the same name,
// whatever its previous trigger type. This replace is the sole
// serialization point for concurrent reconciliation.
type Scheduler interface {
	ScheduleDaily(name string, spec DailySpec, job Job) error
	ScheduleInterval(name string, every time.Duration, job Job) error
	ScheduleOnce(name string, delay time.Duration, job Job) error
	// Cancel removes the job under name. Removing a non-existent job is a
	// no-op, not an error.
	Cancel(name string) bool
	// Job returns the live job under exactly name.
	Job(name string) (JobInfo, bool)
	// Jobs lists live jobs whose name starts with prefix.
	Jobs(prefix string) []JobInfo
}

// Config controls the scheduler service.
type Config struct {
	// DefaultTimeout bounds each job run; 0 disables the bound.
	DefaultTimeout time.Duration
}

type entry struct {
	id   cron.EntryID
	spec string
	job  Job
}

type onceEntry struct {
	timer *time.Timer
	at    time.Time
	spec  string
	job   Job
	ver   uint64
}

// Service is the single Scheduler implementation, driving a robfig/cron
// runner for recurring triggers and versioned time.AfterFunc timers for
// one-shots.
type Service struct {
	mu      sync.Mutex
	log     zerolog.Logger
	cfg     Config
	parser  cron.Parser
	c       *cron.Cron
	entries map[string]*entry

	// once timers live under tmu so a firing timer never contends with the
	// cron mutex.
	tmu     sync.Mutex
	once    map[string]*onceEntry
	onceVer map[string]uint64

	runCtx    context.Context
	runCancel context.CancelFunc
}
