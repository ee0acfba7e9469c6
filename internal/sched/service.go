package sched

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func New(cfg Config, log zerolog.Logger) *Service {
	return &Service{
		log: log,
		cfg: cfg,
		// Standard 5-field specs are built internally with a seconds field
		// pinned off; SecondOptional keeps the parser compatible with both.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]*entry{},
		once:    map[string]*onceEntry{},
		onceVer: map[string]uint64{},
	}
}

// Start begins trigger evaluation. Jobs registered before Start are armed
// now; one-shot timers are armed at registration time regardless.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser))
	for name := range s.entries {
		if err := s.armLocked(name); err != nil {
			s.log.Error().Str("name", name).Err(err).Msg("schedule register failed")
		}
	}
	s.c.Start()
	s.log.Info().Int("schedules", len(s.entries)).Msg("scheduler started")
}

// Stop halts trigger evaluation and waits for in-flight runs started by the
// cron runner. Pending one-shot timers are stopped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()

	s.tmu.Lock()
	for _, oe := range s.once {
		_ = oe.timer.Stop()
	}
	s.once = map[string]*onceEntry{}
	s.tmu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info().Msg("scheduler stopped")
}

// ScheduleDaily upserts a daily cron trigger under name, replacing any live
// job with that name regardless of its previous trigger type.
func (s *Service) ScheduleDaily(name string, spec DailySpec, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sched: name required")
	}
	if spec.Hour < 0 || spec.Hour > 23 || spec.Minute < 0 || spec.Minute > 59 {
		return errors.New("sched: daily time out of range")
	}
	return s.upsertRecurring(name, spec.String(), job)
}

// ScheduleInterval upserts a repeating interval trigger under name.
func (s *Service) ScheduleInterval(name string, every time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sched: name required")
	}
	if every <= 0 {
		return errors.New("sched: interval must be positive")
	}
	return s.upsertRecurring(name, IntervalSpecString(every), job)
}

func (s *Service) upsertRecurring(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeOnce(name)
	s.removeRecurringLocked(name)
	s.entries[name] = &entry{spec: spec, job: job}
	if s.c == nil {
		// Not started yet; armed on Start.
		return nil
	}
	if err := s.armLocked(name); err != nil {
		delete(s.entries, name)
		return err
	}
	s.log.Debug().Str("name", name).Str("spec", spec).Msg("schedule registered")
	return nil
}

// armLocked registers entries[name] with the running cron. Call with s.mu held.
func (s *Service) armLocked(name string) error {
	e := s.entries[name]
	localName := name
	id, err := s.c.AddFunc(e.spec, func() {
		s.mu.Lock()
		cur, ok := s.entries[localName]
		var job Job
		if ok {
			job = cur.job
		}
		ctx := s.runCtx
		s.mu.Unlock()
		if !ok || job == nil {
			return
		}
		s.dispatch(ctx, localName, job)
	})
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// ScheduleOnce upserts a one-shot trigger under name, replacing any live job
// with that name. The timer is versioned so a replaced timer's callback is
// ignored even if it was already firing.
func (s *Service) ScheduleOnce(name string, delay time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sched: name required")
	}
	if delay < 0 {
		delay = 0
	}
	at := time.Now().Add(delay)

	// Hold s.mu across both the recurring removal and the one-shot install
	// (tmu nested under it, same order as upsertRecurring and Cancel) so a
	// concurrent Schedule* on the same name cannot interleave and leave two
	// live jobs.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeRecurringLocked(name)

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if oe, ok := s.once[name]; ok {
		_ = oe.timer.Stop()
		delete(s.once, name)
	}
	ver := s.onceVer[name] + 1
	s.onceVer[name] = ver

	localName := name
	localVer := ver
	oe := &onceEntry{at: at, spec: onceSpecString(at), job: job, ver: ver}
	oe.timer = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		cur, ok := s.once[localName]
		if !ok || s.onceVer[localName] != localVer {
			s.tmu.Unlock()
			return
		}
		// The one-shot consumes itself before running, so a concurrent
		// replace under the same name starts from a clean slate.
		delete(s.once, localName)
		jobNow := cur.job
		s.tmu.Unlock()

		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		s.dispatch(ctx, localName, jobNow)
	})
	s.once[name] = oe
	s.log.Debug().Str("name", name).Time("at", at).Msg("one-shot registered")
	return nil
}

// Cancel removes the job under name, whatever its trigger type. It reports
// whether anything was removed; cancelling an absent name is a no-op.
func (s *Service) Cancel(name string) bool {
	s.mu.Lock()
	removed := s.removeRecurringLocked(name)
	removed = s.removeOnce(name) || removed
	s.mu.Unlock()
	if removed {
		s.log.Debug().Str("name", name).Msg("schedule removed")
	}
	return removed
}

// removeRecurringLocked removes the cron-backed entry. Call with s.mu held.
func (s *Service) removeRecurringLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

// removeOnce stops and removes the one-shot entry under name.
func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	oe, ok := s.once[name]
	if !ok {
		return false
	}
	_ = oe.timer.Stop()
	delete(s.once, name)
	// The version stays bumped so a timer already past Stop() is ignored.
	s.onceVer[name]++
	return true
}

// Job returns the live job registered under exactly name.
func (s *Service) Job(name string) (JobInfo, bool) {
	s.mu.Lock()
	if e, ok := s.entries[name]; ok {
		ji := JobInfo{Name: name, Spec: e.spec, Next: s.nextLocked(e)}
		s.mu.Unlock()
		return ji, true
	}
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if oe, ok := s.once[name]; ok {
		return JobInfo{Name: name, Spec: oe.spec, Next: oe.at}, true
	}
	return JobInfo{}, false
}

// Jobs lists live jobs under the given name prefix, sorted by name.
func (s *Service) Jobs(prefix string) []JobInfo {
	var out []JobInfo
	s.mu.Lock()
	for name, e := range s.entries {
		if strings.HasPrefix(name, prefix) {
			out = append(out, JobInfo{Name: name, Spec: e.spec, Next: s.nextLocked(e)})
		}
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, oe := range s.once {
		if strings.HasPrefix(name, prefix) {
			out = append(out, JobInfo{Name: name, Spec: oe.spec, Next: oe.at})
		}
	}
	s.tmu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) nextLocked(e *entry) time.Time {
	if s.c == nil || e.id == 0 {
		return time.Time{}
	}
	return s.c.Entry(e.id).Next
}

// dispatch runs one job with panic isolation and the configured timeout.
// A panicking or failing job must never take down the dispatch loop.
func (s *Service) dispatch(ctx context.Context, name string, job Job) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("name", name).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in scheduled job")
		}
	}()
	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.DefaultTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(runCtx); err != nil {
		s.log.Error().Str("name", name).Dur("took", time.Since(start)).Err(err).Msg("scheduled job failed")
		return
	}
	s.log.Debug().Str("name", name).Dur("took", time.Since(start)).Msg("scheduled job done")
}

var _ Scheduler = (*Service)(nil)
