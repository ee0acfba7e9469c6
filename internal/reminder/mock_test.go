package reminder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sugarbot/internal/sched"
)

// fakeScheduler implements sched.Scheduler in memory and counts mutating
// calls so idempotence (no needless churn) is observable.
type fakeScheduler struct {
	mu            sync.Mutex
	jobs          map[string]fakeJob
	scheduleCalls int
	cancelCalls   int
	failSchedule  error
}

type fakeJob struct {
	info sched.JobInfo
	run  sched.Job
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]fakeJob{}}
}

func (f *fakeScheduler) put(name, spec string, job sched.Job, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduleCalls++
	if f.failSchedule != nil {
		return f.failSchedule
	}
	f.jobs[name] = fakeJob{info: sched.JobInfo{Name: name, Spec: spec, Next: next}, run: job}
	return nil
}

func (f *fakeScheduler) ScheduleDaily(name string, spec sched.DailySpec, job sched.Job) error {
	return f.put(name, spec.String(), job, time.Time{})
}

func (f *fakeScheduler) ScheduleInterval(name string, every time.Duration, job sched.Job) error {
	return f.put(name, sched.IntervalSpecString(every), job, time.Time{})
}

func (f *fakeScheduler) ScheduleOnce(name string, delay time.Duration, job sched.Job) error {
	at := time.Now().Add(delay)
	return f.put(name, sched.OnceSpecPrefix+at.UTC().Format(time.RFC3339Nano), job, at)
}

func (f *fakeScheduler) Cancel(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	if _, ok := f.jobs[name]; !ok {
		return false
	}
	delete(f.jobs, name)
	return true
}

func (f *fakeScheduler) Job(name string) (sched.JobInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[name]
	return j.info, ok
}

func (f *fakeScheduler) Jobs(prefix string) []sched.JobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sched.JobInfo
	for name, j := range f.jobs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, j.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fire runs the job registered under name, as the scheduler would on
// trigger. One-shots consume themselves first.
func (f *fakeScheduler) fire(ctx context.Context, name string) error {
	f.mu.Lock()
	j, ok := f.jobs[name]
	if ok && sched.IsOnceSpec(j.info.Spec) {
		delete(f.jobs, name)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job %q", name)
	}
	return j.run(ctx)
}

func (f *fakeScheduler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduleCalls
}

var _ sched.Scheduler = (*fakeScheduler)(nil)

// fakeStore implements Store in memory.
type fakeStore struct {
	mu        sync.Mutex
	reminders map[int64]Reminder
	users     map[int64]UserScheduleContext
	logs      []TriggerLog

	getErr  error
	listErr error
	userErr error
	logErr  error

	listHook func() // runs at the start of ListReminders, outside the lock
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reminders: map[int64]Reminder{},
		users:     map[int64]UserScheduleContext{1: {ChatID: 100, Timezone: "UTC"}},
	}
}

func (f *fakeStore) putReminder(r Reminder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders[r.ID] = r
}

func (f *fakeStore) GetReminder(_ context.Context, id int64) (*Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.reminders[id]
	if !ok {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	cp := r
	return &cp, nil
}

func (f *fakeStore) ListReminders(_ context.Context) ([]Row, error) {
	if f.listHook != nil {
		f.listHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Row
	for _, r := range f.reminders {
		out = append(out, Row{Reminder: r, User: f.users[r.OwnerID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reminder.ID < out[j].Reminder.ID })
	return out, nil
}

func (f *fakeStore) GetUserContext(_ context.Context, ownerID int64) (UserScheduleContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return UserScheduleContext{}, f.userErr
	}
	uctx, ok := f.users[ownerID]
	if !ok {
		return UserScheduleContext{}, fmt.Errorf("user %d: %w", ownerID, ErrNotFound)
	}
	return uctx, nil
}

func (f *fakeStore) RecordTriggerLog(_ context.Context, e TriggerLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.logs = append(f.logs, e)
	return nil
}

func (f *fakeStore) loggedActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.logs))
	for i, e := range f.logs {
		out[i] = e.Action
	}
	return out
}

var _ Store = (*fakeStore)(nil)

// fakeTransport records sends; events lists "log"/"send" interleavings when
// shared with a store wrapper.
type fakeTransport struct {
	mu      sync.Mutex
	sends   []fakeSend
	sendErr error
	onSend  func()
}

type fakeSend struct {
	ChatID  int64
	Text    string
	Actions []Action
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, text string, actions []Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onSend != nil {
		f.onSend()
	}
	f.sends = append(f.sends, fakeSend{ChatID: chatID, Text: text, Actions: actions})
	return f.sendErr
}

func (f *fakeTransport) sent() []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeSend(nil), f.sends...)
}

var _ Transport = (*fakeTransport)(nil)
