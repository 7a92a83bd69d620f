// Package schedule implements the schedule manager (component G.5):
// interval/cron/once firing that calls a caller-provided on_fire(schedule)
// -> Job callback rather than executing anything itself. Grounded on the
// teacher's internal/engine/scheduler.go Scheduler/ScheduleEntry, completing
// its stubbed executeScheduledWorkflow/TriggerNow (which never actually ran
// anything) into the spec's on_fire contract.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
)

// Kind is the closed set of schedule trigger kinds, §4.7.5.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
	KindOnce     Kind = "once"
)

// IntervalSugar is the closed set of named interval shorthands; Monthly is
// approximated as 30 days per the spec.
type IntervalSugar string

const (
	Hourly  IntervalSugar = "hourly"
	Daily   IntervalSugar = "daily"
	Weekly  IntervalSugar = "weekly"
	Monthly IntervalSugar = "monthly"
)

func (s IntervalSugar) Duration() (time.Duration, bool) {
	switch s {
	case Hourly:
		return time.Hour, true
	case Daily:
		return 24 * time.Hour, true
	case Weekly:
		return 7 * 24 * time.Hour, true
	case Monthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Entry is one schedule's declaration plus runtime state. NextRun is always
// stored in UTC even though a cron expression is evaluated in Timezone.
type Entry struct {
	ID         string
	WorkflowID string
	Kind       Kind
	CronExpr   string        // Kind == KindCron
	Interval   time.Duration // Kind == KindInterval (already resolved from sugar if any)
	Sugar      IntervalSugar // original sugar, if the caller used one; informational
	OnceAt     time.Time     // Kind == KindOnce
	Timezone   string        // IANA name; "" means UTC
	Enabled    bool
	NextRun    time.Time
	LastRun    *time.Time
	RunCount   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time

	entryID cron.EntryID
	fired   bool // Once schedules fire exactly once
}

// Job is the minimal shape on_fire must hand back to the caller for
// dispatching. RunNow also builds one from the entry and returns it; the
// schedule manager never submits a Job itself.
type Job struct {
	WorkflowID string
	ScheduleID string
	FiredAt    time.Time
	RunCount   int64
}

// Manager drives a robfig/cron/v3 scheduler and a caller-supplied on_fire
// callback. It never executes a workflow directly (§4.7.5: "does not execute
// directly").
type Manager struct {
	cron    *cron.Cron
	mu      sync.RWMutex
	entries map[string]*Entry
	onFire  func(*Entry) (*Job, error)

	// onceTimers tracks Once-schedule timers outside the cron.Cron instance
	// since robfig/cron has no native one-shot primitive. Per-Manager so two
	// Manager instances never race on each other's timers.
	onceTimers map[string]*time.Timer

	onChange func(*Entry)
	onDelete func(id string)
}

// OnChange installs an observer notified after every Create/Update/Enable/
// Disable, e.g. to persist the entry to a durable store. OnDelete is
// notified on Delete. Either may be nil (the default, in-memory-only).
func (m *Manager) OnChange(fn func(*Entry)) { m.onChange = fn }
func (m *Manager) OnDelete(fn func(id string)) { m.onDelete = fn }

func (m *Manager) notifyChange(entry *Entry) {
	if m.onChange != nil {
		m.onChange(entry)
	}
}

// parser accepts the spec's grammar: 5-field standard cron, with an
// optional leading seconds field making it 6-field.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New builds a Manager. onFire is invoked synchronously from the cron
// goroutine on every fire; the caller is responsible for dispatching the
// returned Job asynchronously if that takes any real time.
func New(onFire func(*Entry) (*Job, error)) *Manager {
	return &Manager{
		cron:       cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		entries:    make(map[string]*Entry),
		onFire:     onFire,
		onceTimers: make(map[string]*time.Timer),
	}
}

// Restore re-registers an entry loaded from durable storage (mongostore)
// without re-stamping CreatedAt/ID the way Create does for a brand new
// entry, so a restart doesn't lose an entry's original creation time.
func (m *Manager) Restore(entry *Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[entry.ID] = entry
	m.mu.Unlock()
	if entry.Enabled {
		return m.schedule(entry)
	}
	return nil
}

// Start begins firing already-added enabled schedules.
func (m *Manager) Start() { m.cron.Start() }

// Stop halts the scheduler without waiting; the returned context is done
// once in-flight cron fires complete.
func (m *Manager) Stop() context.Context { return m.cron.Stop() }

// Create validates and, if enabled, schedules a new entry.
func (m *Manager) Create(entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := validate(entry); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[entry.ID] = entry
	m.mu.Unlock()
	m.notifyChange(entry)

	if entry.Enabled {
		return m.schedule(entry)
	}
	return nil
}

func validate(entry *Entry) error {
	switch entry.Kind {
	case KindCron:
		if _, err := parser.Parse(entry.CronExpr); err != nil {
			return apperrors.New(apperrors.KindValidation, "", fmt.Sprintf("invalid cron expression %q: %v", entry.CronExpr, err))
		}
	case KindInterval:
		if d, ok := entry.Sugar.Duration(); ok {
			entry.Interval = d
		}
		if entry.Interval <= 0 {
			return apperrors.New(apperrors.KindValidation, "", "interval schedule requires a positive interval")
		}
	case KindOnce:
		if entry.OnceAt.IsZero() {
			return apperrors.New(apperrors.KindValidation, "", "once schedule requires a fire time")
		}
	default:
		return apperrors.New(apperrors.KindValidation, "", "unknown schedule kind "+string(entry.Kind))
	}
	return nil
}

func (m *Manager) location(entry *Entry) *time.Location {
	if entry.Timezone == "" {
		return time.UTC
	}
	if loc, err := time.LoadLocation(entry.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

func (m *Manager) schedule(entry *Entry) error {
	switch entry.Kind {
	case KindOnce:
		return m.scheduleOnce(entry)
	case KindInterval:
		return m.scheduleSpec(entry, fmt.Sprintf("@every %s", entry.Interval))
	case KindCron:
		return m.scheduleCronWithTimezone(entry)
	default:
		return apperrors.New(apperrors.KindValidation, "", "unknown schedule kind "+string(entry.Kind))
	}
}

func (m *Manager) scheduleCronWithTimezone(entry *Entry) error {
	loc := m.location(entry)
	schedule, err := parser.Parse(entry.CronExpr)
	if err != nil {
		return err
	}
	tzSchedule := &timezoneSchedule{inner: schedule, loc: loc}

	id := m.cron.Schedule(tzSchedule, cron.FuncJob(func() { m.fire(entry.ID, false) }))
	m.mu.Lock()
	entry.entryID = id
	entry.NextRun = m.cron.Entry(id).Next.UTC()
	m.mu.Unlock()
	return nil
}

func (m *Manager) scheduleOnce(entry *Entry) error {
	delay := time.Until(entry.OnceAt)
	if delay < 0 {
		delay = 0
	}
	entry.NextRun = entry.OnceAt.UTC()
	timer := time.AfterFunc(delay, func() { m.fire(entry.ID, false) })
	m.mu.Lock()
	m.onceTimers[entry.ID] = timer
	m.mu.Unlock()
	return nil
}

func (m *Manager) scheduleSpec(entry *Entry, spec string) error {
	id, err := m.cron.AddFunc(spec, func() { m.fire(entry.ID, false) })
	if err != nil {
		return err
	}
	m.mu.Lock()
	entry.entryID = id
	entry.NextRun = m.cron.Entry(id).Next.UTC()
	m.mu.Unlock()
	return nil
}

// fire runs an entry's on_fire callback. force bypasses the Enabled gate for
// RunNow's manual trigger (§4.7.5: run_now works even on a disabled
// schedule); normal cadence fires always pass force=false.
func (m *Manager) fire(id string, force bool) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok || (!entry.Enabled && !force) {
		m.mu.Unlock()
		return
	}
	if entry.Kind == KindOnce && entry.fired {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	entry.LastRun = &now
	entry.RunCount++
	entry.fired = true
	if entry.entryID != 0 {
		entry.NextRun = m.cron.Entry(entry.entryID).Next.UTC()
	}
	callback := m.onFire
	m.mu.Unlock()
	m.notifyChange(entry)

	if callback != nil {
		_, _ = callback(entry)
	}
}

// Update replaces an entry's definition, rescheduling if enabled.
func (m *Manager) Update(entry *Entry) error {
	m.mu.Lock()
	if existing, ok := m.entries[entry.ID]; ok && existing.entryID != 0 {
		m.cron.Remove(existing.entryID)
	}
	m.mu.Unlock()

	entry.UpdatedAt = time.Now().UTC()
	if err := validate(entry); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[entry.ID] = entry
	m.mu.Unlock()
	m.notifyChange(entry)

	if entry.Enabled {
		return m.schedule(entry)
	}
	return nil
}

// Delete removes an entry and its cron registration.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	if existing, ok := m.entries[id]; ok && existing.entryID != 0 {
		m.cron.Remove(existing.entryID)
	}
	if timer, ok := m.onceTimers[id]; ok {
		timer.Stop()
		delete(m.onceTimers, id)
	}
	delete(m.entries, id)
	m.mu.Unlock()
	if m.onDelete != nil {
		m.onDelete(id)
	}
}

// Enable/Disable toggle an entry's firing without deleting it.
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, id, "schedule not found")
	}
	if entry.Enabled {
		return nil
	}
	entry.Enabled = true
	m.notifyChange(entry)
	return m.schedule(entry)
}

func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.New(apperrors.KindNotFound, id, "schedule not found")
	}
	if entry.entryID != 0 {
		m.cron.Remove(entry.entryID)
	}
	entry.Enabled = false
	m.mu.Unlock()
	m.notifyChange(entry)
	return nil
}

// RunNow fires an entry immediately, out of band from its normal cadence.
func (m *Manager) RunNow(id string) (*Job, error) {
	m.mu.RLock()
	_, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, id, "schedule not found")
	}
	m.fire(id, true)
	m.mu.RLock()
	entry := m.entries[id]
	m.mu.RUnlock()
	if m.onFire == nil {
		return nil, nil
	}
	return &Job{WorkflowID: entry.WorkflowID, ScheduleID: entry.ID, FiredAt: time.Now().UTC(), RunCount: entry.RunCount}, nil
}

// Get/List expose read access for the API surface.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, id, "schedule not found")
	}
	clone := *entry
	return &clone, nil
}

func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		clone := *e
		out = append(out, &clone)
	}
	return out
}

// timezoneSchedule wraps a cron.Schedule to evaluate Next in a fixed
// location regardless of the location passed to cron.New, matching the
// spec's per-schedule (not per-manager) IANA timezone requirement.
type timezoneSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

func (s *timezoneSchedule) Next(t time.Time) time.Time {
	return s.inner.Next(t.In(s.loc))
}
