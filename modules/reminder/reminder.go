// Package reminder implements the recurring-reminder plugin: a daily
// time-of-day event plus lead-time alerts that fire into the room's
// outbound queue ahead of it.
package reminder

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"roombot/modules"
	"roombot/scheduler"
)

const repeatDaily = "daily"

// Module is the reminder plugin. It contributes no commands; it arms alerts
// on the shared scheduler when a room is joined.
type Module struct {
	logger *zap.Logger
	sched  *scheduler.Scheduler
	now    func() time.Time

	mu        sync.Mutex
	reminders []*Reminder
}

func New(sched *scheduler.Scheduler, logger *zap.Logger) *Module {
	return &Module{
		logger: logger,
		sched:  sched,
		now:    time.Now,
	}
}

// SetClock overrides the module's time source. Tests only.
func (m *Module) SetClock(now func() time.Time) { m.now = now }

func (m *Module) Info() modules.Info {
	return modules.Info{
		Name:        "reminder",
		Description: "Recurring time-of-day reminders with lead alerts",
	}
}

// OnLifecycleEvent arms the configured reminder for the joined room.
func (m *Module) OnLifecycleEvent(event string, ctx *modules.LifecycleContext) error {
	if event != modules.EventJoin || ctx.Config == nil {
		return nil
	}

	var cfg Config
	if err := ctx.Config.Decode(&cfg); err != nil {
		return fmt.Errorf("decode reminder config: %w", err)
	}

	roomCfg, ok := cfg[ctx.Room]
	if !ok {
		return nil
	}

	rem, err := m.arm(roomCfg, ctx)
	if err != nil {
		return err
	}
	if rem != nil {
		m.mu.Lock()
		m.reminders = append(m.reminders, rem)
		m.mu.Unlock()
	}
	return nil
}

// arm builds the Reminder and schedules its root alert plus one alert per
// lead offset. A non-daily repeat arms nothing.
func (m *Module) arm(cfg RoomConfig, ctx *modules.LifecycleContext) (*Reminder, error) {
	if cfg.Repeat != repeatDaily {
		m.logger.Warn("Only 'daily' repeat is supported, ignoring reminder",
			zap.String("room", ctx.Room),
			zap.String("repeat", cfg.Repeat))
		return nil, nil
	}

	tod, err := ParseTimeOfDay(cfg.Time)
	if err != nil {
		return nil, fmt.Errorf("reminder %q: %w", cfg.Name, err)
	}

	rem := &Reminder{
		name:    cfg.Name,
		send:    ctx.Send,
		enabled: ctx.Module.Enabled,
		logger:  m.logger,
	}

	now := m.now()
	root := nextInstant(tod, now)

	rem.root = &Alert{reminder: rem, when: root}
	m.sched.Add(root, rem.root)

	for _, off := range cfg.Alerts {
		d, err := off.Duration()
		if err != nil {
			return nil, fmt.Errorf("reminder %q: %w", cfg.Name, err)
		}
		when := root.Add(-d)
		// A lead landing strictly in the past is skipped ahead a day
		// rather than fired stale.
		for when.Before(now) {
			when = when.AddDate(0, 0, 1)
		}
		off := off
		a := &Alert{reminder: rem, offset: &off, when: when}
		rem.alerts = append(rem.alerts, a)
		m.sched.Add(when, a)
	}

	m.logger.Info("Reminder armed",
		zap.String("room", ctx.Room),
		zap.String("reminder", cfg.Name),
		zap.Time("next", root),
		zap.Int("lead_alerts", len(rem.alerts)))
	return rem, nil
}

// nextInstant returns the next today-or-tomorrow instant matching tod.
// If tod already passed today, it lands tomorrow; an instant equal to now
// is due now, not tomorrow.
func nextInstant(tod TimeOfDay, now time.Time) time.Time {
	e := tod.On(now)
	if e.Before(now) {
		e = e.AddDate(0, 0, 1)
	}
	return e
}

// Reminder is one recurring event with a root alert and lead alerts.
type Reminder struct {
	name    string
	send    modules.SendFunc
	enabled func() bool
	logger  *zap.Logger
	root    *Alert
	alerts  []*Alert
}

func (r *Reminder) Name() string { return r.name }

// fire formats and sends one alert's message, unless the module has been
// disabled in the meantime.
func (r *Reminder) fire(a *Alert) {
	if r.enabled != nil && !r.enabled() {
		r.logger.Debug("Reminder module disabled, suppressing alert",
			zap.String("reminder", r.name))
		return
	}
	r.send(a.String())
}

// Alert is a single armed notification. A nil offset marks the root alert
// for the event itself.
type Alert struct {
	reminder *Reminder
	offset   *Offset // nil = root
	when     time.Time
}

func (a *Alert) IsRoot() bool { return a.offset == nil }

func (a *Alert) Name() string {
	if a.IsRoot() {
		return "reminder/" + a.reminder.name
	}
	return fmt.Sprintf("reminder/%s/-%d %s", a.reminder.name, a.offset.Amount, a.offset.Unit)
}

// When returns the alert's next-fire instant.
func (a *Alert) When() time.Time { return a.when }

// Run fires the alert, advances its instant by exactly one day and re-arms,
// recurring indefinitely.
func (a *Alert) Run(now time.Time) time.Time {
	a.reminder.fire(a)
	a.when = a.when.AddDate(0, 0, 1)
	return a.when
}

func (a *Alert) String() string {
	if a.IsRoot() {
		return fmt.Sprintf("The %s begins now!", a.reminder.name)
	}
	return fmt.Sprintf("%d %s until the %s!", a.offset.Amount, a.offset.Unit, a.reminder.name)
}
