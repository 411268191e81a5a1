package modules

import (
	"time"

	"go.uber.org/zap"
)

// Gate decides whether a command invocation is authorized. Checks run in
// strict order and the first failure short-circuits: existence, enabled
// state, master-only restriction, per-user cooldown.
type Gate struct {
	registry *Registry
	master   string
	store    Store // may be nil
	logger   *zap.Logger
	now      func() time.Time
}

func NewGate(registry *Registry, master string, store Store, logger *zap.Logger) *Gate {
	return &Gate{
		registry: registry,
		master:   master,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the gate's time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// Authorize evaluates the gate for one invocation attempt. On success the
// sender's last-used timestamp for the command is updated and the command is
// returned; on failure the command is untouched and a Denial explains why.
func (g *Gate) Authorize(name, sender string) (*Command, *Denial) {
	cmd, ok := g.registry.Command(name)
	if !ok {
		return nil, &Denial{Reason: ReasonNotFound, Command: name, Sender: sender}
	}

	if !cmd.Enabled() || !cmd.Module().Enabled() {
		return nil, &Denial{Reason: ReasonDisabled, Command: cmd.Name(), Sender: sender}
	}

	// Master comparison is case-sensitive, unlike name lookups.
	if cmd.MasterOnly() && sender != g.master {
		return nil, &Denial{Reason: ReasonUnauthorized, Command: cmd.Name(), Sender: sender}
	}

	now := g.now()
	if cd := cmd.Cooldown(); cd > 0 {
		if last, ok := cmd.LastUsed(sender); ok && now.Sub(last) < cd {
			return nil, &Denial{Reason: ReasonOnCooldown, Command: cmd.Name(), Sender: sender}
		}
	}

	cmd.MarkUsed(sender, now)
	if g.store != nil {
		if err := g.store.SaveCommandUse(cmd.Name(), sender, now); err != nil {
			g.logger.Warn("Failed to persist command use",
				zap.String("command", cmd.Name()),
				zap.Error(err))
		}
	}
	return cmd, nil
}
