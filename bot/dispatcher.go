package bot

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"roombot/modules"
)

// Dispatcher recognizes command invocations in inbound chat lines and routes
// authorized ones to their bound plugin handlers.
type Dispatcher struct {
	prefix   string
	identity string // the bot's own name; self-sent lines are never commands
	registry *modules.Registry
	gate     *modules.Gate
	logger   *zap.Logger
}

func NewDispatcher(prefix, identity string, registry *modules.Registry, gate *modules.Gate, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		prefix:   prefix,
		identity: identity,
		registry: registry,
		gate:     gate,
		logger:   logger,
	}
}

// IsCommand reports whether text is a command invocation: it starts with the
// command prefix and the sender is not the bot itself. The self check is
// case-insensitive; without it the bot could trigger its own replies.
func (d *Dispatcher) IsCommand(sender, text string) bool {
	if !strings.HasPrefix(text, d.prefix) {
		return false
	}
	return !strings.EqualFold(sender, d.identity)
}

// Parse splits a command invocation into its lowercased name and the
// free-form argument tail, both whitespace-trimmed. The name is the first
// whitespace-delimited token, whatever the whitespace is.
func (d *Dispatcher) Parse(text string) (name, tail string) {
	rest := strings.TrimSpace(strings.TrimPrefix(text, d.prefix))
	name = rest
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, tail = rest[:i], rest[i:]
	}
	return strings.ToLower(name), strings.TrimSpace(tail)
}

// Dispatch runs one inbound command line end to end: parse, authorize,
// execute, and enqueue any returned reply through send. Denials are logged
// locally and produce no visible action in the room.
func (d *Dispatcher) Dispatch(sender, raw, room string, send modules.SendFunc) {
	name, tail := d.Parse(raw)

	cmd, denial := d.gate.Authorize(name, sender)
	if denial != nil {
		switch denial.Reason {
		case modules.ReasonNotFound:
			d.logger.Info("No command found", zap.String("command", name), zap.String("sender", sender))
		case modules.ReasonDisabled:
			d.logger.Info("Command (or parent module) is disabled", zap.String("command", name), zap.String("sender", sender))
		case modules.ReasonUnauthorized:
			d.logger.Warn("Non-master trying to use a master-only command",
				zap.String("command", name), zap.String("sender", sender))
		case modules.ReasonOnCooldown:
			d.logger.Warn("Cooldown prevented command execution",
				zap.String("command", name), zap.String("sender", sender))
		}
		return
	}

	ctx := &modules.Context{
		Sender:  sender,
		Room:    room,
		Message: raw,
		Args:    tail,
		Send:    send,
		Logger:  d.logger,
	}

	reply, err := cmd.Execute(ctx)
	if err != nil {
		d.logger.Error("Command execution failed",
			zap.String("command", cmd.Name()),
			zap.String("sender", sender),
			zap.Error(err))
		return
	}
	if reply != "" {
		send(reply)
	}
}
