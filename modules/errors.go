package modules

import (
	"fmt"
	"strings"
)

// Reason classifies why the gate denied a command invocation.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonDisabled     Reason = "disabled"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonOnCooldown   Reason = "on_cooldown"
)

// Denial is returned by the gate when an invocation is not authorized.
// Denials are logged locally and never echoed into the room.
type Denial struct {
	Reason  Reason
	Command string
	Sender  string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("command %q denied for %q: %s", d.Command, d.Sender, d.Reason)
}

// LoadError reports registrations rejected during Load. Load is
// partial-failure tolerant: rejected plugins are skipped, the rest load.
type LoadError struct {
	Rejected []string // "module name" or "module name/command name"
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("rejected %d registration(s): %s", len(e.Rejected), strings.Join(e.Rejected, ", "))
}

// PanicError wraps a recovered panic from a plugin handler or lifecycle
// callback.
type PanicError struct {
	Module  string
	Command string
	Value   interface{}
}

func (e *PanicError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("panic in module %q command %q: %v", e.Module, e.Command, e.Value)
	}
	return fmt.Sprintf("panic in module %q: %v", e.Module, e.Value)
}
