package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RoomConfig is the per-room reminder configuration slice.
type RoomConfig struct {
	Name   string   `yaml:"name"`
	Repeat string   `yaml:"repeat"`
	Time   string   `yaml:"time"`
	Alerts []Offset `yaml:"alerts"`
}

// Config maps room name to that room's reminder.
type Config map[string]RoomConfig

// Offset is one lead-time alert: fire Amount Units before the event.
type Offset struct {
	Amount int
	Unit   string
}

// UnmarshalYAML accepts the [amount, unit] pair form, e.g. [30, minutes].
func (o *Offset) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var pair []interface{}
	if err := unmarshal(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("alert offset must be an [amount, unit] pair, got %d element(s)", len(pair))
	}

	switch v := pair[0].(type) {
	case int:
		o.Amount = v
	case float64:
		o.Amount = int(v)
	default:
		return fmt.Errorf("alert offset amount must be a number, got %T", pair[0])
	}

	unit, ok := pair[1].(string)
	if !ok {
		return fmt.Errorf("alert offset unit must be a string, got %T", pair[1])
	}
	o.Unit = unit
	return nil
}

// Duration converts the offset to a time.Duration. Unknown units error.
func (o Offset) Duration() (time.Duration, error) {
	switch strings.TrimSuffix(strings.ToLower(o.Unit), "s") {
	case "second", "sec":
		return time.Duration(o.Amount) * time.Second, nil
	case "minute", "min":
		return time.Duration(o.Amount) * time.Minute, nil
	case "hour", "hr":
		return time.Duration(o.Amount) * time.Hour, nil
	case "day":
		return time.Duration(o.Amount) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown offset unit %q", o.Unit)
}

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

var timePattern = regexp.MustCompile(`^(\d{1,2})(:\d{1,2}(:\d{1,2})?)?$`)

// ParseTimeOfDay parses "H", "H:M" or "H:M:S" with 1-2 digit components.
// Out-of-range components reset to zero rather than rejecting: an hour over
// 23 becomes 0, a minute or second over 59 becomes 0.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if !timePattern.MatchString(s) {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}

	parts := strings.Split(s, ":")
	vals := make([]int, 3)
	for i, p := range parts {
		vals[i], _ = strconv.Atoi(p)
	}

	if vals[0] > 23 {
		vals[0] = 0
	}
	if vals[1] > 59 {
		vals[1] = 0
	}
	if vals[2] > 59 {
		vals[2] = 0
	}

	return TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}, nil
}

// On anchors the time of day to the date of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, t.Second, 0, ref.Location())
}
