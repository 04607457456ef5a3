package aggregate

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Mode selects the aggregation strategy.
type Mode string

const (
	// ModePerDay issues one report call per calendar day.
	ModePerDay Mode = "per-day"
	// ModeRange issues a single report call for the whole window.
	ModeRange Mode = "range"
	// ModeAuto runs per-day and falls back to range when it yields nothing.
	ModeAuto Mode = "auto"
)

// ParseMode parses a mode name. The empty string selects ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeAuto):
		return ModeAuto, nil
	case string(ModePerDay), "perday", "per_day", "day":
		return ModePerDay, nil
	case string(ModeRange):
		return ModeRange, nil
	default:
		return "", eris.Wrapf(ErrInvalidRequest, "unknown mode %q (want per-day, range or auto)", s)
	}
}
