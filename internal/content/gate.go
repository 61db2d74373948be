package content

import (
	"strings"
	"unicode/utf8"
)

// GateConfig holds the thresholds of a RenderGate. Sizes are counted in runes.
type GateConfig struct {
	// Growth is the number of appended characters after which plain text is always re-rendered.
	Growth int
	// MathGrowth is the same threshold for buffers that contain math, where renders are more
	// expensive and a half-arrived formula is more likely.
	MathGrowth int
}

// DefaultGateConfig returns the thresholds used when none are configured.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Growth:     20,
		MathGrowth: 50,
	}
}

// RenderGate decides whether a change of the streaming buffer warrants a visual refresh now, or can
// wait for a following, larger change.
type RenderGate struct {
	cfg GateConfig
}

const structuralChars = ".,;:!?`*_#>|-[]()<>\"'"

// NewRenderGate creates a gate, filling zero thresholds with defaults.
func NewRenderGate(cfg GateConfig) RenderGate {
	def := DefaultGateConfig()
	if cfg.Growth <= 0 {
		cfg.Growth = def.Growth
	}
	if cfg.MathGrowth <= 0 {
		cfg.MathGrowth = def.MathGrowth
	}
	return RenderGate{cfg: cfg}
}

// ShouldRender reports whether the transition from prev to next should be drawn immediately. The first
// matching rule wins:
//
//   - identical snapshots are suppressed;
//   - when next contains math, only a shrink, a growth beyond MathGrowth, or a tail that carries a
//     math token forces a refresh;
//   - a new line break forces a refresh;
//   - a growth beyond Growth forces a refresh;
//   - a small tail without punctuation or markup is deferred;
//   - anything else is refreshed.
func (g RenderGate) ShouldRender(prev, next string) bool {
	if prev == next {
		return false
	}

	appended := strings.HasPrefix(next, prev)
	tail := ""
	if appended {
		tail = next[len(prev):]
	}
	growth := utf8.RuneCountInString(next) - utf8.RuneCountInString(prev)

	if HasMath(next) {
		switch {
		case !appended, growth < 0:
			return true
		case growth > g.cfg.MathGrowth:
			return true
		case HasMathMarker(tail):
			return true
		default:
			return false
		}
	}

	if !appended {
		return true
	}

	if strings.Count(next, "\n") > strings.Count(prev, "\n") {
		return true
	}

	if growth > g.cfg.Growth {
		return true
	}

	if !strings.ContainsAny(tail, structuralChars) {
		return false
	}

	return true
}
