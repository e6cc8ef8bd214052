package degrade

// Level is the pressure state of a (conversation, model) pair, driven by
// the tracker's usage percentage after each message.
type Level int

// Pressure levels. Exhausted is reached only when every strategy fails.
const (
	Normal Level = iota
	Warning
	Critical
	Exhausted
)

// Default level boundaries in percent. Configuration defaults, not hard
// requirements.
const (
	DefaultWarningPercent  = 50.0
	DefaultCriticalPercent = 90.0
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// LevelFor maps a usage percentage onto a pressure level using the given
// boundaries. Pass the defaults unless the deployment overrides them.
func LevelFor(percent, warningAt, criticalAt float64) Level {
	switch {
	case percent >= criticalAt:
		return Critical
	case percent >= warningAt:
		return Warning
	default:
		return Normal
	}
}
