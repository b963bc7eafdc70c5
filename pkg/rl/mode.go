package rl

// Mode selects how much of the learning cycle is active. Mode selection
// never changes the caller-visible success or failure of the primary task.
type Mode int

const (
	// ModeDisabled performs no learning work at all.
	ModeDisabled Mode = iota

	// ModeEphemeral records trajectories in memory only; no durable
	// Q-value writes are issued.
	ModeEphemeral

	// ModeFull runs the complete cycle with durable persistence.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeEphemeral:
		return "ephemeral"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration string to a Mode.
// Unknown strings map to ModeDisabled.
func ParseMode(s string) Mode {
	switch s {
	case "ephemeral":
		return ModeEphemeral
	case "full":
		return ModeFull
	default:
		return ModeDisabled
	}
}
