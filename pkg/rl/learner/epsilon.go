package learner

import (
	"math"

	"github.com/XiaoConstantine/qlearn-go/pkg/rl/reward"
)

// DecayCadence selects when and how epsilon decays. Per-step and
// per-episode decay suit different episode lengths, so the cadence is an
// explicit configuration choice.
type DecayCadence int

const (
	// DecayPerEpisode applies one multiplicative decay after each episode.
	DecayPerEpisode DecayCadence = iota

	// DecayPerStep applies the decay after every step.
	DecayPerStep

	// DecayRewardScaled decays faster after well-rewarded episodes:
	// strong recent rewards mean the table is trustworthy and
	// exploration can taper sooner.
	DecayRewardScaled
)

func (d DecayCadence) String() string {
	switch d {
	case DecayPerStep:
		return "step"
	case DecayRewardScaled:
		return "reward"
	default:
		return "episode"
	}
}

// ParseDecayCadence converts a configuration string to a cadence.
// Unknown strings map to the per-episode default.
func ParseDecayCadence(s string) DecayCadence {
	switch s {
	case "step":
		return DecayPerStep
	case "reward":
		return DecayRewardScaled
	default:
		return DecayPerEpisode
	}
}

// nextEpsilon computes the decayed epsilon. The result is never above the
// current value and never below the floor.
func nextEpsilon(current, decayRate, floor, lastReward float64, cadence DecayCadence) float64 {
	rate := decayRate
	if cadence == DecayRewardScaled && lastReward > 0 {
		// Scale the decay by up to an extra 10% for maximal rewards.
		bonus := math.Min(lastReward/reward.MaxReward, 1) * 0.1
		rate = decayRate * (1 - bonus)
	}

	next := current * rate
	if next > current {
		next = current
	}
	return math.Max(next, floor)
}
