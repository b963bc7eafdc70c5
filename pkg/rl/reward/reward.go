// Package reward computes bounded scalar rewards for state transitions as
// a weighted combination of normalized objectives. Calculation is pure:
// no I/O and no mutation of inputs.
package reward

import (
	"context"
	"math"
	"sync"

	"github.com/XiaoConstantine/qlearn-go/pkg/logging"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

// Reward bounds. Components are normalized to [-1,1], the weighted sum is
// scaled by componentScale, and terminal adjustments are added on top, so
// the final value always clamps inside [MinReward, MaxReward].
const (
	MinReward = -100.0
	MaxReward = 100.0

	SuccessBonus   = 50.0
	FailurePenalty = -50.0

	componentScale = 50.0
)

// Weights assigns the relative importance of each reward component.
// Weights should sum to 1.0; Normalized() rescales when they do not.
type Weights struct {
	OutcomeImprovement float64 `yaml:"outcome_improvement"`
	Quality            float64 `yaml:"quality"`
	TimeEfficiency     float64 `yaml:"time_efficiency"`
	PatternReuse       float64 `yaml:"pattern_reuse"`
	CostEfficiency     float64 `yaml:"cost_efficiency"`
}

// DefaultWeights returns the standard component weighting.
func DefaultWeights() Weights {
	return Weights{
		OutcomeImprovement: 0.30,
		Quality:            0.25,
		TimeEfficiency:     0.20,
		PatternReuse:       0.15,
		CostEfficiency:     0.10,
	}
}

// Sum returns the total of all component weights.
func (w Weights) Sum() float64 {
	return w.OutcomeImprovement + w.Quality + w.TimeEfficiency + w.PatternReuse + w.CostEfficiency
}

// Normalized rescales the weights so they sum to 1.0. Zero weights fall
// back to the defaults.
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		OutcomeImprovement: w.OutcomeImprovement / sum,
		Quality:            w.Quality / sum,
		TimeEfficiency:     w.TimeEfficiency / sum,
		PatternReuse:       w.PatternReuse / sum,
		CostEfficiency:     w.CostEfficiency / sum,
	}
}

// Outcome is the execution metadata scored by the calculator.
type Outcome struct {
	Metrics rl.ExecutionMetrics

	// Terminal marks the step as a definite end of the episode, enabling
	// the hard success bonus / failure penalty.
	Terminal bool
	Success  bool
	Failed   bool
}

// Strategy computes a reward for one transition. Agent types that need a
// different scheme end-to-end register a Strategy; everything else uses
// the generic weighted combination.
type Strategy interface {
	Calculate(before *rl.State, action rl.Action, after *rl.State, outcome Outcome) float64
}

// Calculator dispatches reward calculation by agent type. Safe for
// concurrent use.
type Calculator struct {
	mu         sync.RWMutex
	weights    map[string]Weights
	strategies map[string]Strategy
	defaults   Weights
}

// NewCalculator creates a calculator using the default weights for any
// agent type without an override.
func NewCalculator() *Calculator {
	return &Calculator{
		weights:    make(map[string]Weights),
		strategies: make(map[string]Strategy),
		defaults:   DefaultWeights(),
	}
}

// SetWeights overrides the component weights for one agent type.
func (c *Calculator) SetWeights(agentType string, w Weights) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weights[agentType] = w.Normalized()
}

// RegisterStrategy replaces the generic weighted calculation for an agent
// type with a dedicated strategy.
func (c *Calculator) RegisterStrategy(agentType string, s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[agentType] = s
}

// Calculate scores one transition for the agent type. The result is always
// within [MinReward, MaxReward]; NaN or infinite component inputs contribute
// zero and are logged, never propagated.
func (c *Calculator) Calculate(agentType string, before *rl.State, action rl.Action, after *rl.State, outcome Outcome) float64 {
	c.mu.RLock()
	strategy := c.strategies[agentType]
	weights, hasWeights := c.weights[agentType]
	c.mu.RUnlock()

	if strategy != nil {
		return Clamp(strategy.Calculate(before, action, after, outcome))
	}
	if !hasWeights {
		weights = c.defaults
	}

	m := outcome.Metrics

	sum := weights.OutcomeImprovement*sanitize("outcome_improvement", outcomeImprovement(before, after)) +
		weights.Quality*sanitize("quality", qualityComponent(m.Quality)) +
		weights.TimeEfficiency*sanitize("time_efficiency", ratioEfficiency(m.ExpectedDuration.Seconds(), m.Duration.Seconds())) +
		weights.PatternReuse*sanitize("pattern_reuse", reuseComponent(m.KnownPattern)) +
		weights.CostEfficiency*sanitize("cost_efficiency", ratioEfficiency(m.ExpectedCost, m.Cost))

	value := sum * componentScale

	if outcome.Terminal {
		if outcome.Success {
			value += SuccessBonus
		} else if outcome.Failed {
			value += FailurePenalty
		}
	}

	return Clamp(value)
}

// Clamp bounds a reward to [MinReward, MaxReward], mapping NaN to zero.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(MinReward, math.Min(MaxReward, v))
}

// sanitize rejects NaN/Infinity component values, replacing them with a
// zero contribution and a logged warning.
func sanitize(component string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		logging.GetLogger().Warn(context.Background(),
			"reward component %s produced a non-finite value, using zero", component)
		return 0
	}
	return v
}

// qualityComponent maps a [0,1] quality score onto [-1,1].
func qualityComponent(quality float64) float64 {
	if quality < 0 {
		quality = 0
	} else if quality > 1 {
		quality = 1
	}
	return 2*quality - 1
}

// ratioEfficiency computes expected/actual - 1 clamped to [-1,1].
// Missing measurements (zero expected or actual) contribute nothing.
func ratioEfficiency(expected, actual float64) float64 {
	if expected <= 0 || actual <= 0 {
		return 0
	}
	v := expected/actual - 1
	return math.Max(-1, math.Min(1, v))
}

func reuseComponent(knownPattern bool) float64 {
	if knownPattern {
		return 1
	}
	return 0
}

// Ordered bucket scales used to score outcome improvement between states.
var bucketRanks = map[string]int{
	"low": 0, "small": 0, "rare": 0, "shallow": 0,
	"medium": 1, "occasional": 1, "standard": 1,
	"high": 2, "large": 2, "frequent": 2, "deep": 2,
	"full": 3, "very_high": 3, "very_large": 3, "pervasive": 3,
}

// improvementDirection flips the sign for features where a lower bucket is
// better (error rates shrink on success).
var lowerIsBetter = map[string]bool{
	"error_rate": true,
	"complexity": true,
}

// outcomeImprovement compares shared ordered features between the before
// and after states, returning the mean normalized shift in [-1,1].
func outcomeImprovement(before, after *rl.State) float64 {
	if before == nil || after == nil {
		return 0
	}

	var total float64
	var counted int
	for name, b := range before.Features {
		a, ok := after.Features[name]
		if !ok {
			continue
		}
		rankBefore, okB := bucketRanks[b]
		rankAfter, okA := bucketRanks[a]
		if !okB || !okA {
			continue
		}
		delta := float64(rankAfter-rankBefore) / 3.0
		if lowerIsBetter[name] {
			delta = -delta
		}
		total += delta
		counted++
	}

	if counted == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, total/float64(counted)))
}
