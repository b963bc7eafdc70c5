// Package rl defines the shared types for the tabular Q-learning core:
// agent type registrations, canonical states and actions, learned Q-values,
// episode trajectories, and per-instance learning state.
package rl

import (
	"context"
	"time"
)

// AgentType identifies a class of learner and carries its hyperparameters.
// Instances are created once at registration time and are read-only afterwards.
type AgentType struct {
	// ID uniquely identifies the agent type (e.g. "test-maintainer")
	ID string

	// StateDims and ActionDims describe the expected dimensionality of the
	// discretized state and action spaces
	StateDims  int
	ActionDims int

	// LearningRate is the Bellman step size alpha, in (0, 1]
	LearningRate float64

	// DiscountFactor is gamma, the weight on bootstrapped future value, in (0, 1]
	DiscountFactor float64

	// ExplorationRate is the initial epsilon for epsilon-greedy selection
	ExplorationRate float64

	// ExplorationDecay is the multiplicative decay applied to epsilon
	ExplorationDecay float64

	// MinExplorationRate is the floor epsilon never decays below
	MinExplorationRate float64
}

// State is a canonical, bucketed representation of task context.
// Immutable once hashed; embedded in QValue and Trajectory rows rather
// than persisted on its own.
type State struct {
	// Features maps feature name to its discretized, canonical textual value
	Features map[string]string

	// Hash is the fixed-length hex fingerprint over the sorted-key serialization
	Hash string
}

// Action is an opaque, caller-defined action plus its parameters.
// The action space for a task is supplied by the caller per invocation.
type Action struct {
	// ID identifies the action within the caller's action space
	ID string

	// Params holds the structured action parameters
	Params map[string]interface{}

	// Hash is the canonical fingerprint used as a table key
	Hash string
}

// QValue is the central learned fact: one row per
// (agent type, state hash, action hash) triple.
type QValue struct {
	AgentType  string
	StateHash  string
	ActionHash string

	// StateData and ActionData are the canonical serializations embedded
	// for offline inspection
	StateData  map[string]string
	ActionData map[string]interface{}

	// Value is only ever mutated via the Bellman update
	Value float64

	// VisitCount increases by exactly one per update, never decreased
	VisitCount int64

	// Confidence and Uncertainty are monotone in visits, bounded to [0,1]
	Confidence  float64
	Uncertainty float64

	// ExpiresAt, when set and past, excludes the row from all reads
	ExpiresAt *time.Time

	UpdatedAt time.Time
}

// confidenceHalfVisits controls how quickly confidence saturates:
// confidence = visits / (visits + confidenceHalfVisits).
const confidenceHalfVisits = 10

// ConfidenceFromVisits maps a visit count to a confidence score in [0,1).
func ConfidenceFromVisits(visits int64) float64 {
	if visits <= 0 {
		return 0
	}
	return float64(visits) / float64(visits+confidenceHalfVisits)
}

// TrajectoryStep records one (state, action, reward) transition.
type TrajectoryStep struct {
	StateHash  string    `json:"state_hash"`
	ActionID   string    `json:"action_id"`
	ActionHash string    `json:"action_hash"`
	Reward     float64   `json:"reward"`
	Timestamp  time.Time `json:"timestamp"`
}

// Trajectory is the ordered record of one learning episode.
// Immutable after completion; persisted once complete, or on error with
// partial data and an error note.
type Trajectory struct {
	ID         string
	SessionID  string
	AgentType  string
	InstanceID string

	InitialStateHash string
	FinalStateHash   string
	Steps            []TrajectoryStep

	TotalReward      float64
	DiscountedReward float64
	Duration         time.Duration
	Success          bool

	// ErrorNote is set when the episode terminated abnormally
	ErrorNote string

	StartedAt   time.Time
	CompletedAt time.Time
}

// LearningState is per-agent-instance bookkeeping, mutated after every episode.
type LearningState struct {
	AgentType  string
	InstanceID string

	Epsilon          float64
	CumulativeReward float64
	AverageReward    float64

	TasksTotal     int64
	TasksSucceeded int64
	TasksFailed    int64

	LastActivity time.Time
}

// EpisodeSummary is returned from a completed learning episode.
type EpisodeSummary struct {
	EpisodeID        string
	Steps            int
	TotalReward      float64
	DiscountedReward float64
	SuccessRate      float64
	Duration         time.Duration
	Done             bool
}

// Statistics is the aggregate learning surface exposed to collaborators.
type Statistics struct {
	Episodes    int64
	SuccessRate float64
	AvgReward   float64
	TableSize   int
	Epsilon     float64
}

// ExecutionMetrics carries measurements from one action execution, used
// for reward shaping.
type ExecutionMetrics struct {
	Duration         time.Duration
	ExpectedDuration time.Duration

	Cost         float64
	ExpectedCost float64

	// Quality is a normalized quality score in [0,1]
	Quality float64

	// KnownPattern reports whether the action reused a previously
	// learned pattern
	KnownPattern bool

	// Classification counts for verifier-style agents
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
}

// ExecutionResult is what the caller-supplied executor returns for one step.
type ExecutionResult struct {
	Success     bool
	NextContext map[string]interface{}
	Done        bool
	Metrics     ExecutionMetrics
}

// ActionExecutor runs one action against the caller's task and reports the
// outcome. This core never executes actions itself.
type ActionExecutor func(ctx context.Context, action Action, taskContext map[string]interface{}) (*ExecutionResult, error)
