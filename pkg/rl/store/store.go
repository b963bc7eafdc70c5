// Package store provides the durable Q-table storage layer shared across
// agent instances and process restarts. The store is the sole arbiter of
// cross-process consistency: the atomic conditional upsert is the
// concurrency primitive, not external locking.
package store

import (
	"context"
	"time"

	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

// QValueUpdate carries one upsert into the Q-table.
type QValueUpdate struct {
	AgentType  string
	StateHash  string
	StateData  map[string]string
	ActionHash string
	ActionData map[string]interface{}
	Value      float64

	// TTL, when positive, sets the row expiry relative to now.
	TTL time.Duration
}

// Stats summarizes store contents for operational visibility.
type Stats struct {
	QValueRows     int64
	TrajectoryRows int64
	SessionRows    int64
	AgentTypes     int64
}

// Store is the durable persistence contract for the learning core.
type Store interface {
	// RegisterAgentType records an agent type; registering the same
	// identifier again is a no-op.
	RegisterAgentType(ctx context.Context, agent rl.AgentType) error

	// CreateSession opens an episode grouping for an agent instance and
	// returns the session identifier.
	CreateSession(ctx context.Context, agentType, instanceID string) (string, error)

	// UpsertQValue inserts a new row with visit_count=1, or atomically
	// updates value, increments visit_count, and adjusts confidence on
	// key conflict. Returns the row id. Concurrent writers never lose
	// visit counts; the last writer's value wins.
	UpsertQValue(ctx context.Context, update QValueUpdate) (int64, error)

	// GetQValues returns all unexpired rows for a state.
	GetQValues(ctx context.Context, agentType, stateHash string) ([]rl.QValue, error)

	// GetBestAction returns the highest-value unexpired row for the
	// state, tie-broken by confidence then action hash, or nil if no
	// rows exist (callers fall back to exploration).
	GetBestAction(ctx context.Context, agentType, stateHash string) (*rl.QValue, error)

	// StoreTrajectory appends a completed (or partially completed)
	// episode record. Append-only.
	StoreTrajectory(ctx context.Context, trajectory *rl.Trajectory) error

	// SaveLearningState upserts per-agent-instance bookkeeping.
	SaveLearningState(ctx context.Context, state *rl.LearningState) error

	// GetLearningState loads bookkeeping for an agent instance, or nil
	// when none has been saved.
	GetLearningState(ctx context.Context, agentType, instanceID string) (*rl.LearningState, error)

	// CleanupExpired deletes all rows whose expiry has passed, returning
	// the number removed. Safe to run concurrently with reads and writes.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)

	// GetStats reports row counts.
	GetStats(ctx context.Context) (Stats, error)

	Close() error
}
