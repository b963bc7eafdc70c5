// Package testutil provides shared test doubles for the learning core.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/store"
)

// ScriptedStep describes one outcome a ScriptedExecutor will return.
type ScriptedStep struct {
	Success     bool
	Done        bool
	NextContext map[string]interface{}
	Metrics     rl.ExecutionMetrics
	Err         error
}

// ScriptedExecutor replays a fixed sequence of step outcomes and records
// which actions were executed. The last step repeats if the script runs
// out before the episode ends.
type ScriptedExecutor struct {
	mu      sync.Mutex
	steps   []ScriptedStep
	cursor  int
	Actions []rl.Action
}

// NewScriptedExecutor builds an executor from the given steps.
func NewScriptedExecutor(steps ...ScriptedStep) *ScriptedExecutor {
	return &ScriptedExecutor{steps: steps}
}

// Execute implements rl.ActionExecutor.
func (s *ScriptedExecutor) Execute(ctx context.Context, action rl.Action, taskContext map[string]interface{}) (*rl.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Actions = append(s.Actions, action)

	if len(s.steps) == 0 {
		return &rl.ExecutionResult{Success: true, Done: true, NextContext: taskContext}, nil
	}

	step := s.steps[s.cursor]
	if s.cursor < len(s.steps)-1 {
		s.cursor++
	}
	if step.Err != nil {
		return nil, step.Err
	}

	next := step.NextContext
	if next == nil {
		next = taskContext
	}
	return &rl.ExecutionResult{
		Success:     step.Success,
		Done:        step.Done,
		NextContext: next,
		Metrics:     step.Metrics,
	}, nil
}

// Calls returns how many times the executor ran.
func (s *ScriptedExecutor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Actions)
}

// FlakyStore wraps a Store and starts failing every write once tripped,
// for exercising graceful degradation paths.
type FlakyStore struct {
	store.Store
	failing atomic.Bool
}

// NewFlakyStore wraps the inner store.
func NewFlakyStore(inner store.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

// Trip makes all subsequent writes fail.
func (f *FlakyStore) Trip() {
	f.failing.Store(true)
}

func (f *FlakyStore) outage() error {
	return errors.New(errors.PersistenceFailed, "simulated store outage")
}

func (f *FlakyStore) UpsertQValue(ctx context.Context, update store.QValueUpdate) (int64, error) {
	if f.failing.Load() {
		return 0, f.outage()
	}
	return f.Store.UpsertQValue(ctx, update)
}

func (f *FlakyStore) StoreTrajectory(ctx context.Context, trajectory *rl.Trajectory) error {
	if f.failing.Load() {
		return f.outage()
	}
	return f.Store.StoreTrajectory(ctx, trajectory)
}

func (f *FlakyStore) SaveLearningState(ctx context.Context, state *rl.LearningState) error {
	if f.failing.Load() {
		return f.outage()
	}
	return f.Store.SaveLearningState(ctx, state)
}

func (f *FlakyStore) GetQValues(ctx context.Context, agentType, stateHash string) ([]rl.QValue, error) {
	if f.failing.Load() {
		return nil, f.outage()
	}
	return f.Store.GetQValues(ctx, agentType, stateHash)
}

func (f *FlakyStore) GetBestAction(ctx context.Context, agentType, stateHash string) (*rl.QValue, error) {
	if f.failing.Load() {
		return nil, f.outage()
	}
	return f.Store.GetBestAction(ctx, agentType, stateHash)
}

func (f *FlakyStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	if f.failing.Load() {
		return 0, f.outage()
	}
	return f.Store.CleanupExpired(ctx, now)
}
