// Package qlearn is a tabular Q-learning core for autonomous task-executing
// agents. It lets an agent learn, over many task executions, which action to
// take in which situation, without any model of the environment.
//
// The module is embedded as a library: the host application describes each
// task as a loosely structured context map, supplies the action space, and
// executes the chosen actions itself. qlearn-go handles everything around
// that loop:
//
//   - Encoding: pkg/rl/encoder discretizes raw task context into canonical
//     bucketed states with deterministic SHA-256 fingerprints, so that
//     semantically equivalent situations share a Q-table row regardless of
//     key order or numeric jitter.
//
//   - Rewards: pkg/rl/reward scores each transition as a bounded weighted
//     combination of outcome improvement, quality, time efficiency, pattern
//     reuse, and cost efficiency, with per-agent-type weight overrides and
//     dedicated strategies (e.g. an F1-based scorer for verifier agents).
//
//   - Learning: pkg/rl/learner runs epsilon-greedy action selection, Bellman
//     value updates, epsilon decay with a configurable cadence, and bounded
//     learning episodes through a caller-supplied executor. A write-through
//     in-memory cache batches updates before they reach the store.
//
//   - Persistence: pkg/rl/store defines the Store interface and provides a
//     SQLite-backed implementation (WAL mode, atomic ON CONFLICT upserts,
//     expiry sweeps, trajectories, sessions, per-instance learning state)
//     plus an in-memory variant for ephemeral operation and tests.
//
// Learning never breaks the host: the learner can run disabled, ephemeral
// (in-memory only), or full, and persistence failures degrade it to
// in-memory operation instead of failing the caller's task.
//
// Simple Example:
//
//	import (
//	    "context"
//
//	    "github.com/XiaoConstantine/qlearn-go/pkg/rl"
//	    "github.com/XiaoConstantine/qlearn-go/pkg/rl/learner"
//	    "github.com/XiaoConstantine/qlearn-go/pkg/rl/store"
//	)
//
//	func main() {
//	    st, err := store.NewSQLiteStore(store.DefaultSQLiteConfig("qlearn.db"))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer st.Close()
//
//	    agent := rl.AgentType{
//	        ID:                 "test-maintainer",
//	        LearningRate:       0.1,
//	        DiscountFactor:     0.95,
//	        ExplorationRate:    0.3,
//	        ExplorationDecay:   0.995,
//	        MinExplorationRate: 0.05,
//	    }
//	    l, err := learner.New(agent, st)
//	    if err != nil {
//	        panic(err)
//	    }
//
//	    actionSpace := []rl.Action{
//	        {ID: "add-test"},
//	        {ID: "refactor"},
//	        {ID: "run-suite"},
//	    }
//	    execute := func(ctx context.Context, action rl.Action, taskContext map[string]interface{}) (*rl.ExecutionResult, error) {
//	        // Run the action against the real task and report what happened.
//	        return &rl.ExecutionResult{Success: true, Done: true, NextContext: taskContext}, nil
//	    }
//
//	    taskContext := map[string]interface{}{"complexity": 5, "coverage": 0.4}
//	    summary, err := l.ExecuteLearningEpisode(context.Background(), taskContext, actionSpace, execute, 10)
//	    if err != nil {
//	        panic(err)
//	    }
//	    _ = summary
//	}
//
// For configuration-driven setups, pkg/config loads and validates a YAML
// file covering the operating mode, store bounds, and per-agent-type
// hyperparameters.
package qlearn
