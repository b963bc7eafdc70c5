package learner

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/encoder"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/store"
)

func testAgent() rl.AgentType {
	return rl.AgentType{
		ID:                 "test-maintainer",
		LearningRate:       0.1,
		DiscountFactor:     0.95,
		ExplorationRate:    0.3,
		ExplorationDecay:   0.995,
		MinExplorationRate: 0.05,
	}
}

func TestNewRejectsInvalidHyperparameters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*rl.AgentType)
	}{
		{"missing id", func(a *rl.AgentType) { a.ID = "" }},
		{"zero learning rate", func(a *rl.AgentType) { a.LearningRate = 0 }},
		{"learning rate above one", func(a *rl.AgentType) { a.LearningRate = 1.5 }},
		{"zero discount factor", func(a *rl.AgentType) { a.DiscountFactor = 0 }},
		{"negative exploration rate", func(a *rl.AgentType) { a.ExplorationRate = -0.1 }},
		{"exploration rate above one", func(a *rl.AgentType) { a.ExplorationRate = 1.1 }},
		{"zero exploration decay", func(a *rl.AgentType) { a.ExplorationDecay = 0 }},
		{"floor above exploration rate", func(a *rl.AgentType) { a.MinExplorationRate = 0.9 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agent := testAgent()
			tc.mutate(&agent)
			_, err := New(agent, store.NewMemoryStore())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ConfigurationInvalid))
		})
	}
}

func TestNewFullModeRequiresStore(t *testing.T) {
	_, err := New(testAgent(), nil, WithMode(rl.ModeFull))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ConfigurationInvalid))

	// Without an explicit mode, a nil store means ephemeral, which is fine
	l, err := New(testAgent(), nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestUpdateQValueTerminal(t *testing.T) {
	l, err := New(testAgent(), store.NewMemoryStore(), WithSeed(1))
	require.NoError(t, err)

	state := &rl.State{Features: map[string]string{"coverage": "low"}, Hash: "state-a"}
	action := rl.Action{ID: "add-test", Hash: "act-1"}

	// Q = 0, alpha = 0.1, r = 10, terminal: 0 + 0.1*(10-0) = 1.0
	newValue, err := l.UpdateQValue(context.Background(), state, action, 10, nil, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, newValue, 1e-12)

	// Second visit: 1.0 + 0.1*(10-1.0) = 1.9
	newValue, err = l.UpdateQValue(context.Background(), state, action, 10, nil, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.9, newValue, 1e-12)
}

func TestUpdateQValueBootstrapsFromNextState(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	// The best known action from the next state is worth 5.
	_, err := st.UpsertQValue(ctx, store.QValueUpdate{
		AgentType:  "test-maintainer",
		StateHash:  "state-b",
		ActionHash: "act-next",
		Value:      5,
	})
	require.NoError(t, err)

	l, err := New(testAgent(), st, WithSeed(1))
	require.NoError(t, err)

	state := &rl.State{Features: map[string]string{}, Hash: "state-a"}
	next := &rl.State{Features: map[string]string{}, Hash: "state-b"}
	action := rl.Action{ID: "add-test", Hash: "act-1"}

	// 0 + 0.1*(10 + 0.95*5 - 0) = 1.475
	newValue, err := l.UpdateQValue(ctx, state, action, 10, next, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.475, newValue, 1e-12)
}

func TestUpdateQValueRejectsNilState(t *testing.T) {
	l, err := New(testAgent(), store.NewMemoryStore())
	require.NoError(t, err)

	_, err = l.UpdateQValue(context.Background(), nil, rl.Action{ID: "a", Hash: "h"}, 1, nil, true)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidInput))
}

func TestUpdateQValueRejectsDivergence(t *testing.T) {
	l, err := New(testAgent(), store.NewMemoryStore())
	require.NoError(t, err)

	ctx := context.Background()
	state := &rl.State{Features: map[string]string{}, Hash: "state-a"}
	action := rl.Action{ID: "add-test", Hash: "act-1"}

	prev, err := l.UpdateQValue(ctx, state, action, 10, nil, true)
	require.NoError(t, err)

	got, err := l.UpdateQValue(ctx, state, action, math.Inf(1), nil, true)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.DivergenceDetected))
	// The previous value survives the rejected update
	assert.Equal(t, prev, got)

	again, err := l.UpdateQValue(ctx, state, action, 10, nil, true)
	require.NoError(t, err)
	assert.InDelta(t, prev+0.1*(10-prev), again, 1e-12)
}

func TestUpdateQValueNoOpOutsideFullMode(t *testing.T) {
	l, err := New(testAgent(), nil) // ephemeral
	require.NoError(t, err)

	state := &rl.State{Features: map[string]string{}, Hash: "state-a"}
	action := rl.Action{ID: "add-test", Hash: "act-1"}

	v, err := l.UpdateQValue(context.Background(), state, action, 10, nil, true)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Zero(t, l.GetStatistics().TableSize)
}

func TestSelectActionEmptySpace(t *testing.T) {
	l, err := New(testAgent(), nil)
	require.NoError(t, err)

	_, err = l.SelectAction(context.Background(), map[string]interface{}{}, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidInput))
}

func TestSelectActionUniformWhenAlwaysExploring(t *testing.T) {
	agent := testAgent()
	agent.ExplorationRate = 1.0

	l, err := New(agent, nil, WithSeed(42))
	require.NoError(t, err)

	actionSpace := []rl.Action{
		{ID: "a", Hash: "h-a"},
		{ID: "b", Hash: "h-b"},
		{ID: "c", Hash: "h-c"},
		{ID: "d", Hash: "h-d"},
	}

	const trials = 10000
	counts := make(map[string]int, len(actionSpace))
	taskContext := map[string]interface{}{"complexity": 5}
	for i := 0; i < trials; i++ {
		action, err := l.SelectAction(context.Background(), taskContext, actionSpace)
		require.NoError(t, err)
		counts[action.ID]++
	}

	// Pearson chi-square against uniform; 16.27 is the critical value at
	// p=0.001 with 3 degrees of freedom.
	expected := float64(trials) / float64(len(actionSpace))
	chi2 := 0.0
	for _, action := range actionSpace {
		diff := float64(counts[action.ID]) - expected
		chi2 += diff * diff / expected
	}
	assert.Less(t, chi2, 16.27, "selection counts %v are not uniform", counts)
}

func TestSelectActionExploitsGreedily(t *testing.T) {
	agent := testAgent()
	agent.ExplorationRate = 0

	st := store.NewMemoryStore()
	ctx := context.Background()
	taskContext := map[string]interface{}{"complexity": 5}

	encoded, err := encoder.New().Encode(agent.ID, taskContext)
	require.NoError(t, err)

	for _, row := range []struct {
		hash  string
		value float64
	}{
		{"h-a", 1},
		{"h-b", 5},
		{"h-c", 5},
	} {
		_, err := st.UpsertQValue(ctx, store.QValueUpdate{
			AgentType:  agent.ID,
			StateHash:  encoded.Hash,
			ActionHash: row.hash,
			Value:      row.value,
		})
		require.NoError(t, err)
	}

	l, err := New(agent, st, WithSeed(1))
	require.NoError(t, err)

	actionSpace := []rl.Action{
		{ID: "a", Hash: "h-a"},
		{ID: "b", Hash: "h-b"},
		{ID: "c", Hash: "h-c"},
	}

	// b and c tie at the maximum; the earlier one in the space wins
	action, err := l.SelectAction(ctx, taskContext, actionSpace)
	require.NoError(t, err)
	assert.Equal(t, "b", action.ID)

	reordered := []rl.Action{actionSpace[2], actionSpace[1], actionSpace[0]}
	action, err = l.SelectAction(ctx, taskContext, reordered)
	require.NoError(t, err)
	assert.Equal(t, "c", action.ID)
}

func TestSelectActionFallsBackOnEncodingFailure(t *testing.T) {
	l, err := New(testAgent(), nil, WithSeed(1))
	require.NoError(t, err)

	actionSpace := []rl.Action{{ID: "only", Hash: "h"}}
	action, err := l.SelectAction(context.Background(), map[string]interface{}{"bad": make(chan int)}, actionSpace)
	require.NoError(t, err)
	assert.Equal(t, "only", action.ID)
}

func TestDecayEpsilonFloor(t *testing.T) {
	agent := testAgent()
	agent.ExplorationDecay = 0.5

	l, err := New(agent, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.15, l.DecayEpsilon(), 1e-12)
	assert.InDelta(t, 0.075, l.DecayEpsilon(), 1e-12)
	assert.InDelta(t, 0.05, l.DecayEpsilon(), 1e-12)
	// Pinned at the floor from here on
	assert.InDelta(t, 0.05, l.DecayEpsilon(), 1e-12)
}

func TestNextEpsilonRewardScaled(t *testing.T) {
	// A maximal recent reward adds a 10% decay bonus
	assert.InDelta(t, 0.3*0.9, nextEpsilon(0.3, 1.0, 0, 100, DecayRewardScaled), 1e-12)
	// No reward means no bonus
	assert.InDelta(t, 0.3, nextEpsilon(0.3, 1.0, 0, 0, DecayRewardScaled), 1e-12)
	// Never below the floor
	assert.Equal(t, 0.05, nextEpsilon(0.06, 0.5, 0.05, 0, DecayPerEpisode))
	// Never above the current value
	assert.LessOrEqual(t, nextEpsilon(0.3, 1.0, 0, -50, DecayRewardScaled), 0.3)
}

func TestParseDecayCadence(t *testing.T) {
	assert.Equal(t, DecayPerStep, ParseDecayCadence("step"))
	assert.Equal(t, DecayRewardScaled, ParseDecayCadence("reward"))
	assert.Equal(t, DecayPerEpisode, ParseDecayCadence("episode"))
	assert.Equal(t, DecayPerEpisode, ParseDecayCadence("bogus"))
}

func TestFlushCadence(t *testing.T) {
	st := store.NewMemoryStore()
	l, err := New(testAgent(), st, WithUpdateFrequency(2))
	require.NoError(t, err)

	ctx := context.Background()
	stateA := &rl.State{Features: map[string]string{}, Hash: "state-a"}
	stateB := &rl.State{Features: map[string]string{}, Hash: "state-b"}
	action := rl.Action{ID: "add-test", Hash: "act-1"}

	_, err = l.UpdateQValue(ctx, stateA, action, 1, nil, true)
	require.NoError(t, err)

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.QValueRows, "first update must stay cached")

	_, err = l.UpdateQValue(ctx, stateB, action, 1, nil, true)
	require.NoError(t, err)

	stats, err = st.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.QValueRows, "second update must flush both entries")
}

func TestEvictionPersistsDirtyEntries(t *testing.T) {
	st := store.NewMemoryStore()
	l, err := New(testAgent(), st, WithMaxCachedPairs(1), WithUpdateFrequency(100))
	require.NoError(t, err)

	ctx := context.Background()
	action := rl.Action{ID: "add-test", Hash: "act-1"}

	_, err = l.UpdateQValue(ctx, &rl.State{Features: map[string]string{}, Hash: "state-a"}, action, 1, nil, true)
	require.NoError(t, err)
	_, err = l.UpdateQValue(ctx, &rl.State{Features: map[string]string{}, Hash: "state-b"}, action, 1, nil, true)
	require.NoError(t, err)

	// The flush threshold was never reached, but the evicted entry for
	// state-a must not be lost.
	rows, err := st.GetQValues(ctx, "test-maintainer", "state-a")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, l.GetStatistics().TableSize)
}
