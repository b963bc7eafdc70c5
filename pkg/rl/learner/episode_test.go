package learner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/qlearn-go/internal/testutil"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/store"
)

func testActionSpace() []rl.Action {
	return []rl.Action{
		{ID: "add-test", Hash: "h-add"},
		{ID: "refactor", Hash: "h-refactor"},
		{ID: "run-suite", Hash: "h-run"},
	}
}

func testTaskContext() map[string]interface{} {
	return map[string]interface{}{"complexity": 5, "coverage": 0.5}
}

func TestExecuteLearningEpisode(t *testing.T) {
	st := store.NewMemoryStore()
	l, err := New(testAgent(), st, WithSeed(7))
	require.NoError(t, err)

	exec := testutil.NewScriptedExecutor(
		testutil.ScriptedStep{Success: true, NextContext: map[string]interface{}{"complexity": 5, "coverage": 0.8}},
		testutil.ScriptedStep{Success: true, Done: true, Metrics: rl.ExecutionMetrics{Quality: 0.9}},
	)

	summary, err := l.ExecuteLearningEpisode(context.Background(), testTaskContext(), testActionSpace(), exec.Execute, 10)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 2, summary.Steps)
	assert.True(t, summary.Done)
	assert.Equal(t, 1.0, summary.SuccessRate)
	assert.NotEmpty(t, summary.EpisodeID)
	assert.Equal(t, 2, exec.Calls())

	// The trajectory, Q-values, and instance state all reach the store
	stored := st.Trajectories()
	require.Len(t, stored, 1)
	assert.Equal(t, summary.EpisodeID, stored[0].ID)
	assert.Len(t, stored[0].Steps, 2)
	assert.True(t, stored[0].Success)

	stats, err := st.GetStats(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.QValueRows)

	learning, err := st.GetLearningState(context.Background(), "test-maintainer", l.instanceID)
	require.NoError(t, err)
	require.NotNil(t, learning)
	assert.Equal(t, int64(1), learning.TasksTotal)
	assert.Equal(t, int64(1), learning.TasksSucceeded)

	// Per-episode decay ran exactly once
	assert.InDelta(t, 0.3*0.995, l.Epsilon(), 1e-12)
}

func TestEpisodeBoundedByMaxSteps(t *testing.T) {
	l, err := New(testAgent(), store.NewMemoryStore(), WithSeed(7))
	require.NoError(t, err)

	// Never signals done
	exec := testutil.NewScriptedExecutor(testutil.ScriptedStep{Success: true})

	summary, err := l.ExecuteLearningEpisode(context.Background(), testTaskContext(), testActionSpace(), exec.Execute, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Steps)
	assert.False(t, summary.Done)
	assert.Equal(t, 5, exec.Calls())
}

func TestEpisodeDisabledMode(t *testing.T) {
	l, err := New(testAgent(), nil, WithMode(rl.ModeDisabled))
	require.NoError(t, err)

	exec := testutil.NewScriptedExecutor()
	summary, err := l.ExecuteLearningEpisode(context.Background(), testTaskContext(), testActionSpace(), exec.Execute, 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Steps)
	assert.Zero(t, exec.Calls())
}

func TestEpisodeEphemeralBuffersTrajectories(t *testing.T) {
	l, err := New(testAgent(), nil, WithSeed(7))
	require.NoError(t, err)

	exec := testutil.NewScriptedExecutor(testutil.ScriptedStep{Success: true, Done: true})
	summary, err := l.ExecuteLearningEpisode(context.Background(), testTaskContext(), testActionSpace(), exec.Execute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Steps)

	buffered := l.Trajectories()
	require.Len(t, buffered, 1)
	assert.Equal(t, summary.EpisodeID, buffered[0].ID)
}

func TestEpisodeSurvivesStoreOutage(t *testing.T) {
	flaky := testutil.NewFlakyStore(store.NewMemoryStore())
	l, err := New(testAgent(), flaky, WithSeed(7))
	require.NoError(t, err)

	exec := testutil.NewScriptedExecutor(testutil.ScriptedStep{Success: true, Done: true})

	_, err = l.ExecuteLearningEpisode(context.Background(), testTaskContext(), testActionSpace(), exec.Execute, 10)
	require.NoError(t, err)

	// Store goes down mid-run; learning continues in memory
	flaky.Trip()

	summary, err := l.ExecuteLearningEpisode(context.Background(), testTaskContext(), testActionSpace(), exec.Execute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Steps)
	assert.True(t, summary.Done)

	stats := l.GetStatistics()
	assert.Equal(t, int64(2), stats.Episodes)
}

func TestEpisodeExecutorErrorsAreZeroRewardSteps(t *testing.T) {
	l, err := New(testAgent(), store.NewMemoryStore(), WithSeed(7))
	require.NoError(t, err)

	exec := testutil.NewScriptedExecutor(
		testutil.ScriptedStep{Err: assert.AnError},
		testutil.ScriptedStep{Success: true, Done: true},
	)

	summary, err := l.ExecuteLearningEpisode(context.Background(), testTaskContext(), testActionSpace(), exec.Execute, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Steps)
	assert.True(t, summary.Done)
	assert.InDelta(t, 0.5, summary.SuccessRate, 1e-12)
}

func TestEpisodeCancellation(t *testing.T) {
	l, err := New(testAgent(), store.NewMemoryStore(), WithSeed(7))
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	exec := testutil.NewScriptedExecutor()
	summary, err := l.ExecuteLearningEpisode(canceled, testTaskContext(), testActionSpace(), exec.Execute, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Steps)
	assert.Zero(t, exec.Calls())
}

func TestRunEpisodesConcurrently(t *testing.T) {
	st := store.NewMemoryStore()
	l, err := New(testAgent(), st, WithSeed(7))
	require.NoError(t, err)

	exec := testutil.NewScriptedExecutor(testutil.ScriptedStep{Success: true, Done: true})

	contexts := []map[string]interface{}{
		{"complexity": 2},
		{"complexity": 5},
		{"complexity": 7},
		{"complexity": 9},
	}

	summaries := l.RunEpisodes(context.Background(), contexts, testActionSpace(), exec.Execute, 10, 2)
	require.Len(t, summaries, 4)
	for _, summary := range summaries {
		require.NotNil(t, summary)
		assert.True(t, summary.Done)
	}

	assert.Equal(t, int64(4), l.GetStatistics().Episodes)
	assert.Len(t, st.Trajectories(), 4)
}
