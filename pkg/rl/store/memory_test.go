package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

func TestMemoryUpsertSemantics(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	firstID, err := m.UpsertQValue(ctx, testUpdate(3))
	require.NoError(t, err)
	secondID, err := m.UpsertQValue(ctx, testUpdate(4))
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	rows, err := m.GetQValues(ctx, "test-maintainer", "state-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4.0, rows[0].Value)
	assert.Equal(t, int64(2), rows[0].VisitCount)
	assert.Equal(t, rl.ConfidenceFromVisits(2), rows[0].Confidence)
}

func TestMemoryOrderingMatchesSQLite(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	for _, u := range []struct {
		hash  string
		value float64
	}{
		{"action-c", 2},
		{"action-b", 7},
		{"action-a", 7},
	} {
		update := testUpdate(u.value)
		update.ActionHash = u.hash
		_, err := m.UpsertQValue(ctx, update)
		require.NoError(t, err)
	}

	rows, err := m.GetQValues(ctx, "test-maintainer", "state-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Value desc, then action hash asc on equal value and confidence
	assert.Equal(t, "action-a", rows[0].ActionHash)
	assert.Equal(t, "action-b", rows[1].ActionHash)
	assert.Equal(t, "action-c", rows[2].ActionHash)

	best, err := m.GetBestAction(ctx, "test-maintainer", "state-1")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "action-a", best.ActionHash)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	update := testUpdate(1)
	update.TTL = 10 * time.Millisecond
	_, err := m.UpsertQValue(ctx, update)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	rows, err := m.GetQValues(ctx, "test-maintainer", "state-1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	removed, err := m.CleanupExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.QValueRows)
}

func TestMemoryTrajectorySnapshot(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	traj := &rl.Trajectory{ID: "traj-1", AgentType: "test-maintainer", TotalReward: 12}
	require.NoError(t, m.StoreTrajectory(ctx, traj))

	// Mutating the caller's copy after storage must not leak in
	traj.TotalReward = 99

	stored := m.Trajectories()
	require.Len(t, stored, 1)
	assert.Equal(t, 12.0, stored[0].TotalReward)
}

func TestMemoryLearningState(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	missing, err := m.GetLearningState(ctx, "test-maintainer", "instance-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	state := &rl.LearningState{AgentType: "test-maintainer", InstanceID: "instance-1", Epsilon: 0.3}
	require.NoError(t, m.SaveLearningState(ctx, state))

	state.Epsilon = 0.25
	require.NoError(t, m.SaveLearningState(ctx, state))

	loaded, err := m.GetLearningState(ctx, "test-maintainer", "instance-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 0.25, loaded.Epsilon)
}
