package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

func TestEncodeDeterminism(t *testing.T) {
	enc := New()

	// Same logical context with numeric jitter inside the same buckets.
	a := map[string]interface{}{
		"complexity": 4.2,
		"size":       180,
		"coverage":   0.75,
		"language":   "Go",
	}
	b := map[string]interface{}{
		"language":   "  go ",
		"coverage":   0.89,
		"size":       420,
		"complexity": 5.9,
	}

	stateA, err := enc.Encode("test-maintainer", a)
	require.NoError(t, err)
	stateB, err := enc.Encode("test-maintainer", b)
	require.NoError(t, err)

	assert.Equal(t, stateA.Hash, stateB.Hash)
	assert.Equal(t, stateA.Features, stateB.Features)
	assert.Len(t, stateA.Hash, 64)
}

func TestEncodeBucketBoundaries(t *testing.T) {
	enc := New()

	cases := []struct {
		name       string
		complexity interface{}
		want       string
	}{
		{"low", 1, "low"},
		{"boundary low", 3, "low"},
		{"medium", 3.01, "medium"},
		{"high", 7, "high"},
		{"clamps above range", 9999, "very_high"},
		{"clamps below range", -5, "low"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state, err := enc.Encode("a", map[string]interface{}{"complexity": tc.complexity})
			require.NoError(t, err)
			assert.Equal(t, tc.want, state.Features["complexity"])
		})
	}
}

func TestEncodeMissingFieldsUseDefaults(t *testing.T) {
	enc := New()

	state, err := enc.Encode("a", map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, "medium", state.Features["complexity"])
	assert.Equal(t, "medium", state.Features["size"])
	assert.Equal(t, "low", state.Features["coverage"])
	assert.Equal(t, "rare", state.Features["error_rate"])

	// nil values behave the same as absent fields
	withNil, err := enc.Encode("a", map[string]interface{}{"coverage": nil})
	require.NoError(t, err)
	assert.Equal(t, state.Hash, withNil.Hash)
}

func TestEncodeDifferentBucketsDiffer(t *testing.T) {
	enc := New()

	low, err := enc.Encode("a", map[string]interface{}{"coverage": 0.2})
	require.NoError(t, err)
	full, err := enc.Encode("a", map[string]interface{}{"coverage": 0.99})
	require.NoError(t, err)

	assert.NotEqual(t, low.Hash, full.Hash)
}

func TestEncodeRejectsNonSerializable(t *testing.T) {
	enc := New()

	_, err := enc.Encode("a", map[string]interface{}{"bad": make(chan int)})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.EncodingFailed))
}

func TestAgentTypeStrategies(t *testing.T) {
	enc := New()
	enc.RegisterStrategy("repair", FailurePatternStrategy{})
	enc.RegisterStrategy("verifier", VerifierStrategy{})

	ctx := map[string]interface{}{
		"failure_pattern":       "timeout",
		"external_dependencies": []string{"postgres"},
	}

	repairState, err := enc.Encode("repair", ctx)
	require.NoError(t, err)
	assert.Equal(t, "timeout", repairState.Features["failure_pattern"])
	assert.Equal(t, "true", repairState.Features["has_external_dependencies"])

	// The same context through a different agent type yields different features.
	otherState, err := enc.Encode("other", ctx)
	require.NoError(t, err)
	assert.NotEqual(t, repairState.Hash, otherState.Hash)

	verifierState, err := enc.Encode("verifier", map[string]interface{}{"review_depth": "deep"})
	require.NoError(t, err)
	assert.Equal(t, "deep", verifierState.Features["review_depth"])
}

func TestFailurePatternStrategyUnknownPattern(t *testing.T) {
	features := FailurePatternStrategy{}.Features(map[string]interface{}{
		"failure_pattern": "cosmic rays",
	})
	assert.Equal(t, "other", features["failure_pattern"])

	features = FailurePatternStrategy{}.Features(map[string]interface{}{})
	assert.Equal(t, "none", features["failure_pattern"])
	assert.Equal(t, "false", features["has_external_dependencies"])
}

func TestHashAction(t *testing.T) {
	a := rl.Action{ID: "add-test", Params: map[string]interface{}{"target": "parser", "count": 3}}
	b := rl.Action{ID: "add-test", Params: map[string]interface{}{"count": 3, "target": "parser"}}

	require.NoError(t, HashAction(&a))
	require.NoError(t, HashAction(&b))
	assert.Equal(t, a.Hash, b.Hash)
	assert.Len(t, a.Hash, 64)

	c := rl.Action{ID: "remove-test"}
	require.NoError(t, HashAction(&c))
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestHashActionRejectsNonSerializable(t *testing.T) {
	a := rl.Action{ID: "bad", Params: map[string]interface{}{"fn": func() {}}}
	err := HashAction(&a)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.EncodingFailed))
}
