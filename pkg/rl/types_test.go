package rl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceFromVisits(t *testing.T) {
	assert.Equal(t, 0.0, ConfidenceFromVisits(0))
	assert.Equal(t, 0.0, ConfidenceFromVisits(-3))

	// Monotone in visits, bounded to [0, 1)
	prev := 0.0
	for visits := int64(1); visits <= 1000; visits *= 2 {
		c := ConfidenceFromVisits(visits)
		assert.Greater(t, c, prev)
		assert.Less(t, c, 1.0)
		prev = c
	}
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeFull, ParseMode("full"))
	assert.Equal(t, ModeEphemeral, ParseMode("ephemeral"))
	assert.Equal(t, ModeDisabled, ParseMode("disabled"))
	assert.Equal(t, ModeDisabled, ParseMode("anything else"))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "full", ModeFull.String())
	assert.Equal(t, "ephemeral", ModeEphemeral.String())
	assert.Equal(t, "disabled", ModeDisabled.String())
}
