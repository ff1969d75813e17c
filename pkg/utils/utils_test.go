package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRound2(t *testing.T) {
	assert.Equal(t, 0.83, Round2(5.0/6.0))
	assert.Equal(t, 0.17, Round2(1.0/6.0))
	assert.Equal(t, 0.5, Round2(0.5))
	assert.Equal(t, 1.0, Round2(1.0))
	assert.Equal(t, 0.0, Round2(0.004))
}

func TestDedup(t *testing.T) {
	in := []string{"http://a/", "http://a", "http://b"}
	assert.Equal(t, []string{"http://a", "http://b"}, Dedup(in))
}

func TestEnvBool(t *testing.T) {
	t.Setenv("X_BOOL", "true")
	assert.True(t, EnvBool("X_BOOL", false))

	t.Setenv("X_BOOL", "0")
	assert.False(t, EnvBool("X_BOOL", true))

	assert.True(t, EnvBool("X_BOOL_MISSING", true))
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	assert.Equal(t, 90*time.Second, EnvDuration("X_DUR", time.Minute))

	t.Setenv("X_DUR", "garbage")
	assert.Equal(t, time.Minute, EnvDuration("X_DUR", time.Minute))
}
