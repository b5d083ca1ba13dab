package httpmiddleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowExhaustsBucket(t *testing.T) {
	l := NewRateLimiter(3)
	now := time.Now()

	assert.True(t, l.allow("1.2.3.4", now))
	assert.True(t, l.allow("1.2.3.4", now))
	assert.True(t, l.allow("1.2.3.4", now))
	assert.False(t, l.allow("1.2.3.4", now))
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewRateLimiter(2)
	now := time.Now()

	assert.True(t, l.allow("1.2.3.4", now))
	assert.True(t, l.allow("1.2.3.4", now))
	assert.False(t, l.allow("1.2.3.4", now))
	assert.True(t, l.allow("1.2.3.4", now.Add(time.Minute)))
}

func TestAllowIsolatesClients(t *testing.T) {
	l := NewRateLimiter(1)
	now := time.Now()

	assert.True(t, l.allow("1.2.3.4", now))
	assert.False(t, l.allow("1.2.3.4", now))
	assert.True(t, l.allow("5.6.7.8", now))
}
