package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicNow(t *testing.T) {
	var c Clock = Monotonic{}
	before := time.Now()
	now := c.Now()
	after := time.Now()
	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
}

func TestMockDefaultsWhenZero(t *testing.T) {
	m := NewMock(time.Time{})
	assert.Equal(t, time.Unix(1_700_000_000, 0), m.Now())
}

func TestMockAdvance(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewMock(start)
	m.Advance(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), m.Now())
}

func TestMockAdvanceNegativePanics(t *testing.T) {
	m := NewMock(time.Time{})
	assert.Panics(t, func() { m.Advance(-time.Second) })
}

func TestMockSet(t *testing.T) {
	m := NewMock(time.Time{})
	target := time.Unix(42, 0)
	m.Set(target)
	assert.Equal(t, target, m.Now())
}
