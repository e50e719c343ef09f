package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowObserve(t *testing.T) {
	now := time.Now()
	w := newWindow(3, time.Minute)

	assert.False(t, w.observe(1, now))
	assert.True(t, w.observe(1, now))
	assert.False(t, w.observe(2, now))
	assert.False(t, w.observe(3, now))
}

func TestWindowEvictsOldestWhenFull(t *testing.T) {
	now := time.Now()
	w := newWindow(2, time.Minute)

	w.observe(1, now)
	w.observe(2, now)
	w.observe(3, now) // pushes 1 out

	assert.False(t, w.observe(1, now), "evicted id is no longer a duplicate")
	assert.True(t, w.observe(3, now))
}

func TestWindowExpiresByAge(t *testing.T) {
	now := time.Now()
	w := newWindow(100, time.Minute)

	w.observe(1, now)
	w.observe(2, now.Add(30*time.Second))

	later := now.Add(61 * time.Second)
	assert.False(t, w.observe(1, later), "entry past TTL has been forgotten")
	assert.True(t, w.observe(2, later), "younger entry is still held")
}
