package sweep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup_WindowAndExpiry(t *testing.T) {
	d := NewDedup(20 * time.Millisecond)

	assert.False(t, d.IsDuplicate("1:stop_loss"))
	assert.True(t, d.IsDuplicate("1:stop_loss"))
	assert.False(t, d.IsDuplicate("1:take_profit"), "different events are independent")

	time.Sleep(30 * time.Millisecond)
	assert.False(t, d.IsDuplicate("1:stop_loss"), "expired entries are forgotten")
}

func TestDedup_ForgetAllowsImmediateRetry(t *testing.T) {
	d := NewDedup(time.Minute)

	assert.False(t, d.IsDuplicate("2:stop_loss"))
	d.Forget("2:stop_loss")
	assert.False(t, d.IsDuplicate("2:stop_loss"))
}

func TestDedup_Cleanup(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	d.IsDuplicate("a")
	d.IsDuplicate("b")

	time.Sleep(15 * time.Millisecond)
	d.Cleanup()

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.seen)
}
