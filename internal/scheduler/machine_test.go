package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestMachine_IdleToPendingDebounce(t *testing.T) {
	m := newMachine(ms(100), ms(500))

	assert.False(t, m.markDirty(t0))
	assert.Equal(t, PendingDebounce, m.state)
	assert.Equal(t, t0.Add(ms(100)), m.deadline)
	assert.Equal(t, t0, m.firstDirtyAt)
}

func TestMachine_RefreshesDebounceDeadline(t *testing.T) {
	m := newMachine(ms(100), ms(500))
	m.markDirty(t0)

	assert.False(t, m.markDirty(t0.Add(ms(50))))
	assert.Equal(t, t0.Add(ms(150)), m.deadline)
	assert.Equal(t, t0, m.firstDirtyAt, "first dirty time is sticky")
}

func TestMachine_SwitchesToForceAtCap(t *testing.T) {
	m := newMachine(ms(100), ms(300))
	m.markDirty(t0)
	m.markDirty(t0.Add(ms(150)))
	require.Equal(t, PendingDebounce, m.state)

	m.markDirty(t0.Add(ms(250)))
	assert.Equal(t, PendingForce, m.state)
	assert.Equal(t, t0.Add(ms(300)), m.deadline)

	m.markDirty(t0.Add(ms(280)))
	assert.Equal(t, t0.Add(ms(300)), m.deadline, "force deadline is not extended")
}

func TestMachine_ForcesImmediateFlushPastThrottle(t *testing.T) {
	m := newMachine(ms(100), ms(300))
	m.markDirty(t0)

	assert.True(t, m.markDirty(t0.Add(ms(300))))
	assert.Equal(t, Idle, m.state)
}

func TestMachine_Due(t *testing.T) {
	m := newMachine(ms(100), ms(300))
	assert.False(t, m.due(t0), "idle is never due")

	m.markDirty(t0)
	assert.False(t, m.due(t0.Add(ms(99))))
	assert.True(t, m.due(t0.Add(ms(100))))
}

// N mutations closer together than the debounce window produce one flush.
func TestMachine_Coalescing(t *testing.T) {
	debounce := ms(100)
	m := newMachine(debounce, time.Hour)

	flushes := 0
	now := t0
	for i := 0; i < 20; i++ {
		if m.markDirty(now) {
			flushes++
		}
		next := now.Add(ms(60))
		// nothing is due between mutations
		assert.False(t, m.due(next.Add(-time.Millisecond)))
		now = next
	}
	assert.Equal(t, 0, flushes)

	last := now.Add(-ms(60))
	assert.False(t, m.due(last.Add(debounce-time.Millisecond)))
	assert.True(t, m.due(last.Add(debounce)))
}

// Continuous mutation never pushes the write past first+throttle.
func TestMachine_BoundedStaleness(t *testing.T) {
	debounce, throttle := ms(100), ms(450)
	m := newMachine(debounce, throttle)

	var flushedAt time.Time
	for now := t0; now.Before(t0.Add(2 * time.Second)); now = now.Add(ms(10)) {
		if m.due(now) {
			m.reset()
			flushedAt = now
			break
		}
		if now.Sub(t0)%ms(40) == 0 {
			if m.markDirty(now) {
				flushedAt = now
				break
			}
		}
	}

	require.False(t, flushedAt.IsZero(), "a flush must happen")
	assert.LessOrEqual(t, flushedAt.Sub(t0), throttle)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending-debounce", PendingDebounce.String())
	assert.Equal(t, "pending-force", PendingForce.String())
}
