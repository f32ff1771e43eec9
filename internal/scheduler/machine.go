package scheduler

import "time"

// State of the debounce machine
type State int

const (
	Idle State = iota
	PendingDebounce
	PendingForce
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingDebounce:
		return "pending-debounce"
	case PendingForce:
		return "pending-force"
	default:
		return "unknown"
	}
}

// machine is the debounce-with-max-wait transition table. It holds no timers;
// the caller feeds it the current time and arms a timer for Deadline.
//
//	Idle            --dirty-->              PendingDebounce(now+debounce)
//	PendingDebounce --dirty, cap not hit--> PendingDebounce(now+debounce)
//	PendingDebounce --dirty, cap hit-->     PendingForce(firstDirty+throttle)
//	PendingForce    --dirty-->              PendingForce (deadline fixed)
//	any pending     --dirty, now-firstDirty >= throttle--> flush now, Idle
//	any pending     --deadline reached-->   flush, Idle
type machine struct {
	debounce time.Duration
	throttle time.Duration

	state        State
	deadline     time.Time
	firstDirtyAt time.Time
}

func newMachine(debounce, throttle time.Duration) *machine {
	return &machine{debounce: debounce, throttle: throttle}
}

// markDirty records a mutation at now and reports whether the caller must
// flush immediately. On true the machine is already back in Idle.
func (m *machine) markDirty(now time.Time) bool {
	if m.state == Idle {
		m.firstDirtyAt = now
		m.arm(now)
		return false
	}

	if now.Sub(m.firstDirtyAt) >= m.throttle {
		m.reset()
		return true
	}
	m.arm(now)
	return false
}

// arm refreshes the debounce deadline without letting it pass the max-wait cap.
func (m *machine) arm(now time.Time) {
	if m.state == PendingForce {
		return
	}
	limit := m.firstDirtyAt.Add(m.throttle)
	next := now.Add(m.debounce)
	if !next.Before(limit) {
		m.state = PendingForce
		m.deadline = limit
		return
	}
	m.state = PendingDebounce
	m.deadline = next
}

// due reports whether a pending flush should fire at now
func (m *machine) due(now time.Time) bool {
	return m.state != Idle && !now.Before(m.deadline)
}

func (m *machine) reset() {
	m.state = Idle
	m.deadline = time.Time{}
	m.firstDirtyAt = time.Time{}
}
