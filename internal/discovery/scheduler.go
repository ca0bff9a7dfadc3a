package discovery

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// State is the discovery session state.
type State int

const (
	StateIdle State = iota
	StateBroadcasting
	StateCoolingDown
	StateFound
	StateExhausted
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBroadcasting:
		return "broadcasting"
	case StateCoolingDown:
		return "cooling_down"
	case StateFound:
		return "found"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Searching reports whether a session in this state is still probing.
func (s State) Searching() bool {
	return s == StateBroadcasting || s == StateCoolingDown
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return s == StateFound || s == StateExhausted
}

// Params are the timing parameters of the broadcast schedule.
type Params struct {
	RetriesPerCycle int           // Probe attempts per cycle
	JitterMin       time.Duration // Inclusive lower bound of the inter-attempt delay
	JitterMax       time.Duration // Exclusive upper bound of the inter-attempt delay
	Cooldown        time.Duration // Pause between cycles
	MaxCycles       int           // Cycles before giving up
}

// DefaultParams returns the fixed production schedule: 10 cycles of 6
// attempts 2-5s apart, with 30s between cycles.
func DefaultParams() Params {
	return Params{
		RetriesPerCycle: 6,
		JitterMin:       2 * time.Second,
		JitterMax:       5 * time.Second,
		Cooldown:        30 * time.Second,
		MaxCycles:       10,
	}
}

// TotalAttempts is the number of attempts a session makes before exhausting.
func (p Params) TotalAttempts() int {
	return p.RetriesPerCycle * p.MaxCycles
}

// Validate checks that the parameters describe a finite schedule.
func (p Params) Validate() error {
	switch {
	case p.RetriesPerCycle < 1:
		return errors.New("retries per cycle must be at least 1")
	case p.MaxCycles < 1:
		return errors.New("max cycles must be at least 1")
	case p.JitterMin < 0 || p.JitterMax < p.JitterMin:
		return fmt.Errorf("invalid jitter range [%s, %s)", p.JitterMin, p.JitterMax)
	case p.Cooldown < 0:
		return errors.New("cooldown must not be negative")
	}
	return nil
}

// Step tells the session what to do after a scheduler event.
type Step struct {
	Probe bool          // Send a probe for this attempt
	Delay time.Duration // Wait before the next event
	State State         // State after the event
}

// Scheduler is the broadcast retry state machine. It holds no timers and
// performs no I/O; the session actor arms timers from the returned Steps.
// It is not safe for concurrent use.
type Scheduler struct {
	params Params
	jitter func() time.Duration

	state State
	cycle int
	retry int
}

// NewScheduler creates an idle scheduler. Jitter is sampled uniformly from
// [JitterMin, JitterMax).
func NewScheduler(p Params) *Scheduler {
	s := &Scheduler{params: p}
	s.jitter = func() time.Duration {
		span := p.JitterMax - p.JitterMin
		if span <= 0 {
			return p.JitterMin
		}
		return p.JitterMin + rand.N(span)
	}
	return s
}

// State returns the current state
func (s *Scheduler) State() State { return s.state }

// Cycle returns the number of completed cycles
func (s *Scheduler) Cycle() int { return s.cycle }

// Retry returns the number of attempts made in the current cycle
func (s *Scheduler) Retry() int { return s.retry }

// Start moves an idle scheduler to Broadcasting with zeroed counters.
// The first attempt is due immediately.
func (s *Scheduler) Start() bool {
	if s.state != StateIdle {
		return false
	}
	s.state = StateBroadcasting
	s.cycle = 0
	s.retry = 0
	return true
}

// Attempt records one broadcast attempt. targetAvailable says whether the
// interface scanner produced a target; counters advance either way so that
// a session without network still exhausts on schedule.
func (s *Scheduler) Attempt(targetAvailable bool) (Step, bool) {
	if s.state != StateBroadcasting {
		return Step{State: s.state}, false
	}

	s.retry++
	step := Step{Probe: targetAvailable}

	if s.retry >= s.params.RetriesPerCycle {
		s.retry = 0
		s.cycle++
		s.state = StateCoolingDown
		step.Delay = s.params.Cooldown
	} else {
		step.Delay = s.jitter()
	}

	step.State = s.state
	return step, true
}

// CooldownElapsed ends a cooldown, either exhausting the session or starting
// the next cycle.
func (s *Scheduler) CooldownElapsed() (State, bool) {
	if s.state != StateCoolingDown {
		return s.state, false
	}
	if s.cycle >= s.params.MaxCycles {
		s.state = StateExhausted
	} else {
		s.state = StateBroadcasting
	}
	return s.state, true
}

// MarkFound moves a searching session to Found.
func (s *Scheduler) MarkFound() bool {
	if !s.state.Searching() {
		return false
	}
	s.state = StateFound
	return true
}

// Stop returns the scheduler to Idle from any state.
func (s *Scheduler) Stop() {
	s.state = StateIdle
}
