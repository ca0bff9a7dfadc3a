package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()

	assert.Equal(t, 6, p.RetriesPerCycle)
	assert.Equal(t, 2*time.Second, p.JitterMin)
	assert.Equal(t, 5*time.Second, p.JitterMax)
	assert.Equal(t, 30*time.Second, p.Cooldown)
	assert.Equal(t, 10, p.MaxCycles)
	assert.Equal(t, 60, p.TotalAttempts())
	assert.NoError(t, p.Validate())
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero retries", func(p *Params) { p.RetriesPerCycle = 0 }},
		{"zero cycles", func(p *Params) { p.MaxCycles = 0 }},
		{"inverted jitter", func(p *Params) { p.JitterMin, p.JitterMax = 5*time.Second, 2*time.Second }},
		{"negative jitter", func(p *Params) { p.JitterMin = -time.Second }},
		{"negative cooldown", func(p *Params) { p.Cooldown = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "broadcasting", StateBroadcasting.String())
	assert.Equal(t, "cooling_down", StateCoolingDown.String())
	assert.Equal(t, "found", StateFound.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "State(42)", State(42).String())
}

type probeKey struct{ cycle, retry int }

// runToExhaustion drives a scheduler through a whole session and records
// every probe and every delay it asked for.
func runToExhaustion(t *testing.T, s *Scheduler, targetAvailable bool) (probes []probeKey, jitters, cooldowns []time.Duration) {
	t.Helper()
	require.True(t, s.Start())

	for guard := 0; guard < 1000; guard++ {
		switch s.State() {
		case StateBroadcasting:
			cycle, retry := s.Cycle()+1, s.Retry()+1
			step, ok := s.Attempt(targetAvailable)
			require.True(t, ok)
			if step.Probe {
				probes = append(probes, probeKey{cycle, retry})
			}
			if step.State == StateCoolingDown {
				cooldowns = append(cooldowns, step.Delay)
			} else {
				jitters = append(jitters, step.Delay)
			}
		case StateCoolingDown:
			_, ok := s.CooldownElapsed()
			require.True(t, ok)
		case StateExhausted:
			return probes, jitters, cooldowns
		default:
			t.Fatalf("unexpected state %v", s.State())
		}
	}
	t.Fatal("scheduler did not exhaust")
	return nil, nil, nil
}

func TestScheduler_OneProbePerCycleAndRetry(t *testing.T) {
	s := NewScheduler(DefaultParams())
	probes, _, _ := runToExhaustion(t, s, true)

	require.Len(t, probes, 60)
	seen := make(map[probeKey]int)
	for _, p := range probes {
		seen[p]++
	}
	for c := 1; c <= 10; c++ {
		for r := 1; r <= 6; r++ {
			assert.Equal(t, 1, seen[probeKey{c, r}], "probes for cycle %d retry %d", c, r)
		}
	}
}

func TestScheduler_Delays(t *testing.T) {
	s := NewScheduler(DefaultParams())
	_, jitters, cooldowns := runToExhaustion(t, s, true)

	require.Len(t, jitters, 50)
	for _, d := range jitters {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 5*time.Second)
	}

	require.Len(t, cooldowns, 10)
	for _, d := range cooldowns {
		assert.Equal(t, 30*time.Second, d)
	}
}

func TestScheduler_JitterIsResampled(t *testing.T) {
	s := NewScheduler(DefaultParams())
	distinct := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		d := s.jitter()
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.Less(t, d, 5*time.Second)
		distinct[d] = true
	}
	assert.Greater(t, len(distinct), 1, "jitter should vary between attempts")
}

func TestScheduler_NoInterfaceStillExhausts(t *testing.T) {
	s := NewScheduler(DefaultParams())
	probes, jitters, cooldowns := runToExhaustion(t, s, false)

	assert.Empty(t, probes)
	assert.Len(t, jitters, 50)
	assert.Len(t, cooldowns, 10)
	assert.Equal(t, 10, s.Cycle())
	assert.Equal(t, StateExhausted, s.State())
}

func TestScheduler_Counters(t *testing.T) {
	s := NewScheduler(DefaultParams())
	require.True(t, s.Start())
	assert.Equal(t, StateBroadcasting, s.State())
	assert.Equal(t, 0, s.Cycle())
	assert.Equal(t, 0, s.Retry())

	for i := 1; i <= 5; i++ {
		step, ok := s.Attempt(true)
		require.True(t, ok)
		assert.Equal(t, StateBroadcasting, step.State)
		assert.Equal(t, i, s.Retry())
	}

	step, ok := s.Attempt(true)
	require.True(t, ok)
	assert.True(t, step.Probe)
	assert.Equal(t, StateCoolingDown, step.State)
	assert.Equal(t, 0, s.Retry())
	assert.Equal(t, 1, s.Cycle())

	// No attempts while cooling down
	_, ok = s.Attempt(true)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Retry())

	state, ok := s.CooldownElapsed()
	require.True(t, ok)
	assert.Equal(t, StateBroadcasting, state)
}

func TestScheduler_Found(t *testing.T) {
	s := NewScheduler(DefaultParams())
	assert.False(t, s.MarkFound(), "idle scheduler cannot be found")

	require.True(t, s.Start())
	_, _ = s.Attempt(true)
	require.True(t, s.MarkFound())
	assert.Equal(t, StateFound, s.State())

	_, ok := s.Attempt(true)
	assert.False(t, ok, "found is terminal")
	_, ok = s.CooldownElapsed()
	assert.False(t, ok)
	assert.False(t, s.MarkFound())
	assert.False(t, s.Start(), "terminal scheduler cannot restart in place")
}

func TestScheduler_FoundDuringCooldown(t *testing.T) {
	s := NewScheduler(DefaultParams())
	require.True(t, s.Start())
	for i := 0; i < 6; i++ {
		_, _ = s.Attempt(true)
	}
	require.Equal(t, StateCoolingDown, s.State())
	assert.True(t, s.MarkFound())
	assert.Equal(t, StateFound, s.State())
}

func TestScheduler_Stop(t *testing.T) {
	s := NewScheduler(DefaultParams())
	s.Stop()
	assert.Equal(t, StateIdle, s.State())

	require.True(t, s.Start())
	_, _ = s.Attempt(true)
	s.Stop()
	s.Stop()
	assert.Equal(t, StateIdle, s.State())
	_, ok := s.Attempt(true)
	assert.False(t, ok)
}

func TestState_Predicates(t *testing.T) {
	assert.True(t, StateBroadcasting.Searching())
	assert.True(t, StateCoolingDown.Searching())
	assert.False(t, StateIdle.Searching())
	assert.False(t, StateFound.Searching())
	assert.True(t, StateFound.Terminal())
	assert.True(t, StateExhausted.Terminal())
	assert.False(t, StateCoolingDown.Terminal())
}
