package health_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/wheelwatch/internal/health"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestSupervisor_InitialInterval(t *testing.T) {
	s := health.New(health.DefaultConfig(), t0)
	assert.Equal(t, 5*time.Second, s.Interval("t1"))
}

func TestSupervisor_CadenceBounds(t *testing.T) {
	cfg := health.DefaultConfig()
	cfg.NoiseThreshold = 0
	s := health.New(cfg, t0)

	for i := 0; i < 500; i++ {
		s.OnEmpty("t1")
		require.LessOrEqual(t, s.Interval("t1"), cfg.MaxInterval)
	}
	assert.Equal(t, cfg.MaxInterval, s.Interval("t1"))

	s.OnObserved("t1", true, t0)
	after := s.Interval("t1")
	assert.Less(t, after, cfg.MaxInterval)
	assert.Equal(t, time.Duration(float64(cfg.MaxInterval)*cfg.ShrinkFactor), after)

	for i := 0; i < 500; i++ {
		s.OnObserved("t1", true, t0)
		require.GreaterOrEqual(t, s.Interval("t1"), cfg.MinInterval)
	}
	assert.Equal(t, cfg.MinInterval, s.Interval("t1"))
}

func TestSupervisor_RejectedValueGrowsInterval(t *testing.T) {
	s := health.New(health.DefaultConfig(), t0)
	before := s.Interval("t1")
	s.OnObserved("t1", false, t0.Add(time.Second))
	assert.Greater(t, s.Interval("t1"), before)
	assert.Equal(t, t0, s.LastActivity())
}

func TestSupervisor_NoisyTable(t *testing.T) {
	cfg := health.DefaultConfig()
	s := health.New(cfg, t0)

	for i := 0; i < cfg.NoiseThreshold; i++ {
		s.OnEmpty("t1")
	}
	assert.Equal(t, cfg.MaxInterval, s.Interval("t1"))
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Noisy)
	assert.Equal(t, cfg.NoiseThreshold, snap[0].NoiseStreak)

	// a value decrements the streak below the threshold
	s.OnObserved("t1", true, t0)
	assert.Less(t, s.Interval("t1"), cfg.MaxInterval)
	assert.False(t, s.Snapshot()[0].Noisy)
}

func TestSupervisor_InactivityRestart(t *testing.T) {
	cfg := health.DefaultConfig()
	s := health.New(cfg, t0)

	assert.Equal(t, health.ActionNone, s.Tick(t0.Add(cfg.InactivityTimeout)).Action)

	d := s.Tick(t0.Add(cfg.InactivityTimeout + time.Second))
	assert.Equal(t, health.ActionRestart, d.Action)
	assert.Equal(t, "inactivity", d.Reason)

	s.OnActivity(t0.Add(cfg.InactivityTimeout))
	assert.Equal(t, health.ActionNone, s.Tick(t0.Add(cfg.InactivityTimeout+time.Second)).Action)
}

func TestSupervisor_TableErrorStreak(t *testing.T) {
	cfg := health.DefaultConfig()
	s := health.New(cfg, t0)

	for i := 0; i < cfg.TableErrorThreshold-1; i++ {
		s.OnExtractError("t1")
	}
	assert.Equal(t, health.ActionNone, s.Tick(t0).Action)

	s.OnExtractError("t1")
	d := s.Tick(t0)
	assert.Equal(t, health.ActionRestart, d.Action)
	assert.Contains(t, d.Reason, "t1")
}

func TestSupervisor_GlobalErrorStreak(t *testing.T) {
	cfg := health.DefaultConfig()
	cfg.TableErrorThreshold = 100
	s := health.New(cfg, t0)

	tables := []string{"a", "b", "c", "d", "e"}
	for _, id := range tables[:4] {
		s.OnExtractError(id)
	}
	assert.Equal(t, health.ActionNone, s.Tick(t0).Action)

	s.OnExtractError(tables[4])
	assert.Equal(t, health.ActionRestart, s.Tick(t0).Action)

	// a successful observation anywhere clears the global streak
	s.OnObserved("a", true, t0)
	assert.Equal(t, health.ActionNone, s.Tick(t0).Action)
}

func TestSupervisor_SessionErrorsCountGlobally(t *testing.T) {
	cfg := health.DefaultConfig()
	s := health.New(cfg, t0)
	for i := 0; i < cfg.GlobalErrorThreshold; i++ {
		s.OnSessionError()
	}
	assert.Equal(t, health.ActionRestart, s.Tick(t0).Action)
	assert.Empty(t, s.Snapshot())
}

func TestSupervisor_RestartBackoffAndCooldown(t *testing.T) {
	cfg := health.DefaultConfig()
	s := health.New(cfg, t0)
	for i := 0; i < cfg.GlobalErrorThreshold; i++ {
		s.OnExtractError("t1")
	}
	now := t0
	require.Equal(t, health.ActionRestart, s.Tick(now).Action)

	delays := []time.Duration{
		s.RestartFailed(now),
	}
	assert.Equal(t, health.ActionNone, s.Tick(now.Add(delays[0]-time.Millisecond)).Action)
	now = now.Add(delays[0])
	require.Equal(t, health.ActionRestart, s.Tick(now).Action)

	delays = append(delays, s.RestartFailed(now))
	now = now.Add(delays[1])
	require.Equal(t, health.ActionRestart, s.Tick(now).Action)

	delays = append(delays, s.RestartFailed(now))
	now = now.Add(delays[2])

	assert.Equal(t, []time.Duration{cfg.RestartBaseDelay, 2 * cfg.RestartBaseDelay, cfg.RestartCooldown}, delays)

	// attempts resume after the cooldown and the backoff starts over
	require.Equal(t, health.ActionRestart, s.Tick(now).Action)
	assert.Equal(t, cfg.RestartBaseDelay, s.RestartFailed(now))

	s.RestartSucceeded(now)
	assert.Equal(t, health.ActionNone, s.Tick(now).Action)
}

func TestSupervisor_Forget(t *testing.T) {
	s := health.New(health.DefaultConfig(), t0)
	s.OnEmpty("t1")
	s.OnEmpty("t2")
	s.Forget("t1")

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "t2", snap[0].TableID)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "restart", health.ActionRestart.String())
	assert.Equal(t, "none", health.ActionNone.String())
}
