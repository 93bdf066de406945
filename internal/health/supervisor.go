// Package health tracks activity and errors across all tables, adapts each
// table's polling interval and decides when the shared session must restart.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

type Config struct {
	// InactivityTimeout is how long the whole process may go without an
	// accepted outcome before the session is restarted.
	InactivityTimeout time.Duration
	NoiseThreshold    int

	MinInterval     time.Duration
	MaxInterval     time.Duration
	InitialInterval time.Duration
	ShrinkFactor    float64
	GrowFactor      float64

	TableErrorThreshold  int
	GlobalErrorThreshold int

	RestartBaseDelay   time.Duration
	MaxRestartAttempts int
	RestartCooldown    time.Duration
}

func DefaultConfig() Config {
	return Config{
		InactivityTimeout:    15 * time.Minute,
		NoiseThreshold:       5,
		MinInterval:          3 * time.Second,
		MaxInterval:          30 * time.Second,
		InitialInterval:      5 * time.Second,
		ShrinkFactor:         0.8,
		GrowFactor:           1.05,
		TableErrorThreshold:  3,
		GlobalErrorThreshold: 5,
		RestartBaseDelay:     5 * time.Second,
		MaxRestartAttempts:   3,
		RestartCooldown:      30 * time.Second,
	}
}

// Action is what the supervisor asks the ingestion loop to do.
type Action int

const (
	ActionNone Action = iota
	ActionRestart
)

func (a Action) String() string {
	if a == ActionRestart {
		return "restart"
	}
	return "none"
}

type Decision struct {
	Action Action
	Reason string
}

// TableHealth is a snapshot of one table's cadence.
type TableHealth struct {
	TableID string `json:"table_id"`
	models.Cadence
	Noisy bool `json:"noisy"`
}

type Supervisor struct {
	mu  sync.Mutex
	cfg Config

	lastActivity time.Time
	globalErrors int
	tables       map[string]*models.Cadence

	restartFailures int
	nextRestartAt   time.Time
}

// New creates a supervisor whose inactivity clock starts at now.
func New(cfg Config, now time.Time) *Supervisor {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = cfg.MinInterval
	}
	return &Supervisor{
		cfg:          cfg,
		lastActivity: now,
		tables:       make(map[string]*models.Cadence),
	}
}

func (s *Supervisor) cadence(tableID string) *models.Cadence {
	c, ok := s.tables[tableID]
	if !ok {
		c = &models.Cadence{Interval: s.clamp(s.cfg.InitialInterval)}
		s.tables[tableID] = c
	}
	return c
}

func (s *Supervisor) clamp(d time.Duration) time.Duration {
	if d < s.cfg.MinInterval {
		return s.cfg.MinInterval
	}
	if d > s.cfg.MaxInterval {
		return s.cfg.MaxInterval
	}
	return d
}

func (s *Supervisor) scale(c *models.Cadence, factor float64) {
	c.Interval = s.clamp(time.Duration(float64(c.Interval) * factor))
}

// OnActivity marks process-wide progress at now.
func (s *Supervisor) OnActivity(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// OnExtractError records a session-level failure while polling tableID.
func (s *Supervisor) OnExtractError(tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cadence(tableID)
	c.ErrorStreak++
	s.globalErrors++
	s.scale(c, s.cfg.GrowFactor)
}

// OnSessionError records a failure that is not tied to one table, such as
// listing the tables of the lobby.
func (s *Supervisor) OnSessionError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalErrors++
}

// OnEmpty records an extraction that found no value.
func (s *Supervisor) OnEmpty(tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cadence(tableID)
	c.ErrorStreak = 0
	c.NoiseStreak++
	s.scale(c, s.cfg.GrowFactor)
}

// OnObserved records an extraction that yielded a value. accepted tells whether
// the value became a new outcome; only accepted values count as activity.
func (s *Supervisor) OnObserved(tableID string, accepted bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cadence(tableID)
	c.ErrorStreak = 0
	s.globalErrors = 0
	if c.NoiseStreak > 0 {
		c.NoiseStreak--
	}
	if !accepted {
		s.scale(c, s.cfg.GrowFactor)
		return
	}
	s.scale(c, s.cfg.ShrinkFactor)
	c.LastActivityAt = now
	s.lastActivity = now
}

// Interval returns how long tableID should wait before its next poll.
func (s *Supervisor) Interval(tableID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cadence(tableID)
	if s.noisy(c) {
		return s.cfg.MaxInterval
	}
	return c.Interval
}

func (s *Supervisor) noisy(c *models.Cadence) bool {
	return s.cfg.NoiseThreshold > 0 && c.NoiseStreak >= s.cfg.NoiseThreshold
}

// Tick evaluates the restart rules at now.
func (s *Supervisor) Tick(now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	reason := s.restartReason(now)
	if reason == "" {
		return Decision{Action: ActionNone}
	}
	if now.Before(s.nextRestartAt) {
		return Decision{Action: ActionNone, Reason: reason + " (backing off)"}
	}
	return Decision{Action: ActionRestart, Reason: reason}
}

func (s *Supervisor) restartReason(now time.Time) string {
	if s.cfg.InactivityTimeout > 0 && now.Sub(s.lastActivity) > s.cfg.InactivityTimeout {
		return "inactivity"
	}
	if s.cfg.GlobalErrorThreshold > 0 && s.globalErrors >= s.cfg.GlobalErrorThreshold {
		return "consecutive errors"
	}
	if s.cfg.TableErrorThreshold > 0 {
		for id, c := range s.tables {
			if c.ErrorStreak >= s.cfg.TableErrorThreshold {
				return "table errors: " + id
			}
		}
	}
	return ""
}

// RestartSucceeded clears every error counter and restarts the inactivity clock.
func (s *Supervisor) RestartSucceeded(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartFailures = 0
	s.nextRestartAt = time.Time{}
	s.globalErrors = 0
	s.lastActivity = now
	for _, c := range s.tables {
		c.ErrorStreak = 0
	}
}

// RestartFailed schedules the next attempt: exponential backoff for the first
// attempts, then a longer cooldown after which the count starts over.
func (s *Supervisor) RestartFailed(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartFailures++
	delay := s.backoff(s.restartFailures)
	if s.restartFailures >= s.cfg.MaxRestartAttempts {
		delay = s.cfg.RestartCooldown
		s.restartFailures = 0
	}
	s.nextRestartAt = now.Add(delay)
	return delay
}

func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.cfg.RestartBaseDelay * time.Duration(1<<(attempt-1))
	if s.cfg.RestartCooldown > 0 && delay > s.cfg.RestartCooldown {
		delay = s.cfg.RestartCooldown
	}
	return delay
}

// Forget drops the cadence of a table that is no longer monitored.
func (s *Supervisor) Forget(tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, tableID)
}

// Snapshot returns a copy of every table's cadence, sorted by table id.
func (s *Supervisor) Snapshot() []TableHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TableHealth, 0, len(s.tables))
	for id, c := range s.tables {
		out = append(out, TableHealth{TableID: id, Cadence: *c, Noisy: s.noisy(c)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableID < out[j].TableID })
	return out
}

// LastActivity returns the time of the most recent accepted outcome.
func (s *Supervisor) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
