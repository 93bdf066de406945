// Package simulator provides a synthetic session that spins virtual wheels, for
// running the pipeline without a browser.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/logger"
	"github.com/rewired-gh/wheelwatch/internal/models"
)

var ErrNotRunning = errors.New("simulator: session not running")

type Config struct {
	Tables       []models.Table
	MinSpin      time.Duration
	MaxSpin      time.Duration
	HistoryDepth int
	Seed         uint64
}

func DefaultConfig() Config {
	return Config{
		Tables: []models.Table{
			{ID: "1001", DisplayName: "Simulated Roulette 1"},
			{ID: "1002", DisplayName: "Simulated Roulette 2"},
			{ID: "1003", DisplayName: "Simulated Roulette 3"},
		},
		MinSpin:      20 * time.Second,
		MaxSpin:      40 * time.Second,
		HistoryDepth: 8,
	}
}

type Session struct {
	cfg Config

	mu       sync.Mutex
	rng      *rand.Rand
	running  bool
	history  map[string][]string
	watchers map[string]map[chan struct{}]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	restarts atomic.Int32
}

func New(cfg Config) *Session {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 8
	}
	return &Session{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		history:  make(map[string][]string),
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
}

// Start begins spinning every configured table. A zero MaxSpin starts the
// session without automatic spins; values then only come from Spin.
func (s *Session) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	if s.cfg.MaxSpin > 0 {
		for _, t := range s.cfg.Tables {
			s.wg.Add(1)
			go s.spinLoop(runCtx, t.ID)
		}
	}
	logger.Info("Simulator started", "tables", len(s.cfg.Tables))
	return nil
}

func (s *Session) spinLoop(ctx context.Context, tableID string) {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.mu.Lock()
		v := s.rng.IntN(models.MaxValue + 1)
		s.mu.Unlock()
		if err := s.Spin(tableID, v); err != nil {
			return
		}
	}
}

func (s *Session) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.cfg.MaxSpin - s.cfg.MinSpin
	if span <= 0 {
		return s.cfg.MaxSpin
	}
	return s.cfg.MinSpin + time.Duration(s.rng.Int64N(int64(span)))
}

// Spin shows value as the newest result of tableID and notifies watchers.
func (s *Session) Spin(tableID string, value int) error {
	if !models.ValidValue(value) {
		return fmt.Errorf("%w: %d", models.ErrInvalidValue, value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	h := slices.Insert(s.history[tableID], 0, strconv.Itoa(value))
	if len(h) > s.cfg.HistoryDepth {
		h = h[:s.cfg.HistoryDepth]
	}
	s.history[tableID] = h
	for ch := range s.watchers[tableID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Restart stops the spinners and starts them again, keeping table history.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	s.restarts.Add(1)
	return s.Start(ctx)
}

// Restarts returns how many times the session was restarted.
func (s *Session) Restarts() int {
	return int(s.restarts.Load())
}

func (s *Session) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Session) Tables(_ context.Context) ([]models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrNotRunning
	}
	return slices.Clone(s.cfg.Tables), nil
}

func (s *Session) Read(_ context.Context, tableID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrNotRunning
	}
	return slices.Clone(s.history[tableID]), nil
}

func (s *Session) Watch(ctx context.Context, tableID string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	if s.watchers[tableID] == nil {
		s.watchers[tableID] = make(map[chan struct{}]struct{})
	}
	s.watchers[tableID][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers[tableID], ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}
