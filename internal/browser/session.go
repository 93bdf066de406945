// Package browser drives a headless Chrome tab showing the live casino lobby and
// reads table values from the rendered page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/wheelwatch/internal/logger"
	"github.com/rewired-gh/wheelwatch/internal/models"
)

var ErrNotStarted = errors.New("browser: session not started")

type Config struct {
	URL           string
	Headless      bool
	ExecPath      string
	UserAgent     string
	LoadTimeout   time.Duration
	EvalTimeout   time.Duration
	ProbeInterval time.Duration
	// Limiter paces the reads made by Watch. It is shared with the extractor
	// so both draw from one read budget; nil means unlimited.
	Limiter *rate.Limiter
}

func DefaultConfig() Config {
	return Config{
		Headless:      true,
		LoadTimeout:   60 * time.Second,
		EvalTimeout:   10 * time.Second,
		ProbeInterval: 500 * time.Millisecond,
	}
}

// Session owns one browser tab. Start, Restart and Close must not race with
// each other; reads may run concurrently.
type Session struct {
	cfg Config

	mu          sync.RWMutex
	tab         context.Context
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
}

func New(cfg Config) *Session {
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Session{cfg: cfg}
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(1920, 1080),
	)
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	if s.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
	}
	return opts
}

// Start launches the browser and loads the lobby.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.tab != nil {
		return nil
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	// the first Run starts the browser and must use the tab context itself, or
	// cancelling a derived timeout would close the browser again
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(tab, s.cfg.LoadTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(loadCtx,
		chromedp.Navigate(s.cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to load %s: %w", s.cfg.URL, err)
	}

	s.tab, s.allocCancel, s.tabCancel = tab, allocCancel, tabCancel
	logger.Info("Browser session started", "url", s.cfg.URL)
	return nil
}

// Restart tears the browser down and starts a fresh one.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.startLocked(ctx)
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Session) closeLocked() {
	if s.tab == nil {
		return
	}
	s.tabCancel()
	s.allocCancel()
	s.tab, s.tabCancel, s.allocCancel = nil, nil, nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.RLock()
	tab := s.tab
	s.mu.RUnlock()
	if tab == nil {
		return ErrNotStarted
	}

	runCtx, cancel := context.WithTimeout(tab, s.cfg.EvalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Tables lists the tables currently shown in the lobby grid.
func (s *Session) Tables(ctx context.Context) ([]models.Table, error) {
	var raw []rawTable
	if err := s.run(ctx, chromedp.Evaluate(tablesScript, &raw)); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tablesFromRaw(raw), nil
}

// Read returns the values shown on a table's tile, most recent first.
func (s *Session) Read(ctx context.Context, tableID string) ([]string, error) {
	var vals []string
	if err := s.run(ctx, chromedp.Evaluate(readScript(tableID), &vals)); err != nil {
		return nil, err
	}
	return vals, nil
}

// pacedRead is a Read that first waits on the configured limiter.
func (s *Session) pacedRead(ctx context.Context, tableID string) ([]string, error) {
	if err := s.cfg.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.Read(ctx, tableID)
}

// Watch probes the table every ProbeInterval and signals when its values change.
func (s *Session) Watch(ctx context.Context, tableID string) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.cfg.ProbeInterval)
		defer ticker.Stop()

		var last string
		first := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			vals, err := s.pacedRead(ctx, tableID)
			if err != nil {
				continue
			}
			cur := strings.Join(vals, ",")
			if first {
				last, first = cur, false
				continue
			}
			if cur == last {
				continue
			}
			last = cur
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}
