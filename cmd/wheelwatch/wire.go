package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/wheelwatch/internal/browser"
	"github.com/rewired-gh/wheelwatch/internal/config"
	"github.com/rewired-gh/wheelwatch/internal/dedup"
	"github.com/rewired-gh/wheelwatch/internal/extractor"
	"github.com/rewired-gh/wheelwatch/internal/health"
	"github.com/rewired-gh/wheelwatch/internal/models"
	"github.com/rewired-gh/wheelwatch/internal/monitor"
	"github.com/rewired-gh/wheelwatch/internal/notifier"
	"github.com/rewired-gh/wheelwatch/internal/simulator"
	"github.com/rewired-gh/wheelwatch/internal/storage"
)

// session is a monitor session with a lifecycle.
type session interface {
	monitor.Session
	Start(ctx context.Context) error
	Close() error
}

// newLimiter builds the read budget shared by extraction and change watches.
func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.Extractor.ReadsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.Extractor.ReadsPerSecond), cfg.Extractor.Burst)
}

func newSession(cfg *config.Config, limiter *rate.Limiter) session {
	src := cfg.GetSourceConfig()
	if src.Mode == config.ModeSimulator {
		tables := make([]models.Table, 0, len(src.Simulator.Tables))
		for _, id := range src.Simulator.Tables {
			tables = append(tables, models.Table{ID: id, DisplayName: "Simulated Roulette " + id})
		}
		return simulator.New(simulator.Config{
			Tables:       tables,
			MinSpin:      src.Simulator.MinSpin,
			MaxSpin:      src.Simulator.MaxSpin,
			HistoryDepth: src.Simulator.HistoryDepth,
			Seed:         src.Simulator.Seed,
		})
	}
	return browser.New(browser.Config{
		URL:           src.URL,
		Headless:      src.Headless,
		ExecPath:      src.ExecPath,
		UserAgent:     src.UserAgent,
		LoadTimeout:   src.LoadTimeout,
		EvalTimeout:   src.EvalTimeout,
		ProbeInterval: src.ProbeInterval,
		Limiter:       limiter,
	})
}

func newDeps(cfg *config.Config, s session, limiter *rate.Limiter, store *storage.Storage, bus *notifier.Bus) monitor.Deps {
	d := cfg.Dedup
	dedupCfg := dedup.Config{
		MinRepeat:       d.MinRepeat,
		SignatureWindow: d.SignatureWindow,
		RecentWindow:    d.RecentWindow,
		RecentDepth:     d.RecentDepth,
		SequenceDepth:   d.SequenceDepth,
		MaxSignatures:   d.MaxSignatures,
	}

	h := cfg.GetHealthConfig()
	healthCfg := health.Config{
		InactivityTimeout:    h.InactivityTimeout,
		NoiseThreshold:       h.NoiseThreshold,
		MinInterval:          h.MinInterval,
		MaxInterval:          h.MaxInterval,
		InitialInterval:      h.InitialInterval,
		ShrinkFactor:         h.ShrinkFactor,
		GrowFactor:           h.GrowFactor,
		TableErrorThreshold:  h.TableErrorThreshold,
		GlobalErrorThreshold: h.GlobalErrorThreshold,
		RestartBaseDelay:     h.RestartBaseDelay,
		MaxRestartAttempts:   h.MaxRestartAttempts,
		RestartCooldown:      h.RestartCooldown,
	}

	return monitor.Deps{
		Session:    s,
		Extractor:  extractor.New(s, limiter),
		Dedup:      dedup.New(dedupCfg, dedup.NewSignatureIndex(d.MaxSignatures), store),
		Supervisor: health.New(healthCfg, time.Now()),
		Bus:        bus,
		Store:      store,
	}
}

func newMonitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Tables:              cfg.Tables,
		ExtractTimeout:      cfg.Extractor.Timeout,
		HealthCheckInterval: cfg.Health.CheckInterval,
		DiscoveryInterval:   cfg.Source.DiscoveryInterval,
		PersistTimeout:      cfg.Storage.PersistTimeout,
	}
}

// statusText is the plain-text reply to the /status bot command.
func statusText(tables []monitor.TableStatus) string {
	if len(tables) == 0 {
		return "No tables monitored."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d tables monitored\n", len(tables))
	for _, st := range tables {
		last := "-"
		if st.Last != nil {
			last = fmt.Sprintf("%d", st.Last.Value)
		}
		fmt.Fprintf(&b, "%s: last %s, %s, wins %d, losses %d\n",
			st.Table.Name(), last, st.Strategy.State, st.Strategy.Wins, st.Strategy.Losses)
	}
	return strings.TrimRight(b.String(), "\n")
}
