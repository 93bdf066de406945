package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/health"
	"github.com/rewired-gh/wheelwatch/internal/logger"
)

func (m *Monitor) generation() context.Context {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return m.gen
}

func (m *Monitor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d := m.supervisor.Tick(m.now())
		if d.Action == health.ActionRestart {
			m.restartSession(ctx, d.Reason)
		}
	}
}

// restartSession replaces the shared session. In-flight observations are
// cancelled first and new ones wait until the restart is over.
func (m *Monitor) restartSession(ctx context.Context, reason string) {
	logger.Warn("Restarting session", "reason", reason)

	m.genMu.Lock()
	m.genCancel()
	m.genMu.Unlock()

	m.sessionMu.Lock()
	err := m.session.Restart(ctx)
	m.genMu.Lock()
	m.gen, m.genCancel = context.WithCancel(context.Background())
	m.genMu.Unlock()
	m.sessionMu.Unlock()

	now := m.now()
	if err != nil {
		m.restartFailures++
		delay := m.supervisor.RestartFailed(now)
		logger.Error("Session restart failed",
			"reason", reason,
			"attempt", m.restartFailures,
			"retry_in", delay,
			"error", err,
		)
		if m.restartFailures == 1 && m.alerter != nil {
			if sendErr := m.alerter.SendError(fmt.Errorf("session restart (%s): %w", reason, err)); sendErr != nil {
				logger.Warn("Failed to send error notification", "error", sendErr)
			}
		}
		return
	}

	m.supervisor.RestartSucceeded(now)
	if m.restartFailures > 0 && m.alerter != nil {
		if sendErr := m.alerter.SendRecovery(m.restartFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification", "error", sendErr)
		}
	}
	m.restartFailures = 0
	logger.Info("Session restarted", "reason", reason)
}
