// Package stream exposes the event bus over HTTP: a server-sent event feed with
// replay, the recent history and a status document.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/logger"
	"github.com/rewired-gh/wheelwatch/internal/models"
	"github.com/rewired-gh/wheelwatch/internal/monitor"
	"github.com/rewired-gh/wheelwatch/internal/notifier"
	"github.com/rewired-gh/wheelwatch/internal/storage"
)

const (
	defaultHeartbeat    = 15 * time.Second
	defaultHistoryLimit = 20
)

// Bus is the part of the notifier the server needs.
type Bus interface {
	Subscribe() (*notifier.Subscription, error)
	Unsubscribe(sub *notifier.Subscription)
	Replay(limit int) []models.Event
	Stats() notifier.Stats
}

// StatusSource reports the monitored tables.
type StatusSource interface {
	Snapshot() []monitor.TableStatus
}

// StrategyStore reads persisted strategy states and their transitions.
type StrategyStore interface {
	LoadStrategyState(ctx context.Context, tableID string) (*models.StrategyState, error)
	StrategyHistory(ctx context.Context, tableID string, limit int) ([]storage.HistoryEntry, error)
}

// TableStrategy is the document served on /tables/{id}/strategy.
type TableStrategy struct {
	State   *models.StrategyState  `json:"state"`
	History []storage.HistoryEntry `json:"history"`
}

// Status is the document served on /status.
type Status struct {
	Tables []monitor.TableStatus `json:"tables"`
	Bus    notifier.Stats        `json:"bus"`
}

// Server serves the HTTP endpoints.
type Server struct {
	bus        Bus
	status     StatusSource
	strategies StrategyStore
	heartbeat  time.Duration
}

// NewServer constructs a server. status and strategies may be nil; without
// strategies the per-table strategy endpoint is not served.
func NewServer(bus Bus, status StatusSource, strategies StrategyStore) *Server {
	return &Server{bus: bus, status: status, strategies: strategies, heartbeat: defaultHeartbeat}
}

// Handler returns the routed http handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.strategies != nil {
		mux.HandleFunc("GET /tables/{id}/strategy", s.handleStrategy)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// handleEvents streams live events. With ?replay=N the N most recent events are
// sent first; live events already sent as part of the replay are skipped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	replay, err := intParam(r, "replay", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.bus.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var sent map[string]bool
	if replay > 0 {
		history := s.bus.Replay(replay)
		sent = make(map[string]bool, len(history))
		for _, ev := range history {
			if err := writeEvent(w, ev); err != nil {
				return
			}
			sent[ev.ID] = true
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C():
			if !ok {
				if sub.Dropped() {
					logger.Debug("Event stream subscriber dropped", "remote", r.RemoteAddr)
				}
				return
			}
			if sent[ev.ID] {
				delete(sent, ev.ID)
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Replay(limit))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{Tables: []monitor.TableStatus{}, Bus: s.bus.Stats()}
	if s.status != nil {
		st.Tables = s.status.Snapshot()
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStrategy serves the persisted state of one table and its last
// transitions, newest first. ?limit=N caps the history.
func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := intParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	st, err := s.strategies.LoadStrategyState(r.Context(), id)
	if err != nil {
		logger.Warn("Failed to load strategy state", "table", id, "error", err)
		http.Error(w, "failed to load strategy state", http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.Error(w, "unknown table", http.StatusNotFound)
		return
	}
	history, err := s.strategies.StrategyHistory(r.Context(), id, limit)
	if err != nil {
		logger.Warn("Failed to load strategy history", "table", id, "error", err)
		http.Error(w, "failed to load strategy history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []storage.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, TableStrategy{State: st, History: history})
}

func writeEvent(w http.ResponseWriter, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response", "error", err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// Serve starts an HTTP server and blocks until context cancellation.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// open event streams close when ctx is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}
