package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/dedup"
	"github.com/rewired-gh/wheelwatch/internal/extractor"
	"github.com/rewired-gh/wheelwatch/internal/health"
	"github.com/rewired-gh/wheelwatch/internal/logger"
	"github.com/rewired-gh/wheelwatch/internal/models"
	"github.com/rewired-gh/wheelwatch/internal/strategy"
)

type Config struct {
	// Tables restricts monitoring to these ids; empty monitors every discovered table.
	Tables              []string
	ExtractTimeout      time.Duration
	HealthCheckInterval time.Duration
	DiscoveryInterval   time.Duration
	PersistTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ExtractTimeout:      8 * time.Second,
		HealthCheckInterval: 10 * time.Second,
		DiscoveryInterval:   time.Minute,
		PersistTimeout:      5 * time.Second,
	}
}

// Session is the shared browser (or simulated) session all tables are read from.
type Session interface {
	extractor.Session
	Tables(ctx context.Context) ([]models.Table, error)
	Restart(ctx context.Context) error
}

// Store is the persistence gateway.
type Store interface {
	EnsureTable(ctx context.Context, table models.Table) error
	InsertOutcome(ctx context.Context, table models.Table, o models.Outcome) error
	RecentOutcomes(ctx context.Context, tableID string, limit int) ([]int, error)
	UpsertStrategyState(ctx context.Context, table models.Table, st models.StrategyState) error
	LoadStrategyStates(ctx context.Context) (map[string]models.StrategyState, error)
}

type Publisher interface {
	Publish(ev models.Event)
}

// Alerter is told when the session cannot be restarted and when it recovers.
type Alerter interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

type Deps struct {
	Session    Session
	Extractor  *extractor.Extractor
	Dedup      *dedup.Deduplicator
	Supervisor *health.Supervisor
	Bus        Publisher
	Store      Store
	Alerter    Alerter
}

var ErrNotRunning = errors.New("monitor: not running")

// errRestarting is reported by an observation cut short by a session restart.
var errRestarting = errors.New("monitor: session restarting")

// tableState is the per-table aggregate. memory is touched only by the table's
// poller; the rest is guarded by mu for status readers.
type tableState struct {
	table  models.Table
	memory *dedup.Memory

	mu       sync.Mutex
	strategy models.StrategyState
	last     *models.Outcome
	accepted int
	rejected int
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type parkedTable struct {
	state *tableState
	done  <-chan struct{}
}

type Monitor struct {
	cfg        Config
	session    Session
	extractor  *extractor.Extractor
	dedup      *dedup.Deduplicator
	supervisor *health.Supervisor
	bus        Publisher
	store      Store
	alerter    Alerter
	allowed    map[string]bool
	now        func() time.Time

	// sessionMu is held for reading by every observation and for writing by a
	// restart. gen is cancelled right before a restart so that observations in
	// flight give up instead of holding the restart back.
	sessionMu sync.RWMutex
	genMu     sync.Mutex
	gen       context.Context
	genCancel context.CancelFunc

	// restartFailures is only touched by the health loop.
	restartFailures int

	mu     sync.Mutex
	tables map[string]*tableState
	jobs   map[string]*job
	// stopped holds tables taken out by StopTable. Discovery leaves them alone;
	// StartTable resumes them with their strategy and dedup memory intact.
	stopped  map[string]parkedTable
	restored map[string]models.StrategyState
	runCtx   context.Context
	wg       sync.WaitGroup
}

func New(cfg Config, deps Deps) *Monitor {
	def := DefaultConfig()
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = def.ExtractTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = def.DiscoveryInterval
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}

	m := &Monitor{
		cfg:        cfg,
		session:    deps.Session,
		extractor:  deps.Extractor,
		dedup:      deps.Dedup,
		supervisor: deps.Supervisor,
		bus:        deps.Bus,
		store:      deps.Store,
		alerter:    deps.Alerter,
		now:        time.Now,
		tables:     make(map[string]*tableState),
		jobs:       make(map[string]*job),
		stopped:    make(map[string]parkedTable),
	}
	if m.extractor == nil {
		m.extractor = extractor.New(deps.Session, nil)
	}
	if m.dedup == nil {
		var ds dedup.Store
		if deps.Store != nil {
			ds = deps.Store
		}
		m.dedup = dedup.New(dedup.DefaultConfig(), nil, ds)
	}
	if m.supervisor == nil {
		m.supervisor = health.New(health.DefaultConfig(), time.Now())
	}
	if len(cfg.Tables) > 0 {
		m.allowed = make(map[string]bool, len(cfg.Tables))
		for _, id := range cfg.Tables {
			m.allowed[id] = true
		}
	}
	m.gen, m.genCancel = context.WithCancel(context.Background())
	return m
}

// Run discovers tables, polls each on its own goroutine and supervises the
// session until ctx is cancelled. It returns after every poller has stopped.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.runCtx = runCtx
	m.mu.Unlock()

	m.loadStates(runCtx)
	m.discover(runCtx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.healthLoop(runCtx)
	}()

	ticker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			m.wg.Wait()
			m.mu.Lock()
			m.runCtx = nil
			m.jobs = make(map[string]*job)
			m.mu.Unlock()
			logger.Info("Monitor stopped")
			return runCtx.Err()
		case <-ticker.C:
			m.discover(runCtx)
		}
	}
}

func (m *Monitor) loadStates(ctx context.Context) {
	if m.store == nil {
		return
	}
	states, err := m.store.LoadStrategyStates(ctx)
	if err != nil {
		logger.Warn("Failed to load persisted strategy states", "error", err)
		return
	}
	m.mu.Lock()
	m.restored = states
	m.mu.Unlock()
	logger.Info("Loaded persisted strategy states", "count", len(states))
}

func (m *Monitor) discover(ctx context.Context) {
	m.sessionMu.RLock()
	tables, err := m.session.Tables(ctx)
	m.sessionMu.RUnlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.supervisor.OnSessionError()
		logger.Warn("Failed to discover tables", "error", err)
		return
	}

	started := 0
	for _, t := range tables {
		if m.allowed != nil && !m.allowed[t.ID] {
			continue
		}
		ok, err := m.startTable(ctx, t, false)
		if err != nil {
			logger.Warn("Failed to start table", "table", t.ID, "error", err)
			continue
		}
		if ok {
			started++
		}
	}
	if started > 0 {
		logger.Info("Discovered tables", "started", started, "visible", len(tables))
	}
}

// StartTable begins monitoring table. It is a no-op for tables already monitored.
// A table stopped earlier resumes where it left off.
func (m *Monitor) StartTable(table models.Table) error {
	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	if ctx == nil {
		return ErrNotRunning
	}
	_, err := m.startTable(ctx, table, true)
	return err
}

// startTable launches the poller for table. Tables parked by StopTable are only
// resumed when resume is set.
func (m *Monitor) startTable(ctx context.Context, table models.Table, resume bool) (bool, error) {
	if err := table.Validate(); err != nil {
		return false, err
	}
	m.mu.Lock()
	if _, ok := m.jobs[table.ID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	p, parked := m.stopped[table.ID]
	if parked && !resume {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.stopped, table.ID)
	ts := m.tables[table.ID] // left over from an earlier Run
	if parked {
		// the old poller is already cancelled
		<-p.done
		ts = p.state
	}
	if ts == nil {
		ts = &tableState{
			table:    table,
			memory:   dedup.NewMemory(table.ID),
			strategy: strategy.Initial(table.ID),
		}
		if st, ok := m.restored[table.ID]; ok && st.State.Valid() {
			ts.strategy = st
		}
	} else {
		ts.mu.Lock()
		ts.table = table
		ts.mu.Unlock()
	}
	tableCtx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}
	m.jobs[table.ID] = j
	m.tables[table.ID] = ts
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(j.done)
		m.pollLoop(tableCtx, ts)
	}()
	return true, nil
}

// StopTable stops monitoring tableID and releases its cadence and signatures.
// Discovery does not bring the table back; only StartTable does. Other tables
// are not affected.
func (m *Monitor) StopTable(tableID string) {
	m.mu.Lock()
	j, ok := m.jobs[tableID]
	if ok {
		delete(m.jobs, tableID)
		m.stopped[tableID] = parkedTable{state: m.tables[tableID], done: j.done}
		delete(m.tables, tableID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	j.cancel()
	<-j.done
	m.dedup.Forget(tableID)
	m.supervisor.Forget(tableID)
	logger.Info("Stopped monitoring table", "table", tableID)
}

// TableStatus is a point-in-time view of one monitored table.
type TableStatus struct {
	Table    models.Table         `json:"table"`
	Strategy models.StrategyState `json:"strategy"`
	Last     *models.Outcome      `json:"last,omitempty"`
	Accepted int                  `json:"accepted"`
	Rejected int                  `json:"rejected"`
	Health   health.TableHealth   `json:"health"`
}

// Snapshot returns the status of every monitored table, sorted by id.
func (m *Monitor) Snapshot() []TableStatus {
	m.mu.Lock()
	states := make([]*tableState, 0, len(m.tables))
	for _, ts := range m.tables {
		states = append(states, ts)
	}
	m.mu.Unlock()

	cadence := make(map[string]health.TableHealth)
	for _, h := range m.supervisor.Snapshot() {
		cadence[h.TableID] = h
	}

	out := make([]TableStatus, 0, len(states))
	for _, ts := range states {
		ts.mu.Lock()
		st := TableStatus{
			Table:    ts.table,
			Strategy: ts.strategy,
			Accepted: ts.accepted,
			Rejected: ts.rejected,
			Health:   cadence[ts.table.ID],
		}
		if ts.last != nil {
			last := *ts.last
			st.Last = &last
		}
		ts.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table.ID < out[j].Table.ID })
	return out
}
