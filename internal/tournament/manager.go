package tournament

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"courtline/server/internal/game"
	"courtline/server/internal/logging"
)

// Manager registers tournaments and routes match results to the right one.
// One lobby per bracket size accepts joins until it fills and starts.
type Manager struct {
	mu     sync.Mutex
	open   map[int]*Engine
	active map[string]*Engine

	settings   func() game.Settings
	logger     *logging.Logger
	newID      func() string
	engineOpts []Option
}

// ManagerOption adjusts manager construction.
type ManagerOption func(*Manager)

// WithTournamentIDs injects a deterministic tournament ID generator for tests.
func WithTournamentIDs(newID func() string) ManagerOption {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// WithEngineOptions forwards options to every engine the manager creates.
func WithEngineOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.engineOpts = opts
	}
}

// NewManager constructs an empty tournament registry.
func NewManager(settings func() game.Settings, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if settings == nil {
		settings = game.DefaultSettings
	}
	if logger == nil {
		logger = logging.L()
	}
	m := &Manager{
		open:     make(map[int]*Engine),
		active:   make(map[string]*Engine),
		settings: settings,
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join places the entrant into the open lobby for the requested size,
// creating one when none is waiting.
func (m *Manager) Join(p *Participant, size int) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	engine := m.open[size]
	if engine == nil {
		var err error
		engine, err = NewEngine(m.newID(), size, m.settings, m.logger, m.engineOpts...)
		if err != nil {
			return nil, err
		}
		m.open[size] = engine
		m.active[engine.ID()] = engine
		m.logger.Info("tournament lobby opened",
			logging.String("tournament", engine.ID()), logging.Int("size", size))
	}
	if err := engine.AddPlayer(p); err != nil {
		return nil, err
	}
	//1.- A full lobby has started; the next join of this size opens a new one.
	if engine.Status().Status != "waiting" {
		delete(m.open, size)
	}
	return engine, nil
}

// Leave withdraws the player from whichever tournament holds them.
func (m *Manager) Leave(playerID string) {
	m.mu.Lock()
	engines := maps.Values(m.active)
	m.mu.Unlock()
	for _, engine := range engines {
		if engine.HasPlayer(playerID) {
			engine.RemovePlayer(playerID)
			m.reap(engine)
			return
		}
	}
}

// FindByMatch returns the tournament owning the given match, if any.
func (m *Manager) FindByMatch(matchID string) *Engine {
	m.mu.Lock()
	engines := maps.Values(m.active)
	m.mu.Unlock()
	for _, engine := range engines {
		if engine.HasMatch(matchID) {
			return engine
		}
	}
	return nil
}

// StartMatch forwards a per-match ready signal to the owning tournament.
func (m *Manager) StartMatch(matchID, playerID string) error {
	engine := m.FindByMatch(matchID)
	if engine == nil {
		return ErrUnknownMatch
	}
	return engine.StartMatch(matchID, playerID)
}

// MatchCompleted records a finished match with the owning tournament. Unknown
// matches are logged and dropped so stale session callbacks stay harmless.
func (m *Manager) MatchCompleted(matchID, winnerID string) {
	engine := m.FindByMatch(matchID)
	if engine == nil {
		m.logger.Warn("completion for unknown tournament match",
			logging.String("match", matchID))
		return
	}
	if err := engine.HandleMatchResult(matchID, winnerID); err != nil {
		m.logger.Warn("tournament result rejected",
			logging.String("match", matchID), logging.Error(err))
		return
	}
	m.reap(engine)
}

// Count reports the number of registered tournaments.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) reap(engine *Engine) {
	if !engine.Finished() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, engine.ID())
	for size, open := range m.open {
		if open == engine {
			delete(m.open, size)
		}
	}
	m.logger.Info("tournament retired", logging.String("tournament", engine.ID()))
}
