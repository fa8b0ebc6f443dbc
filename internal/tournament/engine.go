package tournament

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"courtline/server/internal/game"
	"courtline/server/internal/logging"
	"courtline/server/internal/protocol"
)

var (
	// ErrInvalidSize rejects bracket sizes other than 4 or 8.
	ErrInvalidSize = errors.New("invalid tournament size")
	// ErrTournamentFull rejects joins once the roster is complete.
	ErrTournamentFull = errors.New("tournament is full")
	// ErrAlreadyJoined rejects a second join from the same player.
	ErrAlreadyJoined = errors.New("player already joined")
	// ErrTournamentStarted rejects joins after the bracket is drawn.
	ErrTournamentStarted = errors.New("tournament already started")
	// ErrUnknownMatch is returned for results against matches that do not exist.
	ErrUnknownMatch = errors.New("unknown match")
	// ErrMatchNotReady rejects start signals for matches missing players.
	ErrMatchNotReady = errors.New("match is not ready to start")
)

// Engine runs one single-elimination tournament from roster fill to champion.
type Engine struct {
	mu sync.Mutex

	id           string
	size         int
	roster       []*Participant
	matches      []*Match
	byID         map[string]*Match
	currentRound int
	totalRounds  int
	withdrawn    map[string]bool
	history      []protocol.HistoryEntry
	started      bool
	finished     bool
	champion     *Participant

	settings func() game.Settings
	rng      *rand.Rand
	newID    func() string
	logger   *logging.Logger
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithRand injects a deterministic source for the bracket draw.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithIDSource injects a deterministic session ID generator for tests.
func WithIDSource(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEngine creates an empty tournament for the given entrant count.
func NewEngine(id string, size int, settings func() game.Settings, logger *logging.Logger, opts ...Option) (*Engine, error) {
	if size != 4 && size != 8 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if settings == nil {
		settings = game.DefaultSettings
	}
	if logger == nil {
		logger = logging.L()
	}
	e := &Engine{
		id:          id,
		size:        size,
		byID:        make(map[string]*Match),
		withdrawn:   make(map[string]bool),
		totalRounds: rounds(size),
		settings:    settings,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:       func() string { return uuid.NewString() },
		logger:      logger.With(logging.String("tournament", id)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ID returns the tournament identifier.
func (e *Engine) ID() string { return e.id }

// Size returns the configured entrant count.
func (e *Engine) Size() int { return e.size }

// AddPlayer registers an entrant. The bracket is drawn and broadcast as soon
// as the roster fills.
func (e *Engine) AddPlayer(p *Participant) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrTournamentStarted
	}
	if len(e.roster) >= e.size {
		return ErrTournamentFull
	}
	for _, existing := range e.roster {
		if existing.ID == p.ID {
			return fmt.Errorf("%w: %s", ErrAlreadyJoined, p.ID)
		}
	}
	e.roster = append(e.roster, p)
	e.logger.Info("tournament entrant joined",
		logging.String("player", p.Username),
		logging.Int("joined", len(e.roster)), logging.Int("needed", e.size))
	if len(e.roster) == e.size {
		e.startLocked()
		return nil
	}
	e.broadcastLocked(e.statusLocked("waiting"))
	return nil
}

// RemovePlayer withdraws an entrant. Before the draw the roster simply
// shrinks; afterwards, a pending opponent advances on walkover.
func (e *Engine) RemovePlayer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		idx := slices.IndexFunc(e.roster, func(p *Participant) bool { return p.ID == id })
		if idx < 0 {
			return
		}
		name := e.roster[idx].Username
		e.roster = slices.Delete(e.roster, idx, idx+1)
		e.logger.Info("tournament entrant left", logging.String("player", name))
		e.broadcastLocked(e.statusLocked("waiting"))
		return
	}
	if e.finished {
		return
	}
	//1.- A withdrawal mid-bracket hands the open match to the opponent. When
	// the opponent is still undecided the walkover is credited on arrival.
	e.withdrawn[id] = true
	for _, m := range e.matches {
		if m.Status == StatusCompleted || !m.Has(id) {
			continue
		}
		if opponent := e.matchOpponentLocked(m, id); opponent != nil {
			e.logger.Warn("entrant withdrew, opponent advances on walkover",
				logging.String("match", m.ID), logging.String("winner", opponent.Username))
			e.recordResultLocked(m, opponent)
		}
		return
	}
}

// StartMatch records one participant's ready signal for a drawn match. The
// session spins up once both sides have signalled.
func (e *Engine) StartMatch(matchID, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byID[matchID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMatch, matchID)
	}
	if !m.Full() || m.Status == StatusCompleted || m.Round != e.currentRound {
		return fmt.Errorf("%w: %s", ErrMatchNotReady, matchID)
	}
	if !m.Has(playerID) {
		e.logger.Warn("start signal from non-participant ignored",
			logging.String("match", matchID), logging.String("player", playerID))
		return nil
	}
	m.ready[playerID] = true
	if !m.ready[m.Player1.ID] || !m.ready[m.Player2.ID] {
		return nil
	}
	//1.- Both sides are in; mint the session and point the players at it.
	m.Status = StatusInProgress
	gameID := e.newID()
	e.notifyMatchReadyLocked(m, gameID)
	e.logger.Info("tournament match started",
		logging.String("match", m.ID), logging.String("game_id", gameID))
	return nil
}

// HandleMatchResult records a finished match. Duplicate results and winners
// who are not part of the match are logged and dropped, so the reporting path
// stays idempotent.
func (e *Engine) HandleMatchResult(matchID, winnerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byID[matchID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMatch, matchID)
	}
	if m.Winner != nil {
		e.logger.Warn("duplicate match result ignored", logging.String("match", matchID))
		return nil
	}
	winner := e.resolveWinnerLocked(m, winnerID)
	if winner == nil {
		e.logger.Warn("match result names a non-participant",
			logging.String("match", matchID), logging.String("winner_id", winnerID))
		return nil
	}
	e.recordResultLocked(m, winner)
	return nil
}

// NextRound advances the bracket when every current-round match has resolved.
// It is safe to call at any time; incomplete rounds and finished tournaments
// leave it a no-op.
func (e *Engine) NextRound() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished || !e.started || !e.roundCompleteLocked(e.currentRound) {
		return
	}
	e.advanceRoundLocked()
}

// Finished reports whether a champion has been decided.
func (e *Engine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// Champion returns the tournament winner once decided.
func (e *Engine) Champion() *Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.champion
}

// HasMatch reports whether the match belongs to this tournament.
func (e *Engine) HasMatch(matchID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.byID[matchID]
	return ok
}

// HasPlayer reports whether the entrant is registered here.
func (e *Engine) HasPlayer(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.roster {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Status snapshots the bracket for the wire.
func (e *Engine) Status() protocol.TournamentStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.finished:
		return e.statusLocked("finished")
	case e.started:
		return e.statusLocked("started")
	default:
		return e.statusLocked("waiting")
	}
}

// History returns the chronological record of decided matches.
func (e *Engine) History() []protocol.HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) startLocked() {
	//1.- Draw the bracket from a shuffled roster and seed the first round.
	e.started = true
	e.currentRound = 1
	drawn := make([]*Participant, len(e.roster))
	copy(drawn, e.roster)
	e.rng.Shuffle(len(drawn), func(i, j int) { drawn[i], drawn[j] = drawn[j], drawn[i] })
	e.matches = buildBracket(e.id, e.size)
	for _, m := range e.matches {
		e.byID[m.ID] = m
	}
	for i := 0; i < len(drawn); i += 2 {
		m := e.matches[i/2]
		m.Player1 = drawn[i]
		m.Player2 = drawn[i+1]
	}
	e.logger.Info("tournament bracket drawn",
		logging.Int("entrants", len(drawn)), logging.Int("rounds", e.totalRounds))
	e.broadcastLocked(e.statusLocked("started"))
}

func (e *Engine) recordResultLocked(m *Match, winner *Participant) {
	//1.- Freeze the result and extend the public history.
	m.Winner = winner
	m.Status = StatusCompleted
	loser := "bye"
	if opponent := e.matchOpponentLocked(m, winner.ID); opponent != nil {
		loser = opponent.Username
	}
	p1, p2 := "", ""
	if m.Player1 != nil {
		p1 = m.Player1.Username
	}
	if m.Player2 != nil {
		p2 = m.Player2.Username
	}
	e.history = append(e.history, protocol.HistoryEntry{
		Round: m.Round, Player1: p1, Player2: p2, Winner: winner.Username, Loser: loser,
	})
	e.logger.Info("tournament match decided",
		logging.String("match", m.ID), logging.String("winner", winner.Username))

	//2.- Feed the winner into the linked next match. A waiting withdrawn
	// opponent concedes the pairing immediately.
	if next, ok := e.byID[m.NextMatchID]; ok {
		next.AddSlot(winner)
		if next.Full() && next.Winner == nil {
			if loser := e.matchOpponentLocked(next, winner.ID); loser != nil && e.withdrawn[loser.ID] {
				e.recordResultLocked(next, winner)
			}
		}
	}

	//3.- A fully resolved round either crowns the champion or advances play.
	if m.Round == e.totalRounds {
		e.finishLocked(winner)
		return
	}
	if !e.roundCompleteLocked(m.Round) || m.Round != e.currentRound {
		e.broadcastLocked(e.statusLocked("started"))
		return
	}
	e.advanceRoundLocked()
}

func (e *Engine) finishLocked(champion *Participant) {
	e.finished = true
	e.champion = champion
	e.currentRound = e.totalRounds
	e.broadcastLocked(protocol.TournamentResults{
		Action: protocol.ActionTournamentResults, Round: e.totalRounds, History: e.historyCopyLocked(),
	})
	e.broadcastLocked(protocol.TournamentEnd{
		Action: protocol.ActionTournamentEnd, Winner: *champion.Info(),
	})
	e.logger.Info("tournament finished", logging.String("champion", champion.Username))
}

func (e *Engine) advanceRoundLocked() {
	e.currentRound++
	e.broadcastLocked(protocol.TournamentResults{
		Action: protocol.ActionTournamentResults, Round: e.currentRound - 1, History: e.historyCopyLocked(),
	})
	e.broadcastLocked(e.statusLocked("started"))
	//1.- Credit byes left behind by mid-bracket withdrawals.
	for _, m := range e.matches {
		if m.Round != e.currentRound || m.Status == StatusCompleted {
			continue
		}
		if m.Player1 != nil && m.Player2 == nil && e.feedersDoneLocked(m) {
			e.logger.Info("bye credited", logging.String("match", m.ID),
				logging.String("player", m.Player1.Username))
			e.recordResultLocked(m, m.Player1)
			if e.finished {
				return
			}
		}
	}
	//2.- Walkover chains can resolve a whole round at once; keep advancing.
	if !e.finished && e.currentRound < e.totalRounds && e.roundCompleteLocked(e.currentRound) {
		e.advanceRoundLocked()
	}
}

func (e *Engine) feedersDoneLocked(m *Match) bool {
	for _, feeder := range e.matches {
		if feeder.NextMatchID == m.ID && feeder.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (e *Engine) roundCompleteLocked(round int) bool {
	for _, m := range e.matches {
		if m.Round == round && m.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (e *Engine) resolveWinnerLocked(m *Match, winnerID string) *Participant {
	//1.- Prefer the stable identifier, fall back to a unique username match.
	for _, p := range []*Participant{m.Player1, m.Player2} {
		if p != nil && p.ID == winnerID {
			return p
		}
	}
	var byName *Participant
	for _, p := range []*Participant{m.Player1, m.Player2} {
		if p != nil && p.Username == winnerID {
			if byName != nil {
				return nil
			}
			byName = p
		}
	}
	return byName
}

func (e *Engine) matchOpponentLocked(m *Match, id string) *Participant {
	if m.Player1 != nil && m.Player1.ID != id {
		return m.Player1
	}
	if m.Player2 != nil && m.Player2.ID != id {
		return m.Player2
	}
	return nil
}

func (e *Engine) notifyMatchReadyLocked(m *Match, gameID string) {
	settings := e.settings()
	send := func(p *Participant, role string) {
		payload, err := protocol.Encode(protocol.MatchReady{
			Action:     protocol.ActionMatchReady,
			GameID:     gameID,
			MatchID:    m.ID,
			Settings:   settings,
			PlayerRole: role,
			Opponent:   m.Opponent(p.ID),
		})
		if err != nil {
			return
		}
		if err := p.Conn.Send(payload); err != nil {
			e.logger.Warn("match_ready delivery failed",
				logging.String("match", m.ID), logging.String("player", p.Username), logging.Error(err))
		}
	}
	send(m.Player1, protocol.RolePlayer1)
	send(m.Player2, protocol.RolePlayer2)
}

func (e *Engine) statusLocked(status string) protocol.TournamentStatus {
	roster := make([]protocol.ParticipantInfo, 0, len(e.roster))
	for _, p := range e.roster {
		roster = append(roster, *p.Info())
	}
	matches := make([]protocol.MatchInfo, 0, len(e.matches))
	for _, m := range e.matches {
		matches = append(matches, m.Info())
	}
	return protocol.TournamentStatus{
		Action:       protocol.ActionTournamentStatus,
		Status:       status,
		Players:      protocol.RosterStatus{Joined: len(e.roster), Needed: e.size, List: roster},
		Matches:      matches,
		CurrentRound: e.currentRound,
		TotalRounds:  e.totalRounds,
	}
}

func (e *Engine) historyCopyLocked() []protocol.HistoryEntry {
	out := make([]protocol.HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) broadcastLocked(message any) {
	payload, err := protocol.Encode(message)
	if err != nil {
		e.logger.Error("tournament broadcast encode failed", logging.Error(err))
		return
	}
	for _, p := range e.roster {
		if p.Conn == nil {
			continue
		}
		if err := p.Conn.Send(payload); err != nil {
			e.logger.Debug("tournament broadcast dropped",
				logging.String("player", p.Username), logging.Error(err))
		}
	}
}
