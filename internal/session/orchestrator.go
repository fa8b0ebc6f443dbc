package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"courtline/server/internal/ai"
	"courtline/server/internal/game"
	"courtline/server/internal/logging"
	"courtline/server/internal/protocol"
	"courtline/server/internal/stats"
)

// Mode selects how a session is populated and controlled.
type Mode string

const (
	ModeLocal      Mode = "local"
	ModeAI         Mode = "ai"
	ModeOnline     Mode = "online"
	ModeTournament Mode = "tournament"
)

var (
	// ErrUnknownMode rejects join requests outside the mode set.
	ErrUnknownMode = errors.New("unknown game mode")
	// ErrUnknownSession is returned for operations against absent sessions.
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnknownRole rejects roles other than player1, player2, or both.
	ErrUnknownRole = errors.New("unknown player role")
	// ErrRoleTaken rejects a join for a seat another connection holds.
	ErrRoleTaken = errors.New("player role already taken")
)

// ParseMode validates a wire-level mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeLocal, ModeAI, ModeOnline, ModeTournament:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Conn is the outbound side of an attached client.
type Conn interface {
	Send(payload []byte) error
}

// Notifier receives tournament match completions.
type Notifier interface {
	MatchCompleted(matchID, winnerID string)
}

// JoinRequest carries everything needed to attach a client to a session.
type JoinRequest struct {
	GameID      string
	Mode        Mode
	Role        string
	Settings    *game.Settings
	Difficulty  string
	MatchID     string
	Player1Name string
	Player2Name string
	Profile     *protocol.UserProfile
}

type session struct {
	id      string
	mode    Mode
	game    *game.Game
	bot     *ai.Controller
	matchID string

	conns    map[string]Conn
	profiles map[string]*protocol.UserProfile
	ready    map[string]bool
	running  bool
	reported bool

	cancel context.CancelFunc
	grace  *time.Timer
}

// Orchestrator owns every live session: creation, per-session tick loops,
// broadcast fan-out, disconnect grace, and end-of-match reporting.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[string]*session

	tick     time.Duration
	grace    time.Duration
	reporter stats.Reporter
	notifier Notifier
	logger   *logging.Logger
	gameOpts []game.Option
}

// Option adjusts orchestrator construction.
type Option func(*Orchestrator)

// WithTickInterval overrides the simulation cadence.
func WithTickInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.tick = interval
		}
	}
}

// WithGraceWindow overrides how long a vacated seat is held open.
func WithGraceWindow(window time.Duration) Option {
	return func(o *Orchestrator) {
		if window > 0 {
			o.grace = window
		}
	}
}

// WithGameOptions forwards options to every game the orchestrator creates.
func WithGameOptions(opts ...game.Option) Option {
	return func(o *Orchestrator) {
		o.gameOpts = opts
	}
}

// NewOrchestrator constructs an empty session registry.
func NewOrchestrator(reporter stats.Reporter, notifier Notifier, logger *logging.Logger, opts ...Option) *Orchestrator {
	if reporter == nil {
		reporter = stats.NopReporter{}
	}
	if logger == nil {
		logger = logging.L()
	}
	o := &Orchestrator{
		sessions: make(map[string]*session),
		tick:     time.Second / 60,
		grace:    10 * time.Second,
		reporter: reporter,
		notifier: notifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attach joins a connection to a session, creating the session on first join.
// Rejoining a seat vacated within the grace window cancels its forfeit.
func (o *Orchestrator) Attach(conn Conn, req JoinRequest) error {
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return err
	}
	role, err := NormalizeRole(req.Mode, req.Role)
	if err != nil {
		return err
	}

	o.mu.Lock()
	s := o.sessions[req.GameID]
	if s == nil {
		s, err = o.newSessionLocked(req)
		if err != nil {
			o.mu.Unlock()
			return err
		}
		o.sessions[req.GameID] = s
	}
	if existing, ok := s.conns[role]; ok && existing != conn {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoleTaken, role)
	}
	s.conns[role] = conn
	if req.Profile != nil {
		s.profiles[role] = req.Profile
		o.applyProfileLocked(s, role, req.Profile)
	}
	//1.- A returning player stops the abandonment countdown.
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	snapshot := s.game.Snapshot()
	o.mu.Unlock()

	//2.- Prime the fresh client with the current court state.
	if payload, err := protocol.Encode(protocol.NewGameState(snapshot)); err == nil {
		if err := conn.Send(payload); err != nil {
			o.logger.Debug("initial snapshot dropped",
				logging.String("game_id", req.GameID), logging.Error(err))
		}
	}
	o.logger.Info("client attached",
		logging.String("game_id", req.GameID), logging.String("mode", string(req.Mode)),
		logging.String("role", role))
	return nil
}

// MarkReady records a role's ready signal and starts the loop once every
// required seat has signalled. Repeated signals are harmless.
func (o *Orchestrator) MarkReady(gameID, role string, profile *protocol.UserProfile) error {
	o.mu.Lock()
	s := o.sessions[gameID]
	if s == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, gameID)
	}
	if profile != nil {
		s.profiles[role] = profile
		o.applyProfileLocked(s, role, profile)
	}
	if role == protocol.RoleBoth {
		s.ready[protocol.RolePlayer1] = true
		s.ready[protocol.RolePlayer2] = true
	} else {
		s.ready[role] = true
	}
	start := !s.running && s.ready[protocol.RolePlayer1] && s.ready[protocol.RolePlayer2]
	if start {
		s.running = true
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go o.run(ctx, s)
	}
	o.mu.Unlock()

	if start {
		s.game.Start()
		o.logger.Info("session started", logging.String("game_id", gameID))
	}
	return nil
}

// UpdateProfile lets a client name its seat after joining.
func (o *Orchestrator) UpdateProfile(gameID, role string, profile *protocol.UserProfile) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.sessions[gameID]
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, gameID)
	}
	if profile == nil {
		return nil
	}
	if role == protocol.RoleBoth {
		role = protocol.RolePlayer1
	}
	s.profiles[role] = profile
	o.applyProfileLocked(s, role, profile)
	return nil
}

// HandleKeys applies a client's key state to the paddles its role controls.
// When opposing bindings are held together the decrease direction wins.
func (o *Orchestrator) HandleKeys(gameID, role string, keys map[string]bool) {
	o.mu.Lock()
	s := o.sessions[gameID]
	o.mu.Unlock()
	if s == nil {
		return
	}
	p1, p2 := s.game.Players()
	var controlled []*game.Player
	switch {
	case s.mode == ModeLocal:
		controlled = []*game.Player{p1, p2}
	case s.mode == ModeAI:
		//1.- The machine's paddle ignores client input entirely.
		controlled = []*game.Player{p1}
	case role == protocol.RolePlayer1:
		controlled = []*game.Player{p1}
	case role == protocol.RolePlayer2:
		controlled = []*game.Player{p2}
	}
	for _, player := range controlled {
		switch {
		case keys[player.Controls.Decrease]:
			s.game.MovePaddle(player, -1)
		case keys[player.Controls.Increase]:
			s.game.MovePaddle(player, 1)
		}
	}
}

// Detach removes a connection from every session holding it. Empty sessions
// are evicted immediately; a half-empty running session starts the grace
// countdown toward a forfeit.
func (o *Orchestrator) Detach(conn Conn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, s := range o.sessions {
		vacated := ""
		for role, c := range s.conns {
			if c == conn {
				delete(s.conns, role)
				vacated = role
			}
		}
		if vacated == "" {
			continue
		}
		o.logger.Info("client detached",
			logging.String("game_id", id), logging.String("role", vacated))
		if len(s.conns) == 0 {
			o.evictLocked(s)
			continue
		}
		if s.running && s.game.Active() && s.grace == nil {
			sessionID, role := id, vacated
			s.grace = time.AfterFunc(o.grace, func() { o.abandon(sessionID, role) })
		}
	}
}

// Counts reports live sessions and attached clients, for health endpoints.
func (o *Orchestrator) Counts() (sessions, clients int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		sessions++
		clients += len(s.conns)
	}
	return sessions, clients
}

// Shutdown stops every session loop.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		o.evictLocked(s)
	}
}

func (o *Orchestrator) newSessionLocked(req JoinRequest) (*session, error) {
	settings := game.DefaultSettings()
	if req.Settings != nil {
		if err := req.Settings.Validate(); err != nil {
			return nil, err
		}
		settings = *req.Settings
	}
	name1, name2 := req.Player1Name, req.Player2Name
	if name1 == "" {
		name1 = "Player 1"
	}
	if name2 == "" {
		name2 = "Player 2"
	}

	s := &session{
		id:       req.GameID,
		mode:     req.Mode,
		matchID:  req.MatchID,
		conns:    make(map[string]Conn),
		profiles: make(map[string]*protocol.UserProfile),
		ready:    make(map[string]bool),
	}
	var p1, p2 *game.Player
	switch req.Mode {
	case ModeLocal:
		p1 = game.NewPlayer("p1", name1, game.HumanPlayer, game.SchemeWASD)
		p2 = game.NewPlayer("p2", name2, game.HumanPlayer, game.SchemeArrows)
	case ModeAI:
		p1 = game.NewPlayer("p1", name1, game.HumanPlayer, game.SchemeWASD)
		p2 = game.NewPlayer("p2", "Computer", game.AIPlayer, game.ControlScheme{})
		s.bot = ai.NewController(ai.Difficulty(req.Difficulty))
		//1.- The machine never sends player_ready; count it in from the start.
		s.ready[protocol.RolePlayer2] = true
	default:
		//2.- The left seat keeps its WASD bindings even with remote players,
		// matching the key protocol front ends speak.
		p1 = game.NewPlayer("p1", name1, game.HumanPlayer, game.SchemeWASD)
		p2 = game.NewPlayer("p2", name2, game.HumanPlayer, game.SchemeArrows)
	}
	s.game = game.New(settings, p1, p2, o.gameOpts...)
	o.logger.Info("session created",
		logging.String("game_id", req.GameID), logging.String("mode", string(req.Mode)))
	return s, nil
}

// NormalizeRole resolves the seat a join request actually occupies: local
// clients hold both seats, AI clients always hold player1.
func NormalizeRole(mode Mode, role string) (string, error) {
	if mode == ModeLocal {
		return protocol.RoleBoth, nil
	}
	if mode == ModeAI {
		return protocol.RolePlayer1, nil
	}
	switch role {
	case protocol.RolePlayer1, protocol.RolePlayer2:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

func (o *Orchestrator) applyProfileLocked(s *session, role string, profile *protocol.UserProfile) {
	if profile.Username == "" {
		return
	}
	p1, p2 := s.game.Players()
	switch role {
	case protocol.RolePlayer1, protocol.RoleBoth:
		p1.Name = profile.Username
	case protocol.RolePlayer2:
		p2.Name = profile.Username
	}
}

func (o *Orchestrator) run(ctx context.Context, s *session) {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.step(s)
		}
	}
}

// step advances the session one tick. Once the game is decided it keeps
// broadcasting the terminal snapshot; the grace eviction cancels the loop.
func (o *Orchestrator) step(s *session) {
	//1.- The machine player acts first so its move lands in this tick.
	if s.bot != nil {
		input := s.bot.Advance(s.game.Snapshot())
		_, p2 := s.game.Players()
		switch {
		case input.Decrease:
			s.game.MovePaddle(p2, -1)
		case input.Increase:
			s.game.MovePaddle(p2, 1)
		}
	}

	snapshot := s.game.Tick()
	o.broadcast(s, snapshot)

	if !snapshot.Active && snapshot.Winner != nil {
		o.finish(s, snapshot)
	}
}

func (o *Orchestrator) broadcast(s *session, snapshot game.Snapshot) {
	payload, err := protocol.Encode(protocol.NewGameState(snapshot))
	if err != nil {
		o.logger.Error("snapshot encode failed", logging.Error(err))
		return
	}
	o.mu.Lock()
	conns := make(map[string]Conn, len(s.conns))
	for role, conn := range s.conns {
		conns[role] = conn
	}
	o.mu.Unlock()
	for role, conn := range conns {
		if err := conn.Send(payload); err != nil {
			//1.- Only the broken connection leaves; the session plays on.
			o.logger.Warn("broadcast failed, dropping client",
				logging.String("game_id", s.id), logging.String("role", role), logging.Error(err))
			o.Detach(conn)
		}
	}
}

// finish reports the decided match exactly once and schedules eviction.
func (o *Orchestrator) finish(s *session, snapshot game.Snapshot) {
	o.mu.Lock()
	if s.reported {
		o.mu.Unlock()
		return
	}
	s.reported = true
	report := o.buildReportLocked(s, snapshot)
	winnerID := o.resolveWinnerLocked(s, snapshot)
	matchID := s.matchID
	if s.grace != nil {
		s.grace.Stop()
	}
	sessionID := s.id
	s.grace = time.AfterFunc(o.grace, func() { o.evict(sessionID) })
	o.mu.Unlock()

	o.logger.Info("session decided",
		logging.String("game_id", s.id), logging.String("winner", report.WinnerName))

	//1.- Reporting and tournament notification never block the tick path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.reporter.Report(ctx, report); err != nil {
			o.logger.Warn("match report failed",
				logging.String("game_id", report.GameID), logging.Error(err))
		}
	}()
	if matchID != "" && o.notifier != nil {
		go o.notifier.MatchCompleted(matchID, winnerID)
	}
}

func (o *Orchestrator) buildReportLocked(s *session, snapshot game.Snapshot) stats.MatchReport {
	report := stats.MatchReport{
		GameID:      s.id,
		Mode:        string(s.mode),
		Player1Name: snapshot.Player1.Name,
		Player1Pts:  snapshot.Player1.Score,
		Player2Name: snapshot.Player2.Name,
		Player2Pts:  snapshot.Player2.Score,
		FinishedAt:  time.Now().UTC(),
	}
	if profile := s.profiles[protocol.RolePlayer1]; profile != nil {
		report.Player1ID = profile.ID
	}
	if profile := s.profiles[protocol.RolePlayer2]; profile != nil {
		report.Player2ID = profile.ID
	}
	if snapshot.Winner != nil {
		report.WinnerName = snapshot.Winner.Name
		report.WinnerID = o.resolveWinnerLocked(s, snapshot)
	}
	return report
}

// resolveWinnerLocked maps the winning seat back to a stable client identity:
// the seat profile's ID first, its username second, the display name last.
func (o *Orchestrator) resolveWinnerLocked(s *session, snapshot game.Snapshot) string {
	if snapshot.Winner == nil {
		return ""
	}
	p1, _ := s.game.Players()
	role := protocol.RolePlayer2
	if snapshot.Winner.ID == p1.ID {
		role = protocol.RolePlayer1
	}
	if profile := s.profiles[role]; profile != nil {
		if profile.ID != "" {
			return profile.ID
		}
		if profile.Username != "" {
			return profile.Username
		}
	}
	return snapshot.Winner.Name
}

// abandon resolves a seat left vacant through the whole grace window.
func (o *Orchestrator) abandon(gameID, vacantRole string) {
	o.mu.Lock()
	s := o.sessions[gameID]
	if s == nil {
		o.mu.Unlock()
		return
	}
	if _, refilled := s.conns[vacantRole]; refilled || !s.game.Active() {
		s.grace = nil
		o.mu.Unlock()
		return
	}
	s.grace = nil
	p1, p2 := s.game.Players()
	winner := p1
	if vacantRole == protocol.RolePlayer1 {
		winner = p2
	}
	o.mu.Unlock()

	o.logger.Warn("seat abandoned past grace window, forfeiting",
		logging.String("game_id", gameID), logging.String("role", vacantRole))
	s.game.Forfeit(winner)
	//1.- Push the decided state out without waiting for the next tick.
	snapshot := s.game.Snapshot()
	o.broadcast(s, snapshot)
	o.finish(s, snapshot)
}

func (o *Orchestrator) evict(gameID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s := o.sessions[gameID]; s != nil {
		o.evictLocked(s)
	}
}

func (o *Orchestrator) evictLocked(s *session) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	delete(o.sessions, s.id)
	o.logger.Info("session evicted", logging.String("game_id", s.id))
}
