package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"courtline/server/internal/config"
	"courtline/server/internal/game"
	"courtline/server/internal/httpapi"
	"courtline/server/internal/logging"
	"courtline/server/internal/matchmaking"
	"courtline/server/internal/protocol"
	"courtline/server/internal/session"
	"courtline/server/internal/stats"
	"courtline/server/internal/tournament"
)

// server wires the transport to the game subsystems. One instance serves all
// sessions, the matchmaking queue, and every tournament.
type server struct {
	cfg          *config.Config
	logger       *logging.Logger
	orchestrator *session.Orchestrator
	queue        *matchmaking.Queue
	tournaments  *tournament.Manager
	upgrader     websocket.Upgrader
}

func newServer(cfg *config.Config, logger *logging.Logger, orchestrator *session.Orchestrator,
	queue *matchmaking.Queue, tournaments *tournament.Manager) *server {
	return &server{
		cfg:          cfg,
		logger:       logger,
		orchestrator: orchestrator,
		queue:        queue,
		tournaments:  tournaments,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker admits everything when no allow-list is configured, otherwise
// only the listed origins (or all, via "*"). Origin-less clients pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	c := newClient(conn, s)
	s.logger.Info("client connected", logging.String("remote", conn.RemoteAddr().String()))
	go c.writePump()
	go c.readPump()
}

// dispatch routes one decoded client frame. Returning false closes the
// connection; only undecodable frames are treated that harshly.
func (s *server) dispatch(c *client, raw []byte) bool {
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn("closing client on bad frame", logging.Error(err))
		c.sendMessage(protocol.ErrorMessage{Action: protocol.ActionError, Message: err.Error()})
		return false
	}

	switch m := msg.(type) {
	case *protocol.KeyUpdate:
		if gameID, role := c.sessionBinding(); gameID != "" {
			s.orchestrator.HandleKeys(gameID, role, m.Keys)
		}

	case *protocol.JoinGame:
		mode, err := session.ParseMode(m.Mode)
		if err != nil {
			c.sendMessage(protocol.ErrorMessage{Action: protocol.ActionError, Message: err.Error()})
			return true
		}
		_, profile := c.boundPlayer()
		req := session.JoinRequest{
			GameID:      m.GameID,
			Mode:        mode,
			Role:        m.PlayerRole,
			Settings:    m.Settings,
			Difficulty:  m.Difficulty,
			MatchID:     m.MatchID,
			Player1Name: m.Player1Name,
			Player2Name: m.Player2Name,
			Profile:     profile,
		}
		if err := s.orchestrator.Attach(c, req); err != nil {
			c.logger.Warn("join rejected",
				logging.String("game_id", m.GameID), logging.Error(err))
			c.sendMessage(protocol.ErrorMessage{Action: protocol.ActionError, Message: err.Error()})
			return true
		}
		role, _ := session.NormalizeRole(mode, m.PlayerRole)
		c.bindSession(m.GameID, role)

	case *protocol.PlayerReady:
		gameID, role := c.sessionBinding()
		if gameID == "" {
			return true
		}
		if m.PlayerRole != "" {
			role = m.PlayerRole
		}
		if err := s.orchestrator.MarkReady(gameID, role, m.Profile); err != nil {
			c.logger.Warn("ready rejected", logging.Error(err))
		}

	case *protocol.PlayerInfo:
		gameID, role := c.sessionBinding()
		if gameID == "" {
			return true
		}
		if m.PlayerRole != "" {
			role = m.PlayerRole
		}
		if err := s.orchestrator.UpdateProfile(gameID, role, m.Profile); err != nil {
			c.logger.Warn("player info rejected", logging.Error(err))
		}

	case *protocol.FindMatch:
		if m.Profile != nil {
			c.bindPlayer(m.Profile.ID, m.Profile)
		}
		s.queue.Enqueue(c, m.Profile)

	case *protocol.CancelMatch:
		s.queue.Remove(c)

	case *protocol.JoinTournament:
		if m.Profile == nil {
			c.sendMessage(protocol.ErrorMessage{Action: protocol.ActionError, Message: "a profile is required to join a tournament"})
			return true
		}
		id := m.Profile.ID
		if id == "" {
			id = uuid.NewString()
		}
		c.bindPlayer(id, m.Profile)
		name := m.Profile.TournamentName
		if name == "" {
			name = m.Profile.Username
		}
		participant := &tournament.Participant{ID: id, Username: name, Conn: c}
		if _, err := s.tournaments.Join(participant, m.NumPlayers); err != nil {
			c.logger.Warn("tournament join rejected", logging.Error(err))
			c.sendMessage(protocol.ErrorMessage{Action: protocol.ActionError, Message: err.Error()})
		}

	case *protocol.LeaveTournament:
		id := m.PlayerID
		if id == "" {
			id, _ = c.boundPlayer()
		}
		if id != "" {
			s.tournaments.Leave(id)
		}

	case *protocol.StartMatch:
		if err := s.tournaments.StartMatch(m.MatchID, m.PlayerID); err != nil {
			c.logger.Warn("match start rejected",
				logging.String("match", m.MatchID), logging.Error(err))
			c.sendMessage(protocol.ErrorMessage{Action: protocol.ActionError, Message: err.Error()})
		}

	case *protocol.GameCompleted:
		s.tournaments.MatchCompleted(m.MatchID, m.WinnerID)
	}
	return true
}

// disconnect tears one client out of every subsystem that may hold it.
func (s *server) disconnect(c *client) {
	s.logger.Info("client disconnected")
	s.orchestrator.Detach(c)
	s.queue.Remove(c)
	if id, _ := c.boundPlayer(); id != "" {
		s.tournaments.Leave(id)
	}
}

func (s *server) gauges() httpapi.Gauges {
	sessions, clients := s.orchestrator.Counts()
	return httpapi.Gauges{
		Sessions:    sessions,
		Clients:     clients,
		Queued:      s.queue.Waiting(),
		Tournaments: s.tournaments.Count(),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logging.ReplaceGlobals(logger)

	codec, err := stats.CompressorFor(cfg.StatsEncoding)
	if err != nil {
		logger.Fatal("invalid stats encoding", logging.Error(err))
	}
	var reporter stats.Reporter = stats.NopReporter{}
	if cfg.StatsEndpoint != "" {
		reporter = stats.NewHTTPReporter(cfg.StatsEndpoint, codec, logger)
	}

	tournaments := tournament.NewManager(game.DefaultSettings, logger)
	orchestrator := session.NewOrchestrator(reporter, tournaments, logger,
		session.WithTickInterval(cfg.TickInterval),
		session.WithGraceWindow(cfg.GraceWindow))
	queue := matchmaking.NewQueue(game.DefaultSettings, logger,
		matchmaking.WithInterval(cfg.MatchmakingInterval))

	srv := newServer(cfg, logger, orchestrator, queue, tournaments)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go queue.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.serveWS)
	httpapi.NewHandlerSet(httpapi.Options{Logger: logger, Gauges: srv.gauges}).Register(mux)

	httpServer := &http.Server{Addr: cfg.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		orchestrator.Shutdown()
	}()

	logger.Info("game server listening", logging.String("addr", cfg.Address))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", logging.Error(err))
	}
}
