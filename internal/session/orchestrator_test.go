package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"courtline/server/internal/game"
	"courtline/server/internal/logging"
	"courtline/server/internal/protocol"
	"courtline/server/internal/stats"
)

type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte
	fail error
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) lastState(t *testing.T) protocol.GameState {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no messages sent")
	}
	var state protocol.GameState
	if err := json.Unmarshal(c.sent[len(c.sent)-1], &state); err != nil {
		t.Fatalf("decode game_state: %v", err)
	}
	return state
}

type fakeReporter struct {
	reports chan stats.MatchReport
}

func (r *fakeReporter) Report(_ context.Context, report stats.MatchReport) error {
	r.reports <- report
	return nil
}

type fakeNotifier struct {
	completions chan [2]string
}

func (n *fakeNotifier) MatchCompleted(matchID, winnerID string) {
	n.completions <- [2]string{matchID, winnerID}
}

// newTestOrchestrator uses an hour-long tick so tests drive step by hand.
func newTestOrchestrator(reporter stats.Reporter, notifier Notifier) *Orchestrator {
	return NewOrchestrator(reporter, notifier, logging.NewTestLogger(),
		WithTickInterval(time.Hour),
		WithGraceWindow(20*time.Millisecond),
		WithGameOptions(game.WithRand(rand.New(rand.NewSource(11)))))
}

func attach(t *testing.T, o *Orchestrator, conn Conn, req JoinRequest) {
	t.Helper()
	if err := o.Attach(conn, req); err != nil {
		t.Fatalf("attach: %v", err)
	}
}

func TestAttachCreatesSessionAndPrimesClient(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	conn := &fakeConn{}
	attach(t, o, conn, JoinRequest{GameID: "g1", Mode: ModeLocal})

	sessions, clients := o.Counts()
	if sessions != 1 || clients != 1 {
		t.Fatalf("expected 1 session / 1 client, got %d / %d", sessions, clients)
	}
	state := conn.lastState(t)
	if state.Action != protocol.ActionGameState || state.Active {
		t.Fatalf("unexpected priming state: %#v", state)
	}
}

func TestAttachRejectsUnknownModeAndRole(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	if err := o.Attach(&fakeConn{}, JoinRequest{GameID: "g1", Mode: "speedball"}); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	if err := o.Attach(&fakeConn{}, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: "coach"}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestAttachRejectsTakenSeat(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	attach(t, o, &fakeConn{}, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer1})
	err := o.Attach(&fakeConn{}, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer1})
	if !errors.Is(err, ErrRoleTaken) {
		t.Fatalf("expected ErrRoleTaken, got %v", err)
	}
}

func TestLocalReadyStartsSimulation(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	conn := &fakeConn{}
	attach(t, o, conn, JoinRequest{GameID: "g1", Mode: ModeLocal})
	if err := o.MarkReady("g1", protocol.RoleBoth, nil); err != nil {
		t.Fatalf("ready: %v", err)
	}
	s := o.sessions["g1"]
	if !s.game.Active() {
		t.Fatal("local session did not start on the single ready signal")
	}
	o.Shutdown()
}

func TestOnlineWaitsForBothReadySignals(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	c1, c2 := &fakeConn{}, &fakeConn{}
	attach(t, o, c1, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer1})
	attach(t, o, c2, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer2})

	if err := o.MarkReady("g1", protocol.RolePlayer1, nil); err != nil {
		t.Fatalf("ready: %v", err)
	}
	s := o.sessions["g1"]
	if s.game.Active() {
		t.Fatal("session started on a single ready signal")
	}
	if err := o.MarkReady("g1", protocol.RolePlayer1, nil); err != nil {
		t.Fatalf("repeat ready: %v", err)
	}
	if s.game.Active() {
		t.Fatal("repeated ready from one seat started the session")
	}
	if err := o.MarkReady("g1", protocol.RolePlayer2, nil); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if !s.game.Active() {
		t.Fatal("session did not start once both seats were ready")
	}
	o.Shutdown()
}

func TestMachineSeatIsReadyFromCreation(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	conn := &fakeConn{}
	attach(t, o, conn, JoinRequest{GameID: "g1", Mode: ModeAI, Difficulty: "impossible"})
	if err := o.MarkReady("g1", protocol.RolePlayer1, nil); err != nil {
		t.Fatalf("ready: %v", err)
	}
	s := o.sessions["g1"]
	if !s.game.Active() {
		t.Fatal("machine seat did not count as ready")
	}
	if s.bot == nil {
		t.Fatal("machine session has no controller")
	}
	o.Shutdown()
}

func TestHandleKeysMovesOwnPaddleOnly(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	c1, c2 := &fakeConn{}, &fakeConn{}
	attach(t, o, c1, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer1})
	attach(t, o, c2, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer2})
	o.MarkReady("g1", protocol.RolePlayer1, nil)
	o.MarkReady("g1", protocol.RolePlayer2, nil)
	s := o.sessions["g1"]
	p1, p2 := s.game.Players()

	//1.- The left seat answers to WASD in every mode, so arrow keys from
	// player1 move nothing.
	o.HandleKeys("g1", protocol.RolePlayer1, map[string]bool{"ArrowLeft": true})
	if p1.Paddle != 0 || p2.Paddle != 0 {
		t.Fatalf("arrow keys moved a WASD-bound paddle: %v / %v", p1.Paddle, p2.Paddle)
	}
	o.HandleKeys("g1", protocol.RolePlayer1, map[string]bool{"d": true})
	if p1.Paddle <= 0 {
		t.Fatalf("player1 paddle did not move: %v", p1.Paddle)
	}
	if p2.Paddle != 0 {
		t.Fatalf("player1 input leaked onto player2: %v", p2.Paddle)
	}
	o.Shutdown()
}

func TestHandleKeysDecreaseWinsWhenBothHeld(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	conn := &fakeConn{}
	attach(t, o, conn, JoinRequest{GameID: "g1", Mode: ModeLocal})
	o.MarkReady("g1", protocol.RoleBoth, nil)
	s := o.sessions["g1"]
	p1, _ := s.game.Players()

	o.HandleKeys("g1", protocol.RoleBoth, map[string]bool{"a": true, "d": true})
	if p1.Paddle >= 0 {
		t.Fatalf("decrease binding did not win: %v", p1.Paddle)
	}
	o.Shutdown()
}

func TestLocalClientDrivesBothPaddles(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	conn := &fakeConn{}
	attach(t, o, conn, JoinRequest{GameID: "g1", Mode: ModeLocal})
	o.MarkReady("g1", protocol.RoleBoth, nil)
	s := o.sessions["g1"]
	p1, p2 := s.game.Players()

	o.HandleKeys("g1", protocol.RoleBoth, map[string]bool{"d": true, "ArrowLeft": true})
	if p1.Paddle <= 0 || p2.Paddle <= 0 {
		t.Fatalf("local input did not reach both paddles: %v / %v", p1.Paddle, p2.Paddle)
	}
	o.Shutdown()
}

func TestMachinePaddleIgnoresClientKeys(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	conn := &fakeConn{}
	attach(t, o, conn, JoinRequest{GameID: "g1", Mode: ModeAI})
	o.MarkReady("g1", protocol.RolePlayer1, nil)
	s := o.sessions["g1"]
	_, p2 := s.game.Players()

	o.HandleKeys("g1", protocol.RolePlayer1, map[string]bool{"d": true, "ArrowLeft": true, "ArrowRight": true})
	if p2.Paddle != 0 {
		t.Fatalf("client keys moved the machine paddle: %v", p2.Paddle)
	}
	o.Shutdown()
}

func TestStepBroadcastsAndDropsOnlyFailedConn(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	c1, c2 := &fakeConn{}, &fakeConn{}
	attach(t, o, c1, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer1})
	attach(t, o, c2, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer2})
	o.MarkReady("g1", protocol.RolePlayer1, nil)
	o.MarkReady("g1", protocol.RolePlayer2, nil)
	s := o.sessions["g1"]

	c2.fail = errors.New("broken pipe")
	before := c1.count()
	o.step(s)

	if c1.count() != before+1 {
		t.Fatal("healthy client missed the broadcast")
	}
	sessions, clients := o.Counts()
	if sessions != 1 || clients != 1 {
		t.Fatalf("expected failed conn evicted only, got %d sessions / %d clients", sessions, clients)
	}
	o.Shutdown()
}

func TestFinishReportsOnceAndNotifiesTournament(t *testing.T) {
	reporter := &fakeReporter{reports: make(chan stats.MatchReport, 2)}
	notifier := &fakeNotifier{completions: make(chan [2]string, 2)}
	o := newTestOrchestrator(reporter, notifier)
	c1, c2 := &fakeConn{}, &fakeConn{}
	attach(t, o, c1, JoinRequest{
		GameID: "g1", Mode: ModeTournament, Role: protocol.RolePlayer1, MatchID: "m1",
		Profile: &protocol.UserProfile{ID: "u1", Username: "ana"},
	})
	attach(t, o, c2, JoinRequest{
		GameID: "g1", Mode: ModeTournament, Role: protocol.RolePlayer2, MatchID: "m1",
		Profile: &protocol.UserProfile{ID: "u2", Username: "kira"},
	})
	o.MarkReady("g1", protocol.RolePlayer1, nil)
	o.MarkReady("g1", protocol.RolePlayer2, nil)
	s := o.sessions["g1"]
	p1, _ := s.game.Players()

	//1.- Decide the match and run the tick that observes the result.
	s.game.Forfeit(p1)
	o.step(s)
	//2.- Further ticks keep broadcasting the terminal snapshot, no re-report.
	broadcasts := c1.count()
	o.step(s)
	if c1.count() != broadcasts+1 {
		t.Fatal("terminal snapshot stopped broadcasting")
	}

	select {
	case report := <-reporter.reports:
		if report.WinnerID != "u1" || report.Mode != "tournament" || report.GameID != "g1" {
			t.Fatalf("unexpected report: %#v", report)
		}
	case <-time.After(time.Second):
		t.Fatal("match report never arrived")
	}
	select {
	case completion := <-notifier.completions:
		if completion != [2]string{"m1", "u1"} {
			t.Fatalf("unexpected completion: %v", completion)
		}
	case <-time.After(time.Second):
		t.Fatal("tournament notification never arrived")
	}
	select {
	case report := <-reporter.reports:
		t.Fatalf("duplicate report: %#v", report)
	case <-time.After(50 * time.Millisecond):
	}

	state := c1.lastState(t)
	if state.Winner == nil || state.Winner.Name != "ana" || !state.GameOver {
		t.Fatalf("final broadcast missing winner: %#v", state)
	}
}

func TestDetachOfLastClientEvictsSession(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	conn := &fakeConn{}
	attach(t, o, conn, JoinRequest{GameID: "g1", Mode: ModeLocal})
	o.Detach(conn)
	if sessions, _ := o.Counts(); sessions != 0 {
		t.Fatalf("empty session survived detach: %d", sessions)
	}
}

func TestGraceWindowForfeitsAbandonedSeat(t *testing.T) {
	reporter := &fakeReporter{reports: make(chan stats.MatchReport, 1)}
	o := newTestOrchestrator(reporter, nil)
	c1, c2 := &fakeConn{}, &fakeConn{}
	attach(t, o, c1, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer1,
		Profile: &protocol.UserProfile{ID: "u1", Username: "ana"}})
	attach(t, o, c2, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer2,
		Profile: &protocol.UserProfile{ID: "u2", Username: "kira"}})
	o.MarkReady("g1", protocol.RolePlayer1, nil)
	o.MarkReady("g1", protocol.RolePlayer2, nil)

	o.Detach(c2)

	select {
	case report := <-reporter.reports:
		if report.WinnerID != "u1" {
			t.Fatalf("expected remaining player to win, got %#v", report)
		}
	case <-time.After(time.Second):
		t.Fatal("grace window never forfeited the match")
	}
	state := c1.lastState(t)
	if state.Winner == nil || state.Winner.Name != "ana" {
		t.Fatalf("forfeit state not broadcast: %#v", state)
	}
}

func TestRejoinWithinGraceCancelsForfeit(t *testing.T) {
	reporter := &fakeReporter{reports: make(chan stats.MatchReport, 1)}
	o := NewOrchestrator(reporter, nil, logging.NewTestLogger(),
		WithTickInterval(time.Hour),
		WithGraceWindow(60*time.Millisecond),
		WithGameOptions(game.WithRand(rand.New(rand.NewSource(11)))))
	c1, c2 := &fakeConn{}, &fakeConn{}
	attach(t, o, c1, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer1})
	attach(t, o, c2, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer2})
	o.MarkReady("g1", protocol.RolePlayer1, nil)
	o.MarkReady("g1", protocol.RolePlayer2, nil)

	o.Detach(c2)
	rejoined := &fakeConn{}
	attach(t, o, rejoined, JoinRequest{GameID: "g1", Mode: ModeOnline, Role: protocol.RolePlayer2})

	select {
	case report := <-reporter.reports:
		t.Fatalf("rejoin did not cancel the forfeit: %#v", report)
	case <-time.After(150 * time.Millisecond):
	}
	s := o.sessions["g1"]
	if s == nil || !s.game.Active() {
		t.Fatal("session did not survive the rejoin")
	}
	o.Shutdown()
}

func TestSessionSettingsAreValidatedOnCreate(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	bad := &game.Settings{BallSpeed: 99, PaddleSpeed: 5, WinningScore: 5, PaddleSize: game.PaddleMiddle}
	err := o.Attach(&fakeConn{}, JoinRequest{GameID: "g1", Mode: ModeLocal, Settings: bad})
	if err == nil {
		t.Fatal("invalid settings accepted")
	}
	if sessions, _ := o.Counts(); sessions != 0 {
		t.Fatalf("failed create leaked a session: %d", sessions)
	}
}
