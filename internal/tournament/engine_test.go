package tournament

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"courtline/server/internal/game"
	"courtline/server/internal/logging"
	"courtline/server/internal/protocol"
)

type fakeConn struct {
	sent [][]byte
}

func (c *fakeConn) Send(payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) actions() []string {
	var out []string
	for _, raw := range c.sent {
		var envelope struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil {
			out = append(out, envelope.Action)
		}
	}
	return out
}

func (c *fakeConn) sawAction(action string) bool {
	for _, got := range c.actions() {
		if got == action {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, size int) *Engine {
	t.Helper()
	next := 0
	engine, err := NewEngine("t1", size, game.DefaultSettings, logging.NewTestLogger(),
		WithRand(rand.New(rand.NewSource(7))),
		WithIDSource(func() string {
			next++
			return fmt.Sprintf("session-%d", next)
		}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func fillRoster(t *testing.T, engine *Engine, size int) []*Participant {
	t.Helper()
	players := make([]*Participant, 0, size)
	for i := 1; i <= size; i++ {
		p := &Participant{
			ID:       fmt.Sprintf("u%d", i),
			Username: fmt.Sprintf("player%d", i),
			Conn:     &fakeConn{},
		}
		if err := engine.AddPlayer(p); err != nil {
			t.Fatalf("add player %d: %v", i, err)
		}
		players = append(players, p)
	}
	return players
}

// playMatch drives both ready signals and reports the given winner.
func playMatch(t *testing.T, engine *Engine, m *Match, winner *Participant) {
	t.Helper()
	if err := engine.StartMatch(m.ID, m.Player1.ID); err != nil {
		t.Fatalf("start %s as %s: %v", m.ID, m.Player1.ID, err)
	}
	if err := engine.StartMatch(m.ID, m.Player2.ID); err != nil {
		t.Fatalf("start %s as %s: %v", m.ID, m.Player2.ID, err)
	}
	if err := engine.HandleMatchResult(m.ID, winner.ID); err != nil {
		t.Fatalf("record %s: %v", m.ID, err)
	}
}

func TestNewEngineRejectsOddSizes(t *testing.T) {
	for _, size := range []int{0, 2, 3, 6, 16} {
		if _, err := NewEngine("t1", size, nil, logging.NewTestLogger()); !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("size %d: expected ErrInvalidSize, got %v", size, err)
		}
	}
}

func TestRosterGuards(t *testing.T) {
	engine := newTestEngine(t, 4)
	players := fillRoster(t, engine, 4)

	if err := engine.AddPlayer(&Participant{ID: "u9", Username: "late", Conn: &fakeConn{}}); !errors.Is(err, ErrTournamentStarted) {
		t.Fatalf("expected ErrTournamentStarted, got %v", err)
	}
	_ = players
}

func TestDuplicateJoinRejected(t *testing.T) {
	engine := newTestEngine(t, 4)
	p := &Participant{ID: "u1", Username: "ana", Conn: &fakeConn{}}
	if err := engine.AddPlayer(p); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := engine.AddPlayer(p); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestBracketDrawSeedsFirstRound(t *testing.T) {
	engine := newTestEngine(t, 4)
	players := fillRoster(t, engine, 4)

	if len(engine.matches) != 3 {
		t.Fatalf("expected 3 matches for 4 entrants, got %d", len(engine.matches))
	}
	seen := map[string]bool{}
	for _, m := range engine.matches[:2] {
		if !m.Full() {
			t.Fatalf("round one match %s not seeded", m.ID)
		}
		if m.NextMatchID != engine.matches[2].ID {
			t.Fatalf("match %s not linked to final", m.ID)
		}
		seen[m.Player1.ID] = true
		seen[m.Player2.ID] = true
	}
	if len(seen) != 4 {
		t.Fatalf("draw reused a player: %v", seen)
	}
	final := engine.matches[2]
	if final.Player1 != nil || final.Player2 != nil || final.NextMatchID != "" {
		t.Fatalf("final pre-seeded: %#v", final)
	}
	for _, p := range players {
		if !p.Conn.(*fakeConn).sawAction(protocol.ActionTournamentStatus) {
			t.Fatalf("player %s never saw the bracket draw", p.Username)
		}
	}
}

func TestFourPlayerTournamentRunsToChampion(t *testing.T) {
	engine := newTestEngine(t, 4)
	players := fillRoster(t, engine, 4)

	semi1, semi2, final := engine.matches[0], engine.matches[1], engine.matches[2]
	playMatch(t, engine, semi1, semi1.Player1)
	playMatch(t, engine, semi2, semi2.Player2)

	if !final.Full() {
		t.Fatal("winners were not propagated into the final")
	}
	if final.Player1 != semi1.Player1 || final.Player2 != semi2.Player2 {
		t.Fatalf("wrong finalists: %s vs %s", final.Player1.Username, final.Player2.Username)
	}
	if engine.Finished() {
		t.Fatal("finished before the final was played")
	}

	playMatch(t, engine, final, final.Player2)

	if !engine.Finished() {
		t.Fatal("final result did not finish the tournament")
	}
	if champion := engine.Champion(); champion != final.Player2 {
		t.Fatalf("unexpected champion %v", champion)
	}
	history := engine.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}
	if history[2].Winner != final.Player2.Username || history[2].Round != 2 {
		t.Fatalf("unexpected final entry: %#v", history[2])
	}
	for _, p := range players {
		conn := p.Conn.(*fakeConn)
		if !conn.sawAction(protocol.ActionTournamentEnd) {
			t.Fatalf("player %s missed tournament_end", p.Username)
		}
		if !conn.sawAction(protocol.ActionTournamentResults) {
			t.Fatalf("player %s missed the results broadcast", p.Username)
		}
	}
}

func TestStartMatchGatesOnBothPlayers(t *testing.T) {
	engine := newTestEngine(t, 4)
	fillRoster(t, engine, 4)
	m := engine.matches[0]

	if err := engine.StartMatch(m.ID, m.Player1.ID); err != nil {
		t.Fatalf("first ready: %v", err)
	}
	if m.Status != StatusPending {
		t.Fatalf("match started on one ready signal: %s", m.Status)
	}
	if err := engine.StartMatch(m.ID, m.Player1.ID); err != nil {
		t.Fatalf("repeat ready: %v", err)
	}
	if m.Status != StatusPending {
		t.Fatal("duplicate ready from one player started the match")
	}
	if err := engine.StartMatch(m.ID, m.Player2.ID); err != nil {
		t.Fatalf("second ready: %v", err)
	}
	if m.Status != StatusInProgress {
		t.Fatalf("match did not start once both were ready: %s", m.Status)
	}
	var ready protocol.MatchReady
	conn := m.Player1.Conn.(*fakeConn)
	if err := json.Unmarshal(conn.sent[len(conn.sent)-1], &ready); err != nil {
		t.Fatalf("decode match_ready: %v", err)
	}
	if ready.Action != protocol.ActionMatchReady || ready.MatchID != m.ID || ready.GameID == "" {
		t.Fatalf("unexpected match_ready: %#v", ready)
	}
	if ready.PlayerRole != protocol.RolePlayer1 || ready.Opponent != m.Player2.Username {
		t.Fatalf("unexpected seat assignment: %#v", ready)
	}
}

func TestStartMatchRejectsFutureRounds(t *testing.T) {
	engine := newTestEngine(t, 4)
	fillRoster(t, engine, 4)
	final := engine.matches[2]
	if err := engine.StartMatch(final.ID, "u1"); !errors.Is(err, ErrMatchNotReady) {
		t.Fatalf("expected ErrMatchNotReady, got %v", err)
	}
}

func TestDuplicateResultIsIdempotent(t *testing.T) {
	engine := newTestEngine(t, 4)
	fillRoster(t, engine, 4)
	m := engine.matches[0]
	playMatch(t, engine, m, m.Player1)

	before := len(engine.History())
	if err := engine.HandleMatchResult(m.ID, m.Player2.ID); err != nil {
		t.Fatalf("duplicate result errored: %v", err)
	}
	if m.Winner != m.Player1 {
		t.Fatal("duplicate result overwrote the winner")
	}
	if got := len(engine.History()); got != before {
		t.Fatalf("duplicate result extended history: %d -> %d", before, got)
	}
}

func TestResultResolvesWinnerByUsernameFallback(t *testing.T) {
	engine := newTestEngine(t, 4)
	fillRoster(t, engine, 4)
	m := engine.matches[0]
	playMatch(t, engine, m, m.Player1)

	m2 := engine.matches[1]
	if err := engine.HandleMatchResult(m2.ID, m2.Player2.Username); err != nil {
		t.Fatalf("username result: %v", err)
	}
	if m2.Winner != m2.Player2 {
		t.Fatalf("username fallback failed: %#v", m2.Winner)
	}
}

func TestResultFromStrangerIsDropped(t *testing.T) {
	engine := newTestEngine(t, 4)
	fillRoster(t, engine, 4)
	m := engine.matches[0]
	if err := engine.HandleMatchResult(m.ID, "nobody"); err != nil {
		t.Fatalf("stranger result errored: %v", err)
	}
	if m.Winner != nil {
		t.Fatal("stranger was recorded as winner")
	}
	if err := engine.HandleMatchResult("missing-match", "u1"); !errors.Is(err, ErrUnknownMatch) {
		t.Fatalf("expected ErrUnknownMatch, got %v", err)
	}
}

func TestWithdrawalCreditsWalkover(t *testing.T) {
	engine := newTestEngine(t, 4)
	fillRoster(t, engine, 4)
	m := engine.matches[0]
	quitter, opponent := m.Player1, m.Player2

	engine.RemovePlayer(quitter.ID)

	if m.Status != StatusCompleted || m.Winner != opponent {
		t.Fatalf("expected walkover for %s, got %#v", opponent.Username, m.Winner)
	}
	final := engine.matches[2]
	if final.Player1 != opponent {
		t.Fatal("walkover winner not propagated")
	}
}

func TestWithdrawnFinalistConcedesOnArrival(t *testing.T) {
	engine := newTestEngine(t, 4)
	fillRoster(t, engine, 4)
	semi1, semi2, final := engine.matches[0], engine.matches[1], engine.matches[2]

	playMatch(t, engine, semi1, semi1.Player1)
	//1.- The qualified finalist leaves before the other semi resolves.
	engine.RemovePlayer(semi1.Player1.ID)
	playMatch(t, engine, semi2, semi2.Player1)

	if !engine.Finished() {
		t.Fatal("tournament did not finish after concession")
	}
	if engine.Champion() != semi2.Player1 {
		t.Fatalf("unexpected champion %v", engine.Champion())
	}
	if final.Status != StatusCompleted {
		t.Fatalf("final left unresolved: %s", final.Status)
	}
}

func TestPreStartWithdrawalShrinksRoster(t *testing.T) {
	engine := newTestEngine(t, 4)
	p1 := &Participant{ID: "u1", Username: "ana", Conn: &fakeConn{}}
	p2 := &Participant{ID: "u2", Username: "kira", Conn: &fakeConn{}}
	if err := engine.AddPlayer(p1); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.AddPlayer(p2); err != nil {
		t.Fatalf("join: %v", err)
	}
	engine.RemovePlayer(p1.ID)
	status := engine.Status()
	if status.Players.Joined != 1 || status.Players.List[0].Username != "kira" {
		t.Fatalf("unexpected roster after leave: %#v", status.Players)
	}
}

func TestEightPlayerBracketShape(t *testing.T) {
	engine := newTestEngine(t, 8)
	fillRoster(t, engine, 8)
	if len(engine.matches) != 7 {
		t.Fatalf("expected 7 matches for 8 entrants, got %d", len(engine.matches))
	}
	status := engine.Status()
	if status.TotalRounds != 3 || status.CurrentRound != 1 {
		t.Fatalf("unexpected round bookkeeping: %#v", status)
	}
	//1.- Quarterfinal winners feed pairwise into the semifinals.
	if engine.matches[0].NextMatchID != engine.matches[4].ID ||
		engine.matches[1].NextMatchID != engine.matches[4].ID ||
		engine.matches[2].NextMatchID != engine.matches[5].ID ||
		engine.matches[3].NextMatchID != engine.matches[5].ID {
		t.Fatal("quarterfinal links are wrong")
	}
	if engine.matches[4].NextMatchID != engine.matches[6].ID ||
		engine.matches[5].NextMatchID != engine.matches[6].ID {
		t.Fatal("semifinal links are wrong")
	}
}
