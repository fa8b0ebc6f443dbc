package tournament

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"courtline/server/internal/game"
	"courtline/server/internal/logging"
)

func newTestManager() *Manager {
	next := 0
	return NewManager(game.DefaultSettings, logging.NewTestLogger(),
		WithTournamentIDs(func() string {
			next++
			return fmt.Sprintf("t%d", next)
		}),
		WithEngineOptions(WithRand(rand.New(rand.NewSource(3)))))
}

func join(t *testing.T, m *Manager, size int, id, name string) *Engine {
	t.Helper()
	engine, err := m.Join(&Participant{ID: id, Username: name, Conn: &fakeConn{}}, size)
	if err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return engine
}

func TestJoinSharesOneLobbyPerSize(t *testing.T) {
	m := newTestManager()
	first := join(t, m, 4, "u1", "ana")
	second := join(t, m, 4, "u2", "kira")
	if first != second {
		t.Fatal("same-size joins landed in different lobbies")
	}
	other := join(t, m, 8, "u3", "remy")
	if other == first {
		t.Fatal("different sizes shared a lobby")
	}
	if m.Count() != 2 {
		t.Fatalf("expected 2 tournaments, got %d", m.Count())
	}
}

func TestFullLobbyRollsOverToFreshOne(t *testing.T) {
	m := newTestManager()
	var full *Engine
	for i := 1; i <= 4; i++ {
		full = join(t, m, 4, fmt.Sprintf("u%d", i), fmt.Sprintf("p%d", i))
	}
	late := join(t, m, 4, "u5", "p5")
	if late == full {
		t.Fatal("started tournament accepted a late join")
	}
	if m.Count() != 2 {
		t.Fatalf("expected the started and fresh tournaments, got %d", m.Count())
	}
}

func TestJoinRejectsInvalidSize(t *testing.T) {
	m := newTestManager()
	if _, err := m.Join(&Participant{ID: "u1", Username: "ana", Conn: &fakeConn{}}, 5); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("failed join leaked a tournament: %d", m.Count())
	}
}

func TestMatchCompletedRoutesToOwningTournament(t *testing.T) {
	m := newTestManager()
	var engine *Engine
	for i := 1; i <= 4; i++ {
		engine = join(t, m, 4, fmt.Sprintf("u%d", i), fmt.Sprintf("p%d", i))
	}
	semi1, semi2, final := engine.matches[0], engine.matches[1], engine.matches[2]

	m.MatchCompleted(semi1.ID, semi1.Player1.ID)
	m.MatchCompleted(semi2.ID, semi2.Player1.ID)
	m.MatchCompleted(final.ID, final.Player1.ID)

	if !engine.Finished() {
		t.Fatal("routed results did not finish the tournament")
	}
	//1.- Finished tournaments leave the registry.
	if m.Count() != 0 {
		t.Fatalf("finished tournament not retired: %d", m.Count())
	}
	if m.FindByMatch(final.ID) != nil {
		t.Fatal("retired tournament still resolvable by match")
	}
}

func TestMatchCompletedForUnknownMatchIsDropped(t *testing.T) {
	m := newTestManager()
	m.MatchCompleted("no-such-match", "u1")
	if m.Count() != 0 {
		t.Fatalf("unexpected tournament: %d", m.Count())
	}
}

func TestStartMatchRequiresKnownMatch(t *testing.T) {
	m := newTestManager()
	if err := m.StartMatch("no-such-match", "u1"); !errors.Is(err, ErrUnknownMatch) {
		t.Fatalf("expected ErrUnknownMatch, got %v", err)
	}
}

func TestLeaveFindsThePlayersTournament(t *testing.T) {
	m := newTestManager()
	join(t, m, 4, "u1", "ana")
	engine := join(t, m, 4, "u2", "kira")
	m.Leave("u1")
	status := engine.Status()
	if status.Players.Joined != 1 {
		t.Fatalf("leave did not shrink roster: %#v", status.Players)
	}
}
