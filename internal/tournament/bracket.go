package tournament

import (
	"fmt"

	"courtline/server/internal/protocol"
)

// Conn is the outbound side of a tournament participant.
type Conn interface {
	Send(payload []byte) error
}

// Participant is one registered tournament entrant.
type Participant struct {
	ID       string
	Username string
	Conn     Conn
}

// Info converts the participant into its wire representation.
func (p *Participant) Info() *protocol.ParticipantInfo {
	if p == nil {
		return nil
	}
	return &protocol.ParticipantInfo{ID: p.ID, Username: p.Username}
}

// Match lifecycle states.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Match is one bracket node. Winner propagation follows NextMatchID.
type Match struct {
	ID          string
	Round       int
	Player1     *Participant
	Player2     *Participant
	Winner      *Participant
	NextMatchID string
	Status      string
	ready       map[string]bool
}

// NewMatch builds an empty pending match.
func NewMatch(id string, round int) *Match {
	return &Match{ID: id, Round: round, Status: StatusPending, ready: make(map[string]bool)}
}

// AddSlot fills the first open player slot.
func (m *Match) AddSlot(p *Participant) {
	if m.Player1 == nil {
		m.Player1 = p
		return
	}
	if m.Player2 == nil {
		m.Player2 = p
	}
}

// Full reports whether both slots hold a player.
func (m *Match) Full() bool { return m.Player1 != nil && m.Player2 != nil }

// Has reports whether the given participant plays in the match.
func (m *Match) Has(id string) bool {
	return (m.Player1 != nil && m.Player1.ID == id) || (m.Player2 != nil && m.Player2.ID == id)
}

// Opponent returns the other player's name, if any.
func (m *Match) Opponent(id string) string {
	if m.Player1 != nil && m.Player1.ID != id {
		return m.Player1.Username
	}
	if m.Player2 != nil && m.Player2.ID != id {
		return m.Player2.Username
	}
	return ""
}

// Info converts the match into its wire representation.
func (m *Match) Info() protocol.MatchInfo {
	return protocol.MatchInfo{
		ID:          m.ID,
		Round:       m.Round,
		Player1:     m.Player1.Info(),
		Player2:     m.Player2.Info(),
		Winner:      m.Winner.Info(),
		Status:      m.Status,
		NextMatchID: m.NextMatchID,
	}
}

// buildBracket pre-creates every match of a single-elimination bracket for the
// given entrant count and wires the winner-propagation links between rounds.
// The returned slice is ordered round by round.
func buildBracket(prefix string, size int) []*Match {
	var matches []*Match
	round := 1
	perRound := size / 2
	var previous []*Match
	for perRound >= 1 {
		current := make([]*Match, 0, perRound)
		for i := 0; i < perRound; i++ {
			current = append(current, NewMatch(fmt.Sprintf("%s-r%d-m%d", prefix, round, i+1), round))
		}
		//1.- Winners of the previous round feed pairwise into this one.
		for i, m := range previous {
			m.NextMatchID = current[i/2].ID
		}
		matches = append(matches, current...)
		previous = current
		perRound /= 2
		round++
	}
	return matches
}

// rounds returns the number of rounds a bracket of the given size plays.
func rounds(size int) int {
	count := 0
	for size > 1 {
		size /= 2
		count++
	}
	return count
}
