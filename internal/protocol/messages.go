package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"courtline/server/internal/game"
)

// Inbound action tags. Every client message carries exactly one of these in
// its "action" field.
const (
	ActionKeyUpdate       = "key_update"
	ActionPlayerReady     = "player_ready"
	ActionPlayerInfo      = "player_info"
	ActionJoinGame        = "join_game"
	ActionFindMatch       = "find_match"
	ActionCancelMatch     = "cancel_match"
	ActionJoinTournament  = "join_tournament"
	ActionLeaveTournament = "leave_tournament"
	ActionStartMatch      = "start_match"
	ActionGameCompleted   = "game_completed"
)

// Outbound action tags.
const (
	ActionGameState         = "game_state"
	ActionGameFound         = "game_found"
	ActionMatchReady        = "match_ready"
	ActionSearching         = "searching_opponent"
	ActionTournamentStatus  = "tournament_status"
	ActionTournamentResults = "update_tournament_results"
	ActionTournamentEnd     = "tournament_end"
	ActionError             = "error"
)

// Player roles referenced by ready and info messages.
const (
	RolePlayer1 = "player1"
	RolePlayer2 = "player2"
	RoleBoth    = "both"
)

var (
	// ErrMalformedMessage indicates undecodable inbound bytes.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownAction indicates an inbound action outside the closed set.
	ErrUnknownAction = errors.New("unknown action")
)

// UserProfile identifies a client account as supplied by the menu layer.
type UserProfile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	TournamentName    string `json:"tournament_name,omitempty"`
	TournamentMatchID string `json:"tournament_match_id,omitempty"`
}

// Inbound is the closed union of client messages. Decode returns exactly one
// of the variant types below.
type Inbound interface {
	inbound()
}

// KeyUpdate carries the client's current key-state map.
type KeyUpdate struct {
	Keys map[string]bool `json:"keys"`
}

// PlayerReady signals that a role has loaded the session and wants it started.
type PlayerReady struct {
	PlayerRole string       `json:"player_role"`
	Profile    *UserProfile `json:"userProfile,omitempty"`
}

// PlayerInfo is late propagation of a role's display profile.
type PlayerInfo struct {
	PlayerRole string       `json:"player_role"`
	Profile    *UserProfile `json:"user_profile"`
}

// JoinGame attaches the client to a session, creating it on first join.
type JoinGame struct {
	GameID      string         `json:"game_id"`
	Mode        string         `json:"mode"`
	PlayerRole  string         `json:"player_role"`
	Settings    *game.Settings `json:"settings,omitempty"`
	Difficulty  string         `json:"difficulty,omitempty"`
	MatchID     string         `json:"tournament_match_id,omitempty"`
	Player1Name string         `json:"player1_name,omitempty"`
	Player2Name string         `json:"player2_name,omitempty"`
}

// FindMatch enqueues the client for online matchmaking.
type FindMatch struct {
	Profile *UserProfile `json:"userProfile"`
}

// CancelMatch withdraws the client from the matchmaking queue.
type CancelMatch struct{}

// JoinTournament registers the client for a bracket of the given size.
type JoinTournament struct {
	NumPlayers int          `json:"numPlayers"`
	Profile    *UserProfile `json:"userProfile"`
}

// LeaveTournament withdraws a participant.
type LeaveTournament struct {
	PlayerID string `json:"player_id"`
}

// StartMatch is a per-match ready signal from one participant.
type StartMatch struct {
	MatchID  string `json:"match_id"`
	PlayerID string `json:"player_id"`
}

// GameCompleted reports a finished tournament match with its winner.
type GameCompleted struct {
	MatchID  string `json:"matchId"`
	WinnerID string `json:"winnerId"`
}

func (KeyUpdate) inbound()       {}
func (PlayerReady) inbound()     {}
func (PlayerInfo) inbound()      {}
func (JoinGame) inbound()        {}
func (FindMatch) inbound()       {}
func (CancelMatch) inbound()     {}
func (JoinTournament) inbound()  {}
func (LeaveTournament) inbound() {}
func (StartMatch) inbound()      {}
func (GameCompleted) inbound()   {}

// Decode parses one inbound frame into its message variant. Unrecognized
// actions are rejected rather than silently dropped.
func Decode(data []byte) (Inbound, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	decode := func(v Inbound) (Inbound, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, envelope.Action, err)
		}
		return v, nil
	}

	switch envelope.Action {
	case ActionKeyUpdate:
		return decode(&KeyUpdate{})
	case ActionPlayerReady:
		return decode(&PlayerReady{})
	case ActionPlayerInfo:
		return decode(&PlayerInfo{})
	case ActionJoinGame:
		return decode(&JoinGame{})
	case ActionFindMatch:
		return decode(&FindMatch{})
	case ActionCancelMatch:
		return decode(&CancelMatch{})
	case ActionJoinTournament:
		return decode(&JoinTournament{})
	case ActionLeaveTournament:
		return decode(&LeaveTournament{})
	case ActionStartMatch:
		return decode(&StartMatch{})
	case ActionGameCompleted:
		return decode(&GameCompleted{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Action)
	}
}

// GameState wraps a physics snapshot for broadcast.
type GameState struct {
	Action string `json:"action"`
	game.Snapshot
}

// NewGameState tags a snapshot for the wire.
func NewGameState(snapshot game.Snapshot) GameState {
	return GameState{Action: ActionGameState, Snapshot: snapshot}
}

// GameFound notifies a matchmade client of its new session and role.
type GameFound struct {
	Action     string        `json:"action"`
	GameID     string        `json:"game_id"`
	Settings   game.Settings `json:"settings"`
	PlayerRole string        `json:"playerRole"`
	Player1    string        `json:"player1"`
	Player2    string        `json:"player2"`
}

// MatchReady notifies a tournament participant that its match session is up.
type MatchReady struct {
	Action     string        `json:"action"`
	GameID     string        `json:"game_id"`
	MatchID    string        `json:"match_id"`
	Settings   game.Settings `json:"settings"`
	PlayerRole string        `json:"playerRole"`
	Opponent   string        `json:"opponent"`
}

// Searching acknowledges a matchmaking enqueue.
type Searching struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// ParticipantInfo is the public identity of a tournament entrant.
type ParticipantInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MatchInfo is one bracket node in a tournament status broadcast.
type MatchInfo struct {
	ID          string           `json:"id"`
	Round       int              `json:"round"`
	Player1     *ParticipantInfo `json:"player1"`
	Player2     *ParticipantInfo `json:"player2"`
	Winner      *ParticipantInfo `json:"winner"`
	Status      string           `json:"status"`
	NextMatchID string           `json:"next_match_id,omitempty"`
}

// HistoryEntry records one decided tournament match.
type HistoryEntry struct {
	Round   int    `json:"round"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
	Winner  string `json:"winner"`
	Loser   string `json:"loser"`
}

// RosterStatus summarises tournament fill progress.
type RosterStatus struct {
	Joined int               `json:"joined"`
	Needed int               `json:"needed"`
	List   []ParticipantInfo `json:"list"`
}

// TournamentStatus is the periodic bracket broadcast.
type TournamentStatus struct {
	Action       string       `json:"action"`
	Status       string       `json:"status"`
	Players      RosterStatus `json:"players"`
	Matches      []MatchInfo  `json:"matches,omitempty"`
	CurrentRound int          `json:"current_round"`
	TotalRounds  int          `json:"total_rounds"`
}

// TournamentResults carries the chronological match history.
type TournamentResults struct {
	Action  string         `json:"action"`
	Round   int            `json:"round"`
	History []HistoryEntry `json:"history"`
}

// TournamentEnd announces the champion.
type TournamentEnd struct {
	Action string          `json:"action"`
	Winner ParticipantInfo `json:"winner"`
}

// ErrorMessage reports a recoverable protocol-level problem to one client.
type ErrorMessage struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Encode marshals an outbound message into a JSON frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
