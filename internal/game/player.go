package game

// PlayerKind distinguishes human-driven paddles from AI-driven ones.
type PlayerKind string

const (
	HumanPlayer PlayerKind = "human"
	AIPlayer    PlayerKind = "ai"
)

// ControlScheme names the key bindings steering one paddle. "Decrease" moves
// the paddle toward negative court coordinates, "Increase" toward positive.
type ControlScheme struct {
	Decrease string
	Increase string
}

var (
	// SchemeWASD is the left player's binding set.
	SchemeWASD = ControlScheme{Decrease: "a", Increase: "d"}
	// SchemeArrows is the right player's binding set.
	SchemeArrows = ControlScheme{Decrease: "ArrowRight", Increase: "ArrowLeft"}
)

// Player holds one side's identity and mutable match state. Paddle offset and
// score are only written by the owning Game; the display name may be updated
// late via player_info messages.
type Player struct {
	ID       string
	Name     string
	Kind     PlayerKind
	Controls ControlScheme
	Score    int
	Paddle   float64
}

// NewPlayer constructs a player anchored at the court center.
func NewPlayer(id, name string, kind PlayerKind, controls ControlScheme) *Player {
	return &Player{ID: id, Name: name, Kind: kind, Controls: controls}
}
