package game

import "fmt"

// PaddleSize selects one of the preset paddle heights.
type PaddleSize string

const (
	PaddleSmall  PaddleSize = "small"
	PaddleMiddle PaddleSize = "middle"
	PaddleBig    PaddleSize = "big"
)

// paddleHeights maps each preset to its absolute height on the [-1, 1] court.
var paddleHeights = map[PaddleSize]float64{
	PaddleSmall:  0.4,
	PaddleMiddle: 0.6,
	PaddleBig:    0.8,
}

// Height returns the court-relative paddle height for the preset.
func (p PaddleSize) Height() float64 {
	if h, ok := paddleHeights[p]; ok {
		return h
	}
	return paddleHeights[PaddleMiddle]
}

// Settings is the immutable configuration record a session is created with.
type Settings struct {
	BallSpeed    int        `json:"ball_speed"`
	PaddleSpeed  int        `json:"paddle_speed"`
	WinningScore int        `json:"winning_score"`
	PaddleSize   PaddleSize `json:"paddle_size"`
}

// DefaultSettings mirrors the stock configuration handed out by the menu layer.
func DefaultSettings() Settings {
	return Settings{
		BallSpeed:    2,
		PaddleSpeed:  5,
		WinningScore: 5,
		PaddleSize:   PaddleMiddle,
	}
}

// Validate checks every field against its permitted range.
func (s Settings) Validate() error {
	if s.BallSpeed < 1 || s.BallSpeed > 10 {
		return fmt.Errorf("ball speed must be between 1 and 10, got %d", s.BallSpeed)
	}
	if s.PaddleSpeed < 1 || s.PaddleSpeed > 10 {
		return fmt.Errorf("paddle speed must be between 1 and 10, got %d", s.PaddleSpeed)
	}
	if s.WinningScore < 1 || s.WinningScore > 20 {
		return fmt.Errorf("winning score must be between 1 and 20, got %d", s.WinningScore)
	}
	if _, ok := paddleHeights[s.PaddleSize]; !ok {
		return fmt.Errorf("paddle size must be small, middle or big, got %q", s.PaddleSize)
	}
	return nil
}
