package ai

import (
	"math"
	"math/rand"
	"time"

	"courtline/server/internal/game"
)

// Difficulty selects one of the opponent presets.
type Difficulty string

const (
	Easy       Difficulty = "easy"
	Medium     Difficulty = "medium"
	Impossible Difficulty = "impossible"
)

// preset pairs the decision cadence with the aiming error for a difficulty.
type preset struct {
	reactionDelay time.Duration
	errorMargin   float64
}

var presets = map[Difficulty]preset{
	Easy:       {reactionDelay: 1300 * time.Millisecond, errorMargin: 0.3},
	Medium:     {reactionDelay: time.Second, errorMargin: 0.15},
	Impossible: {reactionDelay: 700 * time.Millisecond, errorMargin: 0},
}

// Input is a single directional command for the AI paddle. At most one of the
// two fields is ever set.
type Input struct {
	Decrease bool
	Increase bool
}

const (
	// deadZone suppresses jitter around the target position.
	deadZone = 0.05
	// interpolationTicks spreads a new target over this many physics ticks so
	// the paddle never flips direction instantaneously.
	interpolationTicks = 15
	// easySmoothing blends the previous target into new easy-mode decisions.
	easySmoothing = 0.7
)

// Option customises Controller construction.
type Option func(*Controller)

// WithClock overrides the wall-clock source; used by tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithRand overrides the aiming-error randomness source; used by tests.
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) {
		if rng != nil {
			c.rng = rng
		}
	}
}

// Controller synthesizes paddle input for the right-hand side of one session.
// It re-decides its target at a coarse cadence, predicts the ball's intercept
// at the paddle plane, and interpolates its output between decisions.
type Controller struct {
	difficulty Difficulty
	delay      time.Duration
	margin     float64

	now func() time.Time
	rng *rand.Rand

	lastDecision time.Time
	havePrev     bool
	prevX, prevY float64

	prevTarget float64
	target     float64
	interpStep int
}

// NewController constructs a controller for the given difficulty, falling back
// to medium for unknown values.
func NewController(difficulty Difficulty, opts ...Option) *Controller {
	p, ok := presets[difficulty]
	if !ok {
		difficulty = Medium
		p = presets[Medium]
	}
	c := &Controller{
		difficulty: difficulty,
		delay:      p.reactionDelay,
		margin:     p.errorMargin,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Difficulty reports the active preset.
func (c *Controller) Difficulty() Difficulty { return c.difficulty }

// Advance consumes one physics snapshot and returns the directional input for
// this tick. Call it once per tick; decisions happen at the preset cadence.
func (c *Controller) Advance(snap game.Snapshot) Input {
	ballX, ballY := snap.Ball.X, snap.Ball.Y
	now := c.now()

	if !c.havePrev {
		//1.- Seed the observation window before any prediction is possible.
		c.havePrev = true
		c.prevX, c.prevY = ballX, ballY
		c.lastDecision = now
		return Input{}
	}

	if now.Sub(c.lastDecision) >= c.delay {
		c.decide(snap, ballX, ballY, now)
	} else if c.interpStep < interpolationTicks {
		c.interpStep++
	}
	c.prevX, c.prevY = ballX, ballY

	paddle := snap.Player2.Paddle.Center
	distance := c.outputTarget() - paddle
	if math.Abs(distance) <= deadZone {
		return Input{}
	}
	if distance > 0 {
		return Input{Increase: true}
	}
	return Input{Decrease: true}
}

func (c *Controller) decide(snap game.Snapshot, ballX, ballY float64, now time.Time) {
	predicted := c.predict(ballX, ballY)

	//1.- Scale the aiming error by the score differential: a trailing AI aims
	// tighter, a leading one gets sloppier.
	scale := 1.0
	switch {
	case snap.Player2.Score < snap.Player1.Score:
		scale = 0.5
	case snap.Player2.Score > snap.Player1.Score:
		scale = 1.5
	}
	target := predicted + (c.rng.Float64()*2-1)*c.margin*scale

	if c.difficulty == Easy {
		//2.- Easy mode keeps most of its old intent, so it lags fast rallies.
		target = easySmoothing*c.target + (1-easySmoothing)*target
	}

	c.prevTarget = c.outputTarget()
	c.target = clamp(target, -1, 1)
	c.interpStep = 0
	c.lastDecision = now
}

// predict extrapolates the ball's y at the AI paddle plane from the last two
// observed positions, folding the trajectory back at the walls.
func (c *Controller) predict(ballX, ballY float64) float64 {
	velX := ballX - c.prevX
	velY := ballY - c.prevY
	if velX <= 1e-9 {
		// Ball moving away or stalled: shadow its current height.
		return ballY
	}
	steps := (game.PaddleX - ballX) / velX
	predicted := ballY + velY*steps
	for i := 0; i < 8 && math.Abs(predicted) > 1; i++ {
		if predicted > 1 {
			predicted = 2 - predicted
		} else {
			predicted = -2 - predicted
		}
	}
	return predicted
}

func (c *Controller) outputTarget() float64 {
	fraction := float64(c.interpStep) / interpolationTicks
	if fraction > 1 {
		fraction = 1
	}
	return c.prevTarget + (c.target-c.prevTarget)*fraction
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
