package game

import (
	"math"
	"math/rand"
	"sync"
)

// Court geometry and integration scales. The court spans [-1, 1] on both axes
// and every speed setting is a small integer scaled down per tick.
const (
	BallSpeedScale   = 0.003
	PaddleSpeedScale = 0.0008
	PaddleWidth      = 0.02
	PaddleX          = 0.95

	// collisionTolerance widens the paddle hitbox slightly so grazing hits at
	// tick granularity still register.
	collisionTolerance = 0.015

	maxBounceAngle = math.Pi / 3
	speedUpFactor  = 1.05
	maxSpeedFactor = 1.5
)

// BallState is the wire representation of the ball.
type BallState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	DirX  float64 `json:"dir_x"`
	DirY  float64 `json:"dir_y"`
	Speed float64 `json:"speed"`
}

// PaddleSpan carries the exact court coordinates of one paddle.
type PaddleSpan struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Center float64 `json:"center"`
}

// PlayerState is the per-player portion of a snapshot.
type PlayerState struct {
	Name   string     `json:"name"`
	Paddle PaddleSpan `json:"paddle"`
	Score  int        `json:"score"`
}

// WinnerState identifies the winning side once a session concludes.
type WinnerState struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Snapshot is the full observable state emitted after every tick.
type Snapshot struct {
	Ball     BallState    `json:"ball"`
	Player1  PlayerState  `json:"player1"`
	Player2  PlayerState  `json:"player2"`
	Active   bool         `json:"game_active"`
	Winner   *WinnerState `json:"winner,omitempty"`
	GameOver bool         `json:"game_over,omitempty"`
}

// Option customises Game construction.
type Option func(*Game)

// WithRand overrides the serve-angle randomness source; used by tests for
// deterministic trajectories.
func WithRand(rng *rand.Rand) Option {
	return func(g *Game) {
		if rng != nil {
			g.rng = rng
		}
	}
}

// Game simulates one two-paddle match on a normalized court. All mutation is
// guarded internally because paddle input arrives off the tick goroutine.
type Game struct {
	mu       sync.Mutex
	settings Settings
	height   float64

	player1 *Player
	player2 *Player

	ballX, ballY float64
	dirX, dirY   float64
	speed        float64

	active bool
	winner *Player

	rng *rand.Rand
}

// New constructs an inactive game for the supplied players and settings.
func New(settings Settings, player1, player2 *Player, opts ...Option) *Game {
	g := &Game{
		settings: settings,
		height:   settings.PaddleSize.Height(),
		player1:  player1,
		player2:  player2,
		speed:    float64(settings.BallSpeed),
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Settings returns the immutable configuration the game was created with.
func (g *Game) Settings() Settings { return g.settings }

// Players returns both sides in court order.
func (g *Game) Players() (*Player, *Player) { return g.player1, g.player2 }

// Start activates the simulation and serves the first ball.
func (g *Game) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = true
	g.resetBallLocked()
}

// Active reports whether the simulation is still running.
func (g *Game) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Winner returns the winning player, or nil while the game is undecided.
func (g *Game) Winner() *Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner
}

// Forfeit ends the game immediately in favour of the given player. Used when
// the opponent abandons the session past its grace window.
func (g *Game) Forfeit(winner *Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active || winner == nil {
		return
	}
	g.winner = winner
	g.active = false
}

// ResetBall recentres the ball and serves it in a fresh random direction.
func (g *Game) ResetBall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetBallLocked()
}

func (g *Game) resetBallLocked() {
	g.ballX, g.ballY = 0, 0
	//1.- Serve within ±45° of horizontal, flipping sides half the time.
	angle := (g.rng.Float64()*2 - 1) * math.Pi / 4
	if g.rng.Intn(2) == 0 {
		angle += math.Pi
	}
	g.dirX = math.Cos(angle)
	g.dirY = math.Sin(angle)
	g.speed = float64(g.settings.BallSpeed)
}

// MovePaddle displaces a player's paddle by direction (±1) scaled with the
// configured paddle speed. No-op while the session is inactive.
func (g *Game) MovePaddle(player *Player, direction float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active || player == nil {
		return
	}
	movement := direction * float64(g.settings.PaddleSpeed) * PaddleSpeedScale
	limit := 1.0 - g.height/2
	player.Paddle = clamp(player.Paddle+movement, -limit, limit)
}

// Tick advances the ball by one fixed step and returns the resulting snapshot.
// A scoring tick resolves the point (score, win check, re-serve) and returns
// immediately without committing the crossed position.
func (g *Game) Tick() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return g.snapshotLocked()
	}

	scaled := g.speed * BallSpeedScale
	nextX := g.ballX + g.dirX*scaled
	nextY := g.ballY + g.dirY*scaled

	//1.- Bounce off the top and bottom walls, clamping back onto the court.
	if math.Abs(nextY) >= 1.0 {
		g.dirY = -g.dirY
		nextY = clamp(nextY, -1.0, 1.0)
	}

	hit := false
	switch {
	case nextX <= -PaddleX:
		if g.withinPaddleLocked(g.player1.Paddle, nextY) {
			hit = true
			g.bounceLocked(g.player1.Paddle, nextY, 1)
			nextX = -PaddleX + PaddleWidth
		}
	case nextX >= PaddleX:
		if g.withinPaddleLocked(g.player2.Paddle, nextY) {
			hit = true
			g.bounceLocked(g.player2.Paddle, nextY, -1)
			nextX = PaddleX - PaddleWidth
		}
	}

	if !hit {
		//2.- A ball past either court edge scores for the opposing side.
		if nextX < -1.0 {
			g.scoreLocked(g.player2)
			return g.snapshotLocked()
		}
		if nextX > 1.0 {
			g.scoreLocked(g.player1)
			return g.snapshotLocked()
		}
	}

	g.ballX, g.ballY = nextX, nextY
	return g.snapshotLocked()
}

func (g *Game) withinPaddleLocked(paddle, ballY float64) bool {
	half := g.height/2 + collisionTolerance
	return ballY >= paddle-half && ballY <= paddle+half
}

// bounceLocked redirects the ball off a paddle. The bounce angle is
// proportional to how far from the paddle center the ball struck, up to ±60°;
// facing is +1 when the ball should travel right, -1 when left.
func (g *Game) bounceLocked(paddle, ballY, facing float64) {
	relative := clamp((paddle-ballY)/(g.height/2), -1, 1)
	angle := relative * maxBounceAngle
	g.dirX = facing * math.Abs(math.Cos(angle))
	g.dirY = -math.Sin(angle)
	g.speed = math.Min(g.speed*speedUpFactor, float64(g.settings.BallSpeed)*maxSpeedFactor)
}

func (g *Game) scoreLocked(scorer *Player) {
	scorer.Score++
	if scorer.Score >= g.settings.WinningScore {
		g.winner = scorer
		g.active = false
	}
	g.resetBallLocked()
}

// Snapshot returns the current observable state without advancing the game.
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Game) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Ball: BallState{
			X:     g.ballX,
			Y:     g.ballY,
			DirX:  g.dirX,
			DirY:  g.dirY,
			Speed: g.speed,
		},
		Player1: g.playerStateLocked(g.player1),
		Player2: g.playerStateLocked(g.player2),
		Active:  g.active,
	}
	if g.winner != nil {
		snapshot.Winner = &WinnerState{ID: g.winner.ID, Name: g.winner.Name, Score: g.winner.Score}
		if !g.active {
			snapshot.GameOver = true
		}
	}
	return snapshot
}

func (g *Game) playerStateLocked(player *Player) PlayerState {
	return PlayerState{
		Name: player.Name,
		Paddle: PaddleSpan{
			Top:    player.Paddle - g.height/2,
			Bottom: player.Paddle + g.height/2,
			Center: player.Paddle,
		},
		Score: player.Score,
	}
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
