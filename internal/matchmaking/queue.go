package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"courtline/server/internal/game"
	"courtline/server/internal/logging"
	"courtline/server/internal/protocol"
)

// Conn is the outbound side of a waiting client.
type Conn interface {
	Send(payload []byte) error
}

// Ticket tracks one queued client in arrival order.
type Ticket struct {
	Conn       Conn
	Name       string
	Profile    *protocol.UserProfile
	EnqueuedAt time.Time
}

// Queue pairs waiting clients first-in first-out on a fixed cadence.
type Queue struct {
	mu      sync.Mutex
	waiting []Ticket

	settings func() game.Settings
	interval time.Duration
	now      func() time.Time
	newID    func() string
	logger   *logging.Logger
}

// Option adjusts queue construction.
type Option func(*Queue)

// WithInterval overrides the pairing cadence.
func WithInterval(interval time.Duration) Option {
	return func(q *Queue) {
		if interval > 0 {
			q.interval = interval
		}
	}
}

// WithClock injects a deterministic time source for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDSource injects a deterministic session ID generator for tests.
func WithIDSource(newID func() string) Option {
	return func(q *Queue) {
		if newID != nil {
			q.newID = newID
		}
	}
}

// NewQueue constructs a matchmaking queue. Paired clients receive a
// game_found notification and join the named session themselves.
func NewQueue(settings func() game.Settings, logger *logging.Logger, opts ...Option) *Queue {
	if settings == nil {
		settings = game.DefaultSettings
	}
	if logger == nil {
		logger = logging.L()
	}
	q := &Queue{
		settings: settings,
		interval: time.Second,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a client to the back of the queue. Re-enqueueing an already
// waiting connection keeps its original position.
func (q *Queue) Enqueue(conn Conn, profile *protocol.UserProfile) {
	q.mu.Lock()
	defer q.mu.Unlock()
	//1.- Keep the queue free of duplicates so one client cannot hold two slots.
	for _, ticket := range q.waiting {
		if ticket.Conn == conn {
			return
		}
	}
	name := "anonymous"
	if profile != nil && profile.Username != "" {
		name = profile.Username
	}
	q.waiting = append(q.waiting, Ticket{Conn: conn, Name: name, Profile: profile, EnqueuedAt: q.now()})
	//2.- Acknowledge the enqueue so the client can show a searching state.
	ack, err := protocol.Encode(protocol.Searching{Action: protocol.ActionSearching, Message: "waiting for an opponent"})
	if err == nil {
		if err := conn.Send(ack); err != nil {
			q.logger.Debug("matchmaking ack dropped", logging.Error(err))
		}
	}
	q.logger.Info("player queued for matchmaking",
		logging.String("player", name), logging.Int("waiting", len(q.waiting)))
}

// Remove withdraws a client, typically on cancel_match or disconnect.
func (q *Queue) Remove(conn Conn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, ticket := range q.waiting {
		if ticket.Conn == conn {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.logger.Info("player left matchmaking",
				logging.String("player", ticket.Name), logging.Int("waiting", len(q.waiting)))
			return
		}
	}
}

// Waiting reports the number of queued clients.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Run drives pairing on the configured cadence until the context ends.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Pair()
		}
	}
}

// Pair matches as many waiting couples as possible in arrival order. When a
// notification fails the pair is restored to the front of the queue so arrival
// order survives transient send errors.
func (q *Queue) Pair() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.waiting) >= 2 {
		//1.- Pop the two oldest tickets.
		first, second := q.waiting[0], q.waiting[1]
		q.waiting = q.waiting[2:]

		//2.- Mint the session and tell both clients where to meet.
		gameID := q.newID()
		settings := q.settings()
		if err := q.notifyPair(gameID, settings, first, second); err != nil {
			//3.- Roll the pair back to the front and retry on the next tick.
			q.waiting = append([]Ticket{first, second}, q.waiting...)
			q.logger.Warn("matchmaking notification failed, pair requeued",
				logging.String("game_id", gameID), logging.Error(err))
			return
		}
		q.logger.Info("match found",
			logging.String("game_id", gameID),
			logging.String("player1", first.Name), logging.String("player2", second.Name))
	}
}

func (q *Queue) notifyPair(gameID string, settings game.Settings, first, second Ticket) error {
	notify := func(ticket Ticket, role string) error {
		payload, err := protocol.Encode(protocol.GameFound{
			Action:     protocol.ActionGameFound,
			GameID:     gameID,
			Settings:   settings,
			PlayerRole: role,
			Player1:    first.Name,
			Player2:    second.Name,
		})
		if err != nil {
			return err
		}
		return ticket.Conn.Send(payload)
	}
	if err := notify(first, protocol.RolePlayer1); err != nil {
		return err
	}
	return notify(second, protocol.RolePlayer2)
}
