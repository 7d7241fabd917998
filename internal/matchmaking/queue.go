// Package matchmaking pairs players waiting at the same bet tier, oldest first.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

var DefaultTiers = []int64{5000, 10000, 50000, 100000, 1000000, 10000000}

// Matcher turns a popped pair into a game, returning the room it was started in,
// and hears about tickets dropped after a failed pairing.
type Matcher interface {
	Match(ctx context.Context, older, newer models.Ticket) (string, error)
	Rejected(userID string, bet int64, err error)
}

// BalanceFunc reports a user's coins.
type BalanceFunc func(ctx context.Context, userID string) (int64, error)

// Result tells the enqueuing user where they stand. RoomID is set once matched.
type Result struct {
	Matched   bool
	RoomID    string
	Position  int
	BetAmount int64
}

type Queue struct {
	tiers   map[int64]bool
	balance BalanceFunc
	matcher Matcher

	mu     sync.Mutex
	queues map[int64][]models.Ticket
	byUser map[string]int64
	now    func() time.Time
}

func New(tiers []int64, balance BalanceFunc, matcher Matcher) *Queue {
	allowed := make(map[int64]bool, len(tiers))
	for _, t := range tiers {
		allowed[t] = true
	}
	return &Queue{
		tiers:   allowed,
		balance: balance,
		matcher: matcher,
		queues:  make(map[int64][]models.Ticket),
		byUser:  make(map[string]int64),
		now:     time.Now,
	}
}

func (q *Queue) Tiers() []int64 {
	out := make([]int64, 0, len(q.tiers))
	for t := range q.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Enqueue places userID at bet, replacing any earlier ticket. If another user is
// waiting at the same tier the two are handed to the matcher.
func (q *Queue) Enqueue(ctx context.Context, userID string, bet int64) (Result, error) {
	if !q.tiers[bet] {
		return Result{}, models.ErrInvalidBetAmount
	}
	coins, err := q.balance(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("balance for %s: %w", userID, err)
	}
	if coins < bet {
		return Result{}, &models.InsufficientCoinsError{UserID: userID, Balance: coins, Needed: bet}
	}

	ticket := models.Ticket{UserID: userID, BetAmount: bet, EnqueuedAt: q.now()}

	q.mu.Lock()
	q.removeLocked(userID)
	waiting := q.queues[bet]
	if len(waiting) == 0 {
		q.queues[bet] = append(waiting, ticket)
		q.byUser[userID] = bet
		pos := len(q.queues[bet])
		q.mu.Unlock()
		log.Printf("[matchmaking] %s waiting at %d (position %d)", userID, bet, pos)
		return Result{Position: pos, BetAmount: bet}, nil
	}
	older := waiting[0]
	if len(waiting) == 1 {
		delete(q.queues, bet)
	} else {
		q.queues[bet] = waiting[1:]
	}
	delete(q.byUser, older.UserID)
	q.mu.Unlock()

	log.Printf("[matchmaking] Pairing %s with %s at %d", older.UserID, userID, bet)
	roomID, err := q.matcher.Match(ctx, older, ticket)
	if err == nil {
		return Result{Matched: true, RoomID: roomID, BetAmount: bet}, nil
	}

	var short *models.InsufficientCoinsError
	if errors.As(err, &short) && short.UserID == older.UserID {
		q.pushFront(ticket)
		q.matcher.Rejected(older.UserID, bet, err)
		log.Printf("[matchmaking] %s could not cover %d, %s keeps the head of the tier", older.UserID, bet, userID)
		return Result{Position: 1, BetAmount: bet}, nil
	}

	q.pushFront(older)
	log.Printf("[matchmaking] Pairing %s with %s failed: %v", older.UserID, userID, err)
	return Result{}, err
}

func (q *Queue) pushFront(t models.Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(t.UserID)
	q.queues[t.BetAmount] = append([]models.Ticket{t}, q.queues[t.BetAmount]...)
	q.byUser[t.UserID] = t.BetAmount
}

func (q *Queue) removeLocked(userID string) bool {
	bet, ok := q.byUser[userID]
	if !ok {
		return false
	}
	delete(q.byUser, userID)
	waiting := q.queues[bet]
	for i, t := range waiting {
		if t.UserID == userID {
			q.queues[bet] = append(waiting[:i:i], waiting[i+1:]...)
			break
		}
	}
	if len(q.queues[bet]) == 0 {
		delete(q.queues, bet)
	}
	return true
}

// Dequeue removes the user's ticket, reporting whether one existed.
func (q *Queue) Dequeue(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(userID)
}

// Position is 1-based; zero means not queued.
func (q *Queue) Position(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	bet, ok := q.byUser[userID]
	if !ok {
		return 0
	}
	for i, t := range q.queues[bet] {
		if t.UserID == userID {
			return i + 1
		}
	}
	return 0
}

func (q *Queue) Sizes() map[int64]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[int64]int, len(q.queues))
	for bet, waiting := range q.queues {
		out[bet] = len(waiting)
	}
	return out
}
