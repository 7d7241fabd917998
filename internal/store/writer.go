package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

// WriterConfig holds retry settings for background persistence.
type WriterConfig struct {
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	JobTimeout     time.Duration
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		MaxRetries:     3,
		BaseRetryDelay: 100 * time.Millisecond,
		MaxRetryDelay:  2 * time.Second,
		JobTimeout:     5 * time.Second,
	}
}

type writeJob struct {
	name string
	run  func(ctx context.Context) error
}

// Writer applies store writes in submission order on a single worker so that
// the persisted record follows the in-memory transitions. Submit never blocks.
type Writer struct {
	store  Store
	config WriterConfig

	mu      sync.Mutex
	queue   []writeJob
	closing bool
	wake    chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWriter(st Store, cfg WriterConfig) *Writer {
	return &Writer{
		store:  st,
		config: cfg,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. Jobs submitted before Start are kept.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	log.Println("[writer] Store writer started")
}

func (w *Writer) submit(name string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		log.Printf("[writer] Dropping %s after stop", name)
		return
	}
	w.queue = append(w.queue, writeJob{name: name, run: fn})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) next() (writeJob, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return writeJob{}, false, w.closing
	}
	j := w.queue[0]
	w.queue[0] = writeJob{}
	w.queue = w.queue[1:]
	return j, true, false
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		j, ok, closing := w.next()
		if ok {
			w.process(ctx, j)
			continue
		}
		if closing {
			return
		}
		select {
		case <-w.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Writer) process(ctx context.Context, j writeJob) {
	for attempt := 1; ; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
		err := j.run(jobCtx)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ErrDuplicateMove) || attempt >= w.config.MaxRetries || ctx.Err() != nil {
			log.Printf("[writer] %s failed after %d attempt(s): %v", j.name, attempt, err)
			return
		}
		delay := w.retryDelay(attempt)
		log.Printf("[writer] %s failed (retry %d/%d) in %v: %v", j.name, attempt, w.config.MaxRetries, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (w *Writer) retryDelay(attempt int) time.Duration {
	delay := float64(w.config.BaseRetryDelay) * math.Pow(2, float64(attempt-1))
	if time.Duration(delay) > w.config.MaxRetryDelay {
		return w.config.MaxRetryDelay
	}
	return time.Duration(delay)
}

// Flush blocks until every job submitted before the call has been applied.
func (w *Writer) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	w.submit("flush", func(context.Context) error {
		close(barrier)
		return nil
	})
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the queue and stops the worker.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return nil
	}
	w.closing = true
	w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}

	select {
	case <-w.done:
		log.Println("[writer] Store writer drained")
		return nil
	case <-ctx.Done():
		if w.cancel != nil {
			w.cancel()
		}
		return fmt.Errorf("writer drain: %w", ctx.Err())
	}
}

func (w *Writer) SaveRoom(room models.Room) {
	w.submit("save room "+room.ID, func(ctx context.Context) error {
		return w.store.SaveRoom(ctx, room)
	})
}

func (w *Writer) SaveParticipant(p models.Participant) {
	w.submit("save participant "+p.UserID, func(ctx context.Context) error {
		return w.store.SaveParticipant(ctx, p)
	})
}

func (w *Writer) DeleteParticipant(roomID, userID string) {
	w.submit("delete participant "+userID, func(ctx context.Context) error {
		return w.store.DeleteParticipant(ctx, roomID, userID)
	})
}

// SaveGame snapshots g at submission time.
func (w *Writer) SaveGame(g *models.Game) {
	snapshot := g.Clone()
	w.submit("save game "+g.ID, func(ctx context.Context) error {
		return w.store.SaveGame(ctx, snapshot)
	})
}

func (w *Writer) AppendMove(m models.Move) {
	w.submit(fmt.Sprintf("move %s#%d", m.GameID, m.Sequence), func(ctx context.Context) error {
		return w.store.AppendMove(ctx, m)
	})
}

func (w *Writer) Credit(userID string, amount int64, gameID, reason string) {
	w.submit(reason+" "+userID, func(ctx context.Context) error {
		return w.store.Credit(ctx, userID, amount, gameID, reason)
	})
}
