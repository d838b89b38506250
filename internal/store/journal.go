package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cloudpico-relay/internal/types"
)

const DefaultJournalQueue = 64

type journalOp struct {
	accepted  *types.Reading
	confirmID string
	attempts  int
	at        time.Time
}

// Journal writes to the repository from its own goroutine so the control
// loop never waits on disk. Failed or dropped writes are logged and
// otherwise ignored.
type Journal struct {
	repo   ReadingRepository
	logger *slog.Logger
	ops    chan journalOp

	mu      sync.Mutex
	dropped int
}

func NewJournal(repo ReadingRepository, queue int, logger *slog.Logger) *Journal {
	if queue <= 0 {
		queue = DefaultJournalQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{repo: repo, logger: logger, ops: make(chan journalOp, queue)}
}

// Accepted queues a newly accepted reading.
func (j *Journal) Accepted(r types.Reading) {
	j.enqueue(journalOp{accepted: &r})
}

// Confirmed queues the acknowledgment of reading id.
func (j *Journal) Confirmed(id string, attempts int, at time.Time) {
	j.enqueue(journalOp{confirmID: id, attempts: attempts, at: at})
}

// Dropped returns the number of writes lost to a full queue.
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Run applies queued writes until ctx is done, then drains what is left.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case op := <-j.ops:
			j.apply(op)
		case <-ctx.Done():
			for {
				select {
				case op := <-j.ops:
					j.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) enqueue(op journalOp) {
	select {
	case j.ops <- op:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
		j.logger.Warn("journal: queue full, dropping write")
	}
}

func (j *Journal) apply(op journalOp) {
	if op.accepted != nil {
		if err := j.repo.RecordAccepted(*op.accepted); err != nil {
			j.logger.Error("journal: record reading", "id", op.accepted.ID, "error", err)
		}
		return
	}
	if err := j.repo.MarkConfirmed(op.confirmID, op.attempts, op.at); err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrNotFound) {
			level = slog.LevelWarn
		}
		j.logger.Log(context.Background(), level, "journal: mark confirmed", "id", op.confirmID, "error", err)
	}
}
