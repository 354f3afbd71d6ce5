package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drift-im/drift/internal/store"
)

// Deliverer hands a queued entry to the transport. A nil return means the
// peer acknowledged the envelope.
type Deliverer interface {
	Deliver(ctx context.Context, e store.OutboxEntry) error
}

// Sender drains the outbox on a tick, attempting due entries through the
// transport with a bounded worker pool.
type Sender struct {
	sched   *Scheduler
	deliver Deliverer
	logger  *zap.Logger
	tick    time.Duration
	workers chan struct{}

	mu       sync.Mutex
	inFlight map[string]struct{}

	flush  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a sender. tick <= 0 defaults to 5s, workers <= 0 to 8.
func NewSender(sched *Scheduler, deliver Deliverer, logger *zap.Logger, tick time.Duration, workers int) *Sender {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	if workers <= 0 {
		workers = 8
	}
	return &Sender{
		sched:    sched,
		deliver:  deliver,
		logger:   logger,
		tick:     tick,
		workers:  make(chan struct{}, workers),
		inFlight: make(map[string]struct{}),
		flush:    make(chan struct{}, 1),
	}
}

// Start begins the drain loop.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the loop and waits for in-flight attempts to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// FlushNow requests an immediate drain pass that ignores the retry
// schedule. Attempt counters still advance on failure, so flushing cannot
// bypass the permanent-failure ceiling.
func (s *Sender) FlushNow() {
	select {
	case s.flush <- struct{}{}:
	default:
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processDue(ctx, false)
		case <-s.flush:
			s.processDue(ctx, true)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processDue(ctx context.Context, ignoreSchedule bool) {
	batch, err := s.sched.DueBatch(ignoreSchedule)
	if err != nil {
		s.logger.Error("failed to read due outbox entries", zap.Error(err))
		return
	}

	for _, entry := range batch {
		if ctx.Err() != nil {
			return
		}
		if !s.claim(entry.MessageID) {
			continue
		}
		select {
		case s.workers <- struct{}{}:
		case <-ctx.Done():
			s.release(entry.MessageID)
			return
		}
		s.wg.Add(1)
		go func(e store.OutboxEntry) {
			defer s.wg.Done()
			defer func() { <-s.workers }()
			defer s.release(e.MessageID)
			s.attempt(ctx, e)
		}(entry)
	}
}

func (s *Sender) attempt(ctx context.Context, e store.OutboxEntry) {
	err := s.deliver.Deliver(ctx, e)

	// The entry may have been purged or evicted while the attempt was in
	// flight; a stale outcome must not resurrect it.
	current, dbErr := s.sched.db.GetOutbox(e.MessageID)
	if dbErr != nil {
		s.logger.Error("failed to re-read outbox entry", zap.Error(dbErr), zap.String("message_id", e.MessageID))
		return
	}
	if current == nil {
		return
	}

	if err != nil {
		s.logger.Warn("send attempt failed",
			zap.String("message_id", e.MessageID),
			zap.String("recipient", e.RecipientID),
			zap.Int("attempt", current.AttemptCount+1),
			zap.Error(err))
		if err := s.sched.RecordFailure(current, err); err != nil {
			s.logger.Error("failed to record attempt failure", zap.Error(err), zap.String("message_id", e.MessageID))
		}
		return
	}

	if err := s.sched.RecordSuccess(current); err != nil {
		s.logger.Error("failed to record delivery", zap.Error(err), zap.String("message_id", e.MessageID))
		return
	}
	s.logger.Info("entry delivered",
		zap.String("message_id", e.MessageID),
		zap.String("recipient", e.RecipientID),
		zap.String("kind", e.Kind))
}

func (s *Sender) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Sender) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}
