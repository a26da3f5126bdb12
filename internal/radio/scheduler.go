// Package radio keeps an endless stream of freshly seeded compositions queued
// ahead of real-time playback.
package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/satindergrewal/phrasegen/internal/audio"
	"github.com/satindergrewal/phrasegen/internal/composer"
	"github.com/satindergrewal/phrasegen/internal/markov"
	"github.com/satindergrewal/phrasegen/internal/segment"
)

// Composer produces one timeline per seed.
type Composer interface {
	Compose(ctx context.Context, seed uint64) (*composer.Timeline, error)
}

// Queue is the playback side. *audio.Pipeline satisfies it.
type Queue interface {
	Enqueue(t audio.Track)
	QueueSize() int
	Skip()
}

// Recorder receives scheduler metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	SetQueueSize(size int)
	RecordCompositionFailure()
}

// SchedulerConfig holds radio parameters.
type SchedulerConfig struct {
	Seed        uint64        // seed of the first composition; each next one adds 1
	BufferAhead int           // compositions to keep queued
	Poll        time.Duration // wait between queue checks when the buffer is full
	RetryDelay  time.Duration // wait after a failed composition
	Theme       string        // word the compositions are named after
}

// SchedulerStatus is the current state of the radio.
type SchedulerStatus struct {
	NextSeed  uint64 `json:"next_seed"`
	Composed  int    `json:"composed"`
	Failures  int    `json:"failures"`
	QueueSize int    `json:"queue_size"`
	LastName  string `json:"last_name"`
	LastRun   string `json:"last_run"`
}

// Scheduler composes ahead of the playback queue.
type Scheduler struct {
	comp  Composer
	queue Queue
	cfg   SchedulerConfig
	log   log.FieldLogger
	rec   Recorder

	mu       sync.RWMutex
	nextSeed uint64
	composed int
	failures int
	lastName string
	lastRun  string

	seedOverrideCh chan uint64
}

// NewScheduler creates a radio scheduler. A nil logger uses the standard
// logger.
func NewScheduler(comp Composer, queue Queue, cfg SchedulerConfig, logger log.FieldLogger) *Scheduler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.BufferAhead < 1 {
		cfg.BufferAhead = 1
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Scheduler{
		comp:           comp,
		queue:          queue,
		cfg:            cfg,
		log:            logger.WithField("component", "radio"),
		nextSeed:       cfg.Seed,
		seedOverrideCh: make(chan uint64, 1),
	}
}

// SetRecorder attaches metrics. Pass nil to detach.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.rec = r
	s.mu.Unlock()
}

// Status returns the current radio state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SchedulerStatus{
		NextSeed:  s.nextSeed,
		Composed:  s.composed,
		Failures:  s.failures,
		QueueSize: s.queue.QueueSize(),
		LastName:  s.lastName,
		LastRun:   s.lastRun,
	}
}

// SetSeed makes seed the next composition's seed.
func (s *Scheduler) SetSeed(seed uint64) {
	select {
	case s.seedOverrideCh <- seed:
	default:
	}
}

// Skip skips the current composition.
func (s *Scheduler) Skip() {
	s.queue.Skip()
}

// Run keeps the queue filled. Blocks until ctx is cancelled, or until a
// composition fails in a way no other seed can fix, which it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithFields(log.Fields{"seed": s.cfg.Seed, "buffer_ahead": s.cfg.BufferAhead}).Info("Radio started")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case seed := <-s.seedOverrideCh:
			s.mu.Lock()
			s.nextSeed = seed
			s.mu.Unlock()
			s.log.WithField("seed", seed).Info("Next seed manually set")
		default:
		}

		size := s.queue.QueueSize()
		s.recordQueue(size)
		if size < s.cfg.BufferAhead {
			if err := s.composeNext(ctx); err != nil {
				return err
			}
			continue
		}
		if !sleep(ctx, s.cfg.Poll) {
			return nil
		}
	}
}

// composeNext composes and queues one seed. Only errors that make every later
// seed fail too are returned; the rest are counted and skipped.
func (s *Scheduler) composeNext(ctx context.Context) error {
	s.mu.Lock()
	seed := s.nextSeed
	s.nextSeed++
	rec := s.rec
	s.mu.Unlock()

	logger := s.log.WithField("seed", seed)
	logger.Debug("Composing")
	start := time.Now()

	tl, err := s.comp.Compose(ctx, seed)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.mu.Lock()
		s.failures++
		s.mu.Unlock()
		if rec != nil {
			rec.RecordCompositionFailure()
		}
		if fatal(err) {
			logger.WithError(err).Error("Radio stopped")
			return fmt.Errorf("seed %d: %w", seed, err)
		}
		logger.WithError(err).Error("Composition failed")
		sleep(ctx, s.cfg.RetryDelay)
		return nil
	}

	name := TrackName(s.cfg.Theme, seed)
	s.mu.Lock()
	s.composed++
	s.lastName = name
	s.lastRun = tl.ID.String()
	s.mu.Unlock()

	logger.WithFields(log.Fields{
		"run":       tl.ID.String(),
		"name":      name,
		"duration":  tl.Duration().Round(time.Millisecond),
		"composed":  time.Since(start).Round(time.Millisecond),
		"fragments": tl.Len(),
	}).Info("Composition ready")

	s.queue.Enqueue(audio.Track{
		ID:   tl.ID.String(),
		Name: name,
		Seed: seed,
		Clip: tl.Clip(),
	})
	return nil
}

// fatal reports whether err comes from the source recording or the transition
// table rather than from one seed's run.
func fatal(err error) bool {
	return errors.Is(err, segment.ErrResourceNotFound) ||
		errors.Is(err, audio.ErrDecode) ||
		errors.Is(err, segment.ErrInvalidCut) ||
		errors.Is(err, markov.ErrInvalidTable)
}

func (s *Scheduler) recordQueue(size int) {
	s.mu.RLock()
	rec := s.rec
	s.mu.RUnlock()
	if rec != nil {
		rec.SetQueueSize(size)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
