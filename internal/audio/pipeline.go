package audio

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pipeline plays queued compositions as 20ms PCM frames at real-time rate,
// crossfading the tail of each into the head of the next.
type Pipeline struct {
	queue chan Track
	out   chan []int16
	skip  chan struct{}
	log   log.FieldLogger

	mu        sync.RWMutex
	crossfade time.Duration
	now       Track
	position  time.Duration
	duration  time.Duration
	played    int
}

// cursor is a composition and the 20ms frame playback resumes from.
type cursor struct {
	track Track
	frame int
}

// NewPipeline creates an audio pipeline with the given crossfade duration.
func NewPipeline(crossfade time.Duration) *Pipeline {
	return &Pipeline{
		queue:     make(chan Track, 8),
		out:       make(chan []int16, 100),
		skip:      make(chan struct{}, 1),
		log:       log.WithField("component", "pipeline"),
		crossfade: crossfade,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each). It is
// closed when Run returns.
func (p *Pipeline) Frames() <-chan []int16 { return p.out }

// Enqueue adds a composition to the playback queue. Blocks while the queue is full.
func (p *Pipeline) Enqueue(t Track) { p.queue <- t }

// QueueSize returns the number of compositions waiting in the queue.
func (p *Pipeline) QueueSize() int { return len(p.queue) }

// Skip interrupts the current composition.
func (p *Pipeline) Skip() {
	select {
	case p.skip <- struct{}{}:
	default:
	}
}

// SetCrossfade changes the crossfade used from the next composition on.
func (p *Pipeline) SetCrossfade(d time.Duration) {
	p.mu.Lock()
	p.crossfade = d
	p.mu.Unlock()
}

// CrossfadeDuration returns the current crossfade length.
func (p *Pipeline) CrossfadeDuration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.crossfade
}

// Status returns the composition playing now and how far into it playback is.
func (p *Pipeline) Status() (track Track, position, duration time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.now, p.position, p.duration
}

// Played returns how many compositions have started playing.
func (p *Pipeline) Played() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.played
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.out)

	tick := time.NewTicker(FrameDuration)
	defer tick.Stop()

	var cur *cursor
	for ctx.Err() == nil {
		if cur == nil {
			select {
			case <-ctx.Done():
				return
			case t := <-p.queue:
				cur = &cursor{track: t}
			}
		}
		cur = p.play(ctx, tick, *cur)
	}
}

// play sends one composition from c.frame on. When another composition is
// queued by the time the tail starts, the two are crossfaded and the cursor
// into the incoming one is returned.
func (p *Pipeline) play(ctx context.Context, tick *time.Ticker, c cursor) *cursor {
	total := frameCount(c.track.Clip)
	fade := int(p.CrossfadeDuration() / FrameDuration)
	if fade > total/2 {
		fade = total / 2
	}
	tail := total - fade

	p.begin(c.track, total)
	p.log.WithFields(log.Fields{"track": c.track.ID, "seed": c.track.Seed, "frames": total}).Info("Now playing")

	for i := c.frame; i < tail; i++ {
		if !p.emit(ctx, tick, frameAt(c.track.Clip, i), i) {
			return nil
		}
	}

	var next *Track
	select {
	case t := <-p.queue:
		next = &t
	default:
	}
	if next == nil {
		for i := tail; i < total; i++ {
			if !p.emit(ctx, tick, frameAt(c.track.Clip, i), i) {
				return nil
			}
		}
		return nil
	}

	mixed := min(fade, frameCount(next.Clip))
	for i := 0; i < mixed; i++ {
		frame := CrossfadeFrames(frameAt(c.track.Clip, tail+i), frameAt(next.Clip, i), float64(i)/float64(fade))
		if !p.emit(ctx, tick, frame, tail+i) {
			return &cursor{track: *next}
		}
	}
	p.log.WithField("track", next.ID).Info("Crossfaded into next composition")
	return &cursor{track: *next, frame: mixed}
}

// emit waits for the next tick and sends frame, recording idx as the playback
// position. It reports false on skip or cancel.
func (p *Pipeline) emit(ctx context.Context, tick *time.Ticker, frame []int16, idx int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.skip:
		p.log.Info("Composition skipped")
		return false
	case <-tick.C:
	}

	select {
	case p.out <- frame:
	case <-ctx.Done():
		return false
	}
	p.mu.Lock()
	p.position = time.Duration(idx) * FrameDuration
	p.mu.Unlock()
	return true
}

func (p *Pipeline) begin(t Track, frames int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = t
	p.position = 0
	p.duration = time.Duration(frames) * FrameDuration
	p.played++
}

// frameCount is the number of whole 20ms frames in c.
func frameCount(c *Clip) int {
	if c == nil {
		return 0
	}
	return len(c.Samples) / FrameSamples
}

// frameAt returns the i-th 20ms frame of c without copying.
func frameAt(c *Clip, i int) []int16 {
	return c.Samples[i*FrameSamples : (i+1)*FrameSamples]
}
