// Package composer assembles a composition from a recorded phrase: a raw
// introduction, a Markov development, an audible population search and an
// inverted recap, in that order.
package composer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/satindergrewal/phrasegen/internal/audio"
	"github.com/satindergrewal/phrasegen/internal/evolve"
	"github.com/satindergrewal/phrasegen/internal/markov"
	"github.com/satindergrewal/phrasegen/internal/segment"
)

// Effects is everything the composer needs from the audio layer.
// audio.Engine is the production implementation.
type Effects interface {
	Decode(path string) (*audio.Clip, error)
	Slice(c *audio.Clip, start, end time.Duration) (*audio.Clip, error)
	Transform(c *audio.Clip, t audio.Transform) (*audio.Clip, error)
}

// Observer is told about a run as it progresses. Calls happen on the
// composing goroutine.
type Observer interface {
	OnFragment(f Fragment)
	OnGeneration(g evolve.Generation)
	OnComplete(t *Timeline)
}

// Range is a stretch of the source recording.
type Range struct {
	Start, End time.Duration
}

// Config controls a composition. Zero-valued Cuts and Table fall back to the
// built-in phrase.
type Config struct {
	Source string
	Cuts   []segment.CutPoint
	Table  *markov.Table

	Intro  Range
	Recap1 Range
	Outro  Range

	OutroFadeIn  time.Duration
	OutroFadeOut time.Duration

	// Each word is played MinRepeats to MaxRepeats times in the intro.
	MinRepeats int
	MaxRepeats int
	// Percent chance, on every pass after the first, that a word is doubled.
	RepeatProbability int

	MarkovSeed  string
	MarkovSteps int
	Markov      markov.Options

	PopulationSize       int
	ConvergenceThreshold float64
	IterationCap         int
	Evolve               evolve.Options
	Builder              evolve.BuilderOptions

	// InvertTail is how many trailing fragments the final recap replays
	// phase-inverted.
	InvertTail int
}

// DefaultConfig returns the stock composition settings for the built-in phrase.
func DefaultConfig() Config {
	return Config{
		Source:               "I will give my love an apple.ogg",
		Intro:                Range{Start: 2000 * time.Millisecond, End: 25000 * time.Millisecond},
		Recap1:               Range{Start: 2500 * time.Millisecond, End: 16000 * time.Millisecond},
		Outro:                Range{Start: 2000 * time.Millisecond, End: 25000 * time.Millisecond},
		OutroFadeIn:          100 * time.Millisecond,
		OutroFadeOut:         1000 * time.Millisecond,
		MinRepeats:           2,
		MaxRepeats:           4,
		RepeatProbability:    20,
		MarkovSeed:           "apple",
		MarkovSteps:          27,
		PopulationSize:       4,
		ConvergenceThreshold: 4.5,
		IterationCap:         3,
		Evolve:               evolve.DefaultOptions(),
		Builder:              evolve.DefaultBuilderOptions(),
		InvertTail:           20,
	}
}

// Composer builds timelines. The source recording is decoded once and reused
// across runs. A Composer is not safe for concurrent use.
type Composer struct {
	cfg Config
	fx  Effects
	log log.FieldLogger
	obs Observer

	lib   *segment.Library
	table *markov.Table
}

// New creates a composer. A nil logger uses the standard logger; obs may be nil.
func New(cfg Config, fx Effects, logger log.FieldLogger, obs Observer) *Composer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Cuts == nil {
		cfg.Cuts = segment.Phrase
	}
	if cfg.MaxRepeats < cfg.MinRepeats {
		cfg.MaxRepeats = cfg.MinRepeats
	}
	return &Composer{cfg: cfg, fx: fx, log: logger, obs: obs, table: cfg.Table}
}

// Library returns the loaded segment library, or nil before the first run.
func (c *Composer) Library() *segment.Library { return c.lib }

// Compose runs every phase once with randomness seeded from seed. A missing
// or undecodable source is fatal. Failing to converge is not.
func (c *Composer) Compose(ctx context.Context, seed uint64) (*Timeline, error) {
	if err := c.Load(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	tl := newTimeline(seed)
	runLog := c.log.WithFields(log.Fields{"run": tl.ID.String(), "seed": seed})
	builder := evolve.NewBuilder(c.fx, rng, c.cfg.Builder)
	r := &run{
		Composer: c,
		rng:      rng,
		seq:      markov.NewSequencer(c.table, rng, c.cfg.Markov, runLog),
		engine:   evolve.NewEngine(builder, rng, c.cfg.Evolve, runLog),
		tl:       tl,
		phase:    Init,
		log:      runLog,
	}
	r.target = r.engine.Target(c.lib.Segments())
	r.log.WithFields(log.Fields{
		"segments":  c.lib.Len(),
		"target":    r.target,
		"statistic": c.cfg.Evolve.Statistic,
	}).Info("Composition started")

	steps := []struct {
		phase Phase
		fn    func() error
	}{
		{Intro, r.intro},
		{Development, r.development},
		{Recap1, r.recap1},
		{Variation, r.variation},
		{Recap2, r.recap2},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.enter(s.phase); err != nil {
			return nil, err
		}
		if err := s.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.phase, err)
		}
	}
	if err := r.enter(Done); err != nil {
		return nil, err
	}

	r.log.WithFields(log.Fields{
		"fragments": r.tl.Len(),
		"duration":  r.tl.Duration().Round(time.Millisecond),
	}).Info("Composition finished")
	if c.obs != nil {
		c.obs.OnComplete(r.tl)
	}
	return r.tl, nil
}

// Load decodes and cuts the source recording and checks the transition table
// against it. Compose calls it on first use; callers that must fail fast on a
// missing or undecodable source call it up front. Later calls are no-ops once
// a load has succeeded.
func (c *Composer) Load() error {
	if c.lib != nil {
		return nil
	}
	lib, err := segment.Load(c.cfg.Source, c.cfg.Cuts, c.fx)
	if err != nil {
		return err
	}
	if c.table == nil {
		c.table, err = markov.NewTable(lib.Labels(), markov.PhraseWeights)
		if err != nil {
			return fmt.Errorf("default transition table: %w", err)
		}
	}
	for _, l := range c.table.Labels() {
		if _, ok := lib.Get(l); !ok {
			return fmt.Errorf("%w: state %q has no segment", markov.ErrInvalidTable, l)
		}
	}
	c.lib = lib
	return nil
}

// run holds the state of one Compose call.
type run struct {
	*Composer
	rng    *rand.Rand
	seq    *markov.Sequencer
	engine *evolve.Engine
	tl     *Timeline
	phase  Phase
	target float64
	log    log.FieldLogger
}

func (r *run) enter(p Phase) error {
	if p <= r.phase {
		return fmt.Errorf("cannot move from %s back to %s", r.phase, p)
	}
	r.log.WithFields(log.Fields{"phase": p, "fragments": r.tl.Len()}).Debug("Entering phase")
	r.phase = p
	return nil
}

func (r *run) add(f Fragment) {
	f.Phase = r.phase
	r.tl.append(f)
	if r.obs != nil {
		r.obs.OnFragment(f)
	}
}

func (r *run) word(seg *segment.Segment) {
	r.add(Fragment{Label: seg.Label, Clip: seg.Payload})
}

func (r *run) source(rg Range, t audio.Transform) error {
	clip, err := r.fx.Slice(r.lib.Source, rg.Start, rg.End)
	if err != nil {
		return fmt.Errorf("slice source %s-%s: %w", rg.Start, rg.End, err)
	}
	if t.Kind != audio.Identity {
		if clip, err = r.fx.Transform(clip, t); err != nil {
			return fmt.Errorf("%s source: %w", t, err)
		}
	}
	r.add(Fragment{Label: SourceLabel, Transform: t, Clip: clip})
	return nil
}

func (r *run) intro() error {
	if err := r.source(r.cfg.Intro, audio.Transform{}); err != nil {
		return err
	}
	segs := r.lib.Segments()
	repeats := r.cfg.MinRepeats + r.rng.IntN(r.cfg.MaxRepeats-r.cfg.MinRepeats+1)
	doubled := 0
	for pass := 0; pass < repeats; pass++ {
		for _, seg := range segs {
			r.word(seg)
			if pass > 0 && r.rng.IntN(100) < r.cfg.RepeatProbability {
				r.word(seg)
				doubled++
			}
		}
	}
	for _, seg := range segs {
		r.word(seg)
	}
	r.log.WithFields(log.Fields{"phase": Intro, "repeats": repeats, "doubled": doubled}).Info("Intro laid out")
	return nil
}

func (r *run) development() error {
	seed := r.cfg.MarkovSeed
	if _, ok := r.table.Index(seed); !ok {
		seed = r.table.Labels()[0]
	}
	first, _ := r.lib.Get(seed)
	r.word(first)

	labels := r.seq.Generate(r.cfg.MarkovSeed, r.cfg.MarkovSteps)
	for _, l := range labels {
		seg, _ := r.lib.Get(l)
		r.word(seg)
	}
	r.log.WithFields(log.Fields{"phase": Development, "label": seed, "steps": len(labels)}).Info("Development generated")
	return nil
}

func (r *run) recap1() error {
	return r.source(r.cfg.Recap1, audio.Transform{})
}

func (r *run) variation() error {
	pop, err := r.engine.Init(r.lib.Segments(), r.cfg.PopulationSize)
	if err != nil {
		return err
	}
	last, err := r.engine.Converge(pop, r.target, r.cfg.ConvergenceThreshold, r.cfg.IterationCap, func(g evolve.Generation) {
		for _, m := range g.Population.Members {
			for _, gene := range m.Genes {
				r.add(Fragment{Label: gene.Label(), Transform: gene.Transform, Clip: gene.Payload})
			}
		}
		r.log.WithFields(log.Fields{"phase": Variation, "generation": g.Index, "grade": g.Grade}).Debug("Generation appended")
		if r.obs != nil {
			r.obs.OnGeneration(g)
		}
	})
	if err != nil {
		return err
	}
	r.log.WithFields(log.Fields{
		"phase":      Variation,
		"generation": last.Index,
		"grade":      last.Grade,
	}).Info("Variation finished")
	return nil
}

func (r *run) recap2() error {
	frags := r.tl.fragments
	from := len(frags) - r.cfg.InvertTail
	if from < 0 {
		from = 0
	}
	tail := append([]Fragment(nil), frags[from:]...)
	inv := audio.Transform{Kind: audio.Invert}
	for _, f := range tail {
		clip, err := r.fx.Transform(f.Clip, inv)
		if err != nil {
			return fmt.Errorf("invert %s: %w", f.Label, err)
		}
		r.add(Fragment{Label: f.Label, Transform: inv, Clip: clip})
	}
	return r.source(r.cfg.Outro, audio.Faded(r.cfg.OutroFadeIn, r.cfg.OutroFadeOut))
}
