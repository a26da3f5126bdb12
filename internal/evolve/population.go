package evolve

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/satindergrewal/phrasegen/internal/segment"
)

// Population is a fixed-size set of individuals built from one library.
type Population struct {
	Members []Individual
}

// Len returns the population size.
func (p *Population) Len() int { return len(p.Members) }

// Options tunes the evolution loop.
type Options struct {
	// Extinction: a selection roll in [0,100) above it keeps the fittest
	// member, otherwise the least fit member survives instead.
	Extinction int
	// Mutate: a roll in [0,100) below it rebuilds the survivor.
	Mutate    int
	Statistic Statistic
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{Extinction: 20, Mutate: 40, Statistic: Fold}
}

// Step records what one call to Evolve decided.
type Step struct {
	Fitness  []float64
	Survivor int  // index of the survivor parent, -1 for an empty population
	Fittest  bool // survivor was the best member rather than the worst
	Mutated  bool // survivor was rebuilt and replaced in place
}

// Engine scores and evolves populations.
type Engine struct {
	builder *Builder
	rng     Rand
	opts    Options
	log     log.FieldLogger
}

// NewEngine creates an engine. A nil logger uses the standard logger.
func NewEngine(b *Builder, rng Rand, opts Options, logger log.FieldLogger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{builder: b, rng: rng, opts: opts, log: logger}
}

// Target scores the unmodified segment set.
func (e *Engine) Target(segs []*segment.Segment) float64 {
	return e.opts.Statistic.Of(segs)
}

// Deviation scores one individual.
func (e *Engine) Deviation(ind Individual) float64 {
	return e.opts.Statistic.Of(ind.Segments())
}

// Init builds count independent individuals.
func (e *Engine) Init(segs []*segment.Segment, count int) (*Population, error) {
	p := &Population{Members: make([]Individual, 0, count)}
	for i := 0; i < count; i++ {
		ind, err := e.builder.Build(segs)
		if err != nil {
			return nil, fmt.Errorf("build individual %d: %w", i, err)
		}
		p.Members = append(p.Members, ind)
	}
	return p, nil
}

// Evolve runs one selection and mutation round on p in place. At most one
// member is replaced and the size never changes.
// When the selection roll lands at or below the extinction threshold the
// least fit member survives instead of the fittest.
func (e *Engine) Evolve(p *Population, target float64) (Step, error) {
	step := Step{Survivor: -1, Fitness: make([]float64, p.Len())}
	if p.Len() == 0 {
		return step, nil
	}
	for i, m := range p.Members {
		step.Fitness[i] = Fitness(e.Deviation(m), target)
	}

	if e.rng.IntN(100) > e.opts.Extinction {
		step.Survivor, step.Fittest = argmin(step.Fitness), true
	} else {
		step.Survivor = argmax(step.Fitness)
	}

	if e.rng.IntN(100) < e.opts.Mutate {
		rebuilt, err := e.builder.Build(p.Members[step.Survivor].Segments())
		if err != nil {
			return step, fmt.Errorf("mutate member %d: %w", step.Survivor, err)
		}
		p.Members[step.Survivor] = rebuilt
		step.Mutated = true
	}

	e.log.WithFields(log.Fields{
		"survivor": step.Survivor,
		"fittest":  step.Fittest,
		"mutated":  step.Mutated,
		"fitness":  step.Fitness,
	}).Debug("Evolved population")
	return step, nil
}

// Grade scores the population as a whole: the mean member deviation, rounded
// half to even, against the target.
func (e *Engine) Grade(p *Population, target float64) float64 {
	if p.Len() == 0 {
		return Fitness(0, target)
	}
	devs := make([]float64, p.Len())
	for i, m := range p.Members {
		devs[i] = e.Deviation(m)
	}
	return Fitness(math.RoundToEven(stat.Mean(devs, nil)), target)
}

// Generation is reported once for the initial population and once after every
// evolution step.
type Generation struct {
	Index      int
	Population *Population
	Grade      float64
	Step       *Step // nil for the initial population
}

// Converge evolves p until its grade reaches threshold or maxSteps evolution
// steps have run. Hitting the cap is not an error. onGen may be nil.
func (e *Engine) Converge(p *Population, target, threshold float64, maxSteps int, onGen func(Generation)) (Generation, error) {
	gen := Generation{Index: 0, Population: p, Grade: e.Grade(p, target)}
	if onGen != nil {
		onGen(gen)
	}
	for i := 0; i < maxSteps && gen.Grade < threshold; i++ {
		step, err := e.Evolve(p, target)
		if err != nil {
			return gen, err
		}
		gen = Generation{Index: i + 1, Population: p, Grade: e.Grade(p, target), Step: &step}
		if onGen != nil {
			onGen(gen)
		}
	}
	e.log.WithFields(log.Fields{
		"generations": gen.Index,
		"grade":       gen.Grade,
		"converged":   gen.Grade >= threshold,
	}).Info("Population search finished")
	return gen, nil
}

func argmin(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x < xs[best] {
			best = i
		}
	}
	return best
}

func argmax(xs []float64) int {
	worst := 0
	for i, x := range xs {
		if x > xs[worst] {
			worst = i
		}
	}
	return worst
}
