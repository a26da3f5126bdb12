package markov

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Rand is the randomness a Sequencer draws from. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Fallback decides where the walk goes when no weight in the current row
// reaches the draw.
type Fallback int

const (
	// Stay keeps the current state.
	Stay Fallback = iota
	// Restart jumps back to the seed state.
	Restart
)

// ParseFallback maps a config name to a Fallback.
func ParseFallback(name string) (Fallback, error) {
	switch name {
	case "stay", "":
		return Stay, nil
	case "restart":
		return Restart, nil
	}
	return Stay, fmt.Errorf("unknown fallback %q", name)
}

func (f Fallback) String() string {
	if f == Restart {
		return "restart"
	}
	return "stay"
}

// Options tunes a Sequencer.
type Options struct {
	// Drift is the chance, per step, of nudging the state one position up or
	// down the table after the transition. 0 disables it.
	Drift    float64
	Fallback Fallback
}

// Sequencer generates label sequences from a Table.
type Sequencer struct {
	table *Table
	rng   Rand
	opts  Options
	log   log.FieldLogger
}

// NewSequencer creates a sequencer. A nil logger uses the standard logger.
func NewSequencer(table *Table, rng Rand, opts Options, logger log.FieldLogger) *Sequencer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sequencer{table: table, rng: rng, opts: opts, log: logger}
}

// Generate walks length steps from seed and returns the visited states, not
// including seed itself. An unknown seed starts the walk at the first state.
func (s *Sequencer) Generate(seed string, length int) []string {
	if length <= 0 {
		return []string{}
	}
	start, ok := s.table.Index(seed)
	if !ok {
		s.log.WithField("seed", seed).Warnf("Unknown seed state, starting from %q", s.table.labels[0])
		start = 0
	}

	out := make([]string, 0, length)
	state := start
	for step := 0; step < length; step++ {
		r := s.rng.Float64()
		next, matched := s.table.next(state, r)
		if !matched {
			next = s.fallback(state, start)
			s.log.WithFields(log.Fields{
				"state":    s.table.labels[state],
				"draw":     r,
				"fallback": s.opts.Fallback,
			}).Warn("No transition weight reached the draw")
		}
		if s.opts.Drift > 0 && s.rng.Float64() < s.opts.Drift {
			next = s.drift(next)
		}
		s.log.WithFields(log.Fields{"step": step, "from": s.table.labels[state], "to": s.table.labels[next]}).Debug("Transition")
		state = next
		out = append(out, s.table.labels[state])
	}
	return out
}

func (s *Sequencer) fallback(state, start int) int {
	if s.opts.Fallback == Restart {
		return start
	}
	return state
}

func (s *Sequencer) drift(state int) int {
	n := s.table.Len()
	if s.rng.IntN(2) == 0 {
		return (state + n - 1) % n
	}
	return (state + 1) % n
}
