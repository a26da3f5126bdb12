package evolve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/satindergrewal/phrasegen/internal/segment"
)

// Statistic is the scalar an ordering is scored by.
type Statistic int

const (
	// Fold subtracts every rank from the first, left to right, and takes the
	// absolute value of the result.
	Fold Statistic = iota
	// Skew is the sample skewness of segment durations in seconds.
	Skew
)

// ParseStatistic maps a config name to a Statistic.
func ParseStatistic(name string) (Statistic, error) {
	switch name {
	case "fold", "":
		return Fold, nil
	case "skew":
		return Skew, nil
	}
	return Fold, fmt.Errorf("unknown statistic %q", name)
}

func (s Statistic) String() string {
	if s == Skew {
		return "skew"
	}
	return "fold"
}

// Of computes the statistic over segs in the given order. Orderings too short
// for the statistic to be defined score 0.
func (s Statistic) Of(segs []*segment.Segment) float64 {
	if s == Skew {
		return skew(segs)
	}
	return fold(segs)
}

func fold(segs []*segment.Segment) float64 {
	if len(segs) < 2 {
		return 0
	}
	acc := segs[0].Rank
	for _, seg := range segs[1:] {
		acc -= seg.Rank
	}
	return math.Abs(acc)
}

func skew(segs []*segment.Segment) float64 {
	if len(segs) < 3 {
		return 0
	}
	durations := make([]float64, len(segs))
	for i, seg := range segs {
		durations[i] = seg.Duration().Seconds()
	}
	v := stat.Skew(durations, nil)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Fitness is the distance of a deviation from the target; 0 is a perfect
// match and lower is better.
func Fitness(deviation, target float64) float64 {
	return math.Abs(target - deviation)
}
