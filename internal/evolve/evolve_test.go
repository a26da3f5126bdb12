package evolve

import (
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/phrasegen/internal/audio"
	"github.com/satindergrewal/phrasegen/internal/segment"
)

// scripted replays fixed IntN rolls and never reorders on Shuffle.
type scripted struct {
	rolls []int
}

func (s *scripted) IntN(n int) int {
	r := s.rolls[0]
	s.rolls = s.rolls[1:]
	return r % n
}

func (s *scripted) Shuffle(int, func(i, j int)) {}

func (s *scripted) Uint64() uint64 { return 0 }

func seg(label string, rank float64, dur time.Duration) *segment.Segment {
	c := audio.Silence(dur)
	for i := range c.Samples {
		c.Samples[i] = int16(i % 100)
	}
	return &segment.Segment{Label: label, Rank: rank, End: dur, Payload: c}
}

func phrase() []*segment.Segment {
	out := make([]*segment.Segment, len(segment.Phrase))
	for i, c := range segment.Phrase {
		out[i] = &segment.Segment{
			Index: i, Label: c.Label, Rank: c.Rank, Start: c.Start(), End: c.End(),
			Payload: audio.Silence(c.End() - c.Start()),
		}
	}
	return out
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// --- Builder ---

func TestBuildIsPermutation(t *testing.T) {
	segs := phrase()
	b := NewBuilder(audio.Engine{}, seeded(3), DefaultBuilderOptions())
	ind, err := b.Build(segs)
	require.NoError(t, err)

	got := ind.Labels()
	want := []string{"i", "will", "give", "my", "love", "an", "apple"}
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestBuildTransformPattern(t *testing.T) {
	b := NewBuilder(audio.Engine{}, seeded(9), DefaultBuilderOptions())
	ind, err := b.Build(phrase())
	require.NoError(t, err)

	kinds := make([]audio.Kind, len(ind.Genes))
	for i, g := range ind.Genes {
		kinds[i] = g.Transform.Kind
	}
	assert.Equal(t, []audio.Kind{
		audio.Reverse, audio.Identity, audio.Reverse, audio.Fade,
		audio.Reverse, audio.Identity, audio.Reverse,
	}, kinds)
	assert.Equal(t, 400*time.Millisecond, ind.Genes[3].Transform.FadeIn)
	assert.Equal(t, 100*time.Millisecond, ind.Genes[3].Transform.FadeOut)
}

func TestBuildDeterministic(t *testing.T) {
	segs := phrase()
	a, err := NewBuilder(audio.Engine{}, seeded(11), DefaultBuilderOptions()).Build(segs)
	require.NoError(t, err)
	b, err := NewBuilder(audio.Engine{}, seeded(11), DefaultBuilderOptions()).Build(segs)
	require.NoError(t, err)

	assert.Equal(t, a.Labels(), b.Labels())
	for i := range a.Genes {
		assert.Equal(t, a.Genes[i].Transform, b.Genes[i].Transform)
	}
}

func TestBuildLeavesSharedPayloadAlone(t *testing.T) {
	s := seg("x", 1, 10*time.Millisecond)
	before := append([]int16(nil), s.Payload.Samples...)

	ind, err := NewBuilder(audio.Engine{}, &scripted{}, DefaultBuilderOptions()).Build([]*segment.Segment{s})
	require.NoError(t, err)

	assert.Equal(t, audio.Reverse, ind.Genes[0].Transform.Kind)
	assert.Equal(t, before, s.Payload.Samples)
	assert.NotSame(t, s.Payload, ind.Genes[0].Payload)
	assert.Same(t, s, ind.Genes[0].Segment)
}

func TestBuildNoiseInjection(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.NoiseEvery = 2
	segs := phrase()[:4]

	ind, err := NewBuilder(audio.Engine{}, &scripted{}, opts).Build(segs)
	require.NoError(t, err)

	assert.Equal(t, []string{"i", "will", "noise", "give", "my", "noise"}, ind.Labels())
	assert.Len(t, ind.Segments(), 4)
	assert.Equal(t, audio.Noise, ind.Genes[2].Transform.Kind)
	assert.Equal(t, opts.NoiseLength, ind.Genes[2].Payload.Duration())
}

func TestBuildEmpty(t *testing.T) {
	ind, err := NewBuilder(audio.Engine{}, seeded(1), DefaultBuilderOptions()).Build(nil)
	require.NoError(t, err)
	assert.Empty(t, ind.Genes)
}

// --- Statistics ---

func TestFold(t *testing.T) {
	segs := []*segment.Segment{seg("a", 0.35, time.Millisecond), seg("b", 0.65, time.Millisecond), seg("c", 0.9, time.Millisecond)}
	assert.InDelta(t, 1.2, Fold.Of(segs), 1e-9)
	assert.Zero(t, Fold.Of(segs[:1]))
	assert.Zero(t, Fold.Of(nil))
}

func TestPhraseTarget(t *testing.T) {
	e := NewEngine(nil, nil, DefaultOptions(), nil)
	segs := phrase()
	assert.InDelta(t, 4.4, e.Target(segs), 1e-9)
	assert.Less(t, e.Target(segs), 4.5, "default threshold is out of reach")

	segs[len(segs)-1].Rank = 1100
	assert.InDelta(t, 1103.3, e.Target(segs), 1e-9)
}

func TestSkew(t *testing.T) {
	even := []*segment.Segment{
		seg("a", 0, 100*time.Millisecond), seg("b", 0, 200*time.Millisecond), seg("c", 0, 300*time.Millisecond),
	}
	assert.InDelta(t, 0, Skew.Of(even), 1e-9)

	right := []*segment.Segment{
		seg("a", 0, 100*time.Millisecond), seg("b", 0, 100*time.Millisecond), seg("c", 0, 900*time.Millisecond),
	}
	assert.Greater(t, Skew.Of(right), 0.0)

	same := []*segment.Segment{seg("a", 0, time.Second), seg("b", 0, time.Second), seg("c", 0, time.Second)}
	assert.Zero(t, Skew.Of(same), "zero spread has no defined skew")
	assert.Zero(t, Skew.Of(right[:2]))
}

func TestParseStatistic(t *testing.T) {
	s, err := ParseStatistic("skew")
	require.NoError(t, err)
	assert.Equal(t, Skew, s)
	s, err = ParseStatistic("")
	require.NoError(t, err)
	assert.Equal(t, Fold, s)
	_, err = ParseStatistic("kurtosis")
	assert.Error(t, err)
}

func TestFitness(t *testing.T) {
	for _, tt := range []struct{ d, target, want float64 }{
		{2, 2, 0},
		{1, 4.4, 3.4},
		{7, 4.4, 2.6},
	} {
		got := Fitness(tt.d, tt.target)
		assert.InDelta(t, tt.want, got, 1e-9)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Equal(t, got, Fitness(tt.d, tt.target))
	}
}

func TestTwoSegmentScenario(t *testing.T) {
	segs := []*segment.Segment{seg("a", 1.0, time.Millisecond), seg("b", 3.0, time.Millisecond)}
	e := NewEngine(NewBuilder(audio.Engine{}, seeded(5), DefaultBuilderOptions()), seeded(5), DefaultOptions(), nil)

	target := e.Target(segs)
	assert.Equal(t, 2.0, target)

	p, err := e.Init(segs, 1)
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())
	assert.Equal(t, 2.0, e.Deviation(p.Members[0]))
	assert.Equal(t, 0.0, Fitness(e.Deviation(p.Members[0]), target))
}

// --- Evolution ---

// ranks a=1 b=3 c=10: the fold depends only on the first rank, |2*first - 14|,
// so a-first scores 12, b-first 8, c-first 6.
func trio() (a, b, c *segment.Segment) {
	return seg("a", 1, time.Millisecond), seg("b", 3, time.Millisecond), seg("c", 10, time.Millisecond)
}

func individual(segs ...*segment.Segment) Individual {
	genes := make([]Gene, len(segs))
	for i, s := range segs {
		genes[i] = Gene{Segment: s, Payload: s.Payload}
	}
	return Individual{Genes: genes}
}

func TestEvolveKeepsFittest(t *testing.T) {
	a, b, c := trio()
	p := &Population{Members: []Individual{individual(a, b, c), individual(c, a, b), individual(b, c, a)}}
	rng := &scripted{rolls: []int{50, 99}}
	e := NewEngine(NewBuilder(audio.Engine{}, rng, DefaultBuilderOptions()), rng, DefaultOptions(), nil)

	step, err := e.Evolve(p, 6)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 0, 2}, step.Fitness)
	assert.Equal(t, 1, step.Survivor)
	assert.True(t, step.Fittest)
	assert.False(t, step.Mutated)
	assert.Equal(t, []string{"c", "a", "b"}, p.Members[1].Labels())
}

func TestEvolveExtinctionKeepsLeastFit(t *testing.T) {
	a, b, c := trio()
	p := &Population{Members: []Individual{individual(c, a, b), individual(a, b, c), individual(b, c, a)}}
	before := []Individual{p.Members[0], p.Members[1], p.Members[2]}
	rng := &scripted{rolls: []int{20, 0}}
	e := NewEngine(NewBuilder(audio.Engine{}, rng, DefaultBuilderOptions()), rng, DefaultOptions(), nil)

	step, err := e.Evolve(p, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, step.Survivor, "roll at the threshold selects the worst member")
	assert.False(t, step.Fittest)
	assert.True(t, step.Mutated)

	require.Equal(t, 3, p.Len())
	assert.Equal(t, before[0], p.Members[0])
	assert.Equal(t, before[2], p.Members[2])
	assert.Equal(t, []string{"a", "b", "c"}, p.Members[1].Labels())
	assert.Equal(t, audio.Reverse, p.Members[1].Genes[0].Transform.Kind, "mutant is rebuilt with effects")
}

func TestEvolveTiesPickFirst(t *testing.T) {
	a, b, c := trio()
	p := &Population{Members: []Individual{individual(b, a, c), individual(b, c, a)}}
	rng := &scripted{rolls: []int{99, 99}}
	e := NewEngine(NewBuilder(audio.Engine{}, rng, DefaultBuilderOptions()), rng, DefaultOptions(), nil)

	step, err := e.Evolve(p, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, step.Survivor)
}

func TestEvolveEmpty(t *testing.T) {
	e := NewEngine(nil, &scripted{}, DefaultOptions(), nil)
	step, err := e.Evolve(&Population{}, 1)
	require.NoError(t, err)
	assert.Equal(t, -1, step.Survivor)
}

func TestEvolveSizeInvariant(t *testing.T) {
	segs := phrase()
	rng := seeded(21)
	e := NewEngine(NewBuilder(audio.Engine{}, rng, DefaultBuilderOptions()), rng, DefaultOptions(), nil)
	p, err := e.Init(segs, 5)
	require.NoError(t, err)
	target := e.Target(segs)

	for i := 0; i < 50; i++ {
		before := append([]Individual(nil), p.Members...)
		_, err := e.Evolve(p, target)
		require.NoError(t, err)
		require.Equal(t, 5, p.Len())

		changed := 0
		for j := range before {
			if &before[j].Genes[0] != &p.Members[j].Genes[0] {
				changed++
			}
		}
		assert.LessOrEqual(t, changed, 1)
	}
}

func TestGradeRoundsHalfToEven(t *testing.T) {
	p := &Population{Members: []Individual{
		individual(seg("a", 1, time.Millisecond), seg("b", 3, time.Millisecond)), // 2
		individual(seg("c", 1, time.Millisecond), seg("d", 4, time.Millisecond)), // 3
	}}
	e := NewEngine(nil, nil, DefaultOptions(), nil)
	assert.Equal(t, 0.0, e.Grade(p, 2))
	assert.Equal(t, 2.0, e.Grade(&Population{}, 2))
}

func TestConvergeCapZero(t *testing.T) {
	segs := phrase()
	rng := seeded(4)
	e := NewEngine(NewBuilder(audio.Engine{}, rng, DefaultBuilderOptions()), rng, DefaultOptions(), nil)
	p, err := e.Init(segs, 4)
	require.NoError(t, err)

	var gens []Generation
	last, err := e.Converge(p, e.Target(segs), 1000, 0, func(g Generation) { gens = append(gens, g) })
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Nil(t, gens[0].Step)
	assert.Equal(t, 0, last.Index)
}

func TestConvergeStopsAtCap(t *testing.T) {
	segs := phrase()
	rng := seeded(4)
	e := NewEngine(NewBuilder(audio.Engine{}, rng, DefaultBuilderOptions()), rng, DefaultOptions(), nil)
	p, err := e.Init(segs, 4)
	require.NoError(t, err)

	calls := 0
	last, err := e.Converge(p, e.Target(segs), 1000, 3, func(Generation) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, last.Index)
	assert.Equal(t, 4, p.Len())
}

func TestConvergeStopsWhenGradeReached(t *testing.T) {
	segs := phrase()
	rng := seeded(4)
	e := NewEngine(NewBuilder(audio.Engine{}, rng, DefaultBuilderOptions()), rng, DefaultOptions(), nil)
	p, err := e.Init(segs, 4)
	require.NoError(t, err)

	calls := 0
	_, err = e.Converge(p, e.Target(segs), 0, 3, func(Generation) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
