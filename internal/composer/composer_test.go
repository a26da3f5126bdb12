package composer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/phrasegen/internal/audio"
	"github.com/satindergrewal/phrasegen/internal/evolve"
	"github.com/satindergrewal/phrasegen/internal/markov"
	"github.com/satindergrewal/phrasegen/internal/segment"
)

// fakeFX serves an in-memory source and counts effect calls.
type fakeFX struct {
	audio.Engine
	src       *audio.Clip
	decodeErr error
	decoded   int
	applied   map[audio.Kind]int
}

func newFakeFX() *fakeFX {
	return &fakeFX{src: audio.Silence(8 * time.Second), applied: map[audio.Kind]int{}}
}

func (f *fakeFX) Decode(string) (*audio.Clip, error) {
	f.decoded++
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return f.src, nil
}

func (f *fakeFX) Transform(c *audio.Clip, t audio.Transform) (*audio.Clip, error) {
	f.applied[t.Kind]++
	return f.Engine.Transform(c, t)
}

type recorder struct {
	fragments   int
	generations []int
	completed   int
}

func (r *recorder) OnFragment(Fragment) { r.fragments++ }

func (r *recorder) OnGeneration(g evolve.Generation) {
	r.generations = append(r.generations, g.Index)
}

func (r *recorder) OnComplete(*Timeline) { r.completed++ }

func compose(t *testing.T, cfg Config, seed uint64) *Timeline {
	t.Helper()
	tl, err := New(cfg, newFakeFX(), nil, nil).Compose(context.Background(), seed)
	require.NoError(t, err)
	return tl
}

func labels(frags []Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Label
	}
	return out
}

var phrase = []string{"i", "will", "give", "my", "love", "an", "apple"}

func TestComposeWithoutEvolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IterationCap = 0
	tl := compose(t, cfg, 1)

	require.NotZero(t, tl.Len())
	assert.NotEmpty(t, tl.Section(Intro))
	assert.Len(t, tl.Section(Recap1), 1)
	assert.Len(t, tl.Section(Variation), cfg.PopulationSize*len(phrase), "initial population only")
	assert.Len(t, tl.Section(Recap2), cfg.InvertTail+1)
}

func TestComposePhaseOrder(t *testing.T) {
	tl := compose(t, DefaultConfig(), 7)

	seen := map[Phase]bool{}
	prev := Init
	for i, f := range tl.Fragments() {
		require.GreaterOrEqual(t, int(f.Phase), int(prev), "fragment %d went back from %s to %s", i, prev, f.Phase)
		prev = f.Phase
		seen[f.Phase] = true
	}
	for _, p := range []Phase{Intro, Development, Recap1, Variation, Recap2} {
		assert.True(t, seen[p], "missing %s", p)
	}
	assert.False(t, seen[Init])
	assert.False(t, seen[Done])
}

func TestComposeIsReproducible(t *testing.T) {
	cfg := DefaultConfig()
	a := compose(t, cfg, 42)
	b := compose(t, cfg, 42)

	assert.Equal(t, a.Decisions(), b.Decisions())
	assert.NotEqual(t, a.ID, b.ID)

	c := compose(t, cfg, 43)
	assert.NotEqual(t, a.Decisions(), c.Decisions())
}

func TestComposeReusesComposer(t *testing.T) {
	fx := newFakeFX()
	c := New(DefaultConfig(), fx, nil, nil)

	a, err := c.Compose(context.Background(), 5)
	require.NoError(t, err)
	b, err := c.Compose(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 1, fx.decoded, "source decoded once")
	assert.Equal(t, 2*20, fx.applied[audio.Invert])
	assert.Equal(t, a.Decisions(), b.Decisions())
	require.NotNil(t, c.Library())
	assert.Equal(t, 7, c.Library().Len())
}

func TestIntroLayout(t *testing.T) {
	intro := compose(t, DefaultConfig(), 3).Section(Intro)

	require.NotEmpty(t, intro)
	assert.Equal(t, SourceLabel, intro[0].Label)
	assert.Equal(t, audio.Identity, intro[0].Transform.Kind)

	words := labels(intro[1:])
	assert.Equal(t, phrase, words[:7], "first pass plays each word once")
	assert.Equal(t, phrase, words[len(words)-7:], "closing pass plays each word once")

	// 2 to 4 passes plus the closing pass, with at most one extra per word
	// on passes after the first.
	assert.GreaterOrEqual(t, len(words), 3*7)
	assert.LessOrEqual(t, len(words), 5*7+3*7)
}

func TestIntroDoubling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRepeats, cfg.MaxRepeats = 2, 2

	cfg.RepeatProbability = 0
	assert.Len(t, compose(t, cfg, 9).Section(Intro), 1+3*7)

	cfg.RepeatProbability = 100
	assert.Len(t, compose(t, cfg, 9).Section(Intro), 1+3*7+7)
}

func TestDevelopmentStartsFromSeed(t *testing.T) {
	cfg := DefaultConfig()
	dev := compose(t, cfg, 11).Section(Development)

	require.Len(t, dev, 1+cfg.MarkovSteps)
	assert.Equal(t, "apple", dev[0].Label)
	for _, f := range dev {
		assert.Contains(t, phrase, f.Label)
		assert.Equal(t, audio.Identity, f.Transform.Kind)
	}
}

func TestDevelopmentUnknownSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MarkovSeed = "banana"
	dev := compose(t, cfg, 11).Section(Development)

	require.Len(t, dev, 1+cfg.MarkovSteps)
	assert.Equal(t, "i", dev[0].Label)
}

func TestVariationRecordsEveryGeneration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConvergenceThreshold = 1000
	cfg.IterationCap = 3
	rec := &recorder{}

	tl, err := New(cfg, newFakeFX(), nil, rec).Compose(context.Background(), 2)
	require.NoError(t, err)

	assert.Len(t, tl.Section(Variation), 4*cfg.PopulationSize*len(phrase))
	assert.Equal(t, []int{0, 1, 2, 3}, rec.generations)
	assert.Equal(t, tl.Len(), rec.fragments)
	assert.Equal(t, 1, rec.completed)
}

func TestVariationStopsAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConvergenceThreshold = 0
	rec := &recorder{}

	_, err := New(cfg, newFakeFX(), nil, rec).Compose(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, rec.generations)
}

func TestRecapInvertsTail(t *testing.T) {
	cfg := DefaultConfig()
	tl := compose(t, cfg, 4)
	frags := tl.Fragments()
	recap := tl.Section(Recap2)

	before := frags[:len(frags)-len(recap)]
	tail := before[len(before)-cfg.InvertTail:]
	for i, f := range recap[:cfg.InvertTail] {
		assert.Equal(t, tail[i].Label, f.Label)
		assert.Equal(t, audio.Invert, f.Transform.Kind)
	}

	outro := recap[len(recap)-1]
	assert.Equal(t, SourceLabel, outro.Label)
	assert.Equal(t, audio.Faded(100*time.Millisecond, time.Second), outro.Transform)
}

func TestRecapTailLongerThanTimeline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InvertTail = 100000
	tl := compose(t, cfg, 4)

	recap := tl.Section(Recap2)
	assert.Len(t, recap, tl.Len()-len(recap)+1)
}

func TestComposeMissingSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source = filepath.Join(t.TempDir(), "missing.ogg")

	_, err := New(cfg, audio.Engine{}, nil, nil).Compose(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, segment.ErrResourceNotFound))
}

func TestLoadBeforeCompose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source = filepath.Join(t.TempDir(), "missing.ogg")
	c := New(cfg, audio.Engine{}, nil, nil)
	assert.ErrorIs(t, c.Load(), segment.ErrResourceNotFound)
	assert.Nil(t, c.Library())

	fx := newFakeFX()
	c = New(DefaultConfig(), fx, nil, nil)
	require.NoError(t, c.Load())
	require.NotNil(t, c.Library())
	require.NoError(t, c.Load())
	_, err := c.Compose(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.decoded, "source decoded once")
}

func TestComposeDecodeFailure(t *testing.T) {
	fx := newFakeFX()
	fx.decodeErr = audio.ErrDecode

	_, err := New(DefaultConfig(), fx, nil, nil).Compose(context.Background(), 1)
	assert.ErrorIs(t, err, audio.ErrDecode)
}

func TestComposeTableWithoutSegments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cuts = segment.Phrase[:2]

	_, err := New(cfg, newFakeFX(), nil, nil).Compose(context.Background(), 1)
	assert.ErrorIs(t, err, markov.ErrInvalidTable)
}

func TestComposeCustomScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cuts = []segment.CutPoint{
		{Label: "hello", StartMs: 0, EndMs: 400, Rank: 1},
		{Label: "world", StartMs: 400, EndMs: 900, Rank: 3},
	}
	table, err := markov.NewTable([]string{"hello", "world"}, [][]float64{{0.2, 0.8}, {0.6, 0.4}})
	require.NoError(t, err)
	cfg.Table = table
	cfg.MarkovSeed = "hello"

	tl := compose(t, cfg, 8)
	// Every ordering of two words deviates by exactly the target, so the
	// search never reaches the threshold and runs to the cap.
	assert.Len(t, tl.Section(Variation), 4*cfg.PopulationSize*2)
	for _, f := range tl.Section(Development) {
		assert.Contains(t, []string{"hello", "world"}, f.Label)
	}
}

func TestComposeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultConfig(), newFakeFX(), nil, nil).Compose(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimelineClip(t *testing.T) {
	tl := compose(t, DefaultConfig(), 6)
	assert.Equal(t, tl.Duration(), tl.Clip().Duration())
	assert.Equal(t, tl.Len(), len(tl.Decisions()))
	assert.Equal(t, uint64(6), tl.Seed)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "development", Development.String())
	assert.Equal(t, "recap2", Recap2.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
	assert.Equal(t, "intro/give/reverse", Decision{Phase: Intro, Label: "give", Transform: "reverse"}.String())
}
