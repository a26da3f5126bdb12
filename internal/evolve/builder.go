// Package evolve searches orderings of phrase segments with a small
// mutation-and-selection loop scored against a deviation target.
package evolve

import (
	"fmt"
	"time"

	"github.com/satindergrewal/phrasegen/internal/audio"
	"github.com/satindergrewal/phrasegen/internal/segment"
)

// Rand is the randomness the builder and engine draw from. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
	Uint64() uint64
}

// Transformer applies an effect to a copy of a clip.
type Transformer interface {
	Transform(c *audio.Clip, t audio.Transform) (*audio.Clip, error)
}

// Gene is one position of an individual: a shared segment, the effect chosen
// for it and the effected copy of its payload. Injected noise has no segment.
type Gene struct {
	Segment   *segment.Segment
	Transform audio.Transform
	Payload   *audio.Clip
}

// Label names the gene's segment, or "noise".
func (g Gene) Label() string {
	if g.Segment == nil {
		return "noise"
	}
	return g.Segment.Label
}

// Individual is one candidate ordering of the segment set.
type Individual struct {
	Genes []Gene
}

// Segments returns the segments in order, skipping injected noise.
func (ind Individual) Segments() []*segment.Segment {
	out := make([]*segment.Segment, 0, len(ind.Genes))
	for _, g := range ind.Genes {
		if g.Segment != nil {
			out = append(out, g.Segment)
		}
	}
	return out
}

// Labels returns every gene's label in order.
func (ind Individual) Labels() []string {
	out := make([]string, len(ind.Genes))
	for i, g := range ind.Genes {
		out[i] = g.Label()
	}
	return out
}

// BuilderOptions tunes individual construction.
type BuilderOptions struct {
	FadeIn  time.Duration
	FadeOut time.Duration
	// NoiseEvery splices a noise burst after every NoiseEvery-th segment.
	// 0 disables noise injection.
	NoiseEvery  int
	NoiseLength time.Duration
}

// DefaultBuilderOptions fades with a 400ms head and a 100ms tail and injects
// no noise.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		FadeIn:      400 * time.Millisecond,
		FadeOut:     100 * time.Millisecond,
		NoiseLength: 150 * time.Millisecond,
	}
}

// Builder produces randomized, effected orderings of a segment set.
type Builder struct {
	fx   Transformer
	rng  Rand
	opts BuilderOptions
}

// NewBuilder creates a builder.
func NewBuilder(fx Transformer, rng Rand, opts BuilderOptions) *Builder {
	return &Builder{fx: fx, rng: rng, opts: opts}
}

// TransformAt returns the effect for position j of a shuffled ordering:
// reverse on even positions, fade on odd multiples of three, nothing else.
func (b *Builder) TransformAt(j int) audio.Transform {
	switch {
	case j%2 == 0:
		return audio.Transform{Kind: audio.Reverse}
	case j%3 == 0:
		return audio.Faded(b.opts.FadeIn, b.opts.FadeOut)
	}
	return audio.Transform{}
}

// Build shuffles segs and effects each position. Shared segment payloads are
// never modified.
func (b *Builder) Build(segs []*segment.Segment) (Individual, error) {
	order := append([]*segment.Segment(nil), segs...)
	b.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	genes := make([]Gene, 0, len(order))
	for j, seg := range order {
		t := b.TransformAt(j)
		payload, err := b.fx.Transform(seg.Payload, t)
		if err != nil {
			return Individual{}, fmt.Errorf("transform %s with %s: %w", seg.Label, t, err)
		}
		genes = append(genes, Gene{Segment: seg, Transform: t, Payload: payload})

		if b.opts.NoiseEvery > 0 && (j+1)%b.opts.NoiseEvery == 0 {
			nt := audio.NoiseBurst(b.opts.NoiseLength, b.rng.Uint64())
			burst, err := b.fx.Transform(nil, nt)
			if err != nil {
				return Individual{}, fmt.Errorf("noise burst: %w", err)
			}
			genes = append(genes, Gene{Transform: nt, Payload: burst})
		}
	}
	return Individual{Genes: genes}, nil
}
