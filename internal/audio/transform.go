package audio

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Kind names an effect that can be applied to a clip.
type Kind int

const (
	Identity Kind = iota
	Reverse
	Fade
	Invert
	Noise
)

func (k Kind) String() string {
	switch k {
	case Identity:
		return "identity"
	case Reverse:
		return "reverse"
	case Fade:
		return "fade"
	case Invert:
		return "invert"
	case Noise:
		return "noise"
	}
	return "unknown"
}

// Transform is an effect together with its parameters. The zero value is the
// identity transform.
type Transform struct {
	Kind    Kind
	FadeIn  time.Duration // Fade only
	FadeOut time.Duration // Fade only
	Length  time.Duration // Noise only
	Seed    uint64        // Noise only
}

// Faded returns a fade transform.
func Faded(in, out time.Duration) Transform {
	return Transform{Kind: Fade, FadeIn: in, FadeOut: out}
}

// NoiseBurst returns a transform that replaces its input with white noise.
func NoiseBurst(length time.Duration, seed uint64) Transform {
	return Transform{Kind: Noise, Length: length, Seed: seed}
}

func (t Transform) String() string {
	switch t.Kind {
	case Fade:
		return fmt.Sprintf("fade(%s,%s)", t.FadeIn, t.FadeOut)
	case Noise:
		return fmt.Sprintf("noise(%s)", t.Length)
	}
	return t.Kind.String()
}

// Apply runs t over a copy of c.
func Apply(c *Clip, t Transform) (*Clip, error) {
	switch t.Kind {
	case Identity:
		return c.Clone(), nil
	case Reverse:
		return reverse(c), nil
	case Fade:
		return fade(c, t.FadeIn, t.FadeOut), nil
	case Invert:
		return invert(c), nil
	case Noise:
		return noise(t.Length, t.Seed), nil
	}
	return nil, fmt.Errorf("unknown transform kind %d", t.Kind)
}

// reverse flips frame order and keeps channel order inside each frame.
func reverse(c *Clip) *Clip {
	out := c.Clone()
	n := out.Frames()
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		for ch := 0; ch < Channels; ch++ {
			a, b := i*Channels+ch, j*Channels+ch
			out.Samples[a], out.Samples[b] = out.Samples[b], out.Samples[a]
		}
	}
	return out
}

// fade ramps the head up from silence and the tail down to silence along the
// smoothstep curve. Ramps longer than the clip are cut to its length.
func fade(c *Clip, in, out time.Duration) *Clip {
	res := c.Clone()
	n := res.Frames()
	inFrames := clampFrame(framesFor(in), n)
	outFrames := clampFrame(framesFor(out), n)

	for i := 0; i < inFrames; i++ {
		scaleFrame(res.Samples, i, Smoothstep(float64(i)/float64(inFrames)))
	}
	for i := 0; i < outFrames; i++ {
		frame := n - outFrames + i
		scaleFrame(res.Samples, frame, Smoothstep(float64(outFrames-i-1)/float64(outFrames)))
	}
	return res
}

func scaleFrame(samples []int16, frame int, gain float64) {
	for ch := 0; ch < Channels; ch++ {
		idx := frame*Channels + ch
		samples[idx] = int16(float64(samples[idx]) * gain)
	}
}

func invert(c *Clip) *Clip {
	out := c.Clone()
	for i, s := range out.Samples {
		if s == -32768 {
			out.Samples[i] = 32767
			continue
		}
		out.Samples[i] = -s
	}
	return out
}

const noiseAmplitude = 0.25

// noise generates a white noise burst, identical for identical seeds.
func noise(length time.Duration, seed uint64) *Clip {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := Silence(length)
	for i := range out.Samples {
		out.Samples[i] = int16((rng.Float64()*2 - 1) * noiseAmplitude * 32767)
	}
	return out
}
