package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Clip is a run of interleaved stereo PCM at SampleRate. Clips handed out by
// this package are never modified in place; every operation returns a new one.
type Clip struct {
	Samples []int16
}

// NewClip wraps interleaved samples. An odd trailing sample is dropped.
func NewClip(samples []int16) *Clip {
	if len(samples)%Channels != 0 {
		samples = samples[:len(samples)-len(samples)%Channels]
	}
	return &Clip{Samples: samples}
}

// Silence returns a zeroed clip of the given length.
func Silence(d time.Duration) *Clip {
	return &Clip{Samples: make([]int16, framesFor(d)*Channels)}
}

// Frames returns the number of stereo frames in the clip.
func (c *Clip) Frames() int {
	if c == nil {
		return 0
	}
	return len(c.Samples) / Channels
}

// Duration returns the playing time of the clip.
func (c *Clip) Duration() time.Duration {
	return time.Duration(c.Frames()) * time.Second / SampleRate
}

// Clone returns a deep copy.
func (c *Clip) Clone() *Clip {
	if c == nil {
		return &Clip{}
	}
	out := make([]int16, len(c.Samples))
	copy(out, c.Samples)
	return &Clip{Samples: out}
}

// Slice copies the [start, end) range out of the clip. Bounds are clamped to
// the clip; an inverted range yields an empty clip.
func (c *Clip) Slice(start, end time.Duration) *Clip {
	from := clampFrame(framesFor(start), c.Frames())
	to := clampFrame(framesFor(end), c.Frames())
	if to <= from {
		return &Clip{}
	}
	out := make([]int16, (to-from)*Channels)
	copy(out, c.Samples[from*Channels:to*Channels])
	return &Clip{Samples: out}
}

// Concat joins clips end to end into a new clip.
func Concat(clips ...*Clip) *Clip {
	total := 0
	for _, c := range clips {
		total += c.Frames() * Channels
	}
	out := make([]int16, 0, total)
	for _, c := range clips {
		if c != nil {
			out = append(out, c.Samples...)
		}
	}
	return &Clip{Samples: out}
}

func framesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(int64(d) * SampleRate / int64(time.Second))
}

func clampFrame(f, max int) int {
	if f < 0 {
		return 0
	}
	if f > max {
		return max
	}
	return f
}

// Track is one finished composition queued for real-time playback.
type Track struct {
	ID   string
	Name string // display name
	Seed uint64
	Clip *Clip
}
