package audio

import "time"

// Engine is the PCM implementation of the decode, slice and transform
// capabilities the composer works through.
type Engine struct{}

// Decode loads a recording from disk.
func (Engine) Decode(path string) (*Clip, error) {
	return DecodeFile(path)
}

// Slice cuts [start, end) out of c.
func (Engine) Slice(c *Clip, start, end time.Duration) (*Clip, error) {
	return c.Slice(start, end), nil
}

// Transform applies t to a copy of c.
func (Engine) Transform(c *Clip, t Transform) (*Clip, error) {
	return Apply(c, t)
}
