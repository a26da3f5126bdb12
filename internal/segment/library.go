// Package segment cuts a source recording into labeled, ranked word segments.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/satindergrewal/phrasegen/internal/audio"
)

var (
	// ErrResourceNotFound means the source recording could not be located.
	ErrResourceNotFound = audio.ErrNotFound
	// ErrInvalidCut means a cut point is malformed.
	ErrInvalidCut = errors.New("invalid cut point")
)

// CutPoint is one hand-authored entry of a cut table. Overlap between cut
// points is not checked; keeping them apart is up to whoever writes the table.
type CutPoint struct {
	Label   string  `yaml:"label"`
	StartMs int     `yaml:"start_ms"`
	EndMs   int     `yaml:"end_ms"`
	Rank    float64 `yaml:"rank"`
}

// Start returns the start offset as a duration.
func (c CutPoint) Start() time.Duration { return time.Duration(c.StartMs) * time.Millisecond }

// End returns the end offset as a duration.
func (c CutPoint) End() time.Duration { return time.Duration(c.EndMs) * time.Millisecond }

// Segment is a labeled slice of the source recording. Segments are shared by
// pointer and must not be modified after Cut returns them.
type Segment struct {
	Index   int // position in the cut table
	Label   string
	Rank    float64
	Start   time.Duration
	End     time.Duration
	Payload *audio.Clip
}

// Duration returns the length of the cut range.
func (s *Segment) Duration() time.Duration { return s.End - s.Start }

func (s *Segment) String() string {
	return fmt.Sprintf("%s[%s-%s]", s.Label, s.Start, s.End)
}

// Slicer extracts a time range from a decoded recording.
type Slicer interface {
	Slice(c *audio.Clip, start, end time.Duration) (*audio.Clip, error)
}

// Decoder loads a recording from a path.
type Decoder interface {
	Decode(path string) (*audio.Clip, error)
}

// Library holds the segments of one recording in cut-table order.
type Library struct {
	Source   *audio.Clip
	segments []*Segment
	byLabel  map[string]*Segment
}

// Load decodes the recording at path and cuts it.
func Load(path string, cuts []CutPoint, codec interface {
	Decoder
	Slicer
}) (*Library, error) {
	src, err := codec.Decode(path)
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", path, err)
	}
	return Cut(src, cuts, codec)
}

// Cut slices src according to cuts. It returns exactly one segment per cut
// point.
func Cut(src *audio.Clip, cuts []CutPoint, s Slicer) (*Library, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no source recording", ErrResourceNotFound)
	}
	lib := &Library{
		Source:   src,
		segments: make([]*Segment, 0, len(cuts)),
		byLabel:  make(map[string]*Segment, len(cuts)),
	}
	for i, c := range cuts {
		if err := validate(c); err != nil {
			return nil, fmt.Errorf("cut %d: %w", i, err)
		}
		if _, dup := lib.byLabel[c.Label]; dup {
			return nil, fmt.Errorf("cut %d: %w: duplicate label %q", i, ErrInvalidCut, c.Label)
		}
		payload, err := s.Slice(src, c.Start(), c.End())
		if err != nil {
			return nil, fmt.Errorf("cut %q: %w", c.Label, err)
		}
		seg := &Segment{
			Index:   i,
			Label:   c.Label,
			Rank:    c.Rank,
			Start:   c.Start(),
			End:     c.End(),
			Payload: payload,
		}
		lib.segments = append(lib.segments, seg)
		lib.byLabel[c.Label] = seg
	}
	return lib, nil
}

func validate(c CutPoint) error {
	switch {
	case c.Label == "":
		return fmt.Errorf("%w: empty label", ErrInvalidCut)
	case c.StartMs < 0:
		return fmt.Errorf("%w: %q starts at %dms", ErrInvalidCut, c.Label, c.StartMs)
	case c.EndMs <= c.StartMs:
		return fmt.Errorf("%w: %q ends at %dms, before its start %dms", ErrInvalidCut, c.Label, c.EndMs, c.StartMs)
	}
	return nil
}

// Segments returns the segments in cut-table order. The slice is a copy; the
// segments are shared.
func (l *Library) Segments() []*Segment {
	out := make([]*Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

// Labels returns the segment labels in cut-table order.
func (l *Library) Labels() []string {
	out := make([]string, len(l.segments))
	for i, s := range l.segments {
		out[i] = s.Label
	}
	return out
}

// Get looks a segment up by label.
func (l *Library) Get(label string) (*Segment, bool) {
	s, ok := l.byLabel[label]
	return s, ok
}

// Len returns the number of segments.
func (l *Library) Len() int { return len(l.segments) }
