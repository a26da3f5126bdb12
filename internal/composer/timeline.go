package composer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/phrasegen/internal/audio"
)

// Phase is a section of a composition. Phases only move forward.
type Phase int

const (
	Init Phase = iota
	Intro
	Development
	Recap1
	Variation
	Recap2
	Done
)

var phaseNames = [...]string{"init", "intro", "development", "recap1", "variation", "recap2", "done"}

func (p Phase) String() string {
	if p < Init || p > Done {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// SourceLabel marks fragments taken straight from the source recording.
const SourceLabel = "source"

// Fragment is one piece of audio in a timeline.
type Fragment struct {
	Phase     Phase
	Label     string
	Transform audio.Transform
	Clip      *audio.Clip
}

// Decision is the audio-free record of a fragment: which word was placed in
// which section with which effect.
type Decision struct {
	Phase     Phase
	Label     string
	Transform string
}

func (d Decision) String() string {
	return fmt.Sprintf("%s/%s/%s", d.Phase, d.Label, d.Transform)
}

// Timeline is the ordered output of one composition run. It only grows while
// the run is in progress and is read-only afterwards.
type Timeline struct {
	ID        uuid.UUID
	Seed      uint64
	fragments []Fragment
}

func newTimeline(seed uint64) *Timeline {
	return &Timeline{ID: uuid.New(), Seed: seed}
}

func (t *Timeline) append(f Fragment) {
	t.fragments = append(t.fragments, f)
}

// Len returns the number of fragments.
func (t *Timeline) Len() int { return len(t.fragments) }

// Fragments returns the fragments in playback order.
func (t *Timeline) Fragments() []Fragment {
	return append([]Fragment(nil), t.fragments...)
}

// Section returns the fragments of one phase.
func (t *Timeline) Section(p Phase) []Fragment {
	var out []Fragment
	for _, f := range t.fragments {
		if f.Phase == p {
			out = append(out, f)
		}
	}
	return out
}

// Decisions lists (phase, label, transform) for every fragment. Two runs with
// the same seed and inputs produce identical decisions.
func (t *Timeline) Decisions() []Decision {
	out := make([]Decision, len(t.fragments))
	for i, f := range t.fragments {
		out[i] = Decision{Phase: f.Phase, Label: f.Label, Transform: f.Transform.String()}
	}
	return out
}

// Duration is the summed length of all fragments.
func (t *Timeline) Duration() time.Duration {
	frames := 0
	for _, f := range t.fragments {
		frames += f.Clip.Frames()
	}
	return time.Duration(frames) * time.Second / audio.SampleRate
}

// Clip renders the timeline into one continuous clip.
func (t *Timeline) Clip() *audio.Clip {
	clips := make([]*audio.Clip, len(t.fragments))
	for i, f := range t.fragments {
		clips[i] = f.Clip
	}
	return audio.Concat(clips...)
}
