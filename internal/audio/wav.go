package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

const resampleQuality = 4

// Format is the beep format every clip is rendered in.
var Format = beep.Format{
	SampleRate:  beep.SampleRate(SampleRate),
	NumChannels: Channels,
	Precision:   BitDepth / 8,
}

// DecodeWAVFile opens and decodes a WAV file.
func DecodeWAVFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV reads WAVE data of any rate and channel count and returns it as
// stereo PCM at SampleRate.
func DecodeWAV(r io.Reader) (*Clip, error) {
	s, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer s.Close()

	var streamer beep.Streamer = s
	if format.SampleRate != Format.SampleRate {
		streamer = beep.Resample(resampleQuality, format.SampleRate, Format.SampleRate, s)
	}

	buf := make([][2]float64, 512)
	samples := make([]int16, 0, s.Len()*Channels)
	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			samples = append(samples, floatToSample(buf[i][0]), floatToSample(buf[i][1]))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &Clip{Samples: samples}, nil
}

// EncodeWAV writes c as 16-bit stereo WAVE data.
func EncodeWAV(w io.WriteSeeker, c *Clip) error {
	if err := wav.Encode(w, &clipStreamer{clip: c}, Format); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}

// clipStreamer streams a clip's frames as beep float pairs.
type clipStreamer struct {
	clip *Clip
	pos  int
}

func (s *clipStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	frames := s.clip.Frames()
	if s.pos >= frames {
		return 0, false
	}
	for n < len(samples) && s.pos < frames {
		samples[n][0] = sampleToFloat(s.clip.Samples[s.pos*Channels])
		samples[n][1] = sampleToFloat(s.clip.Samples[s.pos*Channels+1])
		n++
		s.pos++
	}
	return n, true
}

func (s *clipStreamer) Err() error {
	return nil
}

func sampleToFloat(v int16) float64 {
	return float64(v) / math.MaxInt16
}

func floatToSample(f float64) int16 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	return int16(math.Round(f * math.MaxInt16))
}
