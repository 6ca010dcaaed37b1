package audio

import (
	"fmt"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
)

// BitDepth is the sample resolution every decoded segment is normalized to
const BitDepth = 16

// Segment is a block of interleaved 16-bit PCM samples
type Segment struct {
	buf *goaudio.IntBuffer
}

// NewSegment builds a segment from interleaved 16-bit samples
func NewSegment(sampleRate, channels int, samples []int) (*Segment, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}
	return &Segment{buf: &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}}, nil
}

func (s *Segment) SampleRate() int {
	return s.buf.Format.SampleRate
}

func (s *Segment) Channels() int {
	return s.buf.Format.NumChannels
}

// Frames is the number of samples per channel
func (s *Segment) Frames() int {
	return len(s.buf.Data) / s.Channels()
}

// Duration is the playback length of the segment
func (s *Segment) Duration() time.Duration {
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate())
}

// Samples exposes the interleaved sample data
func (s *Segment) Samples() []int {
	return s.buf.Data
}

// Buffer exposes the underlying go-audio buffer
func (s *Segment) Buffer() *goaudio.IntBuffer {
	return s.buf
}

// Concat appends segments in order. The result takes the sample rate and channel
// layout of the first segment; later segments are converted to match.
func Concat(segments ...*Segment) (*Segment, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no segments to concatenate")
	}
	first := segments[0]
	total := 0
	for _, seg := range segments {
		total += seg.Frames() * first.Channels()
	}

	out := make([]int, 0, total)
	for _, seg := range segments {
		converted := convert(seg, first.SampleRate(), first.Channels())
		out = append(out, converted...)
	}
	return NewSegment(first.SampleRate(), first.Channels(), out)
}

// Silence returns a zero-filled segment of duration d in the format of like
func Silence(d time.Duration, like *Segment) *Segment {
	frames := 0
	if d > 0 {
		frames = int(math.Round(d.Seconds() * float64(like.SampleRate())))
	}
	seg, _ := NewSegment(like.SampleRate(), like.Channels(), make([]int, frames*like.Channels()))
	return seg
}

func convert(seg *Segment, rate, channels int) []int {
	data := seg.Samples()
	if seg.Channels() != channels {
		data = remix(data, seg.Channels(), channels)
	}
	if seg.SampleRate() != rate {
		data = resample(data, channels, seg.SampleRate(), rate)
	}
	return data
}

// remix maps between channel layouts: downmix averages, upmix repeats the last channel
func remix(data []int, from, to int) []int {
	frames := len(data) / from
	out := make([]int, frames*to)
	for f := 0; f < frames; f++ {
		src := data[f*from : (f+1)*from]
		if to < from && to == 1 {
			sum := 0
			for _, v := range src {
				sum += v
			}
			out[f] = sum / from
			continue
		}
		for c := 0; c < to; c++ {
			if c < from {
				out[f*to+c] = src[c]
			} else {
				out[f*to+c] = src[from-1]
			}
		}
	}
	return out
}

// resample converts sample rate with linear interpolation
func resample(data []int, channels, from, to int) []int {
	inFrames := len(data) / channels
	if inFrames == 0 {
		return nil
	}
	outFrames := int(math.Round(float64(inFrames) * float64(to) / float64(from)))
	out := make([]int, outFrames*channels)
	step := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		if i >= inFrames-1 {
			i = inFrames - 1
			frac = 0
		}
		for c := 0; c < channels; c++ {
			a := float64(data[i*channels+c])
			b := a
			if i+1 < inFrames {
				b = float64(data[(i+1)*channels+c])
			}
			out[f*channels+c] = int(math.Round(a + (b-a)*frac))
		}
	}
	return out
}

// to16 rescales a sample from its source bit depth to 16 bits
func to16(v, depth int) int {
	switch {
	case depth == 8:
		return (v - 128) << 8
	case depth > 16:
		return v >> (depth - 16)
	case depth < 16:
		return v << (16 - depth)
	default:
		return v
	}
}
