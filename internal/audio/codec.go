package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"
	FormatOGG = "ogg"

	wavFormatPCM = 1
)

// ErrUnsupportedFormat is returned for container formats the codec cannot handle
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Options configures the codec
type Options struct {
	FFmpegPath string
	Timeout    time.Duration
	Bitrate    string
	// Decoded ffmpeg output uses this rate and channel layout
	SampleRate int
	Channels   int
}

// Codec decodes and encodes clips. WAV and MP3 decoding are done in-process,
// everything else goes through ffmpeg.
type Codec struct {
	ffmpeg *FFmpeg
	opts   Options
}

// NewCodec creates a codec with defaults filled in
func NewCodec(opts Options) *Codec {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Bitrate == "" {
		opts.Bitrate = "192k"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.Channels <= 0 {
		opts.Channels = 2
	}
	return &Codec{
		ffmpeg: &FFmpeg{Path: opts.FFmpegPath, Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Decode turns clip bytes of the given container format into PCM
func (c *Codec) Decode(ctx context.Context, data []byte, format string) (*Segment, error) {
	switch strings.ToLower(format) {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	case FormatOGG:
		return c.decodeFFmpeg(ctx, data, format)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Concat joins segments in order
func (c *Codec) Concat(segments ...*Segment) (*Segment, error) {
	return Concat(segments...)
}

// Silence produces a silent segment matching like
func (c *Codec) Silence(d time.Duration, like *Segment) *Segment {
	return Silence(d, like)
}

// Encode renders a segment into the given container format
func (c *Codec) Encode(ctx context.Context, seg *Segment, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatWAV:
		return encodeWAV(seg)
	case FormatMP3:
		return c.ffmpeg.Run(ctx, pcmBytes(seg), rawInputArgs(seg),
			"-c:a", "libmp3lame", "-b:a", c.opts.Bitrate, "-f", "mp3")
	case FormatOGG:
		return c.ffmpeg.Run(ctx, pcmBytes(seg), rawInputArgs(seg),
			"-c:a", "libvorbis", "-b:a", c.opts.Bitrate, "-f", "ogg")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decodeWAV(data []byte) (*Segment, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("invalid wav data")
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("wav audio format %d is not PCM", d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, fmt.Errorf("wav has no channels")
	}

	depth := int(d.BitDepth)
	samples := buf.Data
	if depth != BitDepth {
		samples = make([]int, len(buf.Data))
		for i, v := range buf.Data {
			samples[i] = to16(v, depth)
		}
	}
	frames := len(samples) / buf.Format.NumChannels
	return NewSegment(buf.Format.SampleRate, buf.Format.NumChannels, samples[:frames*buf.Format.NumChannels])
}

func decodeMP3(data []byte) (*Segment, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid mp3 data: %w", err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo
	return NewSegment(d.SampleRate(), 2, samplesFromPCM(raw, 2))
}

func (c *Codec) decodeFFmpeg(ctx context.Context, data []byte, format string) (*Segment, error) {
	raw, err := c.ffmpeg.Run(ctx, data, []string{"-f", format},
		"-ar", fmt.Sprint(c.opts.SampleRate), "-ac", fmt.Sprint(c.opts.Channels),
		"-c:a", "pcm_s16le", "-f", "s16le")
	if err != nil {
		return nil, err
	}
	return NewSegment(c.opts.SampleRate, c.opts.Channels, samplesFromPCM(raw, c.opts.Channels))
}

func encodeWAV(seg *Segment) ([]byte, error) {
	f, err := os.CreateTemp("", "lessoncast-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create wav buffer: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, seg.SampleRate(), BitDepth, seg.Channels(), wavFormatPCM)
	if err := enc.Write(seg.Buffer()); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

func rawInputArgs(seg *Segment) []string {
	return []string{"-f", "s16le", "-ar", fmt.Sprint(seg.SampleRate()), "-ac", fmt.Sprint(seg.Channels())}
}

func pcmBytes(seg *Segment) []byte {
	out := make([]byte, len(seg.Samples())*2)
	for i, v := range seg.Samples() {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamp16(v))))
	}
	return out
}

func samplesFromPCM(raw []byte, channels int) []int {
	n := len(raw) / 2
	n -= n % channels
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
	return out
}

func clamp16(v int) int {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

// CheckFFmpeg reports whether the formats that need ffmpeg can be handled
func (c *Codec) CheckFFmpeg() error {
	return c.ffmpeg.Available()
}
