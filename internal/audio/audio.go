package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultRate is the sample rate used for everything the pipeline synthesizes.
const DefaultRate = 22050

// ErrNotWAV is returned when a file is not a decodable PCM WAV.
var ErrNotWAV = errors.New("not a valid wav file")

// Clip is mono 16-bit PCM.
type Clip struct {
	Rate    int
	Samples []int
}

// Duration is the playing time of c.
func (c Clip) Duration() time.Duration {
	if c.Rate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.Rate)
}

// Seconds is Duration in floating seconds.
func (c Clip) Seconds() float64 {
	if c.Rate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.Rate)
}

// Read decodes a WAV file and folds it down to mono 16-bit.
func Read(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Clip{}, ErrNotWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return Clip{}, ErrNotWAV
	}
	channels := buf.Format.NumChannels
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}

	frames := len(buf.Data) / channels
	out := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += to16(buf.Data[i*channels+c], depth)
		}
		out[i] = sum / channels
	}
	return Clip{Rate: buf.Format.SampleRate, Samples: out}, nil
}

func to16(v, depth int) int {
	switch depth {
	case 8:
		return (v - 128) << 8
	case 24:
		return v >> 8
	case 32:
		return v >> 16
	default:
		return v
	}
}

// Write encodes c as a mono 16-bit WAV file.
func Write(path string, c Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	enc := wav.NewEncoder(f, c.Rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.Rate},
		Data:           c.Samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}

// FromPCM16 wraps raw little-endian mono 16-bit samples.
func FromPCM16(raw []byte, rate int) Clip {
	n := len(raw) / 2
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
	return Clip{Rate: rate, Samples: out}
}

// PCM16 returns the samples as little-endian bytes.
func (c Clip) PCM16() []byte {
	out := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamp16(s))))
	}
	return out
}

// Silence returns d of silence.
func Silence(rate int, d time.Duration) Clip {
	return Clip{Rate: rate, Samples: make([]int, samplesFor(rate, d))}
}

// Pad synthesizes a soft chord of freqs with a slow tremolo.
func Pad(rate int, d time.Duration, freqs []float64, amplitude float64) Clip {
	n := samplesFor(rate, d)
	out := make([]int, n)
	if len(freqs) == 0 {
		return Clip{Rate: rate, Samples: out}
	}
	scale := amplitude * 32767 / float64(len(freqs))
	for i := 0; i < n; i++ {
		t := float64(i) / float64(rate)
		tremolo := 0.8 + 0.2*math.Sin(2*math.Pi*0.25*t)
		v := 0.0
		for _, f := range freqs {
			v += math.Sin(2 * math.Pi * f * t)
		}
		out[i] = clamp16(int(v * scale * tremolo))
	}
	return Clip{Rate: rate, Samples: out}
}

// Fit loops or trims c to exactly d.
func Fit(c Clip, d time.Duration) Clip {
	n := samplesFor(c.Rate, d)
	out := make([]int, n)
	if len(c.Samples) == 0 {
		return Clip{Rate: c.Rate, Samples: out}
	}
	for i := range out {
		out[i] = c.Samples[i%len(c.Samples)]
	}
	return Clip{Rate: c.Rate, Samples: out}
}

// Fade applies linear fade in and fade out ramps.
func Fade(c Clip, in, out time.Duration) Clip {
	res := Clip{Rate: c.Rate, Samples: append([]int(nil), c.Samples...)}
	n := len(res.Samples)
	fin := min(samplesFor(c.Rate, in), n)
	fout := min(samplesFor(c.Rate, out), n)
	for i := 0; i < fin; i++ {
		res.Samples[i] = res.Samples[i] * i / fin
	}
	for i := 0; i < fout; i++ {
		idx := n - 1 - i
		res.Samples[idx] = res.Samples[idx] * i / fout
	}
	return res
}

// Gain scales c by g (1.0 is unchanged).
func Gain(c Clip, g float64) Clip {
	res := Clip{Rate: c.Rate, Samples: make([]int, len(c.Samples))}
	for i, s := range c.Samples {
		res.Samples[i] = clamp16(int(float64(s) * g))
	}
	return res
}

// Peak is the largest absolute sample in c.
func Peak(c Clip) int {
	peak := 0
	for _, s := range c.Samples {
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	return peak
}

// Normalize scales c so its loudest sample sits at target of full scale.
// Silent clips are returned unchanged.
func Normalize(c Clip, target float64) Clip {
	peak := Peak(c)
	if peak == 0 || target <= 0 {
		return Clip{Rate: c.Rate, Samples: append([]int(nil), c.Samples...)}
	}
	return Gain(c, target*math.MaxInt16/float64(peak))
}

// Resample converts c to rate with linear interpolation.
func Resample(c Clip, rate int) Clip {
	if c.Rate == rate || c.Rate <= 0 || len(c.Samples) == 0 {
		return Clip{Rate: rate, Samples: append([]int(nil), c.Samples...)}
	}
	n := int(int64(len(c.Samples)) * int64(rate) / int64(c.Rate))
	out := make([]int, n)
	ratio := float64(c.Rate) / float64(rate)
	last := len(c.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = c.Samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(float64(c.Samples[j])*(1-frac) + float64(c.Samples[j+1])*frac)
	}
	return Clip{Rate: rate, Samples: out}
}

// Mix overlays bed under base. The result has base's rate and length.
func Mix(base, bed Clip) Clip {
	bed = Resample(bed, base.Rate)
	out := Clip{Rate: base.Rate, Samples: make([]int, len(base.Samples))}
	for i, s := range base.Samples {
		if i < len(bed.Samples) {
			s += bed.Samples[i]
		}
		out.Samples[i] = clamp16(s)
	}
	return out
}

func samplesFor(rate int, d time.Duration) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(int64(d) * int64(rate) / int64(time.Second))
}

func clamp16(v int) int {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}
