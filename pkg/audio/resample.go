package audio

import (
	"encoding/binary"
	"math"
)

// sincHalfWidth is the number of zero crossings of the interpolation kernel on
// each side of the output position, measured at the lower of the two rates.
const sincHalfWidth = 16

// Resample converts a mono 16-bit frame to toRate using windowed-sinc
// interpolation. It returns pcm itself (bit-exact) when the rates match.
//
// The output of Resample on a buffer equals the concatenated output of a
// [Resampler] fed the same buffer in arbitrary pieces and then flushed.
func Resample(pcm AudioFrame, toRate int) AudioFrame {
	if pcm.SampleRate == toRate {
		return pcm
	}
	mustMono16(pcm)
	r := NewResampler(pcm.SampleRate, toRate)
	data := r.Process(pcm.Data)
	data = append(data, r.Flush()...)
	return AudioFrame{Data: data, SampleRate: toRate, Channels: 1, Timestamp: pcm.Timestamp}
}

// Resampler is a streaming windowed-sinc sample rate converter for mono
// 16-bit PCM. It keeps enough input history between calls that chunk
// boundaries leave no discontinuities in the output.
//
// A Resampler is not safe for concurrent use; create one per stream direction.
type Resampler struct {
	from, to int
	cutoff   float64 // normalised to the input Nyquist frequency
	radius   float64 // kernel support in input samples

	hist     []float64 // input samples starting at global index base
	base     int64
	received int64 // total input samples seen
	produced int64 // total output samples emitted
}

// NewResampler returns a streaming converter from one sample rate to another.
// Rates must be positive.
func NewResampler(fromRate, toRate int) *Resampler {
	if fromRate <= 0 || toRate <= 0 {
		panic("audio: resampler rates must be positive")
	}
	cutoff := 1.0
	if toRate < fromRate {
		cutoff = float64(toRate) / float64(fromRate)
	}
	return &Resampler{
		from:   fromRate,
		to:     toRate,
		cutoff: cutoff,
		radius: sincHalfWidth / cutoff,
	}
}

// Rates returns the input and output sample rates.
func (r *Resampler) Rates() (from, to int) { return r.from, r.to }

// Process consumes little-endian 16-bit PCM and returns every output sample
// whose kernel support is fully covered by input received so far.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.from == r.to {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}
	n := len(pcm) / bytesPerSample
	for i := 0; i < n; i++ {
		r.hist = append(r.hist, float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))))
	}
	r.received += int64(n)
	return r.emit(false)
}

// Flush emits the remaining output, treating input beyond the end as silence,
// and resets the stream so the Resampler can be reused.
func (r *Resampler) Flush() []byte {
	if r.from == r.to {
		return nil
	}
	out := r.emit(true)
	r.Reset()
	return out
}

// Reset discards buffered history without emitting it.
func (r *Resampler) Reset() {
	r.hist = r.hist[:0]
	r.base = 0
	r.received = 0
	r.produced = 0
}

// position returns the input-domain time of output sample k.
func (r *Resampler) position(k int64) float64 {
	return float64(k) * float64(r.from) / float64(r.to)
}

func (r *Resampler) emit(final bool) []byte {
	var out []byte
	for {
		t := r.position(r.produced)
		if final {
			// Every output sample whose position lies inside the input.
			if r.produced*int64(r.from) >= r.received*int64(r.to) {
				break
			}
		} else if int64(math.Floor(t+r.radius)) >= r.received {
			break
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(clamp16(r.interpolate(t))))
		r.produced++
	}
	r.trim()
	return out
}

// interpolate evaluates the band-limited signal at input time t.
func (r *Resampler) interpolate(t float64) float64 {
	lo := int64(math.Ceil(t - r.radius))
	hi := int64(math.Floor(t + r.radius))
	if lo < 0 {
		lo = 0
	}
	var acc float64
	for n := lo; n <= hi; n++ {
		if n >= r.received {
			break
		}
		x := r.hist[n-r.base]
		if x == 0 {
			continue
		}
		acc += x * r.kernel(t-float64(n))
	}
	return acc
}

// kernel is a Hann-windowed sinc low-pass at the converter's cutoff.
func (r *Resampler) kernel(d float64) float64 {
	if math.Abs(d) >= r.radius {
		return 0
	}
	w := 0.5 * (1 + math.Cos(math.Pi*d/r.radius))
	x := r.cutoff * d
	if x == 0 {
		return r.cutoff * w
	}
	return r.cutoff * math.Sin(math.Pi*x) / (math.Pi * x) * w
}

// trim drops history no future output sample can reference.
func (r *Resampler) trim() {
	keepFrom := int64(math.Ceil(r.position(r.produced)-r.radius)) - 1
	if keepFrom <= r.base {
		return
	}
	drop := keepFrom - r.base
	if drop > int64(len(r.hist)) {
		drop = int64(len(r.hist))
	}
	r.hist = append(r.hist[:0], r.hist[drop:]...)
	r.base += drop
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
