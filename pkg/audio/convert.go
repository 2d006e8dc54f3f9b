package audio

// Mono down-mixes an interleaved frame of any channel count by averaging the
// channels of each sample. A trailing partial sample is dropped. Mono input
// is returned unchanged.
func Mono(f AudioFrame) AudioFrame {
	ch := f.channels()
	if ch == 1 {
		return f
	}
	stride := 2 * ch
	n := len(f.Data) / stride
	out := make([]byte, 2*n)
	for i := range n {
		var sum int32
		for c := range ch {
			o := i*stride + 2*c
			sum += int32(int16(uint16(f.Data[o]) | uint16(f.Data[o+1])<<8))
		}
		// The mean of int16 values always fits in int16.
		v := int16(sum / int32(ch))
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return AudioFrame{Data: out, SampleRate: f.SampleRate, Channels: 1, Timestamp: f.Timestamp}
}

// Normalize returns f as mono PCM at rate, the shape the recorder and the
// μ-law encoder expect. Down-mixing happens first so only one channel is
// filtered.
func Normalize(f AudioFrame, rate int) AudioFrame {
	f = Mono(f)
	if f.SampleRate > 0 && f.SampleRate != rate {
		f = Resample(f, rate)
	}
	return f
}
