package audio

import (
	"fmt"
	"math/bits"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawDecodeTable maps every μ-law byte to its linear value.
var mulawDecodeTable = func() [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = decodeMulaw(byte(i))
	}
	return t
}()

// LinearToMulaw compands one 16-bit linear sample into a G.711 μ-law byte.
func LinearToMulaw(s int16) byte {
	sample := int32(s)
	var sign byte
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	exp := byte(bits.Len32(uint32(sample>>7)) - 1)
	mant := byte(sample>>(exp+3)) & 0x0F
	return ^(sign | exp<<4 | mant)
}

// MulawToLinear expands one G.711 μ-law byte into a 16-bit linear sample.
func MulawToLinear(b byte) int16 {
	return mulawDecodeTable[b]
}

func decodeMulaw(b byte) int16 {
	u := ^b
	exp := (u >> 4) & 0x07
	mant := int32(u & 0x0F)
	mag := ((mant<<3)+mulawBias)<<exp - mulawBias
	if u&0x80 != 0 {
		return int16(-mag)
	}
	return int16(mag)
}

// PCMToMulaw resamples pcm to targetRate when the rates differ and companding
// every sample into μ-law. Already narrow-band input is encoded as-is.
//
// pcm must be 16-bit mono; anything else is a programming error and panics.
func PCMToMulaw(pcm AudioFrame, targetRate int) EncodedFrame {
	mustMono16(pcm)
	if pcm.SampleRate != targetRate {
		pcm = Resample(pcm, targetRate)
	}
	out := make([]byte, len(pcm.Data)/bytesPerSample)
	for i := range out {
		s := int16(uint16(pcm.Data[2*i]) | uint16(pcm.Data[2*i+1])<<8)
		out[i] = LinearToMulaw(s)
	}
	return EncodedFrame{Data: out}
}

// MulawToPCM expands μ-law bytes into a mono frame tagged with [TelephonyRate].
func MulawToPCM(enc EncodedFrame) AudioFrame {
	out := make([]byte, len(enc.Data)*bytesPerSample)
	for i, b := range enc.Data {
		s := uint16(mulawDecodeTable[b])
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return AudioFrame{Data: out, SampleRate: TelephonyRate, Channels: 1}
}

// mustMono16 panics when f is not whole 16-bit mono samples.
func mustMono16(f AudioFrame) {
	if len(f.Data)%bytesPerSample != 0 {
		panic(fmt.Sprintf("audio: PCM buffer of %d bytes is not 16-bit aligned", len(f.Data)))
	}
	if f.channels() != 1 {
		panic(fmt.Sprintf("audio: expected mono PCM, got %d channels", f.Channels))
	}
}
