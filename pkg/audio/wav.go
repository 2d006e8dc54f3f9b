package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by [DecodeWAV] for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

const wavHeaderSize = 44

// EncodeWAV wraps 16-bit PCM in a canonical RIFF/WAV container. The result is
// suitable for multipart uploads and for recordings on disk.
func EncodeWAV(f AudioFrame) []byte {
	channels := f.channels()
	byteRate := f.SampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample
	dataSize := len(f.Data)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                   // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                    // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))     // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))     // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))   // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], f.Data)

	return buf
}

// DecodeWAV parses a PCM WAV file. Only 16-bit integer PCM is accepted.
// Unknown sub-chunks (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) (AudioFrame, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return AudioFrame{}, ErrNotWAV
	}

	var (
		f       AudioFrame
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Streams written before the length was known report 0 or a
			// too-large size; take what is there.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return AudioFrame{}, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", end-body)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != 16 {
				return AudioFrame{}, fmt.Errorf("audio: unsupported wav encoding (format %d, %d bits)", format, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return AudioFrame{}, errors.New("audio: wav data chunk before fmt chunk")
			}
			n := end - body
			n -= n % (bytesPerSample * f.channels())
			f.Data = append([]byte(nil), data[body:body+n]...)
			return f, nil
		}

		pos = end + size%2 // chunks are word aligned
	}
	return AudioFrame{}, errors.New("audio: wav has no data chunk")
}
