package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// errEmptyPayload is the cause recorded when a payload decodes to no bytes.
var errEmptyPayload = errors.New("payload decodes to zero bytes")

// MalformedFrameError reports a transport payload that could not be turned
// into an [EncodedFrame]. It is a per-frame error: callers drop the frame and
// keep going.
type MalformedFrameError struct {
	// Length is the length of the offending text payload.
	Length int
	Err    error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("audio: malformed frame (%d chars): %v", e.Length, e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// EncodeForTransport base64-encodes the μ-law bytes for a JSON message.
func EncodeForTransport(enc EncodedFrame) string {
	return base64.StdEncoding.EncodeToString(enc.Data)
}

// DecodeFromTransport reverses [EncodeForTransport]. Invalid base64 and
// payloads that decode to zero bytes fail with *[MalformedFrameError].
func DecodeFromTransport(text string) (EncodedFrame, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return EncodedFrame{}, &MalformedFrameError{Length: len(text), Err: err}
	}
	if len(data) == 0 {
		return EncodedFrame{}, &MalformedFrameError{Length: len(text), Err: errEmptyPayload}
	}
	return EncodedFrame{Data: data}, nil
}

// EncodePCMForTransport base64-encodes raw PCM for AI-service sockets that
// carry linear audio instead of μ-law.
func EncodePCMForTransport(pcm AudioFrame) string {
	return base64.StdEncoding.EncodeToString(pcm.Data)
}

// DecodePCMFromTransport decodes base64 linear PCM tagged with sampleRate.
// Empty or odd-length payloads fail with *[MalformedFrameError].
func DecodePCMFromTransport(text string, sampleRate int) (AudioFrame, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return AudioFrame{}, &MalformedFrameError{Length: len(text), Err: err}
	}
	if len(data) == 0 {
		return AudioFrame{}, &MalformedFrameError{Length: len(text), Err: errEmptyPayload}
	}
	if len(data)%bytesPerSample != 0 {
		return AudioFrame{}, &MalformedFrameError{Length: len(text), Err: fmt.Errorf("odd PCM byte count %d", len(data))}
	}
	return AudioFrame{Data: data, SampleRate: sampleRate, Channels: 1}, nil
}
