// Package twilio implements the server side of Twilio Media Streams: the JSON
// message model exchanged over the stream socket, a [Conn] that reads inbound
// events as a message stream and writes media, clear and mark events, and the
// TwiML that connects a call to the socket.
//
// Inbound audio is 8 kHz G.711 μ-law, base64-encoded in 20 ms media events.
package twilio

// Event names used on the Media Streams socket.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventStop      = "stop"
	EventClear     = "clear"
)

// Media format constants.
const (
	// EncodingMulaw is the only encoding bidirectional streams carry.
	EncodingMulaw = "audio/x-mulaw"

	// SampleRate is the Media Streams sample rate.
	SampleRate = 8000
)

// Message is one inbound Media Streams event. Exactly one of the payload
// pointers matching Event is set.
type Message struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`

	// connected
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`

	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Mark  *Mark  `json:"mark,omitempty"`
	DTMF  *DTMF  `json:"dtmf,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
}

// Start describes the stream. It arrives once, after connected.
type Start struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat is the audio format of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media carries one chunk of audio. Payload is base64 μ-law.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Mark echoes the name of a mark the bridge sent, once the audio before it
// has played.
type Mark struct {
	Name string `json:"name"`
}

// DTMF is a keypress on the caller's handset.
type DTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// Stop ends the stream.
type Stop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// outboundMedia is {"event":"media","streamSid":...,"media":{"payload":...}}.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     outboundBody `json:"media"`
}

type outboundBody struct {
	Payload string `json:"payload"`
}

// outboundClear is {"event":"clear","streamSid":...}.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// outboundMark is {"event":"mark","streamSid":...,"mark":{"name":...}}.
type outboundMark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Mark      Mark   `json:"mark"`
}
