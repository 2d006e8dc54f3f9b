package bridge_test

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/telebridge/internal/bridge"
	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/internal/transcript"
	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// ─── fake transport ──────────────────────────────────────────────────────────

// sent is one outbound Media Streams event.
type sent struct {
	event string
	data  []byte
	mark  string
}

// fakeTransport feeds scripted inbound events and records outbound ones.
type fakeTransport struct {
	in chan twilio.Message

	mu  sync.Mutex
	out []sent
}

func newTransport() *fakeTransport {
	return &fakeTransport{in: make(chan twilio.Message, 1024)}
}

func (f *fakeTransport) Next(ctx context.Context) (twilio.Message, error) {
	select {
	case msg, ok := <-f.in:
		if !ok {
			return twilio.Message{}, twilio.ErrStopped
		}
		return msg, nil
	case <-ctx.Done():
		return twilio.Message{}, ctx.Err()
	}
}

func (f *fakeTransport) SendMedia(_ context.Context, enc audio.EncodedFrame) error {
	f.add(sent{event: twilio.EventMedia, data: bytes.Clone(enc.Data)})
	return nil
}

func (f *fakeTransport) SendClear(context.Context) error {
	f.add(sent{event: twilio.EventClear})
	return nil
}

func (f *fakeTransport) SendMark(_ context.Context, name string) error {
	f.add(sent{event: twilio.EventMark, mark: name})
	return nil
}

func (f *fakeTransport) add(s sent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, s)
}

func (f *fakeTransport) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

func (f *fakeTransport) count(event string) int {
	n := 0
	for _, s := range f.sent() {
		if s.event == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) hasMark(name string) bool {
	for _, s := range f.sent() {
		if s.event == twilio.EventMark && s.mark == name {
			return true
		}
	}
	return false
}

// ─── message builders ────────────────────────────────────────────────────────

var testStart = &twilio.Start{
	StreamSID:   "MZ123",
	CallSID:     "CA456",
	MediaFormat: twilio.MediaFormat{Encoding: twilio.EncodingMulaw, SampleRate: 8000, Channels: 1},
}

func startMsg() twilio.Message {
	return twilio.Message{Event: twilio.EventStart, StreamSID: testStart.StreamSID, Start: testStart}
}

func stopMsg() twilio.Message {
	return twilio.Message{Event: twilio.EventStop, Stop: &twilio.Stop{CallSID: testStart.CallSID}}
}

// tone is a 20 ms 8 kHz chunk at constant amplitude.
func tone(amplitude int16) audio.AudioFrame {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.FromSamples(samples, audio.TelephonyRate)
}

// mediaMsg wraps one 20 ms chunk as an inbound media event.
func mediaMsg(amplitude int16) twilio.Message {
	enc := audio.PCMToMulaw(tone(amplitude), audio.TelephonyRate)
	return twilio.Message{
		Event: twilio.EventMedia,
		Media: &twilio.Media{Track: "inbound", Payload: audio.EncodeForTransport(enc)},
	}
}

// ─── detector helpers ────────────────────────────────────────────────────────

// rms returns the root-mean-square amplitude of 16-bit PCM.
func rms(pcm []byte) float64 {
	samples := audio.AudioFrame{Data: pcm, SampleRate: audio.TelephonyRate, Channels: 1}.Samples()
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// energyGate scores a frame as speech when it is clearly above silence.
func energyGate(frame []byte) float64 {
	if rms(frame) > 1000 {
		return 1
	}
	return 0
}

// countingDetector counts Reset calls on a real detector.
type countingDetector struct {
	*vad.Detector

	mu     sync.Mutex
	resets int
}

func (d *countingDetector) Reset() {
	d.mu.Lock()
	d.resets++
	d.mu.Unlock()
	d.Detector.Reset()
}

func (d *countingDetector) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// ─── sink ────────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu      sync.Mutex
	calls   []transcript.CallInfo
	entries []types.TranscriptEntry
	ended   []string
}

func (s *recordingSink) Begin(_ context.Context, call transcript.CallInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return nil
}

func (s *recordingSink) Append(_ context.Context, e types.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) End(_ context.Context, callSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, callSID)
	return nil
}

func (s *recordingSink) snapshot() ([]transcript.CallInfo, []types.TranscriptEntry, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.CallInfo(nil), s.calls...),
		append([]types.TranscriptEntry(nil), s.entries...),
		append([]string(nil), s.ended...)
}

// ─── misc ────────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	return counterWith(t, reader, name, "", "")
}

// counterWith sums the data points of an int64 counter whose attribute key
// equals value. An empty key sums every point.
func counterWith(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if key != "" {
					if v, ok := dp.Attributes.Value(attribute.Key(key)); !ok || v.AsString() != value {
						continue
					}
				}
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitDone waits for a Run call to return and reports its error.
func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

// ─── AwaitStart ──────────────────────────────────────────────────────────────

func TestAwaitStart(t *testing.T) {
	t.Parallel()

	tr := newTransport()
	tr.in <- twilio.Message{Event: twilio.EventConnected, Protocol: "Call", Version: "1.0.0"}
	tr.in <- mediaMsg(0)
	tr.in <- startMsg()

	start, err := bridge.AwaitStart(context.Background(), tr)
	if err != nil {
		t.Fatalf("AwaitStart: %v", err)
	}
	if start.StreamSID != "MZ123" || start.CallSID != "CA456" {
		t.Errorf("start = %+v", start)
	}
}

func TestAwaitStart_StopFirst(t *testing.T) {
	t.Parallel()

	tr := newTransport()
	tr.in <- stopMsg()
	if _, err := bridge.AwaitStart(context.Background(), tr); err != twilio.ErrStopped {
		t.Errorf("err = %v, want ErrStopped", err)
	}

	tr = newTransport()
	tr.in <- twilio.Message{Event: twilio.EventStart, Start: &twilio.Start{}}
	if _, err := bridge.AwaitStart(context.Background(), tr); err == nil {
		t.Error("start without stream sid should fail")
	}
}

// ─── fake recorder ───────────────────────────────────────────────────────────

type fakeRecorder struct {
	mu       sync.Mutex
	inbound  int
	outbound int
	saves    int
}

func (r *fakeRecorder) Inbound(audio.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound++
}

func (r *fakeRecorder) Outbound(audio.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbound++
}

func (r *fakeRecorder) Save(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	return "/tmp/call.wav", nil
}

func (r *fakeRecorder) counts() (inbound, outbound, saves int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inbound, r.outbound, r.saves
}
