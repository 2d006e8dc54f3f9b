package twilio_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/telebridge/pkg/transport/twilio"
)

func TestConnectStream(t *testing.T) {
	t.Parallel()

	doc, err := twilio.ConnectStream("wss://example.com/media-stream", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response><Connect><Stream url="wss://example.com/media-stream"></Stream></Connect></Response>`
	if string(doc) != want {
		t.Errorf("twiml =\n%s\nwant\n%s", doc, want)
	}
}

func TestConnectStream_ParametersAndGreeting(t *testing.T) {
	t.Parallel()

	doc, err := twilio.ConnectStream("wss://h/s?a=1&b=2", "Hi & welcome", map[string]string{"z": "1", "a": "2"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(doc)
	for _, frag := range []string{
		`<Say>Hi &amp; welcome</Say>`,
		`url="wss://h/s?a=1&amp;b=2"`,
		`<Parameter name="a" value="2"></Parameter><Parameter name="z" value="1"></Parameter>`,
	} {
		if !strings.Contains(s, frag) {
			t.Errorf("twiml missing %q:\n%s", frag, s)
		}
	}
}
