package twilio

import (
	"encoding/xml"
	"fmt"
	"maps"
	"slices"
)

// ContentTypeTwiML is the content type of a TwiML webhook response.
const ContentTypeTwiML = "application/xml"

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     string       `xml:"Say,omitempty"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStream returns a TwiML document that connects the call to the
// bidirectional Media Stream at streamURL. params become the start event's
// customParameters. greeting, if set, is spoken by Twilio before connecting.
func ConnectStream(streamURL, greeting string, params map[string]string) ([]byte, error) {
	doc := twimlResponse{
		Say:     greeting,
		Connect: twimlConnect{Stream: twimlStream{URL: streamURL}},
	}
	for _, k := range slices.Sorted(maps.Keys(params)) {
		doc.Connect.Stream.Parameters = append(doc.Connect.Stream.Parameters, twimlParameter{Name: k, Value: params[k]})
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("twilio: marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
