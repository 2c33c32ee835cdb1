// Package telephony builds the carrier instruction documents returned by
// voice webhooks and defines the media-stream events exchanged over the
// carrier WebSocket.
//
// An instruction document is a small XML tree. Answer connects the call to
// the media-stream endpoint, Transfer dials a human agent, and Farewell
// speaks a closing line and hangs up.
package telephony

import (
	"encoding/xml"
	"fmt"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// defaultVoice is the carrier's built-in voice used for webhook-spoken lines.
const defaultVoice = "alice"

// Say speaks a line to the caller before any other verb runs.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Stream addresses the media-stream WebSocket endpoint. Parameters are
// echoed back by the carrier in the stream's start event.
type Stream struct {
	XMLName    xml.Name `xml:"Stream"`
	URL        string   `xml:"url,attr"`
	Parameters []Parameter
}

// Parameter passes one key/value pair into the media-stream start event.
type Parameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

// Connect hands the call to a bidirectional media stream.
type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  Stream
}

// Dial bridges the call to a phone number.
type Dial struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Document is one carrier instruction response. Verbs render in field order;
// nil verbs are omitted.
type Document struct {
	XMLName xml.Name `xml:"Response"`
	Say     *Say
	Connect *Connect
	Dial    *Dial
	Hangup  *Hangup
}

// NewSay builds a spoken line localized for lang.
func NewSay(text string, lang dialog.Language) *Say {
	return &Say{Voice: defaultVoice, Language: lang.Tag(), Text: text}
}

// Answer greets the caller and connects the call to the media-stream
// endpoint, passing the call language along so the stream session inherits
// it. greeting may be empty when the stream speaks its own opening.
func Answer(greeting string, lang dialog.Language, streamURL string) Document {
	doc := Document{Connect: &Connect{Stream: Stream{
		URL:        streamURL,
		Parameters: []Parameter{{Name: "language", Value: string(lang)}},
	}}}
	if greeting != "" {
		doc.Say = NewSay(greeting, lang)
	}
	return doc
}

// Transfer bridges the caller to a human agent, announcing the handoff first
// when announcement is non-empty.
func Transfer(announcement string, lang dialog.Language, number string) Document {
	doc := Document{Dial: &Dial{Number: number}}
	if announcement != "" {
		doc.Say = NewSay(announcement, lang)
	}
	return doc
}

// Farewell speaks a closing line and ends the call.
func Farewell(message string, lang dialog.Language) Document {
	return Document{Say: NewSay(message, lang), Hangup: &Hangup{}}
}

// Render serializes the document with the XML declaration carriers expect.
func (d Document) Render() ([]byte, error) {
	body, err := xml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("telephony: render document: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
