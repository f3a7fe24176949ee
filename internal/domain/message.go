package domain

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

var errNotDataURI = errors.New("not a base64 data URI")

// ElementKind identifies the type of a message element.
type ElementKind string

const (
	ElementText    ElementKind = "text"
	ElementImage   ElementKind = "image"
	ElementMention ElementKind = "mention"
)

// Element is one deliverable piece of a chat message.
// Only the field matching Kind is set.
type Element struct {
	Kind   ElementKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Source string      `json:"source,omitempty"` // http(s) URL or data:image/... URI
	UserID string      `json:"userId,omitempty"`
}

func Text(content string) Element { return Element{Kind: ElementText, Text: content} }
func Image(source string) Element { return Element{Kind: ElementImage, Source: source} }
func Mention(userID string) Element { return Element{Kind: ElementMention, UserID: userID} }

// IsDataURI reports whether the image source is an inline data URI.
func (e Element) IsDataURI() bool {
	return e.Kind == ElementImage && strings.HasPrefix(e.Source, "data:")
}

// DataURI splits an inline image into its media type and decoded bytes.
func (e Element) DataURI() (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(e.Source, "data:")
	if !ok {
		return "", nil, errNotDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, errNotDataURI
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSuffix(meta, ";base64"), data, nil
}

// FileName suggests an upload name for an inline image.
func (e Element) FileName(index int) string {
	ext := "png"
	if mt, _, err := e.DataURI(); err == nil {
		if _, sub, ok := strings.Cut(mt, "/"); ok && sub != "" {
			ext = strings.TrimSuffix(sub, "+xml")
		}
	}
	return "image" + strconv.Itoa(index+1) + "." + ext
}

// Message is an ordered element sequence delivered as a single payload.
type Message struct {
	Elements []Element `json:"elements"`
}

// Images returns the image elements in order.
func (m Message) Images() []Element {
	var out []Element
	for _, e := range m.Elements {
		if e.Kind == ElementImage {
			out = append(out, e)
		}
	}
	return out
}

// Empty reports whether the message carries nothing to deliver.
func (m Message) Empty() bool {
	return len(m.Elements) == 0
}
