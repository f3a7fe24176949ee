// Package markup implements the inline rich-tag format that templates emit and
// the decoder that turns a rendered string into message elements.
//
// A tag has the lexical form <kind:payload> where kind is one of image, at or
// text2img and payload is at least one character that is not '>'.
package markup

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// Kind is the tag kind between '<' and ':'.
type Kind string

const (
	KindImage     Kind = "image"
	KindMention   Kind = "at"
	KindTextImage Kind = "text2img"
)

var kinds = []Kind{KindImage, KindMention, KindTextImage}

const (
	// MaxTextImageRunes bounds the text rasterized by one text2img tag.
	MaxTextImageRunes = 5000

	// TruncationMarker is appended to text cut at MaxTextImageRunes.
	TruncationMarker = "\n…(content truncated)"

	// RedactionMarker replaces rich tags found inside text2img text.
	RedactionMarker = "[rich content removed]"

	// NestingWarning is the text of the warning image emitted when rich
	// helpers are used inside text_to_image.
	NestingWarning = "⚠ text_to_image cannot contain image, at, at_users or text_to_image. " +
		"Move rich content outside the text_to_image block."
)

// Tag builds an encoded tag. '>' in the payload is percent-escaped so the tag
// stays well-formed.
func Tag(kind Kind, payload string) string {
	if payload == "" {
		return ""
	}
	return "<" + string(kind) + ":" + strings.ReplaceAll(payload, ">", "%3E") + ">"
}

// Image encodes an image reference.
func Image(url string) string { return Tag(KindImage, url) }

// Mention encodes a user mention.
func Mention(userID string) string { return Tag(KindMention, userID) }

// TextImage encodes text to be rasterized. The payload is standard base64,
// which never contains '>'. Empty text encodes to nothing.
func TextImage(text string) string {
	if text == "" {
		return ""
	}
	return "<" + string(KindTextImage) + ":" + base64.StdEncoding.EncodeToString([]byte(text)) + ">"
}

// WarningTag is the text2img tag carrying NestingWarning.
func WarningTag() string { return TextImage(NestingWarning) }

// DecodeTextImage decodes a text2img payload into UTF-8 text.
func DecodeTextImage(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", errInvalidUTF8
	}
	return string(raw), nil
}

// Truncate caps text at MaxTextImageRunes runes, appending TruncationMarker
// when it cuts.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextImageRunes {
		return text
	}
	n := 0
	for i := range text {
		if n == MaxTextImageRunes {
			return text[:i] + TruncationMarker
		}
		n++
	}
	return text
}

// Redact replaces every rich tag, and every dangling tag opening, with
// RedactionMarker.
func Redact(text string) string {
	if !ContainsTag(text) {
		return text
	}
	var sb strings.Builder
	for _, tok := range Scan(text) {
		if tok.Tag {
			sb.WriteString(RedactionMarker)
			continue
		}
		raw := tok.Raw
		for i := 0; i < len(raw); {
			if k, ok := tagOpenAt(raw, i); ok {
				sb.WriteString(RedactionMarker)
				i += len(k) + 2
				continue
			}
			sb.WriteByte(raw[i])
			i++
		}
	}
	return sb.String()
}

// ContainsTag reports whether text contains the opening of any rich tag.
func ContainsTag(text string) bool {
	for i := strings.IndexByte(text, '<'); i >= 0; {
		if _, ok := tagOpenAt(text, i); ok {
			return true
		}
		next := strings.IndexByte(text[i+1:], '<')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

// tagOpenAt reports the kind whose "<kind:" prefix starts at s[i].
func tagOpenAt(s string, i int) (Kind, bool) {
	if s[i] != '<' {
		return "", false
	}
	rest := s[i+1:]
	for _, k := range kinds {
		if len(rest) > len(k) && strings.HasPrefix(rest, string(k)) && rest[len(k)] == ':' {
			return k, true
		}
	}
	return "", false
}

// Token is one lexical unit of a rendered string: either a literal text run
// or a tag.
type Token struct {
	Tag     bool
	Kind    Kind
	Payload string
	Raw     string // the exact source substring
}

// Scan splits s into literal text and tags. It behaves like the regular
// expression <(image|at|text2img):([^>]+)> applied leftmost-first, but as an
// explicit outside-tag / inside-tag scanner over byte offsets.
func Scan(s string) []Token {
	var (
		tokens    []Token
		textStart int
	)
	flush := func(end int) {
		if end > textStart {
			tokens = append(tokens, Token{Raw: s[textStart:end]})
		}
	}

	for i := 0; i < len(s); {
		// outside-tag state: look for a tag opening
		k, ok := tagOpenAt(s, i)
		if !ok {
			i++
			continue
		}
		// inside-tag state: payload runs to the first '>'
		payloadStart := i + len(k) + 2
		end := strings.IndexByte(s[payloadStart:], '>')
		if end <= 0 {
			// no closing '>' or an empty payload: '<' is literal text
			i++
			continue
		}
		closeAt := payloadStart + end
		flush(i)
		tokens = append(tokens, Token{
			Tag:     true,
			Kind:    k,
			Payload: s[payloadStart:closeAt],
			Raw:     s[i : closeAt+1],
		})
		i = closeAt + 1
		textStart = i
	}
	flush(len(s))
	return tokens
}
