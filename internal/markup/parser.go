package markup

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"hookbridge/internal/domain"
)

var (
	errInvalidUTF8 = errors.New("payload is not valid UTF-8")

	mentionIDPattern = regexp.MustCompile(`^\d+$`)
)

// ImageRenderer turns text into an embeddable image URI. An empty result
// means the renderer is unavailable or failed.
type ImageRenderer interface {
	Render(ctx context.Context, text string) string
}

// Parser decodes rendered markup into message elements.
type Parser struct {
	images ImageRenderer
	logger *slog.Logger
}

// NewParser creates a parser. images may be nil, in which case every
// text2img tag falls back to its text.
func NewParser(images ImageRenderer, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{images: images, logger: logger}
}

// Parse decodes rendered into an ordered element sequence. It never fails;
// bad tags become diagnostic or fallback text elements. For non-empty input
// the result is never empty. text2img tags are rendered one after another.
//
// Literal text and image/mention payloads are HTML-unescaped once: template
// output is escaped throughout, and escaped data can never form a tag.
func (p *Parser) Parse(ctx context.Context, rendered string) []domain.Element {
	var elements []domain.Element
	for _, tok := range Scan(rendered) {
		if !tok.Tag {
			if strings.TrimSpace(tok.Raw) != "" {
				elements = append(elements, domain.Text(html.UnescapeString(tok.Raw)))
			}
			continue
		}
		elements = append(elements, p.decodeTag(ctx, tok))
	}

	if len(elements) == 0 && rendered != "" {
		elements = []domain.Element{domain.Text(html.UnescapeString(rendered))}
	}
	return elements
}

func (p *Parser) decodeTag(ctx context.Context, tok Token) (el domain.Element) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("rich tag decode panic", "kind", tok.Kind, "panic", r)
			el = domain.Text(fmt.Sprintf("[rich content error: %v]", r))
		}
	}()

	switch tok.Kind {
	case KindImage:
		return decodeImage(html.UnescapeString(tok.Payload))
	case KindMention:
		return decodeMention(html.UnescapeString(tok.Payload))
	case KindTextImage:
		return p.decodeTextImage(ctx, tok.Payload)
	default:
		return domain.Text(tok.Raw)
	}
}

func decodeImage(payload string) domain.Element {
	if strings.HasPrefix(payload, "http://") ||
		strings.HasPrefix(payload, "https://") ||
		strings.HasPrefix(payload, "data:image/") {
		return domain.Image(payload)
	}
	return domain.Text(fmt.Sprintf("[invalid image: %s]", payload))
}

func decodeMention(payload string) domain.Element {
	if mentionIDPattern.MatchString(payload) {
		return domain.Mention(payload)
	}
	return domain.Text("@" + payload)
}

func (p *Parser) decodeTextImage(ctx context.Context, payload string) domain.Element {
	text, err := DecodeTextImage(payload)
	if err != nil {
		p.logger.Warn("text2img payload decode failed", "err", err)
		return domain.Text(fmt.Sprintf("[text2img decode failed: %v]", err))
	}
	if p.images == nil {
		return domain.Text(text)
	}
	if uri := p.images.Render(ctx, Truncate(text)); uri != "" {
		return domain.Image(uri)
	}
	return domain.Text(text)
}
