// Package template renders webhook payloads through Handlebars templates.
//
// Besides the comparison helpers, templates can emit rich content: image, at,
// at_users and the text_to_image block. Rich helpers produce inline tags that
// the markup package decodes into message elements.
package template

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aymerick/raymond"

	"hookbridge/internal/markup"
)

// Error wraps a template that cannot be parsed or executed.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "template: " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// innerErrorFormat replaces the text of a text_to_image block whose body
// failed to render. Arguments: the error, the raw block source.
const innerErrorFormat = "text_to_image render failed: %v\n\n%s"

// Renderer compiles and executes templates. It is stateless and safe for
// concurrent use.
type Renderer struct {
	logger *slog.Logger
}

// NewRenderer creates a template renderer.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render executes source against data. The result may contain rich tags.
// Identical inputs always produce identical output.
//
// The output is HTML-escaped throughout: substituted values are escaped by
// the engine, and '&' typed in the template text is written as "&amp;", so a
// single html.UnescapeString recovers exactly what the author and the data
// said. Tag payloads emitted by the rich helpers are escaped the same way.
func (r *Renderer) Render(source string, data any) (string, error) {
	data = Normalize(data)
	rewritten, blocks := extractTextImageBlocks(source)

	tpl, err := raymond.Parse(protectLiterals(rewritten))
	if err != nil {
		return "", &Error{Err: err}
	}
	tpl.RegisterHelpers(comparisonHelpers())
	tpl.RegisterHelpers(r.richHelpers(blocks, data))

	out, err := tpl.Exec(data)
	if err != nil {
		return "", &Error{Err: err}
	}
	return restoreLiterals(out), nil
}

// renderPlain executes a text_to_image body with rich helpers disabled.
// Any rich helper call trips guard instead of emitting a tag.
func (r *Renderer) renderPlain(source string, root any, guard *nestGuard) (string, error) {
	rewritten, _ := extractTextImageBlocks(source)

	tpl, err := raymond.Parse(protectLiterals(rewritten))
	if err != nil {
		return "", err
	}
	tpl.RegisterHelpers(comparisonHelpers())
	tpl.RegisterHelpers(guard.helpers())

	out, err := tpl.Exec(root)
	if err != nil {
		return "", err
	}
	return restoreLiterals(out), nil
}

// literalAmp stands in for an '&' typed in template text while the engine runs.
const literalAmp = "\uE000"

// protectLiterals replaces every '&' outside mustaches with literalAmp.
// Escaped mustaches (\{{...}}) are template text; comments and expressions
// are left alone.
func protectLiterals(source string) string {
	if !strings.Contains(source, "&") {
		return source
	}
	var sb strings.Builder
	for source != "" {
		open := strings.Index(source, "{{")
		if open < 0 {
			sb.WriteString(strings.ReplaceAll(source, "&", literalAmp))
			break
		}
		if open > 0 && source[open-1] == '\\' {
			sb.WriteString(strings.ReplaceAll(source[:open+2], "&", literalAmp))
			source = source[open+2:]
			continue
		}
		sb.WriteString(strings.ReplaceAll(source[:open], "&", literalAmp))

		closer := "}}"
		if strings.HasPrefix(source[open:], "{{!--") {
			closer = "--}}"
		}
		end := strings.Index(source[open+2:], closer)
		if end < 0 {
			sb.WriteString(source[open:])
			break
		}
		end += open + 2 + len(closer)
		sb.WriteString(source[open:end])
		source = source[end:]
	}
	return sb.String()
}

func restoreLiterals(out string) string {
	return strings.ReplaceAll(out, literalAmp, "&amp;")
}

// textImage encodes one text_to_image block.
func (r *Renderer) textImage(body string, root any) string {
	guard := &nestGuard{}
	text, err := r.renderPlain(body, root, guard)
	if guard.tripped {
		r.logger.Warn("rich content inside text_to_image", "helper", guard.helper)
		return markup.WarningTag()
	}
	if err != nil {
		r.logger.Warn("text_to_image body failed to render", "err", err)
		text = fmt.Sprintf(innerErrorFormat, err, body)
	} else {
		text = html.UnescapeString(text)
	}

	if strings.TrimSpace(text) == "" {
		return ""
	}
	if markup.ContainsTag(text) {
		r.logger.Warn("rich tags found in text_to_image output, redacting")
		text = markup.Redact(text)
	}
	return markup.TextImage(markup.Truncate(text))
}

// nestGuard records a rich helper invoked where rich content is disabled.
type nestGuard struct {
	tripped bool
	helper  string
}

func (g *nestGuard) trip(name string) {
	if !g.tripped {
		g.tripped = true
		g.helper = name
	}
}

func (g *nestGuard) helpers() map[string]any {
	return map[string]any{
		"image": func(url any) string {
			g.trip("image")
			return ""
		},
		"at": func(id any) string {
			g.trip("at")
			return ""
		},
		"at_users": func(ids any) string {
			g.trip("at_users")
			return ""
		},
		"text_to_image": func(options *raymond.Options) string {
			g.trip("text_to_image")
			return ""
		},
		textImageBlockHelper: func(idx any) string {
			g.trip("text_to_image")
			return ""
		},
	}
}

func (r *Renderer) richHelpers(blocks []string, root any) map[string]any {
	return map[string]any{
		"image": func(url any) raymond.SafeString {
			if !truthy(url) {
				return ""
			}
			return raymond.SafeString(markup.Image(html.EscapeString(raymond.Str(url))))
		},
		"at": func(id any) raymond.SafeString {
			if !truthy(id) {
				return ""
			}
			return raymond.SafeString(markup.Mention(html.EscapeString(raymond.Str(id))))
		},
		"at_users": func(ids any) raymond.SafeString {
			var sb strings.Builder
			for _, id := range asList(ids) {
				if truthy(id) {
					sb.WriteString(markup.Mention(html.EscapeString(raymond.Str(id))))
				}
			}
			return raymond.SafeString(sb.String())
		},
		// Blocks are lifted out before parsing; this only sees stray inline use.
		"text_to_image": func(options *raymond.Options) raymond.SafeString {
			return ""
		},
		textImageBlockHelper: func(idx any) raymond.SafeString {
			i, err := strconv.Atoi(raymond.Str(idx))
			if err != nil || i < 0 || i >= len(blocks) {
				return ""
			}
			return raymond.SafeString(r.textImage(blocks[i], root))
		},
	}
}

// textImageBlockHelper stands in for a lifted {{#text_to_image}} block.
const textImageBlockHelper = "__text_to_image_block"

var (
	textImageOpen  = regexp.MustCompile(`\{\{(~?)\s*#\s*text_to_image(?:\s[^}]*)?\}\}`)
	textImageClose = regexp.MustCompile(`\{\{~?\s*/\s*text_to_image\s*(~?)\}\}`)
)

// extractTextImageBlocks lifts every outermost text_to_image block out of
// source, keeping its raw body, and leaves a placeholder helper call behind.
// Unbalanced markers are left untouched for the parser to report.
func extractTextImageBlocks(source string) (string, []string) {
	opens := textImageOpen.FindAllStringSubmatchIndex(source, -1)
	if len(opens) == 0 {
		return source, nil
	}
	closes := textImageClose.FindAllStringSubmatchIndex(source, -1)

	var (
		sb        strings.Builder
		blocks    []string
		copied    int
		depth     int
		blockOpen []int
		oi, ci    int
	)
	for oi < len(opens) || ci < len(closes) {
		isOpen := ci >= len(closes) || (oi < len(opens) && opens[oi][0] < closes[ci][0])
		if isOpen {
			if depth == 0 {
				blockOpen = opens[oi]
			}
			depth++
			oi++
			continue
		}
		c := closes[ci]
		ci++
		if depth == 0 {
			continue
		}
		depth--
		if depth > 0 {
			continue
		}

		body := source[blockOpen[1]:c[0]]
		leftTrim := source[blockOpen[2]:blockOpen[3]]
		rightTrim := source[c[2]:c[3]]

		sb.WriteString(source[copied:blockOpen[0]])
		fmt.Fprintf(&sb, "{{%s%s \"%d\"%s}}", leftTrim, textImageBlockHelper, len(blocks), rightTrim)
		blocks = append(blocks, body)
		copied = c[1]
	}
	sb.WriteString(source[copied:])
	return sb.String(), blocks
}
