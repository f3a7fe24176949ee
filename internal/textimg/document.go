package textimg

import (
	"bytes"
	"html"
	"html/template"
	"strings"
)

// contentSelector is the element that gets measured and captured.
const contentSelector = "#content"

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  html, body { margin: 0; padding: 0; }
  body {
    min-height: 100vh;
    display: flex;
    align-items: center;
    justify-content: center;
    background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial,
      "PingFang SC", "Hiragino Sans GB", "Microsoft YaHei", "Noto Sans CJK SC", "Source Han Sans SC",
      "WenQuanYi Micro Hei", sans-serif;
  }
  #content {
    box-sizing: border-box;
    max-width: 1000px;
    margin: 40px;
    padding: 32px 40px;
    background: #ffffff;
    color: #1f2328;
    border-radius: 16px;
    box-shadow: 0 10px 30px rgba(0, 0, 0, 0.25);
    font-size: 22px;
    line-height: 1.6;
    white-space: pre-wrap;
    word-break: break-word;
  }
  #content img.emoji {
    width: 1.2em;
    height: 1.2em;
    margin: 0 0.05em;
    vertical-align: -0.2em;
  }
</style>
</head>
<body>
<div id="content">{{.}}</div>
</body>
</html>
`))

// Body turns plain text into the HTML fragment placed in the card:
// escaped, emoji substituted, line breaks preserved.
func (r *Renderer) Body(text string) template.HTML {
	escaped := html.EscapeString(text)
	if r.emoji != nil {
		escaped = r.emoji.Substitute(escaped)
	}
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

// Document wraps text in the styled page that gets rasterized.
func (r *Renderer) Document(text string) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, r.Body(text)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
