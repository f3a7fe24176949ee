package textimg

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookbridge/internal/browser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeBrowser struct {
	available bool
	png       []byte
	err       error
	panicMsg  string
	documents []string
}

func (f *fakeBrowser) Available() bool { return f.available }

func (f *fakeBrowser) Render(ctx context.Context, document string, capture browser.PageFunc) ([]byte, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.documents = append(f.documents, document)
	return f.png, f.err
}

func newRenderer(b Browser) *Renderer {
	return New(Config{Browser: b, EmojiBaseURL: "https://e.test", Logger: testLogger()})
}

func TestRender_DataURI(t *testing.T) {
	fb := &fakeBrowser{available: true, png: []byte("PNGDATA")}
	uri := newRenderer(fb).Render(context.Background(), "hello")

	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(raw))
	require.Len(t, fb.documents, 1)
}

func TestRender_Unavailable(t *testing.T) {
	fb := &fakeBrowser{available: false, png: []byte("x")}
	assert.Equal(t, "", newRenderer(fb).Render(context.Background(), "hello"))
	assert.Empty(t, fb.documents)

	assert.Equal(t, "", newRenderer(nil).Render(context.Background(), "hello"))
}

func TestRender_FailuresAreEmpty(t *testing.T) {
	tests := []struct {
		name string
		fb   *fakeBrowser
	}{
		{"timeout", &fakeBrowser{available: true, err: browser.ErrTimeout}},
		{"missing element", &fakeBrowser{available: true, err: browser.ErrElementNotFound}},
		{"other", &fakeBrowser{available: true, err: errors.New("crashed")}},
		{"empty screenshot", &fakeBrowser{available: true}},
		{"panic", &fakeBrowser{available: true, panicMsg: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "", newRenderer(tt.fb).Render(context.Background(), "x"))
		})
	}
}

func TestDocument_EscapesAndBreaksLines(t *testing.T) {
	r := newRenderer(nil)
	doc, err := r.Document("a < b & \"c\"\r\nline2\nline3")
	require.NoError(t, err)

	assert.Contains(t, doc, `<div id="content">a &lt; b &amp; &#34;c&#34;<br>line2<br>line3</div>`)
	assert.Contains(t, doc, "linear-gradient")
	assert.Contains(t, doc, "Noto Sans CJK SC")
}

func TestDocument_SubstitutesEmoji(t *testing.T) {
	r := newRenderer(nil)
	body := string(r.Body("ok 👍"))
	assert.Equal(t, `ok <img class="emoji" draggable="false" alt="&#x1f44d;" src="https://e.test/1f44d.png">`, body)
}

func TestDocument_NoScriptInjection(t *testing.T) {
	r := newRenderer(nil)
	doc, err := r.Document("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, doc, "<script>")
}
