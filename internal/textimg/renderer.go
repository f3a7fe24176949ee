// Package textimg rasterizes plain text into a PNG data URI using a headless
// browser. Rendering is best effort: any failure yields an empty result and
// the caller falls back to sending the text itself.
package textimg

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hookbridge/internal/browser"
	"hookbridge/internal/emoji"
	"hookbridge/internal/metrics"
)

const dataURIPrefix = "data:image/png;base64,"

// Browser is the headless rendering collaborator.
type Browser interface {
	Available() bool
	Render(ctx context.Context, document string, capture browser.PageFunc) ([]byte, error)
}

// Config configures a Renderer. Zero durations take the defaults.
type Config struct {
	Browser         Browser // nil disables rendering
	EmojiBaseURL    string
	SelectorTimeout time.Duration // wait for the content element (5s)
	AssetTimeout    time.Duration // wait for emoji images, all together (5s)
	Settle          time.Duration // pause before measuring (150ms)
	Margin          float64       // px added around the captured card (20)
	Logger          *slog.Logger
}

// Renderer turns text into image URIs.
type Renderer struct {
	browser         Browser
	emoji           *emoji.Substituter
	selectorTimeout time.Duration
	assetTimeout    time.Duration
	settle          time.Duration
	margin          float64
	logger          *slog.Logger
}

func New(cfg Config) *Renderer {
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = 5 * time.Second
	}
	if cfg.AssetTimeout <= 0 {
		cfg.AssetTimeout = 5 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 150 * time.Millisecond
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{
		browser: cfg.Browser,
		emoji: emoji.New(emoji.Config{
			BaseURL:   cfg.EmojiBaseURL,
			OnFailure: metrics.EmojiFailures.Inc,
		}),
		selectorTimeout: cfg.SelectorTimeout,
		assetTimeout:    cfg.AssetTimeout,
		settle:          cfg.Settle,
		margin:          cfg.Margin,
		logger:          cfg.Logger,
	}
}

// Render returns a data:image/png URI showing text, or "" when no browser
// is available or rendering failed. It never panics.
func (r *Renderer) Render(ctx context.Context, text string) (uri string) {
	if r.browser == nil || !r.browser.Available() {
		r.logger.Debug("text image skipped, no browser available")
		return ""
	}

	metrics.TextImageRenders.Inc()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("text image render panic", "panic", p)
			uri = ""
		}
		if uri == "" {
			metrics.TextImageFailures.Inc()
		}
		metrics.TextImageLatency.Observe(time.Since(start).Seconds())
	}()

	png, err := r.render(ctx, text)
	if err != nil {
		r.logger.Warn("text image render failed", "err", err, "chars", len([]rune(text)))
		return ""
	}
	r.logger.Debug("text image rendered", "bytes", len(png), "duration", time.Since(start))
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png)
}

func (r *Renderer) render(ctx context.Context, text string) ([]byte, error) {
	doc, err := r.Document(text)
	if err != nil {
		return nil, fmt.Errorf("build document: %w", err)
	}
	png, err := r.browser.Render(ctx, doc, r.capture)
	if err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, errors.New("empty screenshot")
	}
	return png, nil
}

// capture runs inside the loaded page.
func (r *Renderer) capture(ctx context.Context) ([]byte, error) {
	if err := browser.WaitElement(ctx, contentSelector, r.selectorTimeout); err != nil {
		return nil, err
	}

	var ok bool
	if err := browser.Eval(ctx, fontsReadyScript, &ok); err != nil {
		return nil, fmt.Errorf("wait for fonts: %w", err)
	}
	script := fmt.Sprintf(emojiSettledScript, r.assetTimeout.Milliseconds())
	if err := browser.Eval(ctx, script, &ok); err != nil {
		return nil, fmt.Errorf("wait for emoji images: %w", err)
	}

	select {
	case <-time.After(r.settle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	box, err := browser.ElementBox(ctx, contentSelector)
	if err != nil {
		return nil, err
	}
	return browser.CaptureRegion(ctx, box.Expand(r.margin))
}

const fontsReadyScript = `(document.fonts && document.fonts.ready)
	? document.fonts.ready.then(function() { return true; })
	: true`

// emojiSettledScript resolves once every emoji image has loaded or failed,
// or after the given number of milliseconds, whichever comes first.
const emojiSettledScript = `(function() {
	var imgs = Array.prototype.slice.call(document.querySelectorAll('img.emoji'));
	var settled = Promise.all(imgs.map(function(img) {
		if (img.complete) return true;
		return new Promise(function(resolve) {
			img.addEventListener('load', function() { resolve(true); }, {once: true});
			img.addEventListener('error', function() { resolve(true); }, {once: true});
		});
	}));
	var bound = new Promise(function(resolve) { setTimeout(resolve, %d); });
	return Promise.race([settled, bound]).then(function() { return true; });
})()`
