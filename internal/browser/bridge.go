package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

var (
	ErrUnavailable     = errors.New("browser: headless renderer unavailable")
	ErrTimeout         = errors.New("browser: render timed out")
	ErrElementNotFound = errors.New("browser: element not found")
)

// PageFunc runs inside a loaded page and returns the captured bytes.
type PageFunc func(ctx context.Context) ([]byte, error)

// Bridge renders HTML documents in headless Chrome. Each Render gets its own
// tab and nothing is held between calls.
type Bridge struct {
	execPath  string
	remoteURL string
	timeout   time.Duration
	width     int64
	height    int64
	scale     float64
	logger    *slog.Logger

	resolveOnce sync.Once
	resolved    string
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ExecPath       string        // Chrome binary; looked up on PATH when empty
	RemoteURL      string        // DevTools websocket of an already running browser
	Timeout        time.Duration // overall bound for one render
	ViewportWidth  int
	ViewportHeight int
	DeviceScale    float64
	Logger         *slog.Logger
}

// chromeNames are probed on PATH when no binary is configured.
var chromeNames = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1200
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 800
	}
	if cfg.DeviceScale <= 0 {
		cfg.DeviceScale = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		execPath:  cfg.ExecPath,
		remoteURL: cfg.RemoteURL,
		timeout:   cfg.Timeout,
		width:     int64(cfg.ViewportWidth),
		height:    int64(cfg.ViewportHeight),
		scale:     cfg.DeviceScale,
		logger:    cfg.Logger,
	}
}

// Available reports whether a browser can be reached or started.
func (b *Bridge) Available() bool {
	if b.remoteURL != "" {
		return true
	}
	return b.binary() != ""
}

func (b *Bridge) binary() string {
	b.resolveOnce.Do(func() {
		if b.execPath != "" {
			if _, err := os.Stat(b.execPath); err == nil {
				b.resolved = b.execPath
			} else {
				b.logger.Warn("configured chrome binary not found", "path", b.execPath, "err", err)
			}
			return
		}
		for _, name := range chromeNames {
			if p, err := exec.LookPath(name); err == nil {
				b.resolved = p
				return
			}
		}
	})
	return b.resolved
}

// NewContext creates a new chromedp tab context. The caller MUST call
// cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if b.remoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parentCtx, b.remoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(b.binary()),
			chromedp.Headless,
			chromedp.DisableGPU,
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("font-render-hinting", "none"),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(parentCtx, opts...)
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}
	return taskCtx, cancelAll
}

// Render loads document into a blank tab sized to the configured viewport
// and hands the page to capture. The whole call is bounded by the overall
// timeout.
func (b *Bridge) Render(ctx context.Context, document string, capture PageFunc) ([]byte, error) {
	if !b.Available() {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	taskCtx, taskCancel := b.NewContext(ctx)
	defer taskCancel()

	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(b.width, b.height, chromedp.EmulateScale(b.scale)),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
		}),
	)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("load document: %w", err))
	}

	var out []byte
	err = chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		out, err = capture(ctx)
		return err
	}))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return out, nil
}

// classify marks errors caused by the overall deadline as ErrTimeout.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrElementNotFound) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// WaitElement waits up to timeout for selector to be present in the page.
func WaitElement(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := chromedp.WaitReady(selector, chromedp.ByQuery).Do(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
}

// Eval evaluates expression, awaiting it when it yields a promise, and
// stores the result in res (may be nil).
func Eval(ctx context.Context, expression string, res any) error {
	return chromedp.Evaluate(expression, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}).Do(ctx)
}

// Box is a page region in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Expand grows the box by margin on all sides, clamped at the page origin.
func (b Box) Expand(margin float64) Box {
	x, y := b.X-margin, b.Y-margin
	w, h := b.Width+2*margin, b.Height+2*margin
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	return Box{X: x, Y: y, Width: w, Height: h}
}

// ElementBox returns the bounding client rect of selector.
func ElementBox(ctx context.Context, selector string) (Box, error) {
	var res struct {
		Found bool `json:"found"`
		Box
	}
	expr := fmt.Sprintf(`(function() {
		var el = document.querySelector(%q);
		if (!el) return {found: false};
		var r = el.getBoundingClientRect();
		return {found: true, x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height};
	})()`, selector)
	if err := chromedp.Evaluate(expr, &res).Do(ctx); err != nil {
		return Box{}, fmt.Errorf("measure %s: %w", selector, err)
	}
	if !res.Found {
		return Box{}, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return res.Box, nil
}

// CaptureRegion screenshots the page clipped to box as PNG.
func CaptureRegion(ctx context.Context, box Box) ([]byte, error) {
	buf, err := page.CaptureScreenshot().
		WithFormat(page.CaptureScreenshotFormatPng).
		WithCaptureBeyondViewport(true).
		WithClip(&page.Viewport{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height, Scale: 1}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}
