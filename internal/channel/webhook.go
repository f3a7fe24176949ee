package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hookbridge/internal/metrics"
	"hookbridge/internal/template"
)

const (
	maxBodyBytes = 1 << 20 // 1MB max

	headerMismatchBody = "header not match"
	ackBody            = "ok"
	signatureHeader    = "X-Signature-256"
)

// WebhookHandler receives the decoded payload of an accepted request. The
// response is written after it returns.
type WebhookHandler func(ctx context.Context, payload any)

// Route binds one listener to a method and path.
type Route struct {
	Method  string            // GET or POST
	Path    string            // absolute path, prefix already applied
	Headers map[string]string // must all match exactly
	Secret  string            // optional HMAC-SHA256 secret for X-Signature-256
	Handle  WebhookHandler
}

// WebhookConfig configures the webhook server.
type WebhookConfig struct {
	Addr        string
	Routes      []Route
	MetricsPath string       // empty disables the metrics endpoint
	Metrics     http.Handler // served at MetricsPath
	Health      func() map[string]any
	Logger      *slog.Logger
}

// WebhookServer accepts webhook calls for every configured listener.
type WebhookServer struct {
	addr   string
	router chi.Router
	logger *slog.Logger
	server *http.Server
}

// NewWebhookServer builds the router for cfg.
func NewWebhookServer(cfg WebhookConfig) *WebhookServer {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &WebhookServer{addr: cfg.Addr, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(rw http.ResponseWriter, req *http.Request) {
		status := map[string]any{"status": "ok"}
		if cfg.Health != nil {
			for k, v := range cfg.Health() {
				status[k] = v
			}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(status)
	})
	if cfg.MetricsPath != "" && cfg.Metrics != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics)
	}

	for _, route := range cfg.Routes {
		method := strings.ToUpper(route.Method)
		r.With(headerGate(route.Headers)).Method(method, route.Path, w.listener(route))
		w.logger.Debug("webhook listener mounted", "method", method, "path", route.Path)
	}

	w.router = r
	return w
}

// Router exposes the HTTP handler, mainly for tests.
func (w *WebhookServer) Router() http.Handler { return w.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *WebhookServer) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// headerGate rejects requests whose headers differ from the expected ones.
// An expected empty value still requires the header to be sent.
func headerGate(expected map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			for name, want := range expected {
				if !headerMatches(r.Header, name, want) {
					metrics.HeaderRejects.Inc()
					rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
					rw.WriteHeader(http.StatusBadRequest)
					_, _ = io.WriteString(rw, headerMismatchBody)
					return
				}
			}
			next.ServeHTTP(rw, r)
		})
	}
}

func headerMatches(h http.Header, name, want string) bool {
	values := h.Values(name)
	if len(values) == 0 {
		return false
	}
	return values[0] == want
}

func (w *WebhookServer) listener(route Route) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var payload any
		if r.Method == http.MethodGet {
			payload = r.URL.Query()
		} else {
			body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(rw, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(rw, "Bad Request", http.StatusBadRequest)
				return
			}
			defer r.Body.Close()

			if route.Secret != "" {
				sig := r.Header.Get(signatureHeader)
				if sig == "" {
					http.Error(rw, "Missing signature", http.StatusUnauthorized)
					return
				}
				if !verifyHMAC(body, route.Secret, sig) {
					http.Error(rw, "Invalid signature", http.StatusForbidden)
					return
				}
			}
			payload = w.decodeBody(r.Header.Get("Content-Type"), body)
		}

		metrics.WebhookRequests.Inc()
		w.logger.Info("webhook received", "method", r.Method, "path", route.Path,
			"request_id", middleware.GetReqID(r.Context()))

		if route.Handle != nil {
			route.Handle(context.WithoutCancel(r.Context()), payload)
		}

		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(rw, ackBody)
	}
}

// decodeBody turns a POST body into template input: form fields for form
// posts, JSON when it parses, the raw text otherwise.
func (w *WebhookServer) decodeBody(contentType string, body []byte) any {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err == nil {
			return values
		}
		w.logger.Debug("form body did not parse, passing raw text", "err", err)
	}
	payload, err := template.DecodePayload(string(body))
	if err != nil {
		w.logger.Debug("body is not JSON, passing raw text", "err", err)
	}
	return payload
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// requestLogger logs one line per request with slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
