// Package relay runs the per-request pipeline: template, markup decoding,
// delivery and bookkeeping.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hookbridge/internal/dispatch"
	"hookbridge/internal/domain"
	"hookbridge/internal/journal"
	"hookbridge/internal/markup"
	"hookbridge/internal/metrics"
	"hookbridge/internal/template"
)

// Listener is the read-only routing data of one webhook route.
type Listener struct {
	Path     string
	Method   string
	Template string
	Channels []string
	Privates []string
}

// Deliverer sends a message to the listener's destinations.
type Deliverer interface {
	Deliver(ctx context.Context, msg domain.Message, channels, privates []string) (dispatch.Report, error)
}

// Recorder stores one entry per handled request.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// Config wires a Relay. Journal is optional.
type Config struct {
	Templates   *template.Renderer
	Parser      *markup.Parser
	Dispatcher  Deliverer
	Journal     Recorder
	PrintData   bool
	PrintResult bool
	Logger      *slog.Logger
}

// Relay handles accepted webhook payloads.
type Relay struct {
	templates   *template.Renderer
	parser      *markup.Parser
	dispatcher  Deliverer
	journal     Recorder
	printData   bool
	printResult bool
	logger      *slog.Logger
}

// Result describes how one request was handled.
type Result struct {
	Outcome  journal.Outcome
	Rendered string
	Message  domain.Message
	Report   dispatch.Report
	Err      error
}

func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Templates == nil {
		cfg.Templates = template.NewRenderer(cfg.Logger)
	}
	if cfg.Parser == nil {
		cfg.Parser = markup.NewParser(nil, cfg.Logger)
	}
	return &Relay{
		templates:   cfg.Templates,
		parser:      cfg.Parser,
		dispatcher:  cfg.Dispatcher,
		journal:     cfg.Journal,
		printData:   cfg.PrintData,
		printResult: cfg.PrintResult,
		logger:      cfg.Logger,
	}
}

// Handler adapts l to the webhook server's handler signature.
func (r *Relay) Handler(l Listener) func(context.Context, any) {
	return func(ctx context.Context, payload any) {
		r.Handle(ctx, l, payload)
	}
}

// Handle runs the pipeline for one payload. Template errors are logged and
// end the request; nothing is sent for an empty rendering.
func (r *Relay) Handle(ctx context.Context, l Listener, payload any) Result {
	start := time.Now()
	logger := r.logger.With("listener", l.Path, "method", l.Method)
	if r.printData {
		logger.Info("webhook payload", "data", payload)
	}

	res := r.handle(ctx, l, payload, logger)

	elapsed := time.Since(start)
	metrics.RelayLatency.Observe(elapsed.Seconds())
	r.record(ctx, l, res, elapsed, logger)
	return res
}

func (r *Relay) handle(ctx context.Context, l Listener, payload any, logger *slog.Logger) Result {
	rendered, err := r.templates.Render(l.Template, payload)
	if err != nil {
		metrics.TemplateErrors.Inc()
		logger.Error("template render failed", "err", err)
		return Result{Outcome: journal.OutcomeTemplateError, Err: err}
	}
	if r.printResult {
		logger.Info("template rendered", "result", rendered)
	}
	if rendered == "" {
		metrics.EmptyMessages.Inc()
		logger.Debug("rendered message is empty, nothing to send")
		return Result{Outcome: journal.OutcomeEmpty}
	}

	msg := domain.Message{Elements: r.parser.Parse(ctx, rendered)}
	res := Result{Outcome: journal.OutcomeDelivered, Rendered: rendered, Message: msg}
	if r.dispatcher == nil {
		return res
	}

	report, err := r.dispatcher.Deliver(ctx, msg, l.Channels, l.Privates)
	res.Report = report
	if err != nil {
		res.Outcome = journal.OutcomeDeliveryError
		res.Err = err
	}
	logger.Info("message relayed", "elements", len(msg.Elements),
		"sent", report.Attempted-report.Failed, "failed", report.Failed)
	return res
}

func (r *Relay) record(ctx context.Context, l Listener, res Result, elapsed time.Duration, logger *slog.Logger) {
	if r.journal == nil {
		return
	}
	entry := journal.Entry{
		Listener:     l.Path,
		Method:       l.Method,
		Outcome:      res.Outcome,
		Elements:     len(res.Message.Elements),
		TextImages:   countTextImages(res.Rendered),
		Destinations: res.Report.Attempted,
		Failures:     res.Report.Failed,
		Duration:     elapsed,
	}
	if res.Err != nil {
		entry.Error = errorText(res.Err)
	}
	if _, err := r.journal.Record(ctx, entry); err != nil {
		logger.Warn("journal record failed", "err", err)
	}
}

func countTextImages(rendered string) int {
	n := 0
	for _, tok := range markup.Scan(rendered) {
		if tok.Tag && tok.Kind == markup.KindTextImage {
			n++
		}
	}
	return n
}

// errorText keeps the first of several joined errors and counts the rest.
func errorText(err error) string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		errs := joined.Unwrap()
		if len(errs) > 1 {
			return fmt.Sprintf("%v (and %d more)", errs[0], len(errs)-1)
		}
	}
	return err.Error()
}
