// Package dispatch fans one message out to every destination on every
// connected bot.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hookbridge/internal/domain"
	"hookbridge/internal/metrics"
)

// Report summarises one delivery.
type Report struct {
	Attempted int
	Failed    int
}

// Dispatcher delivers messages through the bots of a registry.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

func New(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Deliver sends msg to every channel id, then every private chat id, on each
// connected bot in turn. Sends run one at a time. A failed send is logged
// and does not stop the remaining ones; all failures are joined into the
// returned error.
func (d *Dispatcher) Deliver(ctx context.Context, msg domain.Message, channels, privates []string) (Report, error) {
	var (
		report Report
		errs   []error
	)
	bots := d.registry.Bots()
	if len(bots) == 0 && len(channels)+len(privates) > 0 {
		d.logger.Warn("no connected bots, message dropped", "channels", len(channels), "privates", len(privates))
	}

	send := func(bot domain.Bot, kind, id string, fn func(context.Context, string, domain.Message) error) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s %s %s: %w", bot.Name(), kind, id, err))
			report.Failed++
			return
		}
		report.Attempted++
		if err := fn(ctx, id, msg); err != nil {
			report.Failed++
			metrics.DeliveryFailures.Inc()
			d.logger.Error("delivery failed", "bot", bot.Name(), "platform", bot.Platform(), kind, id, "err", err)
			errs = append(errs, fmt.Errorf("%s %s %s: %w", bot.Name(), kind, id, err))
			return
		}
		metrics.Deliveries.Inc()
		d.logger.Debug("delivered", "bot", bot.Name(), kind, id, "elements", len(msg.Elements))
	}

	for _, bot := range bots {
		for _, id := range channels {
			send(bot, "channel", id, bot.SendChannel)
		}
		for _, id := range privates {
			send(bot, "private", id, bot.SendPrivate)
		}
	}
	return report, errors.Join(errs...)
}
