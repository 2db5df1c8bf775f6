// Package events delivers committed state changes to the signal bus, the
// audit log and the notification senders. Delivery is best-effort: every
// failure is logged and none is reported to the operation that triggered it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const (
	// ChannelAll carries every event.
	ChannelAll = "parimutuel:events"
	// StreamAll is the durable copy of ChannelAll.
	StreamAll = "parimutuel:events:stream"

	deliveryTimeout = 5 * time.Second
)

// MarketChannel returns the pub/sub channel for one market's events.
func MarketChannel(marketID string) string {
	return "parimutuel:market:" + marketID
}

// Notifier forwards a formatted event to human-facing channels.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Formatter renders an event for a Notifier.
type Formatter func(ev domain.Event) (title, message string)

// Publisher implements domain.EventPublisher.
type Publisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	format   Formatter
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. Any sink may be nil.
func NewPublisher(bus domain.SignalBus, audit domain.AuditStore, notifier Notifier, format Formatter, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		format:   format,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Publish fans ev out to every configured sink. It runs detached from the
// caller's cancellation so a finished request does not drop its events.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if p.bus != nil {
		for _, ch := range []string{ChannelAll, MarketChannel(ev.MarketID)} {
			if err := p.bus.Publish(ctx, ch, payload); err != nil {
				p.warn(ctx, "bus publish failed", ev, err)
			}
		}
		if err := p.bus.StreamAppend(ctx, StreamAll, payload); err != nil {
			p.warn(ctx, "stream append failed", ev, err)
		}
	}

	if p.audit != nil {
		if err := p.audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
			p.warn(ctx, "audit log failed", ev, err)
		}
	}

	if p.notifier != nil && p.format != nil {
		title, msg := p.format(ev)
		if err := p.notifier.Notify(ctx, string(ev.Type), title, msg); err != nil {
			p.warn(ctx, "notify failed", ev, err)
		}
	}
}

func (p *Publisher) warn(ctx context.Context, msg string, ev domain.Event, err error) {
	p.logger.WarnContext(ctx, msg,
		slog.String("type", string(ev.Type)),
		slog.String("market_id", ev.MarketID),
		slog.String("error", err.Error()),
	)
}

func auditDetail(ev domain.Event) map[string]any {
	detail := map[string]any{
		"market_id":   ev.MarketID,
		"occurred_at": ev.OccurredAt.Format(time.RFC3339Nano),
	}
	if ev.Bet != nil {
		detail["bet_id"] = ev.Bet.ID
		detail["owner"] = ev.Bet.Owner
		detail["side"] = ev.Bet.Side.String()
		detail["amount"] = ev.Bet.Amount
	}
	if ev.Market != nil {
		detail["total_yes"] = ev.Market.TotalYes
		detail["total_no"] = ev.Market.TotalNo
		if ev.Type == domain.EventMarketResolved {
			detail["outcome"] = ev.Market.WinningOutcome.String()
			detail["settlement_pool"] = ev.Market.SettlementPool
		}
	}
	if ev.Fee > 0 {
		detail["fee"] = ev.Fee
	}
	if ev.Payout > 0 {
		detail["payout"] = ev.Payout
	}
	return detail
}

var _ domain.EventPublisher = (*Publisher)(nil)
