// Package dispatch abstracts the delivery gateways (email, push, SMS)
// behind one send contract. The dispatcher owns no business logic: it
// routes to the channel's gateway, throttles, classifies failures as
// retryable or permanent, and runs an explicit live/mock mode.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/metrics"
)

// Mode controls whether sends reach real gateways.
type Mode int

const (
	ModeLive Mode = iota
	ModeMock
)

func (m Mode) String() string {
	if m == ModeMock {
		return "mock"
	}
	return "live"
}

// ParseMode maps a config string to a Mode; anything but "live" is mock.
func ParseMode(s string) Mode {
	if s == "live" {
		return ModeLive
	}
	return ModeMock
}

// Delivery is one send request for one channel.
type Delivery struct {
	NotificationID string
	UserID         string
	Channel        db.Channel
	Title          string
	Message        string
	Payload        json.RawMessage

	// Recipient addressing, resolved from the preferences snapshot.
	Email        string
	PhoneNumber  string
	DeviceTokens []string
}

// Result is the outcome of one send.
type Result struct {
	Delivered bool
	Retryable bool
	Simulated bool // true when no real gateway was exercised
	Detail    string
}

// Gateway is one concrete delivery mechanism. Send returns nil on
// delivery; failures wrapped with Permanent are never retried.
type Gateway interface {
	Channel() db.Channel
	Send(ctx context.Context, d Delivery) error
}

// permanentError marks a failure that must not be retried
// (bad address, opted-out number, rejected message).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err as a non-retryable gateway failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// sendTimeout bounds one gateway call so a hung dependency cannot
// starve the queue processor's cadence.
const sendTimeout = 15 * time.Second

// Dispatcher routes deliveries to per-channel gateways.
type Dispatcher struct {
	mode     Mode
	gateways map[db.Channel]Gateway
	limiters map[db.Channel]*rate.Limiter
	breakers map[db.Channel]*breaker
	logger   *zap.Logger
}

// New creates a dispatcher over the given gateways. A nil gateway slot is
// legal; sends for that channel are simulated and flagged as such.
func New(mode Mode, logger *zap.Logger, gateways ...Gateway) *Dispatcher {
	d := &Dispatcher{
		mode:     mode,
		gateways: make(map[db.Channel]Gateway),
		limiters: make(map[db.Channel]*rate.Limiter),
		breakers: make(map[db.Channel]*breaker),
		logger:   logger,
	}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		ch := gw.Channel()
		d.gateways[ch] = gw
		// 10 sends/sec with a burst of 20 per channel.
		d.limiters[ch] = rate.NewLimiter(rate.Limit(10), 20)
		d.breakers[ch] = newBreaker(string(ch), logger)
	}

	logger.Info("dispatcher initialized",
		zap.String("mode", mode.String()),
		zap.Int("gateways", len(d.gateways)),
	)
	return d
}

// Mode returns the dispatcher's configured mode.
func (d *Dispatcher) Mode() Mode {
	return d.mode
}

// Send delivers over the channel's gateway and classifies the outcome.
func (d *Dispatcher) Send(ctx context.Context, delivery Delivery) Result {
	if delivery.Channel == db.ChannelInApp {
		// In-app is the notification row itself; nothing external to do.
		return Result{Delivered: true}
	}

	if d.mode == ModeMock {
		return d.simulate(delivery, "mock mode")
	}

	gw, ok := d.gateways[delivery.Channel]
	if !ok {
		// Unconfigured gateway in live mode: succeed, but observably so.
		return d.simulate(delivery, "gateway unconfigured")
	}

	br := d.breakers[delivery.Channel]
	if !br.Allow() {
		return Result{
			Retryable: true,
			Detail:    "circuit open: " + string(delivery.Channel) + " gateway unavailable",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if lim := d.limiters[delivery.Channel]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			br.RecordFailure()
			return Result{Retryable: true, Detail: "rate limit wait: " + err.Error()}
		}
	}

	if err := gw.Send(ctx, delivery); err != nil {
		br.RecordFailure()
		retryable := !IsPermanent(err)
		d.logger.Warn("gateway send failed",
			zap.String("notification_id", delivery.NotificationID),
			zap.String("channel", string(delivery.Channel)),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		return Result{Retryable: retryable, Detail: err.Error()}
	}

	br.RecordSuccess()
	return Result{Delivered: true}
}

func (d *Dispatcher) simulate(delivery Delivery, reason string) Result {
	metrics.RecordSimulatedSend(string(delivery.Channel))
	d.logger.Info("send simulated",
		zap.String("notification_id", delivery.NotificationID),
		zap.String("channel", string(delivery.Channel)),
		zap.String("reason", reason),
	)
	return Result{Delivered: true, Simulated: true, Detail: reason}
}
