package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/pgnotify"
)

const (
	defaultHeartbeat      = 25 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// ErrFeedClosed is returned by Serve when the feed drops the subscription.
var ErrFeedClosed = errors.New("change feed closed")

// Source hands out subscriptions to the raw change feed.
type Source interface {
	Subscribe() *pgnotify.Subscription
	Ready() <-chan struct{}
}

// Sink receives stream frames for one subscriber.
type Sink interface {
	WriteEvent(v any) error
	WriteComment(text string) error
}

type Params struct {
	Source         Source
	Logger         *logger.Logger
	Heartbeat      time.Duration
	ConnectTimeout time.Duration
}

// Broadcaster forwards order changes to stream subscribers.
type Broadcaster struct {
	source         Source
	logg           *logger.Logger
	heartbeat      time.Duration
	connectTimeout time.Duration
}

func New(p Params) (*Broadcaster, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("change source required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Heartbeat <= 0 {
		p.Heartbeat = defaultHeartbeat
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = defaultConnectTimeout
	}
	return &Broadcaster{
		source:         p.Source,
		logg:           p.Logger,
		heartbeat:      p.Heartbeat,
		connectTimeout: p.ConnectTimeout,
	}, nil
}

// Serve streams to sink until ctx is done, the feed closes, or a write fails.
// The subscription is released on every return path.
func (b *Broadcaster) Serve(ctx context.Context, sink Sink) error {
	sub := b.source.Subscribe()
	defer sub.Close()

	if err := sink.WriteEvent(Message{Type: TypeConnected, Message: "ok"}); err != nil {
		return fmt.Errorf("write connected: %w", err)
	}
	if err := sink.WriteEvent(b.awaitReady(ctx)); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	b.logg.Info(ctx, "broadcast.subscriber.opened")

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logg.Info(ctx, "broadcast.subscriber.closed")
			return nil
		case n, ok := <-sub.C():
			if !ok {
				return ErrFeedClosed
			}
			evt, err := DecodeChangeEvent(n.Payload, n.ReceivedAt)
			if err != nil {
				b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "broadcast.event.undecodable")
				continue
			}
			if err := sink.WriteEvent(Message{Type: TypeChange, Payload: &evt}); err != nil {
				return fmt.Errorf("write change: %w", err)
			}
		case <-ticker.C:
			if err := sink.WriteComment("heartbeat"); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
		}
	}
}

func (b *Broadcaster) awaitReady(ctx context.Context) Message {
	ready := b.source.Ready()
	select {
	case <-ready:
		return Message{Type: TypeStatus, Status: StatusSubscribed}
	default:
	}

	timer := time.NewTimer(b.connectTimeout)
	defer timer.Stop()
	select {
	case <-ready:
		return Message{Type: TypeStatus, Status: StatusSubscribed}
	case <-ctx.Done():
		return Message{Type: TypeStatus, Status: StatusTimedOut, Error: ctx.Err().Error()}
	case <-timer.C:
		b.logg.Warn(ctx, "broadcast.feed.not_ready")
		return Message{Type: TypeStatus, Status: StatusTimedOut, Error: "change feed is not connected yet"}
	}
}
