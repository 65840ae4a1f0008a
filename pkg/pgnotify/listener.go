package pgnotify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/retry"
)

const (
	defaultBuffer     = 64
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Notification is one NOTIFY delivered on the listened channel.
type Notification struct {
	Channel    string
	Payload    []byte
	ReceivedAt time.Time
}

// Conn is a dedicated connection able to LISTEN.
type Conn interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Connector opens a fresh dedicated connection.
type Connector func(ctx context.Context) (Conn, error)

// Metrics tracks subscriber counts and dropped deliveries.
type Metrics interface {
	SubscriberOpened()
	SubscriberClosed()
	IncDropped()
}

// PoolConnector takes a connection out of pool for the lifetime of a LISTEN
// session. The connection is hijacked so it never returns to the pool while
// still subscribed.
func PoolConnector(pool *pgxpool.Pool) Connector {
	return func(ctx context.Context) (Conn, error) {
		pooled, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen conn: %w", err)
		}
		return &pgxConn{conn: pooled.Hijack()}, nil
	}
}

type pgxConn struct {
	conn *pgx.Conn
}

func (c *pgxConn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

func (c *pgxConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.conn.WaitForNotification(ctx)
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Options configures a Listener.
type Options struct {
	Channel    string
	Connect    Connector
	Logger     *logger.Logger
	Metrics    Metrics
	Buffer     int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Listener holds one LISTEN connection and fans notifications out to
// subscribers. A subscriber whose buffer is full misses that notification.
type Listener struct {
	channel    string
	connect    Connector
	logg       *logger.Logger
	metrics    Metrics
	buffer     int
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription

	readyOnce sync.Once
	ready     chan struct{}
}

// New validates options and builds a Listener. Call Run to start listening.
func New(opts Options) (*Listener, error) {
	if opts.Channel == "" {
		return nil, errors.New("notify channel required")
	}
	if opts.Connect == nil {
		return nil, errors.New("connector required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Listener{
		channel:    opts.Channel,
		connect:    opts.Connect,
		logg:       opts.Logger,
		metrics:    opts.Metrics,
		buffer:     opts.Buffer,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		subs:       make(map[uint64]*Subscription),
		ready:      make(chan struct{}),
	}, nil
}

// Channel returns the listened channel name.
func (l *Listener) Channel() string {
	return l.channel
}

// Ready is closed once the first LISTEN succeeds.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Run listens until ctx is done, reconnecting with backoff after failures.
func (l *Listener) Run(ctx context.Context) error {
	ctx = l.logg.WithField(ctx, "channel", l.channel)
	backoff := l.minBackoff
	for {
		listened, err := l.session(ctx)
		if ctx.Err() != nil {
			l.logg.Info(ctx, "pgnotify.listener.stopped")
			return ctx.Err()
		}
		if listened {
			backoff = l.minBackoff
		}
		l.logg.Error(l.logg.WithField(ctx, "retry_in_ms", backoff.Milliseconds()), "pgnotify.listener.disconnected", err)
		if err := retry.Sleep(ctx, retry.WithJitter(backoff)); err != nil {
			return err
		}
		backoff = retry.NextBackoff(backoff, l.minBackoff, l.maxBackoff)
	}
}

func (l *Listener) session(ctx context.Context) (bool, error) {
	conn, err := l.connect(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if err := conn.Listen(ctx, l.channel); err != nil {
		return false, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.readyOnce.Do(func() { close(l.ready) })
	l.logg.Info(ctx, "pgnotify.listener.listening")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait for notification: %w", err)
		}
		l.publish(Notification{Channel: n.Channel, Payload: []byte(n.Payload), ReceivedAt: time.Now().UTC()})
	}
}

// Subscribe registers a new subscriber. Callers must Close it.
func (l *Listener) Subscribe() *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	sub := &Subscription{
		id:       l.nextID,
		listener: l,
		ch:       make(chan Notification, l.buffer),
	}
	l.subs[sub.id] = sub
	if l.metrics != nil {
		l.metrics.SubscriberOpened()
	}
	return sub
}

// Subscribers reports how many subscriptions are open.
func (l *Listener) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Publish delivers n to every subscriber without blocking. Exposed for
// in-process producers and tests; Run uses it for NOTIFY traffic.
func (l *Listener) Publish(n Notification) {
	l.publish(n)
}

func (l *Listener) publish(n Notification) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, sub := range l.subs {
		select {
		case sub.ch <- n:
		default:
			if l.metrics != nil {
				l.metrics.IncDropped()
			}
			logCtx := l.logg.WithFields(context.Background(), map[string]any{
				"channel":       l.channel,
				"subscriber_id": sub.id,
			})
			l.logg.Warn(logCtx, "pgnotify.delivery.dropped")
		}
	}
}

func (l *Listener) remove(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[id]
	if !ok {
		return false
	}
	delete(l.subs, id)
	close(sub.ch)
	if l.metrics != nil {
		l.metrics.SubscriberClosed()
	}
	return true
}

// Subscription is one consumer of the listener's notifications.
type Subscription struct {
	id       uint64
	listener *Listener
	ch       chan Notification
	once     sync.Once
}

// C yields notifications; it is closed by Close.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Close unsubscribes. When it returns the listener no longer references the
// subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.listener.remove(s.id)
	})
}
