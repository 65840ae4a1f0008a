package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/sendgrid"
)

const (
	// EventOrderCreated is the event type published for new orders.
	EventOrderCreated = "order.created"

	defaultShopName = "Apex Labs Australia"
	defaultTimeout  = 10 * time.Second

	// order dates are shown in shop time; Queensland has no daylight saving
	shopTimeZone = "Australia/Brisbane"
)

// Mailer sends a single email.
type Mailer interface {
	Send(ctx context.Context, msg sendgrid.Message) error
}

// Publisher publishes an event message.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult
}

// PublishResult resolves to the server-assigned message id.
type PublishResult interface {
	Get(ctx context.Context) (string, error)
}

// NewPubSubPublisher adapts a Pub/Sub publisher handle.
func NewPubSubPublisher(p *gcppubsub.Publisher) Publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}

// OrderEvent is the payload published for order.created.
type OrderEvent struct {
	EventID    string        `json:"eventId"`
	EventType  string        `json:"eventType"`
	OccurredAt time.Time     `json:"occurredAt"`
	Data       *models.Order `json:"data"`
}

type DispatcherParams struct {
	Logger     *logger.Logger
	Mailer     Mailer
	Publisher  Publisher
	OwnerEmail string
	ShopName   string
	Timeout    time.Duration
	Location   *time.Location
	Now        func() time.Time
}

// Dispatcher fans a placed order out to the configured channels. Every order is
// logged; email and event delivery are optional.
type Dispatcher struct {
	logg       *logger.Logger
	mailer     Mailer
	publisher  Publisher
	ownerEmail string
	shopName   string
	timeout    time.Duration
	loc        *time.Location
	now        func() time.Time
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Mailer != nil && strings.TrimSpace(p.OwnerEmail) == "" {
		return nil, fmt.Errorf("owner email required when mail is enabled")
	}
	if strings.TrimSpace(p.ShopName) == "" {
		p.ShopName = defaultShopName
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.Location == nil {
		loc, err := time.LoadLocation(shopTimeZone)
		if err != nil {
			loc = time.UTC
		}
		p.Location = loc
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Dispatcher{
		logg:       p.Logger,
		mailer:     p.Mailer,
		publisher:  p.Publisher,
		ownerEmail: strings.TrimSpace(p.OwnerEmail),
		shopName:   p.ShopName,
		timeout:    p.Timeout,
		loc:        p.Location,
		now:        p.Now,
	}, nil
}

// NotifyOrderPlaced delivers the owner alert, the customer confirmation and the
// order.created event. Each failed delivery is returned as its own error
// inside a multierr.
func (d *Dispatcher) NotifyOrderPlaced(ctx context.Context, order *models.Order) error {
	if order == nil {
		return errors.New("order required")
	}
	ctx = d.logg.WithOrderNumber(ctx, order.OrderNumber)
	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"email":      order.Email,
		"total":      order.Total.StringFixed(2),
		"item_count": order.ItemCount(),
	}), "notifications.order_placed")

	var errs error
	if d.mailer != nil {
		errs = multierr.Append(errs, d.sendOwner(ctx, order))
		errs = multierr.Append(errs, d.sendCustomer(ctx, order))
	}
	if d.publisher != nil {
		errs = multierr.Append(errs, d.publish(ctx, order))
	}
	return errs
}

func (d *Dispatcher) sendOwner(ctx context.Context, order *models.Order) error {
	email, err := OwnerEmail(order, d.ownerEmail, d.shopName, d.loc)
	if err != nil {
		return fmt.Errorf("owner notification failed: %w", err)
	}
	if err := d.send(ctx, email); err != nil {
		return fmt.Errorf("owner notification failed: %w", err)
	}
	return nil
}

func (d *Dispatcher) sendCustomer(ctx context.Context, order *models.Order) error {
	email, err := CustomerEmail(order, d.shopName, d.loc)
	if err != nil {
		return fmt.Errorf("customer confirmation failed: %w", err)
	}
	if err := d.send(ctx, email); err != nil {
		return fmt.Errorf("customer confirmation failed: %w", err)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, email Email) error {
	msg := sendgrid.Message{
		To:      sendgrid.Address{Email: email.To},
		Subject: email.Subject,
		HTML:    email.HTML,
	}
	if email.ReplyTo != "" {
		msg.ReplyTo = &sendgrid.Address{Email: email.ReplyTo}
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.mailer.Send(sendCtx, msg)
}

func (d *Dispatcher) publish(ctx context.Context, order *models.Order) error {
	event := OrderEvent{
		EventID:    uuid.NewString(),
		EventType:  EventOrderCreated,
		OccurredAt: d.now().UTC(),
		Data:       order,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("order event failed: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result := d.publisher.Publish(pubCtx, &gcppubsub.Message{
		Data:        body,
		OrderingKey: order.OrderNumber,
		Attributes: map[string]string{
			"event_id":     event.EventID,
			"event_type":   EventOrderCreated,
			"order_number": order.OrderNumber,
		},
	})
	if result == nil {
		return errors.New("order event failed: publisher unavailable")
	}
	if _, err := result.Get(pubCtx); err != nil {
		return fmt.Errorf("order event failed: %w", err)
	}
	return nil
}
