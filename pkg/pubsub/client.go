package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

var (
	ErrProjectIDRequired = errors.New("gcp project id is required")
	ErrTopicRequired     = errors.New("pubsub order event topic is required")
)

// Client owns the Pub/Sub connection used to fan order events out to
// downstream consumers (fulfilment, accounting).
type Client struct {
	client *pubsub.Client
	topic  string
	cfg    config.PubSubConfig
}

// NewClient dials Pub/Sub and fails fast when the order event topic is missing,
// so a misconfigured deployment never accepts orders it cannot announce.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, ErrProjectIDRequired
	}
	topic, err := TopicName(project, cfg.NotificationTopic)
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	raw, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: raw, topic: topic, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub.client.ready")
	}
	return c, nil
}

// OrderEvents returns a publisher for the order event topic. Messages sharing
// an ordering key (the order number) are delivered in publish order.
func (c *Client) OrderEvents() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	p := c.client.Publisher(c.topic)
	p.EnableMessageOrdering = true
	if c.cfg.PublishDelay > 0 {
		p.PublishSettings.DelayThreshold = c.cfg.PublishDelay
	}
	if c.cfg.PublishTimeout > 0 {
		p.PublishSettings.Timeout = c.cfg.PublishTimeout
	}
	return p
}

// Ping confirms the order event topic is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.topic)
	default:
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// TopicName expands a bare topic id into its projects/<p>/topics/<t> form.
// Fully qualified names pass through untouched.
func TopicName(project, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrTopicRequired
	}
	if strings.HasPrefix(topic, "projects/") {
		if !strings.Contains(topic, "/topics/") {
			return "", fmt.Errorf("malformed topic name %q", topic)
		}
		return topic, nil
	}
	if strings.ContainsAny(topic, "/ ") {
		return "", fmt.Errorf("malformed topic id %q", topic)
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return "", ErrProjectIDRequired
	}
	return "projects/" + project + "/topics/" + topic, nil
}
