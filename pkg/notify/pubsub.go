package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Message attributes set on every published notification.
const (
	AttrCollection = "collection"
	AttrOp         = "op"
	AttrSeverity   = "severity"
	AttrOrigin     = "origin"
)

// GooglePubsubNotifierConfig holds configuration for the Pub/Sub notifier.
type GooglePubsubNotifierConfig struct {
	TopicID string `yaml:"topic_id"`
	// Origin identifies this session so listeners can skip their own events.
	Origin                     string        `yaml:"origin"`
	TopicExistsTimeout         time.Duration `yaml:"topic_exists_timeout"`
	PublishConfirmationTimeout time.Duration `yaml:"publish_confirmation_timeout"`
}

// NewGooglePubsubNotifierDefaults provides a config with sensible defaults.
// PUBSUB_NOTIFIER_CONFIRMATION_TIMEOUT overrides the confirmation timeout.
func NewGooglePubsubNotifierDefaults(topicID string) *GooglePubsubNotifierConfig {
	cfg := &GooglePubsubNotifierConfig{
		TopicID:                    topicID,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 30 * time.Second,
	}
	if ct := os.Getenv("PUBSUB_NOTIFIER_CONFIRMATION_TIMEOUT"); ct != "" {
		if val, err := time.ParseDuration(ct); err == nil {
			cfg.PublishConfirmationTimeout = val
		}
	}
	return cfg
}

// GooglePubsubNotifier publishes each notification as JSON to a Pub/Sub topic.
type GooglePubsubNotifier struct {
	topic               *pubsub.Topic
	origin              string
	confirmationTimeout time.Duration
	logger              zerolog.Logger
	wg                  sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// ErrNotifierStopped is returned by Notify after Stop has been called.
var ErrNotifierStopped = errors.New("notifier is stopped")

// NewGooglePubsubNotifier creates a notifier. It verifies that the target
// topic exists before returning.
func NewGooglePubsubNotifier(
	ctx context.Context,
	cfg *GooglePubsubNotifierConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*GooglePubsubNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &GooglePubsubNotifier{
		topic:               topic,
		origin:              cfg.Origin,
		confirmationTimeout: cfg.PublishConfirmationTimeout,
		logger:              logger.With().Str("component", "GooglePubsubNotifier").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Notify queues the notification for publishing and returns immediately.
// The publish result is logged asynchronously.
func (p *GooglePubsubNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification %s: %w", n.ID, err)
	}

	// wg.Add must not race Stop's wg.Wait.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrNotifierStopped
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			AttrCollection: n.Collection,
			AttrOp:         string(n.Op),
			AttrSeverity:   string(n.Severity),
			AttrOrigin:     p.origin,
		},
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// A fresh context so a short-lived request context does not cancel the confirmation.
		getCtx, cancel := context.WithTimeout(context.Background(), p.confirmationTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Str("notification_id", n.ID).Msg("Failed to publish notification.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Str("notification_id", n.ID).Msg("Notification published.")
	}()
	return nil
}

// Stop flushes pending notifications, respecting the context's timeout.
func (p *GooglePubsubNotifier) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		p.wg.Wait()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
