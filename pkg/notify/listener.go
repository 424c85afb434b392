package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-crudcache/pkg/cache"
	"github.com/rs/zerolog"
)

// Invalidator marks a collection key stale. *cache.CollectionCache satisfies it.
type Invalidator interface {
	Invalidate(key string) error
}

// InvalidationListenerConfig holds configuration for the listener's subscription.
type InvalidationListenerConfig struct {
	SubscriptionID string `yaml:"subscription_id"`
	// Origin is this session's id; notifications carrying it are ignored.
	Origin                 string `yaml:"origin"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
	NumGoroutines          int    `yaml:"num_goroutines"`
}

// NewInvalidationListenerDefaults provides a config with sensible defaults.
func NewInvalidationListenerDefaults(subID string) *InvalidationListenerConfig {
	return &InvalidationListenerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          2,
	}
}

// InvalidationListener receives notifications published by other sessions
// and invalidates the named collection for every successful mutation, so
// the next read here refetches.
type InvalidationListener struct {
	subscription *pubsub.Subscription
	invalidators []Invalidator
	origin       string
	logger       zerolog.Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	doneChan chan struct{}
}

// NewInvalidationListener creates a listener. It verifies that the
// subscription exists before returning.
func NewInvalidationListener(
	ctx context.Context,
	cfg *InvalidationListenerConfig,
	client *pubsub.Client,
	invalidators []Invalidator,
	logger zerolog.Logger,
) (*InvalidationListener, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if len(invalidators) == 0 {
		return nil, fmt.Errorf("at least one invalidator is required")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &InvalidationListener{
		subscription: sub,
		invalidators: invalidators,
		origin:       cfg.Origin,
		logger:       logger.With().Str("component", "InvalidationListener").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving in a background goroutine.
func (l *InvalidationListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("invalidation listener already started")
	}
	l.started = true

	receiveCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go func() {
		defer close(l.doneChan)
		l.logger.Info().Msg("Invalidation listener started.")
		err := l.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			l.handle(msg.Attributes)
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error.")
		}
		l.logger.Info().Msg("Invalidation listener stopped.")
	}()
	return nil
}

// Stop cancels receiving and waits for the receive goroutine, bounded by ctx.
func (l *InvalidationListener) Stop(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		l.mu.Lock()
		started, cancel := l.started, l.cancel
		l.mu.Unlock()
		if !started {
			return
		}
		cancel()
		select {
		case <-l.doneChan:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Done is closed once a started listener has fully stopped.
func (l *InvalidationListener) Done() <-chan struct{} { return l.doneChan }

// handle applies one notification. Messages are always acked: a notification
// that cannot be applied is not worth redelivering.
func (l *InvalidationListener) handle(attrs map[string]string) {
	collection := attrs[AttrCollection]
	switch {
	case collection == "":
		l.logger.Warn().Msg("Notification without a collection attribute, ignoring.")
		return
	case attrs[AttrOrigin] != "" && attrs[AttrOrigin] == l.origin:
		return
	case Severity(attrs[AttrSeverity]) != SeveritySuccess:
		return
	case Op(attrs[AttrOp]) == OpList:
		return
	}

	for _, inv := range l.invalidators {
		err := inv.Invalidate(collection)
		if err == nil {
			l.logger.Debug().Str("collection", collection).Str("origin", attrs[AttrOrigin]).Msg("Invalidated collection after a remote mutation.")
			continue
		}
		if !errors.Is(err, cache.ErrUnknownKey) {
			l.logger.Error().Err(err).Str("collection", collection).Msg("Failed to invalidate collection.")
		}
	}
}
