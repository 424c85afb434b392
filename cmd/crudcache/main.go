// Command crudcache serves the users and posts collections over HTTP from a
// per-collection cache that sits in front of a remote resource API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-crudcache/pkg/cache"
	"github.com/illmade-knight/go-crudcache/pkg/crud"
	"github.com/illmade-knight/go-crudcache/pkg/microservice"
	"github.com/illmade-knight/go-crudcache/pkg/notify"
	"github.com/illmade-knight/go-crudcache/pkg/resource"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("crudcache", flag.ContinueOnError)
	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	// Every notification this process publishes carries origin, so its own
	// invalidation listener can skip them.
	origin := uuid.NewString()
	logger.Info().Str("origin", origin).Str("backend", cfg.Backend).Msg("Starting crudcache.")

	var closers []func(context.Context) error
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Error during shutdown.")
			}
		}
		logger.Info().Msg("crudcache stopped.")
	}()

	var fsClient *firestore.Client
	if cfg.Backend == BackendFirestore {
		fsClient, err = firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create firestore client: %w", err)
		}
		closers = append(closers, func(context.Context) error { return fsClient.Close() })
	}

	userSource, err := newSource[types.User](ctx, cfg, types.UsersCollection, cfg.Firestore.UsersCollection, fsClient, logger)
	if err != nil {
		return err
	}
	closers = append(closers, func(context.Context) error { return userSource.Close() })

	postSource, err := newSource[types.Post](ctx, cfg, types.PostsCollection, cfg.Firestore.PostsCollection, fsClient, logger)
	if err != nil {
		return err
	}
	closers = append(closers, func(context.Context) error { return postSource.Close() })

	recent := notify.NewInMemoryNotifier(cfg.Notifications.Capacity)
	notifiers := notify.MultiNotifier{recent}

	var psClient *pubsub.Client
	if cfg.PubSub.TopicID != "" {
		psClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create pubsub client: %w", err)
		}
		closers = append(closers, func(context.Context) error { return psClient.Close() })

		notifierCfg := notify.NewGooglePubsubNotifierDefaults(cfg.PubSub.TopicID)
		notifierCfg.Origin = origin
		if cfg.PubSub.PublishConfirmationTimeout > 0 {
			notifierCfg.PublishConfirmationTimeout = cfg.PubSub.PublishConfirmationTimeout
		}
		psNotifier, err := notify.NewGooglePubsubNotifier(ctx, notifierCfg, psClient, logger)
		if err != nil {
			return err
		}
		closers = append(closers, psNotifier.Stop)
		notifiers = append(notifiers, psNotifier)
	}

	userCache := cache.NewCollectionCache[types.User](logger)
	postCache := cache.NewCollectionCache[types.Post](logger)

	users, err := crud.NewService[types.User](userSource, userCache, notifiers, logger)
	if err != nil {
		return err
	}
	posts, err := crud.NewService[types.Post](postSource, postCache, notifiers, logger)
	if err != nil {
		return err
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort)
	crud.RegisterRoutes(server.Mux(), users, logger)
	crud.RegisterRoutes(server.Mux(), posts, logger)
	crud.RegisterNotificationRoutes(server.Mux(), recent)
	server.AddReadinessCheck(users.Collection(), lastLoadCheck(users.Peek))
	server.AddReadinessCheck(posts.Collection(), lastLoadCheck(posts.Peek))

	if cfg.PubSub.SubscriptionID != "" {
		listenerCfg := notify.NewInvalidationListenerDefaults(cfg.PubSub.SubscriptionID)
		listenerCfg.Origin = origin
		listener, err := notify.NewInvalidationListener(ctx, listenerCfg, psClient, []notify.Invalidator{userCache, postCache}, logger)
		if err != nil {
			return err
		}
		if err := listener.Start(ctx); err != nil {
			return err
		}
		closers = append(closers, listener.Stop)
	}

	if err := server.Start(); err != nil {
		return err
	}
	closers = append(closers, server.Shutdown)

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")
	return nil
}

func newLogger(cfg *Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger(), nil
}

// newSource builds the configured backend for one collection and fronts it
// with Redis when Redis is configured.
func newSource[R types.Record](
	ctx context.Context,
	cfg *Config,
	collection string,
	firestoreCollection string,
	fsClient *firestore.Client,
	logger zerolog.Logger,
) (resource.Source[R], error) {
	var source resource.Source[R]
	switch cfg.Backend {
	case BackendFirestore:
		fsSource, err := resource.NewFirestoreSource[R](&resource.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: firestoreCollection,
		}, fsClient, logger)
		if err != nil {
			return nil, err
		}
		source = fsSource
	default:
		restCfg := cfg.REST
		rest, err := resource.NewRESTClient[R](&restCfg, collection, nil, logger)
		if err != nil {
			return nil, err
		}
		source = rest
	}

	if cfg.Redis == nil {
		return source, nil
	}
	cached, err := resource.NewRedisCachedSource[R](ctx, cfg.Redis, source, logger)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	return cached, nil
}

// lastLoadCheck fails while the most recent load of a collection failed.
func lastLoadCheck[R any](peek func() (cache.Snapshot[R], error)) microservice.ReadinessCheck {
	return func(context.Context) error {
		snap, err := peek()
		if err != nil {
			return err
		}
		if snap.Err != nil {
			return fmt.Errorf("last load of %s failed: %w", snap.Key, snap.Err)
		}
		return nil
	}
}
