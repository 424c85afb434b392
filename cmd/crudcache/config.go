package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-crudcache/pkg/microservice"
	"github.com/illmade-knight/go-crudcache/pkg/resource"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by Config.Backend.
const (
	BackendREST      = "rest"
	BackendFirestore = "firestore"
)

// FirestoreSettings names the Firestore collections backing each resource.
type FirestoreSettings struct {
	UsersCollection string `yaml:"users_collection"`
	PostsCollection string `yaml:"posts_collection"`
}

// PubSubSettings enables cross-session notifications when TopicID is set.
// SubscriptionID, when also set, enables invalidation from other sessions.
type PubSubSettings struct {
	TopicID                    string        `yaml:"topic_id"`
	SubscriptionID             string        `yaml:"subscription_id"`
	PublishConfirmationTimeout time.Duration `yaml:"publish_confirmation_timeout"`
}

// NotificationSettings configures the local notification feed.
type NotificationSettings struct {
	Capacity int `yaml:"capacity"`
}

// Config is the crudcache service configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Backend         string                `yaml:"backend"`
	REST            resource.RESTConfig   `yaml:"rest"`
	Redis           *resource.RedisConfig `yaml:"redis"`
	Firestore       FirestoreSettings     `yaml:"firestore"`
	PubSub          PubSubSettings        `yaml:"pubsub"`
	Notifications   NotificationSettings  `yaml:"notifications"`
	ShutdownTimeout time.Duration         `yaml:"shutdown_timeout"`
}

// NewConfigDefaults returns a config that serves the public REST placeholder
// API with no Redis, Firestore or Pub/Sub.
func NewConfigDefaults() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "crudcache",
		},
		Backend: BackendREST,
		REST:    *resource.NewRESTConfigDefaults(),
		Firestore: FirestoreSettings{
			UsersCollection: types.UsersCollection,
			PostsCollection: types.PostsCollection,
		},
		PubSub: PubSubSettings{
			PublishConfirmationTimeout: 30 * time.Second,
		},
		Notifications:   NotificationSettings{Capacity: 50},
		ShutdownTimeout: 15 * time.Second,
	}
}

// LoadConfig builds the defaults, overlays the YAML file at path when path is
// not empty, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfigDefaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("CRUDCACHE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("RESOURCE_BASE_URL"); v != "" {
		cfg.REST.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		if cfg.Redis == nil {
			cfg.Redis = &resource.RedisConfig{CacheTTL: 5 * time.Minute, KeyPrefix: "crudcache:"}
		}
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PUBSUB_TOPIC_ID"); v != "" {
		cfg.PubSub.TopicID = v
	}
	if v := os.Getenv("PUBSUB_SUBSCRIPTION_ID"); v != "" {
		cfg.PubSub.SubscriptionID = v
	}
	if v := os.Getenv("NOTIFICATION_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Notifications.Capacity = n
		}
	}
}

// Validate checks combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendREST:
		if c.REST.BaseURL == "" {
			return errors.New("rest.base_url is required for the rest backend")
		}
	case BackendFirestore:
		if c.ProjectID == "" {
			return errors.New("project_id is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Redis != nil && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is configured")
	}
	if (c.PubSub.TopicID != "" || c.PubSub.SubscriptionID != "") && c.ProjectID == "" {
		return errors.New("project_id is required for pubsub")
	}
	if c.PubSub.SubscriptionID != "" && c.PubSub.TopicID == "" {
		return errors.New("pubsub.topic_id is required when pubsub.subscription_id is set")
	}
	return nil
}
