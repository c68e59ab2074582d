// Package redisutil builds Redis clients shared by the document store, the
// identity directory, leases and manifest snapshots.
package redisutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/tlsenv"
)

const (
	// DefaultURL is used when no REDIS_URL is configured.
	DefaultURL = "redis://localhost:6379"

	envTLSPrefix         = "REDIS"
	envRedisClusterAddrs = "REDIS_CLUSTER_ADDRESSES"

	pingTimeout = 2 * time.Second
)

// Connect builds a client for rawURL and verifies it answers PING.
func Connect(rawURL string) (redis.UniversalClient, error) {
	client, err := NewClient(rawURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", RedactURL(rawURL), err)
	}
	logging.Info("redis", "connected", "url", RedactURL(rawURL))
	return client, nil
}

// NewClient creates a client without contacting the server.
func NewClient(rawURL string) (redis.UniversalClient, error) {
	opts, err := UniversalOptions(rawURL)
	if err != nil {
		return nil, err
	}
	return redis.NewUniversalClient(opts), nil
}

// UniversalOptions resolves rawURL plus REDIS_TLS_* and REDIS_CLUSTER_ADDRESSES.
// Cluster addresses replace the URL host; credentials and TLS still come from the URL.
func UniversalOptions(rawURL string) (*redis.UniversalOptions, error) {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultURL
	}
	parsed, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	tlsCfg, err := tlsenv.FromEnv(envTLSPrefix).Config(parsed.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("redis tls: %w", err)
	}
	addrs := splitAddrs(os.Getenv(envRedisClusterAddrs))
	if len(addrs) == 0 {
		addrs = []string{parsed.Addr}
	}
	return &redis.UniversalOptions{
		Addrs:     addrs,
		Username:  parsed.Username,
		Password:  parsed.Password,
		DB:        parsed.DB,
		TLSConfig: tlsCfg,
	}, nil
}

// RedactURL hides the password of a Redis URL for logs.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "redis://invalid"
	}
	return u.Redacted()
}

func splitAddrs(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
