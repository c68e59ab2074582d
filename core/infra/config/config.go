package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	defaultNATSURL            = "nats://localhost:4222"
	defaultRedisURL           = "redis://localhost:6379"
	defaultPipelineConfig     = "config/pipeline.yaml"
	defaultGatewayHTTPAddr    = ":8081"
	defaultGatewayMetricsAddr = ":9092"
	defaultValidatorMetrics   = ":9093"
	defaultRateLimitRPS       = 50
	defaultRateLimitBurst     = 100

	envNATSURL              = "NATS_URL"
	envRedisURL             = "REDIS_URL"
	envPipelineConfigPath   = "PIPELINE_CONFIG_PATH"
	envIdentityPublicKey    = "IDENTITY_PUBLIC_KEY"
	envIdentityPrivateKey   = "IDENTITY_PRIVATE_KEY"
	envGatewayHTTPAddr      = "GATEWAY_HTTP_ADDR"
	envGatewayMetricsAddr   = "GATEWAY_METRICS_ADDR"
	envValidatorMetricsAddr = "VALIDATOR_METRICS_ADDR"
	envRateLimitRPS         = "API_RATE_LIMIT_RPS"
	envRateLimitBurst       = "API_RATE_LIMIT_BURST"
)

// Config holds runtime configuration shared by the gateway, the validator and registryctl.
type Config struct {
	NatsURL              string
	RedisURL             string
	PipelineConfigPath   string
	IdentityPublicKey    string
	IdentityPrivateKey   string
	GatewayHTTPAddr      string
	GatewayMetricsAddr   string
	ValidatorMetricsAddr string
	RateLimitRPS         int
	RateLimitBurst       int
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		NatsURL:              envOr(envNATSURL, defaultNATSURL),
		RedisURL:             envOr(envRedisURL, defaultRedisURL),
		PipelineConfigPath:   envOr(envPipelineConfigPath, defaultPipelineConfig),
		IdentityPublicKey:    strings.TrimSpace(os.Getenv(envIdentityPublicKey)),
		IdentityPrivateKey:   strings.TrimSpace(os.Getenv(envIdentityPrivateKey)),
		GatewayHTTPAddr:      envOr(envGatewayHTTPAddr, defaultGatewayHTTPAddr),
		GatewayMetricsAddr:   envOr(envGatewayMetricsAddr, defaultGatewayMetricsAddr),
		ValidatorMetricsAddr: envOr(envValidatorMetricsAddr, defaultValidatorMetrics),
		RateLimitRPS:         envInt(envRateLimitRPS, defaultRateLimitRPS),
		RateLimitBurst:       envInt(envRateLimitBurst, defaultRateLimitBurst),
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
