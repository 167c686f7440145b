package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/labelsense/scanstream/adapter"
	"github.com/labelsense/scanstream/adapter/redis"
	"github.com/labelsense/scanstream/adapter/webhook"
	"github.com/labelsense/scanstream/cache"
	"github.com/labelsense/scanstream/cli/config"
	"github.com/labelsense/scanstream/client"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/poll"
)

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// loadConfig reads the config file named by --config, or returns an
// empty config when the flag is unset.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// buildClient constructs the API client from config plus flag
// overrides. Flags always win over config values.
func buildClient(c *cli.Context, cfg *config.Config, logger *log.Logger) (*client.Client, error) {
	baseURL := cfg.Server.BaseURL
	if v := c.String("base-url"); v != "" {
		baseURL = v
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL required (--base-url or config server.base_url)")
	}

	apiKey := cfg.Server.APIKey
	if v := c.String("api-key"); v != "" {
		apiKey = v
	}
	token := cfg.Server.Token
	if v := c.String("token"); v != "" {
		token = v
	}

	clientCfg := client.Config{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		Tokens:         tokenProvider(token),
		RequestTimeout: cfg.Server.RequestTimeout.Duration,
		StreamTimeout:  cfg.Server.StreamTimeout.Duration,
	}
	return client.New(clientCfg, cache.NewStore(), logger), nil
}

// tokenProvider returns nil for an empty token so no Authorization
// header is sent on unauthenticated setups.
func tokenProvider(token string) client.TokenProvider {
	if token == "" {
		return nil
	}
	return client.StaticToken(token)
}

// pollDurations returns the warmup and interval to use for the polling
// fallback, falling back to package defaults when unconfigured.
func pollDurations(cfg *config.Config) (warmup, interval time.Duration) {
	warmup = cfg.Poll.Warmup.Duration
	if warmup <= 0 {
		warmup = poll.DefaultWarmup
	}
	interval = cfg.Poll.Interval.Duration
	if interval <= 0 {
		interval = poll.DefaultInterval
	}
	return warmup, interval
}

// buildAdapter constructs the configured notification adapter, or nil
// when no adapter is configured.
func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	ac := cfg.Adapter
	if ac.Type == "" {
		return nil, nil
	}

	retries := -1
	if ac.Retries != nil {
		retries = *ac.Retries
	}

	switch ac.Type {
	case "webhook":
		wcfg := webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
		}
		if retries >= 0 {
			wcfg.Retries = retries
		} else {
			wcfg.Retries = webhook.DefaultRetries
		}
		return webhook.New(wcfg)

	case "redis":
		rcfg := redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
		}
		if retries >= 0 {
			rcfg.Retries = retries
		} else {
			rcfg.Retries = redis.DefaultRetries
		}
		return redis.New(rcfg)

	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", ac.Type)
	}
}
