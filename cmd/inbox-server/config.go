package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-inbox/core"
)

const envPrefix = "INBOX_"

// serverConfig holds the infrastructure settings that never reach core.Config.
type serverConfig struct {
	Addr            string
	DBDriver        string
	DBDSN           string
	DBDebug         bool
	SkipMigrations  bool
	QueueBackend    string
	NotifyBackend   string
	RedisAddr       string
	PubSubProject   string
	StripeSecret    string
	AdminToken      string
	AllowedOrigins  []string
	Fulfillment     bool
	TenantID        string
	MapsAPIKey      string
	CacheTTL        time.Duration
	ShutdownTimeout time.Duration
}

type envLookup func(key string) (string, bool)

func loadServerConfig(lookup envLookup) (serverConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}

	cfg := serverConfig{
		Addr:           get(envPrefix+"HTTP_ADDR", ""),
		DBDriver:       strings.ToLower(get(envPrefix+"DB_DRIVER", "sqlite")),
		DBDSN:          get(envPrefix+"DB_DSN", ""),
		QueueBackend:   strings.ToLower(get(envPrefix+"QUEUE_BACKEND", "memory")),
		NotifyBackend:  strings.ToLower(get(envPrefix+"NOTIFY_BACKEND", "nop")),
		RedisAddr:      get(envPrefix+"REDIS_ADDR", "localhost:6379"),
		PubSubProject:  get(envPrefix+"PUBSUB_PROJECT", get("GOOGLE_CLOUD_PROJECT", "")),
		StripeSecret:   get("STRIPE_WEBHOOK_SECRET", ""),
		AdminToken:     get(envPrefix+"ADMIN_TOKEN", ""),
		AllowedOrigins: splitAndTrim(get(envPrefix+"CORS_ALLOWED_ORIGINS", "")),
		TenantID:       get(envPrefix+"TENANT_ID", ""),
		MapsAPIKey:     get("GOOGLE_MAPS_API_KEY", ""),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":" + get("PORT", "8080")
	}
	if cfg.DBDSN == "" && cfg.DBDriver == "sqlite" {
		cfg.DBDSN = "file:inbox.db?cache=shared&_foreign_keys=on"
	}

	var err error
	if cfg.DBDebug, err = parseBool(get(envPrefix+"DB_DEBUG", "false")); err != nil {
		return serverConfig{}, fmt.Errorf("%sDB_DEBUG: %w", envPrefix, err)
	}
	if cfg.SkipMigrations, err = parseBool(get(envPrefix+"SKIP_MIGRATIONS", "false")); err != nil {
		return serverConfig{}, fmt.Errorf("%sSKIP_MIGRATIONS: %w", envPrefix, err)
	}
	if cfg.Fulfillment, err = parseBool(get(envPrefix+"FULFILLMENT_ENABLED", "true")); err != nil {
		return serverConfig{}, fmt.Errorf("%sFULFILLMENT_ENABLED: %w", envPrefix, err)
	}
	if cfg.CacheTTL, err = time.ParseDuration(get(envPrefix+"CACHE_TTL", "0s")); err != nil {
		return serverConfig{}, fmt.Errorf("%sCACHE_TTL: %w", envPrefix, err)
	}
	if cfg.ShutdownTimeout, err = time.ParseDuration(get(envPrefix+"SHUTDOWN_TIMEOUT", "15s")); err != nil {
		return serverConfig{}, fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", envPrefix, err)
	}

	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return serverConfig{}, fmt.Errorf("%sDB_DRIVER must be postgres or sqlite, got %q", envPrefix, cfg.DBDriver)
	}
	if cfg.DBDSN == "" {
		return serverConfig{}, fmt.Errorf("%sDB_DSN is required for %s", envPrefix, cfg.DBDriver)
	}
	switch cfg.QueueBackend {
	case "memory", "redis":
	default:
		return serverConfig{}, fmt.Errorf("%sQUEUE_BACKEND must be memory or redis, got %q", envPrefix, cfg.QueueBackend)
	}
	switch cfg.NotifyBackend {
	case "nop", "redis":
	case "pubsub":
		if cfg.PubSubProject == "" {
			return serverConfig{}, fmt.Errorf("%sPUBSUB_PROJECT is required for the pubsub notify backend", envPrefix)
		}
	default:
		return serverConfig{}, fmt.Errorf("%sNOTIFY_BACKEND must be nop, redis or pubsub, got %q", envPrefix, cfg.NotifyBackend)
	}
	return cfg, nil
}

// EnvConfigLoader maps INBOX_* variables onto the raw core.Config tree.
// Unset variables are omitted so defaults apply.
type EnvConfigLoader struct {
	Lookup envLookup
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := map[string]any{}
	processing := map[string]any{}
	notify := map[string]any{}

	for _, entry := range []struct {
		env    string
		target map[string]any
		key    string
		kind   string
	}{
		{"SERVICE_NAME", raw, "service_name", "string"},
		{"QUEUE_NAME", raw, "queue_name", "string"},
		{"MAX_ATTEMPTS", processing, "max_attempts", "int"},
		{"RETRY_DELAY", processing, "retry_delay", "duration"},
		{"WORKERS", processing, "workers", "int"},
		{"DEQUEUE_TIMEOUT", processing, "dequeue_timeout", "duration"},
		{"NOTIFY_CHANNEL", notify, "channel", "string"},
		{"NOTIFY_TIMEOUT", notify, "timeout", "duration"},
		{"NOTIFY_ATTEMPTS", notify, "attempts", "int"},
		{"NOTIFY_BACKOFF", notify, "backoff", "duration"},
	} {
		value, ok := lookup(envPrefix + entry.env)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		switch entry.kind {
		case "int":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%s%s: %w", envPrefix, entry.env, err)
			}
			entry.target[entry.key] = parsed
		case "duration":
			parsed, err := time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("%s%s: %w", envPrefix, entry.env, err)
			}
			entry.target[entry.key] = parsed
		default:
			entry.target[entry.key] = value
		}
	}
	if len(processing) > 0 {
		raw["processing"] = processing
	}
	if len(notify) > 0 {
		raw["notify"] = notify
	}
	return raw, nil
}

var _ core.RawConfigLoader = EnvConfigLoader{}

func parseBool(value string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(value))
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
