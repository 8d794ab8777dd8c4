package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigError reports a missing or malformed setting. Entry points exit
// with code 64 when they see one.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Key, e.Reason)
}

// UpstreamConfig holds the connection settings of one generator.
type UpstreamConfig struct {
	URL    string
	APIKey string
	Model  string
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	RedisURL string

	ObjectStoreBucket   string
	ObjectStoreRegion   string
	ObjectStoreEndpoint string
	ObjectStoreDir      string
	CDNBaseURL          string

	LedgerURL    string
	LedgerAPIKey string

	UpstreamImage UpstreamConfig
	UpstreamVideo UpstreamConfig
	UpstreamVoice UpstreamConfig

	WorkerPoolSize        int
	QueueMaxPerPriority   int
	QueuePollInterval     time.Duration
	LeaseDuration         time.Duration
	LeaseRecoveryInterval time.Duration
	JobRetention          time.Duration
	NormalAging           time.Duration
	ContentDenyList       []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "production"),
		Port:                getEnv("PORT", "8080"),
		RedisURL:            strings.TrimSpace(os.Getenv("REDIS_URL")),
		ObjectStoreBucket:   strings.TrimSpace(os.Getenv("OBJECT_STORE_BUCKET")),
		ObjectStoreRegion:   getEnv("OBJECT_STORE_REGION", "eu-west-3"),
		ObjectStoreEndpoint: strings.TrimSpace(os.Getenv("OBJECT_STORE_ENDPOINT")),
		ObjectStoreDir:      strings.TrimSpace(os.Getenv("OBJECT_STORE_DIR")),
		CDNBaseURL:          strings.TrimRight(strings.TrimSpace(os.Getenv("CDN_BASE_URL")), "/"),
		LedgerURL:           strings.TrimSpace(os.Getenv("LEDGER_URL")),
		LedgerAPIKey:        strings.TrimSpace(os.Getenv("LEDGER_API_KEY")),
		UpstreamImage:       loadUpstream("IMAGE"),
		UpstreamVideo:       loadUpstream("VIDEO"),
		UpstreamVoice:       loadUpstream("VOICE"),
		WorkerPoolSize:      getEnvInt("WORKER_POOL_SIZE", 4),
		QueueMaxPerPriority: getEnvInt("QUEUE_MAX_PER_PRIORITY", 1000),
		QueuePollInterval:   time.Millisecond * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_MS", 500)),
		LeaseDuration:       time.Second * time.Duration(getEnvInt("LEASE_DURATION_SECONDS", 600)),
		LeaseRecoveryInterval: time.Second *
			time.Duration(getEnvInt("LEASE_RECOVERY_INTERVAL_SECONDS", 60)),
		JobRetention:     time.Second * time.Duration(getEnvInt("JOB_RETENTION_SECONDS", 7200)),
		NormalAging:      time.Minute * time.Duration(getEnvInt("NORMAL_AGING_MINUTES", 0)),
		ContentDenyList:  splitList(os.Getenv("CONTENT_DENYLIST")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RedisURL == "" {
		return &ConfigError{Key: "REDIS_URL", Reason: "is required"}
	}
	if c.ObjectStoreBucket == "" && c.ObjectStoreDir == "" {
		return &ConfigError{Key: "OBJECT_STORE_BUCKET", Reason: "is required"}
	}
	if err := requireURL("CDN_BASE_URL", c.CDNBaseURL, "http", "https"); err != nil {
		return err
	}
	if err := requireURL("LEDGER_URL", c.LedgerURL, "http", "https", "postgres", "postgresql", "memory"); err != nil {
		return err
	}
	upstreams := []struct {
		key string
		cfg UpstreamConfig
	}{
		{"UPSTREAM_IMAGE_URL", c.UpstreamImage},
		{"UPSTREAM_VIDEO_URL", c.UpstreamVideo},
		{"UPSTREAM_VOICE_URL", c.UpstreamVoice},
	}
	for _, u := range upstreams {
		if err := requireURL(u.key, u.cfg.URL, "http", "https"); err != nil {
			return err
		}
	}
	if c.WorkerPoolSize <= 0 {
		return &ConfigError{Key: "WORKER_POOL_SIZE", Reason: "must be positive"}
	}
	if c.QueueMaxPerPriority <= 0 {
		return &ConfigError{Key: "QUEUE_MAX_PER_PRIORITY", Reason: "must be positive"}
	}
	if c.LeaseDuration <= 0 {
		return &ConfigError{Key: "LEASE_DURATION_SECONDS", Reason: "must be positive"}
	}
	return nil
}

// LedgerScheme returns the scheme of LEDGER_URL, which selects the ledger backend.
func (c *Config) LedgerScheme() string {
	u, err := url.Parse(c.LedgerURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func loadUpstream(kind string) UpstreamConfig {
	return UpstreamConfig{
		URL:    strings.TrimRight(strings.TrimSpace(os.Getenv("UPSTREAM_"+kind+"_URL")), "/"),
		APIKey: strings.TrimSpace(os.Getenv("UPSTREAM_" + kind + "_API_KEY")),
		Model:  strings.TrimSpace(os.Getenv("UPSTREAM_" + kind + "_MODEL")),
	}
}

func requireURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return &ConfigError{Key: key, Reason: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Key: key, Reason: "is not a valid URL"}
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return &ConfigError{Key: key, Reason: fmt.Sprintf("has unsupported scheme %q", u.Scheme)}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
