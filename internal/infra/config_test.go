package infra

import (
	"errors"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("OBJECT_STORE_BUCKET", "media")
	t.Setenv("OBJECT_STORE_DIR", "")
	t.Setenv("CDN_BASE_URL", "https://cdn.example.com/")
	t.Setenv("LEDGER_URL", "https://ledger.internal")
	t.Setenv("UPSTREAM_IMAGE_URL", "http://sdxl.internal")
	t.Setenv("UPSTREAM_VIDEO_URL", "http://animatediff.internal")
	t.Setenv("UPSTREAM_VOICE_URL", "http://tts.internal/")
	t.Setenv("WORKER_POOL_SIZE", "")
	t.Setenv("QUEUE_MAX_PER_PRIORITY", "")
	t.Setenv("LEASE_DURATION_SECONDS", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CDNBaseURL != "https://cdn.example.com" {
		t.Fatalf("CDNBaseURL mismatch: got %q", cfg.CDNBaseURL)
	}
	if cfg.UpstreamVoice.URL != "http://tts.internal" {
		t.Fatalf("UpstreamVoice.URL mismatch: got %q", cfg.UpstreamVoice.URL)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Fatalf("WorkerPoolSize = %d, want 4", cfg.WorkerPoolSize)
	}
	if cfg.LeaseDuration != 10*time.Minute {
		t.Fatalf("LeaseDuration = %s, want 10m", cfg.LeaseDuration)
	}
	if cfg.LeaseRecoveryInterval != time.Minute {
		t.Fatalf("LeaseRecoveryInterval = %s, want 1m", cfg.LeaseRecoveryInterval)
	}
	if cfg.JobRetention != 2*time.Hour {
		t.Fatalf("JobRetention = %s, want 2h", cfg.JobRetention)
	}
	if cfg.LedgerScheme() != "https" {
		t.Fatalf("LedgerScheme() = %q", cfg.LedgerScheme())
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	keys := []string{"REDIS_URL", "CDN_BASE_URL", "LEDGER_URL", "UPSTREAM_IMAGE_URL", "UPSTREAM_VIDEO_URL", "UPSTREAM_VOICE_URL"}
	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(key, "")
			_, err := LoadConfig()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("LoadConfig error = %v, want *ConfigError", err)
			}
			if cfgErr.Key != key {
				t.Fatalf("ConfigError.Key = %q, want %q", cfgErr.Key, key)
			}
		})
	}
}

func TestLoadConfigFilesystemStoreReplacesBucket(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OBJECT_STORE_BUCKET", "")
	t.Setenv("OBJECT_STORE_DIR", t.TempDir())

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
}

func TestLoadConfigRejectsUnknownLedgerScheme(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LEDGER_URL", "ftp://ledger")

	_, err := LoadConfig()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "LEDGER_URL" {
		t.Fatalf("LoadConfig error = %v, want LEDGER_URL ConfigError", err)
	}
}

func TestLoadConfigParsesDenyList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONTENT_DENYLIST", " foo, ,bar ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.ContentDenyList) != 2 || cfg.ContentDenyList[0] != "foo" || cfg.ContentDenyList[1] != "bar" {
		t.Fatalf("ContentDenyList = %#v", cfg.ContentDenyList)
	}
}
