// Package app assembles the runtime shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/jobstore"
	"mediagen/internal/ledger"
	"mediagen/internal/orchestrator"
	"mediagen/internal/providers"
	"mediagen/internal/providers/image"
	"mediagen/internal/providers/video"
	"mediagen/internal/providers/voice"
	"mediagen/internal/queue"
	"mediagen/internal/storage"
	"mediagen/internal/worker"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitConfig      = 64
	ExitUnavailable = 69
	ExitSoftware    = 70
)

// UnavailableError marks a dependency that could not be reached at startup.
type UnavailableError struct {
	Dependency string
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// ExitCode maps a startup or run error to the process exit status.
func ExitCode(err error) int {
	var cfgErr *infra.ConfigError
	var unavailable *UnavailableError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &unavailable):
		return ExitUnavailable
	default:
		return ExitSoftware
	}
}

// Runtime holds the wired components.
type Runtime struct {
	Config   *infra.Config
	Logger   *infra.Logger
	Redis    *redis.Client
	Store    *jobstore.Redis
	Queue    *queue.Queue
	Accounts ledger.Accounts
	Objects  storage.ObjectStore
	Drivers  providers.Set

	closers []func()
}

// Build connects every dependency and fails fast when one is unreachable.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	logger = infra.LoggerOrNop(logger)
	rt := &Runtime{Config: cfg, Logger: logger}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		var cfgErr *infra.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &UnavailableError{Dependency: "redis", Err: err}
	}
	rt.Redis = rdb
	rt.closers = append(rt.closers, func() { _ = rdb.Close() })

	rt.Store = jobstore.NewRedis(rdb, jobstore.RedisOptions{Retention: cfg.JobRetention, Logger: logger})
	rt.Queue = queue.New(rdb, rt.Store, queue.Options{
		MaxPerPriority: cfg.QueueMaxPerPriority,
		Lease:          cfg.LeaseDuration,
		Aging:          cfg.NormalAging,
		Logger:         logger,
	})

	if rt.Accounts, err = rt.buildLedger(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.Accounts.Ping(ctx); err != nil {
		rt.Close()
		return nil, &UnavailableError{Dependency: "ledger", Err: err}
	}

	if rt.Objects, err = buildObjects(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.Drivers, err = buildDrivers(cfg, logger); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) buildLedger(ctx context.Context) (ledger.Accounts, error) {
	cfg := rt.Config
	switch cfg.LedgerScheme() {
	case "http", "https":
		return ledger.NewHTTPClient(ledger.HTTPOptions{BaseURL: cfg.LedgerURL, APIKey: cfg.LedgerAPIKey, Logger: rt.Logger})
	case "postgres", "postgresql":
		pool, err := infra.NewDBPool(ctx, cfg.LedgerURL)
		if err != nil {
			var cfgErr *infra.ConfigError
			if errors.As(err, &cfgErr) {
				return nil, err
			}
			return nil, &UnavailableError{Dependency: "ledger database", Err: err}
		}
		rt.closers = append(rt.closers, pool.Close)
		return ledger.NewPostgres(infra.NewSQLRunner(pool, rt.Logger.With().Str("component", "ledger").Logger())), nil
	case "memory":
		rt.Logger.Warn().Msg("app: using the in-memory ledger, balances are lost on restart")
		return SeedMemoryLedger(cfg.LedgerURL)
	}
	return nil, &infra.ConfigError{Key: "LEDGER_URL", Reason: "has an unsupported scheme"}
}

// SeedMemoryLedger builds an in-memory ledger whose accounts come from the
// URL query, e.g. memory://local?accounts=U1:premium:50,U2:free:100.
func SeedMemoryLedger(raw string) (*ledger.Memory, error) {
	mem := ledger.NewMemory()
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &infra.ConfigError{Key: "LEDGER_URL", Reason: "is not a valid URL"}
	}
	seed := u.Query().Get("accounts")
	if seed == "" {
		return mem, nil
	}
	for _, item := range strings.Split(seed, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 {
			return nil, &infra.ConfigError{Key: "LEDGER_URL", Reason: fmt.Sprintf("account %q is not user:tier:balance", item)}
		}
		tier := domain.Tier(strings.ToLower(parts[1]))
		balance, err := strconv.Atoi(parts[2])
		if !tier.Valid() || err != nil || balance < 0 {
			return nil, &infra.ConfigError{Key: "LEDGER_URL", Reason: fmt.Sprintf("account %q is not user:tier:balance", item)}
		}
		mem.SetAccount(parts[0], tier, balance)
	}
	return mem, nil
}

func buildObjects(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.ObjectStoreDir != "" {
		return storage.NewFileStore(cfg.ObjectStoreDir, cfg.CDNBaseURL)
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		Bucket:     cfg.ObjectStoreBucket,
		Region:     cfg.ObjectStoreRegion,
		Endpoint:   cfg.ObjectStoreEndpoint,
		CDNBaseURL: cfg.CDNBaseURL,
	})
}

func buildDrivers(cfg *infra.Config, logger *infra.Logger) (providers.Set, error) {
	client := func(name string, up infra.UpstreamConfig) (*providers.Client, error) {
		l := logger.With().Str("upstream", name).Logger()
		return providers.NewClient(providers.Options{
			Name:    name,
			BaseURL: up.URL,
			APIKey:  up.APIKey,
			Model:   up.Model,
			Logger:  &l,
		})
	}
	imageClient, err := client("image", cfg.UpstreamImage)
	if err != nil {
		return nil, err
	}
	videoClient, err := client("video", cfg.UpstreamVideo)
	if err != nil {
		return nil, err
	}
	voiceClient, err := client("voice", cfg.UpstreamVoice)
	if err != nil {
		return nil, err
	}
	return providers.NewSet(image.New(imageClient), video.New(videoClient), voice.New(voiceClient))
}

// Service returns the request-facing orchestrator.
func (rt *Runtime) Service() *orchestrator.Service {
	return orchestrator.NewService(rt.Store, rt.Queue, rt.Accounts, orchestrator.Options{
		DenyList: domain.NewDenyList(rt.Config.ContentDenyList...),
		Logger:   rt.Logger,
	})
}

// Pool returns a worker pool draining the shared queue.
func (rt *Runtime) Pool() (*worker.Pool, error) {
	return worker.NewPool(worker.Deps{
		Store:   rt.Store,
		Queue:   rt.Queue,
		Drivers: rt.Drivers,
		Objects: rt.Objects,
		Ledger:  rt.Accounts,
	}, worker.Options{
		Size:             rt.Config.WorkerPoolSize,
		PollInterval:     rt.Config.QueuePollInterval,
		RecoveryInterval: rt.Config.LeaseRecoveryInterval,
		Logger:           rt.Logger,
	})
}

// Rebuild re-inserts queued jobs that are missing from the lists.
func (rt *Runtime) Rebuild(ctx context.Context) error {
	n, err := rt.Queue.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("app: rebuild queue: %w", err)
	}
	if n > 0 {
		rt.Logger.Info().Int("jobs", n).Msg("app: queue rebuilt from job store")
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
