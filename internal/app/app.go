// Package app wires configuration into the services shared by the API server and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vhlr/internal/auth"
	"vhlr/internal/cache"
	"vhlr/internal/calls"
	"vhlr/internal/config"
	"vhlr/internal/dlr"
	"vhlr/internal/history"
	"vhlr/internal/metrics"
	"vhlr/internal/probe"
	"vhlr/internal/reporting"
	"vhlr/internal/telephony"
	"vhlr/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

const profileLookupTimeout = 10 * time.Second

// App holds every long-lived dependency. DB and Redis are nil when unused.
type App struct {
	Config  config.Config
	Log     *slog.Logger
	DB      *sql.DB
	Redis   *redis.Client
	Cache   cache.Cache
	Metrics *metrics.Metrics
	History *history.Service
	Reports *reporting.Service
	Probes  *probe.Service
	Auth    *auth.Manager
}

// Option overrides a dependency Open would otherwise build from config.
type Option func(*openOptions)

type openOptions struct {
	ctl telephony.CallControl
}

// WithCallControl replaces the fs_cli executor.
func WithCallControl(ctl telephony.CallControl) Option {
	return func(o *openOptions) { o.ctl = ctl }
}

// Open connects to the configured backends and builds the services. cfg must be validated.
// On error everything opened so far is closed again.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Option) (_ *App, err error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.closeBackends())
		}
	}()

	if a.Auth, err = auth.NewManager(cfg.Auth); err != nil {
		return nil, err
	}

	if cfg.NeedsRedis() {
		a.Redis, err = utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	var repo history.Repository = history.NewMemoryRepo()
	if cfg.History.Backend == "postgres" {
		a.DB, err = utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		repo = history.NewPostgresRepo(a.DB)
	}
	a.History = history.NewService(repo)
	a.Reports = reporting.NewService(repo)

	a.Cache, err = cache.New(cache.Config{
		Backend:   cfg.Cache.Backend,
		TTL:       cfg.Cache.TTL,
		KeyPrefix: cfg.Cache.KeyPrefix,
	}, a.Redis, cache.WithLogger(log))
	if err != nil {
		return nil, err
	}

	ctl := o.ctl
	if ctl == nil {
		ctl = telephony.NewFSCLI(cfg.Switch.CLIBinary, cfg.Switch.Host, cfg.Switch.Port, cfg.Switch.Password)
	}
	tmpl, err := originateTemplate(ctx, ctl, cfg.Switch, log)
	if err != nil {
		return nil, err
	}

	svcOpts := []probe.ServiceOption{
		probe.WithCache(a.Cache),
		probe.WithHistory(a.History),
		probe.WithMetrics(a.Metrics),
		probe.WithLogger(log),
	}
	if a.Redis != nil {
		svcOpts = append(svcOpts, probe.WithRedis(a.Redis))
	}
	if cfg.DLR.URL != "" {
		svcOpts = append(svcOpts, probe.WithNotifier(dlr.NewNotifier(dlr.Config{
			URL:           cfg.DLR.URL,
			Method:        cfg.DLR.Method,
			SkipTLSVerify: cfg.DLR.SkipTLSVerify,
			Timeout:       cfg.DLR.Timeout,
		})))
	}
	a.Probes = probe.NewService(ctl, ProbeConfig(cfg.Probe, tmpl), svcOpts...)
	return a, nil
}

// ProbeConfig maps the environment settings onto the probe service.
func ProbeConfig(pc config.ProbeConfig, tmpl telephony.Originate) probe.Config {
	codes := make([]calls.Code, 0, len(pc.NonRetriable))
	for _, c := range pc.NonRetriable {
		codes = append(codes, calls.Code(c))
	}
	return probe.Config{
		Source:       pc.Source,
		Schedule:     pc.Schedule,
		NonRetriable: codes,
		Call: calls.Options{
			ConnectTimeout: pc.ConnectTimeout,
			PollInterval:   pc.PollInterval,
			KillTimeout:    pc.KillTimeout,
			Originate:      tmpl,
		},
		Timeout:       pc.Timeout,
		MaxConcurrent: pc.MaxConcurrent,
	}
}

// originateTemplate builds the per-call originate settings, asking the switch for the
// sofia profile when only a source address is configured.
func originateTemplate(ctx context.Context, ctl telephony.CallControl, sc config.SwitchConfig, log *slog.Logger) (telephony.Originate, error) {
	profile := sc.Profile
	if profile == "" && sc.SourceAddress != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, profileLookupTimeout)
		defer cancel()
		p, err := telephony.ResolveProfile(lookupCtx, ctl, sc.SourceAddress)
		if err != nil {
			return telephony.Originate{}, fmt.Errorf("resolve sofia profile for %s: %w", sc.SourceAddress, err)
		}
		log.Info("resolved sofia profile", "address", sc.SourceAddress, "profile", p)
		profile = p
	}
	if sc.DestinationAddress != "" && profile == "" {
		return telephony.Originate{}, errors.New("SWITCH_PROFILE or SWITCH_SRC_ADDRESS is required with SWITCH_DST_ADDRESS")
	}
	return telephony.Originate{
		Codecs:  sc.Codecs,
		Profile: profile,
		Address: sc.DestinationAddress,
		Playback: telephony.Playback{
			Files:     sc.Files,
			Dir:       sc.AudioDir,
			Sort:      sc.Sort,
			Mode:      sc.PlayMode,
			LoopCount: sc.LoopCount,
			SleepMS:   sc.SleepMS,
		},
	}, nil
}

// Close drains running probes until ctx is done and releases the backends.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Probes != nil {
		err = multierr.Append(err, a.Probes.Shutdown(ctx))
	}
	return multierr.Append(err, a.closeBackends())
}

func (a *App) closeBackends() error {
	var err error
	if a.Cache != nil {
		err = multierr.Append(err, a.Cache.Close())
	}
	if a.DB != nil {
		err = multierr.Append(err, a.DB.Close())
	}
	if a.Redis != nil {
		err = multierr.Append(err, a.Redis.Close())
	}
	return err
}
