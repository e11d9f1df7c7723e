package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/medwatch/medwatch/internal/callcontrol"
	"github.com/medwatch/medwatch/internal/client"
	"github.com/medwatch/medwatch/internal/config"
	"github.com/medwatch/medwatch/internal/domain"
	"github.com/medwatch/medwatch/internal/httpserver"
	"github.com/medwatch/medwatch/internal/httpserver/deps"
	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/notify"
	"github.com/medwatch/medwatch/internal/probe"
	"github.com/medwatch/medwatch/internal/redis"
	"github.com/medwatch/medwatch/internal/registry"
	redisstore "github.com/medwatch/medwatch/internal/store/redis"
	"github.com/medwatch/medwatch/internal/supervisor"
	"github.com/medwatch/medwatch/internal/utils"
	"github.com/medwatch/medwatch/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	registry    *registry.HostRegistry
	supervisor  *supervisor.Supervisor
	prober      *probe.Prober
	ccProber    *probe.Prober
	callControl *callcontrol.Monitor
	endpoints   []domain.Endpoint
	ready       atomic.Bool
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	endpoints, err := config.LoadHosts(cfg.HostsFile)
	if err != nil {
		loggerClient.Errorf("Failed to load hosts file: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("loaded media hosts", logger.Int("count", len(endpoints)))

	// Optional snapshot store - supervision never depends on it, so a
	// missing Redis only disables snapshots.
	var redisClient *goredis.Client
	var store *redisstore.Store
	if cfg.RedisEnabled() {
		redisClient, err = redis.New(redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDialTimeout,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("redis unavailable, host snapshots disabled",
				logger.Error(err))
		} else {
			store = redisstore.NewStore(redisClient)
		}
	}

	reg := registry.NewHostRegistry()

	webhook := notify.NewWebhook(cfg.AlertEndpoint, cfg.AlertTimeout, loggerClient.Named("notify"))
	gate := notify.NewGate(webhook, loggerClient.Named("notify"))

	var prober *probe.Prober
	if cfg.ProbeEnabled {
		prober = probe.NewProber(probe.WSDialer{}, gate, probe.Options{
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.FailoverTimeout,
			LocalID:  cfg.LocalID,
			HostType: domain.HostTypeMediaServer,
		}, loggerClient.Named("probe"))
	}

	connector := client.NewWSConnector(cfg.FailoverTimeout, loggerClient.Named("client"))

	// Avoid handing typed nil pointers to the supervisor's interfaces.
	var probes supervisor.ProbeStarter
	if prober != nil {
		probes = prober
	}
	var saver supervisor.SnapshotSaver
	if store != nil {
		saver = store
	}

	sup := supervisor.New(connector, reg, gate, probes, saver, supervisor.Options{
		FailoverTimeout:   cfg.FailoverTimeout,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxStartupRetries: cfg.MaxStartupRetries,
		LocalID:           cfg.LocalID,
	}, loggerClient.Named("supervisor"))

	var cc *callcontrol.Monitor
	var ccProber *probe.Prober
	if cfg.CallControlEnabled() {
		if cfg.CallControlProbeURL != "" {
			ccProber = probe.NewProber(probe.WSDialer{}, gate, probe.Options{
				Interval: cfg.ProbeInterval,
				Timeout:  cfg.FailoverTimeout,
				LocalID:  cfg.LocalID,
				HostType: domain.HostTypeCallControl,
			}, loggerClient.Named("probe"))
		}
		ccConnector := callcontrol.NewWSConnector(
			cfg.CallControlHost,
			cfg.CallControlPort,
			cfg.CallControlCredential,
			cfg.FailoverTimeout,
			loggerClient.Named("callcontrol"),
		)
		cc = callcontrol.New(ccConnector, gate, ccProber, callcontrol.Options{
			Endpoint: domain.Endpoint{
				URL:     fmt.Sprintf("ws://%s:%d", cfg.CallControlHost, cfg.CallControlPort),
				Address: fmt.Sprintf("%s:%d", cfg.CallControlHost, cfg.CallControlPort),
			},
			FailoverTimeout: cfg.FailoverTimeout,
			ReconnectDelay:  cfg.ReconnectDelay,
			ProbeURL:        cfg.CallControlProbeURL,
			LocalID:         cfg.LocalID,
		}, loggerClient.Named("callcontrol"))
	}

	a := &App{
		cfg:         cfg,
		logger:      loggerClient,
		redisClient: redisClient,
		registry:    reg,
		supervisor:  sup,
		prober:      prober,
		ccProber:    ccProber,
		callControl: cc,
		endpoints:   endpoints,
	}

	d := deps.Deps{
		Logger:      loggerClient,
		StartTime:   time.Now(),
		Version:     version.Version,
		Commit:      version.Commit,
		BuildDate:   version.BuildDate,
		GoVersion:   version.GoVersion,
		Registry:    reg,
		Supervisor:  sup,
		CallControl: cc,
		Prober:      prober,
		Store:       store,
		Ready:       a.ready.Load,
	}

	a.server = httpserver.New(cfg, loggerClient, d)
	return a
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting medwatch v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("medwatch %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Startup connects run concurrently per host; Start returns immediately.
	a.supervisor.Start(ctx, a.endpoints)
	a.ready.Store(true)
	a.logger.Info("supervisor started",
		logger.Int("hosts", len(a.endpoints)),
		logger.Bool("probes", a.prober != nil))

	if a.callControl != nil {
		a.callControl.Start(ctx)
		a.logger.Info("call-control monitor started",
			logger.String("host", a.callControl.Endpoint().URL))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	if a.prober != nil {
		a.prober.StopAll()
	}
	if a.ccProber != nil {
		a.ccProber.StopAll()
	}

	// Drop whatever sessions are still connected.
	for _, h := range a.registry.All() {
		if h.Handle != nil {
			utils.Close(h.Handle)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ medwatch stopped cleanly")
	return nil
}
