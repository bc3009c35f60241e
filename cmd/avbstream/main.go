package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
	"avbstream/internal/core/services"
	httphandlers "avbstream/internal/handlers/http"
	"avbstream/internal/infrastructure/audio"
	"avbstream/internal/infrastructure/middleware"
	"avbstream/internal/infrastructure/monitoring"
	"avbstream/internal/infrastructure/mrpd"
	"avbstream/internal/infrastructure/rawsock"
	repositories "avbstream/internal/infrastructure/repositories"
	"avbstream/internal/infrastructure/transport"
	"avbstream/pkg/circuitbreaker"
	"avbstream/pkg/config"
	"avbstream/pkg/distributed"
	"avbstream/pkg/logger"
	"avbstream/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/avbstream/config.yaml",
	"config.yaml",
}

func main() {
	os.Exit(run())
}

func run() int {
	path := os.Getenv("AVBSTREAM_CONFIG")
	if path == "" {
		path = firstExisting(configPaths)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "avbstream: %v\n", err)
		return 2
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "avbstream: %v\n", err)
		return 2
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if path != "" {
		log.Infow("configuration loaded", "path", path)
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: "avbstream",
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Warnw("tracing disabled", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := tp.Shutdown(ctx); err != nil {
					log.Warnw("tracing shutdown failed", "error", err)
				}
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Infow("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	role := domain.Role(cfg.Stream.Role)
	streamID := domain.NewStreamID(cfg.Stream.StreamUID, cfg.Stream.EndpointID)
	dest := domain.MulticastMAC(cfg.Stream.StreamUID, cfg.Stream.EndpointID)
	if cfg.Stream.DestMAC != "" {
		if dest, err = domain.ParseMAC(cfg.Stream.DestMAC); err != nil {
			log.Errorw("invalid destination address", "error", err)
			return 2
		}
	}

	links, err := openLinks(cfg, role, dest, log)
	if err != nil {
		log.Errorw("failed to open network link", "error", err)
		return 1
	}
	defer links.close(log)

	var gen audio.Generator
	if role == domain.RoleTalker {
		if gen, err = audio.NewGenerator(cfg.Audio.Source, cfg.Stream.SampleRate, cfg.Audio.ToneHz, cfg.Audio.Gain); err != nil {
			log.Errorw("invalid audio source", "error", err)
			return 2
		}
	}
	meter := audio.NewLevelMeter(cfg.Stream.Channels)
	engine, err := audio.NewTickerEngine(audio.EngineConfig{
		Channels:     cfg.Stream.Channels,
		SampleRate:   cfg.Stream.SampleRate,
		PeriodFrames: cfg.Audio.PeriodFrames,
	}, gen, meter, log)
	if err != nil {
		log.Errorw("failed to create audio engine", "error", err)
		return 2
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repository factory", "error", err)
		}
	}()
	repo := repoFactory.CreateSessionRepository()

	control := mrpd.NewChannel(cfg.Mrp.DaemonAddress, cfg.Mrp.PollInterval, log)

	session, err := services.NewSession(services.SessionConfig{
		Role:               role,
		StreamID:           streamID,
		DestMAC:            dest,
		SrcMAC:             links.srcMAC,
		Channels:           cfg.Stream.Channels,
		SampleRate:         cfg.Stream.SampleRate,
		SamplesPerFrame:    cfg.Stream.SamplesPerFrame,
		RingCapacity:       cfg.Stream.RingCapacity,
		PrerollLowWater:    cfg.Stream.PrerollLowWater,
		PresentationOffset: cfg.Stream.PresentationOffset,
		FixedTimestamp:     cfg.MediaClock.FixedTimestamp,
		ClockSkewPPB:       cfg.MediaClock.ClockSkewPPB,
		TxTick:             cfg.MediaClock.TxTick,
		StatusInterval:     cfg.Monitoring.StatusInterval,
		Mrp: services.MrpConfig{
			TrafficClass:  domain.TrafficClass(cfg.Mrp.TrafficClass),
			DomainTimeout: cfg.Mrp.DomainTimeout,
			ReadyTimeout:  cfg.Mrp.ReadyTimeout,
			LeaveTimeout:  cfg.Mrp.LeaveTimeout,
			PollInterval:  cfg.Mrp.PollInterval,
			AwaitListener: cfg.Mrp.AwaitListener,
			LatencyNS:     cfg.Mrp.LatencyNS,
			ConnectRetry:  cfg.Mrp.ConnectRetry,
		},
	}, services.SessionDeps{
		Control: control,
		Source:  links.source,
		Sink:    links.sink,
		Engine:  engine,
		Repo:    repo,
	}, log)
	if err != nil {
		log.Errorw("failed to create session", "error", err)
		return 2
	}

	// One talker per stream ID across hosts sharing the store.
	if client := repoFactory.RedisClient(); client != nil && role == domain.RoleTalker {
		claim := distributed.NewLock(client, cfg.Redis.KeyPrefix+"claim:"+streamID.String(), string(session.ID()), cfg.Redis.ClaimTTL)
		if err := claim.TryLock(ctx); err != nil {
			if errors.Is(err, distributed.ErrHeld) {
				log.Errorw("stream ID is claimed by another talker", "stream_id", streamID.String(), "error", err)
			} else {
				log.Errorw("failed to claim stream ID", "error", err)
			}
			return 1
		}
		defer func() {
			if err := claim.Unlock(context.Background()); err != nil {
				log.Warnw("failed to release stream claim", "error", err)
			}
		}()
		go func() {
			select {
			case <-claim.Lost():
				log.Errorw("stream claim lost, stopping", "stream_id", streamID.String())
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	metrics := services.NewMetricsService(session.Counters(), cfg.Monitoring.MetricsInterval, cfg.Monitoring.WarnInterval, log)
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer, streamID, role, session)
		metrics.OnReport(collector.UpdateDrops)
		gatherer = prometheus.DefaultGatherer
	}
	metrics.OnReport(func(domain.CounterSnapshot) {
		lv := meter.Snapshot()
		log.Debugw("audio levels", "peak", lv.Peak, "rms", lv.RMS, "samples", lv.Samples)
	})
	if links.guard != nil {
		metrics.OnReport(func(domain.CounterSnapshot) {
			if n := links.guard.Rejected(); n > 0 {
				log.Warnw("frame sink breaker rejecting sends", "state", links.guard.State(), "rejected_total", n)
			}
		})
	}
	go metrics.Run(ctx)

	health := monitoring.NewHealthChecker(log)
	health.AddRepositoryCheck(repo, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	}
	health.AddSessionReadinessCheck(session, time.Second)
	health.StartBackgroundChecks(ctx)

	var srv *http.Server
	if cfg.Server.Enabled {
		srv = newServer(cfg, zapLogger, httphandlers.NewSessionHandler(repo, session, health, gatherer))
		go func() {
			log.Infow("status API listening", "address", cfg.Server.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("status API failed", "error", err)
				cancel()
			}
		}()
	}

	runErr := session.Run(ctx)
	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			srv.Close()
		}
		shutdownCancel()
	}

	metrics.Report()
	if runErr != nil {
		log.Errorw("stream not admitted", "error", runErr)
		return 1
	}
	log.Info("avbstream stopped")
	return 0
}

type linkSet struct {
	source ports.FrameSource
	sink   ports.FrameSink
	srcMAC domain.MAC
	guard  *transport.GuardedSink
	closer []func() error
}

func (l *linkSet) close(log *zap.SugaredLogger) {
	for i := len(l.closer) - 1; i >= 0; i-- {
		if err := l.closer[i](); err != nil {
			log.Warnw("error closing link", "error", err)
		}
	}
}

// openLinks builds the frame path for role: the raw socket or a replayed
// capture, an optional capture tee and, for talkers, the send breaker.
func openLinks(cfg *config.Config, role domain.Role, dest domain.MAC, log *zap.SugaredLogger) (*linkSet, error) {
	l := &linkSet{}

	if role == domain.RoleListener && cfg.Transport.ReplayFile != "" {
		replay, err := transport.OpenReplay(transport.ReplayConfig{
			Path:        cfg.Transport.ReplayFile,
			Realtime:    cfg.Transport.ReplayRealtime,
			Loop:        cfg.Transport.ReplayLoop,
			PollTimeout: cfg.Stream.PollTimeout,
		})
		if err != nil {
			return nil, err
		}
		l.closer = append(l.closer, replay.Close)
		l.source = replay
		log.Infow("listening to capture", "path", cfg.Transport.ReplayFile, "loop", cfg.Transport.ReplayLoop)
	} else {
		sockCfg := rawsock.Config{
			Interface:   cfg.Stream.Interface,
			PollTimeout: cfg.Stream.PollTimeout,
		}
		if role == domain.RoleListener {
			sockCfg.Multicast = dest
		}
		sock, err := rawsock.Open(sockCfg)
		if err != nil {
			return nil, err
		}
		l.closer = append(l.closer, sock.Close)
		l.source, l.sink = sock, sock

		if role == domain.RoleTalker {
			if l.srcMAC, err = rawsock.InterfaceMAC(cfg.Stream.Interface); err != nil {
				l.close(log)
				return nil, err
			}
		}
	}

	if cfg.Transport.CaptureFile != "" {
		rec, err := transport.NewRecorder(cfg.Transport.CaptureFile)
		if err != nil {
			l.close(log)
			return nil, err
		}
		l.closer = append(l.closer, rec.Close)
		if role == domain.RoleTalker {
			l.sink = rec.Sink(l.sink)
		} else {
			l.source = rec.Source(l.source)
		}
		log.Infow("capturing frames", "path", cfg.Transport.CaptureFile)
	}

	if role == domain.RoleTalker && cfg.Transport.Breaker.Enabled {
		b := cfg.Transport.Breaker
		l.guard = transport.NewGuardedSink(l.sink, circuitbreaker.Config{
			FailureThreshold:    b.FailureThreshold,
			SuccessThreshold:    b.SuccessThreshold,
			Timeout:             b.Timeout,
			MaxRequestsHalfOpen: b.MaxRequestsHalfOpen,
		}, log)
		l.sink = l.guard
	}
	if role == domain.RoleListener {
		l.sink = nil
	}
	return l, nil
}

func newServer(cfg *config.Config, zapLogger *zap.Logger, handler *httphandlers.SessionHandler) *http.Server {
	log := zapLogger.Sugar()
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(zapLogger),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)
	handler.SetupRoutes(router)

	return &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
