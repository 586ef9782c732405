package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"graminbus/internal/api"
	"graminbus/internal/bus"
	"graminbus/internal/config"
	"graminbus/internal/connectivity"
	"graminbus/internal/logging"
	"graminbus/internal/metrics"
	"graminbus/internal/prediction"
	"graminbus/internal/publisher"
	"graminbus/internal/queue"
	"graminbus/internal/registry"
	"graminbus/internal/store"
	"graminbus/internal/tracker"
	"graminbus/internal/voice"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("graminbus stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.SyncWindow)
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	seed := bus.SeedFleet(time.Now())
	stops := bus.SeedStops()
	if cfg.SeedFile != "" {
		seed, stops, err = bus.LoadFleetFile(cfg.SeedFile, time.Now())
		if err != nil {
			return fmt.Errorf("seed file: %w", err)
		}
		logger.Info("loaded fleet file", zap.String("path", cfg.SeedFile), zap.Int("buses", len(seed)), zap.Int("stops", len(stops)))
	}

	reg := registry.New(st, seed, logger, mcol)
	reg.Initialize(ctx)

	// Delivery and reachability: NATS when configured, otherwise a simulated
	// backend toggled through the HTTP API.
	var (
		deliverer queue.Deliverer
		source    connectivity.Source
		manual    *connectivity.ManualSource
		positions tracker.PositionPublisher
	)
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(publisher.Options{
			URL:          cfg.NATSURL,
			Prefix:       cfg.NATSPrefix,
			LogSubjects:  cfg.LogNATSSubjects,
			FlushTimeout: cfg.FlushTimeout,
		}, logger, wrapPublisherMetrics(mcol))
		if err != nil {
			return err
		}
		defer pub.Close()
		deliverer, source, positions = pub, pub, pub
	} else {
		manual = connectivity.NewManualSource(!cfg.StartOffline)
		deliverer, source = queue.NewSimulated(cfg.SyncDelay), manual
	}

	q := queue.New(st, deliverer, logger, mcol)
	q.Load(ctx)

	flush := func(ctx context.Context) {
		fctx, cancel := context.WithTimeout(ctx, cfg.FlushTimeout+cfg.SyncDelay)
		defer cancel()
		q.Flush(fctx)
	}
	mon := connectivity.NewMonitor(source, flush, logger, mcol)

	cache := prediction.NewCache(st, cfg.PredictionTTL, logger, mcol)
	cache.Load(ctx)
	var gen prediction.Generator = prediction.Heuristic{}
	if cfg.GeminiAPIKey != "" {
		g, err := prediction.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		gen = g
	} else {
		logger.Info("no Gemini API key, using heuristic predictions")
	}
	pred := prediction.NewPredictor(gen, cache, mon.Online, cfg.PredictionTimeout, logger, mcol)

	var speaker voice.Speaker = voice.Nop{}
	if cfg.TTSCommand != "" {
		cs := voice.NewCommandSpeaker(cfg.TTSCommand, logger)
		defer cs.Stop()
		speaker = cs
	}

	svc := tracker.New(tracker.Deps{
		Store:      st,
		Registry:   reg,
		Queue:      q,
		Monitor:    mon,
		Predictor:  pred,
		Speaker:    speaker,
		Stops:      stops,
		Log:        logger,
		Metrics:    mcol,
		SyncWindow: cfg.SyncWindow,
	})
	defer svc.Close()
	svc.LoadLanguage(ctx)

	mon.Start(ctx)
	defer mon.Stop()
	svc.StartPositionPublisher(ctx, positions, cfg.PositionInterval)

	g, gctx := errgroup.WithContext(ctx)
	// Anything left over from a previous run goes out as soon as we can.
	if mon.Online() && q.Len() > 0 {
		g.Go(func() error {
			res, err := q.FlushAsync(gctx).Wait(gctx)
			if err != nil {
				return nil
			}
			logger.Info("startup flush", zap.String("outcome", string(res.Outcome)), zap.Int("delivered", res.Delivered))
			return nil
		})
	}
	g.Go(func() error {
		err := api.New(svc, manual, logger).ListenAndServe(gctx, cfg.HTTPAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	dsn := cfg.StorePath
	if cfg.StoreDriver == "postgres" {
		dsn = cfg.DatabaseURL
		if cfg.StoreDBName != "" {
			var err error
			dsn, err = store.WithDBName(dsn, cfg.StoreDBName)
			if err != nil {
				return nil, fmt.Errorf("compose DSN: %w", err)
			}
		}
	}
	st, err := store.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
