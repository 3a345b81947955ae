package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"threatshield/config"
	"threatshield/internal/api"
	"threatshield/internal/engine"
	inputkafka "threatshield/internal/input/kafka"
	inputredis "threatshield/internal/input/redis"
	"threatshield/internal/logger"
	"threatshield/internal/metrics"
	"threatshield/internal/output/actionhttp"
	"threatshield/internal/output/actionjson"
	"threatshield/internal/output/actionkafka"
	"threatshield/internal/output/actionnats"
	"threatshield/internal/output/deadletterjson"
	"threatshield/internal/output/intelclickhouse"
	"threatshield/internal/pipeline"
	"threatshield/internal/profile"
	"threatshield/internal/router"
	"threatshield/internal/rules"
	"threatshield/internal/scoring"
	"threatshield/internal/semantic"
	"threatshield/pkg/models"
)

var serveCmd = &cobra.Command{
	Use:   "serve [config]",
	Short: "Consume events from the queue and serve the HTTP API",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configArg := ""
		if len(args) > 0 {
			configArg = args[0]
		}
		return runServe(configArg)
	},
}

func runServe(configArg string) error {
	cfg, configPath, err := loadConfig(configArg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ts := cfg.ThreatShield

	logger.Infof("ThreatShield starting")
	logger.Infof("Config loaded from: %s", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	scorer, err := buildScorer(ts.Rules)
	if err != nil {
		return err
	}

	classifier, err := buildClassifier(ctx, ts.Semantic)
	if err != nil {
		return err
	}

	store, err := buildProfileStore(ts.Profiles)
	if err != nil {
		return err
	}
	profiles := profile.NewResilient(store, ts.Profiles.HistoryCap, func(*profile.ProfileStoreError) {
		m.ProfileStoreFailed()
	})
	defer profiles.Close()

	publisher, err := buildActionBus(ts)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Scorer:     scorer,
		Classifier: classifier,
		Profiles:   profiles,
		Router: router.New(router.Config{
			IntelligenceTTL: ts.Intelligence.TTL,
			OnDispatchFailure: func(err *router.ActionDispatchError) {
				m.DispatchFailed(err.Kind)
			},
		}),
		Publisher:    publisher,
		Metrics:      m,
		EventTimeout: ts.Pipeline.EventTimeout,
		WriteTimeout: ts.Pipeline.WriteTimeout,
	})

	var deadLetter pipeline.DeadLetterWriter
	if ts.Pipeline.DeadLetterFile != "" {
		w, err := deadletterjson.NewWriter(ts.Pipeline.DeadLetterFile)
		if err != nil {
			publisher.Close()
			return fmt.Errorf("failed to create dead-letter writer: %w", err)
		}
		deadLetter = w
	}

	source, ready, err := buildSource(ctx, ts.Input)
	if err != nil {
		publisher.Close()
		if deadLetter != nil {
			deadLetter.Close()
		}
		return err
	}

	p := pipeline.New(pipeline.Config{
		Source:          source,
		Processor:       eng,
		Publisher:       publisher,
		DeadLetter:      deadLetter,
		Workers:         ts.Pipeline.Workers,
		ShutdownTimeout: ts.Pipeline.ShutdownTimeout,
	})
	defer func() {
		if err := p.Close(); err != nil {
			logger.Errorf("Shutdown errors: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if source != nil {
		g.Go(func() error {
			err := p.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Infof("Input mode none: events accepted over the HTTP API only")
	}

	if ts.API.Enabled || source == nil {
		srv := &http.Server{
			Addr: ts.API.Addr,
			Handler: api.NewServer(api.Config{
				Analyzer: eng,
				Metrics:  m.Handler(),
				Ready:    ready,
			}).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Infof("HTTP API listening on %s", ts.API.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	stats := p.Stats()
	logger.Infof("ThreatShield stopped: received=%d processed=%d rejected=%d", stats.Received, stats.Processed, stats.Rejected)
	return err
}

func buildScorer(rc config.RulesConfig) (*scoring.Scorer, error) {
	if !rc.Enabled {
		return scoring.NewScorer(nil), nil
	}
	if strings.TrimSpace(rc.Path) == "" {
		logger.Warnf("Rules enabled but rules.path is empty; Sigma matching disabled")
		return scoring.NewScorer(nil), nil
	}
	sigmaEngine, stats, err := rules.NewSigmaEngine(rc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load Sigma rules from %s: %w", rc.Path, err)
	}
	logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
		stats.Loaded,
		stats.SkippedComplex,
		stats.SkippedDatasource,
		stats.SkippedInvalid,
		stats.TotalFiles,
	)
	if stats.Loaded == 0 {
		logger.Warnf("No CloudTrail-compatible Sigma rules loaded")
	}
	return scoring.NewScorer(sigmaEngine), nil
}

func buildClassifier(ctx context.Context, sc config.SemanticConfig) (*semantic.Adapter, error) {
	if !sc.Enabled {
		logger.Infof("Semantic classifier disabled; assessments are pattern-only")
		return nil, nil
	}

	var client semantic.Client
	switch sc.Provider {
	case "bedrock":
		c, err := semantic.NewBedrockClient(ctx, semantic.BedrockConfig{
			ModelID:   sc.ModelID,
			Region:    sc.Region,
			MaxTokens: sc.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Bedrock classifier: %w", err)
		}
		client = c
		logger.Infof("Semantic classifier: bedrock (%s, %s)", sc.ModelID, sc.Region)
	case "http":
		c, err := semantic.NewHTTPClient(semantic.HTTPConfig{
			URL:     sc.URL,
			Timeout: sc.Timeout,
			Headers: sc.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP classifier: %w", err)
		}
		client = c
		logger.Infof("Semantic classifier: http (%s)", sc.URL)
	default:
		return nil, fmt.Errorf("unknown semantic provider: %s", sc.Provider)
	}
	return semantic.NewAdapter(client, sc.Timeout)
}

func buildProfileStore(pc config.ProfilesConfig) (profile.Store, error) {
	switch pc.Backend {
	case "memory":
		logger.Infof("Profile store: memory (max_entries=%d ttl=%s)", pc.MaxEntries, pc.TTL)
		return profile.NewMemoryStore(profile.MemoryConfig{
			MaxEntries: pc.MaxEntries,
			TTL:        pc.TTL,
			HistoryCap: pc.HistoryCap,
		}), nil
	case "redis":
		s, err := profile.NewRedisStore(profile.RedisConfig{
			Addr:       pc.Redis.Addr,
			Password:   pc.Redis.Password,
			DB:         pc.Redis.DB,
			KeyPrefix:  pc.Redis.KeyPrefix,
			TTL:        pc.TTL,
			HistoryCap: pc.HistoryCap,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis profile store: %w", err)
		}
		logger.Infof("Profile store: redis (%s, prefix %s)", pc.Redis.Addr, pc.Redis.KeyPrefix)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown profile backend: %s", pc.Backend)
	}
}

// buildActionBus returns the action publisher. Intelligence records go to
// their own output when one is configured.
func buildActionBus(ts config.ThreatShieldConfig) (*pipeline.KindMux, error) {
	bus, err := buildPublisher("actions", ts.Actions.Output)
	if err != nil {
		return nil, err
	}
	mux := pipeline.NewKindMux(bus)
	if ts.Intelligence.Output.Mode != "" {
		intel, err := buildPublisher("intelligence", ts.Intelligence.Output)
		if err != nil {
			bus.Close()
			return nil, err
		}
		mux.Handle(models.ActionPersistIntelligence, intel)
	}
	return mux, nil
}

func buildPublisher(name string, oc config.OutputConfig) (pipeline.ActionPublisher, error) {
	switch oc.Mode {
	case "file":
		path := oc.File.Path
		if path == "" {
			path = "output/" + name + ".jsonl"
		}
		w, err := actionjson.NewWriter(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s file writer: %w", name, err)
		}
		logger.Infof("%s output mode: file (%s)", name, path)
		return w, nil
	case "http":
		w, err := actionhttp.NewWriter(actionhttp.Config{
			URL:     oc.HTTP.URL,
			Timeout: oc.HTTP.Timeout,
			Headers: oc.HTTP.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s HTTP writer: %w", name, err)
		}
		logger.Infof("%s output mode: http (%s)", name, oc.HTTP.URL)
		return w, nil
	case "nats":
		p, err := actionnats.NewPublisher(actionnats.Config{
			URL:           oc.NATS.URL,
			SubjectPrefix: oc.NATS.SubjectPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s NATS publisher: %w", name, err)
		}
		logger.Infof("%s output mode: nats (%s, %s.*)", name, oc.NATS.URL, oc.NATS.SubjectPrefix)
		return p, nil
	case "kafka":
		w, err := actionkafka.NewWriter(actionkafka.Config{
			Brokers: oc.Kafka.Brokers,
			Topic:   oc.Kafka.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s Kafka writer: %w", name, err)
		}
		logger.Infof("%s output mode: kafka (%s)", name, oc.Kafka.Topic)
		return w, nil
	case "clickhouse":
		w, err := intelclickhouse.NewWriter(intelclickhouse.Config{
			URL:      oc.ClickHouse.URL,
			Database: oc.ClickHouse.Database,
			Table:    oc.ClickHouse.Table,
			Username: oc.ClickHouse.Username,
			Password: oc.ClickHouse.Password,
			Timeout:  oc.ClickHouse.Timeout,
			Headers:  oc.ClickHouse.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s ClickHouse writer: %w", name, err)
		}
		logger.Infof("%s output mode: clickhouse (%s)", name, oc.ClickHouse.URL)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown %s output mode: %s", name, oc.Mode)
	}
}

// buildSource returns the event source and a readiness probe. Mode none
// returns a nil source.
func buildSource(ctx context.Context, ic config.InputConfig) (pipeline.Source, func(context.Context) error, error) {
	switch ic.Mode {
	case "redis":
		c, err := inputredis.NewConsumer(ctx, inputredis.Config{
			Addr:         ic.Redis.Addr,
			Password:     ic.Redis.Password,
			DB:           ic.Redis.DB,
			Key:          ic.Redis.Key,
			BlockTimeout: ic.Redis.BlockTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Redis consumer: %w", err)
		}
		ready := func(ctx context.Context) error {
			_, err := c.Depth(ctx)
			return err
		}
		return c, ready, nil
	case "kafka":
		c, err := inputkafka.NewConsumer(inputkafka.Config{
			Brokers: ic.Kafka.Brokers,
			Topic:   ic.Kafka.Topic,
			GroupID: ic.Kafka.GroupID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
		}
		return c, nil, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown input mode: %s", ic.Mode)
	}
}
