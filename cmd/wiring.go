package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/api"
	"github.com/JakeFAU/sitescraper/internal/clock/system"
	"github.com/JakeFAU/sitescraper/internal/config"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/fetcher/cache"
	collyfetcher "github.com/JakeFAU/sitescraper/internal/fetcher/colly"
	"github.com/JakeFAU/sitescraper/internal/fetcher/headless"
	"github.com/JakeFAU/sitescraper/internal/fetcher/promote"
	sessionfetcher "github.com/JakeFAU/sitescraper/internal/fetcher/session"
	"github.com/JakeFAU/sitescraper/internal/hash/sha256"
	"github.com/JakeFAU/sitescraper/internal/id/uuid"
	"github.com/JakeFAU/sitescraper/internal/normalize"
	"github.com/JakeFAU/sitescraper/internal/pipeline"
	"github.com/JakeFAU/sitescraper/internal/policy/ratelimit"
	"github.com/JakeFAU/sitescraper/internal/profile"
	pubsubpublisher "github.com/JakeFAU/sitescraper/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/sitescraper/internal/publisher/redis"
	"github.com/JakeFAU/sitescraper/internal/sink"
	"github.com/JakeFAU/sitescraper/internal/storage"
	"github.com/JakeFAU/sitescraper/internal/storage/gcs"
	"github.com/JakeFAU/sitescraper/internal/storage/local"
	"github.com/JakeFAU/sitescraper/internal/storage/postgres"
)

// Run modes.
const (
	modeLookup  = "lookup"
	modeCatalog = "catalog"
)

// runEnv is a CrawlContext plus everything that must be released after
// the run.
type runEnv struct {
	cc      *pipeline.CrawlContext
	runs    *postgres.RecordStore
	closers []func() error
	logger  *zap.Logger
}

func (e *runEnv) addCloser(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (e *runEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("close failed", zap.Error(err))
		}
	}
}

type runOptions struct {
	mode        string
	reset       bool
	skipMissing bool
}

func loadProfile(rt *runtime) (profile.Profile, error) {
	if rt.cfg.Profile == "" {
		return profile.Profile{}, errors.New("a site profile is required (--profile or SITESCRAPER_PROFILE)")
	}
	p, err := profile.Load(rt.cfg.Profile)
	if err != nil {
		return profile.Profile{}, err
	}
	if rt.cfg.Output.Path != "" {
		p.Output.Path = rt.cfg.Output.Path
	}
	if rt.cfg.Output.MissingPath != "" {
		p.Output.MissingPath = rt.cfg.Output.MissingPath
	}
	return p, nil
}

// prepare builds the CrawlContext for one run. On error everything opened
// so far is closed.
func prepare(ctx context.Context, rt *runtime, p profile.Profile, opts runOptions) (env *runEnv, err error) {
	logger := rt.logger
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", runID), zap.String("profile", p.Name))
	env = &runEnv{logger: logger}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	extractor, err := p.NewExtractor()
	if err != nil {
		return nil, err
	}
	catalog := opts.mode == modeCatalog
	out, err := sink.Open(p.SinkConfig(catalog, opts.reset, logger))
	if err != nil {
		return nil, err
	}
	env.addCloser(out.Close)

	var missing *sink.CSVSink
	if missingCfg, ok := p.MissingSinkConfig(opts.reset, logger); ok && !catalog {
		if missing, err = sink.Open(missingCfg); err != nil {
			return nil, err
		}
		env.addCloser(missing.Close)
	}

	normalizer := normalize.New(
		normalize.WithDefaultCharset(rt.cfg.Fetch.DefaultCharset),
		normalize.WithDetection(rt.cfg.Fetch.DetectCharset),
		normalize.WithMaxBytes(rt.cfg.Fetch.MaxBodyBytes),
		normalize.WithLogger(logger.Named("normalize")),
	)
	fetcher, err := buildFetcher(rt.cfg, normalizer, logger, env)
	if err != nil {
		return nil, err
	}

	sessionOpts := []crawler.SessionOption{
		crawler.WithPacer(ratelimit.NewPacer(rt.cfg.Crawl.Delay)),
		crawler.WithRetryPolicy(crawler.NewExponentialRetryPolicy(
			rt.cfg.Fetch.Retry.MaxAttempts,
			rt.cfg.Fetch.Retry.BaseDelay,
			rt.cfg.Fetch.Retry.MaxDelay,
		)),
		crawler.WithHeaders(rt.cfg.Fetch.HTTPHeaders()),
		crawler.WithLogger(logger.Named("session")),
	}
	archive, err := buildArchive(ctx, rt.cfg.Archive, env)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		sessionOpts = append(sessionOpts, crawler.WithPageHook(pipeline.ArchiveHook(archive, runID, logger.Named("archive"))))
	}

	session, err := crawler.NewSession(fetcher, normalizer, sessionOpts...)
	if err != nil {
		return nil, err
	}

	cc := &pipeline.CrawlContext{
		Profile:     p,
		Session:     session,
		Extractor:   extractor,
		Sink:        out,
		Missing:     missing,
		SkipMissing: opts.skipMissing,
		Hasher:      sha256.New(),
		Clock:       system.New(),
		Logger:      logger,
		RunID:       runID,
	}

	if rt.cfg.Mirror.DSN != "" {
		store, err := postgres.NewRecordStore(ctx, postgres.Config{
			DSN:             rt.cfg.Mirror.DSN,
			Table:           rt.cfg.Mirror.Table,
			RunsTable:       rt.cfg.Mirror.RunsTable,
			MaxConns:        rt.cfg.Mirror.MaxConns,
			MaxConnLifetime: rt.cfg.Mirror.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		env.addCloser(func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		cc.Mirror = store
		env.runs = store
	}

	publisher, err := buildPublisher(ctx, rt.cfg.Publish, env)
	if err != nil {
		return nil, err
	}
	cc.Publisher = publisher

	env.cc = cc
	return env, nil
}

func buildFetcher(cfg config.Config, normalizer crawler.Normalizer, logger *zap.Logger, env *runEnv) (crawler.Fetcher, error) {
	var fetcher crawler.Fetcher
	switch cfg.Fetch.Backend {
	case config.BackendColly:
		f, err := collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Fetch.UserAgent,
			Timeout:      cfg.Fetch.Timeout,
			MaxBodyBytes: int(cfg.Fetch.MaxBodyBytes),
		})
		if err != nil {
			return nil, fmt.Errorf("init colly fetcher: %w", err)
		}
		fetcher = f
	case config.BackendHeadless:
		f, err := newHeadless(cfg, logger, env)
		if err != nil {
			return nil, err
		}
		fetcher = f
	default:
		f, err := sessionfetcher.New(sessionfetcher.Config{
			UserAgent:        cfg.Fetch.UserAgent,
			Timeout:          cfg.Fetch.Timeout,
			MaxBodyBytes:     cfg.Fetch.MaxBodyBytes,
			CloudflareBypass: cfg.Fetch.CloudflareBypass,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init http fetcher: %w", err)
		}
		fetcher = f
	}

	if cfg.Fetch.Headless.Promote && cfg.Fetch.Backend != config.BackendHeadless {
		renderer, err := newHeadless(cfg, logger, env)
		if err != nil {
			return nil, err
		}
		promoted, err := promote.New(fetcher, renderer, normalizer, promote.DefaultHeuristic, logger)
		if err != nil {
			return nil, err
		}
		fetcher = promoted
	}

	if !cfg.Cache.Enabled {
		return fetcher, nil
	}
	cached, err := cache.NewMemcache(fetcher, cfg.Cache.Servers, cfg.Cache.TTL, logger)
	if err != nil {
		return nil, fmt.Errorf("init fetch cache: %w", err)
	}
	return cached, nil
}

func newHeadless(cfg config.Config, logger *zap.Logger, env *runEnv) (*headless.Fetcher, error) {
	f, err := headless.NewChromedp(headless.Config{
		UserAgent:         cfg.Fetch.UserAgent,
		NavigationTimeout: cfg.Fetch.Timeout,
		WaitSelector:      cfg.Fetch.Headless.WaitSelector,
		Settle:            cfg.Fetch.Headless.Settle,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	env.addCloser(func() error { f.Close(); return nil })
	return f, nil
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig, env *runEnv) (*storage.Archive, error) {
	var store storage.BlobStore
	switch cfg.Backend {
	case "":
		return nil, nil
	case "local":
		s, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, err
		}
		store = s
	case "gcs":
		s, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, err
		}
		env.addCloser(s.Close)
		store = s
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
	return storage.NewArchive(store, cfg.Prefix)
}

func buildPublisher(ctx context.Context, cfg config.PublishConfig, env *runEnv) (pipeline.RecordPublisher, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "pubsub":
		p, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			Topic:     cfg.PubSub.Topic,
		})
		if err != nil {
			return nil, err
		}
		env.addCloser(p.Close)
		return p, nil
	case "redis":
		p, err := redispublisher.New(ctx, redispublisher.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		env.addCloser(p.Close)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publish backend %q", cfg.Backend)
	}
}

// execute runs fn with the run registered in the mirror and, when
// configured, the status server listening.
func (e *runEnv) execute(ctx context.Context, rt *runtime, mode string, stats api.Snapshotter, fn func(context.Context) (pipeline.Stats, error)) (pipeline.Stats, error) {
	clock := e.cc.Clock
	started := clock.Now()
	if e.runs != nil {
		if err := e.runs.StartRun(ctx, e.cc.RunID, e.cc.Profile.Name, mode, started); err != nil {
			e.logger.Warn("record run start failed", zap.Error(err))
		}
	}

	serverDone := make(chan struct{})
	serverCtx, stopServer := context.WithCancel(ctx)
	if addr := rt.cfg.Metrics.ListenAddr; addr != "" {
		server := api.NewServer(api.RunInfo{
			RunID:     e.cc.RunID,
			Profile:   e.cc.Profile.Name,
			Mode:      mode,
			StartedAt: started,
		}, stats, e.logger.Named("api"))
		go func() {
			defer close(serverDone)
			if err := server.ListenAndServe(serverCtx, addr); err != nil {
				e.logger.Warn("status server stopped", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}

	result, runErr := fn(ctx)
	stopServer()
	<-serverDone

	if e.runs != nil {
		// The run context may already be canceled; record the outcome anyway.
		if err := e.runs.FinishRun(context.WithoutCancel(ctx), e.cc.RunID, clock.Now(), result, runErr); err != nil {
			e.logger.Warn("record run finish failed", zap.Error(err))
		}
	}
	return result, runErr
}
