package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/skylarkhq/delver/config"
	"github.com/skylarkhq/delver/internal/llm"
	"github.com/skylarkhq/delver/internal/research"
	"github.com/skylarkhq/delver/internal/runtime"
	"github.com/skylarkhq/delver/internal/sessions"
	"github.com/skylarkhq/delver/internal/sessions/inmemory"
	"github.com/skylarkhq/delver/internal/sessions/redisstore"
	"github.com/skylarkhq/delver/internal/sources"
	"github.com/skylarkhq/delver/internal/store"
	"github.com/skylarkhq/delver/internal/telemetry"
	"github.com/skylarkhq/delver/tools/web_fetch"
	"github.com/skylarkhq/delver/tools/web_search"
)

// Run wires the full service and blocks serving HTTP on addr. An empty addr
// falls back to the configured server address.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	migrationsDir := cfg.Server.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = "file://migrations"
	}
	if err := Migrate(migrationsDir, dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	engine, err := BuildEngine(cfg)
	if err != nil {
		return err
	}

	// Live snapshots go to redis when configured, else stay in memory.
	var live sessions.Store = inmemory.New()
	var redisClient *redis.Client
	if cfg.Storage.Redis.Host != "" {
		redisClient, err = redisstore.Conn(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		live = redisstore.New(redisClient)
	}

	rh := &ResearchHandler{
		Store:        st,
		Runner:       engine,
		Live:         live,
		Logger:       log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
		StreamBuffer: cfg.Server.StreamBuffer,
	}

	api := e.Group("/api")
	ah := &AuthHandler{Store: st, Secret: secret}
	ah.Register(api.Group("/auth"))
	rh.Register(api.Group("/research"), secret)
	sh := &SchedulesHandler{Store: st}
	sh.Register(api.Group("/schedules"), secret)

	if cfg.Server.SchedulerOn {
		sched := &Scheduler{
			Store:    st,
			Research: rh,
			Rdb:      redisClient,
			Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
			Stop:     make(chan struct{}),
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	return e.Start(addr)
}

// BuildEngine assembles the research engine from configuration: the model
// provider, the search/fetch pipeline and the orchestration settings.
func BuildEngine(cfg *config.Config) (*research.Engine, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm api key not configured (llm.api_key or DELVER_LLM_API_KEY)")
	}
	llmOpts := []llm.Option{}
	if cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.Temperature > 0 {
		llmOpts = append(llmOpts, llm.WithTemperature(cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens > 0 {
		llmOpts = append(llmOpts, llm.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	provider, err := llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.Model, llmOpts...)
	if err != nil {
		return nil, err
	}

	searchClient, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey)
	if err != nil {
		return nil, err
	}
	var fetcher web_fetch.WebFetcher
	if cfg.Fetch.Type != "" {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Fetch.Type), cfg.Fetch.Timeout, cfg.Fetch.MaxDocChars)
		if err != nil {
			return nil, err
		}
	}
	srcLogger := log.New(log.Writer(), "[SOURCES] ", log.LstdFlags)
	searcher := sources.NewSearcher(searchClient, fetcher, srcLogger,
		sources.WithResultsPerQuery(cfg.Search.ResultsPerQuery),
		sources.WithMaxDocChars(cfg.Fetch.MaxDocChars),
	)

	engineLogger := log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	return research.NewEngine(research.Config{
		MaxIterations: cfg.Research.MaxIterations,
		ModelTimeout:  cfg.LLM.Timeout,
		SearchTimeout: cfg.Search.Timeout,
		ParallelTools: cfg.Research.ParallelTools,
	}, provider, searcher, engineLogger, telemetry.New()), nil
}
