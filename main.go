package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"siteplan/advisor"
	"siteplan/api"
	"siteplan/domain"
	"siteplan/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	projectID := envOr("PROJECT_ID", "default")
	seed := storage.DefaultSeed()
	if path := os.Getenv("SEED_FILE"); path != "" {
		s, err := storage.LoadSeed(path)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		seed = s
	}

	var rc *redis.Client
	if conn := os.Getenv("REDIS_CONNECTION_STRING"); conn != "" {
		opts, err := storage.ParseRedisConnectionString(conn)
		if err != nil {
			log.Fatalf("invalid REDIS_CONNECTION_STRING: %v", err)
		}
		rc = redis.NewClient(opts)
	}

	persister, err := newPersister(projectID, rc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	tasks, err := initialTasks(ctx, persister, seed.Tasks)
	if err != nil {
		log.Fatalf("load tasks: %v", err)
	}
	store := storage.NewMemoryStore(tasks)
	project := domain.NewProject(projectID, store)
	log.WithFields(log.Fields{"project": projectID, "tasks": store.Len()}).Info("task board ready")

	var publisher api.EventPublisher
	if connStr, queue := os.Getenv("STORAGE_CONNECTION_STRING"), os.Getenv("EVENTS_QUEUE"); connStr != "" && queue != "" {
		q, err := storage.NewEventQueue(connStr, queue)
		if err != nil {
			log.Fatalf("event queue: %v", err)
		}
		publisher = q
	}

	runner, err := newRunner(ctx, projectID, rc, logger)
	if err != nil {
		log.Fatalf("advisor: %v", err)
	}

	auth, err := newAuthenticator()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	broker := api.NewBroker()
	var notifier api.Notifier = broker
	if rc != nil {
		relay := api.NewRedisRelay(rc, projectID, broker, logger)
		go relay.Run(ctx)
		notifier = relay
	}
	runner.OnComplete(func(domain.Advice) {
		notifier.Notify(context.Background(), api.UpdateAdvice)
	})

	deps := api.Deps{
		Board:    project,
		Advisor:  runner,
		Auth:     auth,
		Broker:   broker,
		Notifier: notifier,
		Logger:   logger,
	}
	if rc != nil {
		ttl, err := envDuration("DEDUPER_TTL", 24*time.Hour)
		if err != nil {
			log.Fatal(err)
		}
		deps.Deduper = api.NewRedisDeduper(rc, ttl)
	}
	var dispatcher *api.Dispatcher
	if persister != nil || publisher != nil {
		cfg, err := api.DispatcherConfigFromEnv()
		if err != nil {
			log.Fatal(err)
		}
		var p api.Persister
		if persister != nil {
			p = persister
		}
		dispatcher = api.NewDispatcher(projectID, project.Tasks, p, publisher, logger, cfg)
		deps.Dispatcher = dispatcher
	}

	e := echo.New()
	e.HideBanner = true
	// Open event streams end with ctx so Shutdown does not wait on them.
	e.Server.BaseContext = func(net.Listener) context.Context { return ctx }
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, deps)

	go func() {
		if err := e.Start(listenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	if dispatcher != nil {
		dispatcher.Close()
	}
	runner.Wait()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorf("tracer shutdown: %v", err)
	}
	if rc != nil {
		_ = rc.Close()
	}
}

// newPersister returns nil when neither table storage nor a SQLite file is
// configured. Table storage wins when both are set.
func newPersister(projectID string, rc *redis.Client) (storage.Persister, error) {
	var base storage.Persister
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	table := os.Getenv("TASKS_TABLE")
	switch {
	case connStr != "" && table != "":
		ts, err := storage.NewTableStore(connStr, table, projectID)
		if err != nil {
			return nil, err
		}
		base = ts
	case os.Getenv("SQLITE_PATH") != "":
		db, err := storage.OpenSQLite(os.Getenv("SQLITE_PATH"), projectID)
		if err != nil {
			return nil, err
		}
		base = db
	default:
		return nil, nil
	}
	if rc == nil {
		return base, nil
	}
	ttl, err := envDuration("SNAPSHOT_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	return storage.NewCache(base, rc, projectID, ttl), nil
}

// initialTasks restores the persisted board, or stores the seed when nothing
// has been persisted yet.
func initialTasks(ctx context.Context, p storage.Persister, seed []domain.Task) ([]domain.Task, error) {
	if p == nil {
		return seed, nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	tasks, err := p.LoadAll(loadCtx)
	if err != nil {
		return nil, err
	}
	if len(tasks) > 0 {
		return tasks, nil
	}
	if err := p.SaveAll(loadCtx, seed); err != nil {
		return nil, fmt.Errorf("store seed: %w", err)
	}
	return seed, nil
}

func newRunner(ctx context.Context, projectID string, rc *redis.Client, logger *log.Logger) (*advisor.Runner, error) {
	cfg, err := advisor.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client, err := advisor.NewClientFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return advisor.NewRunner(client, nil, nil, logger), nil
	}
	guard, err := advisor.NewRedisGuard(rc, projectID, 2*cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return advisor.NewRunner(client, guard, advisor.NewRedisResults(rc, projectID, 0), logger), nil
}

// newAuthenticator returns nil when no auth is configured; write routes are
// then open.
func newAuthenticator() (api.Authenticator, error) {
	if !api.AuthConfigured() {
		log.Warn("no auth configured; write routes are open")
		return nil, nil
	}
	if os.Getenv("LOCAL_AUTH_MODE") != "" || os.Getenv("AUTH0_TEST_MODE") == "1" {
		return api.NewAuth(nil, "", "")
	}
	audience := os.Getenv("AUTH0_AUDIENCE")
	domainName := os.Getenv("AUTH0_DOMAIN")
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domainName)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, audience, "https://"+domainName+"/")
}

func listenAddr() string {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		return v
	}
	if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		return ":" + v
	}
	if v := os.Getenv("PORT"); v != "" {
		return ":" + v
	}
	return ":8080"
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return d, nil
}
