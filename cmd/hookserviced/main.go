package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/inboundhook/hookservice/internal/config"
	"github.com/inboundhook/hookservice/internal/contracts"
	"github.com/inboundhook/hookservice/internal/dispatch"
	"github.com/inboundhook/hookservice/internal/handlerexec"
	"github.com/inboundhook/hookservice/internal/inbound"
	"github.com/inboundhook/hookservice/internal/normalize"
	"github.com/inboundhook/hookservice/internal/obslog"
	"github.com/inboundhook/hookservice/internal/outbox"
	"github.com/inboundhook/hookservice/internal/streamfanout"
	"github.com/inboundhook/hookservice/pkg/canonical"
	"github.com/inboundhook/hookservice/pkg/idempotency"
)

const serviceName = "hookserviced"

func main() {
	cfg := loadEnvConfig()
	logger := obslog.New(os.Stdout, obslog.Options{Service: serviceName, Level: obslog.Level(cfg.LogLevel)})

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

type envConfig struct {
	ConfigPath      string
	Addr            string
	LogLevel        string
	DBDriver        string
	DBDSN           string
	RedisAddr       string
	StreamName      string
	DaemonID        string
	ShutdownTimeout time.Duration
}

func loadEnvConfig() envConfig {
	return envConfig{
		ConfigPath:      getenv("HOOKSERVICE_CONFIG", "config.yaml"),
		Addr:            getenv("HOOKSERVICE_ADDR", ":8090"),
		LogLevel:        getenv("HOOKSERVICE_LOG_LEVEL", "info"),
		DBDriver:        getenv("HOOKSERVICE_DB_DRIVER", "sqlite3"),
		DBDSN:           getenv("HOOKSERVICE_DB_DSN", "hookservice.db"),
		RedisAddr:       getenv("HOOKSERVICE_REDIS_ADDR", ""),
		StreamName:      getenv("HOOKSERVICE_STREAM", "hookservice:events"),
		DaemonID:        getenv("HOOKSERVICE_DAEMON_ID", randomishID()),
		ShutdownTimeout: msDuration("HOOKSERVICE_SHUTDOWN_TIMEOUT_MS", 10000),
	}
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func msDuration(key string, def int) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return time.Duration(def) * time.Millisecond
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return time.Duration(def) * time.Millisecond
	}
	return time.Duration(n) * time.Millisecond
}

func randomishID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "hookserviced"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func run(cfg envConfig, logger *obslog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := config.NewLoader(config.Options{
		Path:               cfg.ConfigPath,
		EnableEnvOverrides: true,
		OnWarn: func(code, detail string) {
			logger.Warn("config warning", map[string]any{"code": code, "detail": detail})
		},
	})
	if err != nil {
		return fmt.Errorf("build config loader: %w", err)
	}
	doc, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sql.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	contractStore, err := contracts.NewSQLStore(db, cfg.DBDriver, "")
	if err != nil {
		return fmt.Errorf("build contract store: %w", err)
	}
	if err := contractStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure contract schema: %w", err)
	}

	outboxStore, err := outbox.NewSQLStore(db, cfg.DBDriver, "")
	if err != nil {
		return fmt.Errorf("build outbox store: %w", err)
	}
	if err := outboxStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure outbox schema: %w", err)
	}

	contractRegistry := contracts.NewRegistry(contractStore)
	if err := contractRegistry.LoadStore(ctx); err != nil {
		return fmt.Errorf("load persisted contracts: %w", err)
	}
	fromConfig, err := contracts.FromConfig(doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build contracts from config: %w", err)
	}
	for _, c := range fromConfig {
		if err := contractRegistry.Register(ctx, c); err != nil {
			return fmt.Errorf("register contract %q: %w", c.ID, err)
		}
	}

	normalizers := normalize.NewRegistry()
	if err := normalizers.RegisterBuiltins(); err != nil {
		return fmt.Errorf("register normalizer builtins: %w", err)
	}

	dedup := idempotency.NewStore(10 * time.Minute)
	executor := handlerexec.NewExecutor(handlerexec.Options{Logger: logger, Dedup: dedup})
	registerBuiltinHandlers(executor)

	deliverer := outbox.NewDeliverer(&http.Client{})
	enqueuer := outbox.NewEnqueuer(outboxStore)

	dispatcher := dispatch.NewDispatcher(contractRegistry, executor, enqueuer, logger)

	var publisher *streamfanout.Publisher
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		publisher = streamfanout.NewPublisher(redisClient, cfg.StreamName, 1000)
		consumer := streamfanout.NewConsumer(redisClient, dispatcher, streamfanout.Options{
			Stream:   cfg.StreamName,
			DaemonID: cfg.DaemonID,
			Logger:   logger,
		})
		go consumer.Run(ctx)
	}
	originDispatcher := &originTaggingDispatcher{
		inner:     dispatcher,
		publisher: publisher,
		daemonID:  cfg.DaemonID,
		logger:    logger,
	}

	router := mux.NewRouter()
	inboundRegistry := inbound.NewRegistry(normalizers, originDispatcher, logger)
	for name, src := range doc.Inbound {
		err := inboundRegistry.Mount(router, inbound.Source{
			Name:        name,
			Path:        src.Path,
			Normalizer:  src.Normalizer,
			Secret:      src.Secret,
			VerifyToken: src.VerifyToken,
		})
		if err != nil {
			return fmt.Errorf("mount source %q: %w", name, err)
		}
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	worker := outbox.NewWorker(outboxStore, deliverer, outbox.WorkerOptions{Logger: logger})
	go worker.Run(ctx)

	sweepTicker := time.NewTicker(time.Minute)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				n := contractRegistry.SweepExpired(ctx, time.Now().UTC())
				if n > 0 {
					logger.Info("swept expired contracts", map[string]any{"count": n})
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", map[string]any{"addr": cfg.Addr, "daemon_id": cfg.DaemonID})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("shutdown starting", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", map[string]any{"error": err.Error()})
		_ = srv.Close()
	}
	worker.Stop()
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("executor shutdown error", map[string]any{"error": err.Error()})
	}
	logger.Info("shutdown complete", nil)
	return nil
}

// registerBuiltinHandlers wires the handler names an operator's config can
// target by name. "log" is a reference implementation demonstrating the
// registration point; real deployments register their own domain handlers
// the same way before calling executor.Register.
func registerBuiltinHandlers(executor *handlerexec.Executor) {
	_ = executor.Register("log", func(_ context.Context, _ *canonical.Event) error {
		return nil
	})
}

// originTaggingDispatcher sits only in front of the inbound HTTP path: it
// stamps every locally-originated event with this process's daemon_id,
// dispatches it locally, then publishes it onto the shared stream so peer
// processes can act on it too. The stream consumer dispatches directly
// against the plain Dispatcher instead of through this type, so an event
// read back off the stream is never re-published.
type originTaggingDispatcher struct {
	inner     *dispatch.Dispatcher
	publisher *streamfanout.Publisher
	daemonID  string
	logger    *obslog.Logger
}

func (d *originTaggingDispatcher) Dispatch(ctx context.Context, event *canonical.Event) error {
	if _, ok := event.Properties["daemon_id"]; !ok {
		tagged := *event
		tagged.Properties = make(map[string]any, len(event.Properties)+1)
		for k, v := range event.Properties {
			tagged.Properties[k] = v
		}
		tagged.Properties["daemon_id"] = d.daemonID
		event = &tagged
	}
	if err := d.inner.Dispatch(ctx, event); err != nil {
		return err
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.logger.Warn("stream publish failed", map[string]any{"event_id": event.EventID, "error": err.Error()})
		}
	}
	return nil
}
