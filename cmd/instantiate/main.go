package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"

	"github.com/splax/instantiate/internal/app/migrate"
	"github.com/splax/instantiate/internal/comments"
	"github.com/splax/instantiate/internal/docker"
	"github.com/splax/instantiate/internal/git"
	"github.com/splax/instantiate/internal/health"
	httpx "github.com/splax/instantiate/internal/http"
	"github.com/splax/instantiate/internal/lifecycle"
	"github.com/splax/instantiate/internal/orchestrator"
	"github.com/splax/instantiate/internal/ports"
	"github.com/splax/instantiate/internal/queue"
	"github.com/splax/instantiate/internal/repository"
	"github.com/splax/instantiate/internal/repository/memory"
	"github.com/splax/instantiate/internal/repository/postgres"
	"github.com/splax/instantiate/internal/scm"
	"github.com/splax/instantiate/internal/shell"
	"github.com/splax/instantiate/internal/template"
	"github.com/splax/instantiate/internal/webhook"
	"github.com/splax/instantiate/internal/workspace"
	"github.com/splax/instantiate/internal/ws"
	"github.com/splax/instantiate/pkg/config"
	"github.com/splax/instantiate/pkg/logger"
)

const memoryDatabase = "memory"

func main() {
	cfg := config.LoadEngineConfig()
	log := logger.New("instantiate", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Warn("docker client unavailable", "error", err)
	} else {
		defer dockerClient.Close()
		if err := dockerClient.Ping(ctx); err != nil {
			log.Warn("docker daemon unreachable", "error", err)
		}
	}

	var kubeClient kubernetes.Interface
	if kc, err := orchestrator.NewClient(cfg.KubeConfig); err != nil {
		log.Info("kubernetes backend without cluster access", "error", err)
	} else {
		kubeClient = kc
	}

	runner := shell.NewExec(log)
	registry := orchestrator.NewRegistry(
		orchestrator.NewCompose(runner, dockerClient, log),
		orchestrator.NewSwarm(runner, dockerClient, log),
		orchestrator.NewKubernetes(runner, kubeClient, cfg.KubeNamespace, log),
		log,
	)

	exclusions, err := ports.ParseExclusions(cfg.PortExclude)
	if err != nil {
		log.Error("invalid PORT_EXCLUDE", "error", err)
		os.Exit(1)
	}
	allocator := ports.New(store, dockerClient, ports.HostProber{}, ports.Config{
		Min:     cfg.PortMin,
		Max:     cfg.PortMax,
		Exclude: exclusions,
	}, log)

	workspaces, err := workspace.New(cfg.WorkingPath)
	if err != nil {
		log.Error("failed to configure workspaces", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	if cfg.IgnoreSSLErrors {
		httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	scmClient := scm.New(scm.WithHTTPClient(httpClient))

	commenter := comments.NewService(
		comments.NewGitHub(scmClient, cfg.GitHubAPIURL, cfg.GitHubToken, store, log),
		comments.NewGitLab(scmClient, cfg.GitLabToken, log),
		log,
	)

	manager := lifecycle.New(lifecycle.Deps{
		Store:      store,
		Ports:      allocator,
		Git:        git.New(runner, cfg.IgnoreSSLErrors),
		Workspaces: workspaces,
		Renderer:   template.New(log),
		Backends:   registry,
		Commenter:  commenter,
		Runner:     runner,
	}, lifecycle.Config{
		HostDomain:     cfg.HostDomain,
		HostScheme:     cfg.HostScheme,
		GitHubUsername: cfg.GitHubUsername,
		GitHubToken:    cfg.GitHubToken,
		GitLabUsername: cfg.GitLabUsername,
		GitLabToken:    cfg.GitLabToken,
	}, log)

	events, limiter := openQueue(ctx, cfg, log)
	defer events.Close()

	hub := ws.NewHub()
	defer hub.Close()

	normalizer := webhook.New(webhook.Config{
		RedeployCommand: cfg.RedeployCommand,
		Development:     cfg.Development(),
		DevHostAlias:    cfg.DevHostAlias,
		GitHubUsername:  cfg.GitHubUsername,
		GitHubToken:     cfg.GitHubToken,
		GitHubAPIURL:    cfg.GitHubAPIURL,
		GitLabUsername:  cfg.GitLabUsername,
		GitLabToken:     cfg.GitLabToken,
	}, scmClient, log)

	checks := map[string]httpx.HealthCheck{"store": store.Ping}
	if dockerClient != nil {
		checks["docker"] = dockerClient.Ping
	}
	router := httpx.NewRouter(log, httpx.Deps{
		Parser:  normalizer,
		Queue:   events,
		Stacks:  store,
		Hub:     hub,
		Limiter: limiter,
		Checks:  checks,
	}, httpx.Config{
		GitHubWebhookSecret: cfg.GitHubWebhookSecret,
		GitLabWebhookToken:  cfg.GitLabWebhookToken,
		ProjectKeys:         cfg.ProjectKeys,
		WebhookRateLimit:    cfg.WebhookRateLimit,
		ProjectRateLimits:   cfg.ProjectRateLimits,
		JWTSecret:           cfg.APIJWTSecret,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.NewWorker(events, manager, cfg.QueueWorkers, log).Run(gctx)
	})
	g.Go(func() error {
		health.New(store, registry, hub, cfg.HealthInterval, log).Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("instantiate server starting", "addr", cfg.Addr, "workers", cfg.QueueWorkers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("instantiate server stopped")
}

// openStore connects to Postgres and applies migrations. DATABASE_URL=memory
// keeps state in process for local experiments.
func openStore(ctx context.Context, cfg config.EngineConfig, log *slog.Logger) (repository.Store, func(), error) {
	if strings.EqualFold(strings.TrimSpace(cfg.DatabaseURL), memoryDatabase) {
		log.Warn("using in-memory store, state is lost on restart")
		return memory.New(), func() {}, nil
	}

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		return nil, nil, err
	}
	if err := runner.Up(ctx); err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.New(pool)
	if err := repo.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

// openQueue prefers Redis, sharing its connection with the rate limiter, and
// falls back to an in-process queue.
func openQueue(ctx context.Context, cfg config.EngineConfig, log *slog.Logger) (queue.Queue, httpx.RateLimiter) {
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisQueue, err := queue.NewRedis(addr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueKey, log)
		if err != nil {
			log.Warn("redis queue unavailable, using in-memory queue", "error", err)
		} else {
			if _, err := redisQueue.Recover(ctx); err != nil {
				log.Warn("failed to requeue in-flight messages", "error", err)
			}
			return redisQueue, httpx.NewRedisRateLimiter(redisQueue.Client(), log)
		}
	}
	return queue.NewMemory(256), httpx.NewMemoryRateLimiter()
}
