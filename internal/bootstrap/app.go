package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/permitchain/permit-backend/config"
	httpapi "github.com/permitchain/permit-backend/internal/api/http"
	"github.com/permitchain/permit-backend/internal/db"
	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/events"
	projecthttp "github.com/permitchain/permit-backend/internal/projects/http"
	projectrepo "github.com/permitchain/permit-backend/internal/projects/repository"
	"github.com/permitchain/permit-backend/internal/projects/service"
	"github.com/permitchain/permit-backend/internal/reconcile"
	userrepo "github.com/permitchain/permit-backend/internal/users/repository"
)

// App is the wired object graph shared by the api and worker binaries.
type App struct {
	Config   *config.Config
	DB       *db.DB
	Redis    *redis.Client
	Eth      *ledger.EthBackend
	Registry *prometheus.Registry

	Gateway    *ledger.Gateway
	Queue      *reconcile.Queue
	Reconciler *reconcile.Reconciler
	Events     *events.Bus
	Handler    *projecthttp.Handler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var err error
	if a.DB, err = db.Open(ctx, cfg.Database); err != nil {
		return nil, err
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	a.Eth, err = ledger.DialEth(ctx, ledger.EthConfig{
		RPCURL:            cfg.Ledger.RPCURL,
		SignerKeys:        cfg.Ledger.SignerKeys,
		ArtifactPath:      cfg.Ledger.ProjectArtifactPath,
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Gateway = ledger.NewGateway(a.Eth,
		ledger.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
		ledger.WithMetrics(ledger.NewMetrics(a.Registry)),
	)

	users := userrepo.NewUserRepository(a.DB.SQL)
	projects := projectrepo.NewProjectRepository(a.DB.SQL)
	investors := projectrepo.NewInvestorRepository(a.DB.SQL)

	a.Queue = reconcile.NewQueue(a.Redis, cfg.Reconcile.MaxAttempts)
	a.Reconciler = reconcile.NewReconciler(a.Gateway, projects, users, a.Queue, reconcile.NewMetrics(a.Registry))
	a.Events = events.NewBus(a.Redis)

	docs := service.NewDocumentProjector(a.Gateway, users, service.PrefixURLs(cfg.App.DocumentBaseURL))
	builder := service.NewAggregateBuilder(a.Gateway, projects, users, docs, service.PrefixURLs(cfg.App.DocumentBaseURL))
	orch := service.NewWorkflowOrchestrator(service.OrchestratorDeps{
		Gateway:  a.Gateway,
		Projects: projects,
		Users:    users,
		Members:  users,
		Builder:  builder,
		Docs:     docs,
		Repair:   a.Queue,
		Events:   a.Events,
		Metrics:  service.NewMetrics(a.Registry),
	})

	a.Handler = projecthttp.New(projecthttp.Deps{
		Projects:     service.NewProjectService(a.Gateway, projects, investors, users),
		Builder:      builder,
		Orchestrator: orch,
		Documents:    docs,
		Reconciler:   a.Reconciler,
		Events:       a.Events,
	})

	log.Printf("[bootstrap] wired env=%s ledger=%s redis=%s", cfg.App.Environment, cfg.Ledger.RPCURL, cfg.Redis.Addr)
	return a, nil
}

// Checks lists the dependencies reported by the health endpoint.
func (a *App) Checks() map[string]httpapi.Pinger {
	return map[string]httpapi.Pinger{
		"db":     a.DB,
		"redis":  httpapi.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }),
		"ledger": a.Eth,
	}
}

func (a *App) Close() {
	if a.Eth != nil {
		a.Eth.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Printf("[bootstrap] redis close: %v", err)
		}
	}
	a.DB.Close()
}
