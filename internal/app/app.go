// Package app assembles the repositories, collaborators and use cases of the
// establishment service from its configuration.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/config"
	"github.com/betagouv/l-immersion-facile-sub002/internal/db"
	"github.com/betagouv/l-immersion-facile-sub002/internal/events"
	"github.com/betagouv/l-immersion-facile-sub002/internal/geocoding"
	"github.com/betagouv/l-immersion-facile-sub002/internal/httpapi"
	"github.com/betagouv/l-immersion-facile-sub002/internal/ingestion"
	"github.com/betagouv/l-immersion-facile-sub002/internal/jobboard"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository/inmemory"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository/pg"
	"github.com/betagouv/l-immersion-facile-sub002/internal/scheduler"
	"github.com/betagouv/l-immersion-facile-sub002/internal/search"
	"github.com/betagouv/l-immersion-facile-sub002/internal/searchability"
)

const geocodingTimeout = 5 * time.Second

// Job names, usable with the establishment-jobs command.
const (
	JobSearchability  = "mark-establishments-as-searchable"
	JobExternalCrawl  = "crawl-job-board"
	JobSuggestUpdates = "suggest-establishment-updates"
)

// App holds the wired use cases.
type App struct {
	Search         *search.SearchImmersion
	GetOffer       *search.GetOffer
	InsertFromForm *ingestion.InsertFromForm
	UpdateFromForm *ingestion.UpdateFromForm
	Delete         *ingestion.DeleteEstablishment
	ExternalCrawl  *ingestion.ExternalCrawl
	SuggestUpdates *ingestion.SuggestUpdates
	Searchability  *searchability.Controller

	cfg    *config.Config
	pool   *pgxpool.Pool
	rdb    *redis.Client
	logger *zap.Logger
}

type collaborators struct {
	performer repository.Performer
	publisher events.Publisher
	gateway   jobboard.Searcher
}

// Build connects the backends selected by cfg.Repositories and wires every
// use case on top of them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	var (
		c   collaborators
		err error
	)
	switch cfg.Repositories {
	case config.RepositoriesPG:
		c, err = a.connectPG(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
	default:
		logger.Info("using in-memory repositories")
		c = collaborators{
			performer: inmemory.NewPerformer(inmemory.NewRepositories()),
			publisher: events.NewRecorder(),
			gateway:   a.jobBoardClient(),
		}
	}

	clock := model.SystemClock{}
	ids := model.UUIDGenerator{}
	geocoder := geocoding.NewClient(cfg.GeocodingURL, geocodingTimeout, logger)

	a.Search = search.NewSearchImmersion(c.performer, c.gateway, clock, ids, cfg.JobBoardTimeout, logger)
	a.GetOffer = search.NewGetOffer(c.performer)
	a.InsertFromForm = ingestion.NewInsertFromForm(c.performer, geocoder, c.publisher, clock, ids, logger)
	a.UpdateFromForm = ingestion.NewUpdateFromForm(c.performer, geocoder, c.publisher, clock, ids, logger)
	a.Delete = ingestion.NewDeleteEstablishment(c.performer, c.publisher, clock, logger)
	a.ExternalCrawl = ingestion.NewExternalCrawl(c.performer, c.gateway, c.publisher, clock, logger)
	a.SuggestUpdates = ingestion.NewSuggestUpdates(c.performer, c.publisher, clock,
		time.Duration(cfg.SuggestUpdateAfterDays)*24*time.Hour, logger)
	a.Searchability = searchability.NewController(c.performer, clock, logger)
	return a, nil
}

// ─── PostgreSQL + Redis ──────────────────────────────────────────────────────

func (a *App) connectPG(ctx context.Context) (collaborators, error) {
	if a.cfg.RunMigrations {
		if err := db.Migrate(a.cfg.DatabaseURL, a.logger); err != nil {
			return collaborators{}, err
		}
	}

	pool, err := db.NewPostgresPool(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return collaborators{}, err
	}
	a.pool = pool
	a.logger.Info("postgres connected")

	rdb, err := db.NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return collaborators{}, err
	}
	a.rdb = rdb
	a.logger.Info("redis connected")

	return collaborators{
		performer: pg.NewPerformer(pool, a.logger),
		publisher: events.NewRedisPublisher(rdb),
		gateway:   jobboard.NewCached(a.jobBoardClient(), rdb, a.cfg.JobBoardCacheTTL, a.logger),
	}, nil
}

// jobBoardClient falls back to an empty fake when no job board is
// configured, so that searches only return internal results.
func (a *App) jobBoardClient() jobboard.Searcher {
	if a.cfg.JobBoardURL == "" {
		a.logger.Warn("JOB_BOARD_URL not set, external search disabled")
		return jobboard.NewFake()
	}
	return jobboard.NewClient(a.cfg.JobBoardURL, a.cfg.JobBoardAPIKey, a.cfg.JobBoardTimeout, a.logger)
}

// ─── Surfaces ────────────────────────────────────────────────────────────────

// Jobs lists the maintenance jobs with their cron specs.
func (a *App) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{
			Name: JobSearchability,
			Spec: a.cfg.SearchabilityCron,
			Run: func(ctx context.Context) error {
				_, err := a.Searchability.Execute(ctx)
				return err
			},
		},
		{
			Name: JobExternalCrawl,
			Spec: a.cfg.ExternalCrawlCron,
			Run: func(ctx context.Context) error {
				_, err := a.ExternalCrawl.Execute(ctx)
				return err
			},
		},
		{
			Name: JobSuggestUpdates,
			Spec: a.cfg.SuggestUpdateCron,
			Run: func(ctx context.Context) error {
				_, err := a.SuggestUpdates.Execute(ctx)
				return err
			},
		},
	}
}

// UseCases exposes the HTTP operations.
func (a *App) UseCases(serviceName, version string) httpapi.UseCases {
	return httpapi.UseCases{
		Search:      a.Search,
		GetOffer:    a.GetOffer,
		InsertForm:  a.InsertFromForm,
		UpdateForm:  a.UpdateFromForm,
		Delete:      a.Delete,
		ServiceName: serviceName,
		Version:     version,
	}
}

// Close releases the connections opened by Build.
func (a *App) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
