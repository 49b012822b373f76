package ingestion

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/events"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// PendingSearchesBatch is the number of searches processed per crawl.
const PendingSearchesBatch = 50

// CompanySearcher is the job-board gateway queried by the crawl.
type CompanySearcher interface {
	SearchCompanies(ctx context.Context, query model.CompanySearchQuery) ([]model.SearchResult, error)
}

// CrawlReport counts what one crawl did.
type CrawlReport struct {
	SearchesProcessed int
	Inserted          int
	Updated           int
	Skipped           int
}

// ExternalCrawl replays the searches users made against the job board and
// stores the leads it returns as external establishments.
type ExternalCrawl struct {
	performer repository.Performer
	gateway   CompanySearcher
	publisher events.Publisher
	clock     model.Clock
	logger    *zap.Logger
}

// NewExternalCrawl returns a configured ExternalCrawl.
func NewExternalCrawl(performer repository.Performer, gateway CompanySearcher, publisher events.Publisher, clock model.Clock, logger *zap.Logger) *ExternalCrawl {
	return &ExternalCrawl{performer: performer, gateway: gateway, publisher: publisher, clock: clock, logger: logger}
}

// Execute processes one batch of pending searches.
func (c *ExternalCrawl) Execute(ctx context.Context) (CrawlReport, error) {
	var (
		report  CrawlReport
		pending []model.SearchMadeEntity
	)
	err := c.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		pending, err = uow.SearchesMade.RetrievePendingSearches(ctx, PendingSearchesBatch)
		return err
	})
	if err != nil {
		return report, err
	}

	for _, search := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := c.processSearch(ctx, search, &report); err != nil {
			// The search stays pending and is retried on the next crawl.
			c.logger.Warn("crawl of search failed", zap.String("search_id", search.ID), zap.Error(err))
			continue
		}
		report.SearchesProcessed++
	}

	c.logger.Info("external crawl complete",
		zap.Int("searches", report.SearchesProcessed),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (c *ExternalCrawl) processSearch(ctx context.Context, search model.SearchMadeEntity, report *CrawlReport) error {
	var rome string
	err := c.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		rome, err = searchRome(ctx, uow, search)
		return err
	})
	if err != nil {
		return err
	}

	var leads []model.SearchResult
	if rome != "" {
		leads, err = c.gateway.SearchCompanies(ctx, model.CompanySearchQuery{
			Rome:       rome,
			Lat:        search.Lat,
			Lon:        search.Lon,
			DistanceKm: search.DistanceKm,
		})
		if err != nil {
			return err
		}
	}

	var (
		published []events.Event
		counts    CrawlReport
	)
	err = c.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		published, counts = published[:0], CrawlReport{}
		sirets := make([]string, 0, len(leads))
		for _, l := range leads {
			sirets = append(sirets, l.Siret)
		}
		deleted, err := uow.Deleted.AreSiretsDeleted(ctx, sirets)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		for _, lead := range leads {
			outcome, err := c.reconcile(ctx, uow, lead, deleted[lead.Siret], now)
			if err != nil {
				return err
			}
			switch outcome {
			case leadInserted:
				counts.Inserted++
				published = append(published, events.Event{Type: events.EstablishmentInserted, Siret: lead.Siret, OccurredAt: now})
			case leadUpdated:
				counts.Updated++
				published = append(published, events.Event{Type: events.EstablishmentUpdated, Siret: lead.Siret, OccurredAt: now})
			default:
				counts.Skipped++
			}
		}
		return uow.SearchesMade.MarkSearchAsProcessed(ctx, search.ID)
	})
	if err != nil {
		return err
	}

	report.Inserted += counts.Inserted
	report.Updated += counts.Updated
	report.Skipped += counts.Skipped
	for _, e := range published {
		publish(ctx, c.publisher, c.logger, e.Type, e.Siret, e.OccurredAt)
	}
	return nil
}

type leadOutcome int

const (
	leadSkipped leadOutcome = iota
	leadInserted
	leadUpdated
)

// reconcile applies one job-board lead. Form data always wins over the
// job board, and an establishment never gets the same rome twice.
func (c *ExternalCrawl) reconcile(ctx context.Context, uow *repository.UnitOfWork, lead model.SearchResult, deleted bool, now time.Time) (leadOutcome, error) {
	if deleted {
		return leadSkipped, nil
	}
	existing, err := uow.Establishments.GetEstablishmentAggregateBySiret(ctx, lead.Siret)
	if err != nil {
		return leadSkipped, err
	}

	offer := model.OfferEntity{RomeCode: lead.Rome, CreatedAt: now}
	if existing != nil {
		if !existing.Establishment.SourceProvider.IsExternal() || existing.HasRomeCode(lead.Rome) {
			return leadSkipped, nil
		}
		updated := *existing
		refreshFromLead(&updated.Establishment, lead)
		if err := updated.Establishment.Validate(); err != nil {
			c.logger.Warn("invalid job board lead skipped", zap.String("siret", lead.Siret), zap.Error(err))
			return leadSkipped, nil
		}
		updated.Offers = append(slices.Clone(existing.Offers), offer)
		if err := uow.Establishments.UpdateEstablishmentAggregate(ctx, updated, now); err != nil {
			return leadSkipped, err
		}
		return leadUpdated, nil
	}

	establishment := model.EstablishmentEntity{
		Siret:          lead.Siret,
		SourceProvider: model.SourceLaBonneBoite,
		CreatedAt:      now,
		UpdatedAt:      now,
		IsOpen:         true,
		IsSearchable:   true,
		SearchableBy:   model.SearchableBy{Students: true, JobSeekers: true},
	}
	refreshFromLead(&establishment, lead)
	if err := establishment.Validate(); err != nil {
		c.logger.Warn("invalid job board lead skipped", zap.String("siret", lead.Siret), zap.Error(err))
		return leadSkipped, nil
	}
	err = uow.Establishments.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{{
		Establishment: establishment,
		Offers:        []model.OfferEntity{offer},
	}})
	if err != nil {
		return leadSkipped, err
	}
	return leadInserted, nil
}

// refreshFromLead copies the fields the job board owns. Lifecycle flags and
// contact settings stay as stored.
func refreshFromLead(e *model.EstablishmentEntity, lead model.SearchResult) {
	e.Name = lead.Name
	e.Address = lead.Address
	e.Position = lead.Position
	e.Naf = model.Naf{Code: lead.Naf, Nomenclature: "NAFRev2"}
	e.NumberEmployeesRange = lead.NumberOfEmployeeRange
}

// searchRome is the rome the job board is queried with: the search's own
// rome, else the rome of its first appellation code. Empty when neither
// exists.
func searchRome(ctx context.Context, uow *repository.UnitOfWork, search model.SearchMadeEntity) (string, error) {
	if search.RomeCode != "" {
		return search.RomeCode, nil
	}
	if len(search.AppellationCodes) == 0 {
		return "", nil
	}
	code := search.AppellationCodes[0]
	dtos, err := uow.Romes.GetAppellationAndRomeDtosFromAppellationCodes(ctx, []string{code})
	if err != nil {
		return "", err
	}
	romes, err := repository.RomeCodesOf([]string{code}, dtos)
	if err != nil {
		return "", err
	}
	return romes[0], nil
}
