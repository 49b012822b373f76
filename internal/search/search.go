// Package search implements the immersion search: the internal geospatial
// index merged with the external job-board leads.
package search

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// MaxInternalResults is the number of rows asked from the search index.
const MaxInternalResults = 100

// CompanySearcher is the external job-board gateway.
type CompanySearcher interface {
	SearchCompanies(ctx context.Context, query model.CompanySearchQuery) ([]model.SearchResult, error)
}

// Params are the inputs of one search request.
type Params struct {
	DistanceKm                float64
	Latitude                  float64
	Longitude                 float64
	Place                     string
	AppellationCodes          []string
	SortedBy                  model.SortBy
	VoluntaryToImmersion      *bool
	RomeCode                  string
	EstablishmentSearchableBy model.SearchableByFilter
}

// APIConsumer identifies an authenticated caller of the public API.
type APIConsumer struct {
	ID   string
	Name string
}

// SearchImmersion merges the search index and the job-board gateway results.
type SearchImmersion struct {
	performer      repository.Performer
	gateway        CompanySearcher
	clock          model.Clock
	ids            model.IDGenerator
	gatewayTimeout time.Duration
	logger         *zap.Logger
}

// NewSearchImmersion returns a SearchImmersion. A zero gatewayTimeout leaves
// the job-board call bounded by the request context only.
func NewSearchImmersion(
	performer repository.Performer,
	gateway CompanySearcher,
	clock model.Clock,
	ids model.IDGenerator,
	gatewayTimeout time.Duration,
	logger *zap.Logger,
) *SearchImmersion {
	return &SearchImmersion{
		performer:      performer,
		gateway:        gateway,
		clock:          clock,
		ids:            ids,
		gatewayTimeout: gatewayTimeout,
		logger:         logger,
	}
}

// Execute runs one search and records it as a SearchMade.
func (s *SearchImmersion) Execute(ctx context.Context, params Params, consumer *APIConsumer) ([]model.SearchResult, error) {
	searchMade := model.SearchMade{
		Lat:                       params.Latitude,
		Lon:                       params.Longitude,
		DistanceKm:                params.DistanceKm,
		Place:                     params.Place,
		RomeCode:                  params.RomeCode,
		AppellationCodes:          params.AppellationCodes,
		SortedBy:                  params.SortedBy,
		VoluntaryToImmersion:      params.VoluntaryToImmersion,
		EstablishmentSearchableBy: params.EstablishmentSearchableBy,
	}
	includeInternal := params.VoluntaryToImmersion == nil || *params.VoluntaryToImmersion
	queryExternal := (params.VoluntaryToImmersion == nil || !*params.VoluntaryToImmersion) && len(params.AppellationCodes) > 0

	var gatewayRome string
	if queryExternal {
		err := s.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
			gatewayRome = s.gatewayRome(ctx, uow, params.AppellationCodes[0])
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// A slow job board must not hold a database connection: the gateway
	// call stays outside any unit of work.
	var (
		internal []model.RepositorySearchResult
		external []model.SearchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.performer.Perform(gctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
			var err error
			internal, err = uow.Establishments.SearchImmersionResults(ctx, repository.SearchImmersionParams{
				SearchMade: searchMade,
				MaxResults: MaxInternalResults,
			})
			return err
		})
	})
	if gatewayRome != "" {
		g.Go(func() error {
			external = s.searchExternal(gctx, model.CompanySearchQuery{
				Rome:       gatewayRome,
				Lat:        params.Latitude,
				Lon:        params.Longitude,
				DistanceKm: params.DistanceKm,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entity := model.SearchMadeEntity{
		SearchMade:        searchMade,
		ID:                s.ids.NewID(),
		NeedsToBeSearched: true,
		NumberOfResults:   len(external),
		CreatedAt:         s.clock.Now(),
	}
	if includeInternal {
		entity.NumberOfResults = len(internal)
	}
	if consumer != nil {
		entity.APIConsumerName = consumer.Name
	}

	var results []model.SearchResult
	err := s.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		if err := uow.SearchesMade.InsertSearchMade(ctx, entity); err != nil {
			return err
		}

		externalSirets := make([]string, 0, len(external))
		for _, r := range external {
			externalSirets = append(externalSirets, r.Siret)
		}
		deleted, err := uow.Deleted.AreSiretsDeleted(ctx, externalSirets)
		if err != nil {
			return err
		}

		results = merge(internal, external, deleted, includeInternal, s.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// gatewayRome resolves the rome of the first appellation code. Failures only
// disable the external search.
func (s *SearchImmersion) gatewayRome(ctx context.Context, uow *repository.UnitOfWork, appellationCode string) string {
	dtos, err := uow.Romes.GetAppellationAndRomeDtosFromAppellationCodes(ctx, []string{appellationCode})
	if err == nil {
		var romes []string
		romes, err = repository.RomeCodesOf([]string{appellationCode}, dtos)
		if err == nil {
			return romes[0]
		}
	}
	s.logger.Warn("external search skipped", zap.String("appellation_code", appellationCode), zap.Error(err))
	return ""
}

func (s *SearchImmersion) searchExternal(ctx context.Context, query model.CompanySearchQuery) []model.SearchResult {
	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}
	results, err := s.gateway.SearchCompanies(ctx, query)
	if err != nil {
		s.logger.Warn("job board search failed", zap.String("rome", query.Rome), zap.Error(err))
		return nil
	}
	return results
}

// merge assembles the response: internal results first, then the external
// leads whose siret is neither known internally nor deleted. Any siret of a
// non searchable or not yet available internal establishment is dropped from
// both sources.
func merge(internal []model.RepositorySearchResult, external []model.SearchResult, deleted map[string]bool, includeInternal bool, now time.Time) []model.SearchResult {
	internalSirets := make(map[string]bool, len(internal))
	hidden := make(map[string]bool)
	for _, r := range internal {
		internalSirets[r.Siret] = true
		if !r.IsSearchable || (r.NextAvailabilityDate != nil && r.NextAvailabilityDate.After(now)) {
			hidden[r.Siret] = true
		}
	}

	out := make([]model.SearchResult, 0, len(internal)+len(external))
	if includeInternal {
		for _, r := range internal {
			if !hidden[r.Siret] {
				out = append(out, r.SearchResult)
			}
		}
	}
	for _, r := range external {
		if internalSirets[r.Siret] || deleted[r.Siret] || hidden[r.Siret] {
			continue
		}
		out = append(out, r)
	}
	return out
}
