// Package inmemory implements the repository contracts on process memory.
// It backs the IN_MEMORY repositories mode and the unit tests.
package inmemory

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/tidwall/rtree"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// EstablishmentAggregateRepository stores aggregates in a map and indexes
// establishment positions in an R-tree.
type EstablishmentAggregateRepository struct {
	mu         sync.RWMutex
	aggregates map[string]*model.EstablishmentAggregate
	order      []string
	index      rtree.RTreeG[string]

	romes       *RomeRepository
	discussions *DiscussionRepository
	suggestions *UpdateSuggestionRepository
}

var _ repository.EstablishmentAggregateRepository = (*EstablishmentAggregateRepository)(nil)

// NewEstablishmentAggregateRepository returns an empty repository reading labels and discussions from the given stores.
func NewEstablishmentAggregateRepository(romes *RomeRepository, discussions *DiscussionRepository, suggestions *UpdateSuggestionRepository) *EstablishmentAggregateRepository {
	return &EstablishmentAggregateRepository{
		aggregates:  make(map[string]*model.EstablishmentAggregate),
		romes:       romes,
		discussions: discussions,
		suggestions: suggestions,
	}
}

// InsertEstablishmentAggregates implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) InsertEstablishmentAggregates(_ context.Context, aggregates []model.EstablishmentAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, agg := range aggregates {
		e := agg.Establishment
		stored, exists := r.aggregates[e.Siret]
		if !exists {
			cp := cloneAggregate(agg)
			cp.Offers = nil
			stored = &cp
			r.aggregates[e.Siret] = stored
			r.order = append(r.order, e.Siret)
			r.index.Insert(point(e.Position), point(e.Position), e.Siret)
		} else {
			s := &stored.Establishment
			s.Name = e.Name
			s.Address = e.Address
			s.NumberEmployeesRange = e.NumberEmployeesRange
			s.Naf = e.Naf
			s.FitForDisabledWorkers = e.FitForDisabledWorkers
			s.MaxContactsPerWeek = e.MaxContactsPerWeek
			if agg.Contact != nil {
				c := cloneContact(*agg.Contact)
				stored.Contact = &c
			}
		}

		for _, o := range agg.Offers {
			if !slices.ContainsFunc(stored.Offers, func(s model.OfferEntity) bool { return s.Key() == o.Key() }) {
				stored.Offers = append(stored.Offers, o)
			}
		}
	}
	return nil
}

// UpdateEstablishmentAggregate implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) UpdateEstablishmentAggregate(_ context.Context, updated model.EstablishmentAggregate, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	siret := updated.Establishment.Siret
	stored, ok := r.aggregates[siret]
	if !ok {
		return repository.EstablishmentNotFound(siret)
	}

	toAdd, toRemove := model.OffersDiff(stored.Offers, updated.Offers)
	stored.Offers = slices.DeleteFunc(stored.Offers, func(o model.OfferEntity) bool {
		return slices.ContainsFunc(toRemove, func(rm model.OfferEntity) bool { return rm.Key() == o.Key() })
	})
	stored.Offers = append(stored.Offers, toAdd...)

	if !model.EstablishmentsEqual(stored.Establishment, updated.Establishment) {
		if stored.Establishment.Position != updated.Establishment.Position {
			old := stored.Establishment.Position
			r.index.Delete(point(old), point(old), siret)
			r.index.Insert(point(updated.Establishment.Position), point(updated.Establishment.Position), siret)
		}
		stored.Establishment = cloneAggregate(model.EstablishmentAggregate{Establishment: updated.Establishment}).Establishment
		stored.Establishment.UpdatedAt = updatedAt
	}

	switch {
	case updated.Contact == nil:
	case stored.Contact == nil:
		c := cloneContact(*updated.Contact)
		stored.Contact = &c
	case !model.ContactsEqual(*stored.Contact, *updated.Contact):
		c := cloneContact(*updated.Contact)
		c.ID = stored.Contact.ID
		stored.Contact = &c
	}
	return nil
}

// GetEstablishmentAggregateBySiret returns a copy of the stored aggregate.
func (r *EstablishmentAggregateRepository) GetEstablishmentAggregateBySiret(_ context.Context, siret string) (*model.EstablishmentAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.aggregates[siret]
	if !ok {
		return nil, nil
	}
	cp := cloneAggregate(*stored)
	model.SortOffers(cp.Offers)
	return &cp, nil
}

// Delete implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) Delete(_ context.Context, siret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.aggregates[siret]
	if !ok {
		return repository.EstablishmentNotFound(siret)
	}
	pos := stored.Establishment.Position
	r.index.Delete(point(pos), point(pos), siret)
	delete(r.aggregates, siret)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == siret })
	return nil
}

// HasEstablishmentWithSiret implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) HasEstablishmentWithSiret(_ context.Context, siret string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.aggregates[siret]
	return ok, nil
}

// UpdateEstablishment implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) UpdateEstablishment(_ context.Context, patch repository.EstablishmentPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.aggregates[patch.Siret]
	if !ok {
		return repository.EstablishmentNotFound(patch.Siret)
	}
	e := &stored.Establishment
	if !patch.UpdatedAt.IsZero() {
		e.UpdatedAt = patch.UpdatedAt
	}
	if patch.IsOpen != nil {
		e.IsOpen = *patch.IsOpen
	}
	if patch.IsSearchable != nil {
		e.IsSearchable = *patch.IsSearchable
	}
	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.Naf != nil {
		e.Naf = *patch.Naf
	}
	if patch.NumberEmployeesRange != nil {
		e.NumberEmployeesRange = *patch.NumberEmployeesRange
	}
	if patch.LastInseeCheckDate != nil {
		d := *patch.LastInseeCheckDate
		e.LastInseeCheckDate = &d
	}
	return nil
}

// GetSiretsOfEstablishmentsWithRomeCode implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) GetSiretsOfEstablishmentsWithRomeCode(_ context.Context, romeCode string) ([]string, error) {
	return r.selectSirets(func(a *model.EstablishmentAggregate) bool { return a.HasRomeCode(romeCode) }), nil
}

// GetSiretOfEstablishmentsToSuggestUpdate implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) GetSiretOfEstablishmentsToSuggestUpdate(_ context.Context, before time.Time) ([]string, error) {
	return r.selectSirets(func(a *model.EstablishmentAggregate) bool {
		e := a.Establishment
		if e.SourceProvider != model.SourceForm || !e.UpdatedAt.Before(before) {
			return false
		}
		return r.suggestions == nil || !r.suggestions.suggestedSince(e.Siret, before)
	}), nil
}

// GetSiretsOfEstablishmentsNotCheckedAtInseeSince implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) GetSiretsOfEstablishmentsNotCheckedAtInseeSince(_ context.Context, checkDate time.Time, maxResults int) ([]string, error) {
	if maxResults > repository.MaxNotCheckedAtInseeResults {
		return nil, &repository.BadRequestError{
			Message: fmt.Sprintf("maxResults must be <= %d, got %d", repository.MaxNotCheckedAtInseeResults, maxResults),
		}
	}
	sirets := r.selectSirets(func(a *model.EstablishmentAggregate) bool {
		d := a.Establishment.LastInseeCheckDate
		return d == nil || d.Before(checkDate)
	})
	if maxResults >= 0 && len(sirets) > maxResults {
		sirets = sirets[:maxResults]
	}
	return sirets, nil
}

// MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek(_ context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, siret := range r.order {
		e := &r.aggregates[siret].Establishment
		if e.IsSearchable || e.MaxContactsPerWeek <= 0 {
			continue
		}
		if r.discussions != nil && r.discussions.countSince(siret, since) >= e.MaxContactsPerWeek {
			continue
		}
		e.IsSearchable = true
		n++
	}
	return n, nil
}

// SearchImmersionResults queries the R-tree then measures geodesic distances.
func (r *EstablishmentAggregateRepository) SearchImmersionResults(ctx context.Context, params repository.SearchImmersionParams) ([]model.RepositorySearchResult, error) {
	sm := params.SearchMade
	romeCodes, err := r.resolveRomeCodes(ctx, sm)
	if err != nil {
		return nil, err
	}

	center := model.GeoPosition{Lat: sm.Lat, Lon: sm.Lon}
	radiusM := sm.DistanceKm * 1000

	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make(map[string]bool)
	lo, hi := boundingBox(center, radiusM)
	r.index.Search(lo, hi, func(_, _ [2]float64, siret string) bool {
		candidates[siret] = true
		return true
	})

	type row struct {
		result    model.RepositorySearchResult
		lastOffer time.Time
	}
	var rows []row
	for _, siret := range r.order {
		if !candidates[siret] {
			continue
		}
		agg := r.aggregates[siret]
		e := agg.Establishment
		if !e.IsOpen || !matchesSearchableBy(e, sm.EstablishmentSearchableBy) {
			continue
		}
		d := distanceMeters(center, e.Position)
		if d > radiusM {
			continue
		}
		for _, group := range groupOffersByRome(agg.Offers, romeCodes) {
			res := r.toSearchResult(agg, group)
			res.DistanceM = d
			rows = append(rows, row{
				result:    model.RepositorySearchResult{SearchResult: res, IsSearchable: e.IsSearchable},
				lastOffer: latestOffer(group),
			})
		}
	}

	switch sm.SortedBy {
	case model.SortByDistance:
		slices.SortStableFunc(rows, func(a, b row) int { return cmp.Compare(a.result.DistanceM, b.result.DistanceM) })
	case model.SortByDate:
		slices.SortStableFunc(rows, func(a, b row) int { return b.lastOffer.Compare(a.lastOffer) })
	default:
		rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	}

	if params.MaxResults > 0 && len(rows) > params.MaxResults {
		rows = rows[:params.MaxResults]
	}
	out := make([]model.RepositorySearchResult, len(rows))
	for i, rw := range rows {
		out[i] = rw.result
	}
	return out, nil
}

// GetSearchResultBySiretAndAppellationCode implements repository.SearchIndex.
func (r *EstablishmentAggregateRepository) GetSearchResultBySiretAndAppellationCode(_ context.Context, siret, appellationCode string) (*model.SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agg, ok := r.aggregates[siret]
	if !ok {
		return nil, nil
	}
	for _, o := range agg.Offers {
		if o.AppellationCode == appellationCode {
			res := r.toSearchResult(agg, []model.OfferEntity{o})
			return &res, nil
		}
	}
	return nil, nil
}

func (r *EstablishmentAggregateRepository) resolveRomeCodes(ctx context.Context, sm model.SearchMade) ([]string, error) {
	if sm.RomeCode != "" {
		return []string{sm.RomeCode}, nil
	}
	if len(sm.AppellationCodes) == 0 {
		return nil, nil
	}
	dtos, err := r.romes.GetAppellationAndRomeDtosFromAppellationCodes(ctx, sm.AppellationCodes)
	if err != nil {
		return nil, err
	}
	return repository.RomeCodesOf(sm.AppellationCodes, dtos)
}

func (r *EstablishmentAggregateRepository) toSearchResult(agg *model.EstablishmentAggregate, offers []model.OfferEntity) model.SearchResult {
	e := agg.Establishment
	rome := offers[0].RomeCode
	res := model.SearchResult{
		Rome:                  rome,
		RomeLabel:             r.romes.romeLabel(rome),
		Appellations:          []model.AppellationLabel{},
		Naf:                   e.Naf.Code,
		NafLabel:              r.romes.nafLabel(e.Naf.Code),
		Siret:                 e.Siret,
		Name:                  e.Name,
		CustomizedName:        e.CustomizedName,
		VoluntaryToImmersion:  e.SourceProvider == model.SourceForm,
		Position:              e.Position,
		NumberOfEmployeeRange: e.NumberEmployeesRange,
		Address:               e.Address,
		FitForDisabledWorkers: e.FitForDisabledWorkers,
		Website:               e.Website,
		AdditionalInformation: e.AdditionalInformation,
		NextAvailabilityDate:  e.NextAvailabilityDate,
	}
	if agg.Contact != nil {
		res.ContactMode = agg.Contact.ContactMethod
	}
	for _, o := range offers {
		if o.AppellationCode == "" {
			continue
		}
		res.Appellations = append(res.Appellations, model.AppellationLabel{
			AppellationCode:  o.AppellationCode,
			AppellationLabel: r.romes.appellationLabel(o.AppellationCode),
		})
	}
	slices.SortFunc(res.Appellations, func(a, b model.AppellationLabel) int {
		return cmp.Compare(a.AppellationCode, b.AppellationCode)
	})
	return res
}

func (r *EstablishmentAggregateRepository) selectSirets(keep func(*model.EstablishmentAggregate) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sirets := []string{}
	for siret, agg := range r.aggregates {
		if keep(agg) {
			sirets = append(sirets, siret)
		}
	}
	slices.Sort(sirets)
	return sirets
}

func matchesSearchableBy(e model.EstablishmentEntity, filter model.SearchableByFilter) bool {
	switch filter {
	case model.SearchableByStudents:
		return e.SearchableBy.Students
	case model.SearchableByJobSeekers:
		return e.SearchableBy.JobSeekers
	}
	return true
}

// groupOffersByRome keeps offers of the given romes (all offers when romes is
// empty) and groups them by rome, in first-seen order.
func groupOffersByRome(offers []model.OfferEntity, romes []string) [][]model.OfferEntity {
	var keys []string
	groups := make(map[string][]model.OfferEntity)
	for _, o := range offers {
		if len(romes) > 0 && !slices.Contains(romes, o.RomeCode) {
			continue
		}
		if _, seen := groups[o.RomeCode]; !seen {
			keys = append(keys, o.RomeCode)
		}
		groups[o.RomeCode] = append(groups[o.RomeCode], o)
	}
	out := make([][]model.OfferEntity, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

func latestOffer(offers []model.OfferEntity) time.Time {
	var latest time.Time
	for _, o := range offers {
		if o.CreatedAt.After(latest) {
			latest = o.CreatedAt
		}
	}
	return latest
}

func cloneContact(c model.ContactEntity) model.ContactEntity {
	c.CopyEmails = slices.Clone(c.CopyEmails)
	return c
}

func cloneAggregate(a model.EstablishmentAggregate) model.EstablishmentAggregate {
	e := a.Establishment
	if e.LastInseeCheckDate != nil {
		d := *e.LastInseeCheckDate
		e.LastInseeCheckDate = &d
	}
	if e.NextAvailabilityDate != nil {
		d := *e.NextAvailabilityDate
		e.NextAvailabilityDate = &d
	}
	if e.IsCommited != nil {
		b := *e.IsCommited
		e.IsCommited = &b
	}
	out := model.EstablishmentAggregate{Establishment: e, Offers: slices.Clone(a.Offers)}
	if a.Contact != nil {
		c := cloneContact(*a.Contact)
		out.Contact = &c
	}
	return out
}
