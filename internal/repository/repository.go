// Package repository declares the persistence contracts of the service and
// the unit of work that groups them. Implementations live in the pg and
// inmemory subpackages.
package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// MaxNotCheckedAtInseeResults caps GetSiretsOfEstablishmentsNotCheckedAtInseeSince.
const MaxNotCheckedAtInseeResults = 1000

// SearchImmersionParams are the inputs of the geospatial search index.
type SearchImmersionParams struct {
	SearchMade model.SearchMade
	MaxResults int
}

// SearchIndex answers proximity searches over establishment offers.
// Rows of non-searchable establishments are returned too, flagged.
type SearchIndex interface {
	SearchImmersionResults(ctx context.Context, params SearchImmersionParams) ([]model.RepositorySearchResult, error)
	GetSearchResultBySiretAndAppellationCode(ctx context.Context, siret, appellationCode string) (*model.SearchResult, error)
}

// EstablishmentPatch is a targeted update of establishment columns; nil
// fields are left untouched.
type EstablishmentPatch struct {
	Siret                string
	UpdatedAt            time.Time
	IsOpen               *bool
	IsSearchable         *bool
	Name                 *string
	Naf                  *model.Naf
	NumberEmployeesRange *string
	LastInseeCheckDate   *time.Time
}

// EstablishmentAggregateRepository is the aggregate store.
type EstablishmentAggregateRepository interface {
	SearchIndex

	// InsertEstablishmentAggregates inserts aggregates. On siret conflict only
	// name, address, employee range, naf, disabled-worker flag and weekly cap
	// are updated, the contact is replaced and offers already stored are kept.
	InsertEstablishmentAggregates(ctx context.Context, aggregates []model.EstablishmentAggregate) error
	// UpdateEstablishmentAggregate diff-patches offers, establishment and
	// contact against the stored aggregate.
	UpdateEstablishmentAggregate(ctx context.Context, updated model.EstablishmentAggregate, updatedAt time.Time) error
	// GetEstablishmentAggregateBySiret returns nil when absent.
	GetEstablishmentAggregateBySiret(ctx context.Context, siret string) (*model.EstablishmentAggregate, error)
	Delete(ctx context.Context, siret string) error
	HasEstablishmentWithSiret(ctx context.Context, siret string) (bool, error)
	UpdateEstablishment(ctx context.Context, patch EstablishmentPatch) error

	GetSiretsOfEstablishmentsWithRomeCode(ctx context.Context, romeCode string) ([]string, error)
	GetSiretOfEstablishmentsToSuggestUpdate(ctx context.Context, before time.Time) ([]string, error)
	GetSiretsOfEstablishmentsNotCheckedAtInseeSince(ctx context.Context, checkDate time.Time, maxResults int) ([]string, error)

	// MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek
	// re-enables searchability of capped establishments whose discussions
	// since `since` dropped under their weekly cap. Returns the count.
	MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek(ctx context.Context, since time.Time) (int, error)
}

// SearchMadeRepository is the append-only search analytics sink.
type SearchMadeRepository interface {
	InsertSearchMade(ctx context.Context, search model.SearchMadeEntity) error
	RetrievePendingSearches(ctx context.Context, limit int) ([]model.SearchMadeEntity, error)
	MarkSearchAsProcessed(ctx context.Context, id string) error
}

// DeletedEstablishmentRepository stores tombstones of removed establishments.
type DeletedEstablishmentRepository interface {
	Save(ctx context.Context, deleted model.DeletedEstablishment) error
	AreSiretsDeleted(ctx context.Context, sirets []string) (map[string]bool, error)
}

// GroupRepository maintains the establishment group listings.
type GroupRepository interface {
	RemoveSiretFromGroups(ctx context.Context, siret string) error
}

// UpdateSuggestionRepository records the update links sent to establishments.
type UpdateSuggestionRepository interface {
	Save(ctx context.Context, siret string, suggestedAt time.Time) error
}

// RomeRepository is the appellation / rome reference data lookup.
type RomeRepository interface {
	GetAppellationAndRomeDtosFromAppellationCodes(ctx context.Context, codes []string) ([]model.AppellationAndRome, error)
}

// UnitOfWork groups the repositories bound to one transaction.
type UnitOfWork struct {
	Establishments    EstablishmentAggregateRepository
	SearchesMade      SearchMadeRepository
	Deleted           DeletedEstablishmentRepository
	Groups            GroupRepository
	UpdateSuggestions UpdateSuggestionRepository
	Romes             RomeRepository
}

// Performer runs fn inside a unit of work. Returning an error rolls the
// unit back.
type Performer interface {
	Perform(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error
}

// RomeCodesOf maps appellation codes to their distinct rome codes, in order.
// A code missing from dtos is a reference data integrity failure.
func RomeCodesOf(appellationCodes []string, dtos []model.AppellationAndRome) ([]string, error) {
	byCode := make(map[string]string, len(dtos))
	for _, d := range dtos {
		byCode[d.AppellationCode] = d.RomeCode
	}
	romes := make([]string, 0, len(appellationCodes))
	for _, code := range appellationCodes {
		rome, ok := byCode[code]
		if !ok || rome == "" {
			return nil, fmt.Errorf("no rome code found for appellation code %s", code)
		}
		if !slices.Contains(romes, rome) {
			romes = append(romes, rome)
		}
	}
	return romes, nil
}
