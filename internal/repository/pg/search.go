package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// searchResultColumns projects one (establishment, rome) group. It expects
// the aliases e (establishments), mo (grouped offers) and a distance_m column.
const searchResultColumns = `
	mo.rome_code,
	COALESCE(prd.libelle_rome, ''),
	mo.appellations,
	e.naf_code,
	COALESCE(naf.class_label, ''),
	e.siret,
	e.name,
	e.customized_name,
	e.source_provider = 'form',
	e.lat,
	e.lon,
	e.number_employees,
	e.street_number_and_address,
	e.post_code,
	e.department_code,
	e.city,
	COALESCE(c.contact_mode, ''),
	e.distance_m,
	e.fit_for_disabled_workers,
	e.website,
	e.additional_information,
	e.next_availability_date,
	e.is_searchable`

const groupedOffers = `
	SELECT
		io.siret,
		io.rome_code,
		MAX(io.created_at) AS max_created_at,
		COALESCE(
			JSON_AGG(
				JSON_BUILD_OBJECT('appellationCode', io.appellation_code, 'appellationLabel', COALESCE(pad.libelle_appellation_long, ''))
				ORDER BY io.appellation_code
			) FILTER (WHERE io.appellation_code <> ''),
			'[]'::json
		) AS appellations
	FROM immersion_offers io
	LEFT JOIN public_appellations_data pad ON pad.ogr_appellation = io.appellation_code`

const searchJoins = `
	LEFT JOIN public_romes_data prd ON prd.code_rome = mo.rome_code
	LEFT JOIN public_naf_classes_2008 naf ON naf.naf_code = e.naf_code
	LEFT JOIN LATERAL (
		SELECT ic.contact_mode
		FROM establishments__immersion_contacts eic
		JOIN immersion_contacts ic ON ic.uuid = eic.contact_uuid
		WHERE eic.establishment_siret = e.siret
		LIMIT 1
	) c ON TRUE`

const searchImmersionResultsQuery = `
WITH matching_offers AS (` + groupedOffers + `
	WHERE cardinality(@rome_codes::text[]) = 0 OR io.rome_code = ANY(@rome_codes::text[])
	GROUP BY io.siret, io.rome_code
),
nearby AS (
	SELECT est.*, ST_Distance(est.gps, ST_SetSRID(ST_MakePoint(@lon::float8, @lat::float8), 4326)::geography) AS distance_m
	FROM establishments est
	WHERE est.is_open
	  AND ST_DWithin(est.gps, ST_SetSRID(ST_MakePoint(@lon::float8, @lat::float8), 4326)::geography, @radius_m::float8)
	  AND (
		@searchable_by::text = ''
		OR (@searchable_by::text = 'students' AND est.searchable_by_students)
		OR (@searchable_by::text = 'jobSeekers' AND est.searchable_by_job_seekers)
	  )
)
SELECT` + searchResultColumns + `
FROM nearby e
JOIN matching_offers mo ON mo.siret = e.siret` + searchJoins + `
ORDER BY %s
LIMIT @max_results`

const searchResultBySiretAndAppellationQuery = `
WITH matching_offers AS (` + groupedOffers + `
	WHERE io.siret = @siret AND io.appellation_code = @appellation_code
	GROUP BY io.siret, io.rome_code
)
SELECT` + searchResultColumns + `
FROM (SELECT est.*, 0::float8 AS distance_m FROM establishments est WHERE est.siret = @siret) e
JOIN matching_offers mo ON mo.siret = e.siret` + searchJoins + `
LIMIT 1`

func orderClause(sortedBy model.SortBy) string {
	switch sortedBy {
	case model.SortByDistance:
		return "e.distance_m ASC, RANDOM()"
	case model.SortByDate:
		return "mo.max_created_at DESC, RANDOM()"
	}
	return "RANDOM()"
}

// SearchImmersionResults runs the geospatial query, one row per (siret, rome).
func (r *EstablishmentAggregateRepository) SearchImmersionResults(ctx context.Context, params repository.SearchImmersionParams) ([]model.RepositorySearchResult, error) {
	sm := params.SearchMade
	romeCodes, err := r.resolveRomeCodes(ctx, sm)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(searchImmersionResultsQuery, orderClause(sm.SortedBy))
	rows, err := r.db.Query(ctx, query, pgx.NamedArgs{
		"rome_codes":    romeCodes,
		"lat":           sm.Lat,
		"lon":           sm.Lon,
		"radius_m":      sm.DistanceKm * 1000,
		"searchable_by": string(sm.EstablishmentSearchableBy),
		"max_results":   params.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("search immersion results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RepositorySearchResult, error) {
		return scanSearchResult(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan search results: %w", err)
	}
	return results, nil
}

// GetSearchResultBySiretAndAppellationCode returns nil when the siret has no such offer.
func (r *EstablishmentAggregateRepository) GetSearchResultBySiretAndAppellationCode(ctx context.Context, siret, appellationCode string) (*model.SearchResult, error) {
	row := r.db.QueryRow(ctx, searchResultBySiretAndAppellationQuery, pgx.NamedArgs{
		"siret":            siret,
		"appellation_code": appellationCode,
	})
	res, err := scanSearchResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get search result %s/%s: %w", siret, appellationCode, err)
	}
	return &res.SearchResult, nil
}

func (r *EstablishmentAggregateRepository) resolveRomeCodes(ctx context.Context, sm model.SearchMade) ([]string, error) {
	if sm.RomeCode != "" {
		return []string{sm.RomeCode}, nil
	}
	if len(sm.AppellationCodes) == 0 {
		return []string{}, nil
	}
	dtos, err := NewRomeRepository(r.db).GetAppellationAndRomeDtosFromAppellationCodes(ctx, sm.AppellationCodes)
	if err != nil {
		return nil, err
	}
	return repository.RomeCodesOf(sm.AppellationCodes, dtos)
}

func scanSearchResult(row pgx.Row) (model.RepositorySearchResult, error) {
	var (
		res         model.RepositorySearchResult
		contactMode string
		nextDate    *time.Time
	)
	err := row.Scan(
		&res.Rome, &res.RomeLabel, &res.Appellations,
		&res.Naf, &res.NafLabel,
		&res.Siret, &res.Name, &res.CustomizedName, &res.VoluntaryToImmersion,
		&res.Position.Lat, &res.Position.Lon,
		&res.NumberOfEmployeeRange,
		&res.Address.StreetNumberAndAddress, &res.Address.Postcode, &res.Address.DepartmentCode, &res.Address.City,
		&contactMode, &res.DistanceM,
		&res.FitForDisabledWorkers, &res.Website, &res.AdditionalInformation,
		&nextDate, &res.IsSearchable,
	)
	res.ContactMode = model.ContactMethod(contactMode)
	res.NextAvailabilityDate = nextDate
	return res, err
}
