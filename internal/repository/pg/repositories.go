package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// SearchMadeRepository writes searches_made and its appellation codes.
type SearchMadeRepository struct{ db DBTX }

// NewSearchMadeRepository returns a SearchMadeRepository on db.
func NewSearchMadeRepository(db DBTX) *SearchMadeRepository { return &SearchMadeRepository{db: db} }

// InsertSearchMade stores the search and its appellation codes.
func (r *SearchMadeRepository) InsertSearchMade(ctx context.Context, s model.SearchMadeEntity) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("searches_made")
	ib.Cols("id", "lat", "lon", "distance", "gps", "rome", "place", "sorted_by",
		"voluntary_to_immersion", "establishment_searchable_by", "api_consumer_name",
		"number_of_results", "needstobesearched", "update_date")
	ib.Values(s.ID, s.Lat, s.Lon, s.DistanceKm, gpsValue(model.GeoPosition{Lat: s.Lat, Lon: s.Lon}),
		nullIfEmpty(s.RomeCode), nullIfEmpty(s.Place), nullIfEmpty(string(s.SortedBy)),
		s.VoluntaryToImmersion, nullIfEmpty(string(s.EstablishmentSearchableBy)), nullIfEmpty(s.APIConsumerName),
		s.NumberOfResults, s.NeedsToBeSearched, s.CreatedAt)
	query, args := ib.Build()
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert search made %s: %w", s.ID, err)
	}

	if len(s.AppellationCodes) == 0 {
		return nil
	}
	codes := sqlbuilder.PostgreSQL.NewInsertBuilder()
	codes.InsertInto("searches_made__appellation_code")
	codes.Cols("search_made_id", "appellation_code")
	for _, code := range s.AppellationCodes {
		codes.Values(s.ID, code)
	}
	query, args = codes.Build()
	query += " ON CONFLICT DO NOTHING"
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert appellation codes of search made %s: %w", s.ID, err)
	}
	return nil
}

// RetrievePendingSearches returns the oldest searches still to be crawled.
func (r *SearchMadeRepository) RetrievePendingSearches(ctx context.Context, limit int) ([]model.SearchMadeEntity, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("sm.id", "sm.lat", "sm.lon", "sm.distance",
		"COALESCE(sm.rome, '')", "COALESCE(sm.place, '')", "COALESCE(sm.sorted_by, '')",
		"sm.voluntary_to_immersion", "COALESCE(sm.establishment_searchable_by, '')", "COALESCE(sm.api_consumer_name, '')",
		"sm.number_of_results", "sm.needstobesearched", "sm.update_date",
		"COALESCE(ARRAY(SELECT appellation_code FROM searches_made__appellation_code smac WHERE smac.search_made_id = sm.id ORDER BY appellation_code), '{}')")
	sb.From("searches_made sm")
	sb.Where("sm.needstobesearched")
	sb.OrderBy("sm.update_date")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve pending searches: %w", err)
	}
	searches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SearchMadeEntity, error) {
		var (
			s                    model.SearchMadeEntity
			sortedBy, searchable string
		)
		err := row.Scan(&s.ID, &s.Lat, &s.Lon, &s.DistanceKm,
			&s.RomeCode, &s.Place, &sortedBy,
			&s.VoluntaryToImmersion, &searchable, &s.APIConsumerName,
			&s.NumberOfResults, &s.NeedsToBeSearched, &s.CreatedAt, &s.AppellationCodes)
		s.SortedBy = model.SortBy(sortedBy)
		s.EstablishmentSearchableBy = model.SearchableByFilter(searchable)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending searches: %w", err)
	}
	return searches, nil
}

// MarkSearchAsProcessed clears the needstobesearched flag.
func (r *SearchMadeRepository) MarkSearchAsProcessed(ctx context.Context, id string) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("searches_made")
	ub.Set(ub.Assign("needstobesearched", false))
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark search %s as processed: %w", id, err)
	}
	return nil
}

// DeletedEstablishmentRepository writes establishments_deleted.
type DeletedEstablishmentRepository struct{ db DBTX }

// NewDeletedEstablishmentRepository returns a DeletedEstablishmentRepository on db.
func NewDeletedEstablishmentRepository(db DBTX) *DeletedEstablishmentRepository {
	return &DeletedEstablishmentRepository{db: db}
}

// Save upserts the tombstone of a siret.
func (r *DeletedEstablishmentRepository) Save(ctx context.Context, d model.DeletedEstablishment) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("establishments_deleted")
	ib.Cols("siret", "created_at", "deleted_at")
	ib.Values(d.Siret, d.CreatedAt, d.DeletedAt)
	query, args := ib.Build()
	query += " ON CONFLICT (siret) DO UPDATE SET created_at = EXCLUDED.created_at, deleted_at = EXCLUDED.deleted_at"
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save deleted establishment %s: %w", d.Siret, err)
	}
	return nil
}

// AreSiretsDeleted reports, for every given siret, whether it is tombstoned.
func (r *DeletedEstablishmentRepository) AreSiretsDeleted(ctx context.Context, sirets []string) (map[string]bool, error) {
	out := make(map[string]bool, len(sirets))
	if len(sirets) == 0 {
		return out, nil
	}
	for _, s := range sirets {
		out[s] = false
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("siret")
	sb.From("establishments_deleted")
	sb.Where(sb.In("siret", sqlbuilder.Flatten(sirets)...))
	query, args := sb.Build()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select deleted sirets: %w", err)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan deleted sirets: %w", err)
	}
	for _, s := range deleted {
		out[s] = true
	}
	return out, nil
}

// GroupRepository maintains groups__sirets.
type GroupRepository struct{ db DBTX }

// NewGroupRepository returns a GroupRepository on db.
func NewGroupRepository(db DBTX) *GroupRepository { return &GroupRepository{db: db} }

// RemoveSiretFromGroups drops siret from every group.
func (r *GroupRepository) RemoveSiretFromGroups(ctx context.Context, siret string) error {
	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("groups__sirets")
	db.Where(db.Equal("siret", siret))
	query, args := db.Build()
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("remove %s from groups: %w", siret, err)
	}
	return nil
}

// UpdateSuggestionRepository writes establishment_update_suggestions.
type UpdateSuggestionRepository struct{ db DBTX }

// NewUpdateSuggestionRepository returns an UpdateSuggestionRepository on db.
func NewUpdateSuggestionRepository(db DBTX) *UpdateSuggestionRepository {
	return &UpdateSuggestionRepository{db: db}
}

// Save records the last time an update was suggested to siret.
func (r *UpdateSuggestionRepository) Save(ctx context.Context, siret string, suggestedAt time.Time) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("establishment_update_suggestions")
	ib.Cols("siret", "suggested_at")
	ib.Values(siret, suggestedAt)
	query, args := ib.Build()
	query += " ON CONFLICT (siret) DO UPDATE SET suggested_at = EXCLUDED.suggested_at"
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save update suggestion %s: %w", siret, err)
	}
	return nil
}

// RomeRepository reads the appellation and rome reference tables.
type RomeRepository struct{ db DBTX }

// NewRomeRepository returns a RomeRepository on db.
func NewRomeRepository(db DBTX) *RomeRepository { return &RomeRepository{db: db} }

// GetAppellationAndRomeDtosFromAppellationCodes returns the known codes among codes with their labels.
func (r *RomeRepository) GetAppellationAndRomeDtosFromAppellationCodes(ctx context.Context, codes []string) ([]model.AppellationAndRome, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("pad.ogr_appellation", "pad.libelle_appellation_long", "pad.code_rome", "prd.libelle_rome")
	sb.From("public_appellations_data pad")
	sb.Join("public_romes_data prd", "prd.code_rome = pad.code_rome")
	sb.Where(sb.In("pad.ogr_appellation", sqlbuilder.Flatten(codes)...))
	sb.OrderBy("pad.ogr_appellation")
	query, args := sb.Build()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select appellations: %w", err)
	}
	dtos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AppellationAndRome, error) {
		var d model.AppellationAndRome
		err := row.Scan(&d.AppellationCode, &d.AppellationLabel, &d.RomeCode, &d.RomeLabel)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan appellations: %w", err)
	}
	return dtos, nil
}

// DiscussionRepository writes discussions. Discussion creation itself is
// owned by another service; this feeds the searchability counts.
type DiscussionRepository struct{ db DBTX }

// NewDiscussionRepository returns a DiscussionRepository on db.
func NewDiscussionRepository(db DBTX) *DiscussionRepository { return &DiscussionRepository{db: db} }

// Insert stores one discussion.
func (r *DiscussionRepository) Insert(ctx context.Context, d model.Discussion) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("discussions")
	ib.Cols("id", "siret", "appellation_code", "created_at")
	ib.Values(d.ID, d.Siret, d.AppellationCode, d.CreatedAt)
	query, args := ib.Build()
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert discussion %s: %w", d.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
