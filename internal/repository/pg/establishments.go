package pg

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

var establishmentColumns = []string{
	"siret", "name", "customized_name",
	"street_number_and_address", "post_code", "department_code", "city",
	"lat", "lon", "naf_code", "naf_nomenclature", "number_employees", "source_provider",
	"created_at", "update_date", "last_insee_check_date",
	"is_open", "is_searchable", "is_commited", "fit_for_disabled_workers",
	"website", "additional_information", "max_contacts_per_week", "next_availability_date",
	"searchable_by_students", "searchable_by_job_seekers",
}

// Columns rewritten when an insert hits an existing siret. Searchability and
// activity flags belong to other writers.
var establishmentConflictColumns = []string{
	"name", "street_number_and_address", "post_code", "department_code", "city",
	"number_employees", "naf_code", "naf_nomenclature", "fit_for_disabled_workers", "max_contacts_per_week",
}

var contactColumns = []string{"uuid", "firstname", "lastname", "email", "job", "phone", "contact_mode", "copy_emails"}

// EstablishmentAggregateRepository stores aggregates in the establishments,
// immersion_contacts and immersion_offers tables.
type EstablishmentAggregateRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ repository.EstablishmentAggregateRepository = (*EstablishmentAggregateRepository)(nil)

// NewEstablishmentAggregateRepository returns a repository on db, a pool or a transaction.
func NewEstablishmentAggregateRepository(db DBTX, logger *zap.Logger) *EstablishmentAggregateRepository {
	return &EstablishmentAggregateRepository{db: db, logger: logger}
}

// InsertEstablishmentAggregates implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) InsertEstablishmentAggregates(ctx context.Context, aggregates []model.EstablishmentAggregate) error {
	if len(aggregates) == 0 {
		return nil
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("establishments")
	ib.Cols(append(slices.Clone(establishmentColumns), "gps")...)
	for _, agg := range aggregates {
		ib.Values(append(establishmentValues(agg.Establishment), gpsValue(agg.Establishment.Position))...)
	}
	query, args := ib.Build()
	query += " ON CONFLICT (siret) DO UPDATE SET " + excludedAssignments(establishmentConflictColumns)
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert establishments: %w", err)
	}

	for _, agg := range aggregates {
		siret := agg.Establishment.Siret
		if agg.Contact != nil {
			if err := r.replaceContact(ctx, siret, *agg.Contact); err != nil {
				return err
			}
		}
		if err := r.insertOffers(ctx, siret, agg.Offers); err != nil {
			return err
		}
	}

	r.logger.Debug("establishment aggregates inserted", zap.Int("count", len(aggregates)))
	return nil
}

// UpdateEstablishmentAggregate writes only the offers, columns and contact that changed.
func (r *EstablishmentAggregateRepository) UpdateEstablishmentAggregate(ctx context.Context, updated model.EstablishmentAggregate, updatedAt time.Time) error {
	siret := updated.Establishment.Siret
	existing, err := r.GetEstablishmentAggregateBySiret(ctx, siret)
	if err != nil {
		return err
	}
	if existing == nil {
		return repository.EstablishmentNotFound(siret)
	}

	toAdd, toRemove := model.OffersDiff(existing.Offers, updated.Offers)
	if err := r.deleteOffers(ctx, siret, toRemove); err != nil {
		return err
	}
	if err := r.insertOffers(ctx, siret, toAdd); err != nil {
		return err
	}

	if !model.EstablishmentsEqual(existing.Establishment, updated.Establishment) {
		if err := r.overwriteEstablishment(ctx, updated.Establishment, updatedAt); err != nil {
			return err
		}
	}

	switch {
	case updated.Contact == nil:
	case existing.Contact == nil:
		if err := r.replaceContact(ctx, siret, *updated.Contact); err != nil {
			return err
		}
	case !model.ContactsEqual(*existing.Contact, *updated.Contact):
		if err := r.updateContact(ctx, existing.Contact.ID, *updated.Contact); err != nil {
			return err
		}
	}
	return nil
}

// GetEstablishmentAggregateBySiret returns nil, nil for an unknown siret.
func (r *EstablishmentAggregateRepository) GetEstablishmentAggregateBySiret(ctx context.Context, siret string) (*model.EstablishmentAggregate, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(establishmentColumns...)
	sb.From("establishments")
	sb.Where(sb.Equal("siret", siret))
	query, args := sb.Build()

	e, err := scanEstablishment(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get establishment %s: %w", siret, err)
	}

	contact, err := r.getContact(ctx, siret)
	if err != nil {
		return nil, err
	}
	offers, err := r.getOffers(ctx, siret)
	if err != nil {
		return nil, err
	}
	return &model.EstablishmentAggregate{Establishment: e, Contact: contact, Offers: offers}, nil
}

// Delete removes the establishment with its offers and contact.
func (r *EstablishmentAggregateRepository) Delete(ctx context.Context, siret string) error {
	const deleteContacts = `
		DELETE FROM immersion_contacts
		WHERE uuid IN (SELECT contact_uuid FROM establishments__immersion_contacts WHERE establishment_siret = $1)`
	if _, err := r.db.Exec(ctx, deleteContacts, siret); err != nil {
		return fmt.Errorf("delete contacts of %s: %w", siret, err)
	}

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("establishments")
	db.Where(db.Equal("siret", siret))
	query, args := db.Build()
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete establishment %s: %w", siret, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.EstablishmentNotFound(siret)
	}
	return nil
}

// HasEstablishmentWithSiret implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) HasEstablishmentWithSiret(ctx context.Context, siret string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM establishments WHERE siret = $1)`, siret).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has establishment %s: %w", siret, err)
	}
	return exists, nil
}

// UpdateEstablishment applies the non-nil fields of patch.
func (r *EstablishmentAggregateRepository) UpdateEstablishment(ctx context.Context, patch repository.EstablishmentPatch) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("establishments")

	// siret = siret keeps the statement valid when the patch is empty.
	assignments := []string{ub.Assign("siret", sqlbuilder.Raw("siret"))}
	if !patch.UpdatedAt.IsZero() {
		assignments = append(assignments, ub.Assign("update_date", patch.UpdatedAt))
	}
	if patch.IsOpen != nil {
		assignments = append(assignments, ub.Assign("is_open", *patch.IsOpen))
	}
	if patch.IsSearchable != nil {
		assignments = append(assignments, ub.Assign("is_searchable", *patch.IsSearchable))
	}
	if patch.Name != nil {
		assignments = append(assignments, ub.Assign("name", *patch.Name))
	}
	if patch.Naf != nil {
		assignments = append(assignments,
			ub.Assign("naf_code", patch.Naf.Code),
			ub.Assign("naf_nomenclature", patch.Naf.Nomenclature))
	}
	if patch.NumberEmployeesRange != nil {
		assignments = append(assignments, ub.Assign("number_employees", *patch.NumberEmployeesRange))
	}
	if patch.LastInseeCheckDate != nil {
		assignments = append(assignments, ub.Assign("last_insee_check_date", *patch.LastInseeCheckDate))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("siret", patch.Siret))

	query, args := ub.Build()
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update establishment %s: %w", patch.Siret, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.EstablishmentNotFound(patch.Siret)
	}
	return nil
}

// GetSiretsOfEstablishmentsWithRomeCode implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) GetSiretsOfEstablishmentsWithRomeCode(ctx context.Context, romeCode string) ([]string, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("siret").Distinct()
	sb.From("immersion_offers")
	sb.Where(sb.Equal("rome_code", romeCode))
	sb.OrderBy("siret")
	return r.querySirets(ctx, sb)
}

// GetSiretOfEstablishmentsToSuggestUpdate implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) GetSiretOfEstablishmentsToSuggestUpdate(ctx context.Context, before time.Time) ([]string, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("e.siret")
	sb.From("establishments e")
	sb.Where(
		sb.LessThan("e.update_date", before),
		sb.Equal("e.source_provider", string(model.SourceForm)),
		"NOT EXISTS (SELECT 1 FROM establishment_update_suggestions s WHERE s.siret = e.siret AND s.suggested_at >= "+sb.Var(before)+")",
	)
	sb.OrderBy("e.siret")
	return r.querySirets(ctx, sb)
}

// GetSiretsOfEstablishmentsNotCheckedAtInseeSince implements repository.EstablishmentAggregateRepository.
func (r *EstablishmentAggregateRepository) GetSiretsOfEstablishmentsNotCheckedAtInseeSince(ctx context.Context, checkDate time.Time, maxResults int) ([]string, error) {
	if maxResults > repository.MaxNotCheckedAtInseeResults {
		return nil, &repository.BadRequestError{
			Message: fmt.Sprintf("maxResults must be <= %d, got %d", repository.MaxNotCheckedAtInseeResults, maxResults),
		}
	}
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("siret")
	sb.From("establishments")
	sb.Where(sb.Or(
		sb.IsNull("last_insee_check_date"),
		sb.LessThan("last_insee_check_date", checkDate),
	))
	sb.OrderBy("siret")
	sb.Limit(maxResults)
	return r.querySirets(ctx, sb)
}

// MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek returns the number of rows flipped.
func (r *EstablishmentAggregateRepository) MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek(ctx context.Context, since time.Time) (int, error) {
	const query = `
		UPDATE establishments e
		SET is_searchable = TRUE
		WHERE NOT e.is_searchable
		  AND e.max_contacts_per_week > 0
		  AND (SELECT COUNT(*) FROM discussions d WHERE d.siret = e.siret AND d.created_at >= $1) < e.max_contacts_per_week`
	tag, err := r.db.Exec(ctx, query, since)
	if err != nil {
		return 0, fmt.Errorf("mark establishments searchable: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *EstablishmentAggregateRepository) overwriteEstablishment(ctx context.Context, e model.EstablishmentEntity, updatedAt time.Time) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("establishments")
	values := establishmentValues(e)
	var assignments []string
	for i, col := range establishmentColumns {
		switch col {
		case "siret", "created_at":
			continue
		case "update_date":
			assignments = append(assignments, ub.Assign(col, updatedAt))
		default:
			assignments = append(assignments, ub.Assign(col, values[i]))
		}
	}
	assignments = append(assignments, ub.Assign("gps", gpsValue(e.Position)))
	ub.Set(assignments...)
	ub.Where(ub.Equal("siret", e.Siret))

	query, args := ub.Build()
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("overwrite establishment %s: %w", e.Siret, err)
	}
	return nil
}

// replaceContact makes c the only contact of siret.
func (r *EstablishmentAggregateRepository) replaceContact(ctx context.Context, siret string, c model.ContactEntity) error {
	const dropOthers = `
		DELETE FROM immersion_contacts
		WHERE uuid <> $2
		  AND uuid IN (SELECT contact_uuid FROM establishments__immersion_contacts WHERE establishment_siret = $1)`
	if _, err := r.db.Exec(ctx, dropOthers, siret, c.ID); err != nil {
		return fmt.Errorf("drop previous contacts of %s: %w", siret, err)
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("immersion_contacts")
	ib.Cols(contactColumns...)
	ib.Values(contactValues(c)...)
	query, args := ib.Build()
	query += " ON CONFLICT (uuid) DO UPDATE SET " + excludedAssignments(contactColumns[1:])
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert contact of %s: %w", siret, err)
	}

	link := sqlbuilder.PostgreSQL.NewInsertBuilder()
	link.InsertInto("establishments__immersion_contacts")
	link.Cols("establishment_siret", "contact_uuid")
	link.Values(siret, c.ID)
	query, args = link.Build()
	query += " ON CONFLICT DO NOTHING"
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("link contact of %s: %w", siret, err)
	}
	return nil
}

func (r *EstablishmentAggregateRepository) updateContact(ctx context.Context, id string, c model.ContactEntity) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("immersion_contacts")
	values := contactValues(c)
	assignments := make([]string, 0, len(contactColumns)-1)
	for i, col := range contactColumns[1:] {
		assignments = append(assignments, ub.Assign(col, values[i+1]))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("uuid", id))
	query, args := ub.Build()
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update contact %s: %w", id, err)
	}
	return nil
}

func (r *EstablishmentAggregateRepository) getContact(ctx context.Context, siret string) (*model.ContactEntity, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cols := make([]string, len(contactColumns))
	for i, c := range contactColumns {
		cols[i] = "ic." + c
	}
	sb.Select(cols...)
	sb.From("establishments__immersion_contacts eic")
	sb.Join("immersion_contacts ic", "ic.uuid = eic.contact_uuid")
	sb.Where(sb.Equal("eic.establishment_siret", siret))
	sb.Limit(1)
	query, args := sb.Build()

	var (
		c      model.ContactEntity
		method string
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Job, &c.Phone, &method, &c.CopyEmails)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact of %s: %w", siret, err)
	}
	c.ContactMethod = model.ContactMethod(method)
	return &c, nil
}

func (r *EstablishmentAggregateRepository) getOffers(ctx context.Context, siret string) ([]model.OfferEntity, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("rome_code", "appellation_code", "score", "created_at")
	sb.From("immersion_offers")
	sb.Where(sb.Equal("siret", siret))
	sb.OrderBy("appellation_code", "rome_code")
	query, args := sb.Build()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get offers of %s: %w", siret, err)
	}
	offers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OfferEntity, error) {
		var o model.OfferEntity
		err := row.Scan(&o.RomeCode, &o.AppellationCode, &o.Score, &o.CreatedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan offers of %s: %w", siret, err)
	}
	model.SortOffers(offers)
	return offers, nil
}

func (r *EstablishmentAggregateRepository) insertOffers(ctx context.Context, siret string, offers []model.OfferEntity) error {
	if len(offers) == 0 {
		return nil
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("immersion_offers")
	ib.Cols("siret", "rome_code", "appellation_code", "score", "created_at")
	for _, o := range offers {
		ib.Values(siret, o.RomeCode, o.AppellationCode, o.Score, o.CreatedAt)
	}
	query, args := ib.Build()
	query += " ON CONFLICT ON CONSTRAINT immersion_offers_unique DO NOTHING"
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert offers of %s: %w", siret, err)
	}
	return nil
}

func (r *EstablishmentAggregateRepository) deleteOffers(ctx context.Context, siret string, offers []model.OfferEntity) error {
	for _, o := range offers {
		db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
		db.DeleteFrom("immersion_offers")
		conds := []string{db.Equal("siret", siret), db.Equal("appellation_code", o.AppellationCode)}
		if o.AppellationCode == "" {
			conds = append(conds, db.Equal("rome_code", o.RomeCode))
		}
		db.Where(conds...)
		query, args := db.Build()
		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("delete offer %s of %s: %w", o.Key(), siret, err)
		}
	}
	return nil
}

func (r *EstablishmentAggregateRepository) querySirets(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]string, error) {
	query, args := sb.Build()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sirets: %w", err)
	}
	sirets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan sirets: %w", err)
	}
	return sirets, nil
}

func establishmentValues(e model.EstablishmentEntity) []any {
	return []any{
		e.Siret, e.Name, e.CustomizedName,
		e.Address.StreetNumberAndAddress, e.Address.Postcode, e.Address.DepartmentCode, e.Address.City,
		e.Position.Lat, e.Position.Lon, e.Naf.Code, e.Naf.Nomenclature, e.NumberEmployeesRange, string(e.SourceProvider),
		e.CreatedAt, e.UpdatedAt, e.LastInseeCheckDate,
		e.IsOpen, e.IsSearchable, e.IsCommited, e.FitForDisabledWorkers,
		e.Website, e.AdditionalInformation, e.MaxContactsPerWeek, e.NextAvailabilityDate,
		e.SearchableBy.Students, e.SearchableBy.JobSeekers,
	}
}

func scanEstablishment(row pgx.Row) (model.EstablishmentEntity, error) {
	var (
		e      model.EstablishmentEntity
		source string
	)
	err := row.Scan(
		&e.Siret, &e.Name, &e.CustomizedName,
		&e.Address.StreetNumberAndAddress, &e.Address.Postcode, &e.Address.DepartmentCode, &e.Address.City,
		&e.Position.Lat, &e.Position.Lon, &e.Naf.Code, &e.Naf.Nomenclature, &e.NumberEmployeesRange, &source,
		&e.CreatedAt, &e.UpdatedAt, &e.LastInseeCheckDate,
		&e.IsOpen, &e.IsSearchable, &e.IsCommited, &e.FitForDisabledWorkers,
		&e.Website, &e.AdditionalInformation, &e.MaxContactsPerWeek, &e.NextAvailabilityDate,
		&e.SearchableBy.Students, &e.SearchableBy.JobSeekers,
	)
	e.SourceProvider = model.SourceProvider(source)
	return e, err
}

func contactValues(c model.ContactEntity) []any {
	copyEmails := c.CopyEmails
	if copyEmails == nil {
		copyEmails = []string{}
	}
	return []any{c.ID, c.FirstName, c.LastName, c.Email, c.Job, c.Phone, string(c.ContactMethod), copyEmails}
}

// gpsValue renders a position as a geography literal. Coordinates are floats
// formatted by strconv rules, never caller text.
func gpsValue(p model.GeoPosition) any {
	return sqlbuilder.Raw(fmt.Sprintf("ST_SetSRID(ST_MakePoint(%v, %v), 4326)::geography", p.Lon, p.Lat))
}

func excludedAssignments(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + " = EXCLUDED." + c
	}
	return strings.Join(parts, ", ")
}
