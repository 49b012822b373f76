package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/events"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// ─── Create ──────────────────────────────────────────────────────────────────

// InsertFromForm creates the aggregate of an establishment registering
// through the form.
type InsertFromForm struct {
	performer repository.Performer
	geocoder  Geocoder
	publisher events.Publisher
	clock     model.Clock
	ids       model.IDGenerator
	logger    *zap.Logger
}

// NewInsertFromForm returns a configured InsertFromForm.
func NewInsertFromForm(performer repository.Performer, geocoder Geocoder, publisher events.Publisher, clock model.Clock, ids model.IDGenerator, logger *zap.Logger) *InsertFromForm {
	return &InsertFromForm{performer: performer, geocoder: geocoder, publisher: publisher, clock: clock, ids: ids, logger: logger}
}

// Execute creates the establishment or fails with a ConflictError.
func (u *InsertFromForm) Execute(ctx context.Context, form FormEstablishment) error {
	now := u.clock.Now()
	err := u.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		exists, err := uow.Establishments.HasEstablishmentWithSiret(ctx, form.Siret)
		if err != nil {
			return err
		}
		if exists {
			return &repository.ConflictError{Message: fmt.Sprintf("establishment with siret %s already exists", form.Siret)}
		}

		address, position, err := geocode(ctx, u.geocoder, form.BusinessAddress)
		if err != nil {
			return err
		}
		establishment := form.establishment(address, position)
		establishment.CreatedAt = now
		establishment.UpdatedAt = now
		establishment.IsOpen = true
		establishment.IsSearchable = true
		if err := establishment.Validate(); err != nil {
			return validationError(err)
		}

		return uow.Establishments.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{{
			Establishment: establishment,
			Contact:       form.contact(u.ids.NewID()),
			Offers:        form.offers(now),
		}})
	})
	if err != nil {
		return err
	}

	u.logger.Info("establishment created from form", zap.String("siret", form.Siret))
	publish(ctx, u.publisher, u.logger, events.EstablishmentInserted, form.Siret, now)
	return nil
}

// ─── Update ──────────────────────────────────────────────────────────────────

// UpdateFromForm replaces an establishment's data with a new form
// submission.
type UpdateFromForm struct {
	performer repository.Performer
	geocoder  Geocoder
	publisher events.Publisher
	clock     model.Clock
	ids       model.IDGenerator
	logger    *zap.Logger
}

// NewUpdateFromForm returns a configured UpdateFromForm.
func NewUpdateFromForm(performer repository.Performer, geocoder Geocoder, publisher events.Publisher, clock model.Clock, ids model.IDGenerator, logger *zap.Logger) *UpdateFromForm {
	return &UpdateFromForm{performer: performer, geocoder: geocoder, publisher: publisher, clock: clock, ids: ids, logger: logger}
}

// Execute replaces the establishment, its offers and contact.
func (u *UpdateFromForm) Execute(ctx context.Context, form FormEstablishment) error {
	now := u.clock.Now()
	err := u.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		existing, err := uow.Establishments.GetEstablishmentAggregateBySiret(ctx, form.Siret)
		if err != nil {
			return err
		}
		if existing == nil {
			return &repository.NotFoundError{
				Message: fmt.Sprintf("cannot update establishment that does not exist (siret %s)", form.Siret),
			}
		}

		address, position := existing.Establishment.Address, existing.Establishment.Position
		if form.BusinessAddress != FormatAddress(existing.Establishment.Address) {
			if address, position, err = geocode(ctx, u.geocoder, form.BusinessAddress); err != nil {
				return err
			}
		}

		establishment := form.establishment(address, position)
		establishment.CreatedAt = existing.Establishment.CreatedAt
		establishment.UpdatedAt = existing.Establishment.UpdatedAt
		establishment.LastInseeCheckDate = existing.Establishment.LastInseeCheckDate
		establishment.IsOpen = existing.Establishment.IsOpen
		establishment.IsSearchable = existing.Establishment.IsSearchable
		if establishment.NumberEmployeesRange == "" {
			establishment.NumberEmployeesRange = existing.Establishment.NumberEmployeesRange
		}
		if err := establishment.Validate(); err != nil {
			return validationError(err)
		}

		contactID := u.ids.NewID()
		if existing.Contact != nil {
			contactID = existing.Contact.ID
		}
		return uow.Establishments.UpdateEstablishmentAggregate(ctx, model.EstablishmentAggregate{
			Establishment: establishment,
			Contact:       form.contact(contactID),
			Offers:        form.offers(now),
		}, now)
	})
	if err != nil {
		return err
	}

	u.logger.Info("establishment updated from form", zap.String("siret", form.Siret))
	publish(ctx, u.publisher, u.logger, events.EstablishmentUpdated, form.Siret, now)
	return nil
}

// ─── Delete ──────────────────────────────────────────────────────────────────

// DeleteEstablishment removes an aggregate and leaves a tombstone so that
// the job-board leads with the same siret stay hidden.
type DeleteEstablishment struct {
	performer repository.Performer
	publisher events.Publisher
	clock     model.Clock
	logger    *zap.Logger
}

// NewDeleteEstablishment returns a configured DeleteEstablishment.
func NewDeleteEstablishment(performer repository.Performer, publisher events.Publisher, clock model.Clock, logger *zap.Logger) *DeleteEstablishment {
	return &DeleteEstablishment{performer: performer, publisher: publisher, clock: clock, logger: logger}
}

// Execute deletes the establishment and leaves a tombstone.
func (u *DeleteEstablishment) Execute(ctx context.Context, siret string) error {
	now := u.clock.Now()
	err := u.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		existing, err := uow.Establishments.GetEstablishmentAggregateBySiret(ctx, siret)
		if err != nil {
			return err
		}
		if existing == nil {
			return repository.EstablishmentNotFound(siret)
		}

		if err := uow.Deleted.Save(ctx, model.DeletedEstablishment{
			Siret:     siret,
			CreatedAt: existing.Establishment.CreatedAt,
			DeletedAt: now,
		}); err != nil {
			return err
		}
		if err := uow.Establishments.Delete(ctx, siret); err != nil {
			return err
		}
		return uow.Groups.RemoveSiretFromGroups(ctx, siret)
	})
	if err != nil {
		return err
	}

	u.logger.Info("establishment deleted", zap.String("siret", siret))
	publish(ctx, u.publisher, u.logger, events.EstablishmentDeleted, siret, now)
	return nil
}
