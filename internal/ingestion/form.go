// Package ingestion reconciles establishment submissions, from the form or
// from the job-board crawl, with the aggregate store.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/events"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// FormOfferScore is the score of the offers declared through the form.
const FormOfferScore = 10

// Geocoder resolves the free-text address typed in the form.
type Geocoder interface {
	LookupPosition(ctx context.Context, freeText string) (model.Address, model.GeoPosition, error)
}

// FormAppellation is one profession selected in the form.
type FormAppellation struct {
	RomeCode        string `json:"romeCode" validate:"required,len=5"`
	AppellationCode string `json:"appellationCode" validate:"required"`
}

// FormContact is the business contact typed in the form.
type FormContact struct {
	FirstName     string              `json:"firstName" validate:"required"`
	LastName      string              `json:"lastName" validate:"required"`
	Email         string              `json:"email" validate:"required,email"`
	Job           string              `json:"job"`
	Phone         string              `json:"phone"`
	ContactMethod model.ContactMethod `json:"contactMethod" validate:"required,oneof=EMAIL PHONE IN_PERSON"`
	CopyEmails    []string            `json:"copyEmails" validate:"dive,email"`
}

// FormEstablishment is an establishment submission coming from the form.
type FormEstablishment struct {
	Siret                  string             `json:"siret" validate:"required,numeric,len=14"`
	BusinessName           string             `json:"businessName" validate:"required"`
	BusinessNameCustomized string             `json:"businessNameCustomized"`
	BusinessAddress        string             `json:"businessAddress" validate:"required"`
	IsEngagedEnterprise    *bool              `json:"isEngagedEnterprise"`
	Naf                    model.Naf          `json:"naf"`
	NumberEmployeesRange   string             `json:"numberEmployeesRange"`
	Appellations           []FormAppellation  `json:"appellations" validate:"required,min=1,dive"`
	BusinessContact        FormContact        `json:"businessContact" validate:"required"`
	Website                string             `json:"website" validate:"omitempty,url"`
	AdditionalInformation  string             `json:"additionalInformation"`
	FitForDisabledWorkers  bool               `json:"fitForDisabledWorkers"`
	MaxContactsPerWeek     int                `json:"maxContactsPerWeek" validate:"gte=0"`
	NextAvailabilityDate   *time.Time         `json:"nextAvailabilityDate"`
	SearchableBy           model.SearchableBy `json:"searchableBy"`
}

func (f FormEstablishment) offers(now time.Time) []model.OfferEntity {
	offers := make([]model.OfferEntity, 0, len(f.Appellations))
	for _, a := range f.Appellations {
		offers = append(offers, model.OfferEntity{
			RomeCode:        a.RomeCode,
			AppellationCode: a.AppellationCode,
			Score:           FormOfferScore,
			CreatedAt:       now,
		})
	}
	return offers
}

func (f FormEstablishment) contact(id string) *model.ContactEntity {
	c := f.BusinessContact
	copyEmails := c.CopyEmails
	if copyEmails == nil {
		copyEmails = []string{}
	}
	return &model.ContactEntity{
		ID:            id,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Email:         c.Email,
		Job:           c.Job,
		Phone:         c.Phone,
		ContactMethod: c.ContactMethod,
		CopyEmails:    copyEmails,
	}
}

// establishment fills the fields owned by the form. Lifecycle fields
// (dates, open and searchable flags) are set by the caller.
func (f FormEstablishment) establishment(address model.Address, position model.GeoPosition) model.EstablishmentEntity {
	return model.EstablishmentEntity{
		Siret:                 f.Siret,
		Name:                  f.BusinessName,
		CustomizedName:        f.BusinessNameCustomized,
		Address:               address,
		Position:              position,
		Naf:                   f.Naf,
		NumberEmployeesRange:  f.NumberEmployeesRange,
		SourceProvider:        model.SourceForm,
		IsCommited:            f.IsEngagedEnterprise,
		FitForDisabledWorkers: f.FitForDisabledWorkers,
		Website:               f.Website,
		AdditionalInformation: f.AdditionalInformation,
		MaxContactsPerWeek:    f.MaxContactsPerWeek,
		NextAvailabilityDate:  f.NextAvailabilityDate,
		SearchableBy:          f.SearchableBy,
	}
}

// FormatAddress renders an address the way the form displays it.
func FormatAddress(a model.Address) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.StreetNumberAndAddress, a.Postcode, a.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func validationError(err error) error {
	return &repository.BadRequestError{Message: err.Error()}
}

// publish logs publication failures; an event never fails its use case.
func publish(ctx context.Context, publisher events.Publisher, logger *zap.Logger, eventType, siret string, at time.Time) {
	err := publisher.Publish(ctx, events.Event{Type: eventType, Siret: siret, OccurredAt: at})
	if err != nil {
		logger.Warn("publish event failed", zap.String("type", eventType), zap.String("siret", siret), zap.Error(err))
	}
}

func geocode(ctx context.Context, geocoder Geocoder, freeText string) (model.Address, model.GeoPosition, error) {
	address, position, err := geocoder.LookupPosition(ctx, freeText)
	if err != nil {
		return model.Address{}, model.GeoPosition{}, fmt.Errorf("geocode %q: %w", freeText, err)
	}
	return address, position, nil
}
