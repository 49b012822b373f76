// Package model defines the establishment aggregate and the search data
// structures shared by the store, the matching engine and the pipeline.
package model

import (
	"fmt"
	"regexp"
	"time"
)

// SourceProvider records where an establishment's data came from.
type SourceProvider string

const (
	SourceForm         SourceProvider = "form"
	SourceLaBonneBoite SourceProvider = "api_labonneboite"
)

// IsExternal is true for every provider other than the establishment form.
func (s SourceProvider) IsExternal() bool { return s != SourceForm }

// ContactMethod is the preferred way a job-seeker reaches the establishment.
type ContactMethod string

const (
	ContactMethodEmail    ContactMethod = "EMAIL"
	ContactMethodPhone    ContactMethod = "PHONE"
	ContactMethodInPerson ContactMethod = "IN_PERSON"
)

// ParseContactMethod converts a raw string to a ContactMethod.
func ParseContactMethod(s string) (ContactMethod, error) {
	m := ContactMethod(s)
	switch m {
	case ContactMethodEmail, ContactMethodPhone, ContactMethodInPerson:
		return m, nil
	}
	return "", fmt.Errorf("unknown contact method %q", s)
}

var siretPattern = regexp.MustCompile(`^\d{14}$`)

// IsValidSiret reports whether s is a 14-digit siret.
func IsValidSiret(s string) bool { return siretPattern.MatchString(s) }

// GeoPosition is a WGS84 coordinate.
type GeoPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies in the WGS84 range.
func (p GeoPosition) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Address is a postal address as returned by the geocoder.
type Address struct {
	StreetNumberAndAddress string `json:"streetNumberAndAddress"`
	Postcode               string `json:"postcode"`
	DepartmentCode         string `json:"departmentCode"`
	City                   string `json:"city"`
}

// Naf is an activity code and the nomenclature it belongs to.
type Naf struct {
	Code         string `json:"code"`
	Nomenclature string `json:"nomenclature"`
}

// SearchableBy restricts which population segment may find an establishment.
type SearchableBy struct {
	Students   bool `json:"students"`
	JobSeekers bool `json:"jobSeekers"`
}

// EstablishmentEntity is one business, keyed by its immutable siret.
type EstablishmentEntity struct {
	Siret                 string         `json:"siret"`
	Name                  string         `json:"name"`
	CustomizedName        string         `json:"customizedName,omitempty"`
	Address               Address        `json:"address"`
	Position              GeoPosition    `json:"position"`
	Naf                   Naf            `json:"nafDto"`
	NumberEmployeesRange  string         `json:"numberEmployeesRange"`
	SourceProvider        SourceProvider `json:"sourceProvider"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
	LastInseeCheckDate    *time.Time     `json:"lastInseeCheckDate,omitempty"`
	IsOpen                bool           `json:"isOpen"`
	IsSearchable          bool           `json:"isSearchable"`
	IsCommited            *bool          `json:"isCommited,omitempty"`
	FitForDisabledWorkers bool           `json:"fitForDisabledWorkers"`
	Website               string         `json:"website,omitempty"`
	AdditionalInformation string         `json:"additionalInformation,omitempty"`
	MaxContactsPerWeek    int            `json:"maxContactsPerWeek"`
	NextAvailabilityDate  *time.Time     `json:"nextAvailabilityDate,omitempty"`
	SearchableBy          SearchableBy   `json:"searchableBy"`
}

// Validate checks the entity invariants that do not depend on storage.
func (e EstablishmentEntity) Validate() error {
	if !IsValidSiret(e.Siret) {
		return fmt.Errorf("invalid siret %q: expected 14 digits", e.Siret)
	}
	if !e.Position.Valid() {
		return fmt.Errorf("invalid position (%f, %f) for siret %s", e.Position.Lat, e.Position.Lon, e.Siret)
	}
	if e.MaxContactsPerWeek < 0 {
		return fmt.Errorf("maxContactsPerWeek must be >= 0, got %d", e.MaxContactsPerWeek)
	}
	return nil
}

// IsAvailableAt is false when the establishment asked not to be contacted
// before a date that is still ahead of now.
func (e EstablishmentEntity) IsAvailableAt(now time.Time) bool {
	return e.NextAvailabilityDate == nil || !e.NextAvailabilityDate.After(now)
}

// ContactEntity is the single person to reach at an establishment.
type ContactEntity struct {
	ID            string        `json:"id"`
	FirstName     string        `json:"firstName"`
	LastName      string        `json:"lastName"`
	Email         string        `json:"email"`
	Job           string        `json:"job"`
	Phone         string        `json:"phone"`
	ContactMethod ContactMethod `json:"contactMethod"`
	CopyEmails    []string      `json:"copyEmails"`
}

// OfferEntity is one job appellation offered for immersion.
type OfferEntity struct {
	RomeCode        string    `json:"romeCode"`
	AppellationCode string    `json:"appellationCode,omitempty"`
	Score           float64   `json:"score"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Key is the diffing identity of an offer: its appellation code, or its rome
// code for external offers that carry no appellation.
func (o OfferEntity) Key() string {
	if o.AppellationCode != "" {
		return o.AppellationCode
	}
	return "rome:" + o.RomeCode
}

// EstablishmentAggregate is the unit of consistency of the store.
type EstablishmentAggregate struct {
	Establishment EstablishmentEntity `json:"establishment"`
	Contact       *ContactEntity      `json:"contact,omitempty"`
	Offers        []OfferEntity       `json:"offers"`
}

// HasRomeCode reports whether one of the offers belongs to romeCode.
func (a EstablishmentAggregate) HasRomeCode(romeCode string) bool {
	for _, o := range a.Offers {
		if o.RomeCode == romeCode {
			return true
		}
	}
	return false
}

// DeletedEstablishment is the tombstone kept after an aggregate is removed.
type DeletedEstablishment struct {
	Siret     string    `json:"siret"`
	CreatedAt time.Time `json:"createdAt"`
	DeletedAt time.Time `json:"deletedAt"`
}

// Discussion is a contact request initiated by a job-seeker.
type Discussion struct {
	ID              string    `json:"id"`
	Siret           string    `json:"siret"`
	AppellationCode string    `json:"appellationCode"`
	CreatedAt       time.Time `json:"createdAt"`
}
