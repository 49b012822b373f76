package model

import (
	"slices"
	"time"
)

// EstablishmentsEqual compares two establishment snapshots field by field,
// ignoring UpdatedAt. Times compare by instant, nil and empty slices are equal.
func EstablishmentsEqual(a, b EstablishmentEntity) bool {
	return a.Siret == b.Siret &&
		a.Name == b.Name &&
		a.CustomizedName == b.CustomizedName &&
		a.Address == b.Address &&
		a.Position == b.Position &&
		a.Naf == b.Naf &&
		a.NumberEmployeesRange == b.NumberEmployeesRange &&
		a.SourceProvider == b.SourceProvider &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		timePtrEqual(a.LastInseeCheckDate, b.LastInseeCheckDate) &&
		a.IsOpen == b.IsOpen &&
		a.IsSearchable == b.IsSearchable &&
		boolPtrEqual(a.IsCommited, b.IsCommited) &&
		a.FitForDisabledWorkers == b.FitForDisabledWorkers &&
		a.Website == b.Website &&
		a.AdditionalInformation == b.AdditionalInformation &&
		a.MaxContactsPerWeek == b.MaxContactsPerWeek &&
		timePtrEqual(a.NextAvailabilityDate, b.NextAvailabilityDate) &&
		a.SearchableBy == b.SearchableBy
}

// ContactsEqual compares two contacts ignoring their generated ID. CopyEmails
// order matters.
func ContactsEqual(a, b ContactEntity) bool {
	return a.FirstName == b.FirstName &&
		a.LastName == b.LastName &&
		a.Email == b.Email &&
		a.Job == b.Job &&
		a.Phone == b.Phone &&
		a.ContactMethod == b.ContactMethod &&
		slices.Equal(a.CopyEmails, b.CopyEmails)
}

// OffersDiff returns the offers of updated missing from existing (toAdd) and
// the offers of existing missing from updated (toRemove), by Key. Score and
// CreatedAt are not compared.
func OffersDiff(existing, updated []OfferEntity) (toAdd, toRemove []OfferEntity) {
	existingKeys := make(map[string]struct{}, len(existing))
	for _, o := range existing {
		existingKeys[o.Key()] = struct{}{}
	}
	updatedKeys := make(map[string]struct{}, len(updated))
	for _, o := range updated {
		updatedKeys[o.Key()] = struct{}{}
		if _, ok := existingKeys[o.Key()]; !ok {
			toAdd = append(toAdd, o)
		}
	}
	for _, o := range existing {
		if _, ok := updatedKeys[o.Key()]; !ok {
			toRemove = append(toRemove, o)
		}
	}
	return toAdd, toRemove
}

// SortOffers orders offers by appellation code, then rome code.
func SortOffers(offers []OfferEntity) {
	slices.SortStableFunc(offers, func(a, b OfferEntity) int {
		if a.AppellationCode != b.AppellationCode {
			if a.AppellationCode < b.AppellationCode {
				return -1
			}
			return 1
		}
		if a.RomeCode < b.RomeCode {
			return -1
		}
		if a.RomeCode > b.RomeCode {
			return 1
		}
		return 0
	})
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
