package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

func baseEstablishment() model.EstablishmentEntity {
	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	return model.EstablishmentEntity{
		Siret:              "78000403200019",
		Name:               "Boulangerie du coin",
		Address:            model.Address{StreetNumberAndAddress: "1 rue de la Paix", Postcode: "57000", DepartmentCode: "57", City: "Metz"},
		Position:           model.GeoPosition{Lat: 49.119146, Lon: 6.17602},
		Naf:                model.Naf{Code: "1071C", Nomenclature: "NAFRev2"},
		SourceProvider:     model.SourceForm,
		CreatedAt:          created,
		UpdatedAt:          created,
		IsOpen:             true,
		IsSearchable:       true,
		MaxContactsPerWeek: 10,
		SearchableBy:       model.SearchableBy{Students: true, JobSeekers: true},
	}
}

func TestEstablishmentsEqual_IgnoresUpdatedAt(t *testing.T) {
	a := baseEstablishment()
	b := baseEstablishment()
	b.UpdatedAt = b.UpdatedAt.Add(48 * time.Hour)

	assert.True(t, model.EstablishmentsEqual(a, b))
}

func TestEstablishmentsEqual_TimeZonesCompareByInstant(t *testing.T) {
	a := baseEstablishment()
	b := baseEstablishment()
	b.CreatedAt = a.CreatedAt.In(time.FixedZone("CET", 3600))

	assert.True(t, model.EstablishmentsEqual(a, b))
}

func TestEstablishmentsEqual_DetectsChanges(t *testing.T) {
	next := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	commited := true
	cases := []struct {
		name   string
		mutate func(e *model.EstablishmentEntity)
	}{
		{"name", func(e *model.EstablishmentEntity) { e.Name = "Autre nom" }},
		{"address", func(e *model.EstablishmentEntity) { e.Address.City = "Nancy" }},
		{"position", func(e *model.EstablishmentEntity) { e.Position.Lat = 48.0 }},
		{"searchable", func(e *model.EstablishmentEntity) { e.IsSearchable = false }},
		{"weekly cap", func(e *model.EstablishmentEntity) { e.MaxContactsPerWeek = 3 }},
		{"next availability", func(e *model.EstablishmentEntity) { e.NextAvailabilityDate = &next }},
		{"commited", func(e *model.EstablishmentEntity) { e.IsCommited = &commited }},
		{"searchable by", func(e *model.EstablishmentEntity) { e.SearchableBy.Students = false }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := baseEstablishment()
			b := baseEstablishment()
			c.mutate(&b)
			assert.False(t, model.EstablishmentsEqual(a, b))
		})
	}
}

func TestContactsEqual_IgnoresID(t *testing.T) {
	a := model.ContactEntity{ID: "11111111-1111-4111-8111-111111111111", FirstName: "Estelle", LastName: "Martin", Email: "estelle@mail.com", ContactMethod: model.ContactMethodEmail}
	b := a
	b.ID = "22222222-2222-4222-8222-222222222222"
	assert.True(t, model.ContactsEqual(a, b))

	b.CopyEmails = []string{"cc@mail.com"}
	assert.False(t, model.ContactsEqual(a, b))
}

func TestContactsEqual_NilAndEmptyCopyEmails(t *testing.T) {
	a := model.ContactEntity{Email: "a@mail.com"}
	b := model.ContactEntity{Email: "a@mail.com", CopyEmails: []string{}}
	assert.True(t, model.ContactsEqual(a, b))
}

func TestOffersDiff_ByAppellationCode(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	existing := []model.OfferEntity{
		{RomeCode: "M1607", AppellationCode: "19364", Score: 4, CreatedAt: day1},
		{RomeCode: "D1102", AppellationCode: "11573", Score: 4, CreatedAt: day1},
	}
	updated := []model.OfferEntity{
		{RomeCode: "M1607", AppellationCode: "19364", Score: 10, CreatedAt: day2},
		{RomeCode: "A1101", AppellationCode: "11987", Score: 10, CreatedAt: day2},
	}

	toAdd, toRemove := model.OffersDiff(existing, updated)

	require.Len(t, toAdd, 1)
	assert.Equal(t, "11987", toAdd[0].AppellationCode)
	require.Len(t, toRemove, 1)
	assert.Equal(t, "11573", toRemove[0].AppellationCode)
}

func TestOffersDiff_RomeOnlyOffers(t *testing.T) {
	existing := []model.OfferEntity{{RomeCode: "M1607"}}
	updated := []model.OfferEntity{{RomeCode: "M1607"}, {RomeCode: "D1102"}}

	toAdd, toRemove := model.OffersDiff(existing, updated)

	require.Len(t, toAdd, 1)
	assert.Equal(t, "D1102", toAdd[0].RomeCode)
	assert.Empty(t, toRemove)
}

func TestSortOffers(t *testing.T) {
	offers := []model.OfferEntity{
		{RomeCode: "M1607", AppellationCode: "19364"},
		{RomeCode: "A1101", AppellationCode: "11987"},
		{RomeCode: "D1102"},
	}
	model.SortOffers(offers)
	assert.Equal(t, "", offers[0].AppellationCode)
	assert.Equal(t, "11987", offers[1].AppellationCode)
	assert.Equal(t, "19364", offers[2].AppellationCode)
}

func TestEstablishmentValidate(t *testing.T) {
	e := baseEstablishment()
	require.NoError(t, e.Validate())

	e.Siret = "1234"
	assert.Error(t, e.Validate())

	e = baseEstablishment()
	e.Position.Lat = 120
	assert.Error(t, e.Validate())

	e = baseEstablishment()
	e.MaxContactsPerWeek = -1
	assert.Error(t, e.Validate())
}

func TestIsAvailableAt(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	e := baseEstablishment()
	assert.True(t, e.IsAvailableAt(now))

	future := now.Add(24 * time.Hour)
	e.NextAvailabilityDate = &future
	assert.False(t, e.IsAvailableAt(now))

	past := now.Add(-24 * time.Hour)
	e.NextAvailabilityDate = &past
	assert.True(t, e.IsAvailableAt(now))
}
