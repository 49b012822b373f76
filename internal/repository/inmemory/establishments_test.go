package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository/inmemory"
)

var (
	metz      = model.GeoPosition{Lat: 49.119146, Lon: 6.17602}
	createdAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

func aggregate(siret string, offers ...model.OfferEntity) model.EstablishmentAggregate {
	return model.EstablishmentAggregate{
		Establishment: model.EstablishmentEntity{
			Siret:                siret,
			Name:                 "Boulangerie " + siret,
			Address:              model.Address{StreetNumberAndAddress: "1 rue Serpenoise", Postcode: "57000", DepartmentCode: "57", City: "Metz"},
			Position:             metz,
			Naf:                  model.Naf{Code: "1071C", Nomenclature: "NAFRev2"},
			NumberEmployeesRange: "10-19",
			SourceProvider:       model.SourceForm,
			CreatedAt:            createdAt,
			UpdatedAt:            createdAt,
			IsOpen:               true,
			IsSearchable:         true,
			SearchableBy:         model.SearchableBy{Students: true, JobSeekers: true},
		},
		Contact: &model.ContactEntity{
			ID:            "contact-" + siret,
			FirstName:     "Jeanne",
			LastName:      "Martin",
			Email:         "jeanne@example.com",
			Job:           "Gérante",
			ContactMethod: model.ContactMethodEmail,
		},
		Offers: offers,
	}
}

func offer(rome, appellation string) model.OfferEntity {
	return model.OfferEntity{RomeCode: rome, AppellationCode: appellation, Score: 4.5, CreatedAt: createdAt}
}

func newRepos(t *testing.T) *inmemory.Repositories {
	t.Helper()
	repos := inmemory.NewRepositories()
	repos.Romes.AddAppellations(
		model.AppellationAndRome{AppellationCode: "19364", AppellationLabel: "Secrétaire", RomeCode: "M1607", RomeLabel: "Secrétariat"},
		model.AppellationAndRome{AppellationCode: "19365", AppellationLabel: "Secrétaire médicale", RomeCode: "M1607", RomeLabel: "Secrétariat"},
		model.AppellationAndRome{AppellationCode: "11573", AppellationLabel: "Boulanger", RomeCode: "D1102", RomeLabel: "Boulangerie - viennoiserie"},
	)
	repos.Romes.AddNafLabel("1071C", "Boulangerie et boulangerie-pâtisserie")
	return repos
}

func TestInsertEstablishmentAggregates_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments

	first := aggregate("12345678901234", offer("M1607", "19364"), offer("D1102", "11573"))
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{first}))

	notSearchable := false
	require.NoError(t, repo.UpdateEstablishment(ctx, repository.EstablishmentPatch{Siret: first.Establishment.Siret, IsSearchable: &notSearchable}))

	second := aggregate("12345678901234", offer("M1607", "19364"), offer("D1102", "11573"))
	second.Establishment.Name = "Nouveau nom"
	second.Establishment.NumberEmployeesRange = "20-49"
	second.Establishment.MaxContactsPerWeek = 3
	second.Establishment.IsSearchable = true
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{second}))

	got, err := repo.GetEstablishmentAggregateBySiret(ctx, first.Establishment.Siret)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Offers, 2)
	assert.Equal(t, "Nouveau nom", got.Establishment.Name)
	assert.Equal(t, "20-49", got.Establishment.NumberEmployeesRange)
	assert.Equal(t, 3, got.Establishment.MaxContactsPerWeek)
	assert.False(t, got.Establishment.IsSearchable)
}

func TestUpdateEstablishmentAggregate_DiffsOffers(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments
	existing := aggregate("12345678901234", offer("M1607", "19364"), offer("D1102", "11573"))
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{existing}))

	kept := offer("M1607", "19364")
	kept.Score = 1
	kept.CreatedAt = createdAt.Add(48 * time.Hour)
	updated := aggregate("12345678901234", kept, offer("M1607", "19365"))

	updatedAt := createdAt.Add(time.Hour)
	require.NoError(t, repo.UpdateEstablishmentAggregate(ctx, updated, updatedAt))

	got, err := repo.GetEstablishmentAggregateBySiret(ctx, existing.Establishment.Siret)
	require.NoError(t, err)
	var codes []string
	for _, o := range got.Offers {
		codes = append(codes, o.AppellationCode)
	}
	assert.Equal(t, []string{"19364", "19365"}, codes)
	assert.Equal(t, 4.5, got.Offers[0].Score, "offers present on both sides are left untouched")
	assert.True(t, got.Establishment.UpdatedAt.Equal(createdAt), "unchanged establishment keeps its update date")
}

func TestUpdateEstablishmentAggregate_WritesChangedEstablishmentAndContact(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments
	existing := aggregate("12345678901234", offer("M1607", "19364"))
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{existing}))

	updated := aggregate("12345678901234", offer("M1607", "19364"))
	updated.Establishment.Website = "https://boulangerie.example.com"
	updated.Contact.ID = "another-id"
	updated.Contact.Phone = "0601020304"

	updatedAt := createdAt.Add(time.Hour)
	require.NoError(t, repo.UpdateEstablishmentAggregate(ctx, updated, updatedAt))

	got, err := repo.GetEstablishmentAggregateBySiret(ctx, existing.Establishment.Siret)
	require.NoError(t, err)
	assert.Equal(t, "https://boulangerie.example.com", got.Establishment.Website)
	assert.True(t, got.Establishment.UpdatedAt.Equal(updatedAt))
	require.NotNil(t, got.Contact)
	assert.Equal(t, "contact-12345678901234", got.Contact.ID)
	assert.Equal(t, "0601020304", got.Contact.Phone)
}

func TestUpdateEstablishmentAggregate_MissingSiretFails(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments

	err := repo.UpdateEstablishmentAggregate(ctx, aggregate("99999999999999", offer("M1607", "19364")), createdAt)
	require.Error(t, err)
	assert.True(t, repository.IsNotFound(err))
	assert.ErrorIs(t, err, repository.ErrEstablishmentNotFound)

	has, err := repo.HasEstablishmentWithSiret(ctx, "99999999999999")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{aggregate("12345678901234", offer("M1607", "19364"))}))

	require.NoError(t, repo.Delete(ctx, "12345678901234"))
	got, err := repo.GetEstablishmentAggregateBySiret(ctx, "12345678901234")
	require.NoError(t, err)
	assert.Nil(t, got)

	err = repo.Delete(ctx, "12345678901234")
	assert.True(t, repository.IsNotFound(err))
}

func TestSearchImmersionResults_ReturnsOfferAtZeroDistance(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{
		aggregate("12345678901234", offer("M1607", "19364")),
	}))

	results, err := repo.SearchImmersionResults(ctx, repository.SearchImmersionParams{
		SearchMade: model.SearchMade{Lat: metz.Lat, Lon: metz.Lon, DistanceKm: 30, SortedBy: model.SortByDistance},
		MaxResults: 100,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "M1607", r.Rome)
	assert.Equal(t, "Secrétariat", r.RomeLabel)
	assert.Equal(t, []model.AppellationLabel{{AppellationCode: "19364", AppellationLabel: "Secrétaire"}}, r.Appellations)
	assert.Equal(t, "Boulangerie et boulangerie-pâtisserie", r.NafLabel)
	assert.InDelta(t, 0, r.DistanceM, 0.001)
	assert.True(t, r.IsSearchable)
	assert.True(t, r.VoluntaryToImmersion)
	assert.Equal(t, model.ContactMethodEmail, r.ContactMode)
}

func TestSearchImmersionResults_GroupsByRomeAndFilters(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments

	near := aggregate("11111111111111", offer("M1607", "19364"), offer("M1607", "19365"), offer("D1102", "11573"))
	near.Establishment.Position = model.GeoPosition{Lat: 49.13, Lon: 6.18}

	far := aggregate("22222222222222", offer("M1607", "19364"))
	far.Establishment.Position = model.GeoPosition{Lat: 48.8566, Lon: 2.3522}

	closed := aggregate("33333333333333", offer("M1607", "19364"))
	closed.Establishment.IsOpen = false

	studentsOnly := aggregate("44444444444444", offer("M1607", "19364"))
	studentsOnly.Establishment.SearchableBy = model.SearchableBy{Students: true}

	hidden := aggregate("55555555555555", offer("M1607", "19364"))
	hidden.Establishment.IsSearchable = false

	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{near, far, closed, studentsOnly, hidden}))

	results, err := repo.SearchImmersionResults(ctx, repository.SearchImmersionParams{
		SearchMade: model.SearchMade{
			Lat: metz.Lat, Lon: metz.Lon, DistanceKm: 10,
			AppellationCodes:          []string{"19364"},
			SortedBy:                  model.SortByDistance,
			EstablishmentSearchableBy: model.SearchableByJobSeekers,
		},
		MaxResults: 100,
	})
	require.NoError(t, err)

	bySiret := map[string]model.RepositorySearchResult{}
	for _, r := range results {
		assert.Equal(t, "M1607", r.Rome)
		bySiret[r.Siret] = r
	}
	require.Len(t, bySiret, 2)
	assert.Len(t, bySiret["11111111111111"].Appellations, 2)
	assert.False(t, bySiret["55555555555555"].IsSearchable, "non searchable rows are still returned, flagged")
	assert.Equal(t, "55555555555555", results[0].Siret, "closest first")
}

func TestSearchImmersionResults_UnknownAppellationFails(t *testing.T) {
	_, err := newRepos(t).Establishments.SearchImmersionResults(context.Background(), repository.SearchImmersionParams{
		SearchMade: model.SearchMade{Lat: metz.Lat, Lon: metz.Lon, DistanceKm: 10, AppellationCodes: []string{"00000"}},
		MaxResults: 100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "00000")
}

func TestSearchImmersionResults_SortsByDateAndLimits(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments

	older := aggregate("11111111111111", offer("M1607", "19364"))
	newer := aggregate("22222222222222", offer("M1607", "19364"))
	newer.Offers[0].CreatedAt = createdAt.Add(24 * time.Hour)
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{older, newer}))

	results, err := repo.SearchImmersionResults(ctx, repository.SearchImmersionParams{
		SearchMade: model.SearchMade{Lat: metz.Lat, Lon: metz.Lon, DistanceKm: 5, SortedBy: model.SortByDate},
		MaxResults: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "22222222222222", results[0].Siret)
}

func TestGetSearchResultBySiretAndAppellationCode(t *testing.T) {
	ctx := context.Background()
	repo := newRepos(t).Establishments
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{
		aggregate("12345678901234", offer("M1607", "19364"), offer("M1607", "19365")),
	}))

	got, err := repo.GetSearchResultBySiretAndAppellationCode(ctx, "12345678901234", "19365")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []model.AppellationLabel{{AppellationCode: "19365", AppellationLabel: "Secrétaire médicale"}}, got.Appellations)

	missing, err := repo.GetSearchResultBySiretAndAppellationCode(ctx, "12345678901234", "11573")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMaintenanceSelections(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	repo := repos.Establishments

	checked := createdAt.Add(-24 * time.Hour)
	stale := aggregate("11111111111111", offer("M1607", "19364"))
	stale.Establishment.LastInseeCheckDate = &checked
	fresh := aggregate("22222222222222", offer("D1102", "11573"))
	fresh.Establishment.UpdatedAt = createdAt.Add(400 * 24 * time.Hour)
	external := aggregate("33333333333333", offer("M1607", ""))
	external.Establishment.SourceProvider = model.SourceLaBonneBoite
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{stale, fresh, external}))

	sirets, err := repo.GetSiretsOfEstablishmentsWithRomeCode(ctx, "M1607")
	require.NoError(t, err)
	assert.Equal(t, []string{"11111111111111", "33333333333333"}, sirets)

	before := createdAt.Add(24 * time.Hour)
	sirets, err = repo.GetSiretOfEstablishmentsToSuggestUpdate(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, []string{"11111111111111"}, sirets)

	require.NoError(t, repos.UpdateSuggestions.Save(ctx, "11111111111111", before))
	sirets, err = repo.GetSiretOfEstablishmentsToSuggestUpdate(ctx, before)
	require.NoError(t, err)
	assert.Empty(t, sirets)

	sirets, err = repo.GetSiretsOfEstablishmentsNotCheckedAtInseeSince(ctx, createdAt, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"11111111111111", "22222222222222"}, sirets)

	_, err = repo.GetSiretsOfEstablishmentsNotCheckedAtInseeSince(ctx, createdAt, repository.MaxNotCheckedAtInseeResults+1)
	var badRequest *repository.BadRequestError
	assert.ErrorAs(t, err, &badRequest)
}

func TestMarkEstablishmentAsSearchable(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	repo := repos.Establishments
	now := createdAt.Add(10 * 24 * time.Hour)
	since := now.Add(-7 * 24 * time.Hour)

	underCap := aggregate("11111111111111", offer("M1607", "19364"))
	underCap.Establishment.IsSearchable = false
	underCap.Establishment.MaxContactsPerWeek = 2
	atCap := aggregate("22222222222222", offer("M1607", "19364"))
	atCap.Establishment.IsSearchable = false
	atCap.Establishment.MaxContactsPerWeek = 2
	unlimited := aggregate("33333333333333", offer("M1607", "19364"))
	unlimited.Establishment.IsSearchable = false
	require.NoError(t, repo.InsertEstablishmentAggregates(ctx, []model.EstablishmentAggregate{underCap, atCap, unlimited}))

	for i, d := range []model.Discussion{
		{Siret: "11111111111111", CreatedAt: now.Add(-time.Hour)},
		{Siret: "11111111111111", CreatedAt: since.Add(-time.Hour)},
		{Siret: "22222222222222", CreatedAt: now.Add(-time.Hour)},
		{Siret: "22222222222222", CreatedAt: now.Add(-2 * time.Hour)},
	} {
		d.ID = string(rune('a' + i))
		require.NoError(t, repos.Discussions.Insert(ctx, d))
	}

	n, err := repo.MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for siret, want := range map[string]bool{"11111111111111": true, "22222222222222": false, "33333333333333": false} {
		got, err := repo.GetEstablishmentAggregateBySiret(ctx, siret)
		require.NoError(t, err)
		assert.Equal(t, want, got.Establishment.IsSearchable, siret)
	}
}
