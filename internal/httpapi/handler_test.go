package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/events"
	"github.com/betagouv/l-immersion-facile-sub002/internal/geocoding"
	"github.com/betagouv/l-immersion-facile-sub002/internal/httpapi"
	"github.com/betagouv/l-immersion-facile-sub002/internal/ingestion"
	"github.com/betagouv/l-immersion-facile-sub002/internal/jobboard"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository/inmemory"
	"github.com/betagouv/l-immersion-facile-sub002/internal/search"
)

var metz = model.GeoPosition{Lat: 49.119146, Lon: 6.17602}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	repos := inmemory.NewRepositories()
	repos.Romes.AddAppellations(
		model.AppellationAndRome{AppellationCode: "19364", AppellationLabel: "Secrétaire", RomeCode: "M1607", RomeLabel: "Secrétariat"},
	)
	performer := inmemory.NewPerformer(repos)
	geocoder := geocoding.NewFake()
	geocoder.Set("1 rue Serpenoise 57000 Metz",
		model.Address{StreetNumberAndAddress: "1 rue Serpenoise", Postcode: "57000", DepartmentCode: "57", City: "Metz"}, metz)
	clock := &model.FixedClock{At: time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)}
	ids := model.UUIDGenerator{}
	recorder := events.NewRecorder()
	logger := zap.NewNop()

	h := httpapi.NewHandler(httpapi.UseCases{
		Search:      search.NewSearchImmersion(performer, jobboard.NewFake(), clock, ids, 50*time.Millisecond, logger),
		GetOffer:    search.NewGetOffer(performer),
		InsertForm:  ingestion.NewInsertFromForm(performer, geocoder, recorder, clock, ids, logger),
		UpdateForm:  ingestion.NewUpdateFromForm(performer, geocoder, recorder, clock, ids, logger),
		Delete:      ingestion.NewDeleteEstablishment(performer, recorder, clock, logger),
		ServiceName: "establishment-service",
		Version:     "test",
	}, logger)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func formBody(t *testing.T, siret string) io.Reader {
	t.Helper()
	body, err := json.Marshal(ingestion.FormEstablishment{
		Siret:           siret,
		BusinessName:    "Cabinet Martin",
		BusinessAddress: "1 rue Serpenoise 57000 Metz",
		Appellations:    []ingestion.FormAppellation{{RomeCode: "M1607", AppellationCode: "19364"}},
		BusinessContact: ingestion.FormContact{
			FirstName:     "Jeanne",
			LastName:      "Martin",
			Email:         "jeanne@example.com",
			ContactMethod: model.ContactMethodEmail,
		},
		SearchableBy: model.SearchableBy{Students: true, JobSeekers: true},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func do(t *testing.T, method, url string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errorOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEstablishmentLifecycle(t *testing.T) {
	srv := newServer(t)
	consumer := http.Header{"X-Api-Consumer": {"france-travail"}}

	resp := do(t, http.MethodPost, srv.URL+"/establishments", formBody(t, "12345678901234"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/establishments", formBody(t, "12345678901234"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v2/search?distanceKm=30&latitude=49.119146&longitude=6.17602&sortedBy=distance&appellationCodes=19364", nil, consumer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []model.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, "12345678901234", results[0].Siret)
	assert.True(t, results[0].VoluntaryToImmersion)

	resp = do(t, http.MethodGet, srv.URL+"/v2/offers/12345678901234/19364", nil, consumer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var offer model.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&offer))
	assert.Equal(t, "M1607", offer.Rome)

	resp = do(t, http.MethodGet, srv.URL+"/v2/offers/12345678901234/19364", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v2/offers/12345678901234/11573", nil, consumer)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errorOf(t, resp), "11573")

	resp = do(t, http.MethodPut, srv.URL+"/establishments/12345678901234", formBody(t, "12345678901234"), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/establishments/12345678901234", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/establishments/12345678901234", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateEstablishment_Errors(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/establishments/99999999999999", formBody(t, "12345678901234"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/establishments/12345678901234", formBody(t, "12345678901234"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errorOf(t, resp), "cannot update establishment that does not exist")
}

func TestCreateEstablishment_InvalidBody(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/establishments", bytes.NewReader([]byte(`{"siret": "123"}`)), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorOf(t, resp), "FormEstablishment.Siret")

	resp = do(t, http.MethodPost, srv.URL+"/establishments", bytes.NewReader([]byte(`not json`)), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateEstablishment_RomeCodeMustHaveFiveCharacters(t *testing.T) {
	srv := newServer(t)

	var form ingestion.FormEstablishment
	require.NoError(t, json.NewDecoder(formBody(t, "12345678901234")).Decode(&form))
	form.Appellations[0].RomeCode = "M16070"
	body, err := json.Marshal(form)
	require.NoError(t, err)

	resp := do(t, http.MethodPost, srv.URL+"/establishments", bytes.NewReader(body), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorOf(t, resp), "FormEstablishment.Appellations[0].RomeCode")
}

func TestSearch_InvalidQuery(t *testing.T) {
	srv := newServer(t)
	tests := map[string]string{
		"missing distance":      "latitude=49.1&longitude=6.1",
		"distance not a number": "distanceKm=far&latitude=49.1&longitude=6.1",
		"latitude out of range": "distanceKm=10&latitude=91&longitude=6.1",
		"unknown sort":          "distanceKm=10&latitude=49.1&longitude=6.1&sortedBy=score",
		"voluntary not a bool":  "distanceKm=10&latitude=49.1&longitude=6.1&voluntaryToImmersion=maybe",
	}
	for name, query := range tests {
		t.Run(name, func(t *testing.T) {
			resp := do(t, http.MethodGet, srv.URL+"/v2/search?"+query, nil, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}
