package jobboard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/jobboard"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

func TestClientSearchCompanies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/recherche", r.URL.Path)
		assert.Equal(t, "M1607", r.URL.Query().Get("rome"))
		assert.Equal(t, "49.119146", r.URL.Query().Get("latitude"))
		assert.Equal(t, "30", r.URL.Query().Get("distance"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits": [
			{"siret": "11112222333344", "name": "Cabinet Dupont", "naf": "6920Z", "rome": "M1607", "rome_label": "Secrétariat",
			 "location": {"lat": 49.12, "lon": 6.18}, "city": "Metz", "postcode": "57000", "distance": 1.5},
			{"siret": "not-a-siret", "name": "Broken"}
		]}`))
	}))
	defer srv.Close()

	client := jobboard.NewClient(srv.URL, "secret", time.Second, zap.NewNop())
	results, err := client.SearchCompanies(context.Background(), model.CompanySearchQuery{Rome: "M1607", Lat: 49.119146, Lon: 6.17602, DistanceKm: 30})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "11112222333344", r.Siret)
	assert.Equal(t, "M1607", r.Rome)
	assert.Equal(t, 1500.0, r.DistanceM)
	assert.False(t, r.VoluntaryToImmersion)
	assert.Empty(t, r.Appellations)
	assert.Equal(t, "Metz", r.Address.City)
}

func TestClientSearchCompanies_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := jobboard.NewClient(srv.URL, "", time.Second, zap.NewNop())
	_, err := client.SearchCompanies(context.Background(), model.CompanySearchQuery{Rome: "M1607"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestClientSearchCompanies_NotConfigured(t *testing.T) {
	client := jobboard.NewClient("", "", time.Second, zap.NewNop())
	_, err := client.SearchCompanies(context.Background(), model.CompanySearchQuery{Rome: "M1607"})
	assert.ErrorIs(t, err, jobboard.ErrNotConfigured)
}

func TestCacheKey(t *testing.T) {
	a := jobboard.CacheKey(model.CompanySearchQuery{Rome: "M1607", Lat: 49.11914, Lon: 6.17602, DistanceKm: 30})
	b := jobboard.CacheKey(model.CompanySearchQuery{Rome: "M1607", Lat: 49.11925, Lon: 6.17610, DistanceKm: 30})
	c := jobboard.CacheKey(model.CompanySearchQuery{Rome: "D1102", Lat: 49.11914, Lon: 6.17602, DistanceKm: 30})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCached_ServesSecondCallFromRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	query := model.CompanySearchQuery{Rome: "M1607", Lat: 49.119146, Lon: 6.17602, DistanceKm: 30}
	require.NoError(t, rdb.Del(ctx, jobboard.CacheKey(query)).Err())

	fake := jobboard.NewFake(model.SearchResult{Siret: "11112222333344", Rome: "M1607"})
	cached := jobboard.NewCached(fake, rdb, time.Minute, zap.NewNop())

	first, err := cached.SearchCompanies(ctx, query)
	require.NoError(t, err)
	second, err := cached.SearchCompanies(ctx, query)
	require.NoError(t, err)

	assert.Equal(t, first[0].Siret, second[0].Siret)
	assert.Len(t, fake.Calls(), 1)
}

func TestFake_HonoursContextDeadline(t *testing.T) {
	fake := jobboard.NewFake()
	fake.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fake.SearchCompanies(ctx, model.CompanySearchQuery{Rome: "M1607"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
