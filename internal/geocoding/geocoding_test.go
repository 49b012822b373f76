package geocoding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientLookupPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1 rue Serpenoise 57000 Metz", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features": [{
			"geometry": {"coordinates": [6.17602, 49.119146]},
			"properties": {"name": "1 Rue Serpenoise", "postcode": "57000", "city": "Metz", "context": "57, Moselle, Grand Est"}
		}]}`))
	}))
	defer srv.Close()

	addr, pos, err := NewClient(srv.URL, time.Second, zap.NewNop()).LookupPosition(context.Background(), "1 rue Serpenoise 57000 Metz")
	require.NoError(t, err)
	assert.Equal(t, "57", addr.DepartmentCode)
	assert.Equal(t, "1 Rue Serpenoise", addr.StreetNumberAndAddress)
	assert.Equal(t, 49.119146, pos.Lat)
	assert.Equal(t, 6.17602, pos.Lon)
}

func TestClientLookupPosition_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features": []}`))
	}))
	defer srv.Close()

	_, _, err := NewClient(srv.URL, time.Second, zap.NewNop()).LookupPosition(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestDepartmentCode(t *testing.T) {
	assert.Equal(t, "57", departmentCode("57, Moselle, Grand Est", "57000"))
	assert.Equal(t, "2A", departmentCode("2A, Corse-du-Sud, Corse", "20000"))
	assert.Equal(t, "75", departmentCode("", "75011"))
	assert.Equal(t, "", departmentCode("", ""))
}
