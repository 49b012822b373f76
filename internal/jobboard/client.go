// Package jobboard is the client of the external job-board API (La Bonne
// Boite) used to complete searches with companies that did not register.
package jobboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

const searchPath = "/v2/recherche"

// ErrNotConfigured is returned when no base URL was configured.
var ErrNotConfigured = errors.New("job board url not configured")

// Client queries the job board over HTTP.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient returns a configured Client.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	return &Client{http: rc, logger: logger}
}

type searchResponse struct {
	Hits []company `json:"hits"`
}

type company struct {
	Siret         string   `json:"siret"`
	Name          string   `json:"name"`
	Naf           string   `json:"naf"`
	NafLabel      string   `json:"naf_label"`
	Rome          string   `json:"rome"`
	RomeLabel     string   `json:"rome_label"`
	Location      location `json:"location"`
	Address       string   `json:"address"`
	Postcode      string   `json:"postcode"`
	Department    string   `json:"department_number"`
	City          string   `json:"city"`
	HeadcountText string   `json:"headcount_text"`
	DistanceKm    float64  `json:"distance"`
	Website       string   `json:"website"`
}

type location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SearchCompanies returns the companies hiring for query.Rome around the position.
func (c *Client) SearchCompanies(ctx context.Context, query model.CompanySearchQuery) ([]model.SearchResult, error) {
	if c.http.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	var body searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"rome":      query.Rome,
			"latitude":  strconv.FormatFloat(query.Lat, 'f', -1, 64),
			"longitude": strconv.FormatFloat(query.Lon, 'f', -1, 64),
			"distance":  strconv.FormatFloat(query.DistanceKm, 'f', -1, 64),
		}).
		SetResult(&body).
		Get(searchPath)
	if err != nil {
		return nil, fmt.Errorf("job board request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("job board returned %d: %s", resp.StatusCode(), resp.String())
	}

	results := make([]model.SearchResult, 0, len(body.Hits))
	for _, h := range body.Hits {
		if !model.IsValidSiret(h.Siret) {
			c.logger.Debug("job board result dropped", zap.String("siret", h.Siret))
			continue
		}
		results = append(results, h.toSearchResult(query.Rome))
	}
	c.logger.Debug("job board search done", zap.String("rome", query.Rome), zap.Int("count", len(results)))
	return results, nil
}

// toSearchResult fills a result without contact or appellations: the job
// board knows neither.
func (h company) toSearchResult(rome string) model.SearchResult {
	if h.Rome != "" {
		rome = h.Rome
	}
	return model.SearchResult{
		Rome:                  rome,
		RomeLabel:             h.RomeLabel,
		Appellations:          []model.AppellationLabel{},
		Naf:                   h.Naf,
		NafLabel:              h.NafLabel,
		Siret:                 h.Siret,
		Name:                  h.Name,
		VoluntaryToImmersion:  false,
		Position:              model.GeoPosition{Lat: h.Location.Lat, Lon: h.Location.Lon},
		NumberOfEmployeeRange: h.HeadcountText,
		Address: model.Address{
			StreetNumberAndAddress: h.Address,
			Postcode:               h.Postcode,
			DepartmentCode:         h.Department,
			City:                   h.City,
		},
		DistanceM: h.DistanceKm * 1000,
		Website:   h.Website,
	}
}
