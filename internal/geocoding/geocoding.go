// Package geocoding turns a free-text address into a normalized address and
// a position, using the national address API.
package geocoding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// ErrAddressNotFound is returned when the lookup yields no candidate.
var ErrAddressNotFound = errors.New("address not found")

// Client queries the national address API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient returns a configured Client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: rc, logger: logger}
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Name     string `json:"name"`
		Postcode string `json:"postcode"`
		City     string `json:"city"`
		Context  string `json:"context"`
	} `json:"properties"`
}

// LookupPosition returns the best match for freeText, or ErrAddressNotFound.
func (c *Client) LookupPosition(ctx context.Context, freeText string) (model.Address, model.GeoPosition, error) {
	var body featureCollection
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"q": freeText, "limit": "1"}).
		SetResult(&body).
		Get("/search/")
	if err != nil {
		return model.Address{}, model.GeoPosition{}, fmt.Errorf("geocoding request: %w", err)
	}
	if resp.IsError() {
		return model.Address{}, model.GeoPosition{}, fmt.Errorf("geocoding returned %d", resp.StatusCode())
	}
	if len(body.Features) == 0 || len(body.Features[0].Geometry.Coordinates) < 2 {
		return model.Address{}, model.GeoPosition{}, fmt.Errorf("%w: %q", ErrAddressNotFound, freeText)
	}

	f := body.Features[0]
	addr := model.Address{
		StreetNumberAndAddress: f.Properties.Name,
		Postcode:               f.Properties.Postcode,
		DepartmentCode:         departmentCode(f.Properties.Context, f.Properties.Postcode),
		City:                   f.Properties.City,
	}
	pos := model.GeoPosition{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}
	c.logger.Debug("address geocoded", zap.String("postcode", addr.Postcode))
	return addr, pos, nil
}

// departmentCode reads the "57, Moselle, Grand Est" context, falling back to
// the postcode prefix.
func departmentCode(context, postcode string) string {
	if code, _, ok := strings.Cut(context, ","); ok && code != "" {
		return strings.TrimSpace(code)
	}
	if len(postcode) >= 2 {
		return postcode[:2]
	}
	return ""
}

// Fake resolves addresses from a fixed table.
type Fake struct {
	mu        sync.Mutex
	addresses map[string]fakeEntry
}

type fakeEntry struct {
	address  model.Address
	position model.GeoPosition
}

// NewFake returns a Fake that knows no address.
func NewFake() *Fake { return &Fake{addresses: make(map[string]fakeEntry)} }

// Set registers the answer for freeText.
func (f *Fake) Set(freeText string, address model.Address, position model.GeoPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[freeText] = fakeEntry{address: address, position: position}
}

// LookupPosition returns the registered answer or ErrAddressNotFound.
func (f *Fake) LookupPosition(_ context.Context, freeText string) (model.Address, model.GeoPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.addresses[freeText]
	if !ok {
		return model.Address{}, model.GeoPosition{}, fmt.Errorf("%w: %q", ErrAddressNotFound, freeText)
	}
	return e.address, e.position, nil
}
