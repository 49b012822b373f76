package httpapi

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/search"
)

// searchQuery is the validated shape of GET /v2/search.
type searchQuery struct {
	DistanceKm                float64  `validate:"gt=0,lte=100"`
	Latitude                  float64  `validate:"gte=-90,lte=90"`
	Longitude                 float64  `validate:"gte=-180,lte=180"`
	AppellationCodes          []string `validate:"dive,numeric,len=5"`
	SortedBy                  string   `validate:"omitempty,oneof=distance date"`
	RomeCode                  string   `validate:"omitempty,len=5"`
	EstablishmentSearchableBy string   `validate:"omitempty,oneof=students jobSeekers"`
}

func parseSearchParams(q url.Values) (search.Params, error) {
	var (
		sq  searchQuery
		err error
	)
	if sq.DistanceKm, err = requiredFloat(q, "distanceKm"); err != nil {
		return search.Params{}, err
	}
	if sq.Latitude, err = requiredFloat(q, "latitude"); err != nil {
		return search.Params{}, err
	}
	if sq.Longitude, err = requiredFloat(q, "longitude"); err != nil {
		return search.Params{}, err
	}
	sq.AppellationCodes = slices.Concat(q["appellationCodes[]"], q["appellationCodes"])
	sq.SortedBy = q.Get("sortedBy")
	sq.RomeCode = q.Get("romeCode")
	sq.EstablishmentSearchableBy = q.Get("establishmentSearchableBy")
	if err := validate.Struct(sq); err != nil {
		return search.Params{}, errors.New(validationMessage(err))
	}

	params := search.Params{
		DistanceKm:                sq.DistanceKm,
		Latitude:                  sq.Latitude,
		Longitude:                 sq.Longitude,
		Place:                     q.Get("place"),
		AppellationCodes:          sq.AppellationCodes,
		SortedBy:                  model.SortBy(sq.SortedBy),
		RomeCode:                  sq.RomeCode,
		EstablishmentSearchableBy: model.SearchableByFilter(sq.EstablishmentSearchableBy),
	}
	if s := q.Get("voluntaryToImmersion"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return search.Params{}, fmt.Errorf("voluntaryToImmersion must be a boolean, got %q", s)
		}
		params.VoluntaryToImmersion = &v
	}
	return params, nil
}

func requiredFloat(q url.Values, key string) (float64, error) {
	s := q.Get(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, s)
	}
	return v, nil
}
