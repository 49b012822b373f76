package model

import "time"

// SortBy is the ordering requested for search results.
type SortBy string

const (
	SortByDistance SortBy = "distance"
	SortByDate     SortBy = "date"
)

// SearchableByFilter restricts a search to one population segment.
type SearchableByFilter string

const (
	SearchableByStudents   SearchableByFilter = "students"
	SearchableByJobSeekers SearchableByFilter = "jobSeekers"
)

// SearchMade is the set of filters of one user search.
type SearchMade struct {
	Lat                       float64            `json:"lat"`
	Lon                       float64            `json:"lon"`
	DistanceKm                float64            `json:"distanceKm"`
	Place                     string             `json:"place,omitempty"`
	RomeCode                  string             `json:"romeCode,omitempty"`
	AppellationCodes          []string           `json:"appellationCodes,omitempty"`
	SortedBy                  SortBy             `json:"sortedBy,omitempty"`
	VoluntaryToImmersion      *bool              `json:"voluntaryToImmersion,omitempty"`
	EstablishmentSearchableBy SearchableByFilter `json:"establishmentSearchableBy,omitempty"`
}

// SearchMadeEntity is the append-only analytics row of a search.
type SearchMadeEntity struct {
	SearchMade
	ID                string    `json:"id"`
	NeedsToBeSearched bool      `json:"needsToBeSearched"`
	APIConsumerName   string    `json:"apiConsumerName,omitempty"`
	NumberOfResults   int       `json:"numberOfResults"`
	CreatedAt         time.Time `json:"createdAt"`
}

// AppellationLabel pairs an appellation code with its label.
type AppellationLabel struct {
	AppellationCode  string `json:"appellationCode"`
	AppellationLabel string `json:"appellationLabel"`
}

// AppellationAndRome is a row of the appellation reference data.
type AppellationAndRome struct {
	AppellationCode  string `json:"appellationCode"`
	AppellationLabel string `json:"appellationLabel"`
	RomeCode         string `json:"romeCode"`
	RomeLabel        string `json:"romeLabel"`
}

// SearchResult is one (establishment, rome) row returned by a search.
type SearchResult struct {
	Rome                  string             `json:"rome"`
	RomeLabel             string             `json:"romeLabel"`
	Appellations          []AppellationLabel `json:"appellations"`
	Naf                   string             `json:"naf"`
	NafLabel              string             `json:"nafLabel"`
	Siret                 string             `json:"siret"`
	Name                  string             `json:"name"`
	CustomizedName        string             `json:"customizedName,omitempty"`
	VoluntaryToImmersion  bool               `json:"voluntaryToImmersion"`
	Position              GeoPosition        `json:"position"`
	NumberOfEmployeeRange string             `json:"numberOfEmployeeRange,omitempty"`
	Address               Address            `json:"address"`
	ContactMode           ContactMethod      `json:"contactMode,omitempty"`
	DistanceM             float64            `json:"distance_m"`
	FitForDisabledWorkers bool               `json:"fitForDisabledWorkers"`
	Website               string             `json:"website,omitempty"`
	AdditionalInformation string             `json:"additionalInformation,omitempty"`
	NextAvailabilityDate  *time.Time         `json:"nextAvailabilityDate,omitempty"`
}

// RepositorySearchResult is what the search index returns: a result plus the
// searchability of its establishment, which never leaves the service.
type RepositorySearchResult struct {
	SearchResult
	IsSearchable bool
}

// CompanySearchQuery is what the external job-board gateway is asked for.
type CompanySearchQuery struct {
	Rome       string
	Lat        float64
	Lon        float64
	DistanceKm float64
}
