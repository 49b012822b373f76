package inmemory

import (
	"context"
	"sync"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// RomeRepository holds appellation, rome and naf reference data.
type RomeRepository struct {
	mu           sync.RWMutex
	appellations map[string]model.AppellationAndRome
	romeLabels   map[string]string
	nafLabels    map[string]string
}

// NewRomeRepository seeds the lookup with the given appellations.
func NewRomeRepository(appellations ...model.AppellationAndRome) *RomeRepository {
	r := &RomeRepository{
		appellations: make(map[string]model.AppellationAndRome),
		romeLabels:   make(map[string]string),
		nafLabels:    make(map[string]string),
	}
	r.AddAppellations(appellations...)
	return r
}

// AddAppellations loads reference appellations and their romes.
func (r *RomeRepository) AddAppellations(appellations ...model.AppellationAndRome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range appellations {
		r.appellations[a.AppellationCode] = a
		if a.RomeLabel != "" {
			r.romeLabels[a.RomeCode] = a.RomeLabel
		}
	}
}

// AddNafLabel loads the label of a naf code.
func (r *RomeRepository) AddNafLabel(code, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nafLabels[code] = label
}

// GetAppellationAndRomeDtosFromAppellationCodes returns the known codes only,
// in request order; callers decide whether a missing code is an error.
func (r *RomeRepository) GetAppellationAndRomeDtosFromAppellationCodes(_ context.Context, codes []string) ([]model.AppellationAndRome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AppellationAndRome, 0, len(codes))
	for _, code := range codes {
		if a, ok := r.appellations[code]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *RomeRepository) appellationLabel(code string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appellations[code].AppellationLabel
}

func (r *RomeRepository) romeLabel(code string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.romeLabels[code]
}

func (r *RomeRepository) nafLabel(code string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nafLabels[code]
}
