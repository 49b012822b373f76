package jobboard

import (
	"context"
	"sync"
	"time"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// Fake is an in-memory job board returning preset results.
type Fake struct {
	mu      sync.Mutex
	results []model.SearchResult
	err     error
	delay   time.Duration
	calls   []model.CompanySearchQuery
}

// NewFake returns a Fake answering results.
func NewFake(results ...model.SearchResult) *Fake {
	return &Fake{results: results}
}

// SetResults replaces the answer of the next calls.
func (f *Fake) SetResults(results ...model.SearchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
}

// SetError makes every following call fail with err.
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetDelay makes calls block for d or until the context is done.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns the queries received so far.
func (f *Fake) Calls() []model.CompanySearchQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CompanySearchQuery(nil), f.calls...)
}

// SearchCompanies records query and returns the configured answer.
func (f *Fake) SearchCompanies(ctx context.Context, query model.CompanySearchQuery) ([]model.SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	results, err, delay := append([]model.SearchResult(nil), f.results...), f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
