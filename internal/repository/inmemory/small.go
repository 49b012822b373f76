package inmemory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// SearchMadeRepository keeps searches in insertion order.
type SearchMadeRepository struct {
	mu       sync.Mutex
	searches []model.SearchMadeEntity
}

// NewSearchMadeRepository returns an empty SearchMadeRepository.
func NewSearchMadeRepository() *SearchMadeRepository { return &SearchMadeRepository{} }

// InsertSearchMade implements repository.SearchMadeRepository.
func (r *SearchMadeRepository) InsertSearchMade(_ context.Context, search model.SearchMadeEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches = append(r.searches, search)
	return nil
}

// RetrievePendingSearches returns pending searches in insertion order.
func (r *SearchMadeRepository) RetrievePendingSearches(_ context.Context, limit int) ([]model.SearchMadeEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []model.SearchMadeEntity
	for _, s := range r.searches {
		if !s.NeedsToBeSearched {
			continue
		}
		pending = append(pending, s)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

// MarkSearchAsProcessed implements repository.SearchMadeRepository.
func (r *SearchMadeRepository) MarkSearchAsProcessed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.searches {
		if r.searches[i].ID == id {
			r.searches[i].NeedsToBeSearched = false
		}
	}
	return nil
}

// All returns a copy of every recorded search.
func (r *SearchMadeRepository) All() []model.SearchMadeEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.searches)
}

// DeletedEstablishmentRepository keeps tombstones by siret.
type DeletedEstablishmentRepository struct {
	mu      sync.RWMutex
	deleted map[string]model.DeletedEstablishment
}

// NewDeletedEstablishmentRepository returns an empty DeletedEstablishmentRepository.
func NewDeletedEstablishmentRepository() *DeletedEstablishmentRepository {
	return &DeletedEstablishmentRepository{deleted: make(map[string]model.DeletedEstablishment)}
}

// Save implements repository.DeletedEstablishmentRepository.
func (r *DeletedEstablishmentRepository) Save(_ context.Context, deleted model.DeletedEstablishment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[deleted.Siret] = deleted
	return nil
}

// AreSiretsDeleted implements repository.DeletedEstablishmentRepository.
func (r *DeletedEstablishmentRepository) AreSiretsDeleted(_ context.Context, sirets []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(sirets))
	for _, s := range sirets {
		_, ok := r.deleted[s]
		out[s] = ok
	}
	return out, nil
}

// GroupRepository maps group slugs to sirets.
type GroupRepository struct {
	mu     sync.Mutex
	groups map[string][]string
}

// NewGroupRepository returns an empty GroupRepository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{groups: make(map[string][]string)}
}

// SetGroup replaces the members of the group slug.
func (r *GroupRepository) SetGroup(slug string, sirets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[slug] = slices.Clone(sirets)
}

// Sirets returns the members of the group slug.
func (r *GroupRepository) Sirets(slug string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.groups[slug])
}

// RemoveSiretFromGroups implements repository.GroupRepository.
func (r *GroupRepository) RemoveSiretFromGroups(_ context.Context, siret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slug, sirets := range r.groups {
		r.groups[slug] = slices.DeleteFunc(sirets, func(s string) bool { return s == siret })
	}
	return nil
}

// UpdateSuggestionRepository remembers the last suggestion date per siret.
type UpdateSuggestionRepository struct {
	mu          sync.RWMutex
	suggestions map[string]time.Time
}

// NewUpdateSuggestionRepository returns an empty UpdateSuggestionRepository.
func NewUpdateSuggestionRepository() *UpdateSuggestionRepository {
	return &UpdateSuggestionRepository{suggestions: make(map[string]time.Time)}
}

// Save implements repository.UpdateSuggestionRepository.
func (r *UpdateSuggestionRepository) Save(_ context.Context, siret string, suggestedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suggestions[siret] = suggestedAt
	return nil
}

func (r *UpdateSuggestionRepository) suggestedSince(siret string, since time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.suggestions[siret]
	return ok && !at.Before(since)
}

// DiscussionRepository holds contact requests, counted by the searchability
// controller.
type DiscussionRepository struct {
	mu          sync.RWMutex
	discussions []model.Discussion
}

// NewDiscussionRepository returns an empty DiscussionRepository.
func NewDiscussionRepository() *DiscussionRepository { return &DiscussionRepository{} }

// Insert stores one discussion.
func (r *DiscussionRepository) Insert(_ context.Context, d model.Discussion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discussions = append(r.discussions, d)
	return nil
}

func (r *DiscussionRepository) countSince(siret string, since time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.discussions {
		if d.Siret == siret && !d.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}
