package inmemory

import (
	"context"

	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// Repositories keeps the concrete in-memory stores so tests and the
// IN_MEMORY mode can seed them directly.
type Repositories struct {
	Establishments    *EstablishmentAggregateRepository
	SearchesMade      *SearchMadeRepository
	Deleted           *DeletedEstablishmentRepository
	Groups            *GroupRepository
	UpdateSuggestions *UpdateSuggestionRepository
	Romes             *RomeRepository
	Discussions       *DiscussionRepository
}

// NewRepositories returns empty, wired stores.
func NewRepositories() *Repositories {
	romes := NewRomeRepository()
	discussions := NewDiscussionRepository()
	suggestions := NewUpdateSuggestionRepository()
	return &Repositories{
		Establishments:    NewEstablishmentAggregateRepository(romes, discussions, suggestions),
		SearchesMade:      NewSearchMadeRepository(),
		Deleted:           NewDeletedEstablishmentRepository(),
		Groups:            NewGroupRepository(),
		UpdateSuggestions: suggestions,
		Romes:             romes,
		Discussions:       discussions,
	}
}

// UnitOfWork exposes the stores through the repository contracts.
func (r *Repositories) UnitOfWork() *repository.UnitOfWork {
	return &repository.UnitOfWork{
		Establishments:    r.Establishments,
		SearchesMade:      r.SearchesMade,
		Deleted:           r.Deleted,
		Groups:            r.Groups,
		UpdateSuggestions: r.UpdateSuggestions,
		Romes:             r.Romes,
	}
}

// Performer runs units of work directly on the shared stores. There is no
// rollback: writes done before an error stay applied.
type Performer struct {
	uow *repository.UnitOfWork
}

// NewPerformer returns a Performer over repos.
func NewPerformer(repos *Repositories) *Performer {
	return &Performer{uow: repos.UnitOfWork()}
}

// Perform calls fn directly; nothing is rolled back on error.
func (p *Performer) Perform(ctx context.Context, fn func(ctx context.Context, uow *repository.UnitOfWork) error) error {
	return fn(ctx, p.uow)
}
