package search

import (
	"context"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// GetOffer returns the internal offer of one establishment for one appellation.
type GetOffer struct {
	performer repository.Performer
}

// NewGetOffer returns a configured GetOffer.
func NewGetOffer(performer repository.Performer) *GetOffer {
	return &GetOffer{performer: performer}
}

// Execute returns the offer or a NotFoundError.
func (u *GetOffer) Execute(ctx context.Context, siret, appellationCode string) (*model.SearchResult, error) {
	var result *model.SearchResult
	err := u.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		res, err := uow.Establishments.GetSearchResultBySiretAndAppellationCode(ctx, siret, appellationCode)
		if err != nil {
			return err
		}
		if res == nil {
			return repository.OfferNotFound(siret, appellationCode)
		}
		result = res
		return nil
	})
	return result, err
}
