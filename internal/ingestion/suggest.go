package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/events"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// SuggestUpdates asks the establishments whose form data went stale to
// review it. A suggestion is sent at most once per staleness period.
type SuggestUpdates struct {
	performer repository.Performer
	publisher events.Publisher
	clock     model.Clock
	after     time.Duration
	logger    *zap.Logger
}

// NewSuggestUpdates returns a SuggestUpdates for establishments untouched for after.
func NewSuggestUpdates(performer repository.Performer, publisher events.Publisher, clock model.Clock, after time.Duration, logger *zap.Logger) *SuggestUpdates {
	return &SuggestUpdates{performer: performer, publisher: publisher, clock: clock, after: after, logger: logger}
}

// Execute returns the number of establishments notified.
func (u *SuggestUpdates) Execute(ctx context.Context) (int, error) {
	now := u.clock.Now()
	before := now.Add(-u.after)

	var sirets []string
	err := u.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		sirets, err = uow.Establishments.GetSiretOfEstablishmentsToSuggestUpdate(ctx, before)
		if err != nil {
			return err
		}
		for _, siret := range sirets {
			if err := uow.UpdateSuggestions.Save(ctx, siret, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, siret := range sirets {
		publish(ctx, u.publisher, u.logger, events.EstablishmentUpdateSuggested, siret, now)
	}
	u.logger.Info("establishment updates suggested", zap.Int("count", len(sirets)))
	return len(sirets), nil
}
