// Package searchability turns searchability back on for establishments
// whose weekly contact cap is no longer reached.
package searchability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// Window is the period over which discussions count against the cap.
const Window = 7 * 24 * time.Hour

// Controller puts back in search the establishments whose weekly contact
// quota has room again.
type Controller struct {
	performer repository.Performer
	clock     model.Clock
	logger    *zap.Logger
}

// NewController returns a configured Controller.
func NewController(performer repository.Performer, clock model.Clock, logger *zap.Logger) *Controller {
	return &Controller{performer: performer, clock: clock, logger: logger}
}

// Execute returns the number of establishments made searchable again.
func (c *Controller) Execute(ctx context.Context) (int, error) {
	since := c.clock.Now().Add(-Window)

	var n int
	err := c.performer.Perform(ctx, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		n, err = uow.Establishments.MarkEstablishmentAsSearchableWhenRecentDiscussionAreUnderMaxContactPerWeek(ctx, since)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.logger.Info("establishments made searchable again", zap.Int("count", n), zap.Time("since", since))
	return n, nil
}
