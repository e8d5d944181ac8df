package core

import (
	"context"

	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// AlertDispatcher dispatches alerts to the HTTP alert sink configured on the alert's site.
type AlertDispatcher interface {
	// Dispatch schedules delivery of an alert to its site's configured HTTP alert sink.
	// Returns an error if the site or sink cannot be loaded or scheduling fails.
	Dispatch(ctx context.Context, alert *model.Alert) error
}
