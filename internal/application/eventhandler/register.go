package eventhandler

import (
	"errors"

	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

// Handlers bundles the sync handlers for registration on a bus.
type Handlers struct {
	UserAuthenticated *OnUserAuthenticatedHandler
	AppForegrounded   *OnAppForegroundedHandler
	UserSignedOut     *OnUserSignedOutHandler
}

// Register subscribes every non-nil handler to its event type.
func (h Handlers) Register(sub shared.EventSubscriber) error {
	var errs []error
	if h.UserAuthenticated != nil {
		errs = append(errs, sub.Subscribe(shared.EventUserAuthenticated, h.UserAuthenticated.Handle))
	}
	if h.AppForegrounded != nil {
		errs = append(errs, sub.Subscribe(shared.EventAppForegrounded, h.AppForegrounded.Handle))
	}
	if h.UserSignedOut != nil {
		errs = append(errs, sub.Subscribe(shared.EventUserSignedOut, h.UserSignedOut.Handle))
	}
	return errors.Join(errs...)
}
