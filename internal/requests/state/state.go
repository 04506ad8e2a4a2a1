// Package state holds the Request Store's state, the actions that change it
// and the single-writer loop that applies them. Every mutation of the request
// list, the focused request and the entity cache funnels through Dispatch.
package state

import (
	"time"

	"civreg/internal/requests/models"
	dErrors "civreg/pkg/domain-errors"
)

// Failure is the error mirrored into state for passive observers.
type Failure struct {
	Code    dErrors.Code
	Message string
	At      time.Time
}

// State is an immutable snapshot. Reduce never mutates a State it was given;
// changed slices and requests are copied.
type State struct {
	Requests      []*models.Request
	Loading       bool
	Error         *Failure
	Current       *models.Request
	Filters       models.FilterSpec
	LastFetchTime time.Time
	// FetchGen identifies the latest listing fetch. Results of older
	// generations are discarded.
	FetchGen uint64
}

// Find returns the listed request with id rid.
func (s State) Find(rid int64) (*models.Request, bool) {
	for _, r := range s.Requests {
		if int64(r.ID) == rid {
			return r, true
		}
	}
	return nil, false
}
