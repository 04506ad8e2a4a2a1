package models

import (
	"strings"
	"time"

	id "civreg/pkg/domain"
)

// DefaultFetchLimit caps listing fetches when the filter names no limit.
const DefaultFetchLimit = 100

// FilterSpec narrows a request listing. Zero values mean "any".
// Results are always ordered newest first.
type FilterSpec struct {
	UserID      id.UserID
	Status      id.StatusValue
	Purpose     string
	IsDraft     *bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
}

// Normalize trims the purpose and applies the default limit.
func (f FilterSpec) Normalize(defaultLimit int) FilterSpec {
	if defaultLimit <= 0 {
		defaultLimit = DefaultFetchLimit
	}
	f.Purpose = strings.TrimSpace(f.Purpose)
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	return f
}

// Matches reports whether r satisfies the filter. The status filter compares
// the latest status and only applies when statuses were loaded.
func (f FilterSpec) Matches(r *Request) bool {
	if r == nil {
		return false
	}
	if !f.UserID.IsNil() && r.UserID != f.UserID {
		return false
	}
	if f.IsDraft != nil && r.IsDraft != *f.IsDraft {
		return false
	}
	if f.Purpose != "" && !strings.Contains(strings.ToLower(r.Purpose), strings.ToLower(f.Purpose)) {
		return false
	}
	if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && r.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.Status != "" && r.Statuses != nil {
		latest, ok := r.LatestStatus()
		if !ok || latest.Value != f.Status {
			return false
		}
	}
	return true
}

// Bool returns a pointer to b, for filter and patch literals.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }
