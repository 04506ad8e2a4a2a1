package state

import (
	"sort"

	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
)

// Reduce returns the state after applying a. Cache actions leave state as is;
// the Store applies them to the cache.
//
// Every transition is idempotent: applying the same action twice yields the
// same state as applying it once, so a realtime echo of a local write is harmless.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case FetchStarted:
		s.FetchGen = a.Gen
		s.Filters = a.Filters
		s.Loading = true
	case FetchSucceeded:
		if a.Gen != s.FetchGen {
			return s
		}
		s.Requests = cloneAll(a.Requests)
		s.Loading = false
		s.LastFetchTime = a.At
	case FetchFailed:
		if a.Gen == s.FetchGen {
			s.Loading = false
		}
	case OperationFailed:
		f := a.Failure
		s.Error = &f
		s.Loading = false
	case ErrorCleared:
		s.Error = nil
	case RequestLoaded:
		if a.Request == nil {
			return s
		}
		merged := a.Request.Clone()
		if prev, ok := s.Find(int64(a.Request.ID)); ok {
			merged = merge(prev, a.Request)
			s.Requests = replace(s.Requests, merged)
		}
		s.Current = merged
	case RequestCreated:
		if a.Request == nil {
			return s
		}
		s.Requests = prepend(s.Requests, a.Request.Clone())
	case RemoteInserted:
		if a.Request == nil {
			return s
		}
		if _, ok := s.Find(int64(a.Request.ID)); ok || !s.Filters.Matches(a.Request) {
			return s
		}
		s.Requests = prepend(s.Requests, a.Request.Clone())
	case RequestUpdated:
		if a.Request == nil {
			return s
		}
		if prev, ok := s.Find(int64(a.Request.ID)); ok {
			s.Requests = replace(s.Requests, merge(prev, a.Request))
		}
		if s.Current != nil && s.Current.ID == a.Request.ID {
			s.Current = merge(s.Current, a.Request)
		}
	case RequestDeleted:
		s.Requests = remove(s.Requests, a.ID)
		if s.Current != nil && s.Current.ID == a.ID {
			s.Current = nil
		}
	case CurrentCleared:
		s.Current = nil
	case StatusChanged:
		rid := a.Status.RequestID
		if prev, ok := s.Find(int64(rid)); ok {
			s.Requests = replace(s.Requests, withStatus(prev, a.Status))
		}
		if s.Current != nil && s.Current.ID == rid {
			s.Current = withStatus(s.Current, a.Status)
		}
	case StatusRemoved:
		if prev, ok := s.Find(int64(a.RequestID)); ok {
			s.Requests = replace(s.Requests, withoutStatus(prev, a.StatusID))
		}
		if s.Current != nil && s.Current.ID == a.RequestID {
			s.Current = withoutStatus(s.Current, a.StatusID)
		}
	}
	return s
}

// merge overlays next on prev. Relations next did not load are kept, and a
// stale echo can never move a submitted request back to draft.
func merge(prev, next *models.Request) *models.Request {
	out := next.Clone()
	if out.Owner == nil && prev.Owner != nil && ownerMatches(prev, out) {
		out.Owner = prev.Owner.Clone()
	}
	if out.Statuses == nil && prev.Statuses != nil {
		out.Statuses = append([]models.Status{}, prev.Statuses...)
	}
	if !prev.IsDraft {
		out.IsDraft = false
	}
	return out
}

func ownerMatches(prev, next *models.Request) bool {
	if next.OwnerID == nil {
		return false
	}
	return prev.Owner.ID == *next.OwnerID
}

func withStatus(r *models.Request, st models.Status) *models.Request {
	out := r.Clone()
	statuses := make([]models.Status, 0, len(out.Statuses)+1)
	for _, existing := range out.Statuses {
		if existing.ID != st.ID {
			statuses = append(statuses, existing)
		}
	}
	statuses = append(statuses, st)
	sortStatuses(statuses)
	out.Statuses = statuses
	return out
}

func withoutStatus(r *models.Request, statusID int64) *models.Request {
	out := r.Clone()
	statuses := make([]models.Status, 0, len(out.Statuses))
	for _, existing := range out.Statuses {
		if existing.ID != statusID {
			statuses = append(statuses, existing)
		}
	}
	out.Statuses = statuses
	return out
}

// sortStatuses orders newest first, ties broken by id.
func sortStatuses(statuses []models.Status) {
	sort.SliceStable(statuses, func(i, j int) bool {
		if !statuses[i].UpdatedAt.Equal(statuses[j].UpdatedAt) {
			return statuses[i].UpdatedAt.After(statuses[j].UpdatedAt)
		}
		return statuses[i].ID > statuses[j].ID
	})
}

func prepend(list []*models.Request, r *models.Request) []*models.Request {
	out := make([]*models.Request, 0, len(list)+1)
	out = append(out, r)
	for _, existing := range list {
		if existing.ID != r.ID {
			out = append(out, existing)
		}
	}
	return out
}

func replace(list []*models.Request, r *models.Request) []*models.Request {
	out := make([]*models.Request, len(list))
	for i, existing := range list {
		if existing.ID == r.ID {
			out[i] = r
		} else {
			out[i] = existing
		}
	}
	return out
}

func remove(list []*models.Request, rid id.RequestID) []*models.Request {
	out := make([]*models.Request, 0, len(list))
	for _, existing := range list {
		if existing.ID != rid {
			out = append(out, existing)
		}
	}
	return out
}

func cloneAll(list []*models.Request) []*models.Request {
	out := make([]*models.Request, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}
