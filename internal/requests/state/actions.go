package state

import (
	"time"

	"civreg/internal/requests/cache"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
)

// Action is one state transition.
type Action interface {
	Name() string
}

// FetchStarted begins listing generation Gen.
type FetchStarted struct {
	Gen     uint64
	Filters models.FilterSpec
}

// FetchSucceeded replaces the list if Gen is still the latest generation.
type FetchSucceeded struct {
	Gen      uint64
	Requests []*models.Request
	At       time.Time
}

// FetchFailed ends generation Gen without touching the list.
type FetchFailed struct {
	Gen uint64
}

// OperationFailed records a backend failure for observers.
type OperationFailed struct {
	Failure Failure
}

type ErrorCleared struct{}

// RequestLoaded focuses r and refreshes its listed copy.
type RequestLoaded struct {
	Request *models.Request
}

// RequestCreated prepends a locally created request.
type RequestCreated struct {
	Request *models.Request
}

// RemoteInserted prepends a request pushed by the backend when it matches the
// active filters and is not listed yet.
type RemoteInserted struct {
	Request *models.Request
}

// RequestUpdated overwrites the listed and focused copies of a request.
// Relations absent from Request (nil Owner or Statuses) keep their previous value.
type RequestUpdated struct {
	Request *models.Request
}

type RequestDeleted struct {
	ID id.RequestID
}

type CurrentCleared struct{}

// StatusChanged upserts a status row into its request's history.
type StatusChanged struct {
	Status models.Status
}

// StatusRemoved drops a status row from its request's history.
type StatusRemoved struct {
	RequestID id.RequestID
	StatusID  int64
}

// CachePut stores a read result in the entity cache.
type CachePut struct {
	Key   string
	Value any
	TTL   time.Duration
}

// CacheInvalidate purges cache entries. Request purges that request's entry and
// all listings; Listings purges listings only; Ops purges whole operations.
// Keys drops single entries.
type CacheInvalidate struct {
	Request  *id.RequestID
	Listings bool
	Ops      []cache.Op
	Keys     []string
}

func (FetchStarted) Name() string    { return "fetch_started" }
func (FetchSucceeded) Name() string  { return "fetch_succeeded" }
func (FetchFailed) Name() string     { return "fetch_failed" }
func (OperationFailed) Name() string { return "operation_failed" }
func (ErrorCleared) Name() string    { return "error_cleared" }
func (RequestLoaded) Name() string   { return "request_loaded" }
func (RequestCreated) Name() string  { return "request_created" }
func (RemoteInserted) Name() string  { return "remote_inserted" }
func (RequestUpdated) Name() string  { return "request_updated" }
func (RequestDeleted) Name() string  { return "request_deleted" }
func (CurrentCleared) Name() string  { return "current_cleared" }
func (StatusChanged) Name() string   { return "status_changed" }
func (StatusRemoved) Name() string   { return "status_removed" }
func (CachePut) Name() string        { return "cache_put" }
func (CacheInvalidate) Name() string { return "cache_invalidate" }
