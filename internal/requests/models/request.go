package models

import (
	"time"

	id "civreg/pkg/domain"
)

// Request is a birth-certificate request (requester table), optionally with its
// owner aggregate and status history expanded.
//
// Invariants:
//   - IsDraft only ever goes from true to false
//   - Status and Certificate rows exist only when IsDraft is false
type Request struct {
	ID            id.RequestID `json:"req_id"`
	UserID        id.UserID    `json:"user_id"`
	FirstName     string       `json:"first_name"`
	LastName      string       `json:"last_name"`
	ContactNumber string       `json:"contact_number"`
	Purpose       string       `json:"purpose"`
	Specify       string       `json:"specify"`
	OwnerID       *id.OwnerID  `json:"owner_id,omitempty"`
	CertNumber    *string      `json:"cert_number,omitempty"`
	IsDraft       bool         `json:"is_draft"`
	CreatedAt     time.Time    `json:"created_at"`

	// Expanded relations. Statuses is newest first; nil means not loaded.
	Owner    *Owner   `json:"owner,omitempty"`
	Statuses []Status `json:"status,omitempty"`
}

// LatestStatus returns the most recently updated status, the one the portal
// treats as authoritative.
func (r *Request) LatestStatus() (Status, bool) {
	if len(r.Statuses) == 0 {
		return Status{}, false
	}
	latest := r.Statuses[0]
	for _, s := range r.Statuses[1:] {
		if s.UpdatedAt.After(latest.UpdatedAt) {
			latest = s
		}
	}
	return latest, true
}

// Clone deep-copies r so state snapshots never share mutable parts.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.OwnerID != nil {
		v := *r.OwnerID
		c.OwnerID = &v
	}
	if r.CertNumber != nil {
		v := *r.CertNumber
		c.CertNumber = &v
	}
	c.Owner = r.Owner.Clone()
	if r.Statuses != nil {
		c.Statuses = append([]Status{}, r.Statuses...)
	}
	return &c
}

// Status is one review state record of a submitted request.
type Status struct {
	ID        int64          `json:"status_id"`
	RequestID id.RequestID   `json:"req_id"`
	Value     id.StatusValue `json:"status_current"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Certificate is the birth certificate issued for a submitted request.
type Certificate struct {
	ID         int64        `json:"bc_id"`
	RequestID  id.RequestID `json:"req_id"`
	CertNumber string       `json:"cert_number"`
	IssueDate  *time.Time   `json:"issue_date,omitempty"`
}
