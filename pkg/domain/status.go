package domain

import dErrors "civreg/pkg/domain-errors"

// StatusValue is the review state of a submitted request.
// Invariant: the value is one of the five supported statuses.
type StatusValue string

const (
	StatusPending   StatusValue = "pending"
	StatusApproved  StatusValue = "approved"
	StatusCompleted StatusValue = "completed"
	StatusRejected  StatusValue = "rejected"
	StatusCancelled StatusValue = "cancelled"
)

// StatusClass groups status values that the portal treats as equivalent.
type StatusClass int

const (
	ClassInFlight StatusClass = iota
	ClassSuccess
	ClassFailure
)

var statusClasses = map[StatusValue]StatusClass{
	StatusPending:   ClassInFlight,
	StatusApproved:  ClassSuccess,
	StatusCompleted: ClassSuccess,
	StatusRejected:  ClassFailure,
	StatusCancelled: ClassFailure,
}

// ParseStatus constructs a StatusValue from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseStatus(s string) (StatusValue, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "status cannot be empty")
	}
	v := StatusValue(s)
	if !v.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid status")
	}
	return v, nil
}

func (s StatusValue) IsValid() bool {
	_, ok := statusClasses[s]
	return ok
}

// Class returns the equivalence class; unknown values are treated as in flight.
func (s StatusValue) Class() StatusClass {
	return statusClasses[s]
}

// IsTerminal reports whether the request has reached a success or failure outcome.
func (s StatusValue) IsTerminal() bool {
	return s.IsValid() && s.Class() != ClassInFlight
}

// Equivalent reports whether two statuses fall in the same class
// (approved ~ completed, rejected ~ cancelled, pending alone).
func (s StatusValue) Equivalent(other StatusValue) bool {
	return s.IsValid() && other.IsValid() && s.Class() == other.Class()
}

func (s StatusValue) String() string {
	return string(s)
}

// Role gates administrative capability.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role value.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
}
