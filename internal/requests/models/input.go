package models

import (
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

func init() {
	govalidator.TagMap["isodate"] = govalidator.Validator(func(s string) bool {
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	})
}

// CreateRequestInput is the requester step of the form. UserID is taken from
// the signed-in session, never from user input.
type CreateRequestInput struct {
	UserID        id.UserID `valid:"-"`
	FirstName     string    `valid:"required~first name is required,length(1|100)"`
	LastName      string    `valid:"required~last name is required,length(1|100)"`
	ContactNumber string    `valid:"required~contact number is required,matches(^\\+?[0-9]+$)~contact number must be digits,length(7|16)~contact number must be 7 to 16 characters"`
	Purpose       string    `valid:"required~purpose is required,length(1|200)"`
	Specify       string    `valid:"length(0|500)"`
	IsDraft       bool      `valid:"-"`
}

// Normalize trims user-entered text.
func (in *CreateRequestInput) Normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.ContactNumber = strings.ReplaceAll(strings.TrimSpace(in.ContactNumber), " ", "")
	in.Purpose = strings.TrimSpace(in.Purpose)
	in.Specify = strings.TrimSpace(in.Specify)
}

// Validate checks the input. Drafts may be saved incomplete, so only the
// owning user is required for them.
func (in *CreateRequestInput) Validate() error {
	if in.UserID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "user id required")
	}
	if in.IsDraft {
		return nil
	}
	return ValidateStruct(in)
}

// DuplicateKey is the tuple the duplicate-submission check compares.
type DuplicateKey struct {
	UserID        id.UserID
	FirstName     string
	LastName      string
	ContactNumber string
	Purpose       string
}

func (in *CreateRequestInput) DuplicateKey() DuplicateKey {
	return DuplicateKey{
		UserID:        in.UserID,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		ContactNumber: in.ContactNumber,
		Purpose:       in.Purpose,
	}
}

// RequestPatch overwrites only the non-nil fields.
type RequestPatch struct {
	FirstName     *string
	LastName      *string
	ContactNumber *string
	Purpose       *string
	Specify       *string
	OwnerID       *id.OwnerID
	CertNumber    *string
	IsDraft       *bool
}

func (p RequestPatch) IsEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.ContactNumber == nil && p.Purpose == nil &&
		p.Specify == nil && p.OwnerID == nil && p.CertNumber == nil && p.IsDraft == nil
}

// Apply returns a copy of r with the patch applied.
func (p RequestPatch) Apply(r *Request) *Request {
	out := r.Clone()
	if p.FirstName != nil {
		out.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		out.LastName = *p.LastName
	}
	if p.ContactNumber != nil {
		out.ContactNumber = *p.ContactNumber
	}
	if p.Purpose != nil {
		out.Purpose = *p.Purpose
	}
	if p.Specify != nil {
		out.Specify = *p.Specify
	}
	if p.OwnerID != nil {
		v := *p.OwnerID
		out.OwnerID = &v
	}
	if p.CertNumber != nil {
		v := *p.CertNumber
		out.CertNumber = &v
	}
	if p.IsDraft != nil {
		out.IsDraft = *p.IsDraft
	}
	return out
}

// ValidateStruct runs govalidator tags and maps failures to CodeValidation.
func ValidateStruct(v any) error {
	if _, err := govalidator.ValidateStruct(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid input")
	}
	return nil
}
