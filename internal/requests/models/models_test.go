package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

func TestLatestStatusAndClone(t *testing.T) {
	owner := id.OwnerID(3)
	r := &Request{
		ID:      1,
		OwnerID: &owner,
		Owner:   &Owner{ID: 3, Address: &Address{City: "Cebu"}},
		Statuses: []Status{
			{Value: id.StatusPending, UpdatedAt: time.Unix(100, 0)},
			{Value: id.StatusRejected, UpdatedAt: time.Unix(300, 0)},
			{Value: id.StatusApproved, UpdatedAt: time.Unix(200, 0)},
		},
	}

	latest, ok := r.LatestStatus()
	require.True(t, ok)
	assert.Equal(t, id.StatusRejected, latest.Value)

	c := r.Clone()
	*c.OwnerID = 9
	c.Owner.Address.City = "Davao"
	c.Statuses[0].Value = id.StatusCancelled
	assert.Equal(t, id.OwnerID(3), *r.OwnerID)
	assert.Equal(t, "Cebu", r.Owner.Address.City)
	assert.Equal(t, id.StatusPending, r.Statuses[0].Value)

	_, ok = (&Request{}).LatestStatus()
	assert.False(t, ok)
}

func TestCreateRequestInputValidate(t *testing.T) {
	valid := CreateRequestInput{
		UserID:        id.UserID(uuid.New()),
		FirstName:     " Juan ",
		LastName:      "Dela Cruz",
		ContactNumber: "+63 917 123 4567",
		Purpose:       "School",
	}

	t.Run("normalized submission passes", func(t *testing.T) {
		in := valid
		in.Normalize()
		assert.Equal(t, "Juan", in.FirstName)
		assert.Equal(t, "+639171234567", in.ContactNumber)
		require.NoError(t, in.Validate())
	})

	t.Run("missing user fails as invalid input", func(t *testing.T) {
		in := valid
		in.UserID = id.UserID{}
		assert.True(t, dErrors.HasCode(in.Validate(), dErrors.CodeInvalidInput))
	})

	t.Run("bad contact fails validation", func(t *testing.T) {
		in := valid
		in.ContactNumber = "call me"
		assert.True(t, dErrors.HasCode(in.Validate(), dErrors.CodeValidation))
	})

	t.Run("incomplete draft is accepted", func(t *testing.T) {
		in := CreateRequestInput{UserID: valid.UserID, IsDraft: true}
		require.NoError(t, in.Validate())
	})
}

func TestOwnerValidation(t *testing.T) {
	o := Owner{
		FirstName:    "Ana",
		LastName:     "Reyes",
		Sex:          "female",
		DateOfBirth:  "2001-02-03",
		Nationality:  "Filipino",
		PlaceOfBirth: "Quezon City",
	}
	require.NoError(t, ValidateStruct(&o))

	o.DateOfBirth = "03/02/2001"
	assert.True(t, dErrors.HasCode(ValidateStruct(&o), dErrors.CodeValidation))
}

func TestNaturalKeys(t *testing.T) {
	assert.True(t, Parent{FatherFirstName: "  "}.IsBlank())
	assert.False(t, Parent{MotherLastName: "Santos"}.IsBlank())
	assert.Equal(t, "Manila", Address{City: " Manila "}.Trimmed().City)
	assert.True(t, Address{}.IsBlank())
}

func TestFilterSpecMatches(t *testing.T) {
	user := id.UserID(uuid.New())
	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r := &Request{UserID: user, Purpose: "School enrollment", IsDraft: false, CreatedAt: created}

	from := created.Add(-time.Hour)
	to := created.Add(time.Hour)
	early := created.Add(time.Minute)

	assert.True(t, FilterSpec{UserID: user, Purpose: "SCHOOL", IsDraft: Bool(false), CreatedFrom: &from, CreatedTo: &to}.Matches(r))
	assert.False(t, FilterSpec{UserID: id.UserID(uuid.New())}.Matches(r))
	assert.False(t, FilterSpec{IsDraft: Bool(true)}.Matches(r))
	assert.False(t, FilterSpec{CreatedFrom: &early}.Matches(r))

	t.Run("status applies only when loaded", func(t *testing.T) {
		f := FilterSpec{Status: id.StatusApproved}
		assert.True(t, f.Matches(r))
		r.Statuses = []Status{{Value: id.StatusPending}}
		assert.False(t, f.Matches(r))
	})

	assert.Equal(t, DefaultFetchLimit, FilterSpec{}.Normalize(0).Limit)
	assert.Equal(t, 25, FilterSpec{Limit: 25}.Normalize(100).Limit)
}

func TestRequestPatchApply(t *testing.T) {
	r := &Request{ID: 1, FirstName: "Juan", IsDraft: true}
	owner := id.OwnerID(5)
	out := RequestPatch{FirstName: String("Juana"), OwnerID: &owner, IsDraft: Bool(false)}.Apply(r)

	assert.Equal(t, "Juana", out.FirstName)
	assert.Equal(t, owner, *out.OwnerID)
	assert.False(t, out.IsDraft)
	assert.Equal(t, "Juan", r.FirstName, "source untouched")
	assert.True(t, RequestPatch{}.IsEmpty())
}
