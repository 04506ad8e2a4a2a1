package owner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"civreg/internal/draft"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

type FormSuite struct {
	suite.Suite
	forms  *FormStore
	syncer *draft.Synchronizer
	ctx    context.Context
}

func TestFormSuite(t *testing.T) {
	suite.Run(t, new(FormSuite))
}

func (s *FormSuite) SetupTest() {
	s.ctx = context.Background()
	s.forms = NewFormStore()
	s.syncer = draft.New(draft.NewMemoryStorage(), id.SessionID{})
}

func (s *FormSuite) TearDownTest() {
	s.forms.Unfollow()
}

func (s *FormSuite) TestPhases() {
	_, phase := s.forms.Snapshot()
	s.Equal(PhaseEmpty, phase)

	s.Require().NoError(s.forms.Edit(func(f *Form) { f.Owner.FirstName = "Ana" }))
	form, phase := s.forms.Snapshot()
	s.Equal(PhaseEditing, phase)
	s.Equal("Ana", form.Owner.FirstName)

	s.forms.markSaved(7, true)
	_, phase = s.forms.Snapshot()
	s.Equal(PhaseSavedAsDraft, phase)

	s.forms.markSaved(7, false)
	_, phase = s.forms.Snapshot()
	s.Equal(PhaseSubmitted, phase)

	err := s.forms.Edit(func(f *Form) { f.Owner.FirstName = "Bea" })
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	s.forms.Reset()
	form, phase = s.forms.Snapshot()
	s.Equal(PhaseEmpty, phase)
	s.Empty(form.Owner.FirstName)
	_, ok := s.forms.RequestID()
	s.False(ok)
}

func (s *FormSuite) TestLoadPrefillsSavedDraft() {
	s.forms.Load(4, &models.Owner{
		ID:        2,
		FirstName: "Ana",
		Parent:    &models.Parent{MotherFirstName: "Maria"},
		Address:   &models.Address{City: "Cebu"},
	})

	form, phase := s.forms.Snapshot()
	s.Equal(PhaseSavedAsDraft, phase)
	s.Equal("Ana", form.Owner.FirstName)
	s.Nil(form.Owner.Parent)
	s.Equal("Maria", form.Parent.MotherFirstName)
	s.Equal("Cebu", form.Address.City)

	s.forms.Load(5, nil)
	_, phase = s.forms.Snapshot()
	s.Equal(PhaseEmpty, phase)
}

// =============================================================================
// Following the draft id
// =============================================================================
// The form belongs to exactly one draft. Another draft id arriving through the
// synchronizer must not leak the previous draft's fields into it.

func (s *FormSuite) TestFollowResetsOnNewDraft() {
	s.Require().NoError(s.syncer.Set(s.ctx, 1))
	s.forms.Follow(s.syncer)

	rid, ok := s.forms.RequestID()
	s.Require().True(ok)
	s.Equal(id.RequestID(1), rid)

	s.Require().NoError(s.forms.Edit(func(f *Form) { f.Owner.FirstName = "Ana" }))
	s.Require().NoError(s.syncer.Set(s.ctx, 1))
	form, _ := s.forms.Snapshot()
	s.Equal("Ana", form.Owner.FirstName, "same id keeps the fields")

	s.Require().NoError(s.syncer.Set(s.ctx, 2))
	form, phase := s.forms.Snapshot()
	s.Equal(PhaseEmpty, phase)
	s.Empty(form.Owner.FirstName)
	rid, _ = s.forms.RequestID()
	s.Equal(id.RequestID(2), rid)
}

func (s *FormSuite) TestClearAfterSubmissionKeepsForm() {
	s.forms.Follow(s.syncer)
	s.Require().NoError(s.syncer.Set(s.ctx, 3))
	s.Require().NoError(s.forms.Edit(func(f *Form) { f.Owner.FirstName = "Ana" }))
	s.forms.markSaved(3, false)

	s.Require().NoError(s.syncer.Clear(s.ctx))

	form, phase := s.forms.Snapshot()
	s.Equal(PhaseSubmitted, phase)
	s.Equal("Ana", form.Owner.FirstName)
	_, ok := s.forms.RequestID()
	s.False(ok)
}

func (s *FormSuite) TestUnfollowStopsTracking() {
	s.forms.Follow(s.syncer)
	s.forms.Unfollow()

	s.Require().NoError(s.syncer.Set(s.ctx, 9))
	_, ok := s.forms.RequestID()
	s.False(ok)
}
