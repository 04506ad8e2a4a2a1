package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"civreg/internal/gateway"
	"civreg/internal/gateway/memory"
	"civreg/internal/gateway/sqlgw"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
)

// StoreSuite runs the repository against each gateway implementation so the
// in-memory gateway stays faithful to the SQL one.
type StoreSuite struct {
	suite.Suite
	newGateway func(t *testing.T) gateway.Gateway

	store *Store
	ctx   context.Context
	user  id.UserID
	now   time.Time
}

func TestStoreWithMemoryGateway(t *testing.T) {
	suite.Run(t, &StoreSuite{newGateway: func(t *testing.T) gateway.Gateway {
		gw := memory.New()
		t.Cleanup(gw.Close)
		return gw
	}})
}

func TestStoreWithSQLiteGateway(t *testing.T) {
	suite.Run(t, &StoreSuite{newGateway: func(t *testing.T) gateway.Gateway {
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_time_format=sqlite", uuid.NewString())
		gw, err := sqlgw.Open(context.Background(), sqlgw.SQLite, dsn)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = gw.Close() })
		if err := gw.Migrate(context.Background()); err != nil {
			t.Fatal(err)
		}
		return gw
	}})
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = New(s.newGateway(s.T()))
	s.user = id.UserID(uuid.New())
	s.now = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) createRequest(purpose string, at time.Time) *models.Request {
	r, err := s.store.InsertRequest(s.ctx, models.CreateRequestInput{
		UserID:        s.user,
		FirstName:     "Juan",
		LastName:      "Dela Cruz",
		ContactNumber: "+639171234567",
		Purpose:       purpose,
	}, at)
	s.Require().NoError(err)
	return r
}

func (s *StoreSuite) submit(rid id.RequestID, status id.StatusValue, at time.Time) {
	_, err := s.store.UpdateRequest(s.ctx, rid, models.RequestPatch{IsDraft: models.Bool(false)})
	s.Require().NoError(err)
	_, err = s.store.InsertStatus(s.ctx, rid, status, at)
	s.Require().NoError(err)
}

func (s *StoreSuite) TestInsertAlwaysCreatesDraft() {
	r := s.createRequest("School", s.now)
	s.Positive(int64(r.ID))
	s.True(r.IsDraft)
	s.Equal(s.user, r.UserID)
	s.Nil(r.OwnerID)
	s.True(s.now.Equal(r.CreatedAt))
}

func (s *StoreSuite) TestFindRequestExpandsAggregate() {
	r := s.createRequest("School", s.now)
	parent, err := s.store.FindOrCreateParent(s.ctx, models.Parent{MotherFirstName: "Maria", MotherLastName: "Santos"})
	s.Require().NoError(err)
	address, err := s.store.FindOrCreateAddress(s.ctx, models.Address{Barangay: "San Roque", City: "Manila", Province: "NCR", Country: "PH"})
	s.Require().NoError(err)
	owner, err := s.store.InsertOwner(s.ctx, models.Owner{FirstName: "Ana", LastName: "Dela Cruz", ParentID: &parent.ID, AddressID: &address.ID})
	s.Require().NoError(err)
	_, err = s.store.UpdateRequest(s.ctx, r.ID, models.RequestPatch{OwnerID: &owner.ID})
	s.Require().NoError(err)
	s.submit(r.ID, id.StatusPending, s.now.Add(time.Minute))
	_, err = s.store.SetStatus(s.ctx, r.ID, id.StatusApproved, s.now.Add(2*time.Minute))
	s.Require().NoError(err)

	got, err := s.store.FindRequest(s.ctx, r.ID)
	s.Require().NoError(err)
	s.False(got.IsDraft)
	s.Require().NotNil(got.Owner)
	s.Equal("Ana", got.Owner.FirstName)
	s.Require().NotNil(got.Owner.Parent)
	s.Equal("Maria", got.Owner.Parent.MotherFirstName)
	s.Require().NotNil(got.Owner.Address)
	s.Equal("Manila", got.Owner.Address.City)
	latest, ok := got.LatestStatus()
	s.Require().True(ok)
	s.Equal(id.StatusApproved, latest.Value)

	_, err = s.store.FindRequest(s.ctx, 9999)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestListRequestsFilters() {
	a := s.createRequest("School", s.now)
	b := s.createRequest("Passport", s.now.Add(time.Hour))
	c := s.createRequest("School transfer", s.now.Add(2*time.Hour))
	s.submit(a.ID, id.StatusRejected, s.now)
	s.submit(c.ID, id.StatusPending, s.now)

	s.Run("newest first with limit", func() {
		got, err := s.store.ListRequests(s.ctx, models.FilterSpec{UserID: s.user, Limit: 2})
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(c.ID, got[0].ID)
		s.Equal(b.ID, got[1].ID)
	})

	s.Run("purpose substring and draft flag", func() {
		got, err := s.store.ListRequests(s.ctx, models.FilterSpec{UserID: s.user, Purpose: "school", IsDraft: models.Bool(false), Limit: 10})
		s.Require().NoError(err)
		s.Len(got, 2)
	})

	s.Run("status compares latest status before the limit", func() {
		got, err := s.store.ListRequests(s.ctx, models.FilterSpec{UserID: s.user, Status: id.StatusRejected, Limit: 1})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(a.ID, got[0].ID)
	})

	s.Run("date range", func() {
		from := s.now.Add(30 * time.Minute)
		to := s.now.Add(90 * time.Minute)
		got, err := s.store.ListRequests(s.ctx, models.FilterSpec{CreatedFrom: &from, CreatedTo: &to, Limit: 10})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(b.ID, got[0].ID)
	})
}

func (s *StoreSuite) TestDuplicatesAndLatestDraft() {
	a := s.createRequest("School", s.now)
	s.createRequest("School", s.now.Add(time.Hour))
	s.submit(a.ID, id.StatusPending, s.now)

	dups, err := s.store.FindDuplicates(s.ctx, models.DuplicateKey{
		UserID: s.user, FirstName: "Juan", LastName: "Dela Cruz", ContactNumber: "+639171234567", Purpose: "School",
	})
	s.Require().NoError(err)
	s.Require().Len(dups, 1, "drafts are not duplicates")
	s.Equal(a.ID, dups[0].ID)
	s.Len(dups[0].Statuses, 1)

	draft, err := s.store.LatestDraft(s.ctx, s.user)
	s.Require().NoError(err)
	s.True(draft.IsDraft)
	s.NotEqual(a.ID, draft.ID)

	_, err = s.store.LatestDraft(s.ctx, id.UserID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestStatusesAndCertificates() {
	r := s.createRequest("School", s.now)

	st, err := s.store.SetStatus(s.ctx, r.ID, id.StatusPending, s.now)
	s.Require().NoError(err, "inserts when no status exists")
	s.Equal(id.StatusPending, st.Value)

	_, err = s.store.SetStatus(s.ctx, r.ID, id.StatusCompleted, s.now.Add(time.Minute))
	s.Require().NoError(err)
	statuses, err := s.store.ListStatuses(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(statuses, 1)
	s.Equal(id.StatusCompleted, statuses[0].Value)

	number := CertificateNumber(r.ID, s.now)
	s.Equal(fmt.Sprintf("BC-2026-%06d", int64(r.ID)), number)
	_, err = s.store.InsertCertificate(s.ctx, r.ID, number)
	s.Require().NoError(err)
	cert, err := s.store.IssueCertificate(s.ctx, r.ID, s.now)
	s.Require().NoError(err)
	s.Require().NotNil(cert.IssueDate)
	s.Equal(number, cert.CertNumber)

	s.Require().NoError(s.store.DeleteCertificates(s.ctx, r.ID))
	s.Require().NoError(s.store.DeleteStatuses(s.ctx, r.ID))
	_, err = s.store.FindCertificate(s.ctx, r.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestFindOrCreateIsIdempotent() {
	addr := models.Address{HouseNo: "12", Street: "Rizal", Barangay: "San Roque", City: "Manila", Province: "NCR", Country: "PH"}
	first, err := s.store.FindOrCreateAddress(s.ctx, addr)
	s.Require().NoError(err)
	addr.City = "  Manila "
	second, err := s.store.FindOrCreateAddress(s.ctx, addr)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	other, err := s.store.FindOrCreateAddress(s.ctx, models.Address{City: "Cebu"})
	s.Require().NoError(err)
	s.NotEqual(first.ID, other.ID)

	p1, err := s.store.FindOrCreateParent(s.ctx, models.Parent{FatherFirstName: "Jose", MotherFirstName: "Maria"})
	s.Require().NoError(err)
	p2, err := s.store.FindOrCreateParent(s.ctx, models.Parent{FatherFirstName: "Jose", MotherFirstName: "Maria"})
	s.Require().NoError(err)
	s.Equal(p1.ID, p2.ID)
}

func (s *StoreSuite) TestOwnerLifecycle() {
	owner, err := s.store.InsertOwner(s.ctx, models.Owner{FirstName: "Ana", Sex: "female"})
	s.Require().NoError(err)
	s.Nil(owner.ParentID)

	updated, err := s.store.UpdateOwner(s.ctx, owner.ID, models.Owner{FirstName: "Anna", Sex: "female"})
	s.Require().NoError(err)
	s.Equal("Anna", updated.FirstName)

	s.Require().NoError(s.store.DeleteOwner(s.ctx, owner.ID))
	_, err = s.store.FindOwner(s.ctx, owner.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestUsers() {
	u, err := s.store.InsertUser(s.ctx, models.User{ID: s.user, FirstName: "Juan", Email: "juan@example.ph"}, s.now)
	s.Require().NoError(err)
	s.Equal(id.RoleUser, u.Role)

	admin, err := s.store.UpdateUserRole(s.ctx, s.user, id.RoleAdmin)
	s.Require().NoError(err)
	s.True(admin.IsAdmin())

	all, err := s.store.ListUsers(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)

	_, err = s.store.FindUser(s.ctx, id.UserID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
