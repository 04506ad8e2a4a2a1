package draft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"civreg/internal/draft/mocks"
	"civreg/internal/platform/metrics"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/audit"
	civtest "civreg/pkg/testutil"
)

// =============================================================================
// Synchronizer Test Suite
// =============================================================================
// The draft id must stay consistent across memory, session storage and every
// consumer in the same context, and must never point at a request the user
// cannot keep editing.

type SynchronizerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	loader    *mocks.MockLoader
	publisher *mocks.MockAuditPublisher
	storage   *MemoryStorage
	metrics   *metrics.Metrics
	user      id.UserID
	session   id.SessionID
	ctx       context.Context
	syncer    *Synchronizer
}

func TestSynchronizerSuite(t *testing.T) {
	suite.Run(t, new(SynchronizerSuite))
}

func (s *SynchronizerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.loader = mocks.NewMockLoader(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.storage = NewMemoryStorage()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.user = civtest.NewUserID()
	s.ctx, s.session = civtest.WithSession(context.Background(), s.user)
	s.syncer = s.newSynchronizer()
}

func (s *SynchronizerSuite) newSynchronizer() *Synchronizer {
	return New(s.storage, s.session,
		WithMetrics(s.metrics),
		WithAuditPublisher(s.publisher),
		WithPollInterval(10*time.Millisecond),
	)
}

func (s *SynchronizerSuite) TearDownTest() {
	s.syncer.Close()
	s.ctrl.Finish()
}

func (s *SynchronizerSuite) draft(rid id.RequestID) *models.Request {
	return &models.Request{ID: rid, UserID: s.user, IsDraft: true}
}

// =============================================================================
// Writes
// =============================================================================

func (s *SynchronizerSuite) TestSetPersistsAndBroadcasts() {
	var seen []id.RequestID
	unsubscribe := s.syncer.Subscribe(func(rid id.RequestID, ok bool) {
		seen = append(seen, rid)
	})
	defer unsubscribe()

	s.Require().NoError(s.syncer.Set(s.ctx, 42))
	s.Require().NoError(s.syncer.Set(s.ctx, 42))

	raw, ok, err := s.storage.Get(s.ctx, s.session)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("42", raw)
	cur, ok := s.syncer.Current()
	s.True(ok)
	s.Equal(id.RequestID(42), cur)
	s.Equal([]id.RequestID{42}, seen, "unchanged value is not rebroadcast")

	s.Require().NoError(s.syncer.Clear(s.ctx))
	_, ok, _ = s.storage.Get(s.ctx, s.session)
	s.False(ok)
	s.Equal([]id.RequestID{42, 0}, seen)

	s.True(dErrors.HasCode(s.syncer.Set(s.ctx, 0), dErrors.CodeInvalidInput))
}

func (s *SynchronizerSuite) TestClearIfOnlyClearsMatchingID() {
	s.Require().NoError(s.syncer.Set(s.ctx, 7))

	cleared, err := s.syncer.ClearIf(s.ctx, 8)
	s.Require().NoError(err)
	s.False(cleared)
	_, ok := s.syncer.Current()
	s.True(ok)

	cleared, err = s.syncer.ClearIf(s.ctx, 7)
	s.Require().NoError(err)
	s.True(cleared)
	_, ok = s.syncer.Current()
	s.False(ok)
}

// =============================================================================
// Mount and self-healing
// =============================================================================

func (s *SynchronizerSuite) TestMountRestoresStoredDraft() {
	s.Require().NoError(s.storage.Set(s.ctx, s.session, "42"))
	s.loader.EXPECT().GetByID(gomock.Any(), "42").Return(s.draft(42), nil)

	r, err := s.syncer.Mount(s.ctx, s.loader)
	s.Require().NoError(err)
	s.Require().NotNil(r)
	s.Equal(id.RequestID(42), r.ID)
	cur, _ := s.syncer.Current()
	s.Equal(id.RequestID(42), cur)
}

func (s *SynchronizerSuite) TestMountWithoutStoredDraftLoadsList() {
	s.loader.EXPECT().FetchFiltered(gomock.Any(), models.FilterSpec{UserID: s.user}).Return(nil, nil)

	r, err := s.syncer.Mount(s.ctx, s.loader)
	s.Require().NoError(err)
	s.Nil(r)
}

func (s *SynchronizerSuite) TestMountHealsDanglingReferences() {
	foreign := s.draft(9)
	foreign.UserID = civtest.NewUserID()
	submitted := s.draft(10)
	submitted.IsDraft = false

	cases := []struct {
		name   string
		stored string
		expect func()
	}{
		{"deleted row", "41", func() {
			s.loader.EXPECT().GetByID(gomock.Any(), "41").Return(nil, dErrors.New(dErrors.CodeNotFound, "request not found"))
		}},
		{"foreign row", "9", func() {
			s.loader.EXPECT().GetByID(gomock.Any(), "9").Return(foreign, nil)
		}},
		{"submitted row", "10", func() {
			s.loader.EXPECT().GetByID(gomock.Any(), "10").Return(submitted, nil)
		}},
		{"malformed id", "abc", func() {
			s.loader.EXPECT().GetByID(gomock.Any(), "abc").Return(nil, dErrors.New(dErrors.CodeInvalidInput, "invalid request id"))
		}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.storage.SetWithoutNotify(s.ctx, s.session, tc.stored)
			tc.expect()
			s.loader.EXPECT().ClearCurrent(gomock.Any()).Return(nil)
			s.loader.EXPECT().FetchFiltered(gomock.Any(), models.FilterSpec{UserID: s.user}).Return([]*models.Request{}, nil)
			s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
				s.Equal(string(audit.EventDraftIdentityHealed), e.Action)
				s.Equal(s.user, e.UserID)
				return nil
			})

			r, err := s.syncer.Mount(s.ctx, s.loader)
			s.Require().NoError(err)
			s.Nil(r)
			_, ok, _ := s.storage.Get(s.ctx, s.session)
			s.False(ok, "stored value cleared")
			_, ok = s.syncer.Current()
			s.False(ok)
		})
	}
}

// =============================================================================
// Cross-context propagation and drift
// =============================================================================

func (s *SynchronizerSuite) TestOtherContextWritesPropagate() {
	// No drift poll here: only the storage watch may propagate.
	s.syncer = New(s.storage, s.session, WithPollInterval(time.Hour))
	other := s.newSynchronizer()
	defer other.Close()
	s.Require().NoError(s.syncer.Start(s.ctx))

	var mu sync.Mutex
	var seen []id.RequestID
	unsubscribe := s.syncer.Subscribe(func(rid id.RequestID, _ bool) {
		mu.Lock()
		seen = append(seen, rid)
		mu.Unlock()
	})
	defer unsubscribe()

	s.Require().NoError(other.Set(s.ctx, 5))
	s.Eventually(func() bool {
		cur, _ := s.syncer.Current()
		return cur == 5
	}, time.Second, 5*time.Millisecond)

	s.Require().NoError(other.Clear(s.ctx))
	s.Eventually(func() bool {
		_, ok := s.syncer.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]id.RequestID{5, 0}, seen)
}

func (s *SynchronizerSuite) TestDriftPollSelfCorrects() {
	s.Require().NoError(s.syncer.Set(s.ctx, 3))
	s.Require().NoError(s.syncer.Start(s.ctx))

	s.storage.SetWithoutNotify(s.ctx, s.session, "4")
	s.Eventually(func() bool {
		cur, _ := s.syncer.Current()
		return cur == 4
	}, time.Second, 5*time.Millisecond)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.DraftDriftCorrections))
}

func (s *SynchronizerSuite) TestCheckDriftWithoutChange() {
	s.Require().NoError(s.syncer.Set(s.ctx, 3))
	drifted, err := s.syncer.CheckDrift(s.ctx)
	s.Require().NoError(err)
	s.False(drifted)
}
