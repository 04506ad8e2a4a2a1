package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	audit "civreg/pkg/platform/audit"
	"civreg/pkg/platform/audit/store/memory"
	"civreg/pkg/requestcontext"
	"civreg/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (s *recordingSink) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// gatedStore blocks every Append until release is closed.
type gatedStore struct {
	*memory.InMemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		InMemoryStore: memory.NewInMemoryStore(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedStore) Append(ctx context.Context, event audit.Event) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.InMemoryStore.Append(ctx, event)
}

type failingStore struct {
	*memory.InMemoryStore
}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("audit table locked")
}

// =============================================================================
// Stamping
// =============================================================================

func TestPublisher_StampsFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	userID := testutil.NewUserID()
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(testutil.At(context.Background(), at), "corr-7")

	require.NoError(t, pub.Emit(ctx, audit.Event{
		UserID:  userID,
		Subject: "request:7",
		Action:  string(audit.EventRequestSubmitted),
	}))

	events, err := pub.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
	assert.Equal(t, "corr-7", events[0].RequestID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_KeepsCallerFields(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	userID := testutil.NewUserID()
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(context.Background(), "from-context")

	require.NoError(t, pub.Emit(ctx, audit.Event{
		UserID:    userID,
		Action:    string(audit.EventUserRoleDenied),
		Category:  audit.CategoryCompliance,
		Timestamp: at,
		RequestID: "explicit",
	}))

	events, err := pub.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
	assert.Equal(t, "explicit", events[0].RequestID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

// =============================================================================
// Sink fan-out
// =============================================================================

func TestPublisher_SinkFailureDoesNotStopFanOut(t *testing.T) {
	store := memory.NewInMemoryStore()
	broken := &recordingSink{err: errors.New("broker down")}
	healthy := &recordingSink{}
	pub := NewPublisher(store, WithSink(broken), WithSink(nil), WithSink(healthy))
	defer pub.Close()

	userID := testutil.NewUserID()
	for _, action := range []audit.AuditEvent{audit.EventOwnerSaved, audit.EventDraftDeleted} {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			UserID:  userID,
			Subject: "request:42",
			Action:  string(action),
		}), "sink failures do not fail the emit")
	}

	require.Equal(t, 2, broken.len())
	require.Equal(t, 2, healthy.len())
	assert.Equal(t, audit.CategoryOperations, healthy.events[0].Category)
	assert.Equal(t, audit.CategoryCompliance, healthy.events[1].Category)

	stored, err := pub.List(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestPublisher_StoreFailureSkipsSinks(t *testing.T) {
	sink := &recordingSink{}
	pub := NewPublisher(failingStore{memory.NewInMemoryStore()}, WithSink(sink))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		UserID: testutil.NewUserID(),
		Action: string(audit.EventRequestDeleted),
	})
	require.Error(t, err)
	assert.Zero(t, sink.len(), "sinks only see stored events")
}

func TestPublisher_AsyncFanOut(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{err: errors.New("broker down")}
	pub := NewPublisher(store, WithAsyncBuffer(8), WithSink(sink))

	userID := testutil.NewUserID()
	for range 5 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			UserID: userID,
			Action: string(audit.EventRequestCreated),
		}))
	}
	pub.Close()

	stored, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, stored, 5, "close drains the buffer")
	assert.Equal(t, 5, sink.len())
}

// =============================================================================
// Buffer and shutdown
// =============================================================================

func TestPublisher_FullBufferDropsEvent(t *testing.T) {
	store := newGatedStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))

	userID := testutil.NewUserID()
	emit := func() error {
		return pub.Emit(context.Background(), audit.Event{UserID: userID, Action: string(audit.EventOwnerSaved)})
	}
	require.NoError(t, emit())
	<-store.entered
	require.NoError(t, emit())
	require.ErrorIs(t, emit(), ErrBufferFull)

	close(store.release)
	pub.Close()

	stored, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestPublisher_EmitWhileCloseDrains(t *testing.T) {
	store := newGatedStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))

	userID := testutil.NewUserID()
	event := audit.Event{UserID: userID, Action: string(audit.EventRequestSubmitted)}
	require.NoError(t, pub.Emit(context.Background(), event))
	<-store.entered
	require.NoError(t, pub.Emit(context.Background(), event))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		pub.Close()
	}()

	// The buffer is full, so an emit that beats Close gets ErrBufferFull
	// and leaves nothing behind.
	require.Eventually(t, func() bool {
		return errors.Is(pub.Emit(context.Background(), event), ErrClosed)
	}, time.Second, 5*time.Millisecond)

	select {
	case <-closed:
		t.Fatal("close returned before the buffer drained")
	default:
	}

	close(store.release)
	<-closed

	stored, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "queued events survive close")
	require.ErrorIs(t, pub.Emit(context.Background(), event), ErrClosed)
	pub.Close()
}

func TestPublisher_CancelledContextWithFullBuffer(t *testing.T) {
	store := newGatedStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))

	event := audit.Event{UserID: testutil.NewUserID(), Action: string(audit.EventRequestUpdated)}
	require.NoError(t, pub.Emit(context.Background(), event))
	<-store.entered
	require.NoError(t, pub.Emit(context.Background(), event))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.Emit(ctx, event)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrBufferFull), "got %v", err)

	close(store.release)
	pub.Close()
}
