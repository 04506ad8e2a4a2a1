package portal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/internal/draft"
	"civreg/internal/platform/config"
	"civreg/internal/platform/logger"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	"civreg/pkg/testutil"
)

func openTab(t *testing.T, ctx context.Context, cfg config.Config, sid id.SessionID, storage draft.Storage) *Portal {
	t.Helper()
	p, err := New(ctx, cfg, sid,
		WithLogger(logger.Discard()),
		WithRegisterer(prometheus.NewRegistry()),
		WithSessionStorage(storage),
	)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, p.Close()) })
	require.NoError(t, p.Start(ctx))
	return p
}

func TestTwoTabsFollowOneDraft(t *testing.T) {
	user := testutil.NewUserID()
	ctx, sid := testutil.WithSession(context.Background(), user)
	storage := draft.NewMemoryStorage()
	cfg := config.Default()
	cfg.Backend.Driver = config.DriverSQLite
	cfg.Backend.DSN = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", filepath.Join(t.TempDir(), "civreg.db"))
	cfg.Backend.Migrate = true
	cfg.Draft.PollInterval = 20 * time.Millisecond

	testutil.Given(t, "two tabs on the same session", func(t *testing.T) {
		tabA := openTab(t, ctx, cfg, sid, storage)
		tabB := openTab(t, ctx, cfg, sid, storage)

		var rid id.RequestID
		testutil.When(t, "tab A starts a draft", func(t *testing.T) {
			r, err := tabA.Requests.CreateInitialRequest(ctx, models.CreateRequestInput{
				FirstName: "Juan",
				Purpose:   "School",
				IsDraft:   true,
			})
			require.NoError(t, err)
			rid = r.ID
		})

		testutil.Then(t, "tab B's owner form follows it", func(t *testing.T) {
			require.Eventually(t, func() bool {
				got, ok := tabB.Forms.RequestID()
				return ok && got == rid
			}, time.Second, 10*time.Millisecond)
		})

		testutil.When(t, "tab B deletes the draft", func(t *testing.T) {
			require.NoError(t, tabB.Requests.DeleteDraftWithCascade(ctx, rid))
		})

		testutil.Then(t, "both tabs forget the draft id", func(t *testing.T) {
			require.Eventually(t, func() bool {
				_, okA := tabA.Drafts.Current()
				_, okB := tabB.Drafts.Current()
				return !okA && !okB
			}, time.Second, 10*time.Millisecond)
		})
	})
}
