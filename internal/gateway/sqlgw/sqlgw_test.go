package sqlgw

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"civreg/internal/gateway"
	"civreg/pkg/platform/sentinel"
)

// SQLiteGatewaySuite runs the SQL gateway against an in-memory SQLite database
// with foreign keys enforced, so referential ordering bugs surface here.
type SQLiteGatewaySuite struct {
	suite.Suite
	gw  *Gateway
	ctx context.Context
}

func TestSQLiteGatewaySuite(t *testing.T) {
	suite.Run(t, new(SQLiteGatewaySuite))
}

func testDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_time_format=sqlite", uuid.NewString())
}

func (s *SQLiteGatewaySuite) SetupTest() {
	s.ctx = context.Background()
	gw, err := Open(s.ctx, SQLite, testDSN())
	s.Require().NoError(err)
	s.Require().NoError(gw.Migrate(s.ctx))
	s.gw = gw
}

func (s *SQLiteGatewaySuite) TearDownTest() {
	s.Require().NoError(s.gw.Close())
}

func (s *SQLiteGatewaySuite) insert(t gateway.Table, row gateway.Row) gateway.Row {
	out, err := s.gw.Insert(s.ctx, t, row)
	s.Require().NoError(err)
	return out
}

func (s *SQLiteGatewaySuite) TestMigrateIsIdempotent() {
	s.Require().NoError(s.gw.Migrate(s.ctx))
}

func (s *SQLiteGatewaySuite) TestInsertReturnsStoredRow() {
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	row := s.insert(gateway.TableRequester, gateway.Row{
		"user_id":    "u-1",
		"first_name": "Juan",
		"created_at": at,
	})

	id, ok := row.Int64("req_id")
	s.True(ok)
	s.Positive(id)
	s.True(row.Bool("is_draft"), "storage default is draft")
	s.True(row.IsNull("owner_id"))

	got, ok := row.Time("created_at")
	s.Require().True(ok)
	s.True(at.Equal(got))
}

func (s *SQLiteGatewaySuite) TestFiltersAndOrdering() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, purpose := range []string{"School", "Passport", "School transfer", "Employment"} {
		s.insert(gateway.TableRequester, gateway.Row{
			"user_id":    "u-1",
			"purpose":    purpose,
			"is_draft":   i%2 == 0,
			"created_at": base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}

	s.Run("pattern and range", func() {
		rows, err := s.gw.Select(s.ctx, gateway.TableRequester, gateway.Query{
			Filters: []gateway.Filter{
				gateway.Contains("purpose", "school"),
				gateway.Gte("created_at", base.Add(12*time.Hour)),
			},
		})
		s.Require().NoError(err)
		s.Require().Len(rows, 1)
		s.Equal("School transfer", rows[0].String("purpose"))
	})

	s.Run("in-set, boolean and ordering", func() {
		rows, err := s.gw.Select(s.ctx, gateway.TableRequester, gateway.Query{
			Filters: []gateway.Filter{
				gateway.In("purpose", "School", "School transfer", "Employment"),
				gateway.Eq("is_draft", true),
			},
			Order: []gateway.Order{gateway.Desc("created_at")},
			Limit: 10,
		})
		s.Require().NoError(err)
		s.Require().Len(rows, 2)
		s.Equal("School transfer", rows[0].String("purpose"))
		s.Equal("School", rows[1].String("purpose"))
	})

	s.Run("empty in-set matches nothing", func() {
		rows, err := s.gw.Select(s.ctx, gateway.TableRequester, gateway.Where(gateway.In("purpose")))
		s.Require().NoError(err)
		s.Empty(rows)
	})

	s.Run("rejects unsafe identifiers", func() {
		_, err := s.gw.Select(s.ctx, gateway.TableRequester, gateway.Where(gateway.Eq(`purpose"; DROP TABLE users; --`, "x")))
		s.Require().Error(err)
	})
}

func (s *SQLiteGatewaySuite) TestNestedExpansion() {
	parent := s.insert(gateway.TableParent, gateway.Row{"father_first_name": "Jose", "mother_first_name": "Maria"})
	address := s.insert(gateway.TableAddress, gateway.Row{"city": "Manila", "country": "Philippines"})
	owner := s.insert(gateway.TableOwner, gateway.Row{
		"first_name": "Ana",
		"parent_id":  parent["parent_id"],
		"address_id": address["address_id"],
	})
	req := s.insert(gateway.TableRequester, gateway.Row{"user_id": "u-1", "owner_id": owner["owner_id"]})
	bare := s.insert(gateway.TableRequester, gateway.Row{"user_id": "u-1"})
	s.insert(gateway.TableStatus, gateway.Row{"req_id": req["req_id"], "status_current": "pending", "updated_at": time.Unix(100, 0).UTC()})
	s.insert(gateway.TableStatus, gateway.Row{"req_id": req["req_id"], "status_current": "rejected", "updated_at": time.Unix(200, 0).UTC()})

	rows, err := s.gw.Select(s.ctx, gateway.TableRequester, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("user_id", "u-1")},
		Order:   []gateway.Order{gateway.Asc("req_id")},
		Expand: []gateway.Expand{
			{
				Name: "owner", Table: gateway.TableOwner, LocalKey: "owner_id", ForeignKey: "owner_id",
				Expand: []gateway.Expand{
					{Name: "parent", Table: gateway.TableParent, LocalKey: "parent_id", ForeignKey: "parent_id"},
					{Name: "address", Table: gateway.TableAddress, LocalKey: "address_id", ForeignKey: "address_id"},
				},
			},
			{
				Name: "status", Table: gateway.TableStatus, LocalKey: "req_id", ForeignKey: "req_id",
				Many: true, Order: []gateway.Order{gateway.Desc("updated_at")},
			},
		},
	})
	s.Require().NoError(err)
	s.Require().Len(rows, 2)

	o, ok := rows[0].One("owner")
	s.Require().True(ok)
	a, ok := o.One("address")
	s.Require().True(ok)
	s.Equal("Manila", a.String("city"))
	s.Equal("rejected", rows[0].Many("status")[0].String("status_current"))

	bareID, _ := bare.Int64("req_id")
	gotID, _ := rows[1].Int64("req_id")
	s.Equal(bareID, gotID)
	_, ok = rows[1].One("owner")
	s.False(ok)
	s.Empty(rows[1].Many("status"))
}

func (s *SQLiteGatewaySuite) TestUpdateDeleteAndReferentialActions() {
	owner := s.insert(gateway.TableOwner, gateway.Row{"first_name": "Ana"})
	req := s.insert(gateway.TableRequester, gateway.Row{"user_id": "u-1", "owner_id": owner["owner_id"]})
	s.insert(gateway.TableStatus, gateway.Row{"req_id": req["req_id"], "status_current": "pending"})
	match := []gateway.Filter{gateway.Eq("req_id", req["req_id"])}

	updated, err := s.gw.Update(s.ctx, gateway.TableRequester, match, gateway.Row{"is_draft": false})
	s.Require().NoError(err)
	s.False(updated.Bool("is_draft"))

	_, err = s.gw.Update(s.ctx, gateway.TableRequester, []gateway.Filter{gateway.Eq("req_id", 9999)}, gateway.Row{"purpose": "x"})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// Owner goes first: the request reference is nulled rather than blocking the delete.
	s.Require().NoError(s.gw.Delete(s.ctx, gateway.TableOwner, []gateway.Filter{gateway.Eq("owner_id", owner["owner_id"])}))
	got, err := s.gw.SelectOne(s.ctx, gateway.TableRequester, gateway.Where(match...))
	s.Require().NoError(err)
	s.True(got.IsNull("owner_id"))

	s.Require().NoError(s.gw.Delete(s.ctx, gateway.TableRequester, match))
	_, err = s.gw.SelectOne(s.ctx, gateway.TableRequester, gateway.Where(match...))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	statuses, err := s.gw.Select(s.ctx, gateway.TableStatus, gateway.Where(match...))
	s.Require().NoError(err)
	s.Empty(statuses)

	s.Require().NoError(s.gw.Delete(s.ctx, gateway.TableRequester, match), "deleting nothing is fine")
}

func (s *SQLiteGatewaySuite) TestLocalChangeFeed() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	sub, err := s.gw.Subscribe(ctx, gateway.TableRequester, nil)
	s.Require().NoError(err)
	defer sub.Close()

	req := s.insert(gateway.TableRequester, gateway.Row{"user_id": "u-1"})
	match := []gateway.Filter{gateway.Eq("req_id", req["req_id"])}
	_, err = s.gw.Update(s.ctx, gateway.TableRequester, match, gateway.Row{"purpose": "School"})
	s.Require().NoError(err)
	s.Require().NoError(s.gw.Delete(s.ctx, gateway.TableRequester, match))

	want := []gateway.EventType{gateway.EventInsert, gateway.EventUpdate, gateway.EventDelete}
	for _, typ := range want {
		select {
		case c := <-sub.Changes():
			s.Equal(typ, c.Type)
			id, _ := c.Row.Int64("req_id")
			reqID, _ := req.Int64("req_id")
			s.Equal(reqID, id)
		case <-time.After(time.Second):
			s.FailNow("timed out waiting for change")
		}
	}
}

func TestDecodeChange(t *testing.T) {
	payload := `{"table":"requester","type":"UPDATE","row":{"req_id":42,"is_draft":false,"created_at":"2026-10-19T08:00:00.5+00:00"},"old":{"req_id":42,"is_draft":true}}`
	c, err := decodeChange(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Table != gateway.TableRequester || c.Type != gateway.EventUpdate {
		t.Fatalf("unexpected change header: %+v", c)
	}
	if id, _ := c.Row.Int64("req_id"); id != 42 {
		t.Fatalf("req_id = %d", id)
	}
	if c.Row.Bool("is_draft") || !c.Old.Bool("is_draft") {
		t.Fatalf("is_draft not decoded: %+v", c)
	}
	if _, ok := c.Row.Time("created_at"); !ok {
		t.Fatalf("created_at not parseable")
	}

	if _, err := decodeChange(`{"table":"secrets","type":"INSERT","row":{}}`); err == nil {
		t.Fatal("expected unknown table to fail")
	}
}
