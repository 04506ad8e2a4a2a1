package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type requestID int64

func TestFilterMatches(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	row := Row{
		"req_id":     int64(7),
		"purpose":    "School Enrollment",
		"is_draft":   int64(1),
		"owner_id":   nil,
		"created_at": created,
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq on typed id", Eq("req_id", requestID(7)), true},
		{"eq mismatch", Eq("req_id", 8), false},
		{"eq nil matches null", Eq("owner_id", nil), true},
		{"eq bool against integer encoding", Eq("is_draft", true), true},
		{"ilike substring case-insensitive", ILike("purpose", "%school%"), true},
		{"ilike anchored", ILike("purpose", "enrollment%"), false},
		{"contains escapes wildcards", Contains("purpose", "100%"), false},
		{"gte time", Gte("created_at", created.Add(-time.Hour)), true},
		{"lte time", Lte("created_at", created.Add(-time.Hour)), false},
		{"gte against text timestamp", Gte("created_at", "2026-02-28 00:00:00"), true},
		{"in set", In("req_id", int64(1), int64(7)), true},
		{"empty in set", In("req_id"), false},
		{"is null", IsNull("owner_id"), true},
		{"is null on absent column", IsNull("cert_number"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(row))
		})
	}
}

func TestSortRows(t *testing.T) {
	rows := []Row{
		{"req_id": int64(1), "created_at": time.Unix(100, 0)},
		{"req_id": int64(2), "created_at": nil},
		{"req_id": int64(3), "created_at": time.Unix(300, 0)},
		{"req_id": int64(4), "created_at": time.Unix(300, 0)},
	}

	SortRows(rows, []Order{Desc("created_at"), Desc("req_id")})

	var got []int64
	for _, r := range rows {
		id, _ := r.Int64("req_id")
		got = append(got, id)
	}
	assert.Equal(t, []int64{2, 4, 3, 1}, got, "nulls first when descending, ties broken by id")
}

func TestRowAccessors(t *testing.T) {
	row := Row{
		"req_id":     "42",
		"is_draft":   false,
		"created_at": "2026-10-19 08:30:00",
		"owner":      Row{"owner_id": int64(3)},
		"status":     []Row{{"status_current": "pending"}},
	}

	id, ok := row.Int64("req_id")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.False(t, row.Bool("is_draft"))

	ts, ok := row.Time("created_at")
	assert.True(t, ok)
	assert.Equal(t, 8, ts.Hour())

	owner, ok := row.One("owner")
	assert.True(t, ok)
	ownerID, _ := owner.Int64("owner_id")
	assert.Equal(t, int64(3), ownerID)
	assert.Len(t, row.Many("status"), 1)

	clone := row.Clone()
	clone.Many("status")[0]["status_current"] = "approved"
	assert.Equal(t, "pending", row.Many("status")[0].String("status_current"), "clone is deep")
}
