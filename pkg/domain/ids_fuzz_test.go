//go:build go1.18

package domain

import (
	"testing"
)

// FuzzParseRequestID checks that parsing never panics and that accepted
// values round-trip through their string form.
func FuzzParseRequestID(f *testing.F) {
	f.Add("")
	f.Add("42")
	f.Add("-1")
	f.Add("0042")
	f.Add("'; DROP TABLE requester;--")
	f.Add(string([]byte{0x00, 0x31}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseRequestID(input)
		if err != nil {
			return
		}
		if id <= 0 {
			t.Errorf("accepted non-positive id %d from %q", id, input)
		}
		again, err := ParseRequestID(id.String())
		if err != nil {
			t.Errorf("round-trip failed for %q: %v", input, err)
		}
		if again != id {
			t.Errorf("round-trip changed %d to %d", id, again)
		}
	})
}
