package draft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversSynchronouslyInOrder(t *testing.T) {
	b := NewBus()
	var got []string
	stopA := b.Subscribe(func(Change) { got = append(got, "a") })
	b.Subscribe(func(Change) { got = append(got, "b") })

	b.Publish(changeOf(1))
	assert.Equal(t, []string{"a", "b"}, got)

	stopA()
	stopA()
	b.Publish(changeOf(0))
	assert.Equal(t, []string{"a", "b", "b"}, got)
}

func TestParseChange(t *testing.T) {
	rid, ok := parseChange(changeOf(12))
	assert.True(t, ok)
	assert.EqualValues(t, 12, rid)

	_, ok = parseChange(changeOf(0))
	assert.False(t, ok)

	bad := "12abc"
	_, ok = parseChange(Change{Key: StorageKey, NewValue: &bad})
	assert.False(t, ok)
}
