package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/internal/gateway"
)

func change(rid int64) gateway.Change {
	return gateway.Change{Table: gateway.TableRequester, Type: gateway.EventUpdate, Row: gateway.Row{"req_id": rid}}
}

func reqIDs(batch []gateway.Change) []int64 {
	out := make([]int64, len(batch))
	for i, c := range batch {
		out[i], _ = c.Row.Int64("req_id")
	}
	return out
}

func TestDrainBatchKeepsArrivalOrder(t *testing.T) {
	m := NewMailbox(100)
	for i := int64(1); i <= 25; i++ {
		require.True(t, m.Push(change(i)))
	}

	batch, overflowed := m.DrainBatch(10)
	assert.False(t, overflowed)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, reqIDs(batch))
	assert.Equal(t, 15, m.Len())

	batch, _ = m.DrainBatch(10)
	assert.Equal(t, int64(11), reqIDs(batch)[0])
	batch, _ = m.DrainBatch(10)
	assert.Len(t, batch, 5)
	batch, _ = m.DrainBatch(10)
	assert.Empty(t, batch)
}

func TestOverflowIsReportedOnce(t *testing.T) {
	m := NewMailbox(2)
	assert.True(t, m.Push(change(1)))
	assert.True(t, m.Push(change(2)))
	assert.False(t, m.Push(change(3)))

	batch, overflowed := m.DrainBatch(10)
	assert.True(t, overflowed)
	assert.Equal(t, []int64{1, 2}, reqIDs(batch))

	_, overflowed = m.DrainBatch(10)
	assert.False(t, overflowed)
}

func TestReadySignalsAfterPush(t *testing.T) {
	m := NewMailbox(10)
	select {
	case <-m.Ready():
		t.Fatal("ready before any push")
	default:
	}
	m.Push(change(1))
	m.Push(change(2))
	<-m.Ready()
	assert.Equal(t, 2, m.Len())
}

type chanSub struct {
	ch chan gateway.Change
}

func (s chanSub) Changes() <-chan gateway.Change { return s.ch }
func (s chanSub) Close() error                   { return nil }

func TestForwardStopsWhenSubscriptionEnds(t *testing.T) {
	sub := chanSub{ch: make(chan gateway.Change, 4)}
	m := NewMailbox(2)
	var overflows int
	var mu sync.Mutex

	sub.ch <- change(1)
	sub.ch <- change(2)
	sub.ch <- change(3)
	close(sub.ch)

	Forward(context.Background(), sub, m, func() {
		mu.Lock()
		overflows++
		mu.Unlock()
	})
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 1, overflows)
}
