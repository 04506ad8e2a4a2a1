package sqlgw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"civreg/internal/gateway"
)

// NotifyChannel is the postgres channel the schema triggers notify on.
const NotifyChannel = "civreg_changes"

// Listener turns postgres notifications into feed changes.
type Listener struct {
	l      *pq.Listener
	feed   *gateway.Feed
	logger *slog.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

type notifyPayload struct {
	Table string          `json:"table"`
	Type  string          `json:"type"`
	Row   json.RawMessage `json:"row"`
	Old   json.RawMessage `json:"old"`
}

// NewListener connects a dedicated listener connection and starts dispatching.
func NewListener(dsn string, feed *gateway.Feed, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pl := pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("postgres listener event", "event", int(ev), "error", err)
		}
	})
	if err := pl.Listen(NotifyChannel); err != nil {
		_ = pl.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	l := &Listener{l: pl, feed: feed, logger: logger, done: make(chan struct{})}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

func (l *Listener) run() {
	defer l.wg.Done()
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected; notifications sent while disconnected are lost.
				l.logger.Warn("postgres listener reconnected")
				continue
			}
			c, err := decodeChange(n.Extra)
			if err != nil {
				l.logger.Error("decode change notification", "error", err)
				continue
			}
			l.feed.Publish(c)
		case <-ping.C:
			if err := l.l.Ping(); err != nil {
				l.logger.Warn("postgres listener ping", "error", err)
			}
		}
	}
}

// Close stops dispatching and closes the listener connection.
func (l *Listener) Close() error {
	close(l.done)
	err := l.l.Close()
	l.wg.Wait()
	return err
}

func decodeChange(payload string) (gateway.Change, error) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return gateway.Change{}, err
	}
	t := gateway.Table(p.Table)
	if !t.Valid() {
		return gateway.Change{}, fmt.Errorf("unknown table %q", p.Table)
	}
	typ := gateway.EventType(strings.ToUpper(p.Type))
	switch typ {
	case gateway.EventInsert, gateway.EventUpdate, gateway.EventDelete:
	default:
		return gateway.Change{}, fmt.Errorf("unknown event type %q", p.Type)
	}
	row, err := decodeRow(p.Row)
	if err != nil {
		return gateway.Change{}, err
	}
	old, err := decodeRow(p.Old)
	if err != nil {
		return gateway.Change{}, err
	}
	return gateway.Change{Table: t, Type: typ, Row: row, Old: old}, nil
}

func decodeRow(raw json.RawMessage) (gateway.Row, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	r := make(gateway.Row, len(m))
	for k, v := range m {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				r[k] = i
				continue
			}
			f, _ := n.Float64()
			r[k] = f
			continue
		}
		r[k] = v
	}
	return r, nil
}
