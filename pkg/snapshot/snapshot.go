// Package snapshot tracks the process-wide snapshot etag of the graph corpus.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
)

// RoutingKey is the topic snapshot changes are announced on.
const RoutingKey = "snapshot.updated"

// Message is the body of a snapshot announcement.
type Message struct {
	SnapshotEtag string    `json:"snapshot_etag"`
	PublishedAt  time.Time `json:"published_at,omitzero"`
}

// Source reports the etag the graph store currently serves.
type Source interface {
	CurrentSnapshot(ctx context.Context) (string, error)
}

// Tracker holds the current etag. Readers see every update atomically.
type Tracker struct {
	etag    atomic.Pointer[string]
	changes atomic.Int64
}

func NewTracker(initial string) *Tracker {
	t := &Tracker{}
	t.etag.Store(&initial)
	return t
}

// Current is the etag a new request should observe.
func (t *Tracker) Current() string {
	if p := t.etag.Load(); p != nil {
		return *p
	}
	return ""
}

// Changes counts how often the etag moved since the tracker was created.
func (t *Tracker) Changes() int64 {
	return t.changes.Load()
}

// Observe adopts etag if it is non-empty and differs from the current one.
func (t *Tracker) Observe(etag string) bool {
	etag = strings.TrimSpace(etag)
	if etag == "" {
		return false
	}
	for {
		cur := t.etag.Load()
		if cur != nil && *cur == etag {
			return false
		}
		if t.etag.CompareAndSwap(cur, &etag) {
			t.changes.Add(1)
			prev := ""
			if cur != nil {
				prev = *cur
			}
			logger.Info("Snapshot etag changed", "from", prev, "to", etag)
			return true
		}
	}
}

// Refresh reads the etag from src.
func (t *Tracker) Refresh(ctx context.Context, src Source) error {
	etag, err := src.CurrentSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read snapshot etag: %w", err)
	}
	t.Observe(etag)
	return nil
}

// HandleMessage applies a snapshot announcement.
func (t *Tracker) HandleMessage(body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode snapshot message: %w", err)
	}
	if strings.TrimSpace(msg.SnapshotEtag) == "" {
		return fmt.Errorf("snapshot message without etag")
	}
	t.Observe(msg.SnapshotEtag)
	return nil
}

// Poll refreshes from src every interval until ctx is done.
func (t *Tracker) Poll(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Refresh(ctx, src); err != nil && ctx.Err() == nil {
				logger.Warn("Snapshot poll failed", "err", err)
			}
		}
	}
}
