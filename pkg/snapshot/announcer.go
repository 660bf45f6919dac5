package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
)

// PublishFunc delivers an encoded Message on RoutingKey.
type PublishFunc func(ctx context.Context, body []byte) error

// Announcer watches a Source and publishes its etag whenever it moves.
type Announcer struct {
	src      Source
	publish  PublishFunc
	interval time.Duration
	now      func() time.Time

	last string
}

func NewAnnouncer(src Source, interval time.Duration, publish PublishFunc) *Announcer {
	return &Announcer{src: src, publish: publish, interval: interval, now: time.Now}
}

// Publish announces etag unconditionally.
func (a *Announcer) Publish(ctx context.Context, etag string) error {
	if etag == "" {
		return fmt.Errorf("refusing to announce an empty snapshot etag")
	}
	body, err := json.Marshal(Message{SnapshotEtag: etag, PublishedAt: a.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot message: %w", err)
	}
	if err := a.publish(ctx, body); err != nil {
		return fmt.Errorf("failed to publish snapshot message: %w", err)
	}
	a.last = etag
	return nil
}

// Check publishes the source's etag if it differs from the last one announced.
func (a *Announcer) Check(ctx context.Context) (bool, error) {
	etag, err := a.src.CurrentSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot etag: %w", err)
	}
	if etag == "" || etag == a.last {
		return false, nil
	}
	if err := a.Publish(ctx, etag); err != nil {
		return false, err
	}
	logger.Info("Announced snapshot", "snapshot_etag", etag)
	return true, nil
}

// Run checks immediately and then every interval until ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	if a.interval <= 0 {
		return fmt.Errorf("announcer interval must be positive")
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if _, err := a.Check(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Snapshot announcement failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
