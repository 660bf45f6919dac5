// Package expand collects the one-hop neighbourhood of an anchor node.
package expand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"
)

// DefaultTimeout bounds a single expansion.
const DefaultTimeout = 250 * time.Millisecond

// Result is the expansion outcome together with the snapshot it was read from.
type Result struct {
	Candidates common.Candidates `json:"candidates"`
	Etag       string            `json:"snapshot_etag"`
	Elapsed    time.Duration     `json:"-"`
}

type Expander struct {
	store   store.GraphStore
	timeout time.Duration
}

func New(s store.GraphStore, timeout time.Duration) *Expander {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Expander{store: s, timeout: timeout}
}

// Expand gathers every direct neighbour of anchorID without a count limit.
//
// When the expansion's own deadline expires it returns what was collected so far
// with Candidates.Partial set. Cancellation of ctx itself is returned as an error.
func (e *Expander) Expand(ctx context.Context, anchorID string) (*Result, error) {
	start := time.Now()
	ectx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out common.Candidates
	etag, err := e.store.ExpandOneHop(ectx, anchorID, func(n common.Neighbor) error {
		switch n.Direction {
		case common.Connected:
			out.Events = append(out.Events, n.Node)
		case common.Incoming:
			out.TransitionsIn = append(out.TransitionsIn, n.Node)
		case common.Outgoing:
			out.TransitionsOut = append(out.TransitionsOut, n.Node)
		default:
			return fmt.Errorf("unknown neighbour direction %s", n.Direction)
		}
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) && ectx.Err() == nil {
			return nil, fmt.Errorf("expansion of %s failed: %w", anchorID, err)
		}
		out.Partial = true
		logger.Warn("Expansion timed out, continuing with partial neighbourhood",
			"anchor_id", anchorID, "collected", out.Len(), "timeout", e.timeout)
	}

	return &Result{Candidates: out, Etag: etag, Elapsed: time.Since(start)}, nil
}
