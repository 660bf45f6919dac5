// Package memory implements store.GraphStore over an immutable in-process snapshot.
//
// It backs tests and fixture-driven local runs. Lexical search is Okapi BM25
// over node content, ids and tags. Vector rerank embeds node content on demand
// through the configured embedder.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"sync/atomic"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/fingerprint"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type snapshot struct {
	etag  string
	nodes map[string]common.Node
	ids   []string
	index *bm25Index
}

// Store is safe for concurrent use. Replace swaps the whole snapshot atomically.
type Store struct {
	current  atomic.Pointer[snapshot]
	embedder store.Embedder
}

type Option func(*Store)

// WithEmbedder enables VectorRerank.
func WithEmbedder(e store.Embedder) Option {
	return func(s *Store) {
		s.embedder = e
	}
}

// New builds a store from nodes. The snapshot etag is the fingerprint of the node set.
func New(nodes []common.Node, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if err := s.Replace(nodes); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads a JSON fixture that is either an array of nodes or {"nodes": [...]}.
func Load(path string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph fixture: %w", err)
	}
	var nodes []common.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		var wrapped struct {
			Nodes []common.Node `json:"nodes"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse graph fixture: %w", err)
		}
		nodes = wrapped.Nodes
	}
	return New(nodes, opts...)
}

// Replace installs a new snapshot. Link arrays must reference known ids.
func (s *Store) Replace(nodes []common.Node) error {
	byID := make(map[string]common.Node, len(nodes))
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("duplicate node id %s", n.ID)
		}
		byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, ref := range n.Links() {
			if _, ok := byID[ref]; !ok {
				return fmt.Errorf("node %s references unknown id %s", n.ID, ref)
			}
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	ordered := make([]common.Node, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, byID[id])
	}
	etag, err := fingerprint.Fingerprint(ordered)
	if err != nil {
		return fmt.Errorf("failed to fingerprint snapshot: %w", err)
	}

	s.current.Store(&snapshot{
		etag:  etag,
		nodes: byID,
		ids:   ids,
		index: newBM25Index(ordered),
	})
	return nil
}

func (s *Store) snap() *snapshot {
	return s.current.Load()
}

func (s *Store) CurrentSnapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.snap().etag, nil
}

func (s *Store) ResolveBySlug(ctx context.Context, id string) (*common.Node, string, error) {
	snap := s.snap()
	if err := ctx.Err(); err != nil {
		return nil, snap.etag, err
	}
	n, ok := snap.nodes[id]
	if !ok {
		return nil, snap.etag, nil
	}
	return &n, snap.etag, nil
}

func (s *Store) LexicalSearch(ctx context.Context, text string, limit int) ([]common.ScoredNode, string, error) {
	snap := s.snap()
	if err := ctx.Err(); err != nil {
		return nil, snap.etag, err
	}
	terms := store.DedupeStrings(util.Tokenize(text))
	var hits []common.ScoredNode
	for i, id := range snap.ids {
		score := snap.index.score(i, terms)
		if score <= 0 {
			continue
		}
		hits = append(hits, common.ScoredNode{Node: snap.nodes[id], Score: store.LexicalConfidence(score)})
	}
	store.SortScored(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, snap.etag, nil
}

func (s *Store) VectorRerank(ctx context.Context, candidates []common.ScoredNode, text string) ([]common.ScoredNode, string, error) {
	snap := s.snap()
	if s.embedder == nil {
		return nil, snap.etag, fmt.Errorf("vector rerank requires an embedder")
	}
	query, err := s.embedder.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, snap.etag, fmt.Errorf("failed to embed query: %w", err)
	}
	out := make([]common.ScoredNode, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, snap.etag, err
		}
		vec, err := s.embedder.GenerateEmbedding(ctx, []byte(c.Node.Content()))
		if err != nil {
			return nil, snap.etag, fmt.Errorf("failed to embed node %s: %w", c.Node.ID, err)
		}
		out = append(out, common.ScoredNode{Node: c.Node, Score: math.Max(0, store.CosineSimilarity(query, vec))})
	}
	store.SortScored(out)
	return out, snap.etag, nil
}

func (s *Store) ExpandOneHop(ctx context.Context, anchorID string, emit func(common.Neighbor) error) (string, error) {
	snap := s.snap()
	anchor, ok := snap.nodes[anchorID]
	if !ok {
		return snap.etag, fmt.Errorf("anchor %s not in snapshot", anchorID)
	}

	seen := map[string]struct{}{anchorID: {}}
	var connected, incoming, outgoing []common.Node
	add := func(n common.Node) {
		if _, dup := seen[n.ID]; dup {
			return
		}
		seen[n.ID] = struct{}{}
		if n.Kind != common.KindTransition {
			connected = append(connected, n)
			return
		}
		switch {
		case n.To == anchorID:
			incoming = append(incoming, n)
		case n.From == anchorID:
			outgoing = append(outgoing, n)
		}
	}

	for _, ref := range anchor.Links() {
		if n, ok := snap.nodes[ref]; ok {
			add(n)
		}
	}
	for _, id := range snap.ids {
		n := snap.nodes[id]
		if slices.Contains(n.Links(), anchorID) {
			add(n)
		}
	}

	store.SortNodes(connected)
	store.SortNodes(incoming)
	store.SortNodes(outgoing)

	groups := []struct {
		dir   common.Direction
		nodes []common.Node
	}{
		{common.Connected, connected},
		{common.Incoming, incoming},
		{common.Outgoing, outgoing},
	}
	for _, g := range groups {
		for _, n := range g.nodes {
			if err := ctx.Err(); err != nil {
				return snap.etag, err
			}
			if err := emit(common.Neighbor{Direction: g.dir, Node: n}); err != nil {
				return snap.etag, err
			}
		}
	}
	return snap.etag, nil
}
