package store

import (
	"context"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
)

// GraphStore is the read-only query interface of a versioned decision graph.
//
// Every read reports the snapshot etag of the corpus version it was served
// from, so callers can detect that the graph changed underneath them.
type GraphStore interface {
	// ResolveBySlug returns the node with exactly this id, or nil if there is none.
	ResolveBySlug(ctx context.Context, id string) (*common.Node, string, error)

	// LexicalSearch runs a BM25-style full-text search over node content.
	// Scores are confidences in [0, 1), ordered by score desc then id asc.
	LexicalSearch(ctx context.Context, text string, limit int) ([]common.ScoredNode, string, error)

	// VectorRerank rescores the candidates by embedding similarity to text.
	// Scores are cosine similarities, ordered by score desc then id asc.
	VectorRerank(ctx context.Context, candidates []common.ScoredNode, text string) ([]common.ScoredNode, string, error)

	// ExpandOneHop streams every direct neighbour of the anchor to emit.
	// Neighbours already emitted stay valid if the call ends early with an error.
	ExpandOneHop(ctx context.Context, anchorID string, emit func(common.Neighbor) error) (string, error)

	// CurrentSnapshot returns the etag of the current corpus version.
	CurrentSnapshot(ctx context.Context) (string, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}
