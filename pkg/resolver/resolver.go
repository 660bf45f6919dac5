// Package resolver maps a user reference to a single anchor node.
//
// Resolution runs Start -> Slug -> Lexical -> Vector -> NotFound and stops at
// the first state that produces a candidate above its threshold.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"
)

// ErrAnchorNotFound is returned when no candidate clears the minimum confidence.
var ErrAnchorNotFound = errors.New("anchor not found")

// Method records how an anchor was resolved.
type Method string

const (
	MethodSlug    Method = "slug"
	MethodLexical Method = "lexical"
	MethodVector  Method = "vector"
)

// AnchorRef is the raw user reference plus an optional known-slug hint.
type AnchorRef struct {
	Raw      string `json:"raw"`
	SlugHint string `json:"slug_hint,omitempty"`
}

// ResolvedAnchor is the result of a successful resolution.
type ResolvedAnchor struct {
	ID         string      `json:"id"`
	Confidence float64     `json:"confidence"`
	Method     Method      `json:"method"`
	Node       common.Node `json:"node"`
}

// Config holds the resolver thresholds.
type Config struct {
	// LexicalThreshold accepts the top lexical hit without rerank.
	LexicalThreshold float64
	// MinConfidence is the floor every accepted candidate must clear.
	MinConfidence float64
	// TopN is the number of lexical candidates considered for rerank.
	TopN int
}

func DefaultConfig() Config {
	return Config{
		LexicalThreshold: 0.5,
		MinConfidence:    0.2,
		TopN:             10,
	}
}

// Result carries the anchor with the etag of the snapshot it was read from
// and the candidates considered, for auditing.
type Result struct {
	Anchor     ResolvedAnchor      `json:"anchor"`
	Etag       string              `json:"snapshot_etag"`
	Input      string              `json:"input"`
	Candidates []common.ScoredNode `json:"candidates,omitempty"`
	Reranked   bool                `json:"reranked"`
}

type Resolver struct {
	store  store.GraphStore
	config Config
}

func New(s store.GraphStore, config Config) *Resolver {
	if config.TopN <= 0 {
		config.TopN = DefaultConfig().TopN
	}
	return &Resolver{store: s, config: config}
}

// Resolve maps ref to an anchor. enableEmbeddings allows the vector rerank state.
// It returns ErrAnchorNotFound (wrapped) when nothing clears MinConfidence.
func (r *Resolver) Resolve(ctx context.Context, ref AnchorRef, enableEmbeddings bool) (*Result, error) {
	input := util.NormalizeWhitespace(ref.Raw)
	key := util.NormalizeKey(ref.Raw)

	for _, slug := range []string{ref.SlugHint, key} {
		if !util.IsNodeID(slug) {
			continue
		}
		node, etag, err := r.store.ResolveBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("slug lookup failed: %w", err)
		}
		if node != nil {
			return &Result{
				Anchor: ResolvedAnchor{ID: node.ID, Confidence: 1.0, Method: MethodSlug, Node: *node},
				Etag:   etag,
				Input:  input,
			}, nil
		}
	}

	if input == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrAnchorNotFound)
	}

	hits, etag, err := r.store.LexicalSearch(ctx, input, r.config.TopN)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	res := &Result{Etag: etag, Input: input, Candidates: hits}

	if len(hits) > 0 && hits[0].Score >= r.config.LexicalThreshold {
		res.Anchor = anchorFrom(hits[0], MethodLexical)
		return res, nil
	}

	if enableEmbeddings && len(hits) > 0 {
		reranked, rerankEtag, err := r.store.VectorRerank(ctx, hits, input)
		if err != nil {
			return nil, fmt.Errorf("vector rerank failed: %w", err)
		}
		res.Etag = rerankEtag
		res.Candidates = reranked
		res.Reranked = true
		if len(reranked) > 0 && reranked[0].Score >= r.config.MinConfidence {
			res.Anchor = anchorFrom(reranked[0], MethodVector)
			return res, nil
		}
		return nil, fmt.Errorf("%w: best vector similarity below %.2f", ErrAnchorNotFound, r.config.MinConfidence)
	}

	if len(hits) > 0 && hits[0].Score >= r.config.MinConfidence {
		res.Anchor = anchorFrom(hits[0], MethodLexical)
		return res, nil
	}
	return nil, fmt.Errorf("%w: no candidate above %.2f for %q", ErrAnchorNotFound, r.config.MinConfidence, input)
}

func anchorFrom(hit common.ScoredNode, method Method) ResolvedAnchor {
	return ResolvedAnchor{ID: hit.Node.ID, Confidence: hit.Score, Method: method, Node: hit.Node}
}
