package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	BeginTx(ctx context.Context, txOptions pgxv5.TxOptions) (pgxv5.Tx, error)
}

// ErrNoSnapshot is returned when the snapshot table has not been populated by ingest.
var ErrNoSnapshot = errors.New("graph snapshot etag not set")

// GraphDBStorage implements store.GraphStore on PostgreSQL with pgvector.
//
// Every read runs in a read-only repeatable-read transaction together with the
// snapshot lookup, so the reported etag always matches the rows returned.
type GraphDBStorage struct {
	conn     pgxIConn
	embedder store.Embedder
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithEmbedder sets the client used to embed query text for VectorRerank.
func WithEmbedder(e store.Embedder) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.embedder = e
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing pool or connection.
// The pool must have pgvector types registered.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *GraphDBStorage) withSnapshot(ctx context.Context, fn func(tx pgxv5.Tx) error) (string, error) {
	tx, err := s.conn.BeginTx(ctx, pgxv5.TxOptions{
		IsoLevel:   pgxv5.RepeatableRead,
		AccessMode: pgxv5.ReadOnly,
	})
	if err != nil {
		return "", fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var etag string
	if err := tx.QueryRow(ctx, currentSnapshotSQL).Scan(&etag); err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return "", ErrNoSnapshot
		}
		return "", fmt.Errorf("failed to read snapshot etag: %w", err)
	}
	if err := fn(tx); err != nil {
		return etag, err
	}
	if err := tx.Commit(ctx); err != nil {
		return etag, fmt.Errorf("failed to finish read transaction: %w", err)
	}
	return etag, nil
}

func (s *GraphDBStorage) CurrentSnapshot(ctx context.Context) (string, error) {
	var etag string
	if err := s.conn.QueryRow(ctx, currentSnapshotSQL).Scan(&etag); err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return "", ErrNoSnapshot
		}
		return "", fmt.Errorf("failed to read snapshot etag: %w", err)
	}
	return etag, nil
}

func (s *GraphDBStorage) ResolveBySlug(ctx context.Context, id string) (*common.Node, string, error) {
	var node *common.Node
	etag, err := s.withSnapshot(ctx, func(tx pgxv5.Tx) error {
		var body []byte
		err := tx.QueryRow(ctx, nodeByIDSQL, id).Scan(&body)
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load node %s: %w", id, err)
		}
		n, err := decodeNode(body)
		if err != nil {
			return err
		}
		node = &n
		return nil
	})
	return node, etag, err
}

func (s *GraphDBStorage) LexicalSearch(ctx context.Context, text string, limit int) ([]common.ScoredNode, string, error) {
	query := tsQuery(text)
	if query == "" {
		etag, err := s.CurrentSnapshot(ctx)
		return nil, etag, err
	}
	if limit <= 0 {
		limit = 10
	}

	var hits []common.ScoredNode
	etag, err := s.withSnapshot(ctx, func(tx pgxv5.Tx) error {
		rows, err := tx.Query(ctx, lexicalSearchSQL, query, limit)
		if err != nil {
			return fmt.Errorf("failed to run lexical search: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var body []byte
			var rank float64
			if err := rows.Scan(&body, &rank); err != nil {
				return err
			}
			n, err := decodeNode(body)
			if err != nil {
				return err
			}
			hits = append(hits, common.ScoredNode{Node: n, Score: rank})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, etag, err
	}
	store.SortScored(hits)
	return hits, etag, nil
}

func (s *GraphDBStorage) VectorRerank(ctx context.Context, candidates []common.ScoredNode, text string) ([]common.ScoredNode, string, error) {
	if s.embedder == nil {
		return nil, "", fmt.Errorf("vector rerank requires an embedder")
	}
	embedding, err := s.embedder.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, "", fmt.Errorf("failed to embed query: %w", err)
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Node.ID)
	}

	similarities := make(map[string]float64, len(ids))
	etag, err := s.withSnapshot(ctx, func(tx pgxv5.Tx) error {
		rows, err := tx.Query(ctx, vectorRerankSQL, vectorParam(embedding), ids)
		if err != nil {
			return fmt.Errorf("failed to run vector rerank: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var similarity float64
			if err := rows.Scan(&id, &similarity); err != nil {
				return err
			}
			similarities[id] = similarity
		}
		return rows.Err()
	})
	if err != nil {
		return nil, etag, err
	}
	return applySimilarities(candidates, similarities), etag, nil
}

func (s *GraphDBStorage) ExpandOneHop(ctx context.Context, anchorID string, emit func(common.Neighbor) error) (string, error) {
	return s.withSnapshot(ctx, func(tx pgxv5.Tx) error {
		rows, err := tx.Query(ctx, expandOneHopSQL, anchorID)
		if err != nil {
			return fmt.Errorf("failed to expand %s: %w", anchorID, err)
		}
		defer rows.Close()
		for rows.Next() {
			var body []byte
			var direction int
			if err := rows.Scan(&body, &direction); err != nil {
				return err
			}
			n, err := decodeNode(body)
			if err != nil {
				return err
			}
			if err := emit(common.Neighbor{Direction: common.Direction(direction), Node: n}); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

func decodeNode(body []byte) (common.Node, error) {
	var n common.Node
	if err := json.Unmarshal(body, &n); err != nil {
		return common.Node{}, fmt.Errorf("failed to decode node: %w", err)
	}
	return n, nil
}
