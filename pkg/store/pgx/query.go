package pgx

import (
	"strings"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"

	"github.com/pgvector/pgvector-go"
)

const currentSnapshotSQL = `SELECT etag FROM graph_snapshot WHERE singleton`

const nodeByIDSQL = `SELECT body FROM graph_nodes WHERE id = $1`

// ts_rank_cd normalization 32 maps the rank onto rank/(rank+1).
const lexicalSearchSQL = `
SELECT n.body, ts_rank_cd(n.search_tsv, q.query, 32) AS rank
FROM graph_nodes n, to_tsquery('simple', $1) AS q(query)
WHERE n.search_tsv @@ q.query
ORDER BY rank DESC, n.id ASC
LIMIT $2`

const vectorRerankSQL = `
SELECT id, 1 - (embedding <=> $1) AS similarity
FROM graph_nodes
WHERE id = ANY($2) AND embedding IS NOT NULL`

// direction: 0 connected, 1 incoming transition, 2 outgoing transition
const expandOneHopSQL = `
WITH neighbours AS (
	SELECT target_id AS id FROM graph_edges WHERE source_id = $1
	UNION
	SELECT source_id AS id FROM graph_edges WHERE target_id = $1
)
SELECT n.body,
	CASE
		WHEN n.kind <> 'transition' THEN 0
		WHEN n.body->>'to' = $1 THEN 1
		ELSE 2
	END AS direction
FROM neighbours nb
JOIN graph_nodes n ON n.id = nb.id
WHERE n.id <> $1
	AND (n.kind <> 'transition' OR n.body->>'to' = $1 OR n.body->>'from' = $1)
ORDER BY direction, n.ts, n.id`

// tsQuery turns free text into an OR query over its alphanumeric terms.
func tsQuery(text string) string {
	terms := store.DedupeStrings(util.Tokenize(text))
	return strings.Join(terms, " | ")
}

func vectorParam(embedding []float32) pgvector.Vector {
	return pgvector.NewVector(embedding)
}
