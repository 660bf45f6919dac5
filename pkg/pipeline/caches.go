package pipeline

import (
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/cache"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/expand"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/resolver"
)

// graphScope names the expansion depth in evidence cache keys.
const graphScope = "k1"

type CacheTTLs struct {
	Resolver time.Duration
	Evidence time.Duration
	Answer   time.Duration
}

func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Resolver: 5 * time.Minute,
		Evidence: 15 * time.Minute,
		Answer:   2 * time.Minute,
	}
}

// evidenceEntry is what the evidence cache stores for an anchor.
type evidenceEntry struct {
	Expansion *expand.Result   `json:"expansion"`
	Evidence  *evidence.Result `json:"evidence"`
}

// Caches are the three etag-keyed caches of the pipeline. Nil caches are disabled.
type Caches struct {
	Resolver *cache.Cache[resolver.Result]
	Evidence *cache.Cache[evidenceEntry]
	Answer   *cache.Cache[answer.Outcome]
}

func NewCaches(backend cache.Backend, ttls CacheTTLs, observer cache.Observer) Caches {
	if backend == nil {
		return Caches{}
	}
	return Caches{
		Resolver: cache.New[resolver.Result]("resolver", ttls.Resolver, backend, observer),
		Evidence: cache.New[evidenceEntry]("evidence", ttls.Evidence, backend, observer),
		Answer:   cache.New[answer.Outcome]("answer", ttls.Answer, backend, observer),
	}
}
