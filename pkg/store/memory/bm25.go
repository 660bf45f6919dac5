package memory

import (
	"math"

	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
)

type bm25Index struct {
	tf     []map[string]int
	length []int
	df     map[string]int
	avgLen float64
}

func documentTerms(n common.Node) []string {
	terms := util.Tokenize(n.Content())
	terms = append(terms, util.Tokenize(n.ID)...)
	for _, tag := range n.Tags {
		terms = append(terms, util.Tokenize(tag)...)
	}
	return terms
}

func newBM25Index(nodes []common.Node) *bm25Index {
	idx := &bm25Index{
		tf:     make([]map[string]int, len(nodes)),
		length: make([]int, len(nodes)),
		df:     make(map[string]int),
	}
	total := 0
	for i, n := range nodes {
		terms := documentTerms(n)
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}
		for t := range freq {
			idx.df[t]++
		}
		idx.tf[i] = freq
		idx.length[i] = len(terms)
		total += len(terms)
	}
	if len(nodes) > 0 {
		idx.avgLen = float64(total) / float64(len(nodes))
	}
	return idx
}

func (idx *bm25Index) score(doc int, terms []string) float64 {
	n := float64(len(idx.tf))
	if n == 0 || idx.avgLen == 0 {
		return 0
	}
	var score float64
	dl := float64(idx.length[doc])
	for _, t := range terms {
		f := float64(idx.tf[doc][t])
		if f == 0 {
			continue
		}
		df := float64(idx.df[t])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/idx.avgLen))
	}
	return score
}
