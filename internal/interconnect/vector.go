package interconnect

import (
	"hash/fnv"
	"math"
	"strings"
)

// VectorDim is the dimensionality of feature-hashed term vectors. It is
// baked into the postgres schema, so changing it requires a reindex.
const VectorDim = 256

// TermVector feature-hashes content into an L2-normalized term-frequency
// vector. Terms are the content's concepts plus its plain lowercase words,
// each hashed into one of VectorDim buckets with FNV-1a. Deterministic: the
// same content always yields the same vector, which keeps vector-backed
// ranking stable across runs.
func TermVector(content string) []float32 {
	vec := make([]float32, VectorDim)

	terms := ExtractConcepts(content)
	for _, w := range strings.Fields(strings.ToLower(content)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'`")
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return vec
	}

	for _, term := range terms {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[h.Sum32()%VectorDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
