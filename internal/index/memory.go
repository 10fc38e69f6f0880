package index

import (
	"math"
	"sort"
	"sync"
)

// Memory is an in-process cosine-similarity index over uploaded
// document chunks. It is a best-effort search aid rebuilt from scratch
// on restart; nothing durable depends on it.
type Memory struct {
	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	docID  string
	chunk  string
	vector []float32
}

// Match is one search hit.
type Match struct {
	DocID string  `json:"file_id"`
	Chunk string  `json:"chunk"`
	Score float64 `json:"score"`
}

func NewMemory() *Memory {
	return &Memory{}
}

// Add registers chunk vectors for a document. chunks and vectors must
// be parallel; mismatched tails are dropped.
func (m *Memory) Add(docID string, chunks []string, vectors [][]float32) {
	n := len(chunks)
	if len(vectors) < n {
		n = len(vectors)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		if len(vectors[i]) == 0 {
			continue
		}
		m.entries = append(m.entries, entry{docID: docID, chunk: chunks[i], vector: vectors[i]})
	}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Query returns the topK nearest chunks by cosine similarity, best
// first. At most one match per document is returned.
func (m *Memory) Query(vector []float32, topK int) []Match {
	if len(vector) == 0 || topK <= 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := make(map[string]Match)
	for _, e := range m.entries {
		score := cosineSimilarity(vector, e.vector)
		if prev, ok := best[e.docID]; !ok || score > prev.Score {
			best[e.docID] = Match{DocID: e.docID, Chunk: e.chunk, Score: score}
		}
	}

	matches := make([]Match, 0, len(best))
	for _, match := range best {
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SplitChunks slices text into overlapping rune windows for indexing.
func SplitChunks(text string, size, overlap int) []string {
	if size <= 0 {
		size = 512
	}
	if overlap >= size {
		overlap = size / 2
	}

	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		i += size - overlap
		if end == len(runes) {
			break
		}
	}
	return chunks
}
