// Package index maintains the flat embedding table used for similarity
// search. The table and its position mapping are one unit: position N of
// the table belongs to entry N of the mapping, and the pair is persisted in
// lockstep so they can never drift apart on disk.
package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"aiapproach.com/chat-service/internal/store"
)

// ErrIndexDesync means the loaded table and mapping disagree on size. The
// index refuses to serve searches until rebuilt from the chunk collections.
var ErrIndexDesync = errors.New("vector index and mapping are out of sync")

// Embedder produces fixed-dimensionality embeddings. EmbedBatch must be
// equivalent to calling Embed per element.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkSource supplies the persisted chunk collections a rebuild re-reads.
// *store.SQLiteStore satisfies it.
type ChunkSource interface {
	ListFileIDs(excludeFileID string) ([]string, error)
	GetChunksByFile(fileID string) ([]store.Chunk, error)
}

type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	FileID  string  `json:"file_id"`
	Score   float64 `json:"score"`
}

// entryRef maps one table position to the chunk it embeds. Positions are an
// implementation detail; chunk ids are the stable external key.
type entryRef struct {
	ChunkID string `json:"chunk_id"`
	FileID  string `json:"file_id"`
}

type VectorIndex struct {
	mu       sync.RWMutex
	dir      string
	embedder Embedder
	table    [][]float32
	mapping  []entryRef
	desynced bool
}

// New loads the persisted index pair from dir, or starts empty when neither
// snapshot exists. A size mismatch marks the index desynced; call Rebuild
// before serving searches.
func New(dir string, embedder Embedder) (*VectorIndex, error) {
	idx := &VectorIndex{dir: dir, embedder: embedder}
	if err := idx.load(); err != nil {
		return nil, err
	}
	if idx.desynced {
		log.Printf("Warning: vector index loaded desynced (%d vectors, %d mapping entries); rebuild required", len(idx.table), len(idx.mapping))
	}
	return idx, nil
}

// Size returns the number of indexed vectors.
func (idx *VectorIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.table)
}

// Desynced reports whether the loaded snapshot pair disagreed on size.
func (idx *VectorIndex) Desynced() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.desynced
}

// Add embeds the chunks and appends them to the table in input order.
// No-op on empty input.
func (idx *VectorIndex) Add(ctx context.Context, chunks []store.Chunk, fileID string) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks for file %s: %w", fileID, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.desynced {
		return ErrIndexDesync
	}

	for i, vec := range vectors {
		idx.table = append(idx.table, vec)
		idx.mapping = append(idx.mapping, entryRef{ChunkID: chunks[i].ChunkID, FileID: fileID})
	}

	return idx.persistLocked()
}

// Search embeds the query, ranks every stored vector by ascending L2
// distance and returns the first topK results, optionally restricted to the
// given file set. Scores are 1/(1+distance).
func (idx *VectorIndex) Search(ctx context.Context, query string, topK int, fileIDs []string) ([]SearchResult, error) {
	idx.mu.RLock()
	if idx.desynced {
		idx.mu.RUnlock()
		return nil, ErrIndexDesync
	}
	if len(idx.table) == 0 {
		idx.mu.RUnlock()
		return nil, nil
	}
	idx.mu.RUnlock()

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type ranked struct {
		pos      int
		distance float64
	}
	all := make([]ranked, 0, len(idx.table))
	for pos, vec := range idx.table {
		all = append(all, ranked{pos: pos, distance: l2Distance(queryVec, vec)})
	}
	// Stable: ties keep table order, matching insertion order.
	sort.SliceStable(all, func(i, j int) bool { return all[i].distance < all[j].distance })

	var allowed map[string]bool
	if len(fileIDs) > 0 {
		allowed = make(map[string]bool, len(fileIDs))
		for _, id := range fileIDs {
			allowed[id] = true
		}
	}

	if topK <= 0 {
		topK = 5
	}

	var results []SearchResult
	for _, r := range all {
		ref := idx.mapping[r.pos]
		if allowed != nil && !allowed[ref.FileID] {
			continue
		}
		results = append(results, SearchResult{
			ChunkID: ref.ChunkID,
			FileID:  ref.FileID,
			Score:   1.0 / (1.0 + r.distance),
		})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

// RemoveBySource drops every vector belonging to fileID. A flat table has
// no in-place delete, so the whole index is rebuilt from the persisted
// chunk collections of every other file.
func (idx *VectorIndex) RemoveBySource(ctx context.Context, fileID string, source ChunkSource) error {
	return idx.rebuild(ctx, fileID, source)
}

// Rebuild reconstructs the index from scratch out of every persisted chunk
// collection. Used to recover a desynced index at startup.
func (idx *VectorIndex) Rebuild(ctx context.Context, source ChunkSource) error {
	return idx.rebuild(ctx, "", source)
}

func (idx *VectorIndex) rebuild(ctx context.Context, excludeFileID string, source ChunkSource) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	remaining, err := source.ListFileIDs(excludeFileID)
	if err != nil {
		return fmt.Errorf("failed to list files for rebuild: %w", err)
	}

	var table [][]float32
	var mapping []entryRef
	for _, id := range remaining {
		chunks, err := source.GetChunksByFile(id)
		if err != nil {
			return fmt.Errorf("failed to load chunks for file %s: %w", id, err)
		}
		if len(chunks) == 0 {
			continue
		}
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to re-embed chunks for file %s: %w", id, err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks of file %s", len(vectors), len(chunks), id)
		}
		for i, vec := range vectors {
			table = append(table, vec)
			mapping = append(mapping, entryRef{ChunkID: chunks[i].ChunkID, FileID: id})
		}
	}

	// Swap in the new state only after every re-embedding succeeded, so a
	// failed rebuild leaves the previous index intact.
	idx.table = table
	idx.mapping = mapping
	idx.desynced = false

	return idx.persistLocked()
}

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
