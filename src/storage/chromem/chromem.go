package chromem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"

	"docchat/src/storage/vectorstore"
)

var errNoEmbeddingFunc = errors.New("chromem: embeddings must be computed by the caller")

// Store is an in-process vector store. With an empty path it lives in memory
// only; otherwise collections are persisted under path.
type Store struct {
	db *chromem.DB

	// chromem does not expose collection metadata, so declared dimensions
	// are tracked here. Collections loaded from disk fall back to
	// defaultDimension.
	mu               sync.RWMutex
	dimensions       map[string]int
	defaultDimension int
}

// NewStore opens a store. compress only applies to persistent stores.
func NewStore(path string, compress bool, defaultDimension int) (*Store, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db at %s: %w", path, err)
		}
	}

	return &Store{
		db:               db,
		dimensions:       make(map[string]int),
		defaultDimension: defaultDimension,
	}, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) (vectorstore.Collection, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d for collection %s", dimension, name)
	}

	c, err := s.db.CreateCollection(name, map[string]string{"dimension": fmt.Sprint(dimension)}, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	s.mu.Lock()
	s.dimensions[name] = dimension
	s.mu.Unlock()

	return &collection{c: c, dimension: dimension}, nil
}

func (s *Store) GetCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	c := s.db.GetCollection(name, embeddingFunc)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}

	s.mu.RLock()
	dimension, ok := s.dimensions[name]
	s.mu.RUnlock()
	if !ok {
		dimension = s.defaultDimension
	}

	return &collection{c: c, dimension: dimension}, nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if s.db.GetCollection(name, embeddingFunc) == nil {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}

	s.mu.Lock()
	delete(s.dimensions, name)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	all := s.db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type collection struct {
	c         *chromem.Collection
	dimension int
}

func (c *collection) Name() string { return c.c.Name }

func (c *collection) Dimension() int { return c.dimension }

func (c *collection) Add(ctx context.Context, entries []vectorstore.Entry) error {
	for _, e := range entries {
		if err := vectorstore.CheckDimension(c.dimension, e.Vector); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}

		// chromem normalizes in place; keep the caller's slice untouched.
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)

		doc := chromem.Document{
			ID:        e.ID,
			Metadata:  e.Metadata,
			Embedding: vec,
			Content:   e.Metadata["chunk"],
		}
		if err := c.c.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to add entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func (c *collection) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	if err := vectorstore.CheckDimension(c.dimension, vector); err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	n := min(k, c.c.Count())
	if n <= 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)

	results, err := c.c.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", c.c.Name, err)
	}

	matches := make([]vectorstore.Match, len(results))
	for i, r := range results {
		matches[i] = vectorstore.Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}
	return matches, nil
}

func (c *collection) Count(ctx context.Context) (int, error) {
	return c.c.Count(), nil
}

func embeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}
