package docchat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"docchat/src/storage/vectorstore"
)

// DefaultDimension matches nomic-embed-text.
const DefaultDimension = 768

// DefaultCallTimeout bounds every single vector store call.
const DefaultCallTimeout = 30 * time.Second

// CollectionManager owns create/fetch/destroy of per-document collections.
// Every store and collection call it makes runs under its own deadline, on
// top of whatever deadline the caller's context carries.
type CollectionManager struct {
	store     vectorstore.Store
	dimension int
	timeout   time.Duration
	logger    logr.Logger
}

type CollectionOption func(*CollectionManager)

func WithCallTimeout(d time.Duration) CollectionOption {
	return func(m *CollectionManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func NewCollectionManager(store vectorstore.Store, dimension int, logger logr.Logger, opts ...CollectionOption) *CollectionManager {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	m := &CollectionManager{
		store:     store,
		dimension: dimension,
		timeout:   DefaultCallTimeout,
		logger:    logger.WithName("collections"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *CollectionManager) Dimension() int { return m.dimension }

// Reset drops any existing collection called name and creates an empty one.
// A missing collection is not an error.
func (m *CollectionManager) Reset(ctx context.Context, name string) (vectorstore.Collection, error) {
	err := m.deleteCollection(ctx, name)
	switch {
	case err == nil:
		m.logger.V(1).Info("dropped previous collection", "collection", name)
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
	default:
		return nil, vectorError(fmt.Sprintf("reset collection %s", name), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	c, err := m.store.CreateCollection(callCtx, name, m.dimension)
	if err != nil {
		return nil, vectorError(fmt.Sprintf("create collection %s", name), err)
	}
	return m.timed(c), nil
}

// Get fails with ErrCollectionNotFound if name was never ingested.
func (m *CollectionManager) Get(ctx context.Context, name string) (vectorstore.Collection, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	c, err := m.store.GetCollection(callCtx, name)
	if err != nil {
		return nil, vectorError(fmt.Sprintf("get collection %s", name), err)
	}
	return m.timed(c), nil
}

// Delete treats an absent collection as success.
func (m *CollectionManager) Delete(ctx context.Context, name string) error {
	err := m.deleteCollection(ctx, name)
	if err == nil || errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil
	}
	return vectorError(fmt.Sprintf("delete collection %s", name), err)
}

func (m *CollectionManager) List(ctx context.Context) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	names, err := m.store.ListCollections(callCtx)
	if err != nil {
		return nil, vectorError("list collections", err)
	}
	return names, nil
}

func (m *CollectionManager) deleteCollection(ctx context.Context, name string) error {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.store.DeleteCollection(callCtx, name)
}

func (m *CollectionManager) timed(c vectorstore.Collection) vectorstore.Collection {
	return &timedCollection{Collection: c, timeout: m.timeout}
}

// timedCollection puts a deadline on each data call of a collection.
type timedCollection struct {
	vectorstore.Collection
	timeout time.Duration
}

func (c *timedCollection) Add(ctx context.Context, entries []vectorstore.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Collection.Add(ctx, entries)
}

func (c *timedCollection) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Collection.Query(ctx, vector, k)
}

func (c *timedCollection) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Collection.Count(ctx)
}

// vectorError maps vectorstore errors onto the docchat taxonomy.
func vectorError(msg string, err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return fmt.Errorf("%s: %w", msg, ErrCollectionNotFound)
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return fmt.Errorf("%s: %w: %v", msg, ErrDimensionMismatch, err)
	default:
		return fmt.Errorf("%s: %w: %w", msg, ErrVectorStore, err)
	}
}
