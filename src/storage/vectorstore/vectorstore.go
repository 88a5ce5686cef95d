// Package vectorstore defines the contract shared by the similarity search
// backends (chromem, qdrant, weaviate).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCollectionNotFound is returned by GetCollection and DeleteCollection
	// when no collection of that name exists.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the collection's declared dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Entry is one stored vector. Adding an entry whose ID already exists
// overwrites it.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is a query hit. Higher Score means more similar.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

type Store interface {
	CreateCollection(ctx context.Context, name string, dimension int) (Collection, error)
	GetCollection(ctx context.Context, name string) (Collection, error)
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
}

type Collection interface {
	Name() string
	Dimension() int
	Add(ctx context.Context, entries []Entry) error
	// Query returns at most k matches ordered by descending score.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

// CheckDimension validates every vector against dimension.
func CheckDimension(dimension int, vectors ...[]float32) error {
	for _, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dimension)
		}
	}
	return nil
}
