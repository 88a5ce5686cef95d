package qdrant

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"docchat/src/storage/vectorstore"
)

// entryIDKey holds the caller's entry id; qdrant point ids must be UUIDs or integers.
const entryIDKey = "_entry_id"

type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

type Store struct {
	client *qdrant.Client
}

func NewStore(cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) (vectorstore.Collection, error) {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return &collection{client: s.client, name: name, dimension: dimension}, nil
}

func (s *Store) GetCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
	}

	dimension := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	return &collection{client: s.client, name: name, dimension: dimension}, nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}

	if err := s.client.DeleteCollection(ctx, name); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
		}
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

type collection struct {
	client    *qdrant.Client
	name      string
	dimension int
}

func (c *collection) Name() string { return c.name }

func (c *collection) Dimension() int { return c.dimension }

func (c *collection) Add(ctx context.Context, entries []vectorstore.Entry) error {
	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		if err := vectorstore.CheckDimension(c.dimension, e.Vector); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}

		payload := make(map[string]*qdrant.Value, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		payload[entryIDKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: e.ID}}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(e.ID)),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: payload,
		}
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), c.name, err)
	}
	return nil
}

func (c *collection) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	if err := vectorstore.CheckDimension(c.dimension, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, c.name)
		}
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}

	matches := make([]vectorstore.Match, 0, len(points))
	for _, p := range points {
		m := vectorstore.Match{Score: p.GetScore(), Metadata: make(map[string]string)}
		for key, v := range p.GetPayload() {
			sv, ok := v.GetKind().(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			if key == entryIDKey {
				m.ID = sv.StringValue
				continue
			}
			m.Metadata[key] = sv.StringValue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (c *collection) Count(ctx context.Context) (int, error) {
	n, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points in %s: %w", c.name, err)
	}
	return int(n), nil
}

// PointID maps an entry id to the deterministic UUID stored in qdrant, so
// re-adding an entry overwrites the same point.
func PointID(entryID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(entryID)).String()
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}
