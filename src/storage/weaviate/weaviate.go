package weaviate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docchat/src/storage/vectorstore"
)

const (
	classPrefix       = "Docchat_"
	descriptionPrefix = "docchat:"

	propEntryID  = "entryId"
	propChunk    = "chunk"
	propMetadata = "metadata"
)

// SDK adapts a Weaviate client to vectorstore.Store. Each collection is a
// Weaviate class; since class names are restricted, the class name is
// derived from a hash of the collection name and the original name and
// dimension are kept in the class description.
type SDK struct {
	client *weaviate.Client
}

// NewSDK creates a new instance of SDK
func NewSDK(client *weaviate.Client) *SDK {
	return &SDK{
		client: client,
	}
}

// ClassName returns the Weaviate class backing collection name.
func ClassName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return classPrefix + hex.EncodeToString(sum[:])[:32]
}

func (w *SDK) CreateCollection(ctx context.Context, name string, dimension int) (vectorstore.Collection, error) {
	className := ClassName(name)

	exists, err := w.classExists(ctx, className)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("class %s for collection %s already exists", className, name)
	}

	class := &models.Class{
		Class:       className,
		Description: describe(name, dimension),
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: propEntryID, DataType: []string{"text"}},
			{Name: propChunk, DataType: []string{"text"}},
			{Name: propMetadata, DataType: []string{"text"}},
		},
	}

	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return nil, fmt.Errorf("failed to create Weaviate class: %v", err)
	}

	return &collection{client: w.client, name: name, className: className, dimension: dimension}, nil
}

func (w *SDK) GetCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	className := ClassName(name)

	classes, err := w.classes(ctx)
	if err != nil {
		return nil, err
	}
	for _, class := range classes {
		if class.Class != className {
			continue
		}
		_, dimension, ok := parseDescription(class.Description)
		if !ok {
			return nil, fmt.Errorf("class %s has no collection description", className)
		}
		return &collection{client: w.client, name: name, className: className, dimension: dimension}, nil
	}

	return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
}

func (w *SDK) DeleteCollection(ctx context.Context, name string) error {
	className := ClassName(name)

	exists, err := w.classExists(ctx, className)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}

	if err := w.client.Schema().ClassDeleter().WithClassName(className).Do(ctx); err != nil {
		return fmt.Errorf("failed to delete Weaviate class: %v", err)
	}
	return nil
}

func (w *SDK) ListCollections(ctx context.Context) ([]string, error) {
	classes, err := w.classes(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, class := range classes {
		if !strings.HasPrefix(class.Class, classPrefix) {
			continue
		}
		if name, _, ok := parseDescription(class.Description); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *SDK) classes(ctx context.Context) ([]*models.Class, error) {
	schema, err := w.client.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %v", err)
	}
	return schema.Classes, nil
}

// classExists checks if a class exists in the schema
func (w *SDK) classExists(ctx context.Context, className string) (bool, error) {
	classes, err := w.classes(ctx)
	if err != nil {
		return false, err
	}

	for _, class := range classes {
		if class.Class == className {
			return true, nil
		}
	}

	return false, nil
}

type collection struct {
	client    *weaviate.Client
	name      string
	className string
	dimension int
}

func (c *collection) Name() string { return c.name }

func (c *collection) Dimension() int { return c.dimension }

func (c *collection) Add(ctx context.Context, entries []vectorstore.Entry) error {
	objs := make([]*models.Object, len(entries))
	for i, e := range entries {
		if err := vectorstore.CheckDimension(c.dimension, e.Vector); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}

		metadata, err := encodeMetadata(e.Metadata)
		if err != nil {
			return err
		}

		objs[i] = &models.Object{
			Class: c.className,
			ID:    ObjectID(e.ID),
			Properties: map[string]interface{}{
				propEntryID:  e.ID,
				propChunk:    e.Metadata[propChunk],
				propMetadata: metadata,
			},
			Vector: e.Vector,
		}
	}

	resp, err := c.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to batch add vectors: %v", err)
	}
	if len(resp) == 0 {
		return fmt.Errorf("batch operation returned no results")
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("failed to add object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
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

	fields := []graphql.Field{
		{Name: propEntryID},
		{Name: propMetadata},
		{Name: "_additional { id distance }"},
	}
	nearVector := c.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := c.client.GraphQL().Get().
		WithClassName(c.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %v", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("failed to query vectors: %s", result.Errors[0].Message)
	}

	var matches []vectorstore.Match
	data, _ := result.Data["Get"].(map[string]interface{})
	objects, _ := data[c.className].([]interface{})
	for _, obj := range objects {
		objMap, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		m := vectorstore.Match{}
		m.ID, _ = objMap[propEntryID].(string)
		if raw, ok := objMap[propMetadata].(string); ok {
			if m.Metadata, err = decodeMetadata(raw); err != nil {
				return nil, err
			}
		}
		if additional, ok := objMap["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				m.Score = float32(1 - distance)
			}
		}
		matches = append(matches, m)
	}

	return matches, nil
}

func (c *collection) Count(ctx context.Context) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}

	result, err := c.client.GraphQL().Aggregate().
		WithClassName(c.className).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count objects: %v", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("failed to count objects: %s", result.Errors[0].Message)
	}

	data, _ := result.Data["Aggregate"].(map[string]interface{})
	groups, _ := data[c.className].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	metaMap, _ := group["meta"].(map[string]interface{})
	count, _ := metaMap["count"].(float64)

	return int(count), nil
}

// ObjectID maps an entry id to a deterministic Weaviate object id.
func ObjectID(entryID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(entryID)).String())
}

func describe(name string, dimension int) string {
	return descriptionPrefix + name + "|" + strconv.Itoa(dimension)
}

func parseDescription(description string) (string, int, bool) {
	rest, ok := strings.CutPrefix(description, descriptionPrefix)
	if !ok {
		return "", 0, false
	}
	i := strings.LastIndexByte(rest, '|')
	if i <= 0 {
		return "", 0, false
	}
	dimension, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, false
	}
	return rest[:i], dimension, true
}

func encodeMetadata(m map[string]string) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	m := make(map[string]string)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}
