package weaviate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"

	"docchat/src/storage/vectorstore"
)

func TestClassName(t *testing.T) {
	a := ClassName("doc_abc")
	assert.True(t, strings.HasPrefix(a, classPrefix))
	assert.Len(t, a, len(classPrefix)+32)
	assert.Equal(t, a, ClassName("doc_abc"))
	assert.NotEqual(t, a, ClassName("doc_abd"))
}

func TestDescriptionRoundTrip(t *testing.T) {
	name, dim, ok := parseDescription(describe("doc_my|odd", 768))
	require.True(t, ok)
	assert.Equal(t, "doc_my|odd", name)
	assert.Equal(t, 768, dim)

	for _, bad := range []string{"", "other", "docchat:", "docchat:name|x", "docchat:|12"} {
		_, _, ok := parseDescription(bad)
		assert.False(t, ok, bad)
	}
}

func TestObjectIDIsDeterministic(t *testing.T) {
	assert.Equal(t, ObjectID("doc_a_0"), ObjectID("doc_a_0"))
	assert.NotEqual(t, ObjectID("doc_a_0"), ObjectID("doc_a_1"))
}

func TestSchemaBackedLookups(t *testing.T) {
	known := ClassName("doc_known")
	deleted := ""

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/schema":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"classes": []map[string]interface{}{
					{"class": known, "description": describe("doc_known", 4)},
					{"class": "Unrelated", "description": "not ours"},
				},
			})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/schema/"):
			deleted = strings.TrimPrefix(r.URL.Path, "/v1/schema/")
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := weaviate.New(weaviate.Config{
		Host:   strings.TrimPrefix(srv.URL, "http://"),
		Scheme: "http",
	})
	sdk := NewSDK(client)
	ctx := context.Background()

	names, err := sdk.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_known"}, names)

	c, err := sdk.GetCollection(ctx, "doc_known")
	require.NoError(t, err)
	assert.Equal(t, 4, c.Dimension())
	assert.Equal(t, "doc_known", c.Name())

	_, err = sdk.GetCollection(ctx, "doc_missing")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	assert.ErrorIs(t, sdk.DeleteCollection(ctx, "doc_missing"), vectorstore.ErrCollectionNotFound)
	require.NoError(t, sdk.DeleteCollection(ctx, "doc_known"))
	assert.Equal(t, known, deleted)
}
