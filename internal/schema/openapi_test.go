package schema

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describeAll(t *testing.T, r *Registry) []*TableDescriptor {
	t.Helper()
	var out []*TableDescriptor
	for _, name := range r.Tables() {
		d, err := r.Describe(name)
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestOpenAPI_Document(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(blogStore(), Options{})
	require.NoError(t, r.Reload(ctx))

	doc := OpenAPI("recordbase", "v1", describeAll(t, r))
	require.NoError(t, doc.Validate(ctx))

	for _, p := range []string{
		"/api/records/v1/post",
		"/api/records/v1/post/{id}",
		"/api/records/v1/post/schema",
		"/api/records/v1/post/subscribe/{id}",
	} {
		assert.NotNil(t, doc.Paths.Value(p), p)
	}
	assert.Nil(t, doc.Paths.Value("/api/records/v1/log"))

	insert := doc.Components.Schemas["post.insert"].Value
	assert.Equal(t, []string{"views"}, insert.Required)
	assert.True(t, insert.Properties["title"].Value.Nullable)
	assert.Equal(t, "base64url", insert.Properties["id"].Value.Format)

	sel := doc.Components.Schemas["post.select"].Value
	author := sel.Properties["author"].Value
	assert.True(t, author.Nullable)
	assert.Equal(t, []string{"id", "data"}, author.Required)
	assert.False(t, author.Properties["id"].Value.Nullable)

	item := doc.Paths.Value("/api/records/v1/post/{id}")
	assert.Equal(t, "read_post", item.Get.OperationID)
	assert.NotNil(t, item.Delete.Responses.Status(204))
}

func TestOpenAPI_JSONUsesComponentRefs(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(blogStore(), Options{})
	require.NoError(t, r.Reload(ctx))

	b, err := json.Marshal(OpenAPI("recordbase", "v1", describeAll(t, r)))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "3.0.3", raw["openapi"])
	assert.Contains(t, string(b), `"$ref":"#/components/schemas/post.select"`)
}
