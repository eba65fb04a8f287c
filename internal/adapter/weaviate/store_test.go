package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"grantradar/features/grant"
	adapter "grantradar/internal/adapter/weaviate"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	assert.NoError(t, err)
	return client, ts
}

func TestObjectID_Deterministic(t *testing.T) {
	a := adapter.ObjectID("g-1")
	b := adapter.ObjectID("g-1")
	c := adapter.ObjectID("g-2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestStore_Put(t *testing.T) {
	var deleted, created bool
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/meta":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
		case r.URL.Path == "/v1/batch/objects" && r.Method == "DELETE":
			deleted = true
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{})
		case r.URL.Path == "/v1/objects" && r.Method == "POST":
			created = true
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			props := body["properties"].(map[string]interface{})
			assert.Equal(t, "g-1", props["grantId"])
			assert.Equal(t, "Community Fund", props["name"])
			assert.Equal(t, true, props["isOpen"])
			assert.Equal(t, adapter.ObjectID("g-1"), body["id"])
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{"id": body["id"]})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	g := grant.Grant{ID: "g-1", Name: "Community Fund", Agency: "NCSS", IsOpen: true}
	err := store.Put(context.Background(), g, []float32{0.1, 0.2})
	assert.NoError(t, err)
	assert.True(t, deleted, "stale object should be deleted before create")
	assert.True(t, created)
}

func TestStore_SetOpen(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "PATCH", r.Method)
		assert.Equal(t, "/v1/objects/Grant/"+adapter.ObjectID("g-1"), r.URL.Path)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		props := body["properties"].(map[string]interface{})
		assert.Equal(t, false, props["isOpen"])

		w.WriteHeader(http.StatusNoContent)
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	err := store.SetOpen(context.Background(), "g-1", false)
	assert.NoError(t, err)
}

func TestStore_SearchOpen(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "/v1/graphql", r.URL.Path)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		query := body["query"].(string)
		assert.Contains(t, query, "nearVector")
		assert.Contains(t, query, "isOpen")

		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"Grant": []interface{}{
						map[string]interface{}{
							"grantId": "g-1",
							"_additional": map[string]interface{}{
								"certainty": 0.93,
							},
						},
						map[string]interface{}{
							"grantId": "g-2",
							"_additional": map[string]interface{}{
								"certainty": 0.81,
							},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	candidates, err := store.SearchOpen(context.Background(), []float32{0.1, 0.2}, 10)
	assert.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, "g-1", candidates[0].GrantID)
	assert.InDelta(t, 0.93, candidates[0].Certainty, 1e-9)
	assert.Equal(t, "g-2", candidates[1].GrantID)
}

func TestStore_SearchOpen_GraphQLError(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"message": "class not found"}},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	_, err := store.SearchOpen(context.Background(), []float32{0.1}, 10)
	assert.Error(t, err)
}
