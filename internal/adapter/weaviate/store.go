package weaviate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"grantradar/features/grant"
	"grantradar/internal/search"
	"grantradar/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// ObjectID derives the Weaviate object UUID for a grant. Deterministic so
// re-ingesting the same grant targets the same object.
func ObjectID(grantID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("grantradar/grant/"+grantID)).String()
}

// Put replaces the grant object and its vector. Weaviate cannot update a
// vector in place through the merge path, so the old object is deleted first.
func (s *Store) Put(ctx context.Context, g grant.Grant, vec []float32) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassGrant).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"grantId"}).
			WithOperator(filters.Equal).
			WithValueString(g.ID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete stale grant object: %w", err)
	}

	_, err = s.client.Data().Creator().
		WithClassName(vector.ClassGrant).
		WithID(ObjectID(g.ID)).
		WithProperties(map[string]interface{}{
			"grantId": g.ID,
			"name":    g.Name,
			"agency":  g.Agency,
			"isOpen":  g.IsOpen,
		}).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("create grant object: %w", err)
	}
	return nil
}

// SetOpen merge-patches the open flag without touching the vector. This is
// the fast reconciliation path.
func (s *Store) SetOpen(ctx context.Context, grantID string, open bool) error {
	return s.client.Data().Updater().
		WithClassName(vector.ClassGrant).
		WithID(ObjectID(grantID)).
		WithProperties(map[string]interface{}{
			"isOpen": open,
		}).
		WithMerge().
		Do(ctx)
}

// SearchOpen returns the nearest open grants to the query vector, best first.
func (s *Store) SearchOpen(ctx context.Context, vec []float32, limit int) ([]search.Candidate, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec)

	where := filters.Where().
		WithPath([]string{"isOpen"}).
		WithOperator(filters.Equal).
		WithValueBoolean(true)

	fields := []graphql.Field{
		{Name: "grantId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassGrant).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var candidates []search.Candidate
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if rows, ok := data[vector.ClassGrant].([]interface{}); ok {
			for _, raw := range rows {
				props, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}

				var c search.Candidate
				if id, ok := props["grantId"].(string); ok {
					c.GrantID = id
				}
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if certainty, ok := additional["certainty"].(float64); ok {
						c.Certainty = certainty
					}
				}
				if c.GrantID != "" {
					candidates = append(candidates, c)
				}
			}
		}
	}

	return candidates, nil
}
