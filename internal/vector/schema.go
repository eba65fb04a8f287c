package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassGrant holds one object per grant, keyed by a deterministic UUID
// derived from the grant identifier. Vectors are supplied by the embedder;
// the class itself has no vectorizer.
const ClassGrant = "Grant"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema checks if the Grant class exists and creates or extends it.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassGrant)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "grantId",
			DataType: []string{"string"}, // feed identifier (exact match)
		},
		{
			Name:     "name",
			DataType: []string{"text"},
		},
		{
			Name:     "agency",
			DataType: []string{"string"},
		},
		{
			Name:     "isOpen",
			DataType: []string{"boolean"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassGrant,
			Description: "A grant programme with its requirement embedding",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, ClassGrant)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ClassGrant, p); err != nil {
				return err
			}
		}
	}

	return nil
}
