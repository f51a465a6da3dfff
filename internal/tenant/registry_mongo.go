package tenant

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoRegistry resolves tenants from a MongoDB collection. One document per
// tenant; the identifier is matched against id, code and subdomain so a
// single lookup serves every resolver strategy.
type MongoRegistry struct {
	col *mongo.Collection
}

type tenantDocument struct {
	ID         string            `bson:"_id"`
	Code       string            `bson:"code"`
	Name       string            `bson:"name"`
	Subdomain  string            `bson:"subdomain,omitempty"`
	TemplateID string            `bson:"template_id,omitempty"`
	StoreID    string            `bson:"store_id,omitempty"`
	Settings   map[string]string `bson:"settings,omitempty"`
}

func NewMongoRegistry(col *mongo.Collection) *MongoRegistry {
	return &MongoRegistry{col: col}
}

func (m *MongoRegistry) Lookup(ctx context.Context, identifier string) (*Context, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"_id": identifier},
		bson.M{"code": identifier},
		bson.M{"subdomain": identifier},
	}}

	var doc tenantDocument
	err := m.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant lookup: %w", err)
	}

	return &Context{
		ID:         doc.ID,
		Code:       doc.Code,
		Name:       doc.Name,
		Subdomain:  doc.Subdomain,
		TemplateID: doc.TemplateID,
		StoreID:    doc.StoreID,
		Settings:   doc.Settings,
	}, nil
}
