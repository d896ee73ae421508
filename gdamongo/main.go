// Package gdamongo provides a MongoDB adapter for the generic data access layer.
package gdamongo

import (
	"context"
	"errors"
	"time"

	"github.com/lemmego/gda"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// =====================================
// Connection Setup
// =====================================

// Connect dials MongoDB, verifies the connection with a ping, and returns
// the configured database handle.
func Connect(cfg gda.MongoConfig) (*mongo.Database, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI)

	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxIdleTime > 0 {
		clientOpts.SetMaxConnIdleTime(time.Duration(cfg.MaxIdleTime))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	return client.Database(cfg.Database), nil
}

// =====================================
// DAO Implementation
// =====================================

// DAO implements gda.DAO on a MongoDB collection. The descriptor names the
// collection and maps fields to stored names; id extracts the identity a
// document is filed under. Documents carry their own ids, so callers assign
// one (for example primitive.NewObjectID()) before saving.
type DAO[T any] struct {
	collection *mongo.Collection
	desc       gda.Descriptor
	id         gda.IDFunc[T]
}

// New creates a DAO for one document type. The collection comes from
// desc.Table.
func New[T any](db *mongo.Database, desc gda.Descriptor, id gda.IDFunc[T]) *DAO[T] {
	return &DAO[T]{
		collection: db.Collection(desc.Table),
		desc:       desc,
		id:         id,
	}
}

var (
	_ gda.DAO[struct{}]        = (*DAO[struct{}])(nil)
	_ gda.Transactor[struct{}] = (*DAO[struct{}])(nil)
)

// Save inserts a new document.
func (d *DAO[T]) Save(ctx context.Context, entity *T) error {
	_, err := d.collection.InsertOne(ctx, entity)
	return err
}

// SaveAll inserts the documents one by one, stopping at the first failure.
func (d *DAO[T]) SaveAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Save(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrUpdate replaces the document with the entity's id, inserting it if
// none exists.
func (d *DAO[T]) SaveOrUpdate(ctx context.Context, entity *T) error {
	_, err := d.collection.ReplaceOne(ctx,
		bson.M{"_id": d.id(entity)}, entity,
		options.Replace().SetUpsert(true))
	return err
}

// Update replaces the document with the entity's id. A missing document is
// not an error.
func (d *DAO[T]) Update(ctx context.Context, entity *T) error {
	_, err := d.collection.ReplaceOne(ctx, bson.M{"_id": d.id(entity)}, entity)
	return err
}

// UpdateAll updates the documents one by one, stopping at the first failure.
func (d *DAO[T]) UpdateAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Update(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// UpdateFields sets the given fields on the document with the given id.
// Fields absent from the map keep their stored values.
func (d *DAO[T]) UpdateFields(ctx context.Context, id any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := d.collection.UpdateOne(ctx, bson.M{"_id": id}, setDoc(d.desc, fields))
	return err
}

// UpdateWhere sets the given fields on every document matching the
// restrictions and reports how many documents matched.
func (d *DAO[T]) UpdateWhere(ctx context.Context, r gda.Restrictions, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	result, err := d.collection.UpdateMany(ctx, Filter(d.desc, r), setDoc(d.desc, fields))
	if err != nil {
		return 0, err
	}
	return result.MatchedCount, nil
}

// Delete removes the document with the entity's id. A missing document is
// not an error.
func (d *DAO[T]) Delete(ctx context.Context, entity *T) error {
	if entity == nil {
		return nil
	}
	_, err := d.collection.DeleteOne(ctx, bson.M{"_id": d.id(entity)})
	return err
}

// DeleteAll removes the documents one by one, stopping at the first failure.
func (d *DAO[T]) DeleteAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Delete(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByID removes the document with the given id.
func (d *DAO[T]) DeleteByID(ctx context.Context, id any) error {
	_, err := d.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// DeleteByIDs removes the documents one by one, stopping at the first
// failure.
func (d *DAO[T]) DeleteByIDs(ctx context.Context, ids ...any) error {
	for _, id := range ids {
		if err := d.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteWhere removes every document matching the restrictions and reports
// how many went away.
func (d *DAO[T]) DeleteWhere(ctx context.Context, r gda.Restrictions) (int64, error) {
	result, err := d.collection.DeleteMany(ctx, Filter(d.desc, r))
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// Get loads the document with the given id. A missing document surfaces as
// mongo.ErrNoDocuments.
func (d *DAO[T]) Get(ctx context.Context, id any) (*T, error) {
	var entity T
	if err := d.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// List returns the documents matching the restrictions, windowed by page.
func (d *DAO[T]) List(ctx context.Context, r gda.Restrictions, page gda.Page) ([]*T, error) {
	findOpts := options.Find()
	if offset := page.Offset(); offset > 0 {
		findOpts.SetSkip(int64(offset))
	}
	if page.Limited() {
		findOpts.SetLimit(int64(page.Max))
	}

	cursor, err := d.collection.Find(ctx, Filter(d.desc, r), findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entities []*T
	for cursor.Next(ctx) {
		var entity T
		if err := cursor.Decode(&entity); err != nil {
			return nil, err
		}
		entities = append(entities, &entity)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

// Count returns the number of documents matching the restrictions.
func (d *DAO[T]) Count(ctx context.Context, r gda.Restrictions) (int64, error) {
	return d.collection.CountDocuments(ctx, Filter(d.desc, r))
}

// Exists reports whether any document matches the restrictions.
func (d *DAO[T]) Exists(ctx context.Context, r gda.Restrictions) (bool, error) {
	count, err := d.Count(ctx, r)
	return count > 0, err
}

// Collection exposes the underlying collection for operations this surface
// does not cover, such as aggregation pipelines and index management.
func (d *DAO[T]) Collection() *mongo.Collection {
	return d.collection
}

// IsNotFound reports whether err is the driver's missing-document signal.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
