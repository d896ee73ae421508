// Package gda provides generic data-access objects (DAOs) over relational,
// document, directory, and key-value backends behind one uniform CRUD and
// pagination surface.
//
// Filtering is expressed with a Restrictions map: each entry constrains one
// field to a scalar value (equality) or to a slice of candidate values
// (membership). Entries combine with AND; an empty map matches everything.
// Each adapter package (gdabun, gdagorm, gdamongo, gdaldap, gdaredis) renders
// the map into its backend's native predicate form.
//
// DAOs are stateless: a constructed DAO holds only the backend handle and an
// explicit Descriptor naming the target table/collection and identifier
// field. Backend errors propagate to callers unchanged.
package gda

import "context"

// =====================================
// Core DAO Interface
// =====================================

// DAO is the uniform data-access surface over one entity type.
// All five adapters implement it.
type DAO[T any] interface {
	// ===============================
	// Write Operations
	// ===============================

	// Save persists a new entity.
	// Example: err := dao.Save(ctx, &user)
	Save(ctx context.Context, entity *T) error

	// SaveAll persists every entity in order by calling Save one at a time.
	// It stops at the first failure; entities saved before it stay persisted.
	SaveAll(ctx context.Context, entities []*T) error

	// SaveOrUpdate inserts the entity, or overwrites the stored record that
	// shares its identifier.
	SaveOrUpdate(ctx context.Context, entity *T) error

	// Update replaces the stored record identified by the entity.
	// Updating a record that does not exist is not an error.
	Update(ctx context.Context, entity *T) error

	// UpdateAll updates every entity in order by calling Update one at a time.
	// It stops at the first failure.
	UpdateAll(ctx context.Context, entities []*T) error

	// UpdateFields applies a partial update to the record with the given
	// identifier: each map entry becomes one "set field to value" mutation,
	// untouched fields keep their stored values.
	// Example: err := dao.UpdateFields(ctx, 42, map[string]any{"status": "archived"})
	UpdateFields(ctx context.Context, id any, fields map[string]any) error

	// UpdateWhere applies the same partial update to every record matching
	// the restrictions and reports how many records were modified.
	UpdateWhere(ctx context.Context, r Restrictions, fields map[string]any) (int64, error)

	// Delete removes the stored record identified by the entity.
	// A nil entity is a no-op.
	Delete(ctx context.Context, entity *T) error

	// DeleteAll removes every entity in order by calling Delete one at a time.
	// It stops at the first failure.
	DeleteAll(ctx context.Context, entities []*T) error

	// DeleteByID removes the record with the given identifier.
	// Deleting a missing record is not an error.
	DeleteByID(ctx context.Context, id any) error

	// DeleteByIDs removes the records with the given identifiers one at a
	// time, stopping at the first failure.
	DeleteByIDs(ctx context.Context, ids ...any) error

	// DeleteWhere removes every record matching the restrictions and reports
	// how many records were removed.
	DeleteWhere(ctx context.Context, r Restrictions) (int64, error)

	// ===============================
	// Read Operations
	// ===============================

	// Get retrieves the record with the given identifier. When no record
	// exists the backend's own miss signal is returned (sql.ErrNoRows,
	// gorm.ErrRecordNotFound, mongo.ErrNoDocuments, and so on).
	// Example: user, err := dao.Get(ctx, 42)
	Get(ctx context.Context, id any) (*T, error)

	// List retrieves the records matching the restrictions, windowed by page.
	// A nil map matches all records; the zero Page applies no window.
	// Example: users, err := dao.List(ctx, gda.Restrictions{"status": "active"}, gda.Page{First: 0, Max: 20})
	List(ctx context.Context, r Restrictions, page Page) ([]*T, error)

	// Count reports how many records match the restrictions, using the same
	// predicate construction as List.
	Count(ctx context.Context, r Restrictions) (int64, error)

	// Exists reports whether at least one record matches the restrictions.
	Exists(ctx context.Context, r Restrictions) (bool, error)
}

// =====================================
// Transactions
// =====================================

// TxFunc is a caller-supplied unit of work executed inside a single
// transaction. The tx argument is a DAO bound to that transaction.
type TxFunc[T any] func(ctx context.Context, tx DAO[T]) error

// Transactor is implemented by the adapters whose backend supports atomic
// units of work (gdabun, gdagorm, gdamongo). Transact runs fn inside a
// transaction scope: a nil return commits, an error or panic rolls back.
// Example:
//
//	err := dao.Transact(ctx, func(ctx context.Context, tx gda.DAO[User]) error {
//		if err := tx.Save(ctx, &from); err != nil {
//			return err
//		}
//		return tx.Save(ctx, &to)
//	})
type Transactor[T any] interface {
	Transact(ctx context.Context, fn TxFunc[T]) error
}

// IDFunc extracts the identifier from an entity. Adapters whose backend
// library cannot read the key from the struct itself (gdamongo, gdaredis)
// take one at construction instead of discovering it with reflection.
type IDFunc[T any] func(entity *T) any
