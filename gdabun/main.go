// Package gdabun provides a Bun-backed adapter for the generic data access layer.
package gdabun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lemmego/gda"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// =====================================
// Connection Setup
// =====================================

// Open connects to the configured relational database and wraps it in a
// *bun.DB with the matching dialect. Pool settings apply only when set.
func Open(cfg gda.SQLConfig) (*bun.DB, error) {
	var sqlDB *sql.DB
	var err error

	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		sqlDB, err = openPostgres(cfg)
	case "mysql":
		sqlDB, err = openMySQL(cfg)
	case "sqlite", "sqlite3":
		sqlDB, err = openSQLite(cfg)
	default:
		return nil, fmt.Errorf("gdabun: unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime))
	}

	var db *bun.DB
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		db = bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		db = bun.NewDB(sqlDB, mysqldialect.New())
	case "sqlite", "sqlite3":
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	return db, nil
}

// openPostgres dials PostgreSQL. A full DSN goes through the pgdriver
// connector; discrete host settings go through lib/pq.
func openPostgres(cfg gda.SQLConfig) (*sql.DB, error) {
	if cfg.DSN != "" {
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	return sql.Open("postgres", dsn)
}

func openMySQL(cfg gda.SQLConfig) (*sql.DB, error) {
	if cfg.DSN != "" {
		return sql.Open("mysql", cfg.DSN)
	}

	mysqlConfig := mysql.Config{
		User:   cfg.Username,
		Passwd: cfg.Password,
		Net:    "tcp",
		Addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DBName: cfg.Database,
	}

	return sql.Open("mysql", mysqlConfig.FormatDSN())
}

func openSQLite(cfg gda.SQLConfig) (*sql.DB, error) {
	if cfg.DSN != "" {
		return sql.Open("sqlite3", cfg.DSN)
	}
	return sql.Open("sqlite3", cfg.Database)
}

// =====================================
// DAO Implementation
// =====================================

// DAO implements gda.DAO using Bun. The table itself comes from the model's
// bun tags; the descriptor contributes the id column, the field-to-column
// mapping for restriction maps, and the column list for SaveOrUpdate.
type DAO[T any] struct {
	db   bun.IDB // *bun.DB outside transactions, bun.Tx inside
	desc gda.Descriptor
}

// New creates a DAO for one entity type.
func New[T any](db bun.IDB, desc gda.Descriptor) *DAO[T] {
	return &DAO[T]{db: db, desc: desc}
}

var (
	_ gda.DAO[struct{}]        = (*DAO[struct{}])(nil)
	_ gda.Transactor[struct{}] = (*DAO[struct{}])(nil)
)

// Save inserts a new entity.
func (d *DAO[T]) Save(ctx context.Context, entity *T) error {
	_, err := d.db.NewInsert().Model(entity).Exec(ctx)
	return err
}

// SaveAll inserts the entities one by one, stopping at the first failure.
// Rows inserted before the failure stay in place unless the caller runs the
// whole batch through Transact.
func (d *DAO[T]) SaveAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Save(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrUpdate inserts the entity or, when a row with the same primary key
// exists, updates it. Dialects with native upsert support get a single
// statement; anything else falls back to insert-then-update.
func (d *DAO[T]) SaveOrUpdate(ctx context.Context, entity *T) error {
	features := d.db.Dialect().Features()
	columns := d.updateColumns()

	if len(columns) > 0 {
		switch {
		case features.Has(feature.InsertOnConflict): // PostgreSQL, SQLite
			q := d.db.NewInsert().Model(entity).
				On("CONFLICT (?) DO UPDATE", bun.Ident(d.desc.IDColumn()))
			for _, col := range columns {
				q = q.Set("? = EXCLUDED.?", bun.Ident(col), bun.Ident(col))
			}
			_, err := q.Exec(ctx)
			return err
		case features.Has(feature.InsertOnDuplicateKey): // MySQL
			q := d.db.NewInsert().Model(entity).On("DUPLICATE KEY UPDATE")
			for _, col := range columns {
				q = q.Set("? = VALUES(?)", bun.Ident(col), bun.Ident(col))
			}
			_, err := q.Exec(ctx)
			return err
		}
	}

	_, insertErr := d.db.NewInsert().Model(entity).Exec(ctx)
	if insertErr == nil {
		return nil
	}

	result, err := d.db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// The update matched nothing, so the insert did not fail on this
		// primary key and its error stands.
		return insertErr
	}
	return nil
}

// updateColumns lists the descriptor columns an upsert overwrites. The id
// column identifies the row, so it never appears in the list.
func (d *DAO[T]) updateColumns() []string {
	idColumn := d.desc.IDColumn()
	columns := make([]string, 0, len(d.desc.Fields))
	for _, field := range gda.SortedKeys(anyFields(d.desc.Fields)) {
		if col := d.desc.Fields[field]; col != idColumn {
			columns = append(columns, col)
		}
	}
	return columns
}

func anyFields(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Update writes all columns of an existing entity, matched by primary key.
func (d *DAO[T]) Update(ctx context.Context, entity *T) error {
	_, err := d.db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	return err
}

// UpdateAll updates the entities one by one, stopping at the first failure.
func (d *DAO[T]) UpdateAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Update(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// UpdateFields sets the given fields on the row with the given id. Fields
// absent from the map keep their stored values. A missing row is not an
// error.
func (d *DAO[T]) UpdateFields(ctx context.Context, id any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	q := d.db.NewUpdate().Model(new(T)).
		Where("? = ?", bun.Ident(d.desc.IDColumn()), id)
	for _, field := range gda.SortedKeys(fields) {
		q = q.Set("? = ?", bun.Ident(d.desc.Column(field)), fields[field])
	}

	_, err := q.Exec(ctx)
	return err
}

// UpdateWhere sets the given fields on every row matching the restrictions
// and reports how many rows changed.
func (d *DAO[T]) UpdateWhere(ctx context.Context, r gda.Restrictions, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	q := d.db.NewUpdate().Model(new(T))
	for _, field := range gda.SortedKeys(fields) {
		q = q.Set("? = ?", bun.Ident(d.desc.Column(field)), fields[field])
	}
	q = d.applyToUpdate(q, r)

	result, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes an entity, matched by primary key.
func (d *DAO[T]) Delete(ctx context.Context, entity *T) error {
	if entity == nil {
		return nil
	}
	_, err := d.db.NewDelete().Model(entity).WherePK().Exec(ctx)
	return err
}

// DeleteAll removes the entities one by one, stopping at the first failure.
func (d *DAO[T]) DeleteAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Delete(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByID removes the row with the given id. A missing row is not an
// error.
func (d *DAO[T]) DeleteByID(ctx context.Context, id any) error {
	_, err := d.db.NewDelete().Model(new(T)).
		Where("? = ?", bun.Ident(d.desc.IDColumn()), id).
		Exec(ctx)
	return err
}

// DeleteByIDs removes the rows one by one, stopping at the first failure.
func (d *DAO[T]) DeleteByIDs(ctx context.Context, ids ...any) error {
	for _, id := range ids {
		if err := d.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteWhere removes every row matching the restrictions and reports how
// many rows went away.
func (d *DAO[T]) DeleteWhere(ctx context.Context, r gda.Restrictions) (int64, error) {
	q := d.applyToDelete(d.db.NewDelete().Model(new(T)), r)

	result, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Get loads the entity with the given id. A missing row surfaces as the
// driver's sql.ErrNoRows.
func (d *DAO[T]) Get(ctx context.Context, id any) (*T, error) {
	entity := new(T)
	err := d.db.NewSelect().Model(entity).
		Where("? = ?", bun.Ident(d.desc.IDColumn()), id).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// List returns the entities matching the restrictions, windowed by page.
func (d *DAO[T]) List(ctx context.Context, r gda.Restrictions, page gda.Page) ([]*T, error) {
	var entities []*T

	q := d.applyToSelect(d.db.NewSelect().Model(&entities), r)

	limited := page.Limited()
	if limited {
		q = q.Limit(page.Max)
	}
	if offset := page.Offset(); offset > 0 {
		if !limited {
			// SQLite and MySQL reject OFFSET without LIMIT.
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

// Count returns the number of rows matching the restrictions.
func (d *DAO[T]) Count(ctx context.Context, r gda.Restrictions) (int64, error) {
	q := d.applyToSelect(d.db.NewSelect().Model(new(T)), r)

	count, err := q.Count(ctx)
	return int64(count), err
}

// Exists reports whether any row matches the restrictions.
func (d *DAO[T]) Exists(ctx context.Context, r gda.Restrictions) (bool, error) {
	count, err := d.Count(ctx, r)
	return count > 0, err
}

// =====================================
// Transactions
// =====================================

// Transact runs fn inside a database transaction; the DAO handed to fn
// routes every operation through it. Calling Transact on a DAO that is
// already transactional joins the running transaction.
func (d *DAO[T]) Transact(ctx context.Context, fn gda.TxFunc[T]) error {
	switch db := d.db.(type) {
	case *bun.DB:
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return fn(ctx, &DAO[T]{db: tx, desc: d.desc})
		})
	case bun.Tx:
		return fn(ctx, d)
	default:
		return fmt.Errorf("gdabun: unable to start transaction on %T", db)
	}
}

// =====================================
// SQL Extensions
// =====================================

// FindBySQL runs a raw query and scans the rows into entities.
func (d *DAO[T]) FindBySQL(ctx context.Context, query string, args ...any) ([]*T, error) {
	var entities []*T
	if err := d.db.NewRaw(query, args...).Scan(ctx, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// ExecSQL runs a raw statement.
func (d *DAO[T]) ExecSQL(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.NewRaw(query, args...).Exec(ctx)
}

// CreateTable creates the entity's table if it does not exist.
func (d *DAO[T]) CreateTable(ctx context.Context) error {
	_, err := d.db.NewCreateTable().Model(new(T)).IfNotExists().Exec(ctx)
	return err
}

// DropTable drops the entity's table if it exists.
func (d *DAO[T]) DropTable(ctx context.Context) error {
	_, err := d.db.NewDropTable().Model(new(T)).IfExists().Exec(ctx)
	return err
}

// Unwrap exposes the underlying handle for queries this surface does not
// cover. Inside Transact it is the running bun.Tx.
func (d *DAO[T]) Unwrap() bun.IDB {
	return d.db
}

// IsNotFound reports whether err is the driver's missing-row signal.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// =====================================
// Restriction Translation
// =====================================

// Scalar restriction values become equality tests, slices become IN lists,
// and multiple fields AND together. Fields apply in sorted order so the
// generated SQL is stable. A nil value, alone or among the candidates,
// matches NULL columns.

func (d *DAO[T]) applyToSelect(q *bun.SelectQuery, r gda.Restrictions) *bun.SelectQuery {
	for _, field := range r.Fields() {
		expr, args := d.whereExpr(field, r[field])
		q = q.Where(expr, args...)
	}
	return q
}

func (d *DAO[T]) applyToUpdate(q *bun.UpdateQuery, r gda.Restrictions) *bun.UpdateQuery {
	if len(r) == 0 {
		// Empty restrictions touch every row, but bun insists on a WHERE
		// clause for updates and deletes.
		return q.Where("1 = 1")
	}
	for _, field := range r.Fields() {
		expr, args := d.whereExpr(field, r[field])
		q = q.Where(expr, args...)
	}
	return q
}

func (d *DAO[T]) applyToDelete(q *bun.DeleteQuery, r gda.Restrictions) *bun.DeleteQuery {
	if len(r) == 0 {
		return q.Where("1 = 1")
	}
	for _, field := range r.Fields() {
		expr, args := d.whereExpr(field, r[field])
		q = q.Where(expr, args...)
	}
	return q
}

// whereExpr renders one field's restriction as a WHERE fragment.
func (d *DAO[T]) whereExpr(field string, value any) (string, []any) {
	col := d.desc.Column(field)
	values, multi := gda.Candidates(value)
	if !multi {
		if values[0] == nil {
			return "? IS NULL", []any{bun.Ident(col)}
		}
		return "? = ?", []any{bun.Ident(col), values[0]}
	}

	values, withNull := splitNulls(values)
	switch {
	case len(values) == 0 && withNull:
		return "? IS NULL", []any{bun.Ident(col)}
	case len(values) == 0:
		return "1 = 0", nil
	case withNull:
		return "(? IN (?) OR ? IS NULL)", []any{bun.Ident(col), bun.In(values), bun.Ident(col)}
	default:
		return "? IN (?)", []any{bun.Ident(col), bun.In(values)}
	}
}

// splitNulls strips nil candidates and reports whether any were present.
func splitNulls(values []any) ([]any, bool) {
	kept := make([]any, 0, len(values))
	withNull := false
	for _, v := range values {
		if v == nil {
			withNull = true
			continue
		}
		kept = append(kept, v)
	}
	return kept, withNull
}
