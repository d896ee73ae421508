// Package gdagorm provides a GORM-backed adapter for the generic data access layer.
package gdagorm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lemmego/gda"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// =====================================
// Connection Setup
// =====================================

// Open connects to the configured relational database through GORM. Pool
// settings apply only when set. Debug switches the GORM logger from Silent
// to Info.
func Open(cfg gda.SQLConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if cfg.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(postgresDSN(cfg))
	case "mysql":
		dialector = mysql.Open(mysqlDSN(cfg))
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(sqliteDSN(cfg))
	case "sqlserver", "mssql":
		dialector = sqlserver.Open(sqlserverDSN(cfg))
	default:
		return nil, fmt.Errorf("gdagorm: unsupported driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
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

	return db, nil
}

// =====================================
// DSN Builders
// =====================================

func postgresDSN(cfg gda.SQLConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
}

func mysqlDSN(cfg gda.SQLConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

func sqliteDSN(cfg gda.SQLConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return cfg.Database
}

func sqlserverDSN(cfg gda.SQLConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

// =====================================
// DAO Implementation
// =====================================

// DAO implements gda.DAO using GORM. The table comes from the model's own
// GORM mapping; the descriptor contributes the id column and the
// field-to-column mapping used by restriction maps and update maps.
type DAO[T any] struct {
	db   *gorm.DB
	desc gda.Descriptor
}

// New creates a DAO for one entity type.
func New[T any](db *gorm.DB, desc gda.Descriptor) *DAO[T] {
	return &DAO[T]{db: db, desc: desc}
}

var (
	_ gda.DAO[struct{}]        = (*DAO[struct{}])(nil)
	_ gda.Transactor[struct{}] = (*DAO[struct{}])(nil)
)

// Save inserts a new entity.
func (d *DAO[T]) Save(ctx context.Context, entity *T) error {
	return d.db.WithContext(ctx).Create(entity).Error
}

// SaveAll inserts the entities one by one, stopping at the first failure.
func (d *DAO[T]) SaveAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Save(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrUpdate inserts the entity or overwrites the row with the same
// primary key.
func (d *DAO[T]) SaveOrUpdate(ctx context.Context, entity *T) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(entity).Error
}

// Update writes all columns of an existing entity, matched by primary key.
func (d *DAO[T]) Update(ctx context.Context, entity *T) error {
	return d.db.WithContext(ctx).Save(entity).Error
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

	return d.db.WithContext(ctx).Model(new(T)).
		Where(fmt.Sprintf("%s = ?", d.desc.IDColumn()), id).
		Updates(d.columnValues(fields)).Error
}

// UpdateWhere sets the given fields on every row matching the restrictions
// and reports how many rows changed.
func (d *DAO[T]) UpdateWhere(ctx context.Context, r gda.Restrictions, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	tx := d.applyRestrictions(d.db.WithContext(ctx).Model(new(T)), r)
	result := tx.Updates(d.columnValues(fields))
	return result.RowsAffected, result.Error
}

// columnValues remaps field names to column names for GORM's Updates.
func (d *DAO[T]) columnValues(fields map[string]any) map[string]any {
	values := make(map[string]any, len(fields))
	for field, value := range fields {
		values[d.desc.Column(field)] = value
	}
	return values
}

// Delete removes an entity, matched by primary key.
func (d *DAO[T]) Delete(ctx context.Context, entity *T) error {
	if entity == nil {
		return nil
	}
	return d.db.WithContext(ctx).Delete(entity).Error
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
	return d.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ?", d.desc.IDColumn()), id).
		Delete(new(T)).Error
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
	tx := d.applyRestrictions(d.db.WithContext(ctx), r)
	result := tx.Delete(new(T))
	return result.RowsAffected, result.Error
}

// Get loads the entity with the given id. A missing row surfaces as
// gorm.ErrRecordNotFound.
func (d *DAO[T]) Get(ctx context.Context, id any) (*T, error) {
	entity := new(T)
	err := d.db.WithContext(ctx).
		First(entity, fmt.Sprintf("%s = ?", d.desc.IDColumn()), id).Error
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// List returns the entities matching the restrictions, windowed by page.
func (d *DAO[T]) List(ctx context.Context, r gda.Restrictions, page gda.Page) ([]*T, error) {
	var entities []*T

	tx := d.applyRestrictions(d.db.WithContext(ctx), r)

	limited := page.Limited()
	if limited {
		tx = tx.Limit(page.Max)
	}
	if offset := page.Offset(); offset > 0 {
		if !limited {
			// SQLite and MySQL reject OFFSET without LIMIT.
			tx = tx.Limit(math.MaxInt32)
		}
		tx = tx.Offset(offset)
	}

	if err := tx.Find(&entities).Error; err != nil {
		return nil, err
	}
	return entities, nil
}

// Count returns the number of rows matching the restrictions.
func (d *DAO[T]) Count(ctx context.Context, r gda.Restrictions) (int64, error) {
	var count int64
	tx := d.applyRestrictions(d.db.WithContext(ctx).Model(new(T)), r)
	err := tx.Count(&count).Error
	return count, err
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
// routes every operation through it. GORM turns nested calls into
// savepoints.
func (d *DAO[T]) Transact(ctx context.Context, fn gda.TxFunc[T]) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &DAO[T]{db: tx, desc: d.desc})
	})
}

// =====================================
// SQL Extensions
// =====================================

// FindBySQL runs a raw query and scans the rows into entities.
func (d *DAO[T]) FindBySQL(ctx context.Context, query string, args ...any) ([]*T, error) {
	var entities []*T
	if err := d.db.WithContext(ctx).Raw(query, args...).Scan(&entities).Error; err != nil {
		return nil, err
	}
	return entities, nil
}

// ExecSQL runs a raw statement and reports how many rows it touched.
func (d *DAO[T]) ExecSQL(ctx context.Context, query string, args ...any) (int64, error) {
	result := d.db.WithContext(ctx).Exec(query, args...)
	return result.RowsAffected, result.Error
}

// CreateTable creates the entity's table if it does not exist.
func (d *DAO[T]) CreateTable(ctx context.Context) error {
	migrator := d.db.WithContext(ctx).Migrator()
	if migrator.HasTable(new(T)) {
		return nil
	}
	return migrator.CreateTable(new(T))
}

// DropTable drops the entity's table.
func (d *DAO[T]) DropTable(ctx context.Context) error {
	return d.db.WithContext(ctx).Migrator().DropTable(new(T))
}

// MigrateTable reconciles the table schema with the model.
func (d *DAO[T]) MigrateTable(ctx context.Context) error {
	return d.db.WithContext(ctx).AutoMigrate(new(T))
}

// Unwrap exposes the underlying handle for queries this surface does not
// cover. Inside Transact it is the transaction handle.
func (d *DAO[T]) Unwrap() *gorm.DB {
	return d.db
}

// IsNotFound reports whether err is GORM's missing-row signal.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// =====================================
// Restriction Translation
// =====================================

// applyRestrictions turns a restriction map into WHERE clauses: scalars
// become equality tests, slices become IN lists, and fields AND together in
// sorted order. A nil value, alone or among the candidates, matches NULL
// columns. Empty restrictions match everything, which for updates and
// deletes needs GORM's global-update escape hatch.
func (d *DAO[T]) applyRestrictions(tx *gorm.DB, r gda.Restrictions) *gorm.DB {
	if len(r) == 0 {
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	}

	for _, field := range r.Fields() {
		col := d.desc.Column(field)
		values, multi := gda.Candidates(r[field])
		if !multi {
			if values[0] == nil {
				tx = tx.Where(fmt.Sprintf("%s IS NULL", col))
			} else {
				tx = tx.Where(fmt.Sprintf("%s = ?", col), values[0])
			}
			continue
		}

		values, withNull := splitNulls(values)
		switch {
		case len(values) == 0 && withNull:
			tx = tx.Where(fmt.Sprintf("%s IS NULL", col))
		case len(values) == 0:
			tx = tx.Where("1 = 0")
		case withNull:
			tx = tx.Where(fmt.Sprintf("(%s IN ? OR %s IS NULL)", col, col), values)
		default:
			tx = tx.Where(fmt.Sprintf("%s IN ?", col), values)
		}
	}
	return tx
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
