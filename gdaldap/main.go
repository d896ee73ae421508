// Package gdaldap provides an LDAP directory adapter for the generic data
// access layer.
//
// Directories have no transactions, so the DAO satisfies gda.DAO but not
// gda.Transactor. Context parameters are accepted for interface symmetry;
// go-ldap performs requests synchronously on the connection.
package gdaldap

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-ldap/ldap/v3"
	"github.com/lemmego/gda"
)

// =====================================
// Connection Setup
// =====================================

// Dial connects to the directory and binds with the configured credentials.
// An empty bind DN leaves the connection anonymous.
func Dial(cfg gda.LDAPConfig) (*ldap.Conn, error) {
	conn, err := ldap.DialURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.Password); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

// =====================================
// Entry Mapping
// =====================================

// Mapping describes how one entity type lives in the directory: where its
// entries sit, how they are named, and how attribute values move in and out
// of the Go struct.
type Mapping[T any] struct {
	// BaseDN is the subtree searched for entries of this type.
	BaseDN string

	// ObjectClasses are written on every new entry and asserted on every
	// search, so queries only ever see entries of this type.
	ObjectClasses []string

	// Attributes lists the attribute names searches request.
	Attributes []string

	// Fields maps restriction fields to attribute names. Unmapped fields
	// pass through unchanged.
	Fields map[string]string

	// DN names an entity's entry.
	DN func(entity *T) string

	// DNForID names the entry for a bare id. When nil, ids are taken to be
	// complete DNs already.
	DNForID func(id any) string

	// Attrs renders the entity's attribute values, keyed by attribute name.
	// objectClass is handled separately and must not appear here.
	Attrs func(entity *T) map[string][]string

	// FromEntry decodes a search result entry.
	FromEntry func(entry *ldap.Entry) (*T, error)
}

func (m Mapping[T]) dnForID(id any) string {
	if m.DNForID != nil {
		return m.DNForID(id)
	}
	return fmt.Sprint(id)
}

// =====================================
// DAO Implementation
// =====================================

// DAO implements gda.DAO on an LDAP subtree.
type DAO[T any] struct {
	conn    *ldap.Conn
	mapping Mapping[T]
}

// New creates a DAO for one entry type.
func New[T any](conn *ldap.Conn, mapping Mapping[T]) *DAO[T] {
	return &DAO[T]{conn: conn, mapping: mapping}
}

var _ gda.DAO[struct{}] = (*DAO[struct{}])(nil)

// Save adds a new entry.
func (d *DAO[T]) Save(ctx context.Context, entity *T) error {
	req := ldap.NewAddRequest(d.mapping.DN(entity), nil)
	req.Attribute("objectClass", d.mapping.ObjectClasses)
	attrs := d.mapping.Attrs(entity)
	for _, name := range sortedNames(attrs) {
		if values := attrs[name]; len(values) > 0 {
			req.Attribute(name, values)
		}
	}
	return d.conn.Add(req)
}

// SaveAll adds the entries one by one, stopping at the first failure.
func (d *DAO[T]) SaveAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Save(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrUpdate adds the entry or, when one with the same DN exists,
// replaces its attributes.
func (d *DAO[T]) SaveOrUpdate(ctx context.Context, entity *T) error {
	err := d.Save(ctx, entity)
	if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		return d.Update(ctx, entity)
	}
	return err
}

// Update replaces the attributes of an existing entry, matched by DN.
func (d *DAO[T]) Update(ctx context.Context, entity *T) error {
	req := ldap.NewModifyRequest(d.mapping.DN(entity), nil)
	attrs := d.mapping.Attrs(entity)
	for _, name := range sortedNames(attrs) {
		req.Replace(name, attrs[name])
	}
	return d.conn.Modify(req)
}

// UpdateAll updates the entries one by one, stopping at the first failure.
func (d *DAO[T]) UpdateAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Update(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// UpdateFields replaces the given attributes on the entry with the given
// id. Attributes absent from the map keep their values; a nil value removes
// the attribute.
func (d *DAO[T]) UpdateFields(ctx context.Context, id any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	req := ldap.NewModifyRequest(d.mapping.dnForID(id), nil)
	for _, field := range gda.SortedKeys(fields) {
		attr := field
		if mapped, ok := d.mapping.Fields[field]; ok {
			attr = mapped
		}
		req.Replace(attr, attrValues(fields[field]))
	}
	return d.conn.Modify(req)
}

// UpdateWhere replaces the given attributes on every entry matching the
// restrictions and reports how many entries were modified before any
// failure. A nil value removes the attribute.
func (d *DAO[T]) UpdateWhere(ctx context.Context, r gda.Restrictions, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	dns, err := d.searchDNs(r)
	if err != nil {
		return 0, err
	}

	var modified int64
	for _, dn := range dns {
		req := ldap.NewModifyRequest(dn, nil)
		for _, field := range gda.SortedKeys(fields) {
			attr := field
			if mapped, ok := d.mapping.Fields[field]; ok {
				attr = mapped
			}
			req.Replace(attr, attrValues(fields[field]))
		}
		if err := d.conn.Modify(req); err != nil {
			return modified, err
		}
		modified++
	}
	return modified, nil
}

// Delete removes an entry, matched by DN.
func (d *DAO[T]) Delete(ctx context.Context, entity *T) error {
	if entity == nil {
		return nil
	}
	return d.conn.Del(ldap.NewDelRequest(d.mapping.DN(entity), nil))
}

// DeleteAll removes the entries one by one, stopping at the first failure.
func (d *DAO[T]) DeleteAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Delete(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByID removes the entry with the given id. Deleting a DN that does
// not exist surfaces the directory's NoSuchObject error.
func (d *DAO[T]) DeleteByID(ctx context.Context, id any) error {
	return d.conn.Del(ldap.NewDelRequest(d.mapping.dnForID(id), nil))
}

// DeleteByIDs removes the entries one by one, stopping at the first
// failure.
func (d *DAO[T]) DeleteByIDs(ctx context.Context, ids ...any) error {
	for _, id := range ids {
		if err := d.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteWhere removes every entry matching the restrictions and reports how
// many were removed before any failure.
func (d *DAO[T]) DeleteWhere(ctx context.Context, r gda.Restrictions) (int64, error) {
	dns, err := d.searchDNs(r)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, dn := range dns {
		if err := d.conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Get loads the entry with the given id. A missing entry surfaces as the
// directory's NoSuchObject error.
func (d *DAO[T]) Get(ctx context.Context, id any) (*T, error) {
	req := ldap.NewSearchRequest(
		d.mapping.dnForID(id),
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		d.mapping.Attributes,
		nil,
	)

	result, err := d.conn.Search(req)
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no entry for %v", id))
	}
	return d.mapping.FromEntry(result.Entries[0])
}

// List returns the entries matching the restrictions, windowed by page.
// Entries sort by DN before windowing so that fixed-size pages walk the
// subtree deterministically.
func (d *DAO[T]) List(ctx context.Context, r gda.Restrictions, page gda.Page) ([]*T, error) {
	result, err := d.search(r, d.mapping.Attributes)
	if err != nil {
		return nil, err
	}

	entries := result.Entries
	sort.Slice(entries, func(i, j int) bool { return entries[i].DN < entries[j].DN })

	lo, hi := page.Bounds(len(entries))
	entities := make([]*T, 0, hi-lo)
	for _, entry := range entries[lo:hi] {
		entity, err := d.mapping.FromEntry(entry)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// Count returns the number of entries matching the restrictions.
func (d *DAO[T]) Count(ctx context.Context, r gda.Restrictions) (int64, error) {
	// 1.1 requests no attributes at all.
	result, err := d.search(r, []string{"1.1"})
	if err != nil {
		return 0, err
	}
	return int64(len(result.Entries)), nil
}

// Exists reports whether any entry matches the restrictions.
func (d *DAO[T]) Exists(ctx context.Context, r gda.Restrictions) (bool, error) {
	count, err := d.Count(ctx, r)
	return count > 0, err
}

// Conn exposes the underlying connection for operations this surface does
// not cover, such as compare requests or password modification.
func (d *DAO[T]) Conn() *ldap.Conn {
	return d.conn
}

// IsNotFound reports whether err is the directory's missing-entry signal.
func IsNotFound(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)
}

// =====================================
// Search Helpers
// =====================================

// search runs a whole-subtree query under the mapping's base DN. The filter
// asserts the mapping's object classes; without them the subtree scope would
// sweep in the base entry itself and any unrelated entry types.
func (d *DAO[T]) search(r gda.Restrictions, attributes []string) (*ldap.SearchResult, error) {
	req := ldap.NewSearchRequest(
		d.mapping.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		Filter(d.mapping.ObjectClasses, d.mapping.Fields, r),
		attributes,
		nil,
	)
	return d.conn.Search(req)
}

func (d *DAO[T]) searchDNs(r gda.Restrictions) ([]string, error) {
	result, err := d.search(r, []string{"1.1"})
	if err != nil {
		return nil, err
	}

	dns := make([]string, len(result.Entries))
	for i, entry := range result.Entries {
		dns[i] = entry.DN
	}
	sort.Strings(dns)
	return dns, nil
}

func sortedNames(attrs map[string][]string) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
